// Package validator holds the startup-immutable exchange policies: the set
// of banned accounts, the exchange amount limits, the fee ratio, and the
// parsers that decide whether an event carries a usable recipient.
package validator

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// PlanetID is the shard tag expected as the prefix of a burn's 32-byte
// recipient word.
const PlanetID = "100000000001"

// NCGDecimalPlaces is the on-chain precision of the native asset.
const NCGDecimalPlaces = 2

// WNCGDecimalPlaces is the precision of the wrapped ERC-20 token.
const WNCGDecimalPlaces = 18

// Options to configure the exchange policies.
type Options struct {
	BannedAccounts []common.Address
	MinAmount      decimal.Decimal
	MaxAmount      decimal.Decimal
	FeeRatio       decimal.Decimal
}

// Validator applies the exchange policies. It is immutable after
// construction and safe for concurrent use.
type Validator struct {
	banned    map[common.Address]struct{}
	minAmount decimal.Decimal
	maxAmount decimal.Decimal
	feeRatio  decimal.Decimal
}

// New returns a new Validator.
func New(options Options) Validator {
	banned := make(map[common.Address]struct{}, len(options.BannedAccounts))
	for _, account := range options.BannedAccounts {
		banned[account] = struct{}{}
	}
	return Validator{
		banned:    banned,
		minAmount: options.MinAmount,
		maxAmount: options.MaxAmount,
		feeRatio:  options.FeeRatio,
	}
}

// IsBanned returns whether the given account is banned from exchanging.
func (validator Validator) IsBanned(account common.Address) bool {
	_, ok := validator.banned[account]
	return ok
}

// BelowMinimum returns whether the amount is below the minimum exchangeable
// amount.
func (validator Validator) BelowMinimum(amount decimal.Decimal) bool {
	return amount.LessThan(validator.minAmount)
}

// Clamp limits the amount to the maximum exchangeable amount. It returns the
// effective amount and the excess to be refunded.
func (validator Validator) Clamp(amount decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if amount.GreaterThan(validator.maxAmount) {
		return validator.maxAmount, amount.Sub(validator.maxAmount)
	}
	return amount, decimal.Zero
}

// Fee returns the exchange fee for the given amount, rounded down to the
// native asset's precision.
func (validator Validator) Fee(amount decimal.Decimal) decimal.Decimal {
	return Floor(amount.Mul(validator.feeRatio))
}

// ParseRecipient parses a deposit memo as a 20-byte Ethereum address. The
// leading 0x is optional.
func ParseRecipient(memo string) (common.Address, error) {
	trimmed := strings.TrimPrefix(memo, "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid recipient %q: %v", memo, err)
	}
	if len(raw) != common.AddressLength {
		return common.Address{}, fmt.Errorf("invalid recipient %q: expected %v bytes, got %v", memo, common.AddressLength, len(raw))
	}
	return common.BytesToAddress(raw), nil
}

// ParseBurnRecipient parses the 32-byte recipient word of a burn event. The
// word is the planet id, followed by the 20-byte recipient, followed by zero
// padding.
func ParseBurnRecipient(to [32]byte) (common.Address, error) {
	word := hex.EncodeToString(to[:])
	if !strings.HasPrefix(word, PlanetID) {
		return common.Address{}, fmt.Errorf("unexpected planet id in burn recipient %v", word)
	}
	recipient := word[len(PlanetID) : len(PlanetID)+2*common.AddressLength]
	padding := word[len(PlanetID)+2*common.AddressLength:]
	if strings.Trim(padding, "0") != "" {
		return common.Address{}, fmt.Errorf("non-zero padding in burn recipient %v", word)
	}
	return common.HexToAddress(recipient), nil
}

// Floor rounds the amount down to the native asset's two decimal places.
func Floor(amount decimal.Decimal) decimal.Decimal {
	return amount.RoundDown(NCGDecimalPlaces)
}

// ToBaseUnits scales a native amount to the wrapped token's 18-decimal-place
// base units.
func ToBaseUnits(amount decimal.Decimal) *big.Int {
	return Floor(amount).Shift(WNCGDecimalPlaces).BigInt()
}

// FromBaseUnits scales an 18-decimal-place base-unit amount down to the
// native asset's precision, rounding down.
func FromBaseUnits(amount *big.Int) decimal.Decimal {
	return Floor(decimal.NewFromBigInt(amount, -WNCGDecimalPlaces))
}
