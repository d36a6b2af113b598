package ninechronicles

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Ticker of the native asset.
const Ticker = "NCG"

// EncodeTransferAsset returns the canonical bencodex encoding of a
// transfer_asset3 action. The amount is floored to the asset's two decimal
// places and scaled to its integer representation.
func EncodeTransferAsset(sender, recipient, minter common.Address, amount decimal.Decimal, memo string) ([]byte, error) {
	currency := dict{
		"decimalPlaces": []byte{0x02},
		"minters":       list{minter.Bytes()},
		"ticker":        Ticker,
	}
	values := dict{
		"amount":    list{currency, amount.Shift(2).Floor().BigInt()},
		"recipient": recipient.Bytes(),
		"sender":    sender.Bytes(),
	}
	if memo != "" {
		values["memo"] = memo
	}
	action := dict{
		"type_id": "transfer_asset3",
		"values":  values,
	}

	buf := new(bytes.Buffer)
	if err := encodeBencodex(buf, action); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Bencodex container types. All dictionary keys used by bridge actions are
// text keys.
type dict map[string]interface{}
type list []interface{}

// encodeBencodex writes the canonical bencodex form of the value: byte
// strings as <len>:<bytes>, text strings as u<len>:<utf8>, integers as
// i<digits>e, lists as l...e, and dictionaries as d...e with keys in sorted
// order.
func encodeBencodex(buf *bytes.Buffer, value interface{}) error {
	switch value := value.(type) {
	case []byte:
		buf.WriteString(strconv.Itoa(len(value)))
		buf.WriteByte(':')
		buf.Write(value)
	case string:
		buf.WriteByte('u')
		buf.WriteString(strconv.Itoa(len(value)))
		buf.WriteByte(':')
		buf.WriteString(value)
	case int64:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatInt(value, 10))
		buf.WriteByte('e')
	case *big.Int:
		buf.WriteByte('i')
		buf.WriteString(value.String())
		buf.WriteByte('e')
	case list:
		buf.WriteByte('l')
		for _, item := range value {
			if err := encodeBencodex(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte('e')
	case dict:
		keys := make([]string, 0, len(value))
		for key := range value {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		buf.WriteByte('d')
		for _, key := range keys {
			if err := encodeBencodex(buf, key); err != nil {
				return err
			}
			if err := encodeBencodex(buf, value[key]); err != nil {
				return err
			}
		}
		buf.WriteByte('e')
	case nil:
		buf.WriteByte('n')
	default:
		return fmt.Errorf("cannot encode value of type %T", value)
	}
	return nil
}
