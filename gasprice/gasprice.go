// Package gasprice composes the gas-price policies applied to Ethereum
// transactions before they are signed. Policies transform a base price into
// an effective price and are applied left to right.
package gasprice

import (
	"github.com/shopspring/decimal"
)

// Policy transforms a base gas price into the next value. Prices are wei
// amounts carried as decimals so that ratio policies stay exact.
type Policy interface {
	Apply(price decimal.Decimal) decimal.Decimal
}

type tipPolicy struct {
	ratio decimal.Decimal
}

// NewTip returns a policy that multiplies the price by the given ratio and
// floors the result. A ratio of 1.5 adds a 50% tip.
func NewTip(ratio decimal.Decimal) Policy {
	return tipPolicy{ratio: ratio}
}

func (policy tipPolicy) Apply(price decimal.Decimal) decimal.Decimal {
	return price.Mul(policy.ratio).Floor()
}

type limitPolicy struct {
	cap decimal.Decimal
}

// NewLimit returns a policy that caps the price at the given hard limit.
func NewLimit(cap decimal.Decimal) Policy {
	return limitPolicy{cap: cap}
}

func (policy limitPolicy) Apply(price decimal.Decimal) decimal.Decimal {
	if price.GreaterThan(policy.cap) {
		return policy.cap
	}
	return price
}

type compositePolicy struct {
	policies []Policy
}

// NewComposite returns a policy that applies the given policies in order.
func NewComposite(policies ...Policy) Policy {
	return compositePolicy{policies: policies}
}

func (policy compositePolicy) Apply(price decimal.Decimal) decimal.Decimal {
	for _, p := range policy.policies {
		price = p.Apply(price)
	}
	return price
}
