// Package cost converts billed byte counts into dollar amounts using the
// configured on-demand query rate. Both cost reports price through the same
// Pricing value so their totals agree.
package cost

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// DollarPrecision is the number of decimal places costs are rounded to.
const DollarPrecision = 4

// tebibyte is 2^40 bytes, the unit BigQuery on-demand pricing is quoted in.
var tebibyte = decimal.NewFromInt(1 << 40)

// DefaultPerTiB is the on-demand query price in dollars per TiB billed.
var DefaultPerTiB = decimal.NewFromInt(5)

// Pricing prices billed bytes at a fixed rate per unit of bytes. The
// division happens after multiplying by the byte count; dividing the rate
// up front would round it to decimal.DivisionPrecision places and skew
// large totals.
type Pricing struct {
	rate    decimal.Decimal
	perUnit decimal.Decimal
}

// PerTiB builds a Pricing from a dollars-per-tebibyte rate.
func PerTiB(rate decimal.Decimal) Pricing {
	return Pricing{rate: rate, perUnit: tebibyte}
}

// PerByte builds a Pricing from a dollars-per-byte rate.
func PerByte(rate decimal.Decimal) Pricing {
	return Pricing{rate: rate, perUnit: decimal.NewFromInt(1)}
}

// CostForBytes returns bytesBilled priced at the configured rate, rounded
// half away from zero to DollarPrecision decimal places.
func (p Pricing) CostForBytes(bytesBilled int64) decimal.Decimal {
	return p.rate.
		Mul(decimal.NewFromInt(bytesBilled)).
		Div(p.perUnit).
		Round(DollarPrecision)
}

// CostRatForBytes is CostForBytes as a *big.Rat for BigQuery NUMERIC columns.
func (p Pricing) CostRatForBytes(bytesBilled int64) *big.Rat {
	return p.CostForBytes(bytesBilled).Rat()
}
