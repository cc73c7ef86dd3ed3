package utils

import "github.com/shopspring/decimal"

// ReturnPrecision is the fixed number of decimal places used for all
// monetary results (fees, net returns, report aggregates).
const ReturnPrecision = 8

// RoundMonetary rounds a decimal half-up to ReturnPrecision places.
// All price/fee/return computation must pass through this before being
// stored or compared, so that repeated runs yield identical results.
func RoundMonetary(d decimal.Decimal) decimal.Decimal {
	return d.Round(ReturnPrecision)
}
