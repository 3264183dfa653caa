package models

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Round2 rounds to cents, half away from zero (half-up for the non-negative
// amounts the ledger deals with).
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// PercentOf returns round2(amount*percent/100).
func PercentOf(amount, percent decimal.Decimal) decimal.Decimal {
	return Round2(amount.Mul(percent).Div(hundred))
}

// ComputeFeeAndWallet splits collected funds into the platform fee and the
// spendable escrow pool.
func ComputeFeeAndWallet(collected, feePercent decimal.Decimal) (fee, wallet decimal.Decimal) {
	fee = PercentOf(collected, feePercent)
	wallet = Round2(collected.Sub(fee))
	return fee, wallet
}

// WorkerPayout returns what the selected worker receives for a bid and the fee
// withheld. The payout never goes below zero.
func WorkerPayout(bid, feePercent decimal.Decimal) (payout, fee decimal.Decimal) {
	fee = PercentOf(bid, feePercent)
	payout = Round2(bid.Sub(fee))
	if payout.IsNegative() {
		payout = decimal.Zero
	}
	return payout, fee
}

// ProportionalShare returns round2(part * pool / whole), or zero when whole
// or pool is not positive.
func ProportionalShare(part, pool, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() || !pool.IsPositive() {
		return decimal.Zero
	}
	return Round2(part.Mul(pool).Div(whole))
}
