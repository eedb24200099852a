package models

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// FormatUSD renders a 6-decimal fixed-point USD amount as a dollar string,
// e.g. 2000000000 -> "2000.000000".
func FormatUSD(usd *big.Int) string {
	return decimal.NewFromBigInt(AmountOrZero(usd), -USDDecimals).StringFixed(USDDecimals)
}

// FormatUnits renders a raw amount with the given precision.
func FormatUnits(raw *big.Int, decimals uint8) string {
	return decimal.NewFromBigInt(AmountOrZero(raw), -int32(decimals)).String()
}
