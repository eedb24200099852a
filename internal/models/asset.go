package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// NativeDecimals is the raw precision of the chain's base currency.
	NativeDecimals = 18
	// PriceDecimals is the fixed-point precision reported by the native price feed.
	PriceDecimals = 8
	// USDDecimals is the precision of every USD amount held by the ledger.
	USDDecimals = 6
)

// NativeAsset identifies the chain's base currency. No token contract can be
// deployed at the zero address, so it never collides with a token identity.
var NativeAsset = common.Address{}

// IsNative reports whether asset is the native currency sentinel.
func IsNative(asset common.Address) bool {
	return asset == NativeAsset
}

// AssetLabel renders an asset identity for logs and metrics.
func AssetLabel(asset common.Address) string {
	if IsNative(asset) {
		return "native"
	}
	return asset.Hex()
}

// Pow10 returns 10^n as a new big.Int.
func Pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// AmountOrZero returns a copy of v, or zero when v is nil.
func AmountOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
