// Package pricing converts raw asset amounts into 6-decimal USD.
//
// The native asset is valued against a live 8-decimal price feed. Every other
// asset is assumed to trade at exactly 1.0 USD; only its decimal precision is
// looked up. Integer division truncates, so very small raw amounts can
// normalise to zero USD.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"custody-vault/internal/interfaces"
	"custody-vault/internal/models"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrPriceUnavailable is returned when the native price feed errors, is
	// stale, or reports a non-positive price
	ErrPriceUnavailable = errors.New("native asset price unavailable")
	// ErrMetadataUnavailable is returned when a token cannot report its decimals
	ErrMetadataUnavailable = errors.New("asset metadata unavailable")
)

var (
	usdScale = models.Pow10(models.USDDecimals)
	// 10^18 native decimals times 10^8 feed decimals.
	nativeDenominator = models.Pow10(models.NativeDecimals + models.PriceDecimals)
)

// Normalizer values raw amounts in 6-decimal USD.
type Normalizer struct {
	price  interfaces.PriceSource
	assets interfaces.AssetRegistry
	maxAge time.Duration
	now    func() time.Time
}

// NewNormalizer builds a Normalizer. A zero maxAge disables the staleness
// check on native price readings.
func NewNormalizer(price interfaces.PriceSource, assets interfaces.AssetRegistry, maxAge time.Duration) *Normalizer {
	return &Normalizer{
		price:  price,
		assets: assets,
		maxAge: maxAge,
		now:    time.Now,
	}
}

// ToUSD returns the USD value of rawAmount units of asset.
func (n *Normalizer) ToUSD(ctx context.Context, asset common.Address, rawAmount *big.Int) (*big.Int, error) {
	if models.IsNative(asset) {
		return n.nativeToUSD(ctx, rawAmount)
	}
	return n.tokenToUSD(ctx, asset, rawAmount)
}

func (n *Normalizer) nativeToUSD(ctx context.Context, rawAmount *big.Int) (*big.Int, error) {
	price, err := n.NativePrice(ctx)
	if err != nil {
		return nil, err
	}

	usd := new(big.Int).Mul(models.AmountOrZero(rawAmount), price)
	usd.Mul(usd, usdScale)
	return usd.Quo(usd, nativeDenominator), nil
}

// NativePrice returns the current validated 8-decimal native price.
func (n *Normalizer) NativePrice(ctx context.Context) (*big.Int, error) {
	p, err := n.price.LatestPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	if p.Answer == nil || p.Answer.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive answer %v", ErrPriceUnavailable, p.Answer)
	}
	if n.maxAge > 0 {
		if p.UpdatedAt.IsZero() {
			return nil, fmt.Errorf("%w: missing update time", ErrPriceUnavailable)
		}
		if age := n.now().Sub(p.UpdatedAt); age > n.maxAge {
			return nil, fmt.Errorf("%w: price is %s old", ErrPriceUnavailable, age.Truncate(time.Second))
		}
	}
	return new(big.Int).Set(p.Answer), nil
}

func (n *Normalizer) tokenToUSD(ctx context.Context, token common.Address, rawAmount *big.Int) (*big.Int, error) {
	asset, err := n.assets.Asset(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetadataUnavailable, err)
	}
	decimals, err := asset.Decimals(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetadataUnavailable, err)
	}

	usd := new(big.Int).Mul(models.AmountOrZero(rawAmount), usdScale)
	return usd.Quo(usd, models.Pow10(int(decimals))), nil
}
