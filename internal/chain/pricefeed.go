package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"custody-vault/internal/interfaces"
	"custody-vault/internal/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

var _ interfaces.PriceSource = (*PriceFeed)(nil)

// PriceFeed reads the native asset price from a Chainlink style aggregator.
// Reads go through a circuit breaker so a failing node stops being hammered.
type PriceFeed struct {
	contract *boundContract
	cb       *gobreaker.CircuitBreaker
	logger   *zerolog.Logger
}

func NewPriceFeed(feed common.Address, caller ethereum.ContractCaller, logger *zerolog.Logger) *PriceFeed {
	return &PriceFeed{
		contract: &boundContract{address: feed, abi: AggregatorABI, caller: caller},
		cb:       NewCircuitBreaker("price-feed", logger),
		logger:   logger,
	}
}

// CheckDecimals verifies the aggregator reports prices with the precision the
// normalizer expects.
func (p *PriceFeed) CheckDecimals(ctx context.Context) error {
	values, err := p.contract.call(ctx, "decimals")
	if err != nil {
		return err
	}
	d, ok := values[0].(uint8)
	if !ok {
		return fmt.Errorf("unexpected decimals type %T", values[0])
	}
	if int(d) != models.PriceDecimals {
		return fmt.Errorf("price feed %s reports %d decimals, want %d", p.contract.address.Hex(), d, models.PriceDecimals)
	}
	return nil
}

func (p *PriceFeed) LatestPrice(ctx context.Context) (models.Price, error) {
	result, err := p.cb.Execute(func() (interface{}, error) {
		return p.contract.call(ctx, "latestRoundData")
	})
	if err != nil {
		p.logger.Error().
			Err(err).
			Str("feed", p.contract.address.Hex()).
			Msg("Failed to read latest price")
		return models.Price{}, err
	}

	values := result.([]interface{})
	if len(values) != 5 {
		return models.Price{}, fmt.Errorf("unexpected latestRoundData result length %d", len(values))
	}

	roundID, ok1 := values[0].(*big.Int)
	answer, ok2 := values[1].(*big.Int)
	updatedAt, ok3 := values[3].(*big.Int)
	if !ok1 || !ok2 || !ok3 {
		return models.Price{}, errors.New("unexpected latestRoundData result types")
	}

	price := models.Price{
		RoundID: roundID,
		Answer:  answer,
	}
	if updatedAt.Sign() > 0 && updatedAt.IsInt64() {
		price.UpdatedAt = time.Unix(updatedAt.Int64(), 0).UTC()
	}
	return price, nil
}
