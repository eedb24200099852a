package chain

import (
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

var (
	// MaxNumOfFailingRequests is the request count after which the breaker may trip
	MaxNumOfFailingRequests = 10
	// FailingRatio is the failure ratio that trips the breaker
	FailingRatio = 0.6
)

// NewCircuitBreaker returns a breaker that opens once more than
// MaxNumOfFailingRequests requests were seen and at least FailingRatio of
// them failed.
func NewCircuitBreaker(name string, logger *zerolog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: name,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return int(counts.Requests) > MaxNumOfFailingRequests && ratio >= FailingRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})
}
