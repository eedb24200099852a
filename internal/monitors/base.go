package monitors

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BaseMonitor contains the polling and retry plumbing shared by chain watchers
type BaseMonitor struct {
	Name         string
	MaxRetries   int
	RetryDelay   time.Duration
	PollInterval time.Duration
	Mu           sync.RWMutex
	Logger       *zerolog.Logger
}

func NewBaseMonitor(name string, pollInterval time.Duration, maxRetries int, logger *zerolog.Logger) *BaseMonitor {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	return &BaseMonitor{
		Name:         name,
		MaxRetries:   maxRetries,
		RetryDelay:   time.Second,
		PollInterval: pollInterval,
		Logger:       logger,
	}
}

// GetChainName returns the monitor name, which also keys its stored cursor
func (b *BaseMonitor) GetChainName() string {
	return b.Name
}

// Retry runs fn up to MaxRetries times, sleeping RetryDelay between attempts.
// It gives up early when ctx is cancelled.
func (b *BaseMonitor) Retry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i < b.MaxRetries; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == b.MaxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.RetryDelay):
		}
	}
	return err
}
