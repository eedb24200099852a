package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"custody-vault/internal/interfaces"

	"github.com/rs/zerolog"
)

type WatcherStatus struct {
	Name      string    `json:"name"`
	LastBlock uint64    `json:"last_block"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Checker tracks liveness and readiness of the daemon. It is ready once
// SetReady(true) was called and at least one watcher reported a head.
type Checker struct {
	isReady  int32
	mu       sync.RWMutex
	statuses map[string]*WatcherStatus
	logger   *zerolog.Logger
}

func NewChecker(logger *zerolog.Logger) *Checker {
	return &Checker{
		statuses: make(map[string]*WatcherStatus),
		logger:   logger,
	}
}

func (c *Checker) SetReady(ready bool) {
	if ready {
		atomic.StoreInt32(&c.isReady, 1)
	} else {
		atomic.StoreInt32(&c.isReady, 0)
	}
}

func (c *Checker) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.statuses) > 0 && atomic.LoadInt32(&c.isReady) == 1
}

func (c *Checker) LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (c *Checker) ReadinessHandler(w http.ResponseWriter, _ *http.Request) {
	if !c.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("Not Ready"))
		return
	}

	c.mu.RLock()
	statuses := make([]WatcherStatus, 0, len(c.statuses))
	for _, s := range c.statuses {
		statuses = append(statuses, *s)
	}
	c.mu.RUnlock()

	response := map[string]interface{}{
		"status":   "Ready",
		"watchers": statuses,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// RegisterWatcher polls the watcher head every interval until ctx is done
func (c *Checker) RegisterWatcher(ctx context.Context, name string, watcher interfaces.Watcher, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			blockhead, err := watcher.GetBlockHead(ctx)
			if err != nil {
				c.logger.Error().
					Err(err).
					Str("watcher", name).
					Msg("Error getting latest block")
			} else {
				c.UpdateStatus(name, blockhead)
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (c *Checker) UpdateStatus(name string, lastBlock uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[name] = &WatcherStatus{
		Name:      name,
		LastBlock: lastBlock,
		UpdatedAt: time.Now().UTC(),
	}
}
