package vault

import "sync"

// guard admits a single in-flight operation per vault. A second caller is
// turned away instead of queued.
type guard struct {
	mu sync.Mutex
}

func (g *guard) enter() (release func(), err error) {
	if !g.mu.TryLock() {
		return nil, ErrReentrancyDetected
	}
	return g.mu.Unlock, nil
}
