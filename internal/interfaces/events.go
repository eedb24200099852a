package interfaces

import (
	"context"

	"custody-vault/internal/models"
)

// EventEmitter defines the interface for publishing vault audit records
type EventEmitter interface {
	EmitEvent(ctx context.Context, event models.VaultEvent) error
}
