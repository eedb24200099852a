package events

import (
	"context"
	"errors"

	"custody-vault/internal/interfaces"
	"custody-vault/internal/models"

	"github.com/rs/zerolog"
)

var _ interfaces.EventEmitter = (*LogEmitter)(nil)

// LogEmitter logs every vault event and forwards it to the wrapped emitters
type LogEmitter struct {
	Logger          *zerolog.Logger
	WrappedEmitters []interfaces.EventEmitter
}

func NewLogEmitter(logger *zerolog.Logger, wrapped ...interfaces.EventEmitter) *LogEmitter {
	return &LogEmitter{Logger: logger, WrappedEmitters: wrapped}
}

// EmitEvent logs the event and forwards it. Every wrapped emitter is tried;
// their failures are joined.
func (d *LogEmitter) EmitEvent(ctx context.Context, event models.VaultEvent) error {
	d.Logger.Info().
		Str("eventId", event.ID).
		Str("kind", event.Kind.String()).
		Str("user", event.User.Hex()).
		Str("asset", models.AssetLabel(event.Asset)).
		Str("amount", models.AmountOrZero(event.RawAmount).String()).
		Str("usd", models.FormatUSD(event.USDAmount)).
		Str("txHash", event.TxHash.Hex()).
		Time("timestamp", event.Timestamp).
		Msg("Vault event")

	var errs []error
	for _, emitter := range d.WrappedEmitters {
		if emitter == nil {
			continue
		}
		if err := emitter.EmitEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
