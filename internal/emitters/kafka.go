package emitters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"custody-vault/internal/interfaces"
	"custody-vault/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

var _ interfaces.EventEmitter = (*KafkaEmitter)(nil)

// KafkaConfig holds producer settings for the vault event topic
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	MaxAttempts  int
	BatchTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaEmitter implements EventEmitter using Kafka
type KafkaEmitter struct {
	writer messageWriter
	logger *zerolog.Logger
	mu     sync.Mutex
}

// NewKafkaEmitter creates a new KafkaEmitter
func NewKafkaEmitter(cfg KafkaConfig, logger *zerolog.Logger) *KafkaEmitter {
	return &KafkaEmitter{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  cfg.MaxAttempts,
			BatchSize:    1,
			BatchTimeout: cfg.BatchTimeout,
		},
		logger: logger,
	}
}

// eventMessage is the wire form of a vault event. Amounts are decimal strings
// so consumers never lose 256-bit precision.
type eventMessage struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	User      string    `json:"user"`
	Asset     string    `json:"asset"`
	RawAmount string    `json:"raw_amount"`
	USDAmount string    `json:"usd_amount"`
	USD       string    `json:"usd"`
	TxHash    string    `json:"tx_hash,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EncodeEvent builds the Kafka message for an event. Messages are keyed by
// user so one user's events stay ordered within a partition.
func EncodeEvent(event models.VaultEvent) (kafka.Message, error) {
	msg := eventMessage{
		ID:        event.ID,
		Kind:      event.Kind.String(),
		User:      event.User.Hex(),
		Asset:     event.Asset.Hex(),
		RawAmount: models.AmountOrZero(event.RawAmount).String(),
		USDAmount: models.AmountOrZero(event.USDAmount).String(),
		USD:       models.FormatUSD(event.USDAmount),
		Timestamp: event.Timestamp,
	}
	if event.TxHash != (common.Hash{}) {
		msg.TxHash = event.TxHash.Hex()
	}

	value, err := json.Marshal(msg)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event: %w", err)
	}

	return kafka.Message{
		Key:   []byte(msg.User),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(msg.Kind)},
		},
	}, nil
}

func (k *KafkaEmitter) EmitEvent(ctx context.Context, event models.VaultEvent) error {
	msg, err := EncodeEvent(event)
	if err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.writer == nil {
		return errors.New("kafka emitter is closed")
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	k.logger.Info().
		Str("kind", event.Kind.String()).
		Str("user", event.User.Hex()).
		Str("eventId", event.ID).
		Msg("Successfully emitted event to Kafka")
	return nil
}

func (k *KafkaEmitter) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.writer != nil {
		err := k.writer.Close()
		k.writer = nil
		return err
	}
	return nil
}
