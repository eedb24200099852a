package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"custody-vault/internal/interfaces"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
)

var (
	// ErrTxReverted is returned when a mined transaction has a failed status
	ErrTxReverted = errors.New("transaction reverted")
	// ErrReceiptTimeout is returned when a receipt does not show up in time
	ErrReceiptTimeout = errors.New("timed out waiting for transaction receipt")
)

const defaultReceiptTimeout = 2 * time.Minute

// TxBackend is the subset of the node API needed to sign, send and confirm
// transactions from the vault account.
type TxBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Transactor signs transactions with the vault key and waits for them to be
// mined. Sends are serialized so nonces are never reused.
type Transactor struct {
	backend        TxBackend
	key            *ecdsa.PrivateKey
	from           common.Address
	signer         types.Signer
	pollInterval   time.Duration
	receiptTimeout time.Duration
	logger         *zerolog.Logger
	mu             sync.Mutex
}

func NewTransactor(backend TxBackend, hexKey string, chainID *big.Int, pollInterval, receiptTimeout time.Duration, logger *zerolog.Logger) (*Transactor, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid vault signing key: %w", err)
	}
	if chainID == nil {
		return nil, errors.New("chain id is required")
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if receiptTimeout <= 0 {
		receiptTimeout = defaultReceiptTimeout
	}

	return &Transactor{
		backend:        backend,
		key:            key,
		from:           crypto.PubkeyToAddress(key.PublicKey),
		signer:         types.LatestSignerForChainID(chainID),
		pollInterval:   pollInterval,
		receiptTimeout: receiptTimeout,
		logger:         logger,
	}, nil
}

// Address returns the vault account the transactor signs for
func (t *Transactor) Address() common.Address {
	return t.from
}

// Send signs and broadcasts a transaction, then blocks until it is mined
// successfully. Once the transaction is broadcast, failing to learn its
// outcome is reported wrapped in interfaces.ErrTransferUnconfirmed; only
// ErrTxReverted and errors from before the broadcast mean nothing moved.
func (t *Transactor) Send(ctx context.Context, to common.Address, value *big.Int, data []byte) (*types.Receipt, error) {
	if value == nil {
		value = new(big.Int)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	nonce, err := t.backend.PendingNonceAt(ctx, t.from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := t.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest gas price: %w", err)
	}

	gas, err := t.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  t.from,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    value,
		Data:     data,
	})

	signed, err := types.SignTx(tx, t.signer, t.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := t.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}

	t.logger.Debug().
		Str("txHash", signed.Hash().Hex()).
		Str("to", to.Hex()).
		Str("value", value.String()).
		Uint64("nonce", nonce).
		Msg("Sent vault transaction")

	receipt, err := t.waitReceipt(ctx, signed.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s", ErrTxReverted, signed.Hash().Hex())
	}

	return receipt, nil
}

// waitReceipt polls until the receipt shows up or the receipt timeout
// passes. Cancelling the caller's context does not stop the wait, since the
// transaction is already out.
func (t *Transactor) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := t.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("%w: failed to fetch receipt for %s: %w", interfaces.ErrTransferUnconfirmed, hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w: %s", interfaces.ErrTransferUnconfirmed, ErrReceiptTimeout, hash.Hex())
		case <-ticker.C:
		}
	}
}
