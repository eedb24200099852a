package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"custody-vault/internal/interfaces"
	"custody-vault/internal/models"
	"custody-vault/internal/monitors"
	"custody-vault/internal/vault"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var _ interfaces.Watcher = (*VaultWatcher)(nil)

// errChainRead marks a failure to read chain state that leaves a call
// undecided. The block is retried instead of skipped.
var errChainRead = errors.New("chain read failed")

// ChainReader is the node API the watcher polls
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number uint64) (*types.Block, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// CallStore persists how far the watcher got and which calls were decided
type CallStore interface {
	Cursor(ctx context.Context, name string) (uint64, bool, error)
	SaveCursor(ctx context.Context, name string, block uint64) error
	// MarkProcessed records a call that was rejected for good so a replay of
	// its block does not run it again
	MarkProcessed(ctx context.Context, txHash common.Hash) error
}

// WatcherConfig controls where and how far behind the head the watcher runs
type WatcherConfig struct {
	Vault   common.Address
	ChainID *big.Int
	// StartBlock is the first block to scan when no cursor is stored; zero
	// starts at the current head
	StartBlock uint64
	// Confirmations is how many blocks the watcher stays behind the head
	Confirmations uint64
	// Store keeps the cursor across restarts. Nil keeps it in memory only.
	Store CallStore
}

// VaultWatcher follows the chain and turns transactions addressed to the vault
// account into vault operations.
type VaultWatcher struct {
	*monitors.BaseMonitor
	chain   ChainReader
	handler VaultHandler
	vault   common.Address
	signer  types.Signer
	cfg     WatcherConfig

	latestBlockHeight uint64

	// OnBlock is called after every fully processed block
	OnBlock func(blockNum uint64)

	cancel context.CancelFunc
	done   chan struct{}
}

func NewVaultWatcher(base *monitors.BaseMonitor, chain ChainReader, handler VaultHandler, cfg WatcherConfig) (*VaultWatcher, error) {
	if cfg.ChainID == nil {
		return nil, errors.New("chain id is required")
	}
	if models.IsNative(cfg.Vault) {
		return nil, errors.New("vault address is required")
	}
	return &VaultWatcher{
		BaseMonitor: base,
		chain:       chain,
		handler:     handler,
		vault:       cfg.Vault,
		signer:      types.LatestSignerForChainID(cfg.ChainID),
		cfg:         cfg,
	}, nil
}

func (e *VaultWatcher) Start(ctx context.Context) error {
	if err := e.Initialize(ctx); err != nil {
		e.Logger.Error().Err(err).Msg("Failed to initialize vault watcher")
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	e.Logger.Info().
		Str("vault", e.vault.Hex()).
		Uint64("blockNumber", e.LastProcessedBlock()).
		Msg("Starting vault watcher loop")

	go e.monitorBlocks(ctx)

	return nil
}

func (e *VaultWatcher) Initialize(ctx context.Context) error {
	if e.cfg.Store != nil {
		block, ok, err := e.cfg.Store.Cursor(ctx, e.GetChainName())
		if err != nil {
			return err
		}
		if ok {
			e.setLatest(block)
			e.Logger.Info().
				Uint64("blockNumber", block+1).
				Msg("Resuming vault watcher from stored cursor")
			return nil
		}
	}

	if e.cfg.StartBlock > 0 {
		e.setLatest(e.cfg.StartBlock - 1)
		e.Logger.Info().
			Uint64("blockNumber", e.cfg.StartBlock).
			Msg("Resuming vault watcher from configured block")
		return nil
	}

	latestBlock, err := e.GetBlockHead(ctx)
	if err != nil {
		return fmt.Errorf("failed to get latest block: %w", err)
	}
	e.setLatest(latestBlock)
	e.Logger.Info().
		Uint64("blockNumber", latestBlock).
		Msg("Starting vault watcher from current head")
	return nil
}

// GetBlockHead returns the newest block the watcher is allowed to process
func (e *VaultWatcher) GetBlockHead(ctx context.Context) (uint64, error) {
	head, err := e.chain.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	if head < e.cfg.Confirmations {
		return 0, nil
	}
	return head - e.cfg.Confirmations, nil
}

// LastProcessedBlock returns the height of the last fully processed block
func (e *VaultWatcher) LastProcessedBlock() uint64 {
	e.Mu.RLock()
	defer e.Mu.RUnlock()
	return e.latestBlockHeight
}

func (e *VaultWatcher) setLatest(blockNum uint64) {
	e.Mu.Lock()
	e.latestBlockHeight = blockNum
	e.Mu.Unlock()
}

func (e *VaultWatcher) monitorBlocks(ctx context.Context) {
	defer close(e.done)

	ticker := time.NewTicker(e.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.Logger.Info().Msg("Vault watcher shutting down")
			return
		case <-ticker.C:
			e.poll(ctx)
		}
	}
}

// poll processes every block between the last processed one and the current
// head. A block that cannot be fetched or whose calls cannot be decided stops
// the round so it is retried on the next tick.
func (e *VaultWatcher) poll(ctx context.Context) {
	currentBlock, err := e.GetBlockHead(ctx)
	if err != nil {
		e.Logger.Error().Err(err).Msg("Failed to get current block")
		return
	}

	for blockNum := e.LastProcessedBlock() + 1; blockNum <= currentBlock; blockNum++ {
		if ctx.Err() != nil {
			return
		}

		block, err := e.fetchBlockWithRetry(ctx, blockNum)
		if err != nil {
			e.Logger.Error().Err(err).Uint64("blockNumber", blockNum).Msg("Failed to fetch block after retries")
			return
		}

		e.Logger.Debug().
			Uint64("blockNumber", blockNum).
			Int("transactionCount", len(block.Transactions())).
			Msg("Processing block")

		if err := e.processTransactions(ctx, block.Transactions()); err != nil {
			e.Logger.Error().Err(err).Uint64("blockNumber", blockNum).Msg("Failed to process block, will retry")
			return
		}

		if e.cfg.Store != nil {
			if err := e.cfg.Store.SaveCursor(ctx, e.GetChainName(), blockNum); err != nil {
				e.Logger.Error().Err(err).Uint64("blockNumber", blockNum).Msg("Failed to save watcher cursor")
			}
		}
		e.setLatest(blockNum)
		if e.OnBlock != nil {
			e.OnBlock(blockNum)
		}
	}
}

func (e *VaultWatcher) fetchBlockWithRetry(ctx context.Context, blockNum uint64) (*types.Block, error) {
	var block *types.Block
	err := e.Retry(ctx, func() error {
		b, err := e.chain.BlockByNumber(ctx, blockNum)
		if err != nil {
			return err
		}
		if b == nil {
			return fmt.Errorf("block %d not found yet", blockNum)
		}
		block = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return block, nil
}

// processTransactions runs every vault call in the block. It returns the
// first error that leaves a call undecided; calls before it are already
// recorded and are skipped when the block is retried.
func (e *VaultWatcher) processTransactions(ctx context.Context, txs types.Transactions) error {
	for _, tx := range txs {
		err := e.processSingleTransaction(ctx, tx)
		switch {
		case err == nil:
		case errors.Is(err, vault.ErrAlreadyProcessed):
			e.Logger.Debug().Str("txHash", tx.Hash().Hex()).Msg("Skipping already processed vault call")
		case retryable(err):
			return fmt.Errorf("tx %s: %w", tx.Hash().Hex(), err)
		default:
			e.Logger.Warn().
				Err(err).
				Str("txHash", tx.Hash().Hex()).
				Str("reason", vault.Reason(err)).
				Msg("Vault call rejected")
			e.markRejected(ctx, tx.Hash())
		}
	}
	return nil
}

func (e *VaultWatcher) markRejected(ctx context.Context, hash common.Hash) {
	if e.cfg.Store == nil {
		return
	}
	err := e.cfg.Store.MarkProcessed(ctx, hash)
	if err != nil && !errors.Is(err, vault.ErrAlreadyProcessed) {
		e.Logger.Error().Err(err).Str("txHash", hash.Hex()).Msg("Failed to record rejected vault call")
	}
}

// retryable reports errors that say nothing about the call itself
func retryable(err error) bool {
	return errors.Is(err, errChainRead) || errors.Is(err, vault.ErrPriceUnavailable)
}

func (e *VaultWatcher) processSingleTransaction(ctx context.Context, tx *types.Transaction) error {
	if tx.To() == nil || *tx.To() != e.vault {
		return nil
	}

	from, err := types.Sender(e.signer, tx)
	if err != nil {
		return fmt.Errorf("failed to recover sender: %w", err)
	}
	if from == e.vault {
		return nil
	}

	receipt, err := e.chain.TransactionReceipt(ctx, tx.Hash())
	if err != nil {
		return fmt.Errorf("%w: failed to fetch receipt: %w", errChainRead, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		e.Logger.Debug().Str("txHash", tx.Hash().Hex()).Msg("Skipping failed transaction")
		return nil
	}

	call := models.Call{
		Sender: from,
		Value:  tx.Value(),
		TxHash: tx.Hash(),
	}

	op, err := Dispatch(ctx, e.handler, call, tx.Data())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if op != OpNone {
		e.Logger.Info().
			Str("op", op).
			Str("from", from.Hex()).
			Str("txHash", tx.Hash().Hex()).
			Msg("Processed vault call")
	}
	return nil
}

func (e *VaultWatcher) Stop(ctx context.Context) error {
	e.Logger.Info().Msg("Stopping vault watcher")

	if e.cancel == nil {
		return nil
	}
	e.cancel()

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
