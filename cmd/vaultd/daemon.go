package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"custody-vault/internal/access"
	"custody-vault/internal/api"
	"custody-vault/internal/chain"
	"custody-vault/internal/config"
	"custody-vault/internal/database"
	"custody-vault/internal/emitters"
	"custody-vault/internal/events"
	"custody-vault/internal/health"
	"custody-vault/internal/interfaces"
	"custody-vault/internal/ledger"
	"custody-vault/internal/logger"
	"custody-vault/internal/metrics"
	"custody-vault/internal/monitors"
	"custody-vault/internal/monitors/evm"
	"custody-vault/internal/validation"
	"custody-vault/internal/vault"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

const (
	watcherName     = "ethereum"
	shutdownTimeout = 15 * time.Second
)

var _ evm.CallStore = (*ledger.Ledger)(nil)

// daemon owns every long-lived component of the process
type daemon struct {
	cfg     *config.Config
	logger  *zerolog.Logger
	client  *chain.Client
	db      *sql.DB
	kafka   *emitters.KafkaEmitter
	vault   *vault.Vault
	watcher *evm.VaultWatcher
	health  *health.Checker
	metrics *metrics.Metrics
	server  *api.Server
}

func newDaemon(ctx context.Context, cfg *config.Config) (_ *daemon, err error) {
	d := &daemon{cfg: cfg, logger: logger.GetLogger()}
	defer func() {
		if err != nil {
			d.close()
		}
	}()

	d.client, err = chain.Dial(cfg.Ethereum.RpcEndpoint, cfg.Ethereum.ApiKey, cfg.Ethereum.RateLimit, cfg.HTTP.Timeout, logger.Component("rpc"))
	if err != nil {
		return nil, err
	}

	chainID, err := d.client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}

	transactor, err := chain.NewTransactor(d.client, cfg.Vault.SigningKey, chainID, cfg.Ethereum.ReceiptPollInterval, cfg.Ethereum.ReceiptTimeout, logger.Component("transactor"))
	if err != nil {
		return nil, err
	}

	feedAddress, err := validation.ParseAddress(cfg.Vault.PriceFeed)
	if err != nil {
		return nil, fmt.Errorf("invalid price feed address: %w", err)
	}
	feed := chain.NewPriceFeed(feedAddress, d.client.Caller(), logger.Component("pricefeed"))
	if err := feed.CheckDecimals(ctx); err != nil {
		return nil, err
	}

	tokens, err := parseAddresses(cfg.Vault.Tokens)
	if err != nil {
		return nil, err
	}

	accessControl, err := d.accessControl()
	if err != nil {
		return nil, err
	}

	store, err := d.ledgerStore()
	if err != nil {
		return nil, err
	}

	limits, err := limitsFromConfig(cfg.Vault)
	if err != nil {
		return nil, err
	}

	journal := events.NewJournal(cfg.Vault.JournalSize)
	wrapped := []interfaces.EventEmitter{journal}
	if cfg.Kafka.Enabled {
		d.kafka = emitters.NewKafkaEmitter(emitters.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			MaxAttempts:  cfg.Kafka.MaxAttempts,
			BatchTimeout: cfg.Kafka.BatchTimeout,
		}, logger.Component("kafka"))
		wrapped = append(wrapped, d.kafka)
	}

	accounts := ledger.New(store)
	registry := chain.NewRegistry(d.client.Caller(), transactor, tokens)
	d.metrics = metrics.New()
	d.vault, err = vault.New(vault.Config{
		Limits:      limits,
		PriceSource: feed,
		MaxPriceAge: cfg.Vault.MaxPriceAge,
		Assets:      registry,
		Native:      chain.NewNativeSender(transactor),
		Access:      accessControl,
		Emitter:     events.NewLogEmitter(logger.Component("events"), wrapped...),
		Ledger:      accounts,
		Recorder:    d.metrics,
		Logger:      logger.Component("vault"),
	})
	if err != nil {
		return nil, err
	}

	base := monitors.NewBaseMonitor(watcherName, cfg.Ethereum.PollInterval, cfg.MaxRetries, logger.Component("watcher"))
	base.RetryDelay = cfg.RetryDelay
	d.watcher, err = evm.NewVaultWatcher(base, d.client, d.vault, evm.WatcherConfig{
		Vault:         transactor.Address(),
		ChainID:       chainID,
		StartBlock:    cfg.Ethereum.StartBlock,
		Confirmations: cfg.Ethereum.Confirmations,
		Store:         accounts,
	})
	if err != nil {
		return nil, err
	}
	d.watcher.OnBlock = func(blockNum uint64) {
		d.metrics.SetLastBlock(watcherName, blockNum)
	}

	d.health = health.NewChecker(logger.Component("health"))
	d.server = api.NewServer(api.Options{
		Addr:      cfg.HTTP.ListenAddr,
		Stats:     d.vault,
		Events:    journal,
		Limits:    d.vault,
		Assets:    registry,
		Liveness:  d.health.LivenessHandler,
		Readiness: d.health.ReadinessHandler,
		Metrics:   d.metrics.Handler(),
		Logger:    logger.Component("api"),
	})

	d.logger.Info().
		Str("vault", transactor.Address().Hex()).
		Str("chainId", chainID.String()).
		Str("withdrawLimitUSD", cfg.Vault.WithdrawLimitUSD).
		Str("depositCapUSD", cfg.Vault.DepositCapUSD).
		Str("ledger", cfg.Ledger.Store).
		Bool("kafka", cfg.Kafka.Enabled).
		Msg("Vault daemon initialized")

	return d, nil
}

// run starts the watcher and HTTP server and blocks until ctx is cancelled or
// the server fails.
func (d *daemon) run(ctx context.Context) error {
	if err := d.watcher.Start(ctx); err != nil {
		return err
	}
	d.health.RegisterWatcher(ctx, watcherName, d.watcher, d.cfg.Ethereum.PollInterval)
	d.health.SetReady(true)

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.server.ListenAndServe()
	}()

	var err error
	select {
	case <-ctx.Done():
		d.logger.Info().Msg("Shutdown signal received")
	case err = <-errCh:
	}

	d.health.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if serr := d.server.Shutdown(shutdownCtx); serr != nil {
		d.logger.Error().Err(serr).Msg("Failed to shut down HTTP server")
	}
	if werr := d.watcher.Stop(shutdownCtx); werr != nil {
		d.logger.Error().Err(werr).Msg("Failed to stop vault watcher")
	}
	return err
}

// close releases external connections. Safe on a partially built daemon.
func (d *daemon) close() {
	if d.kafka != nil {
		if err := d.kafka.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close Kafka writer")
		}
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close database")
		}
	}
	if d.client != nil {
		d.client.Close()
	}
}

func (d *daemon) accessControl() (interfaces.AccessControl, error) {
	if d.cfg.Vault.AccessControl != "" {
		address, err := validation.ParseAddress(d.cfg.Vault.AccessControl)
		if err != nil {
			return nil, fmt.Errorf("invalid access control address: %w", err)
		}
		return chain.NewAccessControl(address, d.client.Caller()), nil
	}

	admins, err := parseAddresses(d.cfg.Vault.Admins)
	if err != nil {
		return nil, err
	}
	if len(admins) == 0 {
		d.logger.Warn().Msg("No vault admins configured, admin withdrawals are disabled")
	}

	roles := access.NewStaticRoles()
	roles.Grant(vault.AdminCapability, admins...)
	return roles, nil
}

func (d *daemon) ledgerStore() (ledger.Store, error) {
	if d.cfg.Ledger.Store != config.StorePostgres {
		d.logger.Warn().Msg("Using in-memory ledger, balances are lost on restart")
		return ledger.NewMemoryStore(), nil
	}

	db, err := database.Open(d.cfg.Database)
	if err != nil {
		return nil, err
	}
	d.db = db

	if err := database.RunMigrations(db, d.cfg.Database.DBName); err != nil {
		return nil, err
	}
	return ledger.NewPostgresStore(db), nil
}

func limitsFromConfig(cfg config.VaultConfig) (vault.Limits, error) {
	withdrawLimit, err := validation.ParseUSD(cfg.WithdrawLimitUSD)
	if err != nil {
		return vault.Limits{}, fmt.Errorf("invalid withdraw limit: %w", err)
	}
	depositCap, err := validation.ParseUSD(cfg.DepositCapUSD)
	if err != nil {
		return vault.Limits{}, fmt.Errorf("invalid deposit cap: %w", err)
	}
	return vault.NewLimits(withdrawLimit, depositCap)
}

func parseAddresses(raw []string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(raw))
	for _, s := range raw {
		addr, err := validation.ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", s, err)
		}
		out = append(out, addr)
	}
	return out, nil
}
