package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"custody-vault/internal/interfaces"
	"custody-vault/internal/models"
	"custody-vault/internal/validation"
	"custody-vault/internal/vault"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

const maxEventsLimit = 500

// StatsReader is the vault read surface
type StatsReader interface {
	GetUserAssetStats(ctx context.Context, user, asset common.Address) (models.UserAssetStats, error)
}

// EventReader looks up recorded vault events
type EventReader interface {
	// ByUser returns the user's events, newest first
	ByUser(user common.Address, limit int) []models.VaultEvent
	// ByTxHash returns the event produced by one chain transaction
	ByTxHash(txHash common.Hash) (models.VaultEvent, bool)
}

// LimitsReader exposes the configured vault caps
type LimitsReader interface {
	Limits() vault.Limits
}

// Options wires the server's collaborators. Nil handlers leave their routes
// unregistered.
type Options struct {
	Addr      string
	Stats     StatsReader
	Events    EventReader
	Limits    LimitsReader
	// Assets resolves token precision for formatted balances. Without it
	// only native balances are formatted.
	Assets    interfaces.AssetRegistry
	Liveness  http.HandlerFunc
	Readiness http.HandlerFunc
	Metrics   http.Handler
	Logger    *zerolog.Logger
}

// Server exposes read-only vault state over HTTP
type Server struct {
	opts   Options
	mux    *http.ServeMux
	server *http.Server
}

func NewServer(opts Options) *Server {
	s := &Server{opts: opts, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /v1/users/{user}/assets/{asset}/stats", s.handleStats)
	if opts.Events != nil {
		s.mux.HandleFunc("GET /v1/users/{user}/events", s.handleEvents)
		s.mux.HandleFunc("GET /v1/events/{tx}", s.handleEvent)
	}
	if opts.Limits != nil {
		s.mux.HandleFunc("GET /v1/limits", s.handleLimits)
	}
	if opts.Liveness != nil {
		s.mux.HandleFunc("GET /healthz", opts.Liveness)
	}
	if opts.Readiness != nil {
		s.mux.HandleFunc("GET /readyz", opts.Readiness)
	}
	if opts.Metrics != nil {
		s.mux.Handle("GET /metrics", opts.Metrics)
	}

	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the routed handler wrapped with request logging
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

// ListenAndServe blocks until the server stops. A graceful Shutdown is not
// reported as an error.
func (s *Server) ListenAndServe() error {
	s.opts.Logger.Info().Str("addr", s.opts.Addr).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type statsResponse struct {
	User                    string `json:"user"`
	Asset                   string `json:"asset"`
	CumulativeDepositUSD    string `json:"cumulative_deposit_usd"`
	CumulativeDepositUSDRaw string `json:"cumulative_deposit_usd_raw"`
	DepositCount            uint64 `json:"deposit_count"`
	WithdrawCount           uint64 `json:"withdraw_count"`
	CurrentBalance          string `json:"current_balance"`
	CurrentBalanceFormatted string `json:"current_balance_formatted,omitempty"`
}

type limitsResponse struct {
	PerTxWithdrawLimitUSD   string `json:"per_tx_withdraw_limit_usd"`
	PerAccountDepositCapUSD string `json:"per_account_deposit_cap_usd"`
}

type eventResponse struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	User      string    `json:"user"`
	Asset     string    `json:"asset"`
	RawAmount string    `json:"raw_amount"`
	USDAmount string    `json:"usd_amount"`
	TxHash    string    `json:"tx_hash"`
	Timestamp time.Time `json:"timestamp"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	user, err := validation.ParseAddress(r.PathValue("user"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err, "")
		return
	}
	asset, err := validation.ParseAsset(r.PathValue("asset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err, "")
		return
	}

	stats, err := s.opts.Stats.GetUserAssetStats(r.Context(), user, asset)
	if err != nil {
		s.opts.Logger.Error().Err(err).Str("user", user.Hex()).Msg("Failed to read user stats")
		writeError(w, http.StatusInternalServerError, errors.New("failed to read stats"), vault.Reason(err))
		return
	}

	resp := statsResponse{
		User:                    user.Hex(),
		Asset:                   models.AssetLabel(asset),
		CumulativeDepositUSD:    models.FormatUSD(stats.CumulativeDepositUSD),
		CumulativeDepositUSDRaw: models.AmountOrZero(stats.CumulativeDepositUSD).String(),
		DepositCount:            stats.DepositCount,
		WithdrawCount:           stats.WithdrawCount,
		CurrentBalance:          models.AmountOrZero(stats.CurrentBalance).String(),
	}
	if decimals, ok := s.decimals(r.Context(), asset); ok {
		resp.CurrentBalanceFormatted = models.FormatUnits(stats.CurrentBalance, decimals)
	}
	writeJSON(w, http.StatusOK, resp)
}

// decimals returns the precision of asset when it can be resolved
func (s *Server) decimals(ctx context.Context, asset common.Address) (uint8, bool) {
	if models.IsNative(asset) {
		return models.NativeDecimals, true
	}
	if s.opts.Assets == nil {
		return 0, false
	}
	token, err := s.opts.Assets.Asset(ctx, asset)
	if err != nil {
		return 0, false
	}
	d, err := token.Decimals(ctx)
	if err != nil {
		s.opts.Logger.Warn().Err(err).Str("asset", asset.Hex()).Msg("Failed to read token decimals")
		return 0, false
	}
	return d, true
}

func (s *Server) handleLimits(w http.ResponseWriter, _ *http.Request) {
	limits := s.opts.Limits.Limits()
	writeJSON(w, http.StatusOK, limitsResponse{
		PerTxWithdrawLimitUSD:   models.FormatUSD(limits.PerTxWithdrawLimitUSD()),
		PerAccountDepositCapUSD: models.FormatUSD(limits.PerAccountDepositCapUSD()),
	})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("tx")
	if err := validation.ValidateTxHash(raw); err != nil {
		writeError(w, http.StatusBadRequest, err, "")
		return
	}

	event, ok := s.opts.Events.ByTxHash(common.HexToHash(raw))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("event not found"), "")
		return
	}
	writeJSON(w, http.StatusOK, toEventResponse(event))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	user, err := validation.ParseAddress(r.PathValue("user"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err, "")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"), "")
			return
		}
	}
	if limit > maxEventsLimit {
		limit = maxEventsLimit
	}

	events := s.opts.Events.ByUser(user, limit)
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, toEventResponse(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func toEventResponse(e models.VaultEvent) eventResponse {
	return eventResponse{
		ID:        e.ID,
		Kind:      e.Kind.String(),
		User:      e.User.Hex(),
		Asset:     models.AssetLabel(e.Asset),
		RawAmount: models.AmountOrZero(e.RawAmount).String(),
		USDAmount: models.FormatUSD(e.USDAmount),
		TxHash:    e.TxHash.Hex(),
		Timestamp: e.Timestamp,
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.opts.Logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error, reason string) {
	writeJSON(w, status, errorResponse{Error: err.Error(), Reason: reason})
}
