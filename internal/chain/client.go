package chain

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Client wraps an ethclient with API key authentication and rate limiting
type Client struct {
	Endpoint    string
	RateLimiter *rate.Limiter
	Logger      *zerolog.Logger
	eth         *ethclient.Client
}

// CustomTransport adds API key authentication to HTTP requests
type CustomTransport struct {
	Base   http.RoundTripper
	ApiKey string
}

func (t *CustomTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("Content-Type", "application/json")
	if t.ApiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.ApiKey)
	}
	return t.Base.RoundTrip(req)
}

// Dial connects to an Ethereum JSON-RPC endpoint
func Dial(endpoint, apiKey string, rateLimit float64, httpTimeout time.Duration, logger *zerolog.Logger) (*Client, error) {
	httpClient := &http.Client{
		Timeout: httpTimeout,
		Transport: &CustomTransport{
			Base:   http.DefaultTransport,
			ApiKey: apiKey,
		},
	}

	rpcClient, err := rpc.DialHTTPWithClient(endpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create RPC client: %w", err)
	}

	logger.Debug().
		Str("endpoint", endpoint).
		Float64("rateLimit", rateLimit).
		Msg("Connected to Ethereum RPC endpoint")

	return &Client{
		Endpoint:    endpoint,
		RateLimiter: rate.NewLimiter(rate.Limit(rateLimit), 1),
		Logger:      logger,
		eth:         ethclient.NewClient(rpcClient),
	}, nil
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.RateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit error: %w", err)
	}
	return nil
}

// Caller returns a rate limited contract caller for read-only calls
func (c *Client) Caller() ethereum.ContractCaller {
	return &limitedCaller{caller: c.eth, limiter: c.RateLimiter}
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.eth.ChainID(ctx)
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	return c.eth.BlockNumber(ctx)
}

func (c *Client) BlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.eth.BlockByNumber(ctx, new(big.Int).SetUint64(number))
}

func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.eth.TransactionReceipt(ctx, hash)
}

func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	return c.eth.PendingNonceAt(ctx, account)
}

func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.eth.SuggestGasPrice(ctx)
}

func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	return c.eth.EstimateGas(ctx, msg)
}

func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	return c.eth.SendTransaction(ctx, tx)
}

var _ TxBackend = (*Client)(nil)

// Close closes the underlying RPC connection
func (c *Client) Close() {
	if c.eth != nil {
		c.eth.Close()
	}
}

// limitedCaller applies the client rate limit to contract reads
type limitedCaller struct {
	caller  ethereum.ContractCaller
	limiter *rate.Limiter
}

func (l *limitedCaller) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}
	return l.caller.CallContract(ctx, call, blockNumber)
}
