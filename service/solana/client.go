package solana

import (
	"context"
	"log/slog"
	"time"

	"github.com/kasuto/tokengate/service/metrics"
)

// Timeouts bounds the settlement flow at three levels: individual RPC
// operations, the transaction send, and the whole transfer sequence. The
// transfer timeout must be the longest so a stuck sequence cannot hang
// behind a healthy step.
type Timeouts struct {
	// RPC bounds one wrapped RPC operation (including its retries).
	RPC time.Duration

	// Send bounds the transaction submission (shorter than the overall
	// flow; a send that takes this long will have an expired blockhash
	// anyway).
	Send time.Duration

	// Transfer bounds the entire resolve-sign-send-confirm sequence.
	Transfer time.Duration

	// ConfirmInterval is the fixed delay between confirmation polling passes.
	ConfirmInterval time.Duration

	// ConfirmMaxAttempts caps the confirmation polling loop.
	ConfirmMaxAttempts int
}

// DefaultTimeouts returns the production timeout profile.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		RPC:                30 * time.Second,
		Send:               30 * time.Second,
		Transfer:           2 * time.Minute,
		ConfirmInterval:    2 * time.Second,
		ConfirmMaxAttempts: 10,
	}
}

// Client provides the on-chain settlement operations: token account
// resolution, transfers, confirmation, and balance reads. It wraps the RPC
// adapter with retry, timeout, and observability. Construct one per process
// and inject it; there is no package-level connection state.
type Client struct {
	rpc        RPCClient
	logger     *slog.Logger
	metrics    *metrics.Metrics
	endpoint   string // RPC endpoint identifier for metrics (e.g., "mainnet", rpc host)
	readPolicy RetryPolicy
	sendPolicy RetryPolicy
	timeouts   Timeouts

	// sleep is swapped out in tests to observe backoff delays without
	// waiting for them.
	sleep func(context.Context, time.Duration) error
}

// NewClient creates a settlement client. The endpoint parameter is used for
// metrics labeling (e.g., "mainnet", "devnet", or RPC hostname). If m is nil,
// no metrics are recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:        rpcClient,
		logger:     logger,
		metrics:    m,
		endpoint:   endpoint,
		readPolicy: DefaultReadPolicy(),
		sendPolicy: DefaultSendPolicy(),
		timeouts:   DefaultTimeouts(),
		sleep:      sleepContext,
	}
}

// WithPolicies overrides the default retry policies.
func (c *Client) WithPolicies(read, send RetryPolicy) *Client {
	c.readPolicy = read
	c.sendPolicy = send
	return c
}

// WithTimeouts overrides the default timeout profile.
func (c *Client) WithTimeouts(t Timeouts) *Client {
	c.timeouts = t
	return c
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
