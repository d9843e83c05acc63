package jito

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/michaelpento.lv/solarb/types"
)

const (
	authHeader = "x-jito-auth"

	methodSendBundle                = "sendBundle"
	methodGetBundleStatuses         = "getBundleStatuses"
	methodGetInflightBundleStatuses = "getInflightBundleStatuses"
	methodGetTipAccounts            = "getTipAccounts"

	// DefaultBackoffBase gives retry delays of 1s, 2s, 4s...
	DefaultBackoffBase = time.Second
)

// Config contains block-engine client settings
type Config struct {
	URL         string
	AuthUUID    string
	Timeout     time.Duration
	MaxAttempts int
	BackoffBase time.Duration
	// RateLimit is the request budget per second; 0 disables limiting
	RateLimit float64
	RateBurst int
}

// Client is a JSON-RPC client for a Jito block engine
type Client struct {
	rpc     *rpc.Client
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	metrics struct {
		requests *prometheus.CounterVec
		latency  *prometheus.HistogramVec
		retries  prometheus.Counter
	}
}

// NewClient dials the block engine. A nil registerer leaves metrics unregistered.
func NewClient(ctx context.Context, cfg Config, logger *zap.Logger, reg prometheus.Registerer) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("block engine url cannot be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}

	opts := []rpc.ClientOption{
		rpc.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	}
	if cfg.AuthUUID != "" {
		opts = append(opts, rpc.WithHeader(authHeader, cfg.AuthUUID))
	}
	client, err := rpc.DialOptions(ctx, cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial block engine: %w", err)
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		rpc:     client,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
		sleep:   sleepContext,
	}

	factory := promauto.With(reg)
	c.metrics.requests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solarb",
		Subsystem: "relay",
		Name:      "requests_total",
		Help:      "Block engine requests by method and outcome",
	}, []string{"method", "outcome"})
	c.metrics.latency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "solarb",
		Subsystem: "relay",
		Name:      "request_latency_seconds",
		Help:      "Latency of block engine requests",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})
	c.metrics.retries = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "solarb",
		Subsystem: "relay",
		Name:      "retries_total",
		Help:      "Number of retried block engine requests",
	})

	return c, nil
}

// Close releases the underlying connection
func (c *Client) Close() {
	c.rpc.Close()
}

// SendBundle submits up to five serialized transactions and returns the bundle id
func (c *Client) SendBundle(ctx context.Context, txs [][]byte) (string, error) {
	if len(txs) == 0 {
		return "", types.NewValidationError("transactions", "empty bundle")
	}
	if len(txs) > types.MaxBundleTransactions {
		return "", types.NewValidationError("transactions", fmt.Sprintf("%d transactions exceed the bundle limit of %d", len(txs), types.MaxBundleTransactions))
	}

	encoded := make([]string, len(txs))
	for i, tx := range txs {
		encoded[i] = base64.StdEncoding.EncodeToString(tx)
	}

	var bundleID string
	if err := c.call(ctx, &bundleID, methodSendBundle, encoded, map[string]string{"encoding": "base64"}); err != nil {
		return "", err
	}
	return bundleID, nil
}

type bundleStatusesResult struct {
	Value []*struct {
		BundleID           string                 `json:"bundle_id"`
		Transactions       []string               `json:"transactions"`
		Slot               uint64                 `json:"slot"`
		ConfirmationStatus string                 `json:"confirmation_status"`
		Err                map[string]interface{} `json:"err"`
	} `json:"value"`
}

type inflightStatusesResult struct {
	Value []*struct {
		BundleID   string `json:"bundle_id"`
		Status     string `json:"status"`
		LandedSlot uint64 `json:"landed_slot"`
	} `json:"value"`
}

// GetBundleStatus resolves the landing state of a bundle.
// Landed bundles are reported by getBundleStatuses; anything else falls back to the in-flight view.
func (c *Client) GetBundleStatus(ctx context.Context, bundleID string) (types.BundleStatus, error) {
	status := types.BundleStatus{State: types.BundlePending, Via: "relay"}

	var landed bundleStatusesResult
	if err := c.call(ctx, &landed, methodGetBundleStatuses, []string{bundleID}); err != nil {
		return status, err
	}
	if len(landed.Value) > 0 && landed.Value[0] != nil {
		v := landed.Value[0]
		status.Slot = v.Slot
		if failure := bundleErr(v.Err); failure != "" {
			status.State = types.BundleFailed
			status.Err = failure
			return status, nil
		}
		switch v.ConfirmationStatus {
		case "confirmed", "finalized":
			status.State = types.BundleLanded
			return status, nil
		}
	}

	var inflight inflightStatusesResult
	if err := c.call(ctx, &inflight, methodGetInflightBundleStatuses, []string{bundleID}); err != nil {
		return status, err
	}
	if len(inflight.Value) > 0 && inflight.Value[0] != nil {
		v := inflight.Value[0]
		switch v.Status {
		case "Landed":
			status.State = types.BundleLanded
			status.Slot = v.LandedSlot
		case "Failed":
			status.State = types.BundleFailed
			status.Err = "bundle failed in block engine"
		case "Invalid":
			status.State = types.BundleDropped
			status.Err = "bundle expired or unknown to block engine"
		}
	}
	return status, nil
}

// GetTipAccounts returns the tip accounts currently advertised by the block engine
func (c *Client) GetTipAccounts(ctx context.Context) ([]solana.PublicKey, error) {
	var raw []string
	if err := c.call(ctx, &raw, methodGetTipAccounts); err != nil {
		return nil, err
	}
	out := make([]solana.PublicKey, 0, len(raw))
	for _, s := range raw {
		pk, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			return nil, fmt.Errorf("invalid tip account %q: %w", s, err)
		}
		out = append(out, pk)
	}
	return out, nil
}

// call performs a rate-limited JSON-RPC request with exponential backoff on retryable failures
func (c *Client) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	var (
		lastErr    error
		statusCode int
	)
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			c.metrics.retries.Inc()
			backoff := c.cfg.BackoffBase * time.Duration(1<<uint(attempt-1))
			if err := c.sleep(ctx, backoff); err != nil {
				return err
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		start := time.Now()
		err := c.rpc.CallContext(ctx, result, method, args...)
		c.metrics.latency.WithLabelValues(method).Observe(time.Since(start).Seconds())
		if err == nil {
			c.metrics.requests.WithLabelValues(method, "ok").Inc()
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		lastErr = err
		var retryable bool
		statusCode, retryable = classify(err)
		c.metrics.requests.WithLabelValues(method, "error").Inc()
		c.logger.Debug("Block engine request failed",
			zap.String("method", method),
			zap.Int("attempt", attempt+1),
			zap.Int("status", statusCode),
			zap.Bool("retryable", retryable),
			zap.Error(err))

		if !retryable {
			return &types.SubmissionError{StatusCode: statusCode, Attempts: attempt + 1, Retryable: false, Err: err}
		}
	}
	return &types.SubmissionError{StatusCode: statusCode, Attempts: c.cfg.MaxAttempts, Retryable: true, Err: lastErr}
}

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

// classify returns the HTTP status (0 if none) and whether the failure may succeed on retry.
// 429 and 5xx are retryable, other 4xx and JSON-RPC errors are terminal, transport errors are retryable.
func classify(err error) (int, bool) {
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		code := httpErr.StatusCode
		switch {
		case code == http.StatusTooManyRequests:
			return code, true
		case code >= 400 && code < 500:
			return code, false
		default:
			return code, true
		}
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return 0, false
	}
	return 0, true
}

func bundleErr(raw map[string]interface{}) string {
	if len(raw) == 0 {
		return ""
	}
	if _, ok := raw["Ok"]; ok {
		return ""
	}
	return fmt.Sprintf("%v", raw)
}
