package jito

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/solarb/types"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// fakeEngine answers JSON-RPC calls from handlers keyed by method
type fakeEngine struct {
	mu       sync.Mutex
	handlers map[string]func(params []json.RawMessage) (interface{}, int)
	calls    map[string]int
	headers  http.Header
}

func newFakeEngine(t *testing.T) (*fakeEngine, *httptest.Server) {
	e := &fakeEngine{
		handlers: make(map[string]func([]json.RawMessage) (interface{}, int)),
		calls:    make(map[string]int),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		e.mu.Lock()
		e.calls[req.Method]++
		e.headers = r.Header.Clone()
		handler := e.handlers[req.Method]
		e.mu.Unlock()

		if handler == nil {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"jsonrpc": "2.0", "id": req.ID,
				"error": map[string]interface{}{"code": -32601, "message": "method not found"},
			})
			return
		}
		result, status := handler(req.Params)
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
	t.Cleanup(srv.Close)
	return e, srv
}

func (e *fakeEngine) handle(method string, h func([]json.RawMessage) (interface{}, int)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[method] = h
}

func (e *fakeEngine) count(method string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[method]
}

func newTestClient(t *testing.T, url string) *Client {
	c, err := NewClient(context.Background(), Config{
		URL:         url,
		AuthUUID:    "test-uuid",
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
	}, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestSendBundle(t *testing.T) {
	engine, srv := newFakeEngine(t)
	var gotTxs []string
	var gotOpts map[string]string
	engine.handle(methodSendBundle, func(params []json.RawMessage) (interface{}, int) {
		require.Len(t, params, 2)
		require.NoError(t, json.Unmarshal(params[0], &gotTxs))
		require.NoError(t, json.Unmarshal(params[1], &gotOpts))
		return "bundle-123", http.StatusOK
	})
	c := newTestClient(t, srv.URL)

	id, err := c.SendBundle(context.Background(), [][]byte{[]byte("tx-one"), []byte("tx-two")})
	require.NoError(t, err)
	assert.Equal(t, "bundle-123", id)
	assert.Equal(t, []string{
		base64.StdEncoding.EncodeToString([]byte("tx-one")),
		base64.StdEncoding.EncodeToString([]byte("tx-two")),
	}, gotTxs)
	assert.Equal(t, map[string]string{"encoding": "base64"}, gotOpts)
	assert.Equal(t, "test-uuid", engine.headers.Get(authHeader))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.requests.WithLabelValues(methodSendBundle, "ok")))

	t.Run("RejectsOversizedBundle", func(t *testing.T) {
		txs := make([][]byte, types.MaxBundleTransactions+1)
		_, err := c.SendBundle(context.Background(), txs)
		assert.True(t, types.IsValidation(err))
	})
}

func TestSendBundleRetries(t *testing.T) {
	t.Run("RetriesTooManyRequests", func(t *testing.T) {
		engine, srv := newFakeEngine(t)
		attempts := 0
		engine.handle(methodSendBundle, func([]json.RawMessage) (interface{}, int) {
			attempts++
			if attempts == 1 {
				return nil, http.StatusTooManyRequests
			}
			return "bundle-after-retry", http.StatusOK
		})
		c := newTestClient(t, srv.URL)

		id, err := c.SendBundle(context.Background(), [][]byte{[]byte("tx")})
		require.NoError(t, err)
		assert.Equal(t, "bundle-after-retry", id)
		assert.Equal(t, 2, engine.count(methodSendBundle))
		assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.retries))
	})

	t.Run("DefaultBackoffDoubles", func(t *testing.T) {
		engine, srv := newFakeEngine(t)
		engine.handle(methodSendBundle, func([]json.RawMessage) (interface{}, int) {
			return nil, http.StatusServiceUnavailable
		})
		c, err := NewClient(context.Background(), Config{URL: srv.URL}, zaptest.NewLogger(t), nil)
		require.NoError(t, err)
		t.Cleanup(c.Close)

		var delays []time.Duration
		c.sleep = func(ctx context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		}

		_, err = c.SendBundle(context.Background(), [][]byte{[]byte("tx")})
		require.ErrorIs(t, err, types.ErrSubmission)
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
		assert.Equal(t, 3, engine.count(methodSendBundle))
	})

	t.Run("ClientErrorIsTerminal", func(t *testing.T) {
		engine, srv := newFakeEngine(t)
		engine.handle(methodSendBundle, func([]json.RawMessage) (interface{}, int) {
			return nil, http.StatusBadRequest
		})
		c := newTestClient(t, srv.URL)

		_, err := c.SendBundle(context.Background(), [][]byte{[]byte("tx")})
		require.ErrorIs(t, err, types.ErrSubmission)

		var subErr *types.SubmissionError
		require.True(t, errors.As(err, &subErr))
		assert.Equal(t, http.StatusBadRequest, subErr.StatusCode)
		assert.Equal(t, 1, subErr.Attempts)
		assert.False(t, subErr.Retryable)
		assert.Equal(t, 1, engine.count(methodSendBundle))
	})

	t.Run("ServerErrorExhaustsAttempts", func(t *testing.T) {
		engine, srv := newFakeEngine(t)
		engine.handle(methodSendBundle, func([]json.RawMessage) (interface{}, int) {
			return nil, http.StatusBadGateway
		})
		c := newTestClient(t, srv.URL)

		_, err := c.SendBundle(context.Background(), [][]byte{[]byte("tx")})
		var subErr *types.SubmissionError
		require.True(t, errors.As(err, &subErr))
		assert.Equal(t, 3, subErr.Attempts)
		assert.True(t, subErr.Retryable)
		assert.Equal(t, 3, engine.count(methodSendBundle))
	})
}

func TestGetBundleStatus(t *testing.T) {
	tests := []struct {
		name     string
		landed   interface{}
		inflight interface{}
		want     types.BundleState
		wantSlot uint64
	}{
		{
			name: "Confirmed",
			landed: map[string]interface{}{"value": []interface{}{map[string]interface{}{
				"bundle_id": "b", "slot": 42, "confirmation_status": "confirmed", "err": map[string]interface{}{"Ok": nil},
			}}},
			want:     types.BundleLanded,
			wantSlot: 42,
		},
		{
			name: "LandedWithError",
			landed: map[string]interface{}{"value": []interface{}{map[string]interface{}{
				"bundle_id": "b", "slot": 42, "confirmation_status": "processed", "err": map[string]interface{}{"Err": "custom"},
			}}},
			want:     types.BundleFailed,
			wantSlot: 42,
		},
		{
			name:     "InflightLanded",
			landed:   map[string]interface{}{"value": []interface{}{nil}},
			inflight: map[string]interface{}{"value": []interface{}{map[string]interface{}{"bundle_id": "b", "status": "Landed", "landed_slot": 77}}},
			want:     types.BundleLanded,
			wantSlot: 77,
		},
		{
			name:     "InflightInvalid",
			landed:   map[string]interface{}{"value": []interface{}{}},
			inflight: map[string]interface{}{"value": []interface{}{map[string]interface{}{"bundle_id": "b", "status": "Invalid"}}},
			want:     types.BundleDropped,
		},
		{
			name:     "InflightFailed",
			landed:   map[string]interface{}{"value": []interface{}{}},
			inflight: map[string]interface{}{"value": []interface{}{map[string]interface{}{"bundle_id": "b", "status": "Failed"}}},
			want:     types.BundleFailed,
		},
		{
			name:     "Pending",
			landed:   map[string]interface{}{"value": []interface{}{}},
			inflight: map[string]interface{}{"value": []interface{}{map[string]interface{}{"bundle_id": "b", "status": "Pending"}}},
			want:     types.BundlePending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, srv := newFakeEngine(t)
			engine.handle(methodGetBundleStatuses, func([]json.RawMessage) (interface{}, int) { return tt.landed, http.StatusOK })
			engine.handle(methodGetInflightBundleStatuses, func([]json.RawMessage) (interface{}, int) { return tt.inflight, http.StatusOK })
			c := newTestClient(t, srv.URL)

			status, err := c.GetBundleStatus(context.Background(), "b")
			require.NoError(t, err)
			assert.Equal(t, tt.want, status.State)
			assert.Equal(t, tt.wantSlot, status.Slot)
			assert.Equal(t, "relay", status.Via)
		})
	}
}

func TestGetTipAccounts(t *testing.T) {
	engine, srv := newFakeEngine(t)
	engine.handle(methodGetTipAccounts, func([]json.RawMessage) (interface{}, int) {
		return []string{DefaultTipAccounts[0].String(), DefaultTipAccounts[1].String()}, http.StatusOK
	})
	c := newTestClient(t, srv.URL)

	accounts, err := c.GetTipAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []solana.PublicKey{DefaultTipAccounts[0], DefaultTipAccounts[1]}, accounts)
}

func TestClientHonoursCancellation(t *testing.T) {
	engine, srv := newFakeEngine(t)
	engine.handle(methodSendBundle, func([]json.RawMessage) (interface{}, int) {
		return nil, http.StatusServiceUnavailable
	})
	c, err := NewClient(context.Background(), Config{URL: srv.URL, MaxAttempts: 10, BackoffBase: time.Second}, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.SendBundle(ctx, [][]byte{[]byte("tx")})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
