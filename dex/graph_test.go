package dex

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	cosmath "cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/solarb/types"
	"github.com/michaelpento.lv/solarb/utils/testutils"
)

func TestNewGraph(t *testing.T) {
	sol := testutils.NewToken("SOL", 9)
	usdc := testutils.NewToken("USDC", 6)
	bonk := testutils.NewToken("BONK", 5)

	pools := []*types.PoolState{
		testutils.NewPool("a", types.DexOrca, sol, usdc, 1_000, 2_000, 30),
		testutils.NewPool("b", types.DexRaydiumAMM, usdc, sol, 3_000, 1_000, 25),
		testutils.NewPool("dead", types.DexMeteora, sol, bonk, 0, 5_000, 30),
		testutils.NewPool("a", types.DexOrca, sol, usdc, 9, 9, 30),
		nil,
	}

	g := NewGraph(pools)
	assert.Equal(t, 2, g.PoolCount())
	assert.Equal(t, 3, g.Skipped())
	assert.Equal(t, 2, g.TokenCount(), "tokens only reachable through skipped pools are absent")

	assert.Len(t, g.Pools(sol.Mint, usdc.Mint), 2)
	assert.Len(t, g.Pools(usdc.Mint, sol.Mint), 2, "edges are bidirectional")
	assert.Empty(t, g.Pools(sol.Mint, bonk.Mint))
	assert.Equal(t, []solana.PublicKey{usdc.Mint}, g.Neighbors(sol.Mint))

	p, ok := g.Pool("a")
	require.True(t, ok)
	assert.True(t, p.ReserveA.Equal(cosmath.NewInt(1_000)), "first occurrence wins")

	// Mutating the input after construction must not reach the graph
	pools[0].ReserveA = cosmath.NewInt(1)
	p, _ = g.Pool("a")
	assert.True(t, p.ReserveA.Equal(cosmath.NewInt(1_000)))

	all := g.All()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
}

func snapshotJSON(a, b string) string {
	return fmt.Sprintf(`[{"dex":"orca","tokenA":{"mint":%q,"decimals":9},"tokenB":{"mint":%q,"decimals":6},
		"reserves":{"a":"1000000000","b":"150000000"},"feeBps":30,"price":0.15},
		{"dex":"bogus","tokenA":{"mint":%q,"decimals":9},"tokenB":{"mint":%q,"decimals":6},
		"reserves":{"a":"1","b":"1"},"feeBps":30}]`, a, b, a, b)
}

func TestHTTPSource(t *testing.T) {
	body := snapshotJSON(solana.NewWallet().PublicKey().String(), solana.NewWallet().PublicKey().String())

	t.Run("Success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(body))
		}))
		defer server.Close()

		src := NewHTTPSource(server.URL, 0, 0, zaptest.NewLogger(t))
		snap, err := src.Fetch(context.Background())
		require.NoError(t, err)
		assert.Len(t, snap.Pools, 1)
		assert.Equal(t, 1, snap.Rejected)
		assert.False(t, snap.TakenAt.IsZero())
	})

	t.Run("ServerError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		src := NewHTTPSource(server.URL, 0, 0, zaptest.NewLogger(t))
		_, err := src.Fetch(context.Background())
		assert.Error(t, err)
	})

	t.Run("OversizedBody", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
		defer server.Close()

		src := NewHTTPSource(server.URL, 0, int64(len(body)-1), zaptest.NewLogger(t))
		_, err := src.Fetch(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds")

		exact := NewHTTPSource(server.URL, 0, int64(len(body)), zaptest.NewLogger(t))
		_, err = exact.Fetch(context.Background())
		assert.NoError(t, err)
	})
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pools.json")
	body := snapshotJSON(solana.NewWallet().PublicKey().String(), solana.NewWallet().PublicKey().String())
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	snap, err := NewFileSource(path, zaptest.NewLogger(t)).Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Pools, 1)

	_, err = NewFileSource(filepath.Join(t.TempDir(), "missing.json"), zaptest.NewLogger(t)).Fetch(context.Background())
	assert.Error(t, err)
}

func TestStaticSourceHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&StaticSource{}).Fetch(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
