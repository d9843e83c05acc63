package wallet

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/solarb/types"
)

func newKeys(t *testing.T, n int) []solana.PrivateKey {
	t.Helper()
	keys := make([]solana.PrivateKey, n)
	for i := range keys {
		k, err := solana.NewRandomPrivateKey()
		require.NoError(t, err)
		keys[i] = k
	}
	return keys
}

func TestPoolExclusiveLeases(t *testing.T) {
	keys := newKeys(t, 2)
	pool, err := NewPool(append(keys, keys[0]), nil, 0, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, pool.Size(), "duplicates collapse")

	a, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	b, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, a.PublicKey(), b.PublicKey())
	assert.NotEqual(t, a.Token, b.Token)

	_, err = pool.Acquire(context.Background())
	assert.ErrorIs(t, err, types.ErrSignerBusy)
	assert.Equal(t, float64(1), testutil.ToFloat64(pool.metrics.busy))
	assert.Equal(t, float64(2), testutil.ToFloat64(pool.metrics.leased))

	a.Release()
	a.Release()
	assert.Equal(t, 1, pool.Available())

	c, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, a.PublicKey(), c.PublicKey())
	assert.Equal(t, 0, pool.Available())
}

func TestPoolRejectsEmpty(t *testing.T) {
	_, err := NewPool(nil, nil, 0, zaptest.NewLogger(t), nil)
	assert.Error(t, err)
}

func TestPoolConcurrentLeasesNeverShare(t *testing.T) {
	pool, err := NewPool(newKeys(t, 3), nil, 0, zaptest.NewLogger(t), nil)
	require.NoError(t, err)

	var (
		mu     sync.Mutex
		inUse  = map[solana.PublicKey]bool{}
		shared bool
		wg     sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				lease, err := pool.Acquire(context.Background())
				if err != nil {
					continue
				}
				pk := lease.PublicKey()
				mu.Lock()
				if inUse[pk] {
					shared = true
				}
				inUse[pk] = true
				mu.Unlock()

				time.Sleep(time.Microsecond)

				mu.Lock()
				inUse[pk] = false
				mu.Unlock()
				lease.Release()
			}
		}()
	}
	wg.Wait()
	assert.False(t, shared)
	assert.Equal(t, 3, pool.Available())
}

type fakeLocker struct {
	held     map[string]bool
	err      error
	released []string
}

func (l *fakeLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	if l.held[key] {
		return nil, types.ErrSignerBusy
	}
	return func() { l.released = append(l.released, key) }, nil
}

func TestPoolWithLocker(t *testing.T) {
	keys := newKeys(t, 2)

	t.Run("SkipsSignersHeldElsewhere", func(t *testing.T) {
		locker := &fakeLocker{held: map[string]bool{keys[0].PublicKey().String(): true}}
		pool, err := NewPool(keys, locker, time.Second, zaptest.NewLogger(t), nil)
		require.NoError(t, err)

		lease, err := pool.Acquire(context.Background())
		require.NoError(t, err)
		assert.Equal(t, keys[1].PublicKey(), lease.PublicKey())

		_, err = pool.Acquire(context.Background())
		assert.ErrorIs(t, err, types.ErrSignerBusy)

		lease.Release()
		assert.Equal(t, []string{keys[1].PublicKey().String()}, locker.released)
	})

	t.Run("LockerFailure", func(t *testing.T) {
		pool, err := NewPool(keys, &fakeLocker{err: errors.New("connection refused")}, time.Second, zaptest.NewLogger(t), nil)
		require.NoError(t, err)

		_, err = pool.Acquire(context.Background())
		require.Error(t, err)
		assert.NotErrorIs(t, err, types.ErrSignerBusy)
		assert.Equal(t, 2, pool.Available())
	})
}

func TestRedisLockerUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	_, err := NewRedisLocker(client).Acquire(context.Background(), "signer", time.Second)
	require.Error(t, err)
	assert.NotErrorIs(t, err, types.ErrSignerBusy)
}

func TestKeys(t *testing.T) {
	keys := newKeys(t, 2)

	t.Run("EncodeDecode", func(t *testing.T) {
		decoded, err := DecodeKey(EncodeKey(keys[0]))
		require.NoError(t, err)
		assert.Equal(t, keys[0].PublicKey(), decoded.PublicKey())
	})

	t.Run("ParseList", func(t *testing.T) {
		parsed, err := ParseKeys(EncodeKey(keys[0]) + ", ," + EncodeKey(keys[1]))
		require.NoError(t, err)
		require.Len(t, parsed, 2)
		assert.Equal(t, keys[1].PublicKey(), parsed[1].PublicKey())
	})

	t.Run("Invalid", func(t *testing.T) {
		_, err := DecodeKey("0OIl")
		assert.Error(t, err)
		_, err = DecodeKey(keys[0].PublicKey().String())
		assert.ErrorContains(t, err, "want 64")
	})

	t.Run("Files", func(t *testing.T) {
		dir := t.TempDir()
		b58 := filepath.Join(dir, "signer.txt")
		require.NoError(t, os.WriteFile(b58, []byte(EncodeKey(keys[0])+"\n"), 0o600))

		var ints []string
		for _, b := range keys[1] {
			ints = append(ints, strconv.Itoa(int(b)))
		}
		keygen := filepath.Join(dir, "id.json")
		require.NoError(t, os.WriteFile(keygen, []byte("["+strings.Join(ints, ",")+"]"), 0o600))

		t.Setenv("TEST_SOLARB_KEYS", EncodeKey(keys[0]))
		signers, err := LoadSigners([]string{b58, keygen}, "TEST_SOLARB_KEYS")
		require.NoError(t, err)
		require.Len(t, signers, 3)
		assert.Equal(t, keys[0].PublicKey(), signers[0].PublicKey())
		assert.Equal(t, keys[1].PublicKey(), signers[1].PublicKey())

		_, err = LoadSigners(nil, "TEST_SOLARB_UNSET")
		assert.ErrorContains(t, err, "no signers")
	})
}

type fakeBalances struct {
	native uint64
	tokens map[solana.PublicKey]uint64
}

func (f *fakeBalances) NativeBalance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	return f.native, nil
}

func (f *fakeBalances) TokenBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	v, ok := f.tokens[account]
	if !ok {
		return 0, errors.New("could not find account")
	}
	return v, nil
}

func TestCapitalAvailable(t *testing.T) {
	owner := newKeys(t, 1)[0].PublicKey()
	usdc := solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	bonk := solana.MustPublicKeyFromBase58("DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263")
	ata, _, err := solana.FindAssociatedTokenAddress(owner, usdc)
	require.NoError(t, err)

	capital := NewCapital(&fakeBalances{
		native: 2_000_000_000,
		tokens: map[solana.PublicKey]uint64{ata: 5_000_000},
	}, 10_000_000)

	tests := []struct {
		name string
		mint solana.PublicKey
		want uint64
	}{
		{"NativeMinusReserve", solana.SolMint, 1_990_000_000},
		{"TokenAccount", usdc, 5_000_000},
		{"MissingAccount", bonk, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := capital.Available(context.Background(), owner, tt.mint)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("ReserveExceedsBalance", func(t *testing.T) {
		poor := NewCapital(&fakeBalances{native: 1000}, 10_000_000)
		got, err := poor.Available(context.Background(), owner, solana.SolMint)
		require.NoError(t, err)
		assert.Zero(t, got)
	})
}
