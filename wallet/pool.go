package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/solarb/types"
)

// Locker extends signer exclusivity across processes.
// Acquire returns types.ErrSignerBusy when another holder owns key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// Lease grants exclusive use of one signer until Release
type Lease struct {
	Signer     solana.PrivateKey
	Token      string
	AcquiredAt time.Time

	once    sync.Once
	release func()
}

func (l *Lease) PublicKey() solana.PublicKey {
	return l.Signer.PublicKey()
}

// Release returns the signer to the pool. Safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(l.release)
}

// Pool hands out signers so that no two plans ever share one
type Pool struct {
	mu      sync.Mutex
	signers []solana.PrivateKey
	leased  map[solana.PublicKey]string
	next    int

	locker  Locker
	ttl     time.Duration
	logger  *zap.Logger
	metrics struct {
		leased   prometheus.Gauge
		acquired prometheus.Counter
		busy     prometheus.Counter
	}
}

// NewPool creates a signer pool. locker may be nil for single-process use.
func NewPool(signers []solana.PrivateKey, locker Locker, ttl time.Duration, logger *zap.Logger, reg prometheus.Registerer) (*Pool, error) {
	seen := make(map[solana.PublicKey]bool, len(signers))
	var unique []solana.PrivateKey
	for _, s := range signers {
		pk := s.PublicKey()
		if seen[pk] {
			logger.Warn("Ignoring duplicate signer", zap.Stringer("signer", pk))
			continue
		}
		seen[pk] = true
		unique = append(unique, s)
	}
	if len(unique) == 0 {
		return nil, errors.New("signer pool needs at least one key")
	}
	if ttl <= 0 {
		ttl = time.Minute
	}

	p := &Pool{
		signers: unique,
		leased:  make(map[solana.PublicKey]string, len(unique)),
		locker:  locker,
		ttl:     ttl,
		logger:  logger,
	}
	factory := promauto.With(reg)
	p.metrics.leased = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "solarb",
		Name:      "wallet_signers_leased",
		Help:      "Signers currently leased to an execution plan",
	})
	p.metrics.acquired = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "solarb",
		Name:      "wallet_leases_total",
		Help:      "Signer leases granted",
	})
	p.metrics.busy = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "solarb",
		Name:      "wallet_busy_total",
		Help:      "Lease requests refused because every signer was in use",
	})
	return p, nil
}

// Acquire leases the next free signer, rotating through the pool.
// It returns types.ErrSignerBusy when every signer is leased here or held elsewhere.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < len(p.signers); i++ {
		idx := (p.next + i) % len(p.signers)
		signer := p.signers[idx]
		pk := signer.PublicKey()
		if _, busy := p.leased[pk]; busy {
			continue
		}

		unlock := func() {}
		if p.locker != nil {
			u, err := p.locker.Acquire(ctx, pk.String(), p.ttl)
			if errors.Is(err, types.ErrSignerBusy) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("failed to lock signer %s: %w", pk, err)
			}
			unlock = u
		}

		token := uuid.NewString()
		p.leased[pk] = token
		p.next = idx + 1
		p.metrics.leased.Inc()
		p.metrics.acquired.Inc()

		lease := &Lease{Signer: signer, Token: token, AcquiredAt: time.Now()}
		lease.release = func() {
			unlock()
			p.mu.Lock()
			if p.leased[pk] == token {
				delete(p.leased, pk)
				p.metrics.leased.Dec()
			}
			p.mu.Unlock()
		}
		return lease, nil
	}

	p.metrics.busy.Inc()
	return nil, types.ErrSignerBusy
}

// Size returns the number of distinct signers
func (p *Pool) Size() int {
	return len(p.signers)
}

// Available returns the number of signers not leased by this process
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.signers) - len(p.leased)
}

// PublicKeys lists the pool's signer addresses in rotation order
func (p *Pool) PublicKeys() []solana.PublicKey {
	keys := make([]solana.PublicKey, len(p.signers))
	for i, s := range p.signers {
		keys[i] = s.PublicKey()
	}
	return keys
}
