package signals

import (
	"math"
	"time"

	cosmath "cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/michaelpento.lv/solarb/types"
)

// Peg is the fair exchange rate of a liquid staking token in its underlying
type Peg struct {
	Derivative solana.PublicKey
	Underlying solana.PublicKey
	FairRate   float64
}

type DetectorConfig struct {
	// LargeSwapThreshold is the input-side reserve increase, in token units, that counts as a large swap; 0 disables
	LargeSwapThreshold float64
	// PegDeviationPercent is the deviation from the fair rate that raises an event; 0 disables
	PegDeviationPercent float64
	Pegs                []Peg
}

// Detector compares successive snapshots. The first snapshot only primes it.
type Detector struct {
	cfg      DetectorConfig
	prev     map[string]*types.PoolState
	deviated map[string]bool
	primed   bool
}

func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{
		cfg:      cfg,
		prev:     make(map[string]*types.PoolState),
		deviated: make(map[string]bool),
	}
}

// Observe returns the events implied by moving from the previous snapshot to pools
func (d *Detector) Observe(pools []*types.PoolState, at time.Time) []Event {
	next := make(map[string]*types.PoolState, len(pools))
	var events []Event

	for _, p := range pools {
		next[p.ID] = p
		prev, seen := d.prev[p.ID]
		switch {
		case !seen && d.primed:
			events = append(events, Event{Kind: KindNewPool, PoolID: p.ID, Mint: p.TokenA.Mint, At: at})
		case seen:
			if ev, ok := d.largeSwap(prev, p, at); ok {
				events = append(events, ev)
			}
		}
		if ev, ok := d.pegDeviation(p, at); ok {
			events = append(events, ev)
		}
	}

	d.prev = next
	d.primed = true
	return events
}

// largeSwap infers a swap from one reserve rising while the other falls
func (d *Detector) largeSwap(prev, cur *types.PoolState, at time.Time) (Event, bool) {
	if d.cfg.LargeSwapThreshold <= 0 {
		return Event{}, false
	}
	dA := cur.ReserveA.Sub(prev.ReserveA)
	dB := cur.ReserveB.Sub(prev.ReserveB)

	var (
		in    cosmath.Int
		token *types.TokenInfo
	)
	switch {
	case dA.IsPositive() && dB.IsNegative():
		in, token = dA, cur.TokenA
	case dB.IsPositive() && dA.IsNegative():
		in, token = dB, cur.TokenB
	default:
		return Event{}, false
	}

	amount, _ := decimal.NewFromBigInt(in.BigInt(), -int32(token.Decimals)).Float64()
	if amount < d.cfg.LargeSwapThreshold {
		return Event{}, false
	}
	return Event{Kind: KindLargeSwap, PoolID: cur.ID, Mint: token.Mint, Magnitude: amount, At: at}, true
}

// pegDeviation fires once when a pool's derivative price leaves the band and re-arms when it returns
func (d *Detector) pegDeviation(p *types.PoolState, at time.Time) (Event, bool) {
	if d.cfg.PegDeviationPercent <= 0 {
		return Event{}, false
	}
	for _, peg := range d.cfg.Pegs {
		if peg.FairRate <= 0 || !p.Contains(peg.Derivative) || !p.Contains(peg.Underlying) {
			continue
		}
		price := p.PriceOf(peg.Derivative)
		if price == 0 {
			return Event{}, false
		}
		deviation := math.Abs(price-peg.FairRate) / peg.FairRate * 100
		if deviation < d.cfg.PegDeviationPercent {
			delete(d.deviated, p.ID)
			return Event{}, false
		}
		if d.deviated[p.ID] {
			return Event{}, false
		}
		d.deviated[p.ID] = true
		return Event{Kind: KindPegDeviation, PoolID: p.ID, Mint: peg.Derivative, Magnitude: deviation, At: at}, true
	}
	return Event{}, false
}
