package signals

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/gagliardetto/solana-go"

	"github.com/michaelpento.lv/solarb/types"
)

// Kind classifies market events
type Kind string

const (
	KindNewPool      Kind = "new-pool"
	KindLargeSwap    Kind = "large-swap"
	KindPegDeviation Kind = "peg-deviation"
)

// Kinds lists every event kind
var Kinds = []Kind{KindNewPool, KindLargeSwap, KindPegDeviation}

func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", types.NewValidationError("kind", fmt.Sprintf("unknown event kind %q", s))
}

// Subscription is the explicit unsubscribe token returned by Monitor.Subscribe
type Subscription = event.Subscription

// Event is a market observation that may warrant an out-of-cycle scan
type Event struct {
	Kind   Kind
	PoolID string
	// Mint is the token that moved: the new pool's first token, the swap's input token or the derivative
	Mint solana.PublicKey
	// Magnitude is in token units for large swaps and percent for peg deviations
	Magnitude float64
	Source    string
	At        time.Time
}

type wireEvent struct {
	Kind      string    `json:"kind"`
	PoolID    string    `json:"poolId"`
	Mint      string    `json:"mint,omitempty"`
	Magnitude float64   `json:"magnitude"`
	At        time.Time `json:"at"`
}

// DecodeEvent parses the JSON form pushed by external event feeds
func DecodeEvent(data []byte, source string) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, types.NewValidationError("event", err.Error())
	}
	kind, err := ParseKind(w.Kind)
	if err != nil {
		return Event{}, err
	}
	ev := Event{
		Kind:      kind,
		PoolID:    w.PoolID,
		Magnitude: w.Magnitude,
		Source:    source,
		At:        w.At,
	}
	if w.Mint != "" {
		if ev.Mint, err = solana.PublicKeyFromBase58(w.Mint); err != nil {
			return Event{}, types.NewValidationError("mint", err.Error())
		}
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	return ev, nil
}

// EncodeEvent renders ev in the form DecodeEvent accepts
func EncodeEvent(ev Event) ([]byte, error) {
	w := wireEvent{
		Kind:      string(ev.Kind),
		PoolID:    ev.PoolID,
		Magnitude: ev.Magnitude,
		At:        ev.At,
	}
	if !ev.Mint.IsZero() {
		w.Mint = ev.Mint.String()
	}
	return json.Marshal(w)
}
