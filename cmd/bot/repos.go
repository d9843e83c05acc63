package bot

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/michaelpento.lv/solarb/types"
)

// AgentRegistry holds the agents of one bot run
type AgentRegistry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{agents: make(map[string]*Agent)}
}

func (r *AgentRegistry) Add(a *Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[a.Name]; exists {
		return fmt.Errorf("agent %q already registered", a.Name)
	}
	r.agents[a.Name] = a
	return nil
}

func (r *AgentRegistry) Get(name string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	return a, ok
}

// List returns agents ordered by name
func (r *AgentRegistry) List() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Outcome states beyond the bundle lifecycle
const (
	OutcomeSkipped   = "skipped"
	OutcomeAbandoned = "abandoned"
	OutcomeDryRun    = "dry-run"
	OutcomeError     = "error"
)

// Outcome is the final record of one execution attempt
type Outcome struct {
	PlanID         string
	Agent          string
	OpportunityKey string
	// State is a bundle state or one of the Outcome* constants
	State         string
	Reason        string
	UsedFlashLoan bool
	NetProfit     decimal.Decimal
	TipLamports   uint64
	Slot          uint64
	At            time.Time
}

// Landed reports whether the bundle made it on chain
func (o Outcome) Landed() bool {
	return o.State == string(types.BundleLanded)
}

// OutcomeStore keeps the most recent outcomes in memory
type OutcomeStore struct {
	mu     sync.Mutex
	limit  int
	items  []Outcome
	counts map[string]int
}

func NewOutcomeStore(limit int) *OutcomeStore {
	if limit <= 0 {
		limit = 1000
	}
	return &OutcomeStore{limit: limit, counts: make(map[string]int)}
}

func (s *OutcomeStore) Record(o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.At.IsZero() {
		o.At = time.Now()
	}
	s.items = append(s.items, o)
	if len(s.items) > s.limit {
		s.items = s.items[len(s.items)-s.limit:]
	}
	s.counts[o.State]++
}

// Recent returns up to n outcomes, newest first
func (s *OutcomeStore) Recent(n int) []Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.items) {
		n = len(s.items)
	}
	out := make([]Outcome, 0, n)
	for i := len(s.items) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.items[i])
	}
	return out
}

// Counts returns lifetime totals per state
func (s *OutcomeStore) Counts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}
