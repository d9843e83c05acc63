package dex

import (
	"bytes"
	"sort"

	"github.com/gagliardetto/solana-go"

	"github.com/michaelpento.lv/solarb/types"
)

// Graph is an immutable token adjacency built from one pool snapshot.
// Tokens are nodes and every pool is an edge in both directions.
type Graph struct {
	edges  map[solana.PublicKey]map[solana.PublicKey][]*types.PoolState
	tokens map[solana.PublicKey]*types.TokenInfo
	// neighbors caches a deterministic neighbor order per token
	neighbors map[solana.PublicKey][]solana.PublicKey
	byID      map[string]*types.PoolState
	skipped   int
}

// NewGraph builds a graph, skipping pools with a zero reserve on either side
// and repeated pool ids.
func NewGraph(pools []*types.PoolState) *Graph {
	g := &Graph{
		edges:     make(map[solana.PublicKey]map[solana.PublicKey][]*types.PoolState),
		tokens:    make(map[solana.PublicKey]*types.TokenInfo),
		neighbors: make(map[solana.PublicKey][]solana.PublicKey),
		byID:      make(map[string]*types.PoolState, len(pools)),
	}

	for _, p := range pools {
		if p == nil || p.TokenA == nil || p.TokenB == nil || !p.HasLiquidity() {
			g.skipped++
			continue
		}
		if _, dup := g.byID[p.ID]; dup {
			g.skipped++
			continue
		}

		// Copy so later collector updates never reach this snapshot
		pool := *p
		g.byID[pool.ID] = &pool
		g.addEdge(pool.TokenA, pool.TokenB, &pool)
		g.addEdge(pool.TokenB, pool.TokenA, &pool)
	}

	for mint, adj := range g.edges {
		list := make([]solana.PublicKey, 0, len(adj))
		for other := range adj {
			list = append(list, other)
		}
		sort.Slice(list, func(i, j int) bool {
			return bytes.Compare(list[i][:], list[j][:]) < 0
		})
		g.neighbors[mint] = list
	}

	return g
}

func (g *Graph) addEdge(from, to *types.TokenInfo, pool *types.PoolState) {
	g.tokens[from.Mint] = from
	g.tokens[to.Mint] = to
	adj, ok := g.edges[from.Mint]
	if !ok {
		adj = make(map[solana.PublicKey][]*types.PoolState)
		g.edges[from.Mint] = adj
	}
	adj[to.Mint] = append(adj[to.Mint], pool)
}

// Neighbors returns tokens directly tradeable against mint, in a stable order
func (g *Graph) Neighbors(mint solana.PublicKey) []solana.PublicKey {
	return g.neighbors[mint]
}

// Pools returns the pools trading a against b
func (g *Graph) Pools(a, b solana.PublicKey) []*types.PoolState {
	adj, ok := g.edges[a]
	if !ok {
		return nil
	}
	pools := adj[b]
	out := make([]*types.PoolState, len(pools))
	copy(out, pools)
	return out
}

// Token looks up token metadata by mint
func (g *Graph) Token(mint solana.PublicKey) (*types.TokenInfo, bool) {
	t, ok := g.tokens[mint]
	return t, ok
}

// Pool finds a pool by id
func (g *Graph) Pool(id string) (*types.PoolState, bool) {
	p, ok := g.byID[id]
	return p, ok
}

// PoolCount returns the number of pools admitted into the graph
func (g *Graph) PoolCount() int { return len(g.byID) }

// TokenCount returns the number of distinct tokens
func (g *Graph) TokenCount() int { return len(g.tokens) }

// Skipped returns how many input pools were rejected
func (g *Graph) Skipped() int { return g.skipped }

// All returns every admitted pool ordered by id
func (g *Graph) All() []*types.PoolState {
	out := make([]*types.PoolState, 0, len(g.byID))
	for _, p := range g.byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
