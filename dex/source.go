package dex

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/michaelpento.lv/solarb/types"
)

// Snapshot is one consistent view of pool state from the collector
type Snapshot struct {
	Pools    []*types.PoolState
	TakenAt  time.Time
	Rejected int
}

// Age returns how old the snapshot is relative to now
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.TakenAt)
}

// SnapshotSource supplies pool snapshots from the external collector
type SnapshotSource interface {
	Fetch(ctx context.Context) (*Snapshot, error)
}

func buildSnapshot(data []byte, logger *zap.Logger) (*Snapshot, error) {
	snaps, err := types.DecodeSnapshots(data)
	if err != nil {
		return nil, err
	}
	pools, rejected := types.BuildPools(snaps)
	for _, err := range rejected {
		logger.Debug("Skipping invalid pool snapshot", zap.Error(err))
	}
	return &Snapshot{
		Pools:    pools,
		TakenAt:  time.Now(),
		Rejected: len(rejected),
	}, nil
}

// DefaultMaxSnapshotBytes caps a collector response
const DefaultMaxSnapshotBytes = 64 << 20

// HTTPSource fetches a JSON array of pool snapshots from a collector endpoint
type HTTPSource struct {
	url        string
	httpClient *http.Client
	maxBytes   int64
	logger     *zap.Logger
}

// NewHTTPSource creates a collector client. Responses larger than maxBytes are
// rejected; zero selects DefaultMaxSnapshotBytes.
func NewHTTPSource(url string, timeout time.Duration, maxBytes int64, logger *zap.Logger) *HTTPSource {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxSnapshotBytes
	}
	return &HTTPSource{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		maxBytes:   maxBytes,
		logger:     logger,
	}
}

// Fetch implements SnapshotSource
func (s *HTTPSource) Fetch(ctx context.Context) (*Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("collector returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if int64(len(body)) > s.maxBytes {
		return nil, fmt.Errorf("snapshot exceeds %d bytes", s.maxBytes)
	}
	return buildSnapshot(body, s.logger)
}

// FileSource reads snapshots from a JSON file on every fetch
type FileSource struct {
	path   string
	logger *zap.Logger
}

// NewFileSource creates a file-backed source
func NewFileSource(path string, logger *zap.Logger) *FileSource {
	return &FileSource{path: path, logger: logger}
}

// Fetch implements SnapshotSource
func (s *FileSource) Fetch(ctx context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}
	return buildSnapshot(data, s.logger)
}

// StaticSource always returns the same pools
type StaticSource struct {
	Pools []*types.PoolState
}

// Fetch implements SnapshotSource
func (s *StaticSource) Fetch(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Snapshot{Pools: s.Pools, TakenAt: time.Now()}, nil
}
