package signals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/solarb/dex"
)

// PollingSource runs the detector over periodic collector snapshots
type PollingSource struct {
	snapshots dex.SnapshotSource
	detector  *Detector
	interval  time.Duration
	logger    *zap.Logger
}

func NewPollingSource(snapshots dex.SnapshotSource, detector *Detector, interval time.Duration, logger *zap.Logger) *PollingSource {
	if interval <= 0 {
		interval = time.Second
	}
	return &PollingSource{snapshots: snapshots, detector: detector, interval: interval, logger: logger}
}

func (s *PollingSource) Name() string { return "snapshot" }

func (s *PollingSource) Run(ctx context.Context, publish func(Event) bool) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		snap, err := s.snapshots.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to fetch snapshot: %w", err)
		}
		for _, ev := range s.detector.Observe(snap.Pools, snap.TakenAt) {
			ev.Source = s.Name()
			publish(ev)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// WebSocketSource reads JSON events from a websocket feed
type WebSocketSource struct {
	url    string
	dialer websocket.Dialer
	logger *zap.Logger
}

func NewWebSocketSource(url string, logger *zap.Logger) *WebSocketSource {
	return &WebSocketSource{
		url:    url,
		dialer: websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: logger,
	}
}

func (s *WebSocketSource) Name() string { return "websocket" }

func (s *WebSocketSource) Run(ctx context.Context, publish func(Event) bool) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("websocket read: %w", err)
		}
		ev, err := DecodeEvent(data, s.Name())
		if err != nil {
			s.logger.Debug("Skipping malformed websocket event", zap.Error(err))
			continue
		}
		publish(ev)
	}
}

// RedisSource reads JSON events from a Redis pub/sub channel
type RedisSource struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

func NewRedisSource(client *redis.Client, channel string, logger *zap.Logger) *RedisSource {
	return &RedisSource{client: client, channel: channel, logger: logger}
}

func (s *RedisSource) Name() string { return "redis" }

func (s *RedisSource) Run(ctx context.Context, publish func(Event) bool) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("redis: subscribe %s: %w", s.channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis: subscription closed")
			}
			ev, err := DecodeEvent([]byte(msg.Payload), s.Name())
			if err != nil {
				s.logger.Debug("Skipping malformed redis event", zap.Error(err))
				continue
			}
			publish(ev)
		}
	}
}
