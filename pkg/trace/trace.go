// Package trace is a peripheral, non-authoritative observability store: an
// in-memory map fed by events received over Redis pub/sub and by
// POST /traces. It never participates in the Mission Control Plane's
// invariants and is rebuilt empty on every restart.
package trace

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Channel is the Redis pub/sub channel mission/command lifecycle events
// are published on.
const Channel = "kernel:events"

// Event is one observed lifecycle transition.
type Event struct {
	MissionID string          `json:"missionId,omitempty"`
	Kind      string          `json:"kind"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	At        time.Time       `json:"at"`
}

// maxEventsPerMission bounds per-mission memory; older events are dropped.
const maxEventsPerMission = 200

// Store is a process-lifetime, in-memory trace store.
type Store struct {
	mu     sync.RWMutex
	byID   map[string][]Event
	recent []Event

	logger *slog.Logger
}

// NewStore builds an empty Store.
func NewStore(logger *slog.Logger) *Store {
	return &Store{
		byID:   make(map[string][]Event),
		logger: logger,
	}
}

// Record appends ev to the store, used both by the Redis subscriber and
// directly by POST /traces.
func (s *Store) Record(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.MissionID != "" {
		events := append(s.byID[ev.MissionID], ev)
		if len(events) > maxEventsPerMission {
			events = events[len(events)-maxEventsPerMission:]
		}
		s.byID[ev.MissionID] = events
	}

	s.recent = append(s.recent, ev)
	if len(s.recent) > maxEventsPerMission*4 {
		s.recent = s.recent[len(s.recent)-maxEventsPerMission*4:]
	}
}

// List returns the most recent events across all missions, newest last.
func (s *Store) List(limit int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.recent) {
		limit = len(s.recent)
	}
	out := make([]Event, limit)
	copy(out, s.recent[len(s.recent)-limit:])
	return out
}

// ForMission returns the recorded events for a single mission, oldest first.
func (s *Store) ForMission(missionID string) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.byID[missionID]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// Publisher publishes lifecycle events for the trace store to consume.
// The mission and command packages do not hold or call one; their
// transitions are not published. A nil Publisher is a no-op.
type Publisher struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewPublisher builds a Publisher over an already-connected Redis client.
// rdb may be nil, in which case Publish is a no-op.
func NewPublisher(rdb *redis.Client, logger *slog.Logger) *Publisher {
	return &Publisher{rdb: rdb, logger: logger}
}

// Publish fires ev to the Redis channel, best-effort.
func (p *Publisher) Publish(ctx context.Context, ev Event) {
	if p == nil || p.rdb == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("marshalling trace event", "error", err)
		return
	}
	if err := p.rdb.Publish(ctx, Channel, payload).Err(); err != nil {
		p.logger.Warn("publishing trace event", "error", err)
	}
}

// Subscriber drains Channel into a Store. Run blocks until ctx is cancelled,
// matching the escalation-style background loop of the rest of the plane.
type Subscriber struct {
	rdb    *redis.Client
	store  *Store
	logger *slog.Logger
}

// NewSubscriber builds a Subscriber.
func NewSubscriber(rdb *redis.Client, store *Store, logger *slog.Logger) *Subscriber {
	return &Subscriber{rdb: rdb, store: store, logger: logger}
}

// Run subscribes to Channel and records every event until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	if s.rdb == nil {
		<-ctx.Done()
		return nil
	}

	s.logger.Info("trace subscriber started", "channel", Channel)
	pubsub := s.rdb.Subscribe(ctx, Channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("trace subscriber stopped")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				s.logger.Warn("discarding malformed trace event", "error", err)
				continue
			}
			s.store.Record(ev)
		}
	}
}
