package trace

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func newTestStore() *Store {
	return NewStore(slog.Default())
}

func TestStore_RecordAndForMission(t *testing.T) {
	s := newTestStore()
	now := time.Now()

	s.Record(Event{MissionID: "m-1", Kind: "CLAIMED", At: now})
	s.Record(Event{MissionID: "m-1", Kind: "COMPLETED", At: now.Add(time.Second)})
	s.Record(Event{MissionID: "m-2", Kind: "CLAIMED", At: now})

	events := s.ForMission("m-1")
	if len(events) != 2 {
		t.Fatalf("ForMission(m-1) returned %d events, want 2", len(events))
	}
	if events[0].Kind != "CLAIMED" || events[1].Kind != "COMPLETED" {
		t.Errorf("ForMission(m-1) out of order: %+v", events)
	}

	if got := s.ForMission("unknown"); len(got) != 0 {
		t.Errorf("ForMission(unknown) = %v, want empty", got)
	}
}

func TestStore_RecordWithoutMissionID(t *testing.T) {
	s := newTestStore()
	s.Record(Event{Kind: "HEARTBEAT", At: time.Now()})

	all := s.List(10)
	if len(all) != 1 {
		t.Fatalf("List() returned %d events, want 1", len(all))
	}
	if all[0].Kind != "HEARTBEAT" {
		t.Errorf("List()[0].Kind = %q, want HEARTBEAT", all[0].Kind)
	}
}

func TestStore_List_NewestLastAndLimit(t *testing.T) {
	s := newTestStore()
	now := time.Now()
	for i := 0; i < 5; i++ {
		s.Record(Event{Kind: "TICK", At: now.Add(time.Duration(i) * time.Second)})
	}

	all := s.List(0)
	if len(all) != 5 {
		t.Fatalf("List(0) returned %d, want 5 (all)", len(all))
	}

	limited := s.List(2)
	if len(limited) != 2 {
		t.Fatalf("List(2) returned %d, want 2", len(limited))
	}
	if !limited[1].At.Equal(all[4].At) {
		t.Error("List(2) should return the most recent events")
	}
}

func TestStore_PerMissionCap(t *testing.T) {
	s := newTestStore()
	now := time.Now()
	for i := 0; i < maxEventsPerMission+10; i++ {
		s.Record(Event{MissionID: "m-1", Kind: "TICK", At: now})
	}
	events := s.ForMission("m-1")
	if len(events) != maxEventsPerMission {
		t.Errorf("ForMission(m-1) len = %d, want cap %d", len(events), maxEventsPerMission)
	}
}

func TestPublisher_NilClientIsNoop(t *testing.T) {
	p := NewPublisher(nil, slog.Default())
	p.Publish(context.Background(), Event{Kind: "CLAIMED"})
}

func TestPublisher_NilReceiverIsNoop(t *testing.T) {
	var p *Publisher
	p.Publish(context.Background(), Event{Kind: "CLAIMED"})
}

func TestSubscriber_NilClientBlocksUntilCancelled(t *testing.T) {
	sub := NewSubscriber(nil, newTestStore(), slog.Default())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}
