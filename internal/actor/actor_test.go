package actor

import (
	"context"
	"testing"
)

func TestSystem(t *testing.T) {
	s := System()
	if s.Kind != KindSystem {
		t.Errorf("System().Kind = %q, want %q", s.Kind, KindSystem)
	}
	if s.ID == "" {
		t.Error("System().ID should not be empty")
	}
}

func TestActorContext(t *testing.T) {
	ctx := NewContext(context.Background(), Actor{Kind: KindUser, ID: "u1"})

	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("expected an actor in context")
	}
	if got.Kind != KindUser || got.ID != "u1" {
		t.Errorf("FromContext() = %+v", got)
	}
}

func TestActorContext_Unset(t *testing.T) {
	_, ok := FromContext(context.Background())
	if ok {
		t.Error("expected no actor in an empty context")
	}
}
