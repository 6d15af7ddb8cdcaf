package registry

import (
	"errors"
	"testing"
	"time"
)

func TestRegisterAgent_UpsertPreservesRegisteredAt(t *testing.T) {
	r := New()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	first := r.RegisterAgent(Agent{Name: "scout-1", Kind: "worker"}, t0)
	if first.RegisteredAt != t0 || first.LastSeenAt != t0 {
		t.Fatalf("unexpected first registration: %+v", first)
	}

	second := r.RegisterAgent(Agent{Name: "scout-1", Kind: "worker", Goals: []string{"patrol"}}, t1)
	if second.RegisteredAt != t0 {
		t.Errorf("RegisteredAt should be preserved across re-registration, got %v", second.RegisteredAt)
	}
	if second.LastSeenAt != t1 {
		t.Errorf("LastSeenAt should refresh to %v, got %v", t1, second.LastSeenAt)
	}
}

func TestGetAgent_NotFound(t *testing.T) {
	r := New()
	_, err := r.GetAgent("ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListAgents_DeterministicOrder(t *testing.T) {
	r := New()
	now := time.Now()
	r.RegisterAgent(Agent{Name: "zed"}, now)
	r.RegisterAgent(Agent{Name: "anne"}, now)
	r.RegisterAgent(Agent{Name: "mike"}, now)

	got := r.ListAgents()
	want := []string{"anne", "mike", "zed"}
	if len(got) != len(want) {
		t.Fatalf("ListAgents() returned %d agents, want %d", len(got), len(want))
	}
	for i, name := range want {
		if got[i].Name != name {
			t.Errorf("ListAgents()[%d].Name = %q, want %q", i, got[i].Name, name)
		}
	}
}

func TestListTools_DeterministicOrder(t *testing.T) {
	r := New()
	now := time.Now()
	r.RegisterTool(Tool{Name: "grep"}, now)
	r.RegisterTool(Tool{Name: "compile"}, now)

	got := r.ListTools()
	if len(got) != 2 || got[0].Name != "compile" || got[1].Name != "grep" {
		t.Errorf("ListTools() = %+v, want sorted [compile grep]", got)
	}
}

func TestPolicyCheck(t *testing.T) {
	r := New()
	now := time.Now()
	r.RegisterAgent(Agent{Name: "scout-1", Goals: []string{"patrol", "report"}}, now)
	r.RegisterTool(Tool{Name: "camera"}, now)

	tests := []struct {
		name string
		in   PolicyCheckInput
		want PolicyCheckResult
	}{
		{
			name: "known agent, declared goal, known tool",
			in:   PolicyCheckInput{AgentName: "scout-1", Goal: "patrol", ToolName: "camera"},
			want: PolicyCheckResult{AgentKnown: true, GoalDeclared: true, ToolKnown: true},
		},
		{
			name: "known agent, undeclared goal",
			in:   PolicyCheckInput{AgentName: "scout-1", Goal: "unknown-goal"},
			want: PolicyCheckResult{AgentKnown: true, GoalDeclared: false},
		},
		{
			name: "unknown agent and tool",
			in:   PolicyCheckInput{AgentName: "ghost", ToolName: "ghost-tool"},
			want: PolicyCheckResult{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.PolicyCheck(tt.in); got != tt.want {
				t.Errorf("PolicyCheck() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
