package command

import (
	"testing"
	"time"
)

func TestStatus_Terminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusPendingApproval, false},
		{StatusApproved, false},
		{StatusExecuting, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusAborted, true},
		{StatusRejected, true},
		{StatusExpired, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.want {
				t.Errorf("Status(%s).Terminal() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestProposal_Expired(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		status  Status
		timeout int
		now     time.Time
		want    bool
	}{
		{
			name:    "not yet at deadline",
			status:  StatusPendingApproval,
			timeout: 300,
			now:     created.Add(100 * time.Second),
			want:    false,
		},
		{
			name:    "past deadline",
			status:  StatusPendingApproval,
			timeout: 300,
			now:     created.Add(301 * time.Second),
			want:    true,
		},
		{
			name:    "exactly at deadline counts as expired",
			status:  StatusPendingApproval,
			timeout: 300,
			now:     created.Add(300 * time.Second),
			want:    true,
		},
		{
			name:    "non-pending status never expires",
			status:  StatusApproved,
			timeout: 300,
			now:     created.Add(10000 * time.Second),
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Proposal{Status: tt.status, ApprovalTimeoutSeconds: tt.timeout, CreatedAt: created}
			if got := p.Expired(tt.now); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProposal_MarshalAuditTrail(t *testing.T) {
	p := &Proposal{
		AuditTrail: []AuditEvent{
			{Actor: ActorStamp{Kind: "HUMAN", ID: "u1"}, Action: "PROPOSED", At: time.Unix(0, 0).UTC()},
		},
	}
	raw, err := p.MarshalAuditTrail()
	if err != nil {
		t.Fatalf("MarshalAuditTrail() error: %v", err)
	}
	if len(raw) == 0 {
		t.Error("expected non-empty audit trail JSON")
	}
}
