// Package mission implements the Mission Repository (component E) and
// Mission Store Facade (component F): the durable, lease-based work
// queue at the center of the Mission Control Plane.
package mission

import (
	"encoding/json"
	"time"
)

// Status is a mission's lifecycle state.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusRunning     Status = "RUNNING"
	StatusRetry       Status = "RETRY"
	StatusDone        Status = "DONE"
	StatusFailed      Status = "FAILED"
	StatusQuarantined Status = "QUARANTINED"
	StatusBlocked     Status = "BLOCKED"
	StatusCanceled    Status = "CANCELED"
)

// Terminal reports whether status has no outgoing transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusCanceled, StatusBlocked:
		return true
	default:
		return false
	}
}

// ActorStamp records who performed a lifecycle action, embedded as JSON.
type ActorStamp struct {
	Kind    string `json:"kind"`
	ID      string `json:"id"`
	OrgID   string `json:"orgId,omitempty"`
	Display string `json:"display,omitempty"`
}

// GovernanceReason is one closed-enum reason code attached to a decision.
type GovernanceReason struct {
	Code    string          `json:"code"`
	Details json.RawMessage `json:"details,omitempty"`
}

// Governance is the latest admission decision recorded on a mission.
type Governance struct {
	Action     string             `json:"action"`
	Confidence string             `json:"confidence,omitempty"`
	Reasons    []GovernanceReason `json:"reasons,omitempty"`
	DecidedAt  time.Time          `json:"decidedAt"`
	DecidedBy  string             `json:"decidedBy"`
}

// LastError is recorded on FAILED/RETRY missions.
type LastError struct {
	Error   string          `json:"error"`
	Details json.RawMessage `json:"details,omitempty"`
}

// Mission is a durable unit of scheduled work.
type Mission struct {
	MissionID      string          `json:"missionId"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Goal           string          `json:"goal"`
	Params         json.RawMessage `json:"params"`
	Context        json.RawMessage `json:"context"`
	SubjectID      *string         `json:"subjectId,omitempty"`

	Status      Status     `json:"status"`
	Attempts    int32      `json:"attempts"`
	MaxAttempts int32      `json:"maxAttempts"`
	NextRetryAt *time.Time `json:"nextRetryAt,omitempty"`

	ClaimedBy       *string    `json:"claimedBy,omitempty"`
	ClaimedAt       *time.Time `json:"claimedAt,omitempty"`
	LeaseID         *string    `json:"leaseId,omitempty"`
	LeaseExpiresAt  *time.Time `json:"leaseExpiresAt,omitempty"`
	LastHeartbeatAt *time.Time `json:"lastHeartbeatAt,omitempty"`

	ResultMeta json.RawMessage `json:"resultMeta,omitempty"`
	LastError  *LastError      `json:"lastError,omitempty"`

	Governance *Governance     `json:"governance,omitempty"`
	Signals    json.RawMessage `json:"signals,omitempty"`

	CreatedBy *ActorStamp `json:"createdBy,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	FailedAt    *time.Time `json:"failedAt,omitempty"`
}

// OrgID extracts context.orgId for authorization scoping, returning "" when
// absent or context is not an object.
func (m *Mission) OrgID() string {
	if len(m.Context) == 0 {
		return ""
	}
	var ctx struct {
		OrgID string `json:"orgId"`
	}
	if err := json.Unmarshal(m.Context, &ctx); err != nil {
		return ""
	}
	return ctx.OrgID
}
