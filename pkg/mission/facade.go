package mission

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/kilnworks/companykernel/pkg/governance"
)

// Defaults are the facade-level fallbacks applied when a caller omits them.
type Defaults struct {
	LeaseDuration time.Duration
	BaseBackoffMs int64
}

// Facade is a thin orchestration layer over the Repository: it resolves
// the governance decision for a new mission, applies Defaults, and
// normalizes request shapes before delegating to the Repository.
type Facade struct {
	repo     *Repository
	engine   *governance.Engine
	defaults Defaults
}

// NewFacade builds a Facade.
func NewFacade(repo *Repository, engine *governance.Engine, defaults Defaults) *Facade {
	return &Facade{repo: repo, engine: engine, defaults: defaults}
}

// FacadeCreateInput is the HTTP-facing create request shape.
type FacadeCreateInput struct {
	MissionID      string
	IdempotencyKey string
	Goal           string
	Params         json.RawMessage
	Context        json.RawMessage
	SubjectID      *string
	MaxAttempts    int32
	Signals        json.RawMessage
}

type missionContext struct {
	OrgID     string `json:"orgId"`
	SiteID    string `json:"siteId"`
	MachineID string `json:"machineId"`
}

// Create evaluates governance for in.Goal/Signals, then creates the
// mission with the resulting initial status.
func (f *Facade) Create(ctx context.Context, in FacadeCreateInput, actor *ActorStamp, now time.Time) (*Mission, bool, error) {
	var mctx missionContext
	if len(in.Context) > 0 {
		_ = json.Unmarshal(in.Context, &mctx)
	}

	decision, err := f.engine.EvaluateMission(ctx, governance.MissionInput{
		Goal:      in.Goal,
		OrgID:     mctx.OrgID,
		SiteID:    mctx.SiteID,
		MachineID: mctx.MachineID,
		Signals:   in.Signals,
	}, now)
	if err != nil {
		return nil, false, err
	}

	return f.repo.CreateMission(ctx, CreateInput{
		MissionID:      in.MissionID,
		IdempotencyKey: in.IdempotencyKey,
		Goal:           in.Goal,
		Params:         in.Params,
		Context:        in.Context,
		SubjectID:      in.SubjectID,
		MaxAttempts:    in.MaxAttempts,
		Signals:        in.Signals,
	}, decision, actor, now)
}

// ClaimNext applies the default lease duration when the caller supplies none.
func (f *Facade) ClaimNext(ctx context.Context, agentName string, goals []string, now time.Time, leaseDuration time.Duration) (*Mission, error) {
	if leaseDuration <= 0 {
		leaseDuration = f.defaults.LeaseDuration
	}
	return f.repo.ClaimNext(ctx, agentName, goals, now, leaseDuration)
}

func (f *Facade) Heartbeat(ctx context.Context, missionID, leaseID string, now time.Time) (*Mission, error) {
	return f.repo.Heartbeat(ctx, missionID, leaseID, now)
}

func (f *Facade) Complete(ctx context.Context, missionID string, resultMeta json.RawMessage, leaseID *string, now time.Time) (*Mission, error) {
	return f.repo.CompleteMission(ctx, missionID, resultMeta, leaseID, now)
}

// Fail applies the default base backoff when the caller supplies none.
func (f *Facade) Fail(ctx context.Context, in FailInput, now time.Time) (*Mission, error) {
	if in.BackoffMs <= 0 {
		in.BackoffMs = f.defaults.BaseBackoffMs
	}
	return f.repo.FailMission(ctx, in, now)
}

func (f *Facade) Approve(ctx context.Context, missionID string, reasons []GovernanceReason, actor *ActorStamp, now time.Time) (*Mission, error) {
	return f.repo.ApproveMission(ctx, missionID, reasons, actor, now)
}

func (f *Facade) Cancel(ctx context.Context, missionID string, now time.Time) (*Mission, error) {
	return f.repo.CancelMission(ctx, missionID, now)
}

func (f *Facade) RetryNow(ctx context.Context, missionID string, now time.Time) (*Mission, error) {
	return f.repo.RetryNowMission(ctx, missionID, now)
}

func (f *Facade) Get(ctx context.Context, missionID string) (*Mission, error) {
	return f.repo.GetByID(ctx, missionID)
}

func (f *Facade) Metrics(ctx context.Context) (Metrics, error) {
	return f.repo.Metrics(ctx)
}

// ListQuery is the raw HTTP query shape, including the legacy sessionId
// alias the facade maps onto subjectId.
type ListQuery struct {
	Status    string
	Goal      string
	Agent     string
	SessionID string
	SubjectID string
	OrgID     string
	SiteID    string
	MachineID string
	Limit     int
}

// List normalizes q (comma-separated status, sessionId→subjectId alias)
// and delegates to the Repository. Org/site/machine scoping against the
// opaque context blob is applied here since the Repository's columns only
// cover subjectId.
func (f *Facade) List(ctx context.Context, q ListQuery) ([]*Mission, error) {
	var statuses []string
	if q.Status != "" {
		for _, s := range strings.Split(q.Status, ",") {
			if s = strings.TrimSpace(s); s != "" {
				statuses = append(statuses, s)
			}
		}
	}

	subjectID := q.SubjectID
	if subjectID == "" {
		subjectID = q.SessionID
	}

	missions, err := f.repo.List(ctx, ListFilter{
		Statuses:  statuses,
		Goal:      q.Goal,
		Agent:     q.Agent,
		SubjectID: subjectID,
		Limit:     q.Limit,
	})
	if err != nil {
		return nil, err
	}

	if q.OrgID == "" && q.SiteID == "" && q.MachineID == "" {
		return missions, nil
	}

	filtered := missions[:0]
	for _, m := range missions {
		var mctx missionContext
		if len(m.Context) > 0 {
			_ = json.Unmarshal(m.Context, &mctx)
		}
		if q.OrgID != "" && mctx.OrgID != q.OrgID {
			continue
		}
		if q.SiteID != "" && mctx.SiteID != q.SiteID {
			continue
		}
		if q.MachineID != "" && mctx.MachineID != q.MachineID {
			continue
		}
		filtered = append(filtered, m)
	}
	return filtered, nil
}
