package mission

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kilnworks/companykernel/internal/store"
	"github.com/kilnworks/companykernel/internal/telemetry"
	"github.com/kilnworks/companykernel/pkg/governance"
)

// Repository implements the mission state machine (component E — "the
// algorithmic heart"). Every exported state transition is a single
// conditional update; a lost race is reported as an error, never a panic.
type Repository struct {
	store *store.Store
}

// NewRepository builds a Repository backed by s.
func NewRepository(s *store.Store) *Repository {
	return &Repository{store: s}
}

// CreateInput is the caller-supplied subset of a mission.
type CreateInput struct {
	MissionID      string
	IdempotencyKey string
	Goal           string
	Params         json.RawMessage
	Context        json.RawMessage
	SubjectID      *string
	MaxAttempts    int32
	Signals        json.RawMessage
}

func newMissionID(now time.Time) string {
	var buf [3]byte
	_, _ = rand.Read(buf[:])
	return fmt.Sprintf("M-%s-%s", now.UTC().Format("20060102150405"), hex.EncodeToString(buf[:]))
}

func newLeaseID() string {
	return uuid.New().String()
}

// CreateMission assigns IDs and an initial status from decision, inserts
// the mission, and returns {mission, created}. A duplicate idempotencyKey
// returns the existing mission with created=false.
func (r *Repository) CreateMission(ctx context.Context, in CreateInput, decision governance.Decision, actor *ActorStamp, now time.Time) (*Mission, bool, error) {
	start := time.Now()
	defer func() {
		telemetry.RepositoryOperationDuration.WithLabelValues("create_mission").Observe(time.Since(start).Seconds())
	}()

	missionID := in.MissionID
	if missionID == "" {
		missionID = newMissionID(now)
	}
	idempotencyKey := in.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = missionID
	}
	maxAttempts := in.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	status := decision.MissionStatus()
	var nextRetryAt *time.Time
	if Status(status) == StatusRetry {
		nextRetryAt = decision.NextRetryAt
	}

	gov := toMissionGovernance(decision)
	govJSON, err := json.Marshal(gov)
	if err != nil {
		return nil, false, fmt.Errorf("marshalling governance decision: %w", err)
	}

	var actorJSON []byte
	if actor != nil {
		actorJSON, err = json.Marshal(actor)
		if err != nil {
			return nil, false, fmt.Errorf("marshalling actor: %w", err)
		}
	}

	params := in.Params
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	mctx := in.Context
	if len(mctx) == 0 {
		mctx = json.RawMessage("{}")
	}

	row := r.store.Pool.QueryRow(ctx, `
		INSERT INTO missions (
			mission_id, idempotency_key, goal, params, context, subject_id,
			status, attempts, max_attempts, next_retry_at,
			governance, signals, created_by, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, 0, $8, $9,
			$10, $11, $12, $13, $13
		)
		RETURNING `+missionColumns, missionID, idempotencyKey, in.Goal, params, mctx, in.SubjectID,
		status, maxAttempts, nextRetryAt,
		govJSON, nullableJSON(in.Signals), nullableJSON(actorJSON), now)

	m, err := scanMission(row)
	if err == nil {
		telemetry.MissionsCreatedTotal.WithLabelValues(status, in.Goal).Inc()
		return m, true, nil
	}
	if store.IsUniqueViolation(err, "missions_idempotency_key_key") || store.IsUniqueViolation(err, "missions_pkey") {
		existing, lookupErr := r.GetByIdempotencyKey(ctx, idempotencyKey)
		if lookupErr != nil {
			return nil, false, fmt.Errorf("looking up existing mission for idempotency key %s: %w", idempotencyKey, lookupErr)
		}
		return existing, false, nil
	}
	return nil, false, fmt.Errorf("inserting mission: %w", err)
}

// ClaimNext atomically selects and claims the next runnable mission for
// agentName, optionally restricted to goals. Returns ErrNoneAvailable when
// nothing is claimable right now.
func (r *Repository) ClaimNext(ctx context.Context, agentName string, goals []string, now time.Time, leaseDuration time.Duration) (*Mission, error) {
	start := time.Now()
	defer func() {
		telemetry.RepositoryOperationDuration.WithLabelValues("claim_next").Observe(time.Since(start).Seconds())
	}()

	if agentName == "" {
		return nil, ErrAgentNameMissing
	}

	leaseID := newLeaseID()
	leaseExpiresAt := now.Add(leaseDuration)

	row := r.store.Pool.QueryRow(ctx, `
		WITH candidate AS (
			SELECT mission_id, status AS old_status
			FROM missions
			WHERE (
				status = 'PENDING'
				OR (status = 'RETRY' AND (next_retry_at IS NULL OR next_retry_at <= $1))
				OR (status = 'RUNNING' AND lease_expires_at IS NOT NULL AND lease_expires_at <= $1)
			)
			AND ($2::text[] IS NULL OR goal = ANY($2))
			ORDER BY
				CASE status WHEN 'PENDING' THEN 0 WHEN 'RETRY' THEN 1 ELSE 2 END ASC,
				COALESCE(next_retry_at, created_at) ASC,
				created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE missions m
		SET status = 'RUNNING',
			claimed_by = $3,
			claimed_at = $1,
			lease_id = $4,
			lease_expires_at = $5,
			last_heartbeat_at = $1,
			attempts = m.attempts + 1,
			next_retry_at = NULL,
			updated_at = $1
		FROM candidate c
		WHERE m.mission_id = c.mission_id
		RETURNING `+prefixedMissionColumns("m")+`, c.old_status
	`, now, nullableGoals(goals), agentName, leaseID, leaseExpiresAt)

	var oldStatus string
	m, err := scanMissionWithExtra(row, &oldStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoneAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("claiming mission: %w", err)
	}

	telemetry.MissionsClaimedTotal.WithLabelValues(m.Goal).Inc()
	if oldStatus == string(StatusRunning) {
		telemetry.MissionsReclaimedTotal.Inc()
	}

	return m, nil
}

// Heartbeat extends a RUNNING mission's lease. A leaseId mismatch on a
// still-RUNNING mission is a strict rejection: it returns ErrLeaseMismatch
// rather than silently extending a lease the caller no longer holds.
func (r *Repository) Heartbeat(ctx context.Context, missionID, leaseID string, now time.Time) (*Mission, error) {
	start := time.Now()
	defer func() {
		telemetry.RepositoryOperationDuration.WithLabelValues("heartbeat").Observe(time.Since(start).Seconds())
	}()

	row := r.store.Pool.QueryRow(ctx, `
		UPDATE missions
		SET last_heartbeat_at = $1,
			lease_expires_at = $1 + (lease_expires_at - claimed_at),
			updated_at = $1
		WHERE mission_id = $2 AND status = 'RUNNING' AND lease_id = $3
		RETURNING `+missionColumns, now, missionID, leaseID)

	m, err := scanMission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := r.GetByID(ctx, missionID)
		if getErr != nil {
			return nil, getErr
		}
		if current.Status != StatusRunning {
			return nil, ErrNotRunning
		}
		// Mismatched leaseId on a still-RUNNING mission: strict rejection,
		// since a stale holder must never extend a lease it no longer owns.
		return nil, ErrLeaseMismatch
	}
	if err != nil {
		return nil, fmt.Errorf("heartbeat: %w", err)
	}
	return m, nil
}

// CompleteMission transitions a RUNNING mission to DONE.
func (r *Repository) CompleteMission(ctx context.Context, missionID string, resultMeta json.RawMessage, leaseID *string, now time.Time) (*Mission, error) {
	start := time.Now()
	defer func() {
		telemetry.RepositoryOperationDuration.WithLabelValues("complete_mission").Observe(time.Since(start).Seconds())
	}()

	row := r.store.Pool.QueryRow(ctx, `
		UPDATE missions
		SET status = 'DONE',
			result_meta = $1,
			completed_at = $2,
			claimed_by = NULL, claimed_at = NULL, lease_id = NULL, lease_expires_at = NULL, last_heartbeat_at = NULL,
			updated_at = $2
		WHERE mission_id = $3 AND status = 'RUNNING' AND ($4::text IS NULL OR lease_id = $4)
		RETURNING `+missionColumns, nullableJSON(resultMeta), now, missionID, leaseID)

	m, err := scanMission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, r.conflictOrLeaseMismatch(ctx, missionID, leaseID)
	}
	if err != nil {
		return nil, fmt.Errorf("completing mission: %w", err)
	}

	telemetry.MissionsTerminalTotal.WithLabelValues(string(StatusDone)).Inc()
	return m, nil
}

// FailInput carries the parameters of a fail call.
type FailInput struct {
	MissionID string
	Retryable bool
	Error     string
	Details   json.RawMessage
	LeaseID   *string
	BackoffMs int64
}

// FailMission transitions a RUNNING mission to RETRY or FAILED, depending
// on retryability and the attempt bound. attempts counts claims only —
// ClaimNext already incremented it, so this does not increment it again —
// and the backoff exponent is 2^(attempts-1).
func (r *Repository) FailMission(ctx context.Context, in FailInput, now time.Time) (*Mission, error) {
	start := time.Now()
	defer func() {
		telemetry.RepositoryOperationDuration.WithLabelValues("fail_mission").Observe(time.Since(start).Seconds())
	}()

	backoffMs := in.BackoffMs
	if backoffMs <= 0 {
		backoffMs = 2000
	}

	lastErr := LastError{Error: in.Error, Details: in.Details}
	lastErrJSON, err := json.Marshal(lastErr)
	if err != nil {
		return nil, fmt.Errorf("marshalling last error: %w", err)
	}

	row := r.store.Pool.QueryRow(ctx, `
		UPDATE missions
		SET status = CASE WHEN $1 AND attempts < max_attempts THEN 'RETRY' ELSE 'FAILED' END,
			next_retry_at = CASE WHEN $1 AND attempts < max_attempts
				THEN $2 + ($3 * power(2, attempts - 1))::float * interval '1 millisecond'
				ELSE NULL END,
			failed_at = CASE WHEN $1 AND attempts < max_attempts THEN NULL ELSE $2 END,
			last_error = $4,
			claimed_by = NULL, claimed_at = NULL, lease_id = NULL, lease_expires_at = NULL, last_heartbeat_at = NULL,
			updated_at = $2
		WHERE mission_id = $5 AND status = 'RUNNING' AND ($6::text IS NULL OR lease_id = $6)
		RETURNING `+missionColumns, in.Retryable, now, backoffMs, lastErrJSON, in.MissionID, in.LeaseID)

	m, err := scanMission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, r.conflictOrLeaseMismatch(ctx, in.MissionID, in.LeaseID)
	}
	if err != nil {
		return nil, fmt.Errorf("failing mission: %w", err)
	}

	if m.Status.Terminal() {
		telemetry.MissionsTerminalTotal.WithLabelValues(string(StatusFailed)).Inc()
	}
	return m, nil
}

// ApproveMission transitions a QUARANTINED mission to PENDING, recording a
// HUMAN governance decision.
func (r *Repository) ApproveMission(ctx context.Context, missionID string, reasons []GovernanceReason, actor *ActorStamp, now time.Time) (*Mission, error) {
	gov := Governance{Action: "ALLOW", DecidedAt: now, DecidedBy: "HUMAN", Reasons: reasons}
	govJSON, err := json.Marshal(gov)
	if err != nil {
		return nil, fmt.Errorf("marshalling governance decision: %w", err)
	}

	row := r.store.Pool.QueryRow(ctx, `
		UPDATE missions
		SET status = 'PENDING',
			governance = $1,
			claimed_by = NULL, claimed_at = NULL, lease_id = NULL, lease_expires_at = NULL, last_heartbeat_at = NULL,
			next_retry_at = NULL,
			updated_at = $2
		WHERE mission_id = $3 AND status = 'QUARANTINED'
		RETURNING `+missionColumns, govJSON, now, missionID)

	m, err := scanMission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, missionID); getErr != nil {
			return nil, getErr
		}
		return nil, ErrNotQuarantined
	}
	if err != nil {
		return nil, fmt.Errorf("approving mission: %w", err)
	}
	return m, nil
}

// CancelMission transitions any non-terminal mission to CANCELED.
func (r *Repository) CancelMission(ctx context.Context, missionID string, now time.Time) (*Mission, error) {
	row := r.store.Pool.QueryRow(ctx, `
		UPDATE missions
		SET status = 'CANCELED',
			claimed_by = NULL, claimed_at = NULL, lease_id = NULL, lease_expires_at = NULL, last_heartbeat_at = NULL,
			next_retry_at = NULL,
			updated_at = $1
		WHERE mission_id = $2 AND status NOT IN ('DONE', 'FAILED', 'CANCELED', 'BLOCKED')
		RETURNING `+missionColumns, now, missionID)

	m, err := scanMission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, missionID); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: mission is terminal", ErrNotRetry)
	}
	if err != nil {
		return nil, fmt.Errorf("cancelling mission: %w", err)
	}

	telemetry.MissionsTerminalTotal.WithLabelValues(string(StatusCanceled)).Inc()
	return m, nil
}

// RetryNowMission makes a RETRY mission immediately claimable.
func (r *Repository) RetryNowMission(ctx context.Context, missionID string, now time.Time) (*Mission, error) {
	gov := Governance{Action: "ALLOW", DecidedAt: now, DecidedBy: "HUMAN", Reasons: []GovernanceReason{{Code: "MANUAL_RETRY_NOW"}}}
	govJSON, err := json.Marshal(gov)
	if err != nil {
		return nil, fmt.Errorf("marshalling governance decision: %w", err)
	}

	row := r.store.Pool.QueryRow(ctx, `
		UPDATE missions
		SET next_retry_at = $1, governance = $2, updated_at = $1
		WHERE mission_id = $3 AND status = 'RETRY'
		RETURNING `+missionColumns, now, govJSON, missionID)

	m, err := scanMission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, missionID); getErr != nil {
			return nil, getErr
		}
		return nil, ErrNotRetry
	}
	if err != nil {
		return nil, fmt.Errorf("retrying mission now: %w", err)
	}
	return m, nil
}

// GetByID fetches a mission by its ID.
func (r *Repository) GetByID(ctx context.Context, missionID string) (*Mission, error) {
	row := r.store.Pool.QueryRow(ctx, `SELECT `+missionColumns+` FROM missions WHERE mission_id = $1`, missionID)
	m, err := scanMission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching mission %s: %w", missionID, err)
	}
	return m, nil
}

// GetByIdempotencyKey fetches a mission by its idempotency key.
func (r *Repository) GetByIdempotencyKey(ctx context.Context, key string) (*Mission, error) {
	row := r.store.Pool.QueryRow(ctx, `SELECT `+missionColumns+` FROM missions WHERE idempotency_key = $1`, key)
	m, err := scanMission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching mission by idempotency key %s: %w", key, err)
	}
	return m, nil
}

// ListFilter narrows the result set of List.
type ListFilter struct {
	Statuses  []string
	Goal      string
	Agent     string
	SubjectID string
	OrgID     string
	Limit     int
}

// List returns missions matching filter, newest first, bounded by limit
// (default 50). Org scoping is applied in the Facade/HTTP layer because
// orgId lives inside the opaque context blob.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]*Mission, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.store.Pool.Query(ctx, `
		SELECT `+missionColumns+` FROM missions
		WHERE ($1::text[] IS NULL OR status = ANY($1))
		  AND ($2 = '' OR goal = $2)
		  AND ($3 = '' OR claimed_by = $3)
		  AND ($4 = '' OR subject_id = $4)
		ORDER BY created_at DESC
		LIMIT $5
	`, nullableGoals(filter.Statuses), filter.Goal, filter.Agent, filter.SubjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing missions: %w", err)
	}
	defer rows.Close()

	var missions []*Mission
	for rows.Next() {
		m, err := scanMissionRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning mission row: %w", err)
		}
		missions = append(missions, m)
	}
	return missions, rows.Err()
}

// Metrics is a counts-per-status summary, plus governance-derived counters.
type Metrics struct {
	ByStatus       map[string]int64 `json:"byStatus"`
	Total          int64            `json:"total"`
	Quarantined    int64            `json:"quarantined"`
	Blocked        int64            `json:"blocked"`
	RateLimited    int64            `json:"rateLimited"`
	ApprovedTotal  int64            `json:"approvedTotal"`
}

func (r *Repository) Metrics(ctx context.Context) (Metrics, error) {
	out := Metrics{ByStatus: map[string]int64{}}

	rows, err := r.store.Pool.Query(ctx, `SELECT status, count(*) FROM missions GROUP BY status`)
	if err != nil {
		return Metrics{}, fmt.Errorf("counting missions by status: %w", err)
	}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return Metrics{}, fmt.Errorf("scanning status count: %w", err)
		}
		out.ByStatus[status] = count
		out.Total += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Metrics{}, err
	}

	out.Quarantined = out.ByStatus[string(StatusQuarantined)]
	out.Blocked = out.ByStatus[string(StatusBlocked)]

	err = r.store.Pool.QueryRow(ctx, `
		SELECT count(*) FROM missions
		WHERE status = 'RETRY' AND governance->'reasons' @> '[{"code":"RATE_LIMITED"}]'
	`).Scan(&out.RateLimited)
	if err != nil {
		return Metrics{}, fmt.Errorf("counting rate-limited missions: %w", err)
	}

	err = r.store.Pool.QueryRow(ctx, `
		SELECT count(*) FROM missions WHERE governance->>'decidedBy' = 'HUMAN'
	`).Scan(&out.ApprovedTotal)
	if err != nil {
		return Metrics{}, fmt.Errorf("counting human-approved missions: %w", err)
	}

	return out, nil
}

func (r *Repository) conflictOrLeaseMismatch(ctx context.Context, missionID string, leaseID *string) error {
	current, err := r.GetByID(ctx, missionID)
	if err != nil {
		return err
	}
	if current.Status != StatusRunning {
		return ErrNotRunning
	}
	if leaseID != nil && (current.LeaseID == nil || *current.LeaseID != *leaseID) {
		return ErrLeaseMismatch
	}
	return ErrNotRunning
}

func toMissionGovernance(d governance.Decision) Governance {
	reasons := make([]GovernanceReason, 0, len(d.Reasons))
	for _, r := range d.Reasons {
		reasons = append(reasons, GovernanceReason{Code: r.Code, Details: r.Details})
	}
	return Governance{
		Action:     string(d.Action),
		Confidence: string(d.Confidence),
		Reasons:    reasons,
		DecidedAt:  d.DecidedAt,
		DecidedBy:  d.DecidedBy,
	}
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func nullableGoals(goals []string) any {
	if len(goals) == 0 {
		return nil
	}
	return goals
}
