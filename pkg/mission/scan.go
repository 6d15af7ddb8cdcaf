package mission

import (
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// missionColumns is the canonical column list/order shared by every query
// that returns a full mission row.
const missionColumns = `
	mission_id, idempotency_key, goal, params, context, subject_id,
	status, attempts, max_attempts, next_retry_at,
	claimed_by, claimed_at, lease_id, lease_expires_at, last_heartbeat_at,
	result_meta, last_error, governance, signals, created_by,
	created_at, updated_at, completed_at, failed_at`

// prefixedMissionColumns qualifies each column with alias (used when the
// query joins against another CTE that also has a mission_id column).
func prefixedMissionColumns(alias string) string {
	return fmt.Sprintf(`
		%[1]s.mission_id, %[1]s.idempotency_key, %[1]s.goal, %[1]s.params, %[1]s.context, %[1]s.subject_id,
		%[1]s.status, %[1]s.attempts, %[1]s.max_attempts, %[1]s.next_retry_at,
		%[1]s.claimed_by, %[1]s.claimed_at, %[1]s.lease_id, %[1]s.lease_expires_at, %[1]s.last_heartbeat_at,
		%[1]s.result_meta, %[1]s.last_error, %[1]s.governance, %[1]s.signals, %[1]s.created_by,
		%[1]s.created_at, %[1]s.updated_at, %[1]s.completed_at, %[1]s.failed_at`, alias)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanMissionInto(s scannable, extra ...any) (*Mission, error) {
	var m Mission
	var lastErrJSON, govJSON, createdByJSON []byte

	dest := []any{
		&m.MissionID, &m.IdempotencyKey, &m.Goal, &m.Params, &m.Context, &m.SubjectID,
		&m.Status, &m.Attempts, &m.MaxAttempts, &m.NextRetryAt,
		&m.ClaimedBy, &m.ClaimedAt, &m.LeaseID, &m.LeaseExpiresAt, &m.LastHeartbeatAt,
		&m.ResultMeta, &lastErrJSON, &govJSON, &m.Signals, &createdByJSON,
		&m.CreatedAt, &m.UpdatedAt, &m.CompletedAt, &m.FailedAt,
	}
	dest = append(dest, extra...)

	if err := s.Scan(dest...); err != nil {
		return nil, err
	}

	if len(lastErrJSON) > 0 {
		var le LastError
		if err := json.Unmarshal(lastErrJSON, &le); err != nil {
			return nil, fmt.Errorf("unmarshalling last_error: %w", err)
		}
		m.LastError = &le
	}
	if len(govJSON) > 0 {
		var gov Governance
		if err := json.Unmarshal(govJSON, &gov); err != nil {
			return nil, fmt.Errorf("unmarshalling governance: %w", err)
		}
		m.Governance = &gov
	}
	if len(createdByJSON) > 0 {
		var stamp ActorStamp
		if err := json.Unmarshal(createdByJSON, &stamp); err != nil {
			return nil, fmt.Errorf("unmarshalling created_by: %w", err)
		}
		m.CreatedBy = &stamp
	}

	return &m, nil
}

func scanMission(row pgx.Row) (*Mission, error) {
	return scanMissionInto(row)
}

func scanMissionWithExtra(row pgx.Row, extra ...any) (*Mission, error) {
	return scanMissionInto(row, extra...)
}

func scanMissionRows(rows pgx.Rows) (*Mission, error) {
	return scanMissionInto(rows)
}
