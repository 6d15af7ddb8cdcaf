package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kilnworks/companykernel/internal/store"
	"github.com/kilnworks/companykernel/internal/telemetry"
	"github.com/kilnworks/companykernel/pkg/governance"
	"github.com/kilnworks/companykernel/pkg/slack"
)

// Pipeline implements the command proposal state machine (component G).
type Pipeline struct {
	store    *store.Store
	engine   *governance.Engine
	notifier *slack.Notifier
	logger   *slog.Logger

	defaultApprovalTimeoutSeconds int
}

// New builds a Pipeline.
func New(s *store.Store, engine *governance.Engine, notifier *slack.Notifier, logger *slog.Logger, defaultApprovalTimeoutSeconds int) *Pipeline {
	if defaultApprovalTimeoutSeconds <= 0 {
		defaultApprovalTimeoutSeconds = 300
	}
	return &Pipeline{
		store:                         s,
		engine:                        engine,
		notifier:                      notifier,
		logger:                        logger,
		defaultApprovalTimeoutSeconds: defaultApprovalTimeoutSeconds,
	}
}

// Propose creates a new PENDING_APPROVAL proposal and fires a best-effort
// Slack notification.
func (p *Pipeline) Propose(ctx context.Context, cmd Command, reasoning string, proposedBy ActorStamp, approvalTimeoutSeconds int, now time.Time) (*Proposal, error) {
	if approvalTimeoutSeconds <= 0 {
		approvalTimeoutSeconds = p.defaultApprovalTimeoutSeconds
	}

	proposal := &Proposal{
		ProposalID:             "P-" + uuid.New().String(),
		Command:                cmd,
		Reasoning:              reasoning,
		ProposedBy:             proposedBy,
		Status:                 StatusPendingApproval,
		ApprovalTimeoutSeconds: approvalTimeoutSeconds,
		AuditTrail: []AuditEvent{
			{Actor: proposedBy, Action: "PROPOSED", At: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	cmdJSON, err := json.Marshal(proposal.Command)
	if err != nil {
		return nil, fmt.Errorf("marshalling command: %w", err)
	}
	proposedByJSON, err := json.Marshal(proposal.ProposedBy)
	if err != nil {
		return nil, fmt.Errorf("marshalling proposed_by: %w", err)
	}
	auditJSON, err := proposal.MarshalAuditTrail()
	if err != nil {
		return nil, fmt.Errorf("marshalling audit trail: %w", err)
	}

	_, err = p.store.Pool.Exec(ctx, `
		INSERT INTO command_proposals (
			proposal_id, command, reasoning, proposed_by, status,
			approval_timeout_seconds, audit_trail, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, proposal.ProposalID, cmdJSON, proposal.Reasoning, proposedByJSON, proposal.Status,
		proposal.ApprovalTimeoutSeconds, auditJSON, now)
	if err != nil {
		return nil, fmt.Errorf("inserting command proposal: %w", err)
	}

	telemetry.CommandProposalsTotal.WithLabelValues(string(proposal.Status)).Inc()

	if p.notifier != nil {
		go func() {
			bgCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := p.notifier.PostProposal(bgCtx, slack.ProposalInfo{
				ProposalID:  proposal.ProposalID,
				CommandType: cmd.CommandType,
				MachineID:   cmd.MachineID,
				TargetValue: cmd.TargetValue,
				TargetUnit:  cmd.TargetUnit,
				ProposedBy:  proposedBy.Display,
				Reasoning:   reasoning,
			}); err != nil {
				p.logger.Warn("posting command proposal to slack failed", "error", err, "proposal_id", proposal.ProposalID)
			}
		}()
	}

	return proposal, nil
}

// Get fetches a proposal by ID, lazily marking it EXPIRED if its approval
// window has elapsed.
func (p *Pipeline) Get(ctx context.Context, id string, now time.Time) (*Proposal, error) {
	proposal, err := p.getRaw(ctx, id)
	if err != nil {
		return nil, err
	}
	if proposal.Expired(now) {
		return p.expire(ctx, proposal, now)
	}
	return proposal, nil
}

func (p *Pipeline) getRaw(ctx context.Context, id string) (*Proposal, error) {
	row := p.store.Pool.QueryRow(ctx, `SELECT `+proposalColumns+` FROM command_proposals WHERE proposal_id = $1`, id)
	proposal, err := scanProposal(row)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching proposal %s: %w", id, err)
	}
	return proposal, nil
}

func (p *Pipeline) expire(ctx context.Context, proposal *Proposal, now time.Time) (*Proposal, error) {
	proposal.Status = StatusExpired
	proposal.AuditTrail = append(proposal.AuditTrail, AuditEvent{
		Actor:  ActorStamp{Kind: "SYSTEM", ID: "kernel"},
		Action: "EXPIRED",
		At:     now,
	})
	if err := p.persistTransition(ctx, proposal, StatusPendingApproval, now); err != nil {
		return nil, err
	}
	telemetry.CommandProposalsTotal.WithLabelValues(string(StatusExpired)).Inc()
	return proposal, nil
}

// RunExpirySweep periodically scans for overdue PENDING_APPROVAL proposals
// and marks them EXPIRED, in addition to the lazy check-on-read ListPending
// and Get already perform. Blocks until ctx is cancelled.
func (p *Pipeline) RunExpirySweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := p.ListPending(ctx, now.UTC()); err != nil {
				p.logger.Warn("proposal expiry sweep failed", "error", err)
			}
		}
	}
}

// ListPending returns every proposal still awaiting approval, expiring any
// whose deadline has passed.
func (p *Pipeline) ListPending(ctx context.Context, now time.Time) ([]*Proposal, error) {
	rows, err := p.store.Pool.Query(ctx, `SELECT `+proposalColumns+` FROM command_proposals WHERE status = $1 ORDER BY created_at ASC`, StatusPendingApproval)
	if err != nil {
		return nil, fmt.Errorf("listing pending proposals: %w", err)
	}
	defer rows.Close()

	var pending []*Proposal
	for rows.Next() {
		proposal, err := scanProposalRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning proposal row: %w", err)
		}
		pending = append(pending, proposal)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*Proposal, 0, len(pending))
	for _, proposal := range pending {
		if proposal.Expired(now) {
			if _, err := p.expire(ctx, proposal, now); err != nil {
				return nil, err
			}
			continue
		}
		out = append(out, proposal)
	}
	return out, nil
}

// ApproveContext carries the session signals evaluateCommand needs.
type ApproveContext struct {
	ActorKind         string
	RecentFailureRate float64
	CommandsInSession int
}

// Approve runs the safety-constraint check and governance.EvaluateCommand,
// then transitions a PENDING_APPROVAL proposal to APPROVED.
func (p *Pipeline) Approve(ctx context.Context, id string, actor ActorStamp, approveCtx ApproveContext, now time.Time) (*Proposal, error) {
	proposal, err := p.Get(ctx, id, now)
	if err != nil {
		return nil, err
	}
	if proposal.Status != StatusPendingApproval {
		return nil, ErrNotPendingApproval
	}

	cmd := proposal.Command
	if cmd.Constraints.MinValue != nil && cmd.TargetValue < *cmd.Constraints.MinValue {
		return nil, ErrOutOfBounds
	}
	if cmd.Constraints.MaxValue != nil && cmd.TargetValue > *cmd.Constraints.MaxValue {
		return nil, ErrOutOfBounds
	}

	decision, err := p.engine.EvaluateCommand(ctx, governance.CommandContext{
		ActorKind:         approveCtx.ActorKind,
		RecentFailureRate: approveCtx.RecentFailureRate,
		CommandsInSession: approveCtx.CommandsInSession,
	}, now)
	if err != nil {
		return nil, fmt.Errorf("evaluating command governance: %w", err)
	}
	if decision.Action == governance.ActionBlock {
		return nil, ErrDenied
	}

	proposal.Status = StatusApproved
	proposal.AuditTrail = append(proposal.AuditTrail, AuditEvent{Actor: actor, Action: "APPROVED", At: now})
	if err := p.persistTransition(ctx, proposal, StatusPendingApproval, now); err != nil {
		return nil, err
	}

	telemetry.CommandProposalsTotal.WithLabelValues(string(StatusApproved)).Inc()
	return proposal, nil
}

// Reject transitions a PENDING_APPROVAL proposal to REJECTED.
func (p *Pipeline) Reject(ctx context.Context, id string, actor ActorStamp, reason string, now time.Time) (*Proposal, error) {
	proposal, err := p.Get(ctx, id, now)
	if err != nil {
		return nil, err
	}
	if proposal.Status != StatusPendingApproval {
		return nil, ErrNotPendingApproval
	}

	proposal.Status = StatusRejected
	proposal.AuditTrail = append(proposal.AuditTrail, AuditEvent{Actor: actor, Action: "REJECTED", At: now, Reason: reason})
	if err := p.persistTransition(ctx, proposal, StatusPendingApproval, now); err != nil {
		return nil, err
	}

	telemetry.CommandProposalsTotal.WithLabelValues(string(StatusRejected)).Inc()
	return proposal, nil
}

// Execute transitions an APPROVED proposal to EXECUTING. Dispatching the
// command to the target machine is the responsibility of an external
// agent executor; the pipeline only records the transition.
func (p *Pipeline) Execute(ctx context.Context, id string, actor ActorStamp, now time.Time) (*Proposal, error) {
	proposal, err := p.getRaw(ctx, id)
	if err != nil {
		return nil, err
	}
	if proposal.Status != StatusApproved {
		return nil, ErrNotApproved
	}

	proposal.Status = StatusExecuting
	proposal.AuditTrail = append(proposal.AuditTrail, AuditEvent{Actor: actor, Action: "EXECUTING", At: now})
	if err := p.persistTransition(ctx, proposal, StatusApproved, now); err != nil {
		return nil, err
	}

	telemetry.CommandProposalsTotal.WithLabelValues(string(StatusExecuting)).Inc()
	return proposal, nil
}

// ReportResult transitions an EXECUTING proposal to its terminal outcome,
// called by the executor once the physical command has been applied.
func (p *Pipeline) ReportResult(ctx context.Context, id string, success bool, message string, now time.Time) (*Proposal, error) {
	proposal, err := p.getRaw(ctx, id)
	if err != nil {
		return nil, err
	}
	if proposal.Status != StatusExecuting {
		return nil, ErrNotExecuting
	}

	if success {
		proposal.Status = StatusCompleted
	} else {
		proposal.Status = StatusFailed
	}
	proposal.AuditTrail = append(proposal.AuditTrail, AuditEvent{
		Actor:  ActorStamp{Kind: "SYSTEM", ID: "kernel"},
		Action: string(proposal.Status),
		At:     now,
		Reason: message,
	})
	if err := p.persistTransition(ctx, proposal, StatusExecuting, now); err != nil {
		return nil, err
	}

	telemetry.CommandProposalsTotal.WithLabelValues(string(proposal.Status)).Inc()
	return proposal, nil
}

// AbortResult is the explicit {status, message} envelope returned for an
// abort request — distinct from the proposal's own Status field.
type AbortResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Abort acknowledges an abort request. Valid only when EXECUTING; any
// other state returns a FAILED acknowledgement rather than an error, since
// the ack envelope itself is the documented contract.
func (p *Pipeline) Abort(ctx context.Context, id string, actor ActorStamp, now time.Time) (AbortResult, error) {
	proposal, err := p.getRaw(ctx, id)
	if err != nil {
		return AbortResult{}, err
	}
	if proposal.Status != StatusExecuting {
		return AbortResult{Status: "FAILED", Message: "proposal is not executing"}, nil
	}

	proposal.Status = StatusAborted
	proposal.AuditTrail = append(proposal.AuditTrail, AuditEvent{Actor: actor, Action: "ABORTED", At: now})
	if err := p.persistTransition(ctx, proposal, StatusExecuting, now); err != nil {
		return AbortResult{}, err
	}

	telemetry.CommandProposalsTotal.WithLabelValues(string(StatusAborted)).Inc()
	return AbortResult{Status: "ACCEPTED", Message: "command execution aborted"}, nil
}

// persistTransition writes proposal back, guarded by expectedStatus so a
// concurrent transition loses the race cleanly.
func (p *Pipeline) persistTransition(ctx context.Context, proposal *Proposal, expectedStatus Status, now time.Time) error {
	proposal.UpdatedAt = now

	auditJSON, err := proposal.MarshalAuditTrail()
	if err != nil {
		return fmt.Errorf("marshalling audit trail: %w", err)
	}

	tag, err := p.store.Pool.Exec(ctx, `
		UPDATE command_proposals
		SET status = $1, audit_trail = $2, updated_at = $3
		WHERE proposal_id = $4 AND status = $5
	`, proposal.Status, auditJSON, now, proposal.ProposalID, expectedStatus)
	if err != nil {
		return fmt.Errorf("persisting proposal transition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrConflict
	}
	return nil
}
