package command

import (
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const proposalColumns = `
	proposal_id, command, reasoning, proposed_by, status,
	approval_timeout_seconds, audit_trail, created_at, updated_at`

func scanProposal(row pgx.Row) (*Proposal, error) {
	var p Proposal
	var cmdJSON, proposedByJSON, auditJSON []byte

	err := row.Scan(
		&p.ProposalID, &cmdJSON, &p.Reasoning, &proposedByJSON, &p.Status,
		&p.ApprovalTimeoutSeconds, &auditJSON, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(cmdJSON, &p.Command); err != nil {
		return nil, fmt.Errorf("unmarshalling command: %w", err)
	}
	if err := json.Unmarshal(proposedByJSON, &p.ProposedBy); err != nil {
		return nil, fmt.Errorf("unmarshalling proposed_by: %w", err)
	}
	if len(auditJSON) > 0 {
		if err := json.Unmarshal(auditJSON, &p.AuditTrail); err != nil {
			return nil, fmt.Errorf("unmarshalling audit_trail: %w", err)
		}
	}

	return &p, nil
}

func scanProposalRows(rows pgx.Rows) (*Proposal, error) {
	var p Proposal
	var cmdJSON, proposedByJSON, auditJSON []byte

	err := rows.Scan(
		&p.ProposalID, &cmdJSON, &p.Reasoning, &proposedByJSON, &p.Status,
		&p.ApprovalTimeoutSeconds, &auditJSON, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(cmdJSON, &p.Command); err != nil {
		return nil, fmt.Errorf("unmarshalling command: %w", err)
	}
	if err := json.Unmarshal(proposedByJSON, &p.ProposedBy); err != nil {
		return nil, fmt.Errorf("unmarshalling proposed_by: %w", err)
	}
	if len(auditJSON) > 0 {
		if err := json.Unmarshal(auditJSON, &p.AuditTrail); err != nil {
			return nil, fmt.Errorf("unmarshalling audit_trail: %w", err)
		}
	}

	return &p, nil
}
