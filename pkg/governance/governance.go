// Package governance implements the Governance Engine (component D):
// decision functions that evaluate a mission or command proposal against
// the current Governor Config and Rate Limiter state. Mission evaluation
// consumes a rate-limit token in the Durable Store as a side effect.
package governance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kilnworks/companykernel/pkg/governor"
	"github.com/kilnworks/companykernel/pkg/ratelimit"
)

// Action is the outcome of evaluating a mission or command.
type Action string

const (
	ActionAllow      Action = "ALLOW"
	ActionQuarantine Action = "QUARANTINE"
	ActionBlock      Action = "BLOCK"
	ActionRetryLater Action = "RETRY_LATER"
)

// Confidence qualifies an ALLOW decision.
type Confidence string

const (
	ConfidenceHigh Confidence = "HIGH"
	ConfidenceMed  Confidence = "MED"
	ConfidenceLow  Confidence = "LOW"
)

// Closed reason-code enum — callers switch on these codes, never on
// free-form reason text.
const (
	ReasonGoalNotAllowed        = "GOAL_NOT_ALLOWED"
	ReasonMissingSignals        = "MISSING_SIGNALS"
	ReasonLowTelemetryPoints    = "LOW_TELEMETRY_POINTS"
	ReasonShortSession          = "SHORT_SESSION"
	ReasonNoTempChannels        = "NO_TEMP_CHANNELS"
	ReasonSilenceClose          = "SILENCE_CLOSE"
	ReasonRateLimited           = "RATE_LIMITED"
	ReasonHumanApproval         = "HUMAN_APPROVAL"
	ReasonManualRetryNow        = "MANUAL_RETRY_NOW"
	ReasonAutonomyLevelTooLow   = "AUTONOMY_LEVEL_TOO_LOW"
	ReasonAgentCommandsNotAllowed = "AGENT_COMMANDS_NOT_ALLOWED"
	ReasonManualCommandAllowed  = "MANUAL_COMMAND_ALLOWED"
	ReasonApprovalRequired      = "APPROVAL_REQUIRED"
	ReasonHighFailureRate       = "HIGH_FAILURE_RATE"
	ReasonSessionCommandLimit   = "SESSION_COMMAND_LIMIT"
)

const decidedByKernel = "KERNEL_GOVERNOR"

// Reason is one entry in a Decision's reason list.
type Reason struct {
	Code    string          `json:"code"`
	Details json.RawMessage `json:"details,omitempty"`
}

// Decision is the result of evaluating a mission or command proposal.
type Decision struct {
	Action      Action     `json:"action"`
	Confidence  Confidence `json:"confidence,omitempty"`
	Reasons     []Reason   `json:"reasons,omitempty"`
	DecidedAt   time.Time  `json:"decidedAt"`
	DecidedBy   string     `json:"decidedBy"`
	NextRetryAt *time.Time `json:"-"`
}

// MissionStatus maps a Decision's action to the mission status it implies.
func (d Decision) MissionStatus() string {
	switch d.Action {
	case ActionBlock:
		return "BLOCKED"
	case ActionQuarantine:
		return "QUARANTINED"
	case ActionRetryLater:
		return "RETRY"
	default:
		return "PENDING"
	}
}

// MissionInput is the subset of a mission-create request the engine needs.
type MissionInput struct {
	Goal      string
	OrgID     string
	SiteID    string
	MachineID string
	Signals   json.RawMessage
}

type sessionSignals struct {
	TelemetryPoints int    `json:"telemetryPoints"`
	DurationSec     int    `json:"durationSec"`
	HasBT           bool   `json:"hasBT"`
	HasET           bool   `json:"hasET"`
	CloseReason     string `json:"closeReason"`
}

func (s sessionSignals) present() bool {
	return s.TelemetryPoints != 0 || s.DurationSec != 0 || s.HasBT || s.HasET || s.CloseReason != ""
}

func extractSessionSignals(raw json.RawMessage) sessionSignals {
	if len(raw) == 0 {
		return sessionSignals{}
	}
	var wrapper struct {
		Session sessionSignals `json:"session"`
	}
	_ = json.Unmarshal(raw, &wrapper)
	return wrapper.Session
}

// Engine evaluates missions and command proposals against a Config
// resolved fresh from the Governor Config Store on every call, and a
// Rate Limiter for admission throttling.
type Engine struct {
	configs *governor.Service
	limiter *ratelimit.Limiter
}

// New builds an Engine.
func New(configs *governor.Service, limiter *ratelimit.Limiter) *Engine {
	return &Engine{configs: configs, limiter: limiter}
}

func scopeKey(orgID, siteID, machineID string) string {
	if orgID == "" {
		orgID = "unknown-org"
	}
	if siteID == "" {
		siteID = "unknown-site"
	}
	if machineID == "" {
		machineID = "unknown-machine"
	}
	return fmt.Sprintf("%s/%s/%s", orgID, siteID, machineID)
}

// EvaluateMission runs the ordered rule evaluation: policy, then gate,
// then rate limit, then allow. First match wins.
func (e *Engine) EvaluateMission(ctx context.Context, in MissionInput, now time.Time) (Decision, error) {
	cfg, err := e.configs.GetConfig(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("loading governor config: %w", err)
	}

	// 1. Policy.
	if !cfg.AllowsGoal(in.Goal) {
		return Decision{
			Action:    ActionBlock,
			Reasons:   []Reason{{Code: ReasonGoalNotAllowed}},
			DecidedAt: now,
			DecidedBy: decidedByKernel,
		}, nil
	}

	// 2. Gate (goal-specific; only generate-roast-report has one defined
	// by default — any goal without a gate entry passes straight through).
	var reasons []Reason
	confidence := ConfidenceLow
	if gate, ok := cfg.GateFor(in.Goal); ok {
		signals := extractSessionSignals(in.Signals)

		if !signals.present() && gate.QuarantineOnMissingSignals {
			reasons = append(reasons, Reason{Code: ReasonMissingSignals})
		}
		if signals.TelemetryPoints < gate.MinTelemetryPoints {
			reasons = append(reasons, Reason{Code: ReasonLowTelemetryPoints})
		}
		if signals.DurationSec < gate.MinDurationSec {
			reasons = append(reasons, Reason{Code: ReasonShortSession})
		}
		if gate.RequireBTorET && !signals.HasBT && !signals.HasET {
			reasons = append(reasons, Reason{Code: ReasonNoTempChannels})
		}
		strong := signals.TelemetryPoints >= 2*gate.MinTelemetryPoints && signals.DurationSec >= 2*gate.MinDurationSec
		if signals.CloseReason == "SILENCE_CLOSE" && gate.QuarantineOnSilenceClose && !strong {
			reasons = append(reasons, Reason{Code: ReasonSilenceClose})
		}

		if len(reasons) > 0 {
			return Decision{
				Action:     ActionQuarantine,
				Confidence: ConfidenceLow,
				Reasons:    reasons,
				DecidedAt:  now,
				DecidedBy:  decidedByKernel,
			}, nil
		}

		switch {
		case signals.TelemetryPoints >= 300 && signals.DurationSec >= 360 && signals.HasBT:
			confidence = ConfidenceHigh
		case signals.TelemetryPoints >= gate.MinTelemetryPoints && signals.DurationSec >= gate.MinDurationSec && (signals.HasBT || signals.HasET):
			confidence = ConfidenceMed
		default:
			confidence = ConfidenceLow
		}
	}

	// 3. Rate limit.
	rule := cfg.RuleFor(in.Goal)
	result, err := e.limiter.Take(ctx, scopeKey(in.OrgID, in.SiteID, in.MachineID), in.Goal, rule, now)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limiter: %w", err)
	}
	if !result.Allowed {
		var details json.RawMessage
		if result.NextRetryAt != nil {
			details, _ = json.Marshal(map[string]any{"nextRetryAt": result.NextRetryAt})
		}
		return Decision{
			Action:      ActionRetryLater,
			Reasons:     []Reason{{Code: ReasonRateLimited, Details: details}},
			DecidedAt:   now,
			DecidedBy:   decidedByKernel,
			NextRetryAt: result.NextRetryAt,
		}, nil
	}

	// 4. Allow.
	return Decision{
		Action:     ActionAllow,
		Confidence: confidence,
		DecidedAt:  now,
		DecidedBy:  decidedByKernel,
	}, nil
}

// CommandContext carries the evaluation signals for evaluateCommand that
// don't live on the proposal itself.
type CommandContext struct {
	ActorKind         string
	RecentFailureRate float64
	CommandsInSession int
}

// EvaluateCommand runs the autonomy ladder and safety checks for a command
// proposal awaiting approval.
func (e *Engine) EvaluateCommand(ctx context.Context, cmdCtx CommandContext, now time.Time) (Decision, error) {
	cfg, err := e.configs.GetConfig(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("loading governor config: %w", err)
	}
	autonomy := cfg.CommandAutonomy

	decision := Decision{DecidedAt: now, DecidedBy: decidedByKernel}

	switch autonomy.AutonomyLevel {
	case "L1":
		decision.Action = ActionBlock
		decision.Reasons = []Reason{{Code: ReasonAutonomyLevelTooLow}}
		return decision, nil
	case "L2":
		if cmdCtx.ActorKind == "AGENT" {
			decision.Action = ActionBlock
			decision.Reasons = []Reason{{Code: ReasonAgentCommandsNotAllowed}}
			return decision, nil
		}
		decision.Action = ActionAllow
		decision.Reasons = []Reason{{Code: ReasonManualCommandAllowed}}
	case "L3", "L4", "L5":
		decision.Action = ActionAllow
		decision.Reasons = []Reason{{Code: ReasonApprovalRequired}}
	default:
		decision.Action = ActionAllow
		decision.Reasons = []Reason{{Code: ReasonApprovalRequired}}
	}

	if cmdCtx.RecentFailureRate > autonomy.CommandFailureThreshold {
		decision.Action = ActionBlock
		decision.Reasons = []Reason{{Code: ReasonHighFailureRate}}
		return decision, nil
	}
	if cmdCtx.CommandsInSession >= autonomy.MaxCommandsPerSession {
		decision.Action = ActionBlock
		decision.Reasons = []Reason{{Code: ReasonSessionCommandLimit}}
		return decision, nil
	}

	return decision, nil
}
