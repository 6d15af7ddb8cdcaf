// Package slack sends best-effort operator notifications for the Command
// Approval Pipeline. It is peripheral: a disabled or failing notifier never
// blocks a proposal's lifecycle, since notification side channels do not
// participate in the core invariants.
package slack

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"
)

// ProposalInfo holds the data needed to build a command proposal notification.
type ProposalInfo struct {
	ProposalID  string
	CommandType string
	MachineID   string
	TargetValue float64
	TargetUnit  string
	ProposedBy  string
	Reasoning   string
}

// Notifier sends messages to a Slack channel.
type Notifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// NewNotifier creates a Slack Notifier. If botToken is empty, the notifier
// is a noop (logging only) — command approval notifications are optional.
func NewNotifier(botToken, channel string, logger *slog.Logger) *Notifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &Notifier{
		client:  client,
		channel: channel,
		logger:  logger,
	}
}

// IsEnabled reports whether the notifier has a usable Slack client.
func (n *Notifier) IsEnabled() bool {
	return n.client != nil && n.channel != ""
}

// PostProposal notifies operators that a command proposal is awaiting
// approval. Never returns an error to its caller's caller — the pipeline
// logs and moves on so an outage in Slack never blocks PENDING_APPROVAL.
func (n *Notifier) PostProposal(ctx context.Context, p ProposalInfo) (ts string, err error) {
	if !n.IsEnabled() {
		n.logger.Debug("slack notifier disabled, skipping proposal post",
			"proposal_id", p.ProposalID,
			"command_type", p.CommandType,
		)
		return "", nil
	}

	text := fmt.Sprintf(":hourglass_flowing_sand: Command proposal %s awaiting approval: %s on %s → %g %s (proposed by %s)",
		p.ProposalID, p.CommandType, p.MachineID, p.TargetValue, p.TargetUnit, p.ProposedBy)
	if p.Reasoning != "" {
		text += fmt.Sprintf("\nReasoning: %s", p.Reasoning)
	}

	_, ts, err = n.client.PostMessageContext(ctx, n.channel, goslack.MsgOptionText(text, false))
	if err != nil {
		return "", fmt.Errorf("posting command proposal to slack: %w", err)
	}

	n.logger.Info("posted command proposal to slack", "proposal_id", p.ProposalID, "ts", ts)
	return ts, nil
}

// PostThreadReply posts a reply in a thread, used to report approval,
// rejection, or execution outcomes alongside the original proposal post.
func (n *Notifier) PostThreadReply(ctx context.Context, threadTS, text string) error {
	if !n.IsEnabled() || threadTS == "" {
		return nil
	}

	_, _, err := n.client.PostMessageContext(ctx, n.channel,
		goslack.MsgOptionText(text, false),
		goslack.MsgOptionTS(threadTS),
	)
	if err != nil {
		return fmt.Errorf("posting thread reply to slack: %w", err)
	}
	return nil
}
