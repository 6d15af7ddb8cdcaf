// Package governor implements the Governor Config Store (component C): a
// single versioned JSON document describing admission policy and gate
// thresholds, defaulted whenever the store holds nothing usable.
package governor

import "github.com/kilnworks/companykernel/pkg/ratelimit"

// SettingsKey is the kernel_settings row holding the governor document.
const SettingsKey = "governor_config"

// GateThresholds are the per-goal report-gate parameters.
type GateThresholds struct {
	MinTelemetryPoints       int  `json:"minTelemetryPoints"`
	MinDurationSec           int  `json:"minDurationSec"`
	RequireBTorET            bool `json:"requireBTorET"`
	QuarantineOnMissingSignals bool `json:"quarantineOnMissingSignals"`
	QuarantineOnSilenceClose  bool `json:"quarantineOnSilenceClose"`
}

// RateLimitRule mirrors ratelimit.Rule in the JSON shape stored in config.
type RateLimitRule struct {
	Capacity     float64 `json:"capacity"`
	RefillPerSec float64 `json:"refillPerSec"`
}

func (r RateLimitRule) ToRule() ratelimit.Rule {
	return ratelimit.Rule{Capacity: r.Capacity, RefillPerSec: r.RefillPerSec}
}

// Policy gates which goals may be admitted at all.
type Policy struct {
	AllowedGoals []string `json:"allowedGoals"`
}

// CommandAutonomy governs the command approval autonomy ladder.
type CommandAutonomy struct {
	AutonomyLevel           string `json:"autonomyLevel"`
	RequireApprovalForAll   bool   `json:"requireApprovalForAll"`
	CommandFailureThreshold float64 `json:"commandFailureThreshold"`
	MaxCommandsPerSession   int    `json:"maxCommandsPerSession"`
	EvaluationWindowMinutes int    `json:"evaluationWindowMinutes"`
}

// Config is the full governor document.
type Config struct {
	RateLimits      map[string]RateLimitRule  `json:"rateLimits"`
	Gates           map[string]GateThresholds `json:"gates"`
	Policy          Policy                    `json:"policy"`
	CommandAutonomy CommandAutonomy           `json:"commandAutonomy"`
}

// reportGoal is the only goal with a built-in gate in the default config.
const reportGoal = "generate-roast-report"

// Default returns the built-in default config: report goal allowed, default
// gate thresholds, and a {capacity:10, refillPerSec:10/3600} bucket.
func Default() Config {
	return Config{
		RateLimits: map[string]RateLimitRule{
			reportGoal: {Capacity: 10, RefillPerSec: 10.0 / 3600.0},
		},
		Gates: map[string]GateThresholds{
			reportGoal: {
				MinTelemetryPoints:         60,
				MinDurationSec:             120,
				RequireBTorET:              true,
				QuarantineOnMissingSignals: true,
				QuarantineOnSilenceClose:   true,
			},
		},
		Policy: Policy{AllowedGoals: []string{reportGoal}},
		CommandAutonomy: CommandAutonomy{
			AutonomyLevel:           "L3",
			RequireApprovalForAll:   true,
			CommandFailureThreshold: 0.5,
			MaxCommandsPerSession:   10,
			EvaluationWindowMinutes: 60,
		},
	}
}

// mergeWithDefaults fills the unset parts of c from d, per field: a nil
// RateLimits or Gates map, an empty AllowedGoals list, and each zero-valued
// numeric CommandAutonomy field. A CommandAutonomy with no AutonomyLevel is
// taken from d as a whole; otherwise RequireApprovalForAll keeps c's value.
// Entries inside the RateLimits and Gates maps are not merged.
func mergeWithDefaults(c, d Config) Config {
	if c.RateLimits == nil {
		c.RateLimits = d.RateLimits
	}
	if c.Gates == nil {
		c.Gates = d.Gates
	}
	if len(c.Policy.AllowedGoals) == 0 {
		c.Policy.AllowedGoals = d.Policy.AllowedGoals
	}
	if c.CommandAutonomy.AutonomyLevel == "" {
		c.CommandAutonomy = d.CommandAutonomy
	} else {
		if c.CommandAutonomy.CommandFailureThreshold == 0 {
			c.CommandAutonomy.CommandFailureThreshold = d.CommandAutonomy.CommandFailureThreshold
		}
		if c.CommandAutonomy.MaxCommandsPerSession == 0 {
			c.CommandAutonomy.MaxCommandsPerSession = d.CommandAutonomy.MaxCommandsPerSession
		}
		if c.CommandAutonomy.EvaluationWindowMinutes == 0 {
			c.CommandAutonomy.EvaluationWindowMinutes = d.CommandAutonomy.EvaluationWindowMinutes
		}
	}
	return c
}

// RuleFor returns the token bucket rule for goal, falling back to the
// default config's rule when goal has no explicit entry.
func (c Config) RuleFor(goal string) ratelimit.Rule {
	if r, ok := c.RateLimits[goal]; ok {
		return r.ToRule()
	}
	return Default().RateLimits[reportGoal].ToRule()
}

// GateFor returns the gate thresholds for goal, or the zero value (no
// gating beyond ALLOW) when goal has no explicit entry.
func (c Config) GateFor(goal string) (GateThresholds, bool) {
	g, ok := c.Gates[goal]
	return g, ok
}

// AllowsGoal reports whether goal is in the admission policy allowlist.
func (c Config) AllowsGoal(goal string) bool {
	for _, g := range c.Policy.AllowedGoals {
		if g == goal {
			return true
		}
	}
	return false
}
