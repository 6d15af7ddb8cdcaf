package governor

import "testing"

func TestDefault(t *testing.T) {
	cfg := Default()

	if !cfg.AllowsGoal(reportGoal) {
		t.Errorf("default policy should allow %q", reportGoal)
	}
	if cfg.AllowsGoal("some-other-goal") {
		t.Error("default policy should not allow an undeclared goal")
	}

	gate, ok := cfg.GateFor(reportGoal)
	if !ok {
		t.Fatalf("expected a gate for %q", reportGoal)
	}
	if gate.MinTelemetryPoints != 60 || gate.MinDurationSec != 120 {
		t.Errorf("unexpected default gate thresholds: %+v", gate)
	}

	rule := cfg.RuleFor(reportGoal)
	if rule.Capacity != 10 {
		t.Errorf("default rate limit capacity = %v, want 10", rule.Capacity)
	}

	if cfg.CommandAutonomy.AutonomyLevel != "L3" {
		t.Errorf("default autonomy level = %q, want L3", cfg.CommandAutonomy.AutonomyLevel)
	}
}

func TestGateFor_UnknownGoal(t *testing.T) {
	cfg := Default()
	if _, ok := cfg.GateFor("unregistered-goal"); ok {
		t.Error("expected no gate for an unregistered goal")
	}
}

func TestRuleFor_UnknownGoalFallsBackToDefault(t *testing.T) {
	cfg := Config{}
	rule := cfg.RuleFor("anything")
	want := Default().RateLimits[reportGoal].ToRule()
	if rule != want {
		t.Errorf("RuleFor() fallback = %+v, want %+v", rule, want)
	}
}

func TestMergeWithDefaults(t *testing.T) {
	d := Default()

	t.Run("empty config fills in entirely", func(t *testing.T) {
		merged := mergeWithDefaults(Config{}, d)
		if merged.CommandAutonomy.AutonomyLevel != d.CommandAutonomy.AutonomyLevel {
			t.Error("expected CommandAutonomy to be filled from defaults")
		}
		if len(merged.Policy.AllowedGoals) != len(d.Policy.AllowedGoals) {
			t.Error("expected Policy.AllowedGoals to be filled from defaults")
		}
		if merged.RateLimits == nil || merged.Gates == nil {
			t.Error("expected RateLimits and Gates to be filled from defaults")
		}
	})

	t.Run("explicit fields are preserved", func(t *testing.T) {
		custom := Config{
			Policy:          Policy{AllowedGoals: []string{"custom-goal"}},
			CommandAutonomy: CommandAutonomy{AutonomyLevel: "L1"},
		}
		merged := mergeWithDefaults(custom, d)
		if merged.CommandAutonomy.AutonomyLevel != "L1" {
			t.Errorf("expected explicit AutonomyLevel to survive merge, got %q", merged.CommandAutonomy.AutonomyLevel)
		}
		if len(merged.Policy.AllowedGoals) != 1 || merged.Policy.AllowedGoals[0] != "custom-goal" {
			t.Errorf("expected explicit AllowedGoals to survive merge, got %v", merged.Policy.AllowedGoals)
		}
		if merged.RateLimits == nil {
			t.Error("expected nil RateLimits to still be filled from defaults")
		}
	})
}
