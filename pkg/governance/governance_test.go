package governance

import (
	"encoding/json"
	"testing"
	"time"
)

func TestScopeKey(t *testing.T) {
	tests := []struct {
		name                       string
		orgID, siteID, machineID   string
		want                       string
	}{
		{name: "all present", orgID: "acme", siteID: "site-1", machineID: "mach-1", want: "acme/site-1/mach-1"},
		{name: "all absent", orgID: "", siteID: "", machineID: "", want: "unknown-org/unknown-site/unknown-machine"},
		{name: "partial", orgID: "acme", siteID: "", machineID: "mach-1", want: "acme/unknown-site/mach-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := scopeKey(tt.orgID, tt.siteID, tt.machineID); got != tt.want {
				t.Errorf("scopeKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSessionSignals_Present(t *testing.T) {
	if (sessionSignals{}).present() {
		t.Error("zero value should not report present")
	}
	if !(sessionSignals{DurationSec: 5}).present() {
		t.Error("non-zero DurationSec should report present")
	}
}

func TestExtractSessionSignals(t *testing.T) {
	raw := json.RawMessage(`{"session":{"telemetryPoints":10,"hasET":true}}`)
	got := extractSessionSignals(raw)
	if got.TelemetryPoints != 10 || !got.HasET {
		t.Errorf("extractSessionSignals() = %+v", got)
	}

	if got := extractSessionSignals(nil); got.present() {
		t.Error("nil input should yield a non-present zero value")
	}
}

func TestDecision_MissionStatus(t *testing.T) {
	tests := []struct {
		action Action
		want   string
	}{
		{ActionBlock, "BLOCKED"},
		{ActionQuarantine, "QUARANTINED"},
		{ActionRetryLater, "RETRY"},
		{ActionAllow, "PENDING"},
	}
	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			d := Decision{Action: tt.action, DecidedAt: time.Now()}
			if got := d.MissionStatus(); got != tt.want {
				t.Errorf("MissionStatus() = %q, want %q", got, tt.want)
			}
		})
	}
}
