package mission

import (
	"encoding/json"
	"testing"
)

func TestStatus_Terminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusPending, false},
		{StatusRunning, false},
		{StatusRetry, false},
		{StatusDone, true},
		{StatusFailed, true},
		{StatusQuarantined, false},
		{StatusBlocked, true},
		{StatusCanceled, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.want {
				t.Errorf("Status(%s).Terminal() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestMission_OrgID(t *testing.T) {
	tests := []struct {
		name    string
		context json.RawMessage
		want    string
	}{
		{name: "empty context", context: nil, want: ""},
		{name: "missing orgId", context: json.RawMessage(`{"siteId":"s1"}`), want: ""},
		{name: "present orgId", context: json.RawMessage(`{"orgId":"acme","siteId":"s1"}`), want: "acme"},
		{name: "malformed json", context: json.RawMessage(`not-json`), want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Mission{Context: tt.context}
			if got := m.OrgID(); got != tt.want {
				t.Errorf("OrgID() = %q, want %q", got, tt.want)
			}
		})
	}
}
