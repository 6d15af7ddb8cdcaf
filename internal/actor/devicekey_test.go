package actor

import (
	"context"
	"errors"
	"testing"
)

func TestSplitDeviceKey(t *testing.T) {
	tests := []struct {
		name          string
		raw           string
		wantActorID   string
		wantSecret    string
		wantOK        bool
	}{
		{name: "well-formed", raw: "agent-1.s3cr3t", wantActorID: "agent-1", wantSecret: "s3cr3t", wantOK: true},
		{name: "secret contains dots", raw: "agent-1.a.b.c", wantActorID: "agent-1", wantSecret: "a.b.c", wantOK: true},
		{name: "no separator", raw: "agent-1", wantOK: false},
		{name: "empty", raw: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actorID, secret, ok := splitDeviceKey(tt.raw)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if actorID != tt.wantActorID || secret != tt.wantSecret {
				t.Errorf("splitDeviceKey(%q) = (%q, %q), want (%q, %q)", tt.raw, actorID, secret, tt.wantActorID, tt.wantSecret)
			}
		})
	}
}

func TestHashDeviceKey_RoundTrip(t *testing.T) {
	hash, err := HashDeviceKey("super-secret")
	if err != nil {
		t.Fatalf("HashDeviceKey() error: %v", err)
	}
	if hash == "super-secret" {
		t.Error("hash should not equal the plaintext secret")
	}

	store := fakeDeviceKeyStore{rows: map[string]DeviceKeyRow{
		"agent-1": {ActorID: "agent-1", OrgID: "acme", Display: "Agent One", KeyHash: hash},
	}}
	auth := NewDeviceKeyAuthenticator(store)

	a, err := auth.Authenticate(context.Background(), "agent-1.super-secret")
	if err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}
	if a.Kind != KindAgent || a.ID != "agent-1" || a.OrgID != "acme" {
		t.Errorf("Authenticate() = %+v", a)
	}
}

func TestDeviceKeyAuthenticator_WrongSecret(t *testing.T) {
	hash, err := HashDeviceKey("correct-secret")
	if err != nil {
		t.Fatalf("HashDeviceKey() error: %v", err)
	}
	store := fakeDeviceKeyStore{rows: map[string]DeviceKeyRow{
		"agent-1": {ActorID: "agent-1", KeyHash: hash},
	}}
	auth := NewDeviceKeyAuthenticator(store)

	if _, err := auth.Authenticate(context.Background(), "agent-1.wrong-secret"); err == nil {
		t.Error("expected an error for a mismatched secret")
	}
}

func TestDeviceKeyAuthenticator_Revoked(t *testing.T) {
	hash, _ := HashDeviceKey("secret")
	store := fakeDeviceKeyStore{rows: map[string]DeviceKeyRow{
		"agent-1": {ActorID: "agent-1", KeyHash: hash, Revoked: true},
	}}
	auth := NewDeviceKeyAuthenticator(store)

	if _, err := auth.Authenticate(context.Background(), "agent-1.secret"); err == nil {
		t.Error("expected an error for a revoked device key")
	}
}

func TestDeviceKeyAuthenticator_MalformedKey(t *testing.T) {
	auth := NewDeviceKeyAuthenticator(fakeDeviceKeyStore{})
	if _, err := auth.Authenticate(context.Background(), "no-dot-in-here"); err == nil {
		t.Error("expected an error for a malformed device key")
	}
}

func TestDeviceKeyAuthenticator_UnknownActor(t *testing.T) {
	auth := NewDeviceKeyAuthenticator(fakeDeviceKeyStore{})
	if _, err := auth.Authenticate(context.Background(), "ghost.secret"); err == nil {
		t.Error("expected an error for an unknown actor ID")
	}
}

type fakeDeviceKeyStore struct {
	rows map[string]DeviceKeyRow
}

func (s fakeDeviceKeyStore) GetDeviceKey(ctx context.Context, actorID string) (DeviceKeyRow, error) {
	row, ok := s.rows[actorID]
	if !ok {
		return DeviceKeyRow{}, errors.New("devicekey: not found")
	}
	return row, nil
}
