package actor

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DeviceKeyRow is a single row from the device_keys table.
type DeviceKeyRow struct {
	ActorID string
	OrgID   string
	Display string
	KeyHash string
	Revoked bool
}

// DeviceKeyStore looks up device keys by their actor ID prefix, the only
// part of the key the caller sends in cleartext alongside the secret.
type DeviceKeyStore interface {
	GetDeviceKey(ctx context.Context, actorID string) (DeviceKeyRow, error)
}

// deviceKeyAuthenticator implements DeviceKeyAuthenticator against a
// DeviceKeyStore, comparing the presented key against its bcrypt hash.
// Device keys identify AGENT actors only — a worker holding a device key
// has no standing to act as a USER.
type deviceKeyAuthenticator struct {
	store DeviceKeyStore
}

// NewDeviceKeyAuthenticator builds a DeviceKeyAuthenticator backed by store.
func NewDeviceKeyAuthenticator(store DeviceKeyStore) DeviceKeyAuthenticator {
	return &deviceKeyAuthenticator{store: store}
}

// device keys are sent as "<actorID>.<secret>" so the lookup can be indexed
// on actorID without scanning every row's hash.
func splitDeviceKey(raw string) (actorID, secret string, ok bool) {
	for i := 0; i < len(raw); i++ {
		if raw[i] == '.' {
			return raw[:i], raw[i+1:], true
		}
	}
	return "", "", false
}

func (a *deviceKeyAuthenticator) Authenticate(ctx context.Context, rawKey string) (Actor, error) {
	actorID, secret, ok := splitDeviceKey(rawKey)
	if !ok {
		return Actor{}, fmt.Errorf("malformed device key")
	}

	row, err := a.store.GetDeviceKey(ctx, actorID)
	if err != nil {
		return Actor{}, fmt.Errorf("looking up device key: %w", err)
	}
	if row.Revoked {
		return Actor{}, fmt.Errorf("device key revoked")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(row.KeyHash), []byte(secret)); err != nil {
		return Actor{}, fmt.Errorf("device key mismatch")
	}

	return Actor{
		Kind:    KindAgent,
		ID:      row.ActorID,
		OrgID:   row.OrgID,
		Display: row.Display,
	}, nil
}

// HashDeviceKey returns the bcrypt hash of a raw device key secret, used
// when provisioning a new device_keys row.
func HashDeviceKey(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing device key: %w", err)
	}
	return string(hash), nil
}
