package actor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Identifier resolves the Actor behind an incoming request. Two strategies
// are supported: devIdentifier trusts a header set and is the default for
// local development, externalIdentifier validates an OIDC bearer JWT. This
// package is a pluggable boundary, not a new auth system — it delegates to
// whatever already identifies callers upstream.
type Identifier interface {
	Identify(r *http.Request) (Actor, error)
}

// NewIdentifier builds the configured Identifier. mode is "dev" or "external".
func NewIdentifier(ctx context.Context, mode, issuerURL, clientID string) (Identifier, error) {
	switch mode {
	case "external":
		provider, err := oidc.NewProvider(ctx, issuerURL)
		if err != nil {
			return nil, fmt.Errorf("discovering OIDC provider %s: %w", issuerURL, err)
		}
		verifier := provider.Verifier(&oidc.Config{ClientID: clientID})
		return &externalIdentifier{verifier: verifier}, nil
	case "dev", "":
		return &devIdentifier{}, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", mode)
	}
}

// devIdentifier trusts X-Actor-Kind / X-Actor-Id / X-Actor-Org headers with
// no signature verification. Intended for local development only.
type devIdentifier struct{}

func (devIdentifier) Identify(r *http.Request) (Actor, error) {
	kind := Kind(strings.ToUpper(r.Header.Get("X-Actor-Kind")))
	id := r.Header.Get("X-Actor-Id")

	if id == "" {
		return Actor{}, fmt.Errorf("missing X-Actor-Id header")
	}
	switch kind {
	case KindUser, KindAgent, KindSystem:
	default:
		return Actor{}, fmt.Errorf("missing or invalid X-Actor-Kind header %q", kind)
	}

	return Actor{
		Kind:    kind,
		ID:      id,
		OrgID:   r.Header.Get("X-Actor-Org"),
		Display: r.Header.Get("X-Actor-Display"),
	}, nil
}

// oidcClaims are the JWT claims externalIdentifier extracts.
type oidcClaims struct {
	Subject           string `json:"sub"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	ActorKind         string `json:"actor_kind"`
	OrgID             string `json:"org_id"`
}

func (c oidcClaims) displayName() string {
	if c.Name != "" {
		return c.Name
	}
	if c.PreferredUsername != "" {
		return c.PreferredUsername
	}
	return c.Subject
}

// externalIdentifier validates an OIDC bearer JWT and maps its claims to an Actor.
type externalIdentifier struct {
	verifier *oidc.IDTokenVerifier
}

func (e *externalIdentifier) Identify(r *http.Request) (Actor, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") && !strings.HasPrefix(header, "bearer ") {
		return Actor{}, fmt.Errorf("missing bearer token")
	}
	raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(header, "Bearer "), "bearer "))
	if raw == "" {
		return Actor{}, fmt.Errorf("empty bearer token")
	}

	idToken, err := e.verifier.Verify(r.Context(), raw)
	if err != nil {
		return Actor{}, fmt.Errorf("verifying token: %w", err)
	}

	var claims oidcClaims
	if err := idToken.Claims(&claims); err != nil {
		return Actor{}, fmt.Errorf("extracting claims: %w", err)
	}
	if claims.Subject == "" {
		return Actor{}, fmt.Errorf("token missing sub claim")
	}

	kind := Kind(strings.ToUpper(claims.ActorKind))
	switch kind {
	case KindUser, KindAgent, KindSystem:
	default:
		kind = KindUser
	}

	return Actor{
		Kind:    kind,
		ID:      claims.Subject,
		OrgID:   claims.OrgID,
		Display: claims.displayName(),
	}, nil
}

// DeviceKeyAuthenticator validates worker device keys (bcrypt hash lookups)
// for agent executors that present a static key instead of an OIDC token.
type DeviceKeyAuthenticator interface {
	Authenticate(ctx context.Context, rawKey string) (Actor, error)
}

// Middleware authenticates the request via id, falling back to a device key
// on the X-Device-Key header when present, and stores the resolved Actor in
// the request context. Requests that resolve to no identity are rejected.
func Middleware(id Identifier, devices DeviceKeyAuthenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if devices != nil {
				if rawKey := r.Header.Get("X-Device-Key"); rawKey != "" {
					a, err := devices.Authenticate(r.Context(), rawKey)
					if err != nil {
						logger.Warn("device key authentication failed", "error", err)
						respondUnauthorized(w, "invalid device key")
						return
					}
					next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), a)))
					return
				}
			}

			a, err := id.Identify(r)
			if err != nil {
				logger.Warn("actor identification failed", "error", err)
				respondUnauthorized(w, "no valid actor identification provided")
				return
			}

			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), a)))
		})
	}
}

func respondUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": message,
	})
}
