// Package actor identifies the principal behind an HTTP request — an
// operator (USER), an autonomous agent executor (AGENT), or the plane
// itself (SYSTEM) — and carries that identity through the request context.
//
// Authentication backends are out of scope for the Mission Control Plane
// itself: this package only defines the pluggable boundary other services
// plug an identity provider into.
package actor

import (
	"context"
)

// Kind is the class of principal issuing a request.
type Kind string

const (
	KindUser   Kind = "USER"
	KindAgent  Kind = "AGENT"
	KindSystem Kind = "SYSTEM"
)

// Actor is an identified principal: an operator, an agent executor, or
// the plane itself.
type Actor struct {
	Kind    Kind
	ID      string
	OrgID   string
	Display string
}

// System returns the built-in SYSTEM actor used for internal/background operations.
func System() Actor {
	return Actor{Kind: KindSystem, ID: "kernel", Display: "company-kernel"}
}

type ctxKey string

const actorKey ctxKey = "kernel_actor"

// NewContext stores the actor in the context.
func NewContext(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// FromContext extracts the actor from the context, or the zero Actor if unset.
func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey).(Actor)
	return a, ok
}
