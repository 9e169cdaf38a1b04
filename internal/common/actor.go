package common

import (
	"context"
	"strings"
)

// Actor is the authenticated caller behind a request.
type Actor struct {
	ID    string
	Roles []string
}

type actorKey struct{}

// WithActor attaches the caller to ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the caller set by the auth middleware. ok is false for anonymous requests.
func ActorFrom(ctx context.Context) (a Actor, ok bool) {
	a, ok = ctx.Value(actorKey{}).(Actor)
	if ok && a.ID == "" {
		return Actor{}, false
	}
	return a, ok
}

// HasRole reports whether the actor carries role.
func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}
