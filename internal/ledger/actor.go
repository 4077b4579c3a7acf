package ledger

import (
	"context"
	"strings"
)

// SystemActor is recorded when a mutation carries no actor.
const SystemActor = "system"

type actorCtxKey struct{}

// WithActor attaches the display name or id of whoever triggers a mutation.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorCtxKey{}, strings.TrimSpace(actor))
}

// ActorFrom returns the actor in ctx, or SystemActor.
func ActorFrom(ctx context.Context) string {
	if actor, ok := ctx.Value(actorCtxKey{}).(string); ok && actor != "" {
		return actor
	}
	return SystemActor
}
