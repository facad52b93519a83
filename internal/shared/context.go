package shared

import "context"

type actorContextKey struct{}

// Actor identifies the user performing a request. Authentication happens in
// the front-end gateway; the API trusts the forwarded actor identity.
type Actor struct {
	ID   int64
	Role string
}

// ContextWithActor stores the acting user in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the acting user from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
