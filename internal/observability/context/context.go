package context

import (
	stdctx "context"
	"strings"
)

type requestIDKey struct{}
type unitIDKey struct{}
type actorKey struct{}

type actor struct {
	Type string
	ID   string
}

func WithRequestID(ctx stdctx.Context, requestID string) stdctx.Context {
	if ctx == nil {
		ctx = stdctx.Background()
	}
	return stdctx.WithValue(ctx, requestIDKey{}, strings.TrimSpace(requestID))
}

func RequestIDFromContext(ctx stdctx.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey{}).(string)
	return value
}

// WithUnitID tags the context with the collection unit a request or task works on.
func WithUnitID(ctx stdctx.Context, unitID string) stdctx.Context {
	if ctx == nil {
		ctx = stdctx.Background()
	}
	return stdctx.WithValue(ctx, unitIDKey{}, strings.TrimSpace(unitID))
}

func UnitIDFromContext(ctx stdctx.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(unitIDKey{}).(string)
	return value
}

func WithActor(ctx stdctx.Context, actorType, actorID string) stdctx.Context {
	if ctx == nil {
		ctx = stdctx.Background()
	}
	return stdctx.WithValue(ctx, actorKey{}, actor{
		Type: strings.TrimSpace(actorType),
		ID:   strings.TrimSpace(actorID),
	})
}

func ActorFromContext(ctx stdctx.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	value, ok := ctx.Value(actorKey{}).(actor)
	if !ok {
		return "", ""
	}
	return value.Type, value.ID
}
