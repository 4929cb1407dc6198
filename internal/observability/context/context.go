package context

import (
	"context"
	"strings"
)

type requestIDKey struct{}
type actorKey struct{}
type gatewayKey struct{}

type actor struct {
	role    string
	subject string
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

// WithActor records the authenticated admin principal on the context.
func WithActor(ctx context.Context, role, subject string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor{
		role:    strings.TrimSpace(role),
		subject: strings.TrimSpace(subject),
	})
}

func ActorFromContext(ctx context.Context) (role string, subject string) {
	if ctx == nil {
		return "", ""
	}
	a, ok := ctx.Value(actorKey{}).(actor)
	if !ok {
		return "", ""
	}
	return a.role, a.subject
}

func WithGateway(ctx context.Context, gateway string) context.Context {
	gateway = strings.TrimSpace(gateway)
	if gateway == "" {
		return ctx
	}
	return context.WithValue(ctx, gatewayKey{}, gateway)
}

func GatewayFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(gatewayKey{}).(string)
	return v
}
