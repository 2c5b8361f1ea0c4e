package client

import "context"

type clientKey struct{}

// NewContext returns a copy of ctx carrying rc as the current routing client.
func NewContext(ctx context.Context, rc *RoutingClient) context.Context {
	return context.WithValue(ctx, clientKey{}, rc)
}

// FromContext returns the routing client stored by NewContext, if any.
func FromContext(ctx context.Context) (*RoutingClient, bool) {
	rc, ok := ctx.Value(clientKey{}).(*RoutingClient)
	return rc, ok
}
