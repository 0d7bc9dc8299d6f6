package driver

import "context"

// driverKey is the context.Context key used to propagate a Ring handle to
// code that needs to submit operations without a thread-local to rely on
// (Go has no per-goroutine storage equivalent to the original runtime's
// thread-local driver handle).
type driverKey struct{}

// NewContext returns a copy of ctx carrying ring, retrievable with FromContext.
func NewContext(ctx context.Context, ring *Ring) context.Context {
	return context.WithValue(ctx, driverKey{}, ring)
}

// FromContext extracts the Ring stashed by NewContext, if any.
func FromContext(ctx context.Context) (*Ring, bool) {
	ring, ok := ctx.Value(driverKey{}).(*Ring)
	return ring, ok
}
