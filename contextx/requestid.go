package contextx

import (
	"context"

	"github.com/google/uuid"
)

// RequestIDHeader is the header outgoing requests carry the ID in.
const RequestIDHeader = "X-Request-ID"

// WithRequestID returns a derived context carrying id. Backend requests made
// with it send id in RequestIDHeader and log it as request_id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request ID stored in ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// EnsureRequestID returns ctx and its request ID, attaching a new random ID
// first if ctx has none.
func EnsureRequestID(ctx context.Context) (context.Context, string) {
	if id := RequestIDFromContext(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return WithRequestID(ctx, id), id
}
