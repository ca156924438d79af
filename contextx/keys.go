// Package contextx carries per-call values through context.Context.
package contextx

type contextKey int

const (
	requestIDKey contextKey = iota
)
