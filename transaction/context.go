package transaction

import (
	"context"

	"github.com/google/uuid"
)

type executionKey struct{}

// WithExecutionID returns ctx carrying an execution id, adding a new one when
// ctx has none. Transactions are bound to this id, so every call that should
// share a transaction must receive the returned context.
func WithExecutionID(ctx context.Context) (context.Context, string) {
	if id, ok := ExecutionID(ctx); ok {
		return ctx, id
	}
	id := uuid.NewString()
	return context.WithValue(ctx, executionKey{}, id), id
}

// ExecutionID returns the execution id carried by ctx.
func ExecutionID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(executionKey{}).(string)
	return id, ok && id != ""
}
