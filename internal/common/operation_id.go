package common

import (
	"context"

	"github.com/segmentio/ksuid"
)

type ctxKey string

const OperationIDKey string = "operationID"
const operationIDKeyCtx ctxKey = ctxKey(OperationIDKey)

// GenerateOperationID returns a time-sortable globally unique identifier.
// Every response on the session channel carries one so log lines and wire
// messages can be correlated.
func GenerateOperationID() string {
	return ksuid.New().String()
}

// WithOperationID attaches an operation id to the context.
func WithOperationID(ctx context.Context, oid string) context.Context {
	return context.WithValue(ctx, operationIDKeyCtx, oid)
}

// OperationID returns the operation id attached to the context, or an empty
// string when there is none.
func OperationID(ctx context.Context) string {
	oid, _ := ctx.Value(operationIDKeyCtx).(string)
	return oid
}
