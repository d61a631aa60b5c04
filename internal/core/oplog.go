package core

import (
	"context"
	"time"
)

// Operation is one appended entry of the operation log: who did what, when,
// and with which arguments. The log is append-only and lives outside the
// entity store so that auditing survives entity deletion.
type Operation struct {
	ID        int            `json:"id"`
	UserID    *int           `json:"user_id"`
	Type      string         `json:"type"`
	Name      string         `json:"name"`
	Timestamp time.Time      `json:"timestamp"`
	Args      []any          `json:"args"`
	Kwargs    map[string]any `json:"kwargs"`
}

// OperationLogger appends operations to a durable log. Implementations must
// be safe for concurrent appends.
type OperationLogger interface {
	Append(ctx context.Context, op Operation) error
}
