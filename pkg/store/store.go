// Package store is the persistence layer behind session configs,
// conversation logs, accounts and usage. Two backends implement the
// same contract: a per-process (or per-session) file tree and a
// process-global Postgres pool. Pipeline components treat the store as
// best-effort: write failures are logged by callers and never fail a
// session.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Read and ReadRecord when nothing is stored
// under the requested key.
var ErrNotFound = errors.New("store: not found")

// UsageSummary aggregates usage events for an account.
type UsageSummary struct {
	TotalTokens int64
}

// Store is the persistence contract consumed by the pipeline.
//
// Entity blobs are addressed by (accountID, entity, sessionID); the
// pipeline uses entities "sessions" (merged session config) and
// "conversations" (append-only transcript). Records are row-shaped data
// for the account manager.
type Store interface {
	Append(ctx context.Context, accountID, entity, sessionID, content string) error
	Overwrite(ctx context.Context, accountID, entity, sessionID, content string) error
	Read(ctx context.Context, accountID, entity, sessionID string) (string, error)
	Delete(ctx context.Context, accountID, entity, sessionID string) error
	Exists(ctx context.Context, accountID, entity, sessionID string) (bool, error)

	Insert(ctx context.Context, table string, data map[string]any) error
	Update(ctx context.Context, table string, data, where map[string]any) error
	ReadRecord(ctx context.Context, table string, where map[string]any) (map[string]any, error)
	DeleteRecord(ctx context.Context, table string, where map[string]any) error

	UsageSum(ctx context.Context, accountID string, fromMs, toMs int64) (*UsageSummary, error)

	Flush(ctx context.Context) error
	Cleanup() error

	// Exclusive reports whether this handle is owned by a single
	// session. Exclusive stores are closed with the session; shared
	// singletons are left open.
	Exclusive() bool
}
