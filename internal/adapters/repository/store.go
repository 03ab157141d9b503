// Package repository defines the persistent store interfaces and errors.
//
// Stores are synchronous record stores with read-then-write semantics per
// entity. Serialization of concurrent mutations is the job of the domain
// services, not the stores.
package repository

import (
	"context"

	"github.com/yhlam/guildcore/internal/domain/model"
)

// Accounts provides access to member accounts and their audit trail.
type Accounts interface {
	// Get returns the account for userID, creating an empty one on first
	// reference. The created account is not persisted until Save.
	Get(ctx context.Context, userID string) (model.Account, error)

	// Save persists the account and, when entry is non-nil, appends the
	// audit row in the same atomic step. Either both land or neither does.
	Save(ctx context.Context, acct model.Account, entry *model.LedgerEntry) error

	// List returns all known accounts.
	List(ctx context.Context) ([]model.Account, error)

	// Entries returns up to limit audit rows for userID, newest first.
	// limit <= 0 means no limit.
	Entries(ctx context.Context, userID string, limit int) ([]model.LedgerEntry, error)
}

// Events provides access to evaluation event records.
type Events interface {
	// Get returns the event or ErrNotFound.
	Get(ctx context.Context, id string) (model.EvaluationEvent, error)

	// Save persists the whole event record.
	Save(ctx context.Context, ev model.EvaluationEvent) error

	// Active returns events that are not closed, for startup recovery.
	Active(ctx context.Context) ([]model.EvaluationEvent, error)
}

// Giveaways provides access to giveaway records.
type Giveaways interface {
	// Get returns the giveaway or ErrNotFound.
	Get(ctx context.Context, id string) (model.Giveaway, error)

	// Save persists the whole giveaway record.
	Save(ctx context.Context, gw model.Giveaway) error

	// Active returns giveaways still open, for startup recovery.
	Active(ctx context.Context) ([]model.Giveaway, error)
}

// Store bundles the three record stores behind one handle.
type Store interface {
	Accounts() Accounts
	Events() Events
	Giveaways() Giveaways
	Close() error
}
