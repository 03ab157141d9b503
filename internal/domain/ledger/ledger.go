// Package ledger owns point balances and the append-only audit trail.
//
// Every balance change flows through Apply so the account row and its
// ledger entry are persisted together. Mutations for the same user are
// serialized on a per-user lock; different users proceed concurrently.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yhlam/guildcore/internal/adapters/repository"
	"github.com/yhlam/guildcore/internal/domain/model"
	"github.com/yhlam/guildcore/pkg/metrics"
)

// Ledger applies point deltas and maintains per-user counters.
type Ledger struct {
	accounts repository.Accounts
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option applies a configuration option to the Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a ledger backed by the given account store.
func New(accounts repository.Accounts, opts ...Option) *Ledger {
	l := &Ledger{
		accounts: accounts,
		now:      func() time.Time { return time.Now().UTC() },
		locks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// lockFor returns the mutex serializing mutations for one user.
func (l *Ledger) lockFor(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[userID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[userID] = m
	}
	return m
}

// Apply adds delta to the user's balance and appends an audit entry.
// Lifetime earnings grow only on positive deltas and never drop below
// zero. A zero delta still records the entry.
func (l *Ledger) Apply(ctx context.Context, userID string, delta int64, reason string) (model.Account, model.LedgerEntry, error) {
	mu := l.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	return l.applyLocked(ctx, userID, delta, reason)
}

func (l *Ledger) applyLocked(ctx context.Context, userID string, delta int64, reason string) (model.Account, model.LedgerEntry, error) {
	acct, err := l.accounts.Get(ctx, userID)
	if err != nil {
		return model.Account{}, model.LedgerEntry{}, fmt.Errorf("load account %s: %w", userID, err)
	}

	now := l.now()
	acct.Balance += delta
	if delta > 0 {
		acct.LifetimeEarned += delta
	}
	if acct.LifetimeEarned < 0 {
		acct.LifetimeEarned = 0
	}
	acct.LastActive = now

	entry := model.LedgerEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Delta:     delta,
		Reason:    reason,
		Timestamp: now,
	}
	if err := l.accounts.Save(ctx, acct, &entry); err != nil {
		return model.Account{}, model.LedgerEntry{}, fmt.Errorf("save account %s: %w", userID, err)
	}
	metrics.RecordLedgerEntry(delta)
	return acct, entry, nil
}

// Transfer moves amount points from one user to another, debiting and
// crediting with separate audit entries.
func (l *Ledger) Transfer(ctx context.Context, from, to string, amount int64, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("transfer amount must be positive, got %d", amount)
	}
	if from == to {
		return fmt.Errorf("cannot transfer to self")
	}

	// Lock in a fixed order to avoid deadlock between opposite transfers.
	first, second := from, to
	if second < first {
		first, second = second, first
	}
	mu1, mu2 := l.lockFor(first), l.lockFor(second)
	mu1.Lock()
	defer mu1.Unlock()
	mu2.Lock()
	defer mu2.Unlock()

	sender, err := l.accounts.Get(ctx, from)
	if err != nil {
		return fmt.Errorf("load sender %s: %w", from, err)
	}
	if sender.Balance < amount {
		return fmt.Errorf("sender %s has %d points, needs %d", from, sender.Balance, amount)
	}

	if _, _, err := l.applyLocked(ctx, from, -amount, reason); err != nil {
		return err
	}
	if _, _, err := l.applyLocked(ctx, to, amount, reason); err != nil {
		return err
	}
	return nil
}

// BumpRolePick increments the user's lifetime pick counter for a role.
func (l *Ledger) BumpRolePick(ctx context.Context, userID string, role model.Role) error {
	return l.mutate(ctx, userID, func(acct *model.Account) {
		if acct.RolePicks == nil {
			acct.RolePicks = make(map[model.Role]int)
		}
		acct.RolePicks[role]++
	})
}

// BumpRatingCount increments the user's received-rating counter for a kind.
func (l *Ledger) BumpRatingCount(ctx context.Context, userID string, kind model.RatingKind) error {
	return l.mutate(ctx, userID, func(acct *model.Account) {
		if acct.RatingCounts == nil {
			acct.RatingCounts = make(map[model.RatingKind]int)
		}
		acct.RatingCounts[kind]++
	})
}

// MarkAttendance records an offered event for the user's current
// half-month period, and whether they attended it.
func (l *Ledger) MarkAttendance(ctx context.Context, userID, period string, attended bool) error {
	return l.mutate(ctx, userID, func(acct *model.Account) {
		if acct.Attendance == nil {
			acct.Attendance = make(map[string]model.Attendance)
		}
		rec := acct.Attendance[period]
		rec.Offered++
		if attended {
			rec.Attended++
		}
		acct.Attendance[period] = rec
	})
}

// mutate applies a counter-only change to the account, without a ledger
// entry. Balance-affecting changes must go through Apply.
func (l *Ledger) mutate(ctx context.Context, userID string, fn func(*model.Account)) error {
	mu := l.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	acct, err := l.accounts.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("load account %s: %w", userID, err)
	}
	fn(&acct)
	acct.LastActive = l.now()
	if err := l.accounts.Save(ctx, acct, nil); err != nil {
		return fmt.Errorf("save account %s: %w", userID, err)
	}
	return nil
}

// Account returns the user's account, materializing a zero-value one
// for users never seen before.
func (l *Ledger) Account(ctx context.Context, userID string) (model.Account, error) {
	return l.accounts.Get(ctx, userID)
}

// History returns the user's most recent ledger entries, newest first.
func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]model.LedgerEntry, error) {
	return l.accounts.Entries(ctx, userID, limit)
}

// Leaderboard returns all accounts ordered by balance descending.
// Intended for small guild rosters; callers wanting a page slice the
// result themselves.
func (l *Ledger) Leaderboard(ctx context.Context) ([]model.Account, error) {
	accts, err := l.accounts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	sort.SliceStable(accts, func(i, j int) bool {
		if accts[i].Balance != accts[j].Balance {
			return accts[i].Balance > accts[j].Balance
		}
		return accts[i].UserID < accts[j].UserID
	})
	return accts, nil
}
