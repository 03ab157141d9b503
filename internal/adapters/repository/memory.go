package repository

import (
	"context"
	"sync"
	"time"

	"github.com/yhlam/guildcore/internal/domain/model"
)

// MemoryStore keeps all records in process memory. It is the default store
// and the one the test suites run against.
type MemoryStore struct {
	mu        sync.RWMutex
	accounts  map[string]model.Account
	entries   map[string][]model.LedgerEntry
	events    map[string]model.EvaluationEvent
	giveaways map[string]model.Giveaway
	closed    bool
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[string]model.Account),
		entries:   make(map[string][]model.LedgerEntry),
		events:    make(map[string]model.EvaluationEvent),
		giveaways: make(map[string]model.Giveaway),
	}
}

// Accounts returns the account store view.
func (s *MemoryStore) Accounts() Accounts { return (*memoryAccounts)(s) }

// Events returns the evaluation event store view.
func (s *MemoryStore) Events() Events { return (*memoryEvents)(s) }

// Giveaways returns the giveaway store view.
func (s *MemoryStore) Giveaways() Giveaways { return (*memoryGiveaways)(s) }

// Close marks the store closed. Further calls fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type memoryAccounts MemoryStore

func (s *memoryAccounts) Get(ctx context.Context, userID string) (model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return model.Account{}, ErrClosed
	}
	acct, ok := s.accounts[userID]
	if !ok {
		return model.NewAccount(userID, time.Now().UTC()), nil
	}
	return cloneAccount(acct), nil
}

func (s *memoryAccounts) Save(ctx context.Context, acct model.Account, entry *model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.accounts[acct.UserID] = cloneAccount(acct)
	if entry != nil {
		s.entries[entry.UserID] = append(s.entries[entry.UserID], *entry)
	}
	return nil
}

func (s *memoryAccounts) List(ctx context.Context) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]model.Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		out = append(out, cloneAccount(acct))
	}
	return out, nil
}

func (s *memoryAccounts) Entries(ctx context.Context, userID string, limit int) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	list := s.entries[userID]
	out := make([]model.LedgerEntry, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, list[i])
	}
	return out, nil
}

type memoryEvents MemoryStore

func (s *memoryEvents) Get(ctx context.Context, id string) (model.EvaluationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return model.EvaluationEvent{}, ErrClosed
	}
	ev, ok := s.events[id]
	if !ok {
		return model.EvaluationEvent{}, ErrNotFound
	}
	return cloneEvent(ev), nil
}

func (s *memoryEvents) Save(ctx context.Context, ev model.EvaluationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.events[ev.ID] = cloneEvent(ev)
	return nil
}

func (s *memoryEvents) Active(ctx context.Context) ([]model.EvaluationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []model.EvaluationEvent
	for _, ev := range s.events {
		if ev.Phase != model.PhaseClosed {
			out = append(out, cloneEvent(ev))
		}
	}
	return out, nil
}

type memoryGiveaways MemoryStore

func (s *memoryGiveaways) Get(ctx context.Context, id string) (model.Giveaway, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return model.Giveaway{}, ErrClosed
	}
	gw, ok := s.giveaways[id]
	if !ok {
		return model.Giveaway{}, ErrNotFound
	}
	return cloneGiveaway(gw), nil
}

func (s *memoryGiveaways) Save(ctx context.Context, gw model.Giveaway) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.giveaways[gw.ID] = cloneGiveaway(gw)
	return nil
}

func (s *memoryGiveaways) Active(ctx context.Context) ([]model.Giveaway, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []model.Giveaway
	for _, gw := range s.giveaways {
		if gw.Status == model.GiveawayOpen {
			out = append(out, cloneGiveaway(gw))
		}
	}
	return out, nil
}

// Records are copied on every read and write so callers never alias the
// store's maps.

func cloneAccount(acct model.Account) model.Account {
	out := acct
	out.RolePicks = make(map[model.Role]int, len(acct.RolePicks))
	for k, v := range acct.RolePicks {
		out.RolePicks[k] = v
	}
	out.RatingCounts = make(map[model.RatingKind]int, len(acct.RatingCounts))
	for k, v := range acct.RatingCounts {
		out.RatingCounts[k] = v
	}
	out.Attendance = make(map[string]model.Attendance, len(acct.Attendance))
	for k, v := range acct.Attendance {
		out.Attendance[k] = v
	}
	return out
}

func cloneEvent(ev model.EvaluationEvent) model.EvaluationEvent {
	out := ev
	out.Participants = make(map[string]bool, len(ev.Participants))
	for k, v := range ev.Participants {
		out.Participants[k] = v
	}
	out.Roles = make(map[string]model.Role, len(ev.Roles))
	for k, v := range ev.Roles {
		out.Roles[k] = v
	}
	out.Ratings = make(map[string][]model.Rating, len(ev.Ratings))
	for k, v := range ev.Ratings {
		list := make([]model.Rating, len(v))
		copy(list, v)
		out.Ratings[k] = list
	}
	if ev.Handles.RatingCards != nil {
		out.Handles.RatingCards = make(map[string]model.MessageRef, len(ev.Handles.RatingCards))
		for k, v := range ev.Handles.RatingCards {
			out.Handles.RatingCards[k] = v
		}
	}
	return out
}

func cloneGiveaway(gw model.Giveaway) model.Giveaway {
	out := gw
	out.Participants = make(map[string]bool, len(gw.Participants))
	for k, v := range gw.Participants {
		out.Participants[k] = v
	}
	out.Winners = make([]string, len(gw.Winners))
	copy(out.Winners, gw.Winners)
	return out
}
