// Package giveaway implements the prize draw lifecycle.
//
// A giveaway is Open from creation until its deadline fires or its
// creator stops it, then Closed forever. The draw and the status flip
// happen under the giveaway's lock, so no entry can land in a draw that
// already started.
package giveaway

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yhlam/guildcore/internal/adapters/repository"
	"github.com/yhlam/guildcore/internal/domain/model"
	"github.com/yhlam/guildcore/pkg/logger"
	"github.com/yhlam/guildcore/pkg/metrics"
)

// Duration bounds for the entry window.
const (
	MinDuration = 10 * time.Second
	MaxDuration = 7 * 24 * time.Hour
)

// Manager owns giveaway lifecycles.
type Manager struct {
	giveaways repository.Giveaways
	now       func() time.Time
	intn      func(n int) int
	log       logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithRand overrides the draw's random source.
func WithRand(intn func(n int) int) Option {
	return func(m *Manager) {
		if intn != nil {
			m.intn = intn
		}
	}
}

// New creates a manager over the given store.
func New(giveaways repository.Giveaways, opts ...Option) *Manager {
	m := &Manager{
		giveaways: giveaways,
		now:       func() time.Time { return time.Now().UTC() },
		intn:      rand.Intn,
		log:       logger.Named("giveaway"),
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	mu, ok := m.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[id] = mu
	}
	return mu
}

// Create opens a giveaway with the given entry window.
func (m *Manager) Create(ctx context.Context, creator, prize string, winnerCount int, duration time.Duration) (model.Giveaway, error) {
	if prize == "" {
		return model.Giveaway{}, fmt.Errorf("prize is required")
	}
	if winnerCount < 1 {
		return model.Giveaway{}, fmt.Errorf("winner count must be at least 1, got %d", winnerCount)
	}
	if duration < MinDuration || duration > MaxDuration {
		return model.Giveaway{}, fmt.Errorf("duration %s outside allowed range [%s, %s]", duration, MinDuration, MaxDuration)
	}

	now := m.now()
	gw := model.Giveaway{
		ID:           uuid.NewString(),
		Creator:      creator,
		Prize:        prize,
		WinnerCount:  winnerCount,
		Deadline:     now.Add(duration),
		Status:       model.GiveawayOpen,
		Participants: make(map[string]bool),
		CreatedAt:    now,
	}
	if err := m.giveaways.Save(ctx, gw); err != nil {
		return model.Giveaway{}, fmt.Errorf("save new giveaway: %w", err)
	}
	m.log.Info(ctx, "giveaway created",
		logger.String("giveaway_id", gw.ID),
		logger.String("prize", prize),
		logger.Int("winner_count", winnerCount),
		logger.Time("deadline", gw.Deadline))
	return gw, nil
}

// SetHandle stores the published message ref for the giveaway.
func (m *Manager) SetHandle(ctx context.Context, id string, ref model.MessageRef) error {
	mu := m.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	gw, err := m.giveaways.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load giveaway %s: %w", id, err)
	}
	gw.Handle = ref
	return m.giveaways.Save(ctx, gw)
}

// Enter adds userID to the entrant pool. Entering twice is a no-op.
func (m *Manager) Enter(ctx context.Context, id, userID string) error {
	mu := m.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	gw, err := m.giveaways.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load giveaway %s: %w", id, err)
	}
	if gw.Status != model.GiveawayOpen {
		return model.Reject(model.RejectWrongPhase)
	}
	if gw.Participants[userID] {
		return nil
	}
	gw.Participants[userID] = true
	if err := m.giveaways.Save(ctx, gw); err != nil {
		return fmt.Errorf("save giveaway %s: %w", id, err)
	}
	return nil
}

// Withdraw removes userID from the entrant pool of an open giveaway.
func (m *Manager) Withdraw(ctx context.Context, id, userID string) error {
	mu := m.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	gw, err := m.giveaways.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load giveaway %s: %w", id, err)
	}
	if gw.Status != model.GiveawayOpen || !gw.Participants[userID] {
		return nil
	}
	delete(gw.Participants, userID)
	return m.giveaways.Save(ctx, gw)
}

// Close draws winners and flips the giveaway to Closed. Exactly one
// close wins: the call that performs the transition reports drawn=true,
// later calls return the already-drawn result with drawn=false so the
// loser of a timer/manual race can skip announcing. If the pool is no
// larger than the winner count everyone wins, otherwise winners are a
// uniform sample without replacement.
func (m *Manager) Close(ctx context.Context, id string, reason model.CloseReason) (model.Giveaway, bool, error) {
	mu := m.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	gw, err := m.giveaways.Get(ctx, id)
	if err != nil {
		return model.Giveaway{}, false, fmt.Errorf("load giveaway %s: %w", id, err)
	}
	if gw.Status == model.GiveawayClosed {
		return gw, false, nil
	}

	gw.Winners = m.draw(gw.Participants, gw.WinnerCount)
	gw.Status = model.GiveawayClosed
	if err := m.giveaways.Save(ctx, gw); err != nil {
		return model.Giveaway{}, false, fmt.Errorf("save giveaway %s: %w", id, err)
	}
	metrics.RecordGiveawayClosed(string(reason))
	m.log.Info(ctx, "giveaway closed",
		logger.String("giveaway_id", id),
		logger.String("reason", string(reason)),
		logger.Int("entrants", len(gw.Participants)),
		logger.Int("winners", len(gw.Winners)))
	return gw, true, nil
}

// draw picks count winners from the pool. Entrants are ordered before
// sampling so the draw depends only on the random source.
func (m *Manager) draw(pool map[string]bool, count int) []string {
	entrants := make([]string, 0, len(pool))
	for userID := range pool {
		entrants = append(entrants, userID)
	}
	sort.Strings(entrants)

	if len(entrants) <= count {
		return entrants
	}

	// Partial Fisher-Yates: the first count slots end up with a uniform
	// sample without replacement.
	for i := 0; i < count; i++ {
		j := i + m.intn(len(entrants)-i)
		entrants[i], entrants[j] = entrants[j], entrants[i]
	}
	winners := entrants[:count]
	sort.Strings(winners)
	return winners
}

// Get returns the giveaway by id.
func (m *Manager) Get(ctx context.Context, id string) (model.Giveaway, error) {
	return m.giveaways.Get(ctx, id)
}

// Active returns all open giveaways.
func (m *Manager) Active(ctx context.Context) ([]model.Giveaway, error) {
	return m.giveaways.Active(ctx)
}
