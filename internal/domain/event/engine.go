// Package event implements the evaluation event state machine.
//
// An evaluation event moves SignupOpen -> RatingOpen -> Closed, never
// backwards. All mutations for one event run under that event's lock,
// so the deadline expiry and a concurrent reaction cannot interleave.
package event

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yhlam/guildcore/internal/adapters/repository"
	"github.com/yhlam/guildcore/internal/domain/ledger"
	"github.com/yhlam/guildcore/internal/domain/model"
	"github.com/yhlam/guildcore/internal/domain/points"
	"github.com/yhlam/guildcore/pkg/logger"
	"github.com/yhlam/guildcore/pkg/metrics"
)

// ParticipantResult is one participant's final standing in a tally.
type ParticipantResult struct {
	UserID string
	Role   model.Role
	Rating model.RatingKind
}

// Tally summarizes a closed (or closing) evaluation event.
type Tally struct {
	EventID      string
	Name         string
	Phase        model.Phase
	Participants []ParticipantResult
}

// Engine owns evaluation event lifecycles.
type Engine struct {
	events repository.Events
	ledger *ledger.Ledger
	table  *points.Table
	now    func() time.Time
	log    logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates an engine over the given stores and reward table.
func New(events repository.Events, led *ledger.Ledger, table *points.Table, opts ...Option) *Engine {
	e := &Engine{
		events: events,
		ledger: led,
		table:  table,
		now:    func() time.Time { return time.Now().UTC() },
		log:    logger.Named("event"),
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) lockFor(eventID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.locks[eventID]
	if !ok {
		m = &sync.Mutex{}
		e.locks[eventID] = m
	}
	return m
}

// Create opens a new evaluation event in the signup phase.
func (e *Engine) Create(ctx context.Context, name, creator string, signupDeadline time.Time) (model.EvaluationEvent, error) {
	if name == "" {
		return model.EvaluationEvent{}, fmt.Errorf("event name is required")
	}
	now := e.now()
	if !signupDeadline.After(now) {
		return model.EvaluationEvent{}, fmt.Errorf("signup deadline %s is not in the future", signupDeadline)
	}

	ev := model.EvaluationEvent{
		ID:             uuid.NewString(),
		Name:           name,
		Creator:        creator,
		Phase:          model.PhaseSignupOpen,
		SignupDeadline: signupDeadline,
		Participants:   make(map[string]bool),
		Roles:          make(map[string]model.Role),
		Ratings:        make(map[string][]model.Rating),
		CreatedAt:      now,
	}
	if err := e.events.Save(ctx, ev); err != nil {
		return model.EvaluationEvent{}, fmt.Errorf("save new event: %w", err)
	}
	e.log.Info(ctx, "event created",
		logger.String("event_id", ev.ID),
		logger.String("name", name),
		logger.Time("signup_deadline", signupDeadline))
	return ev, nil
}

// SetHandles stores the published message refs for an event.
func (e *Engine) SetHandles(ctx context.Context, eventID string, handles model.DisplayHandles) error {
	mu := e.lockFor(eventID)
	mu.Lock()
	defer mu.Unlock()

	ev, err := e.events.Get(ctx, eventID)
	if err != nil {
		return fmt.Errorf("load event %s: %w", eventID, err)
	}
	ev.Handles = handles
	return e.events.Save(ctx, ev)
}

// SetRatingCards stores the refs of the per-participant rating cards
// published when the rating phase opens.
func (e *Engine) SetRatingCards(ctx context.Context, eventID string, cards map[string]model.MessageRef) error {
	mu := e.lockFor(eventID)
	mu.Lock()
	defer mu.Unlock()

	ev, err := e.events.Get(ctx, eventID)
	if err != nil {
		return fmt.Errorf("load event %s: %w", eventID, err)
	}
	ev.Handles.RatingCards = cards
	return e.events.Save(ctx, ev)
}

// SetCloseConfirmHandle stores the ref of a pending close confirmation
// message. A zero ref clears it.
func (e *Engine) SetCloseConfirmHandle(ctx context.Context, eventID string, ref model.MessageRef) error {
	mu := e.lockFor(eventID)
	mu.Lock()
	defer mu.Unlock()

	ev, err := e.events.Get(ctx, eventID)
	if err != nil {
		return fmt.Errorf("load event %s: %w", eventID, err)
	}
	ev.Handles.CloseConfirm = ref
	return e.events.Save(ctx, ev)
}

// Register signs userID up for the event. Registering twice is a no-op.
func (e *Engine) Register(ctx context.Context, eventID, userID string) error {
	mu := e.lockFor(eventID)
	mu.Lock()
	defer mu.Unlock()

	ev, err := e.events.Get(ctx, eventID)
	if err != nil {
		return fmt.Errorf("load event %s: %w", eventID, err)
	}
	if ev.Phase != model.PhaseSignupOpen {
		return model.Reject(model.RejectWrongPhase)
	}
	if e.now().After(ev.SignupDeadline) {
		return model.Reject(model.RejectDeadlinePassed)
	}
	if ev.Participants[userID] {
		return nil
	}
	ev.Participants[userID] = true
	if err := e.events.Save(ctx, ev); err != nil {
		return fmt.Errorf("save event %s: %w", eventID, err)
	}
	e.log.Debug(ctx, "participant registered",
		logger.String("event_id", eventID),
		logger.String("user_id", userID))
	return nil
}

// AssignRole records the participant's role pick. One pick per user per
// event; the role bonus is credited immediately.
func (e *Engine) AssignRole(ctx context.Context, eventID, userID string, role model.Role) error {
	mu := e.lockFor(eventID)
	mu.Lock()
	defer mu.Unlock()

	ev, err := e.events.Get(ctx, eventID)
	if err != nil {
		return fmt.Errorf("load event %s: %w", eventID, err)
	}
	if ev.Phase != model.PhaseSignupOpen {
		return model.Reject(model.RejectWrongPhase)
	}
	if e.now().After(ev.SignupDeadline) {
		return model.Reject(model.RejectDeadlinePassed)
	}
	if !ev.IsParticipant(userID) {
		return model.Reject(model.RejectNotSignedUp)
	}
	if _, taken := ev.Roles[userID]; taken {
		return model.Reject(model.RejectAlreadyAssigned)
	}

	ev.Roles[userID] = role
	if err := e.events.Save(ctx, ev); err != nil {
		return fmt.Errorf("save event %s: %w", eventID, err)
	}

	if err := e.ledger.BumpRolePick(ctx, userID, role); err != nil {
		return err
	}
	if bonus := e.table.RoleBonus(role); bonus != 0 {
		reason := fmt.Sprintf("role bonus (%s): %s", role, ev.Name)
		if _, _, err := e.ledger.Apply(ctx, userID, bonus, reason); err != nil {
			return err
		}
	}
	return nil
}

// OpenRating moves the event from SignupOpen to RatingOpen. Runs the
// per-participant settlement exactly once: signup credit, attendance,
// and the seeded baseline rating. Calling it again is a no-op.
func (e *Engine) OpenRating(ctx context.Context, eventID string) (model.EvaluationEvent, error) {
	mu := e.lockFor(eventID)
	mu.Lock()
	defer mu.Unlock()

	ev, err := e.events.Get(ctx, eventID)
	if err != nil {
		return model.EvaluationEvent{}, fmt.Errorf("load event %s: %w", eventID, err)
	}
	if ev.Phase != model.PhaseSignupOpen {
		return ev, nil
	}

	now := e.now()
	period := model.PeriodKey(now)
	users := make([]string, 0, len(ev.Participants))
	for userID := range ev.Participants {
		users = append(users, userID)
	}
	sort.Strings(users)

	// The seeded baseline doubles as a settlement marker: it is saved
	// before the participant's points move, so a rerun after a partial
	// failure skips everyone already settled instead of paying twice.
	for _, userID := range users {
		if len(ev.Ratings[userID]) > 0 {
			continue
		}
		ev.Ratings[userID] = append(ev.Ratings[userID], model.Rating{
			Kind: model.RatingBaseline,
			At:   now,
		})
		if err := e.events.Save(ctx, ev); err != nil {
			return model.EvaluationEvent{}, fmt.Errorf("save event %s: %w", eventID, err)
		}
		reason := fmt.Sprintf("signup credit: %s", ev.Name)
		if _, _, err := e.ledger.Apply(ctx, userID, e.table.SignupCredit(), reason); err != nil {
			return model.EvaluationEvent{}, err
		}
		if err := e.ledger.MarkAttendance(ctx, userID, period, true); err != nil {
			return model.EvaluationEvent{}, err
		}
		if err := e.ledger.BumpRatingCount(ctx, userID, model.RatingBaseline); err != nil {
			return model.EvaluationEvent{}, err
		}
	}

	ev.Phase = model.PhaseRatingOpen
	if err := e.events.Save(ctx, ev); err != nil {
		return model.EvaluationEvent{}, fmt.Errorf("save event %s: %w", eventID, err)
	}
	e.log.Info(ctx, "rating phase opened",
		logger.String("event_id", eventID),
		logger.Int("participants", len(ev.Participants)))
	return ev, nil
}

// SetRating grades a participant. The previous active rating's points
// are reversed before the new kind's value is applied, so re-grading is
// net-correct. Received-rating counters only ever increment.
func (e *Engine) SetRating(ctx context.Context, eventID, target string, kind model.RatingKind, rater string) error {
	mu := e.lockFor(eventID)
	mu.Lock()
	defer mu.Unlock()

	ev, err := e.events.Get(ctx, eventID)
	if err != nil {
		return fmt.Errorf("load event %s: %w", eventID, err)
	}
	if ev.Phase != model.PhaseRatingOpen {
		return model.Reject(model.RejectWrongPhase)
	}
	if !ev.IsParticipant(target) {
		return model.Reject(model.RejectNotParticipant)
	}

	now := e.now()
	old, hadOld := ev.ActiveRating(target)
	ev.Ratings[target] = append(ev.Ratings[target], model.Rating{
		Rater: rater,
		Kind:  kind,
		At:    now,
	})
	// The record goes durable before any points move. A failed save
	// leaves the previous rating active with its points intact, so the
	// operation can simply be retried.
	if err := e.events.Save(ctx, ev); err != nil {
		return fmt.Errorf("save event %s: %w", eventID, err)
	}

	if hadOld {
		if delta := e.table.RatingValue(old.Kind); delta != 0 {
			reason := fmt.Sprintf("rating reversed (%s): %s", old.Kind, ev.Name)
			if _, _, err := e.ledger.Apply(ctx, target, -delta, reason); err != nil {
				return err
			}
		}
	}

	if delta := e.table.RatingValue(kind); delta != 0 {
		reason := fmt.Sprintf("rating (%s): %s", kind, ev.Name)
		if _, _, err := e.ledger.Apply(ctx, target, delta, reason); err != nil {
			return err
		}
	}
	return e.ledger.BumpRatingCount(ctx, target, kind)
}

// Close moves the event from RatingOpen to Closed and returns the final
// tally. Closing a closed event returns the same tally again.
func (e *Engine) Close(ctx context.Context, eventID string) (Tally, error) {
	mu := e.lockFor(eventID)
	mu.Lock()
	defer mu.Unlock()

	ev, err := e.events.Get(ctx, eventID)
	if err != nil {
		return Tally{}, fmt.Errorf("load event %s: %w", eventID, err)
	}
	switch ev.Phase {
	case model.PhaseSignupOpen:
		return Tally{}, model.Reject(model.RejectWrongPhase)
	case model.PhaseClosed:
		return tallyOf(ev), nil
	}

	ev.Phase = model.PhaseClosed
	ev.Handles.CloseConfirm = model.MessageRef{}
	if err := e.events.Save(ctx, ev); err != nil {
		return Tally{}, fmt.Errorf("save event %s: %w", eventID, err)
	}
	metrics.RecordEventClosed()
	e.log.Info(ctx, "event closed",
		logger.String("event_id", eventID),
		logger.Int("participants", len(ev.Participants)))
	return tallyOf(ev), nil
}

// Tally returns the current standing of an event in any phase.
func (e *Engine) Tally(ctx context.Context, eventID string) (Tally, error) {
	ev, err := e.events.Get(ctx, eventID)
	if err != nil {
		return Tally{}, fmt.Errorf("load event %s: %w", eventID, err)
	}
	return tallyOf(ev), nil
}

func tallyOf(ev model.EvaluationEvent) Tally {
	t := Tally{
		EventID: ev.ID,
		Name:    ev.Name,
		Phase:   ev.Phase,
	}
	for userID := range ev.Participants {
		res := ParticipantResult{UserID: userID, Role: ev.Roles[userID]}
		if r, ok := ev.ActiveRating(userID); ok {
			res.Rating = r.Kind
		}
		t.Participants = append(t.Participants, res)
	}
	sort.Slice(t.Participants, func(i, j int) bool {
		return t.Participants[i].UserID < t.Participants[j].UserID
	})
	return t
}

// Get returns the event by id.
func (e *Engine) Get(ctx context.Context, eventID string) (model.EvaluationEvent, error) {
	return e.events.Get(ctx, eventID)
}

// Active returns all events not yet closed.
func (e *Engine) Active(ctx context.Context) ([]model.EvaluationEvent, error) {
	return e.events.Active(ctx)
}
