// Package service wires the domain components into one runnable core:
// stores, ledger, event engine, giveaway manager, reaction inbox,
// router, and scheduler.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yhlam/guildcore/internal/adapters/mq/queue"
	"github.com/yhlam/guildcore/internal/adapters/repository"
	"github.com/yhlam/guildcore/internal/domain/dedupe"
	"github.com/yhlam/guildcore/internal/domain/event"
	"github.com/yhlam/guildcore/internal/domain/giveaway"
	"github.com/yhlam/guildcore/internal/domain/ledger"
	"github.com/yhlam/guildcore/internal/domain/model"
	"github.com/yhlam/guildcore/internal/domain/points"
	"github.com/yhlam/guildcore/internal/router"
	"github.com/yhlam/guildcore/internal/scheduler"
	"github.com/yhlam/guildcore/pkg/logger"
	"github.com/yhlam/guildcore/pkg/metrics"
)

// ErrNotStarted is returned by operations invoked before Start (or
// after Stop).
var ErrNotStarted = errors.New("service not started")

// Publisher is the display side of the workflows. The core treats the
// returned refs as opaque handles.
type Publisher interface {
	PublishSignup(ctx context.Context, ev model.EvaluationEvent) (model.MessageRef, error)
	PublishRolePick(ctx context.Context, ev model.EvaluationEvent) (model.MessageRef, error)
	PublishRatingCard(ctx context.Context, ev model.EvaluationEvent, userID string) (model.MessageRef, error)
	PublishCloseConfirm(ctx context.Context, ev model.EvaluationEvent, operator string) (model.MessageRef, error)
	PublishGiveaway(ctx context.Context, gw model.Giveaway) (model.MessageRef, error)
	UpdateCountdown(ctx context.Context, ref model.MessageRef, remaining time.Duration) error
	AnnounceEventTally(ctx context.Context, tally event.Tally) error
	AnnounceGiveawayResult(ctx context.Context, gw model.Giveaway) error
}

// NopPublisher satisfies Publisher without a display surface. Refs it
// returns are zero, so nothing gets bound in the router.
type NopPublisher struct{}

func (NopPublisher) PublishSignup(context.Context, model.EvaluationEvent) (model.MessageRef, error) {
	return model.MessageRef{}, nil
}
func (NopPublisher) PublishRolePick(context.Context, model.EvaluationEvent) (model.MessageRef, error) {
	return model.MessageRef{}, nil
}
func (NopPublisher) PublishRatingCard(context.Context, model.EvaluationEvent, string) (model.MessageRef, error) {
	return model.MessageRef{}, nil
}
func (NopPublisher) PublishCloseConfirm(context.Context, model.EvaluationEvent, string) (model.MessageRef, error) {
	return model.MessageRef{}, nil
}
func (NopPublisher) PublishGiveaway(context.Context, model.Giveaway) (model.MessageRef, error) {
	return model.MessageRef{}, nil
}
func (NopPublisher) UpdateCountdown(context.Context, model.MessageRef, time.Duration) error {
	return nil
}
func (NopPublisher) AnnounceEventTally(context.Context, event.Tally) error { return nil }
func (NopPublisher) AnnounceGiveawayResult(context.Context, model.Giveaway) error {
	return nil
}

// Service implements the core engine behind the gateway adapter.
type Service struct {
	mu sync.RWMutex

	// Core components
	store     repository.Store
	ledger    *ledger.Ledger
	engine    *event.Engine
	giveaways *giveaway.Manager
	deduper   dedupe.Deduper
	inbox     queue.Inbox
	router    *router.Router
	sched     *scheduler.Scheduler

	// Collaborators
	publisher Publisher
	identity  router.Identity
	reverter  router.Reverter

	// Configuration
	inboxSize         int
	dedupeSize        int
	countdownInterval time.Duration
	maxGiveaway       time.Duration
	table             *points.Table
	now               func() time.Time

	// State
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithPublisher sets the display publisher.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithIdentity sets the permission provider.
func WithIdentity(id router.Identity) Option {
	return func(s *Service) {
		if id != nil {
			s.identity = id
		}
	}
}

// WithReverter sets the reaction reverter.
func WithReverter(r router.Reverter) Option {
	return func(s *Service) {
		if r != nil {
			s.reverter = r
		}
	}
}

// WithInboxSize bounds the reaction inbox.
func WithInboxSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.inboxSize = size
		}
	}
}

// WithDedupeSize bounds the delivery deduplication cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithCountdownInterval sets the countdown refresh tick.
func WithCountdownInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.countdownInterval = d
		}
	}
}

// WithMaxGiveawayDuration caps the giveaway entry window.
func WithMaxGiveawayDuration(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.maxGiveaway = d
		}
	}
}

// WithPointsTable sets the reward table.
func WithPointsTable(t *points.Table) Option {
	return func(s *Service) {
		if t != nil {
			s.table = t
		}
	}
}

// WithClock overrides the time source for the domain services.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a Service over the given store.
func New(store repository.Store, opts ...Option) *Service {
	s := &Service{
		store:             store,
		publisher:         NopPublisher{},
		reverter:          router.NopReverter{},
		inboxSize:         4096,
		dedupeSize:        50_000,
		countdownInterval: 30 * time.Second,
		maxGiveaway:       giveaway.MaxDuration,
		table:             points.New(),
		now:               func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start initializes the components and begins consuming reactions.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Named("service")
	}

	s.logger.Info(ctx, "starting guildcore service...")

	s.ledger = ledger.New(s.store.Accounts(), ledger.WithClock(s.now))
	s.engine = event.New(s.store.Events(), s.ledger, s.table, event.WithClock(s.now))
	s.giveaways = giveaway.New(s.store.Giveaways(), giveaway.WithClock(s.now))
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.inbox = queue.NewInMemoryInbox(queue.WithBufferSize(s.inboxSize))
	s.sched = scheduler.New(scheduler.WithClock(s.now))
	s.router = router.New(s.engine, s.giveaways, s.deduper, s.identity, s.reverter,
		router.WithConfirmPublisher(publisherConfirm{s.publisher}),
		router.WithOnEventClosed(s.afterEventClosed),
		router.WithOnGiveawayClosed(s.afterGiveawayClosed),
	)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	if err := s.recover(runCtx); err != nil {
		cancel()
		return fmt.Errorf("startup recovery: %w", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.router.Run(runCtx, s.inbox.Dequeue(runCtx))
	}()

	s.started = true
	s.logger.Info(ctx, "guildcore service started",
		logger.Int("inboxSize", s.inboxSize),
		logger.Int("dedupeSize", s.dedupeSize),
	)
	return nil
}

// publisherConfirm narrows Publisher to the router's confirm interface.
type publisherConfirm struct {
	p Publisher
}

func (pc publisherConfirm) PublishCloseConfirm(ctx context.Context, ev model.EvaluationEvent, operator string) (model.MessageRef, error) {
	return pc.p.PublishCloseConfirm(ctx, ev, operator)
}

// Stop gracefully shuts down the service.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping guildcore service...")

	s.sched.Stop()
	_ = s.inbox.Close()
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	if err := s.store.Close(); err != nil {
		s.logger.Warn(ctx, "store close failed", logger.Error(err))
	}

	s.started = false
	s.logger.Info(ctx, "guildcore service stopped")
}

// EnqueueReaction submits a reaction notification for dispatch. Returns
// false when the inbox is full or the service is stopped.
func (s *Service) EnqueueReaction(ctx context.Context, rx model.Reaction) bool {
	s.mu.RLock()
	inbox := s.inbox
	started := s.started
	s.mu.RUnlock()
	if !started {
		return false
	}
	return inbox.Enqueue(ctx, rx)
}

// ready guards operations that touch components built in Start.
func (s *Service) ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

// CreateEvaluation opens an evaluation event: creates it, publishes the
// signup and role-pick displays, binds them, and schedules the signup
// deadline timer.
func (s *Service) CreateEvaluation(ctx context.Context, name, creator string, signupWindow time.Duration) (model.EvaluationEvent, error) {
	if err := s.ready(); err != nil {
		return model.EvaluationEvent{}, err
	}
	if signupWindow <= 0 {
		return model.EvaluationEvent{}, fmt.Errorf("signup window must be positive")
	}

	ev, err := s.engine.Create(ctx, name, creator, s.now().Add(signupWindow))
	if err != nil {
		return model.EvaluationEvent{}, err
	}

	signupRef, err := s.publisher.PublishSignup(ctx, ev)
	if err != nil {
		return model.EvaluationEvent{}, fmt.Errorf("publish signup display: %w", err)
	}
	roleRef, err := s.publisher.PublishRolePick(ctx, ev)
	if err != nil {
		return model.EvaluationEvent{}, fmt.Errorf("publish role pick display: %w", err)
	}
	ev.Handles = model.DisplayHandles{Signup: signupRef, RolePick: roleRef}
	if err := s.engine.SetHandles(ctx, ev.ID, ev.Handles); err != nil {
		return model.EvaluationEvent{}, err
	}

	s.bindEvent(ev)
	s.scheduleEvent(ev)
	s.refreshGauges(ctx)
	return ev, nil
}

// CreateGiveaway opens a giveaway: creates it, publishes its display,
// binds it, and schedules the deadline timer.
func (s *Service) CreateGiveaway(ctx context.Context, creator, prize string, winnerCount int, duration time.Duration) (model.Giveaway, error) {
	if err := s.ready(); err != nil {
		return model.Giveaway{}, err
	}
	if duration > s.maxGiveaway {
		return model.Giveaway{}, fmt.Errorf("duration %s exceeds the maximum %s", duration, s.maxGiveaway)
	}

	gw, err := s.giveaways.Create(ctx, creator, prize, winnerCount, duration)
	if err != nil {
		return model.Giveaway{}, err
	}

	ref, err := s.publisher.PublishGiveaway(ctx, gw)
	if err != nil {
		return model.Giveaway{}, fmt.Errorf("publish giveaway display: %w", err)
	}
	gw.Handle = ref
	if err := s.giveaways.SetHandle(ctx, gw.ID, ref); err != nil {
		return model.Giveaway{}, err
	}

	s.router.Bind(ref, router.Handle{Kind: router.KindGiveaway, WorkflowID: gw.ID})
	s.scheduleGiveaway(gw)
	s.refreshGauges(ctx)
	return gw, nil
}

func (s *Service) bindEvent(ev model.EvaluationEvent) {
	s.router.Bind(ev.Handles.Signup, router.Handle{Kind: router.KindSignup, WorkflowID: ev.ID})
	s.router.Bind(ev.Handles.RolePick, router.Handle{Kind: router.KindRolePick, WorkflowID: ev.ID})
	for userID, ref := range ev.Handles.RatingCards {
		s.router.Bind(ref, router.Handle{Kind: router.KindRating, WorkflowID: ev.ID, Target: userID})
	}
	if !ev.Handles.CloseConfirm.Zero() {
		s.router.Bind(ev.Handles.CloseConfirm, router.Handle{Kind: router.KindCloseConfirm, WorkflowID: ev.ID})
	}
}

func (s *Service) scheduleEvent(ev model.EvaluationEvent) {
	if ev.Phase != model.PhaseSignupOpen {
		return
	}
	eventID := ev.ID
	signupRef := ev.Handles.Signup
	deadline := ev.SignupDeadline
	s.sched.Schedule(context.Background(), scheduler.Job{
		ID:       "event:" + eventID,
		Kind:     "event_signup",
		Deadline: deadline,
		Tick:     s.countdownInterval,
		OnTick: func(remaining time.Duration) {
			_ = s.publisher.UpdateCountdown(context.Background(), signupRef, remaining)
		},
		OnExpire: func() {
			s.openRating(eventID)
		},
	})
}

func (s *Service) scheduleGiveaway(gw model.Giveaway) {
	if gw.Status != model.GiveawayOpen {
		return
	}
	id := gw.ID
	ref := gw.Handle
	s.sched.Schedule(context.Background(), scheduler.Job{
		ID:       "giveaway:" + id,
		Kind:     "giveaway",
		Deadline: gw.Deadline,
		Tick:     s.countdownInterval,
		OnTick: func(remaining time.Duration) {
			_ = s.publisher.UpdateCountdown(context.Background(), ref, remaining)
		},
		OnExpire: func() {
			s.expireGiveaway(id)
		},
	})
}

// openRating runs the signup-deadline transition and publishes the
// per-participant rating cards.
func (s *Service) openRating(eventID string) {
	ctx := context.Background()

	ev, err := s.engine.OpenRating(ctx, eventID)
	if err != nil {
		s.logger.Error(ctx, "open rating failed",
			logger.String("event_id", eventID), logger.Error(err))
		return
	}
	if ev.Phase != model.PhaseRatingOpen {
		return
	}

	// Signup and role picks are over; their messages go dormant.
	s.router.Unbind(ev.Handles.Signup)
	s.router.Unbind(ev.Handles.RolePick)

	cards := make(map[string]model.MessageRef, len(ev.Participants))
	for userID := range ev.Participants {
		ref, err := s.publisher.PublishRatingCard(ctx, ev, userID)
		if err != nil {
			s.logger.Error(ctx, "publish rating card failed",
				logger.String("event_id", eventID),
				logger.String("user_id", userID),
				logger.Error(err))
			continue
		}
		if ref.Zero() {
			continue
		}
		cards[userID] = ref
		s.router.Bind(ref, router.Handle{Kind: router.KindRating, WorkflowID: eventID, Target: userID})
	}
	if err := s.engine.SetRatingCards(ctx, eventID, cards); err != nil {
		s.logger.Error(ctx, "save rating cards failed",
			logger.String("event_id", eventID), logger.Error(err))
	}
	s.refreshGauges(ctx)
}

func (s *Service) expireGiveaway(id string) {
	ctx := context.Background()
	gw, drawn, err := s.giveaways.Close(ctx, id, model.CloseTimerExpiry)
	if err != nil {
		s.logger.Error(ctx, "giveaway expiry close failed",
			logger.String("giveaway_id", id), logger.Error(err))
		return
	}
	s.router.UnbindWorkflow(id)
	if !drawn {
		// A manual stop beat the timer and already announced the draw.
		return
	}
	s.afterGiveawayClosed(ctx, gw)
}

func (s *Service) afterEventClosed(ctx context.Context, tally event.Tally) {
	s.sched.Cancel("event:" + tally.EventID)
	if err := s.publisher.AnnounceEventTally(ctx, tally); err != nil {
		s.logger.Warn(ctx, "announce tally failed",
			logger.String("event_id", tally.EventID), logger.Error(err))
	}
	s.refreshGauges(ctx)
}

func (s *Service) afterGiveawayClosed(ctx context.Context, gw model.Giveaway) {
	s.sched.Cancel("giveaway:" + gw.ID)
	if err := s.publisher.AnnounceGiveawayResult(ctx, gw); err != nil {
		s.logger.Warn(ctx, "announce giveaway result failed",
			logger.String("giveaway_id", gw.ID), logger.Error(err))
	}
	s.refreshGauges(ctx)
}

// recover rebinds handles and reschedules timers for workflows that
// were still active when the process last stopped.
func (s *Service) recover(ctx context.Context) error {
	events, err := s.engine.Active(ctx)
	if err != nil {
		return fmt.Errorf("load active events: %w", err)
	}
	for _, ev := range events {
		s.bindEvent(ev)
		s.scheduleEvent(ev)
	}

	giveaways, err := s.giveaways.Active(ctx)
	if err != nil {
		return fmt.Errorf("load active giveaways: %w", err)
	}
	for _, gw := range giveaways {
		s.router.Bind(gw.Handle, router.Handle{Kind: router.KindGiveaway, WorkflowID: gw.ID})
		s.scheduleGiveaway(gw)
	}

	if len(events) > 0 || len(giveaways) > 0 {
		s.logger.Info(ctx, "recovered active workflows",
			logger.Int("events", len(events)),
			logger.Int("giveaways", len(giveaways)))
	}
	metrics.UpdateActiveEvents(len(events))
	metrics.UpdateActiveGiveaways(len(giveaways))
	return nil
}

func (s *Service) refreshGauges(ctx context.Context) {
	if events, err := s.engine.Active(ctx); err == nil {
		metrics.UpdateActiveEvents(len(events))
	}
	if giveaways, err := s.giveaways.Active(ctx); err == nil {
		metrics.UpdateActiveGiveaways(len(giveaways))
	}
}

// Account returns the member's account, creating a zero-value view for
// unknown users.
func (s *Service) Account(ctx context.Context, userID string) (model.Account, error) {
	if err := s.ready(); err != nil {
		return model.Account{}, err
	}
	return s.ledger.Account(ctx, userID)
}

// History returns the member's most recent ledger entries.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]model.LedgerEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.ledger.History(ctx, userID, limit)
}

// Transfer moves points between members.
func (s *Service) Transfer(ctx context.Context, from, to string, amount int64) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.ledger.Transfer(ctx, from, to, amount, fmt.Sprintf("transfer from %s to %s", from, to))
}

// Leaderboard returns up to limit accounts ordered by balance.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]model.Account, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	accts, err := s.ledger.Leaderboard(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(accts) > limit {
		accts = accts[:limit]
	}
	return accts, nil
}

// AttendanceReport returns each member's attendance record for one
// half-month period, omitting members with no offered activities.
func (s *Service) AttendanceReport(ctx context.Context, period string) (map[string]model.Attendance, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	accts, err := s.store.Accounts().List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.Attendance)
	for _, acct := range accts {
		if rec, ok := acct.Attendance[period]; ok && rec.Offered > 0 {
			out[acct.UserID] = rec
		}
	}
	return out, nil
}

// Event returns an evaluation event by id.
func (s *Service) Event(ctx context.Context, id string) (model.EvaluationEvent, error) {
	if err := s.ready(); err != nil {
		return model.EvaluationEvent{}, err
	}
	return s.engine.Get(ctx, id)
}

// Giveaway returns a giveaway by id.
func (s *Service) Giveaway(ctx context.Context, id string) (model.Giveaway, error) {
	if err := s.ready(); err != nil {
		return model.Giveaway{}, err
	}
	return s.giveaways.Get(ctx, id)
}

// Stats returns service statistics for monitoring.
func (s *Service) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":    s.started,
		"inboxSize":  s.inboxSize,
		"dedupeSize": s.dedupeSize,
	}
	if s.started {
		ctx := context.Background()
		stats["inboxLength"] = s.inbox.Len(ctx)
		stats["bindings"] = s.router.Bindings()
		stats["timers"] = s.sched.Len()
		stats["dedupeEntries"] = s.deduper.Size()
	}
	return stats
}
