// Package router dispatches inbound reactions to the workflow watching
// the reacted message.
//
// Each active workflow binds its published message refs into the
// registry; a reaction on an unbound message is a no-op. Validation
// failures surface as model.Rejection: the reaction is reverted, a
// transient notice is emitted, and the delivery key is unrecorded so
// the user may retry.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yhlam/guildcore/internal/domain/dedupe"
	"github.com/yhlam/guildcore/internal/domain/event"
	"github.com/yhlam/guildcore/internal/domain/model"
	"github.com/yhlam/guildcore/pkg/logger"
	"github.com/yhlam/guildcore/pkg/metrics"
)

// Kind says which workflow surface a bound message belongs to. The
// binding is one kind per message; kinds are listed in dispatch
// priority order.
type Kind string

// Handle kinds.
const (
	KindCloseConfirm Kind = "close_confirm"
	KindRating       Kind = "rating"
	KindSignup       Kind = "signup"
	KindRolePick     Kind = "role_pick"
	KindGiveaway     Kind = "giveaway"
)

// Handle is one registry binding.
type Handle struct {
	Kind       Kind
	WorkflowID string
	// Target is the participant a rating card belongs to.
	Target string
	// Requester is the operator who asked for a close confirmation.
	Requester string
}

// Identity answers permission questions about users.
type Identity interface {
	// IsOperator reports whether userID holds the elevated role required
	// for rating, event close, and other privileged actions.
	IsOperator(ctx context.Context, userID string) (bool, error)
}

// OperatorFunc adapts a function to the Identity interface.
type OperatorFunc func(ctx context.Context, userID string) (bool, error)

func (f OperatorFunc) IsOperator(ctx context.Context, userID string) (bool, error) {
	return f(ctx, userID)
}

// Reverter undoes a rejected reaction on the display surface.
type Reverter interface {
	// RemoveReaction takes the user's reaction back off the message.
	RemoveReaction(ctx context.Context, ref model.MessageRef, symbol, userID string) error
	// Notice emits a short-lived explanation to the user.
	Notice(ctx context.Context, ref model.MessageRef, userID string, reason model.RejectReason) error
}

// NopReverter ignores reverts; used headless and in tests.
type NopReverter struct{}

func (NopReverter) RemoveReaction(context.Context, model.MessageRef, string, string) error {
	return nil
}
func (NopReverter) Notice(context.Context, model.MessageRef, string, model.RejectReason) error {
	return nil
}

// ConfirmPublisher publishes the close confirmation prompt for an event.
type ConfirmPublisher interface {
	PublishCloseConfirm(ctx context.Context, ev model.EvaluationEvent, operator string) (model.MessageRef, error)
}

// Events is the slice of the event engine the router drives.
type Events interface {
	Get(ctx context.Context, eventID string) (model.EvaluationEvent, error)
	Register(ctx context.Context, eventID, userID string) error
	AssignRole(ctx context.Context, eventID, userID string, role model.Role) error
	SetRating(ctx context.Context, eventID, target string, kind model.RatingKind, rater string) error
	Close(ctx context.Context, eventID string) (event.Tally, error)
	SetCloseConfirmHandle(ctx context.Context, eventID string, ref model.MessageRef) error
}

// Giveaways is the slice of the giveaway manager the router drives.
type Giveaways interface {
	Get(ctx context.Context, id string) (model.Giveaway, error)
	Enter(ctx context.Context, id, userID string) error
	Withdraw(ctx context.Context, id, userID string) error
	Close(ctx context.Context, id string, reason model.CloseReason) (model.Giveaway, bool, error)
}

// Router owns the handle registry and the dispatch loop.
type Router struct {
	events    Events
	giveaways Giveaways
	deduper   dedupe.Deduper
	identity  Identity
	reverter  Reverter
	confirmer ConfirmPublisher
	log       logger.Logger

	onEventClosed    func(ctx context.Context, tally event.Tally)
	onGiveawayClosed func(ctx context.Context, gw model.Giveaway)

	mu       sync.RWMutex
	registry map[string]Handle
}

// Option applies a configuration option to the Router.
type Option func(*Router)

// WithConfirmPublisher wires the close confirmation prompt publisher.
// Without one, close requests are rejected.
func WithConfirmPublisher(p ConfirmPublisher) Option {
	return func(r *Router) { r.confirmer = p }
}

// WithOnEventClosed runs after a confirmed event close.
func WithOnEventClosed(fn func(ctx context.Context, tally event.Tally)) Option {
	return func(r *Router) { r.onEventClosed = fn }
}

// WithOnGiveawayClosed runs after a manual giveaway stop.
func WithOnGiveawayClosed(fn func(ctx context.Context, gw model.Giveaway)) Option {
	return func(r *Router) { r.onGiveawayClosed = fn }
}

// New creates a router.
func New(events Events, giveaways Giveaways, ded dedupe.Deduper, identity Identity, reverter Reverter, opts ...Option) *Router {
	r := &Router{
		events:    events,
		giveaways: giveaways,
		deduper:   ded,
		identity:  identity,
		reverter:  reverter,
		log:       logger.Named("router"),
		registry:  make(map[string]Handle),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Bind registers a message ref as a workflow surface.
func (r *Router) Bind(ref model.MessageRef, h Handle) {
	if ref.Zero() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registry[ref.MessageID] = h
}

// Unbind removes one message binding.
func (r *Router) Unbind(ref model.MessageRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.registry, ref.MessageID)
}

// UnbindWorkflow removes every binding owned by a workflow id.
func (r *Router) UnbindWorkflow(workflowID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, h := range r.registry {
		if h.WorkflowID == workflowID {
			delete(r.registry, id)
		}
	}
}

// Bindings returns the number of live message bindings.
func (r *Router) Bindings() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.registry)
}

func (r *Router) lookup(messageID string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.registry[messageID]
	return h, ok
}

// Run consumes reactions until ctx is done or the channel closes.
func (r *Router) Run(ctx context.Context, in <-chan model.Reaction) {
	for {
		select {
		case <-ctx.Done():
			return
		case rx, ok := <-in:
			if !ok {
				return
			}
			if err := r.Dispatch(ctx, rx); err != nil {
				r.log.Error(ctx, "dispatch failed",
					logger.String("message_id", rx.Ref.MessageID),
					logger.String("user_id", rx.UserID),
					logger.String("symbol", rx.Symbol),
					logger.Error(err))
			}
		}
	}
}

// Dispatch routes one reaction notification. Duplicate deliveries are
// dropped; reactions on unbound messages are ignored.
func (r *Router) Dispatch(ctx context.Context, rx model.Reaction) error {
	start := time.Now()
	defer func() {
		metrics.RecordDispatchLatency(float64(time.Since(start).Milliseconds()))
	}()

	h, bound := r.lookup(rx.Ref.MessageID)
	if !bound {
		metrics.RecordReactionIgnored()
		return nil
	}

	key := rx.DeliveryKey()
	if !rx.Added {
		r.deduper.Unrecord(ctx, key)
		if h.Kind == KindGiveaway && rx.Symbol == model.SymbolTicket {
			return r.giveaways.Withdraw(ctx, h.WorkflowID, rx.UserID)
		}
		return nil
	}

	if r.deduper.SeenAndRecord(ctx, key) {
		metrics.RecordReactionDuplicate()
		return nil
	}

	err := r.handle(ctx, h, rx)
	if rej, ok := model.AsRejection(err); ok {
		metrics.RecordReactionRejected(string(rej.Reason))
		r.revert(ctx, rx, rej.Reason)
		r.deduper.Unrecord(ctx, key)
		return nil
	}
	if err != nil {
		// Leave room for a redelivery to try again.
		r.deduper.Unrecord(ctx, key)
		return err
	}
	metrics.RecordReactionDispatched(string(h.Kind))
	return nil
}

func (r *Router) handle(ctx context.Context, h Handle, rx model.Reaction) error {
	switch h.Kind {
	case KindCloseConfirm:
		return r.handleCloseConfirm(ctx, h, rx)
	case KindRating:
		return r.handleRating(ctx, h, rx)
	case KindSignup:
		if rx.Symbol != model.SymbolSignup {
			return nil
		}
		return r.events.Register(ctx, h.WorkflowID, rx.UserID)
	case KindRolePick:
		role, known := model.RoleForSymbol[rx.Symbol]
		if !known {
			return nil
		}
		return r.events.AssignRole(ctx, h.WorkflowID, rx.UserID, role)
	case KindGiveaway:
		return r.handleGiveaway(ctx, h, rx)
	default:
		return fmt.Errorf("unknown handle kind %q", h.Kind)
	}
}

func (r *Router) handleRating(ctx context.Context, h Handle, rx model.Reaction) error {
	if rx.Symbol == model.SymbolCloseRequest {
		return r.requestClose(ctx, h, rx)
	}
	kind, known := model.RatingForSymbol[rx.Symbol]
	if !known {
		return nil
	}
	if err := r.requireOperator(ctx, rx.UserID); err != nil {
		return err
	}
	return r.events.SetRating(ctx, h.WorkflowID, h.Target, kind, rx.UserID)
}

// requestClose starts the two-step close: publish a confirmation prompt
// and bind it. The close itself happens on the prompt's confirm symbol.
func (r *Router) requestClose(ctx context.Context, h Handle, rx model.Reaction) error {
	if err := r.requireOperator(ctx, rx.UserID); err != nil {
		return err
	}
	if r.confirmer == nil {
		return model.Reject(model.RejectUnknownTarget)
	}

	ev, err := r.events.Get(ctx, h.WorkflowID)
	if err != nil {
		return fmt.Errorf("load event %s: %w", h.WorkflowID, err)
	}
	if ev.Phase != model.PhaseRatingOpen {
		return model.Reject(model.RejectWrongPhase)
	}
	if !ev.Handles.CloseConfirm.Zero() {
		// A confirmation is already pending; nothing more to do.
		return nil
	}

	ref, err := r.confirmer.PublishCloseConfirm(ctx, ev, rx.UserID)
	if err != nil {
		return fmt.Errorf("publish close confirmation: %w", err)
	}
	if err := r.events.SetCloseConfirmHandle(ctx, h.WorkflowID, ref); err != nil {
		return err
	}
	r.Bind(ref, Handle{Kind: KindCloseConfirm, WorkflowID: h.WorkflowID, Requester: rx.UserID})
	return nil
}

func (r *Router) handleCloseConfirm(ctx context.Context, h Handle, rx model.Reaction) error {
	switch rx.Symbol {
	case model.SymbolConfirm:
		if err := r.requireOperator(ctx, rx.UserID); err != nil {
			return err
		}
		tally, err := r.events.Close(ctx, h.WorkflowID)
		if err != nil {
			return err
		}
		r.Unbind(rx.Ref)
		r.UnbindWorkflow(h.WorkflowID)
		if r.onEventClosed != nil {
			r.onEventClosed(ctx, tally)
		}
		return nil
	case model.SymbolCancel:
		if err := r.requireOperator(ctx, rx.UserID); err != nil {
			return err
		}
		r.Unbind(rx.Ref)
		return r.events.SetCloseConfirmHandle(ctx, h.WorkflowID, model.MessageRef{})
	default:
		return nil
	}
}

func (r *Router) handleGiveaway(ctx context.Context, h Handle, rx model.Reaction) error {
	switch rx.Symbol {
	case model.SymbolTicket:
		return r.giveaways.Enter(ctx, h.WorkflowID, rx.UserID)
	case model.SymbolStop:
		gw, err := r.giveaways.Get(ctx, h.WorkflowID)
		if err != nil {
			return fmt.Errorf("load giveaway %s: %w", h.WorkflowID, err)
		}
		if rx.UserID != gw.Creator {
			return model.Reject(model.RejectUnauthorized)
		}
		closed, drawn, err := r.giveaways.Close(ctx, h.WorkflowID, model.CloseManualStop)
		if err != nil {
			return err
		}
		r.UnbindWorkflow(h.WorkflowID)
		if drawn && r.onGiveawayClosed != nil {
			r.onGiveawayClosed(ctx, closed)
		}
		return nil
	default:
		return nil
	}
}

func (r *Router) requireOperator(ctx context.Context, userID string) error {
	if r.identity == nil {
		return model.Reject(model.RejectUnauthorized)
	}
	ok, err := r.identity.IsOperator(ctx, userID)
	if err != nil {
		return fmt.Errorf("check operator %s: %w", userID, err)
	}
	if !ok {
		return model.Reject(model.RejectUnauthorized)
	}
	return nil
}

func (r *Router) revert(ctx context.Context, rx model.Reaction, reason model.RejectReason) {
	if err := r.reverter.RemoveReaction(ctx, rx.Ref, rx.Symbol, rx.UserID); err != nil {
		r.log.Warn(ctx, "failed to revert reaction",
			logger.String("message_id", rx.Ref.MessageID),
			logger.String("user_id", rx.UserID),
			logger.Error(err))
	}
	if err := r.reverter.Notice(ctx, rx.Ref, rx.UserID, reason); err != nil {
		r.log.Warn(ctx, "failed to emit notice",
			logger.String("message_id", rx.Ref.MessageID),
			logger.String("user_id", rx.UserID),
			logger.Error(err))
	}
}
