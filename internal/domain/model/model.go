// Package model contains domain records passed between layers.
package model

import (
	"errors"
	"fmt"
	"time"
)

// Role is a combat role a participant picks for one evaluation event.
type Role string

// Roles known to the engine.
const (
	RoleTank    Role = "tank"
	RoleDPS     Role = "dps"
	RoleHealer  Role = "healer"
	RoleSupport Role = "support"
)

// RatingKind is a performance grade. Only the latest rating record for a
// (event, user) pair is active and contributes points.
type RatingKind string

// Rating kinds ordered best to worst. Baseline is the default grade seeded
// when the signup phase ends.
const (
	RatingExcellent RatingKind = "excellent"
	RatingGood      RatingKind = "good"
	RatingBaseline  RatingKind = "baseline"
	RatingFail      RatingKind = "fail"
)

// RatingKinds lists all kinds in display order.
var RatingKinds = []RatingKind{RatingExcellent, RatingGood, RatingBaseline, RatingFail}

// Reaction symbols. These are the abstract tokens users attach to published
// messages; the values mirror the emoji the community already uses.
const (
	SymbolSignup       = "✅"
	SymbolCloseRequest = "🏁"
	SymbolConfirm      = "✅"
	SymbolCancel       = "❌"
	SymbolTicket       = "🎫"
	SymbolStop         = "⏹️"
)

// RoleForSymbol maps a role-pick reaction symbol to its role.
var RoleForSymbol = map[string]Role{
	"🛡️": RoleTank,
	"⚔️": RoleDPS,
	"💚": RoleHealer,
	"💛": RoleSupport,
}

// RatingForSymbol maps a rating reaction symbol to its kind.
var RatingForSymbol = map[string]RatingKind{
	"⭐": RatingExcellent,
	"👍": RatingGood,
	"👌": RatingBaseline,
	"❌": RatingFail,
}

// Attendance counts offered vs attended activities inside one period.
type Attendance struct {
	Offered  int `json:"offered"`
	Attended int `json:"attended"`
}

// Account holds one member's balances and counters. Accounts are created
// lazily on first reference and never deleted.
type Account struct {
	UserID         string                `json:"user_id"`
	Balance        int64                 `json:"balance"`
	LifetimeEarned int64                 `json:"lifetime_earned"`
	RolePicks      map[Role]int          `json:"role_picks"`
	RatingCounts   map[RatingKind]int    `json:"rating_counts"`
	Attendance     map[string]Attendance `json:"attendance"`
	CreatedAt      time.Time             `json:"created_at"`
	LastActive     time.Time             `json:"last_active"`
}

// NewAccount returns an empty account for userID.
func NewAccount(userID string, now time.Time) Account {
	return Account{
		UserID:       userID,
		RolePicks:    make(map[Role]int),
		RatingCounts: make(map[RatingKind]int),
		Attendance:   make(map[string]Attendance),
		CreatedAt:    now,
		LastActive:   now,
	}
}

// LedgerEntry is one append-only audit row for a balance change.
type LedgerEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Delta     int64     `json:"delta"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Phase is the lifecycle state of an evaluation event. Transitions are
// one-directional: SignupOpen -> RatingOpen -> Closed.
type Phase string

// Evaluation event phases.
const (
	PhaseSignupOpen Phase = "signup_open"
	PhaseRatingOpen Phase = "rating_open"
	PhaseClosed     Phase = "closed"
)

// Rating is one grade record. The last record in a user's list is active.
type Rating struct {
	Rater string     `json:"rater"`
	Kind  RatingKind `json:"kind"`
	At    time.Time  `json:"at"`
}

// MessageRef is an opaque display handle. The core never parses display
// content; it only matches inbound reactions against these refs.
type MessageRef struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

// Zero reports whether the ref has not been published yet.
func (m MessageRef) Zero() bool { return m.MessageID == "" }

// DisplayHandles holds the published message refs of one evaluation
// event. RatingCards maps each participant to their own rating card,
// published when the rating phase opens; rating and close-request
// reactions land on those cards.
type DisplayHandles struct {
	Signup       MessageRef            `json:"signup"`
	RolePick     MessageRef            `json:"role_pick"`
	RatingCards  map[string]MessageRef `json:"rating_cards"`
	CloseConfirm MessageRef            `json:"close_confirm"`
}

// EvaluationEvent is one timed activity with signup, role pick, rating and
// close phases.
type EvaluationEvent struct {
	ID             string              `json:"id"`
	Name           string              `json:"name"`
	Creator        string              `json:"creator"`
	Phase          Phase               `json:"phase"`
	SignupDeadline time.Time           `json:"signup_deadline"`
	Participants   map[string]bool     `json:"participants"`
	Roles          map[string]Role     `json:"roles"`
	Ratings        map[string][]Rating `json:"ratings"`
	Handles        DisplayHandles      `json:"handles"`
	CreatedAt      time.Time           `json:"created_at"`
}

// IsParticipant reports whether userID signed up for the event.
func (e *EvaluationEvent) IsParticipant(userID string) bool {
	return e.Participants[userID]
}

// ActiveRating returns the latest rating record for userID, if any.
func (e *EvaluationEvent) ActiveRating(userID string) (Rating, bool) {
	list := e.Ratings[userID]
	if len(list) == 0 {
		return Rating{}, false
	}
	return list[len(list)-1], true
}

// GiveawayStatus is the lifecycle state of a giveaway.
type GiveawayStatus string

// Giveaway statuses.
const (
	GiveawayOpen   GiveawayStatus = "open"
	GiveawayClosed GiveawayStatus = "closed"
)

// CloseReason says what triggered a giveaway close.
type CloseReason string

// Close reasons.
const (
	CloseTimerExpiry CloseReason = "timer_expiry"
	CloseManualStop  CloseReason = "manual_stop"
)

// Giveaway is one prize draw with a timed entry window.
type Giveaway struct {
	ID           string          `json:"id"`
	Creator      string          `json:"creator"`
	Prize        string          `json:"prize"`
	WinnerCount  int             `json:"winner_count"`
	Deadline     time.Time       `json:"deadline"`
	Status       GiveawayStatus  `json:"status"`
	Participants map[string]bool `json:"participants"`
	Winners      []string        `json:"winners"`
	Handle       MessageRef      `json:"handle"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Reaction is one inbound "user reacted to message X with symbol Y"
// notification. Delivery is at least once; duplicates are possible.
type Reaction struct {
	Ref    MessageRef
	Symbol string
	UserID string
	Added  bool
}

// DeliveryKey identifies a reaction for duplicate-delivery tracking.
func (r Reaction) DeliveryKey() string {
	return r.Ref.MessageID + ":" + r.UserID + ":" + r.Symbol
}

// PeriodKey buckets a point in time into its half-month attendance period,
// e.g. "2025-03-H1" for March 1st through 15th.
func PeriodKey(t time.Time) string {
	half := "H1"
	if t.Day() > 15 {
		half = "H2"
	}
	return fmt.Sprintf("%s-%s", t.Format("2006-01"), half)
}

// RejectReason is the typed cause of a refused operation.
type RejectReason string

// Reject reasons reported to callers. None of them are fatal; the workflow
// keeps accepting valid operations afterwards.
const (
	RejectNotSignedUp     RejectReason = "not-signed-up"
	RejectAlreadyAssigned RejectReason = "already-assigned"
	RejectDeadlinePassed  RejectReason = "deadline-passed"
	RejectUnauthorized    RejectReason = "unauthorized"
	RejectWrongPhase      RejectReason = "wrong-phase"
	RejectNotParticipant  RejectReason = "not-a-participant"
	RejectUnknownTarget   RejectReason = "unknown-target"
)

// Rejection is a recoverable validation error. The router reverts the
// triggering reaction and emits a transient notice; no state changes.
type Rejection struct {
	Reason RejectReason
}

func (r Rejection) Error() string { return "rejected: " + string(r.Reason) }

// Reject builds a Rejection error for reason.
func Reject(reason RejectReason) error { return Rejection{Reason: reason} }

// AsRejection unwraps err into a Rejection if it carries one.
func AsRejection(err error) (Rejection, bool) {
	var rej Rejection
	ok := errors.As(err, &rej)
	return rej, ok
}
