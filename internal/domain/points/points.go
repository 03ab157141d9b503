// Package points defines the reward table mapping signup, role picks and
// rating kinds to point values.
package points

import (
	"github.com/yhlam/guildcore/internal/domain/model"
)

// Default point values observed in guild policy.
const (
	defaultSignupCredit = 40
	defaultHealerBonus  = 20
)

// Table resolves point deltas for the event machine. Values are fixed at
// construction; lookups are pure.
type Table struct {
	signupCredit int64
	roleBonus    map[model.Role]int64
	ratingValue  map[model.RatingKind]int64
}

// Option applies a configuration option to the Table.
type Option func(*Table)

// WithSignupCredit overrides the per-participant signup credit.
func WithSignupCredit(credit int64) Option {
	return func(t *Table) {
		if credit >= 0 {
			t.signupCredit = credit
		}
	}
}

// WithRoleBonuses overrides role bonuses from a configuration map. Unknown
// roles are ignored; missing roles keep a zero bonus.
func WithRoleBonuses(bonuses map[string]int64) Option {
	return func(t *Table) {
		if len(bonuses) == 0 {
			return
		}
		t.roleBonus = make(map[model.Role]int64, len(bonuses))
		for role, bonus := range bonuses {
			t.roleBonus[model.Role(role)] = bonus
		}
	}
}

// WithRatingValues overrides rating point values from a configuration map.
func WithRatingValues(values map[string]int64) Option {
	return func(t *Table) {
		if len(values) == 0 {
			return
		}
		t.ratingValue = make(map[model.RatingKind]int64, len(values))
		for kind, value := range values {
			t.ratingValue[model.RatingKind(kind)] = value
		}
	}
}

// New builds a reward table with guild defaults: signup 40, healer bonus 20,
// ratings excellent +40 / good +10 / baseline 0 / fail -5.
func New(opts ...Option) *Table {
	t := &Table{
		signupCredit: defaultSignupCredit,
		roleBonus: map[model.Role]int64{
			model.RoleHealer: defaultHealerBonus,
		},
		ratingValue: map[model.RatingKind]int64{
			model.RatingExcellent: 40,
			model.RatingGood:      10,
			model.RatingBaseline:  0,
			model.RatingFail:      -5,
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SignupCredit is the amount awarded once per participant when the signup
// window closes.
func (t *Table) SignupCredit() int64 { return t.signupCredit }

// RoleBonus is the one-time bonus for picking role. Zero for most roles.
func (t *Table) RoleBonus(role model.Role) int64 { return t.roleBonus[role] }

// RatingValue is the point contribution of a rating kind. Unknown kinds are
// worth zero.
func (t *Table) RatingValue(kind model.RatingKind) int64 { return t.ratingValue[kind] }
