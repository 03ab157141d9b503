package model_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/yhlam/guildcore/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestPeriodKey(t *testing.T) {
	Convey("Given points in time across a month", t, func() {
		Convey("Then days 1-15 land in the first half", func() {
			So(model.PeriodKey(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)), ShouldEqual, "2025-03-H1")
			So(model.PeriodKey(time.Date(2025, 3, 15, 23, 59, 0, 0, time.UTC)), ShouldEqual, "2025-03-H1")
		})

		Convey("Then days 16 onward land in the second half", func() {
			So(model.PeriodKey(time.Date(2025, 3, 16, 0, 0, 0, 0, time.UTC)), ShouldEqual, "2025-03-H2")
			So(model.PeriodKey(time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC)), ShouldEqual, "2025-03-H2")
		})

		Convey("Then different months yield different keys", func() {
			So(model.PeriodKey(time.Date(2025, 12, 2, 0, 0, 0, 0, time.UTC)), ShouldEqual, "2025-12-H1")
		})
	})
}

func TestDeliveryKey(t *testing.T) {
	Convey("Given reactions", t, func() {
		rx := model.Reaction{
			Ref:    model.MessageRef{ChannelID: "c1", MessageID: "m1"},
			Symbol: "✅",
			UserID: "u1",
			Added:  true,
		}

		Convey("Then the key combines message, user and symbol", func() {
			So(rx.DeliveryKey(), ShouldEqual, "m1:u1:✅")
		})

		Convey("Then changing any component changes the key", func() {
			other := rx
			other.UserID = "u2"
			So(other.DeliveryKey(), ShouldNotEqual, rx.DeliveryKey())

			other = rx
			other.Symbol = "🎫"
			So(other.DeliveryKey(), ShouldNotEqual, rx.DeliveryKey())
		})
	})
}

func TestActiveRating(t *testing.T) {
	Convey("Given an event with rating history", t, func() {
		ev := model.EvaluationEvent{
			Participants: map[string]bool{"u1": true},
			Ratings: map[string][]model.Rating{
				"u1": {
					{Kind: model.RatingBaseline},
					{Kind: model.RatingExcellent, Rater: "admin"},
				},
			},
		}

		Convey("Then the last record is active", func() {
			r, ok := ev.ActiveRating("u1")
			So(ok, ShouldBeTrue)
			So(r.Kind, ShouldEqual, model.RatingExcellent)
		})

		Convey("Then a user without records has no active rating", func() {
			_, ok := ev.ActiveRating("u2")
			So(ok, ShouldBeFalse)
		})
	})
}

func TestRejection(t *testing.T) {
	Convey("Given rejection errors", t, func() {
		err := model.Reject(model.RejectUnauthorized)

		Convey("Then AsRejection recovers the reason", func() {
			rej, ok := model.AsRejection(err)
			So(ok, ShouldBeTrue)
			So(rej.Reason, ShouldEqual, model.RejectUnauthorized)
		})

		Convey("Then wrapping is transparent", func() {
			wrapped := fmt.Errorf("dispatch: %w", err)
			rej, ok := model.AsRejection(wrapped)
			So(ok, ShouldBeTrue)
			So(rej.Reason, ShouldEqual, model.RejectUnauthorized)
		})

		Convey("Then other errors do not match", func() {
			_, ok := model.AsRejection(errors.New("boom"))
			So(ok, ShouldBeFalse)
		})
	})
}

func TestNewAccount(t *testing.T) {
	Convey("Given a fresh account", t, func() {
		now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		acct := model.NewAccount("u1", now)

		Convey("Then maps are usable and counters zero", func() {
			So(acct.UserID, ShouldEqual, "u1")
			So(acct.Balance, ShouldEqual, 0)
			So(acct.LifetimeEarned, ShouldEqual, 0)
			So(acct.RolePicks, ShouldNotBeNil)
			So(acct.RatingCounts, ShouldNotBeNil)
			So(acct.Attendance, ShouldNotBeNil)
			So(acct.CreatedAt, ShouldEqual, now)
		})
	})
}

func TestSymbolTables(t *testing.T) {
	Convey("Given the symbol lookup tables", t, func() {
		Convey("Then every role has a symbol", func() {
			seen := map[model.Role]bool{}
			for _, role := range model.RoleForSymbol {
				seen[role] = true
			}
			So(len(seen), ShouldEqual, 4)
		})

		Convey("Then every rating kind has a symbol", func() {
			seen := map[model.RatingKind]bool{}
			for _, kind := range model.RatingForSymbol {
				seen[kind] = true
			}
			So(len(seen), ShouldEqual, len(model.RatingKinds))
		})
	})
}
