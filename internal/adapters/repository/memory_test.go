package repository_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/yhlam/guildcore/internal/adapters/repository"
	"github.com/yhlam/guildcore/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMemoryAccounts(t *testing.T) {
	Convey("Given an in-memory account store", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		accounts := store.Accounts()

		Convey("When getting an unknown user", func() {
			acct, err := accounts.Get(ctx, "u1")

			Convey("Then a zero-value account materializes without persisting", func() {
				So(err, ShouldBeNil)
				So(acct.UserID, ShouldEqual, "u1")
				So(acct.Balance, ShouldEqual, 0)

				all, err := accounts.List(ctx)
				So(err, ShouldBeNil)
				So(all, ShouldBeEmpty)
			})
		})

		Convey("When saving an account with a ledger entry", func() {
			acct := model.NewAccount("u1", time.Now().UTC())
			acct.Balance = 40
			entry := model.LedgerEntry{ID: "e1", UserID: "u1", Delta: 40, Reason: "signup", Timestamp: time.Now().UTC()}
			So(accounts.Save(ctx, acct, &entry), ShouldBeNil)

			Convey("Then both are readable", func() {
				got, err := accounts.Get(ctx, "u1")
				So(err, ShouldBeNil)
				So(got.Balance, ShouldEqual, 40)

				entries, err := accounts.Entries(ctx, "u1", 0)
				So(err, ShouldBeNil)
				So(entries, ShouldHaveLength, 1)
				So(entries[0].ID, ShouldEqual, "e1")
			})

			Convey("Then mutating the returned account does not leak into the store", func() {
				got, _ := accounts.Get(ctx, "u1")
				got.RolePicks[model.RoleTank] = 99

				again, _ := accounts.Get(ctx, "u1")
				So(again.RolePicks[model.RoleTank], ShouldEqual, 0)
			})
		})

		Convey("When multiple entries accumulate", func() {
			acct := model.NewAccount("u1", time.Now().UTC())
			for i := 0; i < 5; i++ {
				entry := model.LedgerEntry{
					ID:        fmt.Sprintf("e%d", i),
					UserID:    "u1",
					Delta:     int64(i),
					Timestamp: time.Now().UTC(),
				}
				So(accounts.Save(ctx, acct, &entry), ShouldBeNil)
			}

			Convey("Then Entries returns newest first and honors the limit", func() {
				entries, err := accounts.Entries(ctx, "u1", 2)
				So(err, ShouldBeNil)
				So(entries, ShouldHaveLength, 2)
				So(entries[0].ID, ShouldEqual, "e4")
				So(entries[1].ID, ShouldEqual, "e3")
			})
		})
	})
}

func TestMemoryEvents(t *testing.T) {
	Convey("Given an in-memory event store", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		events := store.Events()

		Convey("When getting an unknown event", func() {
			_, err := events.Get(ctx, "missing")

			Convey("Then ErrNotFound is returned", func() {
				So(err, ShouldEqual, repository.ErrNotFound)
			})
		})

		Convey("When saving events in different phases", func() {
			open := model.EvaluationEvent{ID: "e1", Phase: model.PhaseSignupOpen, Participants: map[string]bool{}}
			rating := model.EvaluationEvent{ID: "e2", Phase: model.PhaseRatingOpen, Participants: map[string]bool{}}
			closed := model.EvaluationEvent{ID: "e3", Phase: model.PhaseClosed, Participants: map[string]bool{}}
			So(events.Save(ctx, open), ShouldBeNil)
			So(events.Save(ctx, rating), ShouldBeNil)
			So(events.Save(ctx, closed), ShouldBeNil)

			Convey("Then Active excludes closed events", func() {
				active, err := events.Active(ctx)
				So(err, ShouldBeNil)
				So(active, ShouldHaveLength, 2)
			})
		})

		Convey("When reading back a saved event", func() {
			ev := model.EvaluationEvent{
				ID:           "e1",
				Phase:        model.PhaseSignupOpen,
				Participants: map[string]bool{"u1": true},
				Roles:        map[string]model.Role{"u1": model.RoleHealer},
				Ratings:      map[string][]model.Rating{"u1": {{Kind: model.RatingBaseline}}},
			}
			So(events.Save(ctx, ev), ShouldBeNil)
			got, err := events.Get(ctx, "e1")
			So(err, ShouldBeNil)

			Convey("Then nested state round-trips and is isolated", func() {
				So(got.Participants["u1"], ShouldBeTrue)
				So(got.Roles["u1"], ShouldEqual, model.RoleHealer)

				got.Participants["u2"] = true
				again, _ := events.Get(ctx, "e1")
				So(again.Participants["u2"], ShouldBeFalse)
			})
		})
	})
}

func TestMemoryGiveaways(t *testing.T) {
	Convey("Given an in-memory giveaway store", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		giveaways := store.Giveaways()

		Convey("When saving open and closed giveaways", func() {
			So(giveaways.Save(ctx, model.Giveaway{ID: "g1", Status: model.GiveawayOpen, Participants: map[string]bool{}}), ShouldBeNil)
			So(giveaways.Save(ctx, model.Giveaway{ID: "g2", Status: model.GiveawayClosed, Participants: map[string]bool{}}), ShouldBeNil)

			Convey("Then Active returns only open giveaways", func() {
				active, err := giveaways.Active(ctx)
				So(err, ShouldBeNil)
				So(active, ShouldHaveLength, 1)
				So(active[0].ID, ShouldEqual, "g1")
			})

			Convey("Then unknown lookups return ErrNotFound", func() {
				_, err := giveaways.Get(ctx, "missing")
				So(err, ShouldEqual, repository.ErrNotFound)
			})
		})
	})
}

func TestMemoryStoreClose(t *testing.T) {
	Convey("Given a closed store", t, func() {
		store := repository.NewMemoryStore()
		So(store.Close(), ShouldBeNil)

		Convey("Then closing again is safe", func() {
			So(store.Close(), ShouldBeNil)
		})
	})
}
