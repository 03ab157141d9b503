package giveaway_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/yhlam/guildcore/internal/adapters/repository"
	"github.com/yhlam/guildcore/internal/domain/giveaway"
	"github.com/yhlam/guildcore/internal/domain/model"
	"github.com/yhlam/guildcore/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	_ = logger.Init()
	os.Exit(m.Run())
}

func newManager(opts ...giveaway.Option) *giveaway.Manager {
	return giveaway.New(repository.NewMemoryStore().Giveaways(), opts...)
}

func TestCreateGiveaway(t *testing.T) {
	Convey("Given a giveaway manager", t, func() {
		ctx := context.Background()
		mgr := newManager()

		Convey("When creating with a valid window", func() {
			gw, err := mgr.Create(ctx, "op", "mount", 2, time.Hour)

			Convey("Then the giveaway opens with an empty pool", func() {
				So(err, ShouldBeNil)
				So(gw.Status, ShouldEqual, model.GiveawayOpen)
				So(gw.Prize, ShouldEqual, "mount")
				So(gw.WinnerCount, ShouldEqual, 2)
				So(gw.Participants, ShouldBeEmpty)
			})
		})

		Convey("When the window is out of bounds", func() {
			_, err := mgr.Create(ctx, "op", "mount", 1, 5*time.Second)
			So(err, ShouldNotBeNil)

			_, err = mgr.Create(ctx, "op", "mount", 1, 8*24*time.Hour)
			So(err, ShouldNotBeNil)
		})

		Convey("When the prize is missing or winner count invalid", func() {
			_, err := mgr.Create(ctx, "op", "", 1, time.Hour)
			So(err, ShouldNotBeNil)

			_, err = mgr.Create(ctx, "op", "mount", 0, time.Hour)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestEnterWithdraw(t *testing.T) {
	Convey("Given an open giveaway", t, func() {
		ctx := context.Background()
		mgr := newManager()
		gw, err := mgr.Create(ctx, "op", "mount", 1, time.Hour)
		So(err, ShouldBeNil)

		Convey("When users enter", func() {
			So(mgr.Enter(ctx, gw.ID, "u1"), ShouldBeNil)
			So(mgr.Enter(ctx, gw.ID, "u1"), ShouldBeNil)
			So(mgr.Enter(ctx, gw.ID, "u2"), ShouldBeNil)

			Convey("Then the pool holds each entrant once", func() {
				got, _ := mgr.Get(ctx, gw.ID)
				So(got.Participants, ShouldHaveLength, 2)
			})

			Convey("And withdrawing removes the ticket", func() {
				So(mgr.Withdraw(ctx, gw.ID, "u1"), ShouldBeNil)
				got, _ := mgr.Get(ctx, gw.ID)
				So(got.Participants, ShouldHaveLength, 1)
				So(got.Participants["u2"], ShouldBeTrue)
			})

			Convey("And withdrawing an unknown user is a no-op", func() {
				So(mgr.Withdraw(ctx, gw.ID, "ghost"), ShouldBeNil)
			})
		})

		Convey("When entering after close", func() {
			_, _, err := mgr.Close(ctx, gw.ID, model.CloseManualStop)
			So(err, ShouldBeNil)

			err = mgr.Enter(ctx, gw.ID, "late")
			rej, ok := model.AsRejection(err)
			So(ok, ShouldBeTrue)
			So(rej.Reason, ShouldEqual, model.RejectWrongPhase)

			Convey("And withdrawing after close changes nothing", func() {
				So(mgr.Withdraw(ctx, gw.ID, "u1"), ShouldBeNil)
			})
		})
	})
}

func TestDraw(t *testing.T) {
	Convey("Given entrants fewer than the winner count", t, func() {
		ctx := context.Background()
		mgr := newManager()
		gw, err := mgr.Create(ctx, "op", "mount", 5, time.Hour)
		So(err, ShouldBeNil)
		for _, u := range []string{"c", "a", "b"} {
			So(mgr.Enter(ctx, gw.ID, u), ShouldBeNil)
		}

		Convey("When the giveaway closes", func() {
			closed, drawn, err := mgr.Close(ctx, gw.ID, model.CloseTimerExpiry)

			Convey("Then everyone wins, in sorted order", func() {
				So(err, ShouldBeNil)
				So(drawn, ShouldBeTrue)
				So(closed.Status, ShouldEqual, model.GiveawayClosed)
				So(closed.Winners, ShouldResemble, []string{"a", "b", "c"})
			})
		})
	})

	Convey("Given more entrants than winner slots", t, func() {
		ctx := context.Background()
		// Always picking the current slot makes the sample the first
		// count entrants in sorted order.
		mgr := newManager(giveaway.WithRand(func(n int) int { return 0 }))
		gw, err := mgr.Create(ctx, "op", "mount", 2, time.Hour)
		So(err, ShouldBeNil)
		for i := 0; i < 6; i++ {
			So(mgr.Enter(ctx, gw.ID, fmt.Sprintf("user-%d", i)), ShouldBeNil)
		}

		Convey("When the giveaway closes", func() {
			closed, drawn, err := mgr.Close(ctx, gw.ID, model.CloseTimerExpiry)

			Convey("Then exactly winner-count entrants are drawn", func() {
				So(err, ShouldBeNil)
				So(drawn, ShouldBeTrue)
				So(closed.Winners, ShouldResemble, []string{"user-0", "user-1"})
			})

			Convey("And closing again returns the same draw without redrawing", func() {
				again, drawnAgain, err := mgr.Close(ctx, gw.ID, model.CloseManualStop)
				So(err, ShouldBeNil)
				So(drawnAgain, ShouldBeFalse)
				So(again.Winners, ShouldResemble, closed.Winners)
				So(again.Status, ShouldEqual, model.GiveawayClosed)
			})
		})
	})

	Convey("Given a biased random source picking the last slot", t, func() {
		ctx := context.Background()
		mgr := newManager(giveaway.WithRand(func(n int) int { return n - 1 }))
		gw, err := mgr.Create(ctx, "op", "mount", 2, time.Hour)
		So(err, ShouldBeNil)
		for i := 0; i < 5; i++ {
			So(mgr.Enter(ctx, gw.ID, fmt.Sprintf("user-%d", i)), ShouldBeNil)
		}

		Convey("When the giveaway closes", func() {
			closed, _, err := mgr.Close(ctx, gw.ID, model.CloseTimerExpiry)

			Convey("Then the draw follows the source deterministically", func() {
				So(err, ShouldBeNil)
				So(closed.Winners, ShouldResemble, []string{"user-0", "user-4"})
			})
		})
	})
}

func TestActiveGiveaways(t *testing.T) {
	Convey("Given one open and one closed giveaway", t, func() {
		ctx := context.Background()
		mgr := newManager()
		open, err := mgr.Create(ctx, "op", "mount", 1, time.Hour)
		So(err, ShouldBeNil)
		done, err := mgr.Create(ctx, "op", "pet", 1, time.Hour)
		So(err, ShouldBeNil)
		_, _, err = mgr.Close(ctx, done.ID, model.CloseManualStop)
		So(err, ShouldBeNil)

		Convey("When listing active giveaways", func() {
			active, err := mgr.Active(ctx)

			Convey("Then only the open one is returned", func() {
				So(err, ShouldBeNil)
				So(active, ShouldHaveLength, 1)
				So(active[0].ID, ShouldEqual, open.ID)
			})
		})
	})
}
