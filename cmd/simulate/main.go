// Command simulate drives a full event and giveaway lifecycle against
// an in-memory core, useful for eyeballing the engine without a chat
// gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/yhlam/guildcore/internal/adapters/repository"
	app "github.com/yhlam/guildcore/internal/app"
	"github.com/yhlam/guildcore/internal/domain/event"
	"github.com/yhlam/guildcore/internal/domain/model"
	"github.com/yhlam/guildcore/internal/router"
	"github.com/yhlam/guildcore/pkg/logger"
)

func main() {
	users := flag.Int("users", 5, "number of simulated members")
	flag.Parse()

	if err := run(*users); err != nil {
		os.Stderr.WriteString("simulation failed: " + err.Error() + "\n")
		os.Exit(1)
	}
}

func run(users int) error {
	if err := logger.Init(); err != nil {
		return err
	}
	_ = logger.SetLevelString("warn")

	ctx := context.Background()
	svc := app.New(repository.NewMemoryStore(),
		app.WithPublisher(stubPublisher{}),
		app.WithIdentity(router.OperatorFunc(func(context.Context, string) (bool, error) {
			return true, nil
		})),
		app.WithCountdownInterval(time.Hour),
	)
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	ev, err := svc.CreateEvaluation(ctx, "simulated raid", "operator", 2*time.Second)
	if err != nil {
		return err
	}
	fmt.Printf("event %s open for signup\n", ev.ID)

	roles := []string{"🛡️", "⚔️", "💚", "💛"}
	for i := 0; i < users; i++ {
		userID := fmt.Sprintf("user-%02d", i)
		react(svc, ev.Handles.Signup, model.SymbolSignup, userID)
		react(svc, ev.Handles.RolePick, roles[i%len(roles)], userID)
	}

	// Wait out the signup window plus slack for the transition.
	time.Sleep(3 * time.Second)

	ev, err = svc.Event(ctx, ev.ID)
	if err != nil {
		return err
	}
	fmt.Printf("phase now %s, %d participants\n", ev.Phase, len(ev.Participants))

	for userID, ref := range ev.Handles.RatingCards {
		react(svc, ref, "⭐", "operator")
		time.Sleep(50 * time.Millisecond)
		acct, err := svc.Account(ctx, userID)
		if err != nil {
			return err
		}
		fmt.Printf("%s: balance %d\n", userID, acct.Balance)
	}

	gw, err := svc.CreateGiveaway(ctx, "operator", "simulated prize", 2, 10*time.Second)
	if err != nil {
		return err
	}
	for i := 0; i < users; i++ {
		react(svc, gw.Handle, model.SymbolTicket, fmt.Sprintf("user-%02d", i))
	}
	time.Sleep(100 * time.Millisecond)
	react(svc, gw.Handle, model.SymbolStop, "operator")
	time.Sleep(100 * time.Millisecond)

	gw, err = svc.Giveaway(ctx, gw.ID)
	if err != nil {
		return err
	}
	fmt.Printf("giveaway %s winners: %v\n", gw.Status, gw.Winners)

	board, err := svc.Leaderboard(ctx, users)
	if err != nil {
		return err
	}
	fmt.Println("leaderboard:")
	for i, acct := range board {
		fmt.Printf("  %d. %s %d\n", i+1, acct.UserID, acct.Balance)
	}
	return nil
}

var nextMessage int

// stubPublisher fabricates message refs so the router has something to
// bind; nothing is rendered.
type stubPublisher struct{}

func newRef() (model.MessageRef, error) {
	nextMessage++
	return model.MessageRef{ChannelID: "sim", MessageID: fmt.Sprintf("msg-%04d", nextMessage)}, nil
}

func (stubPublisher) PublishSignup(context.Context, model.EvaluationEvent) (model.MessageRef, error) {
	return newRef()
}
func (stubPublisher) PublishRolePick(context.Context, model.EvaluationEvent) (model.MessageRef, error) {
	return newRef()
}
func (stubPublisher) PublishRatingCard(context.Context, model.EvaluationEvent, string) (model.MessageRef, error) {
	return newRef()
}
func (stubPublisher) PublishCloseConfirm(context.Context, model.EvaluationEvent, string) (model.MessageRef, error) {
	return newRef()
}
func (stubPublisher) PublishGiveaway(context.Context, model.Giveaway) (model.MessageRef, error) {
	return newRef()
}
func (stubPublisher) UpdateCountdown(context.Context, model.MessageRef, time.Duration) error {
	return nil
}
func (stubPublisher) AnnounceEventTally(ctx context.Context, tally event.Tally) error {
	fmt.Printf("event %s closed with %d participants\n", tally.Name, len(tally.Participants))
	return nil
}
func (stubPublisher) AnnounceGiveawayResult(context.Context, model.Giveaway) error {
	return nil
}

func react(svc *app.Service, ref model.MessageRef, symbol, userID string) {
	svc.EnqueueReaction(context.Background(), model.Reaction{
		Ref:    ref,
		Symbol: symbol,
		UserID: userID,
		Added:  true,
	})
}
