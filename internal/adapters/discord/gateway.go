// Package discord is the gateway glue between the chat platform and
// the core: it turns reaction events into inbox notifications, answers
// permission checks, reverts rejected reactions, and renders the
// workflow displays.
package discord

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/yhlam/guildcore/internal/domain/model"
	"github.com/yhlam/guildcore/pkg/logger"
)

// Core is the slice of the service the gateway drives.
type Core interface {
	EnqueueReaction(ctx context.Context, rx model.Reaction) bool
	CreateEvaluation(ctx context.Context, name, creator string, signupWindow time.Duration) (model.EvaluationEvent, error)
	CreateGiveaway(ctx context.Context, creator, prize string, winnerCount int, duration time.Duration) (model.Giveaway, error)
	Account(ctx context.Context, userID string) (model.Account, error)
	Leaderboard(ctx context.Context, limit int) ([]model.Account, error)
	Transfer(ctx context.Context, from, to string, amount int64) error
}

// Gateway owns the discordgo session.
type Gateway struct {
	session   *discordgo.Session
	channelID string
	core      Core
	log       logger.Logger
}

// New creates the gateway. channelID is where workflow displays and
// command replies are published.
func New(token, channelID string) (*Gateway, error) {
	if token == "" {
		return nil, fmt.Errorf("discord token is required")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.ShouldRetryOnRateLimit = true
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions

	g := &Gateway{
		session:   session,
		channelID: channelID,
		log:       logger.Named("discord"),
	}
	session.AddHandler(g.onReactionAdd)
	session.AddHandler(g.onReactionRemove)
	session.AddHandler(g.onMessageCreate)
	return g, nil
}

// Attach wires the core service. Must be called before Open.
func (g *Gateway) Attach(core Core) { g.core = core }

// Open connects to the gateway.
func (g *Gateway) Open() error {
	if g.core == nil {
		return fmt.Errorf("gateway has no core attached")
	}
	if err := g.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	return nil
}

// Close disconnects from the gateway.
func (g *Gateway) Close() error {
	return g.session.Close()
}

func (g *Gateway) onReactionAdd(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if s.State.User != nil && r.UserID == s.State.User.ID {
		return
	}
	g.enqueue(r.MessageReaction, true)
}

func (g *Gateway) onReactionRemove(s *discordgo.Session, r *discordgo.MessageReactionRemove) {
	if s.State.User != nil && r.UserID == s.State.User.ID {
		return
	}
	g.enqueue(r.MessageReaction, false)
}

func (g *Gateway) enqueue(r *discordgo.MessageReaction, added bool) {
	ctx := context.Background()
	rx := model.Reaction{
		Ref:    model.MessageRef{ChannelID: r.ChannelID, MessageID: r.MessageID},
		Symbol: r.Emoji.Name,
		UserID: r.UserID,
		Added:  added,
	}
	if !g.core.EnqueueReaction(ctx, rx) {
		g.log.Warn(ctx, "reaction dropped",
			logger.String("message_id", r.MessageID),
			logger.String("user_id", r.UserID))
	}
}

// IsOperator reports whether the user holds administrator permission in
// the configured channel.
func (g *Gateway) IsOperator(_ context.Context, userID string) (bool, error) {
	if g.channelID == "" {
		return false, nil
	}
	perms, err := g.session.UserChannelPermissions(userID, g.channelID)
	if err != nil {
		return false, fmt.Errorf("resolve permissions for %s: %w", userID, err)
	}
	return perms&discordgo.PermissionAdministrator != 0, nil
}

// RemoveReaction takes a user's reaction back off a message.
func (g *Gateway) RemoveReaction(_ context.Context, ref model.MessageRef, symbol, userID string) error {
	return g.session.MessageReactionRemove(ref.ChannelID, ref.MessageID, symbol, userID)
}

// noticeTTL is how long transient notices stay visible.
const noticeTTL = 10 * time.Second

// Notice posts a short-lived explanation next to the rejected reaction.
func (g *Gateway) Notice(ctx context.Context, ref model.MessageRef, userID string, reason model.RejectReason) error {
	msg, err := g.session.ChannelMessageSend(ref.ChannelID,
		fmt.Sprintf("<@%s> %s", userID, noticeText(reason)))
	if err != nil {
		return err
	}
	time.AfterFunc(noticeTTL, func() {
		if err := g.session.ChannelMessageDelete(ref.ChannelID, msg.ID); err != nil {
			g.log.Debug(ctx, "notice cleanup failed", logger.Error(err))
		}
	})
	return nil
}

func noticeText(reason model.RejectReason) string {
	switch reason {
	case model.RejectNotSignedUp:
		return "you need to sign up before picking a role."
	case model.RejectAlreadyAssigned:
		return "you already picked a role for this event."
	case model.RejectDeadlinePassed:
		return "the signup deadline has passed."
	case model.RejectUnauthorized:
		return "you are not allowed to do that."
	case model.RejectWrongPhase:
		return "this action is not available right now."
	case model.RejectNotParticipant:
		return "that member did not take part in this event."
	default:
		return "that did not work."
	}
}

func (g *Gateway) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || (s.State.User != nil && m.Author.ID == s.State.User.ID) {
		return
	}
	if g.channelID != "" && m.ChannelID != g.channelID {
		return
	}
	if !strings.HasPrefix(m.Content, "!") {
		return
	}

	ctx := context.Background()
	fields := strings.Fields(m.Content)
	var reply string
	var err error

	switch fields[0] {
	case "!event":
		reply, err = g.cmdEvent(ctx, m, fields[1:])
	case "!giveaway":
		reply, err = g.cmdGiveaway(ctx, m, fields[1:])
	case "!points":
		reply, err = g.cmdPoints(ctx, m)
	case "!leaderboard":
		reply, err = g.cmdLeaderboard(ctx)
	case "!transfer":
		reply, err = g.cmdTransfer(ctx, m, fields[1:])
	default:
		return
	}
	if err != nil {
		g.log.Warn(ctx, "command failed",
			logger.String("command", fields[0]),
			logger.String("user_id", m.Author.ID),
			logger.Error(err))
		reply = "that did not work: " + err.Error()
	}
	if reply != "" {
		if _, err := s.ChannelMessageSend(m.ChannelID, reply); err != nil {
			g.log.Warn(ctx, "reply failed", logger.Error(err))
		}
	}
}

// cmdEvent handles "!event <signup-window> <name...>".
func (g *Gateway) cmdEvent(ctx context.Context, m *discordgo.MessageCreate, args []string) (string, error) {
	if ok, err := g.IsOperator(ctx, m.Author.ID); err != nil || !ok {
		return "only operators can open events.", err
	}
	if len(args) < 2 {
		return "usage: !event <signup-window> <name>", nil
	}
	window, err := time.ParseDuration(args[0])
	if err != nil {
		return "", fmt.Errorf("bad signup window %q: %w", args[0], err)
	}
	name := strings.Join(args[1:], " ")
	ev, err := g.core.CreateEvaluation(ctx, name, m.Author.ID, window)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("event **%s** is open for signup until <t:%d>.", ev.Name, ev.SignupDeadline.Unix()), nil
}

// cmdGiveaway handles "!giveaway <window> <winners> <prize...>".
func (g *Gateway) cmdGiveaway(ctx context.Context, m *discordgo.MessageCreate, args []string) (string, error) {
	if ok, err := g.IsOperator(ctx, m.Author.ID); err != nil || !ok {
		return "only operators can start giveaways.", err
	}
	if len(args) < 3 {
		return "usage: !giveaway <window> <winners> <prize>", nil
	}
	window, err := time.ParseDuration(args[0])
	if err != nil {
		return "", fmt.Errorf("bad window %q: %w", args[0], err)
	}
	winners, err := strconv.Atoi(args[1])
	if err != nil {
		return "", fmt.Errorf("bad winner count %q: %w", args[1], err)
	}
	prize := strings.Join(args[2:], " ")
	gw, err := g.core.CreateGiveaway(ctx, m.Author.ID, prize, winners, window)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("giveaway for **%s** runs until <t:%d>.", gw.Prize, gw.Deadline.Unix()), nil
}

func (g *Gateway) cmdPoints(ctx context.Context, m *discordgo.MessageCreate) (string, error) {
	target := m.Author.ID
	if len(m.Mentions) > 0 {
		target = m.Mentions[0].ID
	}
	acct, err := g.core.Account(ctx, target)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("<@%s> has **%d** points (%d earned lifetime).",
		target, acct.Balance, acct.LifetimeEarned), nil
}

func (g *Gateway) cmdLeaderboard(ctx context.Context) (string, error) {
	accts, err := g.core.Leaderboard(ctx, 10)
	if err != nil {
		return "", err
	}
	if len(accts) == 0 {
		return "no points earned yet.", nil
	}
	var b strings.Builder
	b.WriteString("**leaderboard**\n")
	for i, acct := range accts {
		fmt.Fprintf(&b, "%d. <@%s>: %d\n", i+1, acct.UserID, acct.Balance)
	}
	return b.String(), nil
}

// cmdTransfer handles "!transfer @user <amount>".
func (g *Gateway) cmdTransfer(ctx context.Context, m *discordgo.MessageCreate, args []string) (string, error) {
	if len(m.Mentions) == 0 || len(args) < 2 {
		return "usage: !transfer @user <amount>", nil
	}
	amount, err := strconv.ParseInt(args[len(args)-1], 10, 64)
	if err != nil {
		return "", fmt.Errorf("bad amount %q: %w", args[len(args)-1], err)
	}
	to := m.Mentions[0].ID
	if err := g.core.Transfer(ctx, m.Author.ID, to, amount); err != nil {
		return "", err
	}
	return fmt.Sprintf("moved **%d** points to <@%s>.", amount, to), nil
}
