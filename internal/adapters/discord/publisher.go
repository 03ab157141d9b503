package discord

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/yhlam/guildcore/internal/domain/event"
	"github.com/yhlam/guildcore/internal/domain/model"
	"github.com/yhlam/guildcore/pkg/logger"
)

// Display colors for workflow embeds.
const (
	colorSignup   = 0x2ecc71
	colorRating   = 0xf1c40f
	colorGiveaway = 0x9b59b6
	colorConfirm  = 0xe74c3c
)

// publish sends an embed and seeds it with the reactions users click.
func (g *Gateway) publish(embed *discordgo.MessageEmbed, seedSymbols []string) (model.MessageRef, error) {
	msg, err := g.session.ChannelMessageSendEmbed(g.channelID, embed)
	if err != nil {
		return model.MessageRef{}, fmt.Errorf("send display message: %w", err)
	}
	ref := model.MessageRef{ChannelID: msg.ChannelID, MessageID: msg.ID}
	for _, symbol := range seedSymbols {
		if err := g.session.MessageReactionAdd(ref.ChannelID, ref.MessageID, symbol); err != nil {
			g.log.Warn(context.Background(), "seed reaction failed",
				logger.String("message_id", ref.MessageID),
				logger.String("symbol", symbol),
				logger.Error(err))
		}
	}
	return ref, nil
}

// PublishSignup renders the signup display for a new event.
func (g *Gateway) PublishSignup(_ context.Context, ev model.EvaluationEvent) (model.MessageRef, error) {
	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("Event: %s", ev.Name),
		Description: fmt.Sprintf("React with %s to sign up.\nSignups close <t:%d:R>.",
			model.SymbolSignup, ev.SignupDeadline.Unix()),
		Color: colorSignup,
	}
	return g.publish(embed, []string{model.SymbolSignup})
}

// PublishRolePick renders the role selection display.
func (g *Gateway) PublishRolePick(_ context.Context, ev model.EvaluationEvent) (model.MessageRef, error) {
	symbols := make([]string, 0, len(model.RoleForSymbol))
	for symbol := range model.RoleForSymbol {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	var lines []string
	for _, symbol := range symbols {
		lines = append(lines, fmt.Sprintf("%s %s", symbol, model.RoleForSymbol[symbol]))
	}
	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Pick your role: %s", ev.Name),
		Description: strings.Join(lines, "\n"),
		Color:       colorSignup,
	}
	return g.publish(embed, symbols)
}

// PublishRatingCard renders one participant's rating card.
func (g *Gateway) PublishRatingCard(_ context.Context, ev model.EvaluationEvent, userID string) (model.MessageRef, error) {
	role := ev.Roles[userID]
	desc := fmt.Sprintf("<@%s>", userID)
	if role != "" {
		desc += fmt.Sprintf(" (%s)", role)
	}
	desc += fmt.Sprintf("\nOperators: rate with ⭐ 👍 👌 ❌, or react %s to close the event.",
		model.SymbolCloseRequest)

	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Rating: %s", ev.Name),
		Description: desc,
		Color:       colorRating,
	}
	return g.publish(embed, []string{"⭐", "👍", "👌", "❌", model.SymbolCloseRequest})
}

// PublishCloseConfirm renders the close confirmation prompt.
func (g *Gateway) PublishCloseConfirm(_ context.Context, ev model.EvaluationEvent, operator string) (model.MessageRef, error) {
	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("Close %s?", ev.Name),
		Description: fmt.Sprintf("<@%s> wants to close this event. %s to confirm, %s to cancel.",
			operator, model.SymbolConfirm, model.SymbolCancel),
		Color: colorConfirm,
	}
	return g.publish(embed, []string{model.SymbolConfirm, model.SymbolCancel})
}

// PublishGiveaway renders the giveaway entry display.
func (g *Gateway) PublishGiveaway(_ context.Context, gw model.Giveaway) (model.MessageRef, error) {
	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("Giveaway: %s", gw.Prize),
		Description: fmt.Sprintf("React with %s to enter. %d winner(s), draw <t:%d:R>.\nThe host can stop early with %s.",
			model.SymbolTicket, gw.WinnerCount, gw.Deadline.Unix(), model.SymbolStop),
		Color: colorGiveaway,
	}
	return g.publish(embed, []string{model.SymbolTicket})
}

// UpdateCountdown refreshes the remaining-time footer on a display.
func (g *Gateway) UpdateCountdown(_ context.Context, ref model.MessageRef, remaining time.Duration) error {
	if ref.Zero() {
		return nil
	}
	msg, err := g.session.ChannelMessage(ref.ChannelID, ref.MessageID)
	if err != nil {
		return fmt.Errorf("load display message: %w", err)
	}
	if len(msg.Embeds) == 0 {
		return nil
	}
	embed := msg.Embeds[0]
	embed.Footer = &discordgo.MessageEmbedFooter{
		Text: fmt.Sprintf("%s remaining", remaining.Round(time.Second)),
	}
	_, err = g.session.ChannelMessageEditEmbed(ref.ChannelID, ref.MessageID, embed)
	return err
}

// AnnounceEventTally posts the final standing of a closed event.
func (g *Gateway) AnnounceEventTally(_ context.Context, tally event.Tally) error {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s** is closed.\n", tally.Name)
	if len(tally.Participants) == 0 {
		b.WriteString("Nobody took part.")
	}
	for _, p := range tally.Participants {
		role := string(p.Role)
		if role == "" {
			role = "no role"
		}
		fmt.Fprintf(&b, "<@%s> (%s): %s\n", p.UserID, role, p.Rating)
	}
	_, err := g.session.ChannelMessageSend(g.channelID, b.String())
	return err
}

// AnnounceGiveawayResult posts the winners of a closed giveaway.
func (g *Gateway) AnnounceGiveawayResult(_ context.Context, gw model.Giveaway) error {
	var b strings.Builder
	if len(gw.Winners) == 0 {
		fmt.Fprintf(&b, "The giveaway for **%s** ended without entrants.", gw.Prize)
	} else {
		fmt.Fprintf(&b, "The giveaway for **%s** is over! Winners:\n", gw.Prize)
		for _, userID := range gw.Winners {
			fmt.Fprintf(&b, "🎉 <@%s>\n", userID)
		}
	}
	_, err := g.session.ChannelMessageSend(g.channelID, b.String())
	return err
}
