package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
)

type mockSession struct {
	channels []string
	embeds   []*discordgo.MessageEmbed
	failWith error
}

func (m *mockSession) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.channels = append(m.channels, channelID)
	m.embeds = append(m.embeds, embed)
	if m.failWith != nil {
		return nil, m.failWith
	}
	return &discordgo.Message{ID: "999"}, nil
}

func TestNewDiscordValidation(t *testing.T) {
	if _, err := NewDiscord(DiscordOpts{ChannelID: "123"}); err == nil {
		t.Error("expected error for missing token")
	}
	if _, err := NewDiscord(DiscordOpts{BotToken: "secret"}); err == nil {
		t.Error("expected error for missing channel")
	}
	if _, err := NewDiscord(DiscordOpts{Session: &mockSession{}, ChannelID: "123"}); err != nil {
		t.Errorf("injected session should not require token: %v", err)
	}
}

func TestDiscordPostBuildsEmbed(t *testing.T) {
	sess := &mockSession{}
	notifier, err := NewDiscord(DiscordOpts{Session: sess, ChannelID: "123"})
	if err != nil {
		t.Fatalf("NewDiscord: %v", err)
	}

	err = notifier.Post(context.Background(), Notification{
		Title:    "Conversation #7 closed",
		Body:     "Closed by alice",
		Severity: SeveritySuccess,
		Fields:   []Field{{Name: "Contact", Value: "5511987654321"}},
	})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}

	if len(sess.embeds) != 1 || sess.channels[0] != "123" {
		t.Fatalf("channels = %v, embeds = %d", sess.channels, len(sess.embeds))
	}
	embed := sess.embeds[0]
	if embed.Title != "Conversation #7 closed" || embed.Description != "Closed by alice" {
		t.Errorf("embed = %+v", embed)
	}
	if embed.Color != hexColor(ColorSuccess) {
		t.Errorf("color = %d", embed.Color)
	}
	if len(embed.Fields) != 1 || embed.Fields[0].Name != "Contact" {
		t.Errorf("fields = %+v", embed.Fields)
	}
}

func TestDiscordPostWrapsError(t *testing.T) {
	sess := &mockSession{failWith: errors.New("missing access")}
	notifier, err := NewDiscord(DiscordOpts{Session: sess, ChannelID: "123"})
	if err != nil {
		t.Fatalf("NewDiscord: %v", err)
	}

	err = notifier.Post(context.Background(), Notification{Title: "x"})
	if !errors.Is(err, sess.failWith) {
		t.Errorf("error = %v, want wrapped original", err)
	}
}

func TestHexColor(t *testing.T) {
	if got := hexColor("#36a64f"); got != 0x36a64f {
		t.Errorf("hexColor = %#x", got)
	}
	if got := hexColor("nonsense"); got != 0 {
		t.Errorf("hexColor(nonsense) = %d, want 0", got)
	}
}
