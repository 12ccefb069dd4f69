package notify

import (
	"context"
	"errors"
	"testing"

	slackapi "github.com/slack-go/slack"
)

type mockSlackClient struct {
	channels []string
	calls    int
	failWith error
}

func (m *mockSlackClient) PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.calls++
	m.channels = append(m.channels, channelID)
	if m.failWith != nil {
		return "", "", m.failWith
	}
	return channelID, "123.456", nil
}

func TestNewSlackValidation(t *testing.T) {
	if _, err := NewSlack(SlackOpts{ChannelID: "C123"}); err == nil {
		t.Error("expected error for missing token")
	}
	if _, err := NewSlack(SlackOpts{BotToken: "xoxb-test"}); err == nil {
		t.Error("expected error for missing channel")
	}
	if _, err := NewSlack(SlackOpts{Client: &mockSlackClient{}, ChannelID: "C123"}); err != nil {
		t.Errorf("injected client should not require token: %v", err)
	}
}

func TestSlackPost(t *testing.T) {
	client := &mockSlackClient{}
	notifier, err := NewSlack(SlackOpts{Client: client, ChannelID: "C123"})
	if err != nil {
		t.Fatalf("NewSlack: %v", err)
	}

	err = notifier.Post(context.Background(), Notification{
		Title:    "Conversation #7 assigned",
		Body:     "Assigned to Alice",
		Severity: SeverityInfo,
		Fields:   []Field{{Name: "Agent", Value: "alice"}},
	})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if client.calls != 1 || client.channels[0] != "C123" {
		t.Errorf("calls = %d, channels = %v", client.calls, client.channels)
	}
}

func TestSlackPostWrapsError(t *testing.T) {
	client := &mockSlackClient{failWith: errors.New("channel_not_found")}
	notifier, err := NewSlack(SlackOpts{Client: client, ChannelID: "C123"})
	if err != nil {
		t.Fatalf("NewSlack: %v", err)
	}

	err = notifier.Post(context.Background(), Notification{Title: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, client.failWith) {
		t.Errorf("error = %v, want wrapped original", err)
	}
}

func TestSeverityColor(t *testing.T) {
	tests := map[string]string{
		SeverityInfo:    ColorInfo,
		SeverityWarning: ColorWarning,
		SeverityError:   ColorError,
		SeveritySuccess: ColorSuccess,
		"unknown":       ColorInfo,
	}
	for severity, want := range tests {
		if got := severityColor(severity); got != want {
			t.Errorf("severityColor(%q) = %q, want %q", severity, got, want)
		}
	}
}
