package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	aoiErrors "github.com/veilworks/aoi/internal/errors"
	"github.com/veilworks/aoi/internal/model"
	"github.com/veilworks/aoi/internal/model/contract"
	"github.com/veilworks/aoi/internal/teamchat"
)

const lastChannelKey = "context:slack:last_channel"

// slackCommand is the structured answer the classifier returns for a
// workspace utterance.
type slackCommand struct {
	Action  string `json:"action"` // LIST, READ, SEND, or CHAT
	Channel string `json:"channel,omitempty"`
	Message string `json:"message,omitempty"`
}

// SlackBehavior handles workspace requests: listing channels, reading
// them, and sending messages. Utterances that are not a workspace
// command get a conversational answer.
type SlackBehavior struct {
	router          model.Router
	chatModel       string
	classifyModel   string
	classifyTimeout time.Duration
	prompt          string
	gateway         teamchat.Gateway
	store           HistoryReader
	logger          *slog.Logger
}

func NewSlackBehavior(deps Deps) *SlackBehavior {
	timeout := deps.ClassifyTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SlackBehavior{
		router:          deps.Router,
		chatModel:       deps.ChatModel,
		classifyModel:   deps.ClassifyModel,
		classifyTimeout: timeout,
		prompt:          deps.TeamChatPrompt,
		gateway:         deps.TeamChat,
		store:           deps.Store,
		logger:          deps.Logger,
	}
}

func (b *SlackBehavior) Respond(ctx context.Context, utterance string) (string, error) {
	cmd := b.classify(ctx, utterance)

	// "Read it" and "send that there" lean on the last channel mentioned.
	if cmd.Channel == "" && (cmd.Action == "READ" || cmd.Action == "SEND") {
		var last string
		if found, _ := b.store.GetContext(ctx, lastChannelKey, &last); found {
			cmd.Channel = last
		}
	}

	switch cmd.Action {
	case "LIST":
		return b.listChannels(ctx)
	case "READ":
		return b.readChannel(ctx, cmd.Channel)
	case "SEND":
		return b.sendMessage(ctx, cmd.Channel, cmd.Message)
	default:
		return b.chat(ctx, utterance)
	}
}

func (b *SlackBehavior) classify(ctx context.Context, utterance string) slackCommand {
	cctx, cancel := context.WithTimeout(ctx, b.classifyTimeout)
	defer cancel()

	resp, err := b.router.Route(cctx, b.classifyModel, contract.CompletionRequest{
		Model: b.classifyModel,
		Messages: []contract.Message{
			{Role: "system", Content: b.prompt},
			{Role: "user", Content: utterance},
		},
		MaxTokens: 128,
	})
	if err != nil {
		b.logger.Warn("slack command classification failed", slog.Any("error", err))
		return slackCommand{Action: "CHAT"}
	}

	var cmd slackCommand
	raw := extractJSON(resp.Content)
	if err := json.Unmarshal([]byte(raw), &cmd); err != nil {
		b.logger.Warn("slack command not parseable", slog.String("raw", resp.Content))
		return slackCommand{Action: "CHAT"}
	}
	cmd.Action = strings.ToUpper(strings.TrimSpace(cmd.Action))
	return cmd
}

// extractJSON pulls the first JSON object out of a model reply that may
// be wrapped in prose or a code fence.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

func (b *SlackBehavior) listChannels(ctx context.Context) (string, error) {
	channels, err := b.gateway.ListChannels(ctx)
	if err != nil {
		return "", aoiErrors.Wrap(err, "list channels")
	}

	var sb strings.Builder
	sb.WriteString("Here are your channels:\n")
	for _, ch := range channels {
		if ch.Unread > 0 {
			fmt.Fprintf(&sb, "- #%s (%d unread)\n", ch.Name, ch.Unread)
		} else {
			fmt.Fprintf(&sb, "- #%s\n", ch.Name)
		}
	}
	return sb.String(), nil
}

func (b *SlackBehavior) readChannel(ctx context.Context, channel string) (string, error) {
	if channel == "" {
		return "Which channel should I read?", nil
	}

	msgs, err := b.gateway.ReadChannel(ctx, channel)
	if err != nil {
		if aoiErrors.IsCategory(err, aoiErrors.ErrNotFound) {
			return fmt.Sprintf("I couldn't find a channel called #%s.", strings.TrimPrefix(channel, "#")), nil
		}
		return "", aoiErrors.Wrap(err, "read channel")
	}

	b.rememberChannel(ctx, channel)

	if len(msgs) == 0 {
		return fmt.Sprintf("No messages in #%s.", strings.TrimPrefix(channel, "#")), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Messages in #%s:\n", strings.TrimPrefix(channel, "#"))
	for _, m := range msgs {
		fmt.Fprintf(&sb, "[%s]: %s\n", m.User, m.Text)
	}
	return sb.String(), nil
}

func (b *SlackBehavior) sendMessage(ctx context.Context, channel, message string) (string, error) {
	if channel == "" {
		return "Which channel should that go to?", nil
	}
	if strings.TrimSpace(message) == "" {
		return "What should the message say?", nil
	}

	if err := b.gateway.SendMessage(ctx, channel, message); err != nil {
		if aoiErrors.IsCategory(err, aoiErrors.ErrNotFound) {
			return fmt.Sprintf("I couldn't find a channel called #%s.", strings.TrimPrefix(channel, "#")), nil
		}
		return "", aoiErrors.Wrap(err, "send message")
	}

	b.rememberChannel(ctx, channel)
	return fmt.Sprintf("Sent to #%s.", strings.TrimPrefix(channel, "#")), nil
}

func (b *SlackBehavior) rememberChannel(ctx context.Context, channel string) {
	name := strings.TrimPrefix(strings.TrimSpace(channel), "#")
	if err := b.store.SetContext(ctx, lastChannelKey, name); err != nil {
		b.logger.Warn("failed to remember last channel", slog.Any("error", err))
	}
}

func (b *SlackBehavior) chat(ctx context.Context, utterance string) (string, error) {
	resp, err := b.router.Route(ctx, b.chatModel, contract.CompletionRequest{
		Model: b.chatModel,
		Messages: []contract.Message{
			{Role: "system", Content: "You are a helpful assistant for a team chat workspace. Keep replies short; they will be spoken aloud."},
			{Role: "user", Content: utterance},
		},
	})
	if err != nil {
		return "", aoiErrors.WrapAs(err, aoiErrors.ErrInferenceFailure, "slack chat reply")
	}
	return resp.Content, nil
}
