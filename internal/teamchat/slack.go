package teamchat

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"

	aoiErrors "github.com/veilworks/aoi/internal/errors"
)

const historyPageSize = 20

// SlackGateway talks to a real Slack workspace through the Web API.
type SlackGateway struct {
	client *slack.Client
}

func NewSlackGateway(botToken string) *SlackGateway {
	return &SlackGateway{client: slack.New(botToken)}
}

func (g *SlackGateway) ListChannels(ctx context.Context) ([]Channel, error) {
	var out []Channel
	cursor := ""
	for {
		channels, next, err := g.client.GetConversationsContext(ctx, &slack.GetConversationsParameters{
			Types:           []string{"public_channel"},
			ExcludeArchived: true,
			Limit:           200,
			Cursor:          cursor,
		})
		if err != nil {
			return nil, aoiErrors.Wrap(aoiErrors.MapError(err), "list channels")
		}
		for _, ch := range channels {
			out = append(out, Channel{ID: ch.ID, Name: ch.Name, Unread: ch.UnreadCount})
		}
		if next == "" {
			break
		}
		cursor = next
	}
	return out, nil
}

func (g *SlackGateway) ReadChannel(ctx context.Context, channelName string) ([]Message, error) {
	id, err := g.resolveChannel(ctx, channelName)
	if err != nil {
		return nil, err
	}

	resp, err := g.client.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: id,
		Limit:     historyPageSize,
	})
	if err != nil {
		return nil, aoiErrors.Wrap(aoiErrors.MapError(err), "read channel")
	}

	// Slack returns newest first; flip to read order.
	out := make([]Message, 0, len(resp.Messages))
	for i := len(resp.Messages) - 1; i >= 0; i-- {
		m := resp.Messages[i]
		out = append(out, Message{
			User:      m.User,
			Text:      m.Text,
			Timestamp: slackTimestamp(m.Timestamp),
		})
	}
	return out, nil
}

func (g *SlackGateway) SendMessage(ctx context.Context, channelName, text string) error {
	id, err := g.resolveChannel(ctx, channelName)
	if err != nil {
		return err
	}

	_, _, err = g.client.PostMessageContext(ctx, id, slack.MsgOptionText(text, false))
	if err != nil {
		return aoiErrors.Wrap(aoiErrors.MapError(err), "send message")
	}
	return nil
}

func (g *SlackGateway) resolveChannel(ctx context.Context, name string) (string, error) {
	name = normalizeChannel(name)
	channels, err := g.ListChannels(ctx)
	if err != nil {
		return "", err
	}
	for _, ch := range channels {
		if strings.EqualFold(ch.Name, name) {
			return ch.ID, nil
		}
	}
	return "", aoiErrors.NotFound("channel #" + name + " not found")
}

// slackTimestamp parses the API's "seconds.micros" message timestamp.
func slackTimestamp(ts string) time.Time {
	parts := strings.SplitN(ts, ".", 2)
	sec, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
