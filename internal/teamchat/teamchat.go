// Package teamchat abstracts the workspace messaging backend the slack
// behavior talks to. The mock gateway ships a canned workspace for demos
// and tests; the slack gateway speaks the real API.
package teamchat

import (
	"context"
	"time"
)

// Channel is a workspace channel summary.
type Channel struct {
	ID     string
	Name   string
	Unread int
}

// Message is one channel message, oldest first in listings.
type Message struct {
	User      string
	Text      string
	Timestamp time.Time
}

// Gateway is the workspace surface the slack behavior operates on.
type Gateway interface {
	ListChannels(ctx context.Context) ([]Channel, error)
	ReadChannel(ctx context.Context, channelName string) ([]Message, error)
	SendMessage(ctx context.Context, channelName, text string) error
}
