// Package agent holds the per-mode conversational behaviors a session
// dispatches to. A behavior receives one utterance and returns one reply;
// everything durable lives in the shared state store or in the posting
// workflow, never in the behavior itself.
package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/veilworks/aoi/internal/intent"
	"github.com/veilworks/aoi/internal/model"
	"github.com/veilworks/aoi/internal/store"
	"github.com/veilworks/aoi/internal/teamchat"
)

// Behavior handles utterances for one mode.
type Behavior interface {
	Respond(ctx context.Context, utterance string) (string, error)
}

// Poster starts and continues posting workflows. The session implements
// this over its single workflow slot.
type Poster interface {
	StartDraft(ctx context.Context, channel, topic string) (string, error)
	ContinueDraft(ctx context.Context, utterance string) (string, error)
	Active() bool
}

// HistoryReader is the slice of the store behaviors read context from.
type HistoryReader interface {
	GetConversationHistory(ctx context.Context, namespace string, limit int) ([]store.Turn, error)
	GetContext(ctx context.Context, key string, dest interface{}) (bool, error)
	SetContext(ctx context.Context, key string, value interface{}) error
}

// Deps is everything the factory needs to build behaviors.
type Deps struct {
	Router          model.Router
	ChatModel       string
	ClassifyModel   string
	Store           HistoryReader
	HistoryLimit    int
	UserName        string
	TeamChat        teamchat.Gateway
	TeamChatPrompt  string
	Poster          Poster
	ClassifyTimeout time.Duration
	Logger          *slog.Logger
}

// Factory builds a fresh behavior per mode switch, the way a new voice
// agent replaces the old one mid-call.
type Factory struct {
	deps Deps
}

func NewFactory(deps Deps) *Factory {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.HistoryLimit <= 0 {
		deps.HistoryLimit = 10
	}
	if deps.UserName == "" {
		deps.UserName = "User"
	}
	return &Factory{deps: deps}
}

// Create returns the behavior for mode. Unknown modes get the general
// behavior so dispatch always has a handler.
func (f *Factory) Create(mode intent.Mode) Behavior {
	switch mode {
	case intent.ModeLinkedIn:
		return &SocialBehavior{channel: "linkedin", poster: f.deps.Poster}
	case intent.ModeX:
		return &SocialBehavior{channel: "x", poster: f.deps.Poster}
	case intent.ModeSlack:
		return NewSlackBehavior(f.deps)
	default:
		return NewGeneralBehavior(f.deps)
	}
}
