package agent

import (
	"context"
	"fmt"
	"log/slog"

	aoiErrors "github.com/veilworks/aoi/internal/errors"
	"github.com/veilworks/aoi/internal/model"
	"github.com/veilworks/aoi/internal/model/contract"
	"github.com/veilworks/aoi/internal/store"
)

const generalNamespace = "conversation:general"

// GeneralBehavior is the default assistant: plain conversation seeded
// with the recent general history.
type GeneralBehavior struct {
	router       model.Router
	chatModel    string
	store        HistoryReader
	historyLimit int
	userName     string
	logger       *slog.Logger
}

func NewGeneralBehavior(deps Deps) *GeneralBehavior {
	return &GeneralBehavior{
		router:       deps.Router,
		chatModel:    deps.ChatModel,
		store:        deps.Store,
		historyLimit: deps.HistoryLimit,
		userName:     deps.UserName,
		logger:       deps.Logger,
	}
}

func (b *GeneralBehavior) Respond(ctx context.Context, utterance string) (string, error) {
	messages := []contract.Message{{
		Role: "system",
		Content: fmt.Sprintf(
			"You are a helpful voice assistant talking with %s. Keep replies concise and conversational; they will be spoken aloud.",
			b.userName),
	}}

	history, err := b.store.GetConversationHistory(ctx, generalNamespace, b.historyLimit)
	if err != nil {
		// Degraded but functional: answer without prior context.
		b.logger.Warn("general history unavailable", slog.Any("error", err))
	} else {
		// History arrives newest first; replay it oldest first.
		for i := len(history) - 1; i >= 0; i-- {
			turn := history[i]
			role := "user"
			if turn.Role == store.RoleAssistant {
				role = "assistant"
			}
			messages = append(messages, contract.Message{Role: role, Content: turn.Message})
		}
	}

	messages = append(messages, contract.Message{Role: "user", Content: utterance})

	resp, err := b.router.Route(ctx, b.chatModel, contract.CompletionRequest{
		Model:    b.chatModel,
		Messages: messages,
	})
	if err != nil {
		return "", aoiErrors.WrapAs(err, aoiErrors.ErrInferenceFailure, "general reply")
	}
	return resp.Content, nil
}
