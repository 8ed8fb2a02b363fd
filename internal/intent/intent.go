// Package intent classifies user utterances into a behavior mode. The
// classifier is a single cheap model call; any failure, timeout, or
// unrecognized answer resolves to ModeGeneral so the session always has
// somewhere to route a turn.
package intent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/veilworks/aoi/internal/logger"
	"github.com/veilworks/aoi/internal/model"
	"github.com/veilworks/aoi/internal/model/contract"
)

// Mode tags the behavior that should handle an utterance.
type Mode string

const (
	ModeGeneral  Mode = "general"
	ModeLinkedIn Mode = "linkedin"
	ModeX        Mode = "x"
	ModeSlack    Mode = "slack"
)

// ParseMode maps a raw classifier answer to a known mode. Anything it
// does not recognize comes back as ModeGeneral with ok=false.
func ParseMode(raw string) (Mode, bool) {
	cleaned := strings.ToLower(strings.TrimSpace(raw))
	cleaned = strings.Trim(cleaned, ".!\"'`")

	switch Mode(cleaned) {
	case ModeGeneral, ModeLinkedIn, ModeX, ModeSlack:
		return Mode(cleaned), true
	}

	// Models sometimes answer in a short sentence. Accept a lone mode
	// word anywhere in a short reply, but never guess between two.
	var found Mode
	matches := 0
	for _, m := range []Mode{ModeLinkedIn, ModeX, ModeSlack, ModeGeneral} {
		if containsWord(cleaned, string(m)) {
			found = m
			matches++
		}
	}
	if matches == 1 {
		return found, true
	}
	return ModeGeneral, false
}

func containsWord(haystack, word string) bool {
	for _, f := range strings.Fields(haystack) {
		if strings.Trim(f, ".!,\"'`") == word {
			return true
		}
	}
	return false
}

// Classifier routes utterances to modes via a model call.
type Classifier struct {
	router  model.Router
	model   string
	prompt  string
	timeout time.Duration
	logger  *slog.Logger
}

func NewClassifier(router model.Router, modelName, prompt string, timeout time.Duration) *Classifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Classifier{
		router:  router,
		model:   modelName,
		prompt:  prompt,
		timeout: timeout,
		logger:  slog.Default(),
	}
}

// DetermineMode asks the model which behavior should take the utterance.
// The call runs under its own deadline. On any failure the answer is
// ModeGeneral; classification must never stall or break a session.
func (c *Classifier) DetermineMode(ctx context.Context, utterance string) Mode {
	if strings.TrimSpace(utterance) == "" {
		return ModeGeneral
	}

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.router.Route(cctx, c.model, contract.CompletionRequest{
		Model: c.model,
		Messages: []contract.Message{
			{Role: "system", Content: c.prompt},
			{Role: "user", Content: utterance},
		},
		MaxTokens: 8,
	})
	if err != nil {
		c.logger.Warn("intent classification failed, defaulting",
			slog.String("mode", string(ModeGeneral)),
			slog.String("trace_id", logger.GetTraceID(ctx)),
			slog.Any("error", err))
		return ModeGeneral
	}

	mode, ok := ParseMode(resp.Content)
	if !ok {
		c.logger.Warn("intent classifier returned unknown label, defaulting",
			slog.String("raw", resp.Content),
			slog.String("trace_id", logger.GetTraceID(ctx)))
	}
	return mode
}
