package workflow

import (
	"context"
	"strings"
	"time"

	"github.com/veilworks/aoi/internal/model"
	"github.com/veilworks/aoi/internal/model/contract"
)

// parseReviewAction maps a classifier answer onto the review vocabulary.
// Anything unrecognized is treated as edit instructions so the draft loop
// keeps negotiating instead of guessing at approval.
func parseReviewAction(raw string) ReviewAction {
	switch ReviewAction(normalizeLabel(raw)) {
	case ActionApprove:
		return ActionApprove
	case ActionAddImage:
		return ActionAddImage
	case ActionCancel:
		return ActionCancel
	case ActionEdit:
		return ActionEdit
	}
	return ActionEdit
}

// parseImageAction maps a classifier answer onto the image vocabulary.
// Unknown answers become a revision request, which keeps the negotiation
// open rather than attaching an image the user never confirmed.
func parseImageAction(raw string) ImageAction {
	switch ImageAction(normalizeLabel(raw)) {
	case ImageConfirm:
		return ImageConfirm
	case ImageDecline:
		return ImageDecline
	case ImageRevise:
		return ImageRevise
	}
	return ImageRevise
}

func normalizeLabel(raw string) string {
	cleaned := strings.ToUpper(strings.TrimSpace(raw))
	cleaned = strings.Trim(cleaned, ".!\"'`")
	cleaned = strings.ReplaceAll(cleaned, " ", "_")
	return cleaned
}

// classify runs a short classification completion under its own deadline.
// The empty string signals failure; callers fall back to their default arm.
func classify(ctx context.Context, router model.Router, modelName, prompt, utterance string, timeout time.Duration) string {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := router.Route(cctx, modelName, contract.CompletionRequest{
		Model: modelName,
		Messages: []contract.Message{
			{Role: "system", Content: prompt},
			{Role: "user", Content: utterance},
		},
		MaxTokens: 8,
	})
	if err != nil {
		return ""
	}
	return resp.Content
}
