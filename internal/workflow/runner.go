package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	aoiErrors "github.com/veilworks/aoi/internal/errors"
	"github.com/veilworks/aoi/internal/image"
	"github.com/veilworks/aoi/internal/model"
	"github.com/veilworks/aoi/internal/model/contract"
	"github.com/veilworks/aoi/internal/outbox"
)

// Guarder is the posting-safety surface the runner consults before handoff.
type Guarder interface {
	CheckCooldown(ctx context.Context, channel string, minInterval time.Duration) (bool, time.Duration, error)
	CheckDuplicate(ctx context.Context, channel, content string, window time.Duration) (bool, error)
	RecordSubmission(ctx context.Context, channel, content string) error
}

// Deps carries everything a runner needs beyond its channel spec.
type Deps struct {
	Router          model.Router
	DraftModel      string
	ClassifyModel   string
	Guard           Guarder
	Queue           outbox.Queue
	Images          image.Generator
	ReviewPrompt    string
	ImagePrompt     string
	DraftTimeout    time.Duration
	ClassifyTimeout time.Duration
	UserContext     map[string]interface{}
	Logger          *slog.Logger
}

// Result is what one workflow step hands back to the session.
type Result struct {
	Reply string
	Stage Stage
}

// Runner drives a single post from topic to delivery. It is not safe for
// concurrent use; the session serializes calls to it.
type Runner struct {
	channel Channel
	deps    Deps
	state   State
}

func NewRunner(channel Channel, deps Deps) *Runner {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Runner{
		channel: channel,
		deps:    deps,
		state: State{
			Channel:   channel.Name,
			Stage:     StageDrafting,
			StartedAt: time.Now(),
			UpdatedAt: time.Now(),
		},
	}
}

// Stage reports the workflow's current position.
func (r *Runner) Stage() Stage {
	return r.state.Stage
}

// Active reports whether the workflow still wants the next utterance.
func (r *Runner) Active() bool {
	return !r.state.Stage.Terminal()
}

// State returns a copy of the full workflow record.
func (r *Runner) State() State {
	return r.state
}

// Start drafts the first version of the post and opens review.
func (r *Runner) Start(ctx context.Context, topic string) (Result, error) {
	if r.state.Stage != StageDrafting {
		return r.result(""), aoiErrors.WorkflowInvariant("workflow already started")
	}

	r.state.Topic = strings.TrimSpace(topic)
	if r.state.Topic == "" {
		r.state.Topic = "a relevant professional update"
	}

	draft, err := r.generateDraft(ctx, "")
	if err != nil {
		r.transition(StageError)
		return r.result("I couldn't put a draft together just now. Let's try again in a moment."), err
	}

	r.state.Draft = draft
	r.transition(StageReviewing)
	return r.result(fmt.Sprintf(
		"Here's a draft for %s:\n\n%s\n\nWould you like to approve it, make edits, or add an image?",
		r.channel.Name, draft)), nil
}

// ContinueWith feeds the next user utterance into the workflow.
func (r *Runner) ContinueWith(ctx context.Context, utterance string) (Result, error) {
	if r.state.Stage.Terminal() {
		return r.result(""), aoiErrors.WorkflowInvariant("workflow already finished")
	}

	switch r.state.Stage {
	case StageReviewing:
		return r.handleReview(ctx, utterance)
	case StageImageReview:
		return r.handleImageReview(ctx, utterance)
	default:
		return r.result(""), aoiErrors.WorkflowInvariant(
			fmt.Sprintf("no input expected in stage %s", r.state.Stage))
	}
}

func (r *Runner) handleReview(ctx context.Context, feedback string) (Result, error) {
	raw := classify(ctx, r.deps.Router, r.deps.ClassifyModel, r.deps.ReviewPrompt, feedback, r.deps.ClassifyTimeout)
	action := parseReviewAction(raw)

	r.deps.Logger.Debug("review action classified",
		slog.String("channel", r.channel.Name),
		slog.String("action", string(action)))

	switch action {
	case ActionApprove:
		return r.finalize(ctx)

	case ActionCancel:
		r.transition(StageCancelled)
		return r.result("No problem, I've scrapped that draft."), nil

	case ActionAddImage:
		r.transition(StageImageReview)
		return r.result("Sure. What should the image show?"), nil

	default: // ActionEdit
		draft, err := r.generateDraft(ctx, feedback)
		if err != nil {
			// A failed revision keeps the current draft on the table.
			return r.result("I couldn't rework the draft just now. Want to try phrasing the change differently?"), nil
		}
		r.state.Draft = draft
		r.state.Revisions++
		r.touch()
		return r.result(fmt.Sprintf(
			"Here's the updated draft:\n\n%s\n\nAnything else, or shall I post it?", draft)), nil
	}
}

func (r *Runner) handleImageReview(ctx context.Context, utterance string) (Result, error) {
	// The first utterance after entering image review is the description
	// itself; only afterwards do we classify confirm/decline/revise.
	if r.state.ImageDescription == "" {
		r.state.ImageDescription = strings.TrimSpace(utterance)
		r.touch()
		return r.result(fmt.Sprintf(
			"Got it, an image of %s. Should I go ahead and post with that image?",
			r.state.ImageDescription)), nil
	}

	raw := classify(ctx, r.deps.Router, r.deps.ClassifyModel, r.deps.ImagePrompt, utterance, r.deps.ClassifyTimeout)
	switch parseImageAction(raw) {
	case ImageConfirm:
		return r.finalize(ctx)

	case ImageDecline:
		r.state.ImageDescription = ""
		r.transition(StageReviewing)
		return r.result("Okay, dropping the image. The text draft is still ready. Approve, edit, or cancel?"), nil

	default: // ImageRevise
		r.state.ImageDescription = strings.TrimSpace(utterance)
		r.touch()
		return r.result(fmt.Sprintf(
			"Updated, an image of %s. Shall I post with that?",
			r.state.ImageDescription)), nil
	}
}

// finalize runs the guard checks, optional image generation, and task
// handoff. The duplicate check runs before the cooldown check so a repeat
// post is reported as a repeat, not as bad timing.
func (r *Runner) finalize(ctx context.Context) (Result, error) {
	duplicate, err := r.deps.Guard.CheckDuplicate(ctx, r.channel.Name, r.state.Draft, r.channel.DedupWindow)
	if err == nil && duplicate {
		r.transition(StageCancelled)
		return r.result(fmt.Sprintf(
			"It looks like this was already posted to %s recently, so I'll skip it to avoid a repeat.",
			r.channel.Name)), nil
	}

	allowed, remaining, err := r.deps.Guard.CheckCooldown(ctx, r.channel.Name, r.channel.Cooldown)
	if err == nil && !allowed {
		r.transition(StageCancelled)
		return r.result(fmt.Sprintf(
			"The last %s post went out too recently. We can post again in about %s.",
			r.channel.Name, remaining.Round(time.Minute))), nil
	}

	r.transition(StageConfirmed)

	if r.state.ImageDescription != "" {
		url, err := r.deps.Images.Generate(ctx, r.state.ImageDescription)
		if err != nil {
			r.deps.Logger.Warn("image generation failed, posting text only",
				slog.String("channel", r.channel.Name),
				slog.Any("error", err))
		} else {
			r.state.ImageURL = url
		}
	}

	if err := r.deps.Guard.RecordSubmission(ctx, r.channel.Name, r.state.Draft); err != nil {
		r.deps.Logger.Warn("failed to record submission",
			slog.String("channel", r.channel.Name),
			slog.Any("error", err))
	}

	task := outbox.Task{
		Type:        r.channel.TaskType,
		Text:        r.state.Draft,
		ImageURL:    r.state.ImageURL,
		UserContext: r.deps.UserContext,
		Timestamp:   time.Now().UTC(),
	}
	if err := r.deps.Queue.Push(ctx, task); err != nil {
		r.transition(StageError)
		return r.result("Something went wrong handing the post off. Nothing was published."), err
	}

	r.transition(StagePosted)
	reply := fmt.Sprintf("Done! Your post is on its way to %s.", r.channel.Name)
	if r.state.ImageURL != "" {
		reply = fmt.Sprintf("Done! Your post with the image is on its way to %s.", r.channel.Name)
	} else if r.state.ImageDescription != "" {
		reply = fmt.Sprintf("The image didn't come through, so I sent the text on its own to %s.", r.channel.Name)
	}
	return r.result(reply), nil
}

func (r *Runner) generateDraft(ctx context.Context, feedback string) (string, error) {
	timeout := r.deps.DraftTimeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	messages := []contract.Message{
		{Role: "system", Content: r.channel.StylePrompt},
		{Role: "user", Content: fmt.Sprintf("Topic: %s", r.state.Topic)},
	}
	if feedback != "" {
		messages = append(messages,
			contract.Message{Role: "assistant", Content: r.state.Draft},
			contract.Message{Role: "user", Content: fmt.Sprintf("Revise the draft with this feedback: %s", feedback)},
		)
	}

	resp, err := r.deps.Router.Route(dctx, r.deps.DraftModel, contract.CompletionRequest{
		Model:    r.deps.DraftModel,
		Messages: messages,
	})
	if err != nil {
		return "", aoiErrors.WrapAs(err, aoiErrors.ErrInferenceFailure, "draft generation")
	}

	draft := strings.TrimSpace(resp.Content)
	if draft == "" {
		return "", aoiErrors.InferenceFailure("draft generation returned empty text")
	}
	if r.channel.MaxChars > 0 {
		runes := []rune(draft)
		if len(runes) > r.channel.MaxChars {
			draft = string(runes[:r.channel.MaxChars])
		}
	}
	return draft, nil
}

func (r *Runner) transition(next Stage) {
	r.deps.Logger.Info("workflow stage transition",
		slog.String("channel", r.channel.Name),
		slog.String("from", string(r.state.Stage)),
		slog.String("to", string(next)))
	r.state.Stage = next
	r.touch()
}

func (r *Runner) touch() {
	r.state.UpdatedAt = time.Now()
}

func (r *Runner) result(reply string) Result {
	return Result{Reply: reply, Stage: r.state.Stage}
}
