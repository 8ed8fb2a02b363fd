package agent

import "context"

// SocialBehavior fronts the posting workflow for one channel. The first
// utterance in a fresh mode starts a draft; while a workflow is active,
// utterances are review feedback.
type SocialBehavior struct {
	channel string
	poster  Poster
}

func (b *SocialBehavior) Respond(ctx context.Context, utterance string) (string, error) {
	if b.poster.Active() {
		return b.poster.ContinueDraft(ctx, utterance)
	}
	return b.poster.StartDraft(ctx, b.channel, utterance)
}
