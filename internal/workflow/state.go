package workflow

import "time"

// Stage is the posting workflow's position. Transitions only move through
// the runner; callers observe the stage, they never set it.
type Stage string

const (
	StageDrafting    Stage = "drafting"
	StageReviewing   Stage = "reviewing"
	StageImageReview Stage = "image_review"
	StageConfirmed   Stage = "confirmed"
	StagePosted      Stage = "posted"
	StageCancelled   Stage = "cancelled"
	StageError       Stage = "error"
)

// Terminal reports whether the workflow is finished and ignores further input.
func (s Stage) Terminal() bool {
	switch s {
	case StagePosted, StageCancelled, StageError:
		return true
	}
	return false
}

// State is the full mutable record of one posting workflow.
type State struct {
	Channel          string    `json:"channel"`
	Stage            Stage     `json:"stage"`
	Topic            string    `json:"topic"`
	Draft            string    `json:"draft"`
	ImageDescription string    `json:"image_description,omitempty"`
	ImageURL         string    `json:"image_url,omitempty"`
	Revisions        int       `json:"revisions"`
	StartedAt        time.Time `json:"started_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ReviewAction is the user's intent while a draft is under review.
type ReviewAction string

const (
	ActionApprove  ReviewAction = "APPROVE"
	ActionEdit     ReviewAction = "EDIT"
	ActionAddImage ReviewAction = "ADD_IMAGE"
	ActionCancel   ReviewAction = "CANCEL"
)

// ImageAction is the user's intent while an image attachment is negotiated.
type ImageAction string

const (
	ImageConfirm ImageAction = "CONFIRM"
	ImageDecline ImageAction = "DECLINE"
	ImageRevise  ImageAction = "REVISE"
)
