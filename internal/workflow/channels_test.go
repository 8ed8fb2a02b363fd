package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilworks/aoi/internal/config"
)

func TestLoadEmbeddedChannels(t *testing.T) {
	channels, err := LoadChannels(nil)
	require.NoError(t, err)

	li, ok := channels["linkedin"]
	require.True(t, ok, "linkedin channel missing")
	assert.Equal(t, "linkedin_post", li.TaskType)
	assert.Equal(t, time.Hour, li.Cooldown)
	assert.Equal(t, 3000, li.MaxChars)

	x, ok := channels["x"]
	require.True(t, ok, "x channel missing")
	assert.Equal(t, 280, x.MaxChars)
	assert.Equal(t, 30*time.Minute, x.Cooldown)
	assert.NotEmpty(t, x.StylePrompt)
}

func TestLoadChannelsAppliesOverrides(t *testing.T) {
	channels, err := LoadChannels([]config.ChannelConfig{
		{Name: "linkedin", Cooldown: "2h", MaxChars: 1500},
	})
	require.NoError(t, err)

	li := channels["linkedin"]
	assert.Equal(t, 2*time.Hour, li.Cooldown)
	assert.Equal(t, 1500, li.MaxChars)
	assert.Equal(t, "linkedin_post", li.TaskType, "unset override fields must keep embedded defaults")
}

func TestLoadChannelsRejectsBadDuration(t *testing.T) {
	_, err := LoadChannels([]config.ChannelConfig{
		{Name: "linkedin", Cooldown: "soon"},
	})
	assert.Error(t, err)
}

func TestParseReviewAction(t *testing.T) {
	cases := map[string]ReviewAction{
		"APPROVE":        ActionApprove,
		" approve.\n":    ActionApprove,
		"ADD_IMAGE":      ActionAddImage,
		"add image":      ActionAddImage,
		"CANCEL":         ActionCancel,
		"EDIT":           ActionEdit,
		"something else": ActionEdit,
		"":               ActionEdit,
	}
	for raw, want := range cases {
		assert.Equal(t, want, parseReviewAction(raw), "parseReviewAction(%q)", raw)
	}
}

func TestParseImageAction(t *testing.T) {
	cases := map[string]ImageAction{
		"CONFIRM": ImageConfirm,
		"decline": ImageDecline,
		"REVISE":  ImageRevise,
		"eh?":     ImageRevise,
		"":        ImageRevise,
	}
	for raw, want := range cases {
		assert.Equal(t, want, parseImageAction(raw), "parseImageAction(%q)", raw)
	}
}
