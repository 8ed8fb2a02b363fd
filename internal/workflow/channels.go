package workflow

import (
	_ "embed"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/veilworks/aoi/internal/config"
	aoiErrors "github.com/veilworks/aoi/internal/errors"
)

//go:embed channels.yaml
var embeddedChannels []byte

// Channel describes one outbound posting destination: how drafts are
// styled, how long posts must be spaced, and how task handoff is tagged.
type Channel struct {
	Name        string
	TaskType    string
	Cooldown    time.Duration
	DedupWindow time.Duration
	MaxChars    int
	StylePrompt string
}

type channelEntry struct {
	Name        string `yaml:"name"`
	TaskType    string `yaml:"task_type"`
	Cooldown    string `yaml:"cooldown"`
	DedupWindow string `yaml:"dedup_window"`
	MaxChars    int    `yaml:"max_chars"`
	StylePrompt string `yaml:"style_prompt"`
}

type channelFile struct {
	Channels []channelEntry `yaml:"channels"`
}

// LoadChannels returns the embedded channel definitions with per-field
// overrides from configuration applied on top.
func LoadChannels(overrides []config.ChannelConfig) (map[string]Channel, error) {
	var file channelFile
	if err := yaml.Unmarshal(embeddedChannels, &file); err != nil {
		return nil, aoiErrors.Wrap(err, "decode embedded channels")
	}

	channels := make(map[string]Channel, len(file.Channels))
	for _, entry := range file.Channels {
		cooldown, err := config.DurationOrDefault(entry.Cooldown, "0s")
		if err != nil {
			return nil, aoiErrors.InvalidInput("invalid cooldown for channel " + entry.Name)
		}
		dedup, err := config.DurationOrDefault(entry.DedupWindow, "0s")
		if err != nil {
			return nil, aoiErrors.InvalidInput("invalid dedup_window for channel " + entry.Name)
		}
		channels[entry.Name] = Channel{
			Name:        entry.Name,
			TaskType:    entry.TaskType,
			Cooldown:    cooldown,
			DedupWindow: dedup,
			MaxChars:    entry.MaxChars,
			StylePrompt: entry.StylePrompt,
		}
	}

	for _, o := range overrides {
		ch, ok := channels[o.Name]
		if !ok {
			ch = Channel{Name: o.Name}
		}
		if o.TaskType != "" {
			ch.TaskType = o.TaskType
		}
		if o.Cooldown != "" {
			d, err := time.ParseDuration(o.Cooldown)
			if err != nil {
				return nil, aoiErrors.InvalidInput("invalid cooldown for channel " + o.Name)
			}
			ch.Cooldown = d
		}
		if o.DedupWindow != "" {
			d, err := time.ParseDuration(o.DedupWindow)
			if err != nil {
				return nil, aoiErrors.InvalidInput("invalid dedup_window for channel " + o.Name)
			}
			ch.DedupWindow = d
		}
		if o.MaxChars > 0 {
			ch.MaxChars = o.MaxChars
		}
		if o.StylePrompt != "" {
			ch.StylePrompt = o.StylePrompt
		}
		channels[o.Name] = ch
	}

	return channels, nil
}
