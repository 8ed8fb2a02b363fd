package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Models   ModelsConfig   `koanf:"models"`
	Store    StoreConfig    `koanf:"store"`
	Guard    GuardConfig    `koanf:"guard"`
	Intent   IntentConfig   `koanf:"intent"`
	Workflow WorkflowConfig `koanf:"workflow"`
	Session  SessionConfig  `koanf:"session"`
	Outbox   OutboxConfig   `koanf:"outbox"`
	Archive  ArchiveConfig  `koanf:"archive"`
	Observer ObserverConfig `koanf:"observer"`
	TeamChat TeamChatConfig `koanf:"teamchat"`
	Prompts  PromptsConfig  `koanf:"prompts"`
}

type ServerConfig struct {
	LogLevel string `koanf:"log_level"`
}

type ModelsConfig struct {
	Default        string          `koanf:"default"`
	Fallback       string          `koanf:"fallback"`
	Embedding      string          `koanf:"embedding"`
	RequestTimeout string          `koanf:"request_timeout"`
	Registry       []ModelRegistry `koanf:"registry"`
}

type ModelRegistry struct {
	Name     string `koanf:"name"`
	Provider string `koanf:"provider"`
	BaseURL  string `koanf:"base_url"`
	APIKey   string `koanf:"api_key"`
}

type StoreConfig struct {
	Path                   string `koanf:"path"`
	MaxConversationEntries int    `koanf:"max_conversation_entries"`
	LockTimeout            string `koanf:"lock_timeout"`
	LockRetry              string `koanf:"lock_retry"`
	InboxSize              int    `koanf:"inbox_size"`
}

type GuardConfig struct {
	RecentSubmissionLimit int `koanf:"recent_submission_limit"`
}

type IntentConfig struct {
	Timeout string `koanf:"timeout"`
}

type WorkflowConfig struct {
	DraftTimeout    string          `koanf:"draft_timeout"`
	ClassifyTimeout string          `koanf:"classify_timeout"`
	Channels        []ChannelConfig `koanf:"channels"`
}

// ChannelConfig overrides the embedded channel definitions per outbound
// destination. Zero-valued fields keep the embedded defaults.
type ChannelConfig struct {
	Name        string `koanf:"name"`
	TaskType    string `koanf:"task_type"`
	Cooldown    string `koanf:"cooldown"`
	DedupWindow string `koanf:"dedup_window"`
	MaxChars    int    `koanf:"max_chars"`
	StylePrompt string `koanf:"style_prompt"`
}

type SessionConfig struct {
	UserName     string `koanf:"user_name"`
	HistoryLimit int    `koanf:"history_limit"`
}

type OutboxConfig struct {
	Path string `koanf:"path"`
}

type ArchiveConfig struct {
	Enabled    bool   `koanf:"enabled"`
	Path       string `koanf:"path"`
	Collection string `koanf:"collection"`
}

type ObserverConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Schedule string `koanf:"schedule"`
}

type TeamChatConfig struct {
	Provider string `koanf:"provider"` // "mock" or "slack"
	BotToken string `koanf:"bot_token"`
}

type PromptsConfig struct {
	Router         string `koanf:"router"`
	ReviewIntent   string `koanf:"review_intent"`
	ImageIntent    string `koanf:"image_intent"`
	TeamChatIntent string `koanf:"teamchat_intent"`
}

const (
	DefaultServerLogLevel            = "info"
	DefaultModelDefault              = "gpt-4-turbo"
	DefaultModelFallback             = "claude-3-haiku"
	DefaultModelEmbedding            = "text-embedding-3-small"
	DefaultModelRequestTimeout       = "30s"
	DefaultStoreMaxConversation      = 100
	DefaultStoreLockTimeout          = "10s"
	DefaultStoreLockRetry            = "100ms"
	DefaultStoreInboxSize            = 100
	DefaultGuardRecentLimit          = 3
	DefaultIntentTimeout             = "10s"
	DefaultWorkflowDraftTimeout      = "45s"
	DefaultWorkflowClassifyTimeout   = "10s"
	DefaultSessionUserName           = "User"
	DefaultSessionHistoryLimit       = 10
	DefaultArchiveCollection         = "conversations"
	DefaultObserverSchedule          = "@every 30s"
	DefaultTeamChatProvider          = "mock"
	DefaultRouterPrompt              = "Classify the user's message and decide which agent should handle it.\n\nAvailable agents:\n- general: General conversation, questions, basic tasks\n- linkedin: Posting to LinkedIn, LinkedIn-related tasks\n- x: Posting to X/Twitter, tweeting, X-related tasks\n- slack: Slack messages, channels, team communication\n\nRespond with ONLY one word: general, linkedin, x, or slack"
	DefaultReviewIntentPrompt        = "Classify the user's response to a social post draft that is under review.\n\nRespond with EXACTLY one of these options:\n- APPROVE: the user wants to post as-is (e.g. \"yes\", \"looks good\", \"post it\", \"go ahead\")\n- EDIT: the user wants changes (e.g. \"make it shorter\", \"add more details\", \"change the tone\")\n- ADD_IMAGE: the user wants to add an image (e.g. \"add an image\", \"include a picture\")\n- CANCEL: the user wants to cancel (e.g. \"nevermind\", \"cancel\", \"don't post\")\n\nRespond with only the single word."
	DefaultImageIntentPrompt         = "Classify the user's response to a proposed image description for a social post.\n\nRespond with EXACTLY one of these options:\n- CONFIRM: the user affirms the proposed description\n- DECLINE: the user no longer wants an image\n- REVISE: the user is describing something different\n\nRespond with only the single word."
	DefaultTeamChatIntentPrompt      = "Classify what the user wants to do in their team chat workspace.\n\nRespond with ONLY a JSON object, no other text:\n{\"action\": \"LIST\"} to list channels\n{\"action\": \"READ\", \"channel\": \"<name>\"} to read a channel\n{\"action\": \"SEND\", \"channel\": \"<name>\", \"message\": \"<text>\"} to send a message\n{\"action\": \"CHAT\"} for anything else"
)

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	// Hardcoded Defaults
	defaults := map[string]interface{}{
		"server.log_level":                DefaultServerLogLevel,
		"models.default":                  DefaultModelDefault,
		"models.fallback":                 DefaultModelFallback,
		"models.embedding":                DefaultModelEmbedding,
		"models.request_timeout":          DefaultModelRequestTimeout,
		"models.registry": []ModelRegistry{
			{Name: DefaultModelDefault, Provider: "openai"},
			{Name: DefaultModelFallback, Provider: "anthropic"},
			{Name: "gemini-2.0-flash", Provider: "gemini"},
			{Name: DefaultModelEmbedding, Provider: "openai"},
		},
		"store.path":                      defaultStatePath(),
		"store.max_conversation_entries":  DefaultStoreMaxConversation,
		"store.lock_timeout":              DefaultStoreLockTimeout,
		"store.lock_retry":                DefaultStoreLockRetry,
		"store.inbox_size":                DefaultStoreInboxSize,
		"guard.recent_submission_limit":   DefaultGuardRecentLimit,
		"intent.timeout":                  DefaultIntentTimeout,
		"workflow.draft_timeout":          DefaultWorkflowDraftTimeout,
		"workflow.classify_timeout":       DefaultWorkflowClassifyTimeout,
		"session.user_name":               DefaultSessionUserName,
		"session.history_limit":           DefaultSessionHistoryLimit,
		"outbox.path":                     filepath.Join(defaultHomeDir(), "outbox.jsonl"),
		"archive.enabled":                 false,
		"archive.path":                    filepath.Join(defaultHomeDir(), "archive"),
		"archive.collection":              DefaultArchiveCollection,
		"observer.enabled":                true,
		"observer.schedule":               DefaultObserverSchedule,
		"teamchat.provider":               DefaultTeamChatProvider,
		"prompts.router":                  DefaultRouterPrompt,
		"prompts.review_intent":           DefaultReviewIntentPrompt,
		"prompts.image_intent":            DefaultImageIntentPrompt,
		"prompts.teamchat_intent":         DefaultTeamChatIntentPrompt,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// Config file loading
	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		globalPath := filepath.Join(defaultHomeDir(), "config.yaml")
		if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
			slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
		}
	}

	// Environment Variables
	k.Load(env.Provider("AOI_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "AOI_")), "_", ".", -1)
	}), nil)

	// CLI Flags
	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	for i, m := range cfg.Models.Registry {
		if m.Provider == "" {
			cfg.Models.Registry[i].Provider = "openai"
		}
	}

	// Post-Process: Inject standard Env Vars if missing
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		for i, m := range cfg.Models.Registry {
			if m.Provider == "openai" && m.APIKey == "" {
				cfg.Models.Registry[i].APIKey = key
			}
		}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		for i, m := range cfg.Models.Registry {
			if m.Provider == "anthropic" && m.APIKey == "" {
				cfg.Models.Registry[i].APIKey = key
			}
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		for i, m := range cfg.Models.Registry {
			if m.Provider == "gemini" && m.APIKey == "" {
				cfg.Models.Registry[i].APIKey = key
			}
		}
	}
	if token := os.Getenv("SLACK_BOT_TOKEN"); token != "" && cfg.TeamChat.BotToken == "" {
		cfg.TeamChat.BotToken = token
	}

	return &cfg, nil
}

func defaultHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".aoi"
	}
	return filepath.Join(home, ".aoi")
}

func defaultStatePath() string {
	return filepath.Join(defaultHomeDir(), "state")
}
