package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("SLACK_BOT_TOKEN", "")

	// We pass nil for cmd to skip flags
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.LogLevel != DefaultServerLogLevel {
		t.Errorf("Expected default log level %s, got %s", DefaultServerLogLevel, cfg.Server.LogLevel)
	}
	if cfg.Models.Default != DefaultModelDefault {
		t.Errorf("Expected default model %s, got %s", DefaultModelDefault, cfg.Models.Default)
	}
	if cfg.Models.Fallback != DefaultModelFallback {
		t.Errorf("Expected default fallback model %s, got %s", DefaultModelFallback, cfg.Models.Fallback)
	}
	if cfg.Models.Embedding != DefaultModelEmbedding {
		t.Errorf("Expected default embedding model %s, got %s", DefaultModelEmbedding, cfg.Models.Embedding)
	}
	if len(cfg.Models.Registry) == 0 {
		t.Error("Expected a non-empty default model registry")
	}
	if cfg.Store.MaxConversationEntries != DefaultStoreMaxConversation {
		t.Errorf("Expected default max conversation entries %d, got %d", DefaultStoreMaxConversation, cfg.Store.MaxConversationEntries)
	}
	if cfg.Store.LockTimeout != DefaultStoreLockTimeout {
		t.Errorf("Expected default store lock timeout %s, got %s", DefaultStoreLockTimeout, cfg.Store.LockTimeout)
	}
	if cfg.Guard.RecentSubmissionLimit != DefaultGuardRecentLimit {
		t.Errorf("Expected default guard recent limit %d, got %d", DefaultGuardRecentLimit, cfg.Guard.RecentSubmissionLimit)
	}
	if cfg.Intent.Timeout != DefaultIntentTimeout {
		t.Errorf("Expected default intent timeout %s, got %s", DefaultIntentTimeout, cfg.Intent.Timeout)
	}
	if cfg.Workflow.DraftTimeout != DefaultWorkflowDraftTimeout {
		t.Errorf("Expected default draft timeout %s, got %s", DefaultWorkflowDraftTimeout, cfg.Workflow.DraftTimeout)
	}
	if cfg.Session.UserName != DefaultSessionUserName {
		t.Errorf("Expected default user name %s, got %s", DefaultSessionUserName, cfg.Session.UserName)
	}
	if cfg.Session.HistoryLimit != DefaultSessionHistoryLimit {
		t.Errorf("Expected default history limit %d, got %d", DefaultSessionHistoryLimit, cfg.Session.HistoryLimit)
	}
	if cfg.Archive.Enabled {
		t.Error("Expected archive disabled by default")
	}
	if cfg.Archive.Collection != DefaultArchiveCollection {
		t.Errorf("Expected default archive collection %s, got %s", DefaultArchiveCollection, cfg.Archive.Collection)
	}
	if !cfg.Observer.Enabled {
		t.Error("Expected observer enabled by default")
	}
	if cfg.Observer.Schedule != DefaultObserverSchedule {
		t.Errorf("Expected default observer schedule %s, got %s", DefaultObserverSchedule, cfg.Observer.Schedule)
	}
	if cfg.TeamChat.Provider != DefaultTeamChatProvider {
		t.Errorf("Expected default teamchat provider %s, got %s", DefaultTeamChatProvider, cfg.TeamChat.Provider)
	}
	if cfg.Prompts.Router != DefaultRouterPrompt {
		t.Errorf("Expected default router prompt, got %s", cfg.Prompts.Router)
	}
}

func TestLoadWithConfigFlag(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	content := []byte(`
server:
  log_level: debug
models:
  default: custom-model
workflow:
  channels:
    - name: linkedin
      cooldown: 2h
`)
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cmd := &cobra.Command{}
	cmd.Flags().String("config", "", "config file path")
	if err := cmd.Flags().Set("config", configPath); err != nil {
		t.Fatalf("failed to set config flag: %v", err)
	}

	cfg, err := Load(cmd)
	if err != nil {
		t.Fatalf("failed to load config with --config: %v", err)
	}

	if cfg.Server.LogLevel != "debug" {
		t.Fatalf("expected log level debug, got %s", cfg.Server.LogLevel)
	}
	if cfg.Models.Default != "custom-model" {
		t.Fatalf("expected default model custom-model, got %s", cfg.Models.Default)
	}
	if len(cfg.Workflow.Channels) != 1 || cfg.Workflow.Channels[0].Cooldown != "2h" {
		t.Fatalf("expected linkedin cooldown override, got %+v", cfg.Workflow.Channels)
	}
}

func TestLoadWithMissingConfigFlagReturnsError(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().String("config", "", "config file path")
	if err := cmd.Flags().Set("config", filepath.Join(t.TempDir(), "missing.yaml")); err != nil {
		t.Fatalf("failed to set config flag: %v", err)
	}

	if _, err := Load(cmd); err == nil {
		t.Fatal("expected error when --config points to missing file")
	}
}

func TestLoad_InjectsProviderKeys(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-test")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	for _, m := range cfg.Models.Registry {
		if m.Provider == "openai" && m.APIKey != "sk-test" {
			t.Fatalf("expected openai key injected for %s, got %q", m.Name, m.APIKey)
		}
	}
	if cfg.TeamChat.BotToken != "xoxb-test" {
		t.Fatalf("expected slack token injected, got %q", cfg.TeamChat.BotToken)
	}
}

func TestDurationOrDefault(t *testing.T) {
	cases := []struct {
		value    string
		fallback string
		want     time.Duration
		wantErr  bool
	}{
		{"30s", "1m", 30 * time.Second, false},
		{"", "1m", time.Minute, false},
		{"  ", "250ms", 250 * time.Millisecond, false},
		{"soon", "1m", 0, true},
		{"", "", 0, true},
	}

	for _, c := range cases {
		got, err := DurationOrDefault(c.value, c.fallback)
		if c.wantErr {
			if err == nil {
				t.Errorf("DurationOrDefault(%q, %q): expected error", c.value, c.fallback)
			}
			continue
		}
		if err != nil {
			t.Errorf("DurationOrDefault(%q, %q): %v", c.value, c.fallback, err)
			continue
		}
		if got != c.want {
			t.Errorf("DurationOrDefault(%q, %q) = %s, want %s", c.value, c.fallback, got, c.want)
		}
	}
}
