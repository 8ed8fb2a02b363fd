// Package orchestrator ties a conversation session together: it routes
// each utterance to a behavior mode, owns the single posting workflow
// slot, commits every turn to the shared store, and archives the
// transcript when the session ends.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/veilworks/aoi/internal/agent"
	"github.com/veilworks/aoi/internal/archive"
	"github.com/veilworks/aoi/internal/concurrency"
	aoiErrors "github.com/veilworks/aoi/internal/errors"
	"github.com/veilworks/aoi/internal/intent"
	"github.com/veilworks/aoi/internal/logger"
	"github.com/veilworks/aoi/internal/store"
	"github.com/veilworks/aoi/internal/workflow"
)

const (
	currentModeKey    = "orchestrator:current_mode"
	archivedKeyPrefix = "orchestrator:archived:"
)

// Store is the slice of the state store the session drives.
type Store interface {
	agent.HistoryReader
	SetState(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	GetState(ctx context.Context, key string, dest interface{}) (bool, error)
	SetStateIfAbsent(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	AppendConversation(ctx context.Context, namespace string, role store.Role, message, mode string) error
}

// Classifier decides which mode takes an utterance.
type Classifier interface {
	DetermineMode(ctx context.Context, utterance string) intent.Mode
}

// Deps wires a session. Factory is built internally because the session
// itself is the workflow Poster.
type Deps struct {
	Store        Store
	Classifier   Classifier
	AgentDeps    agent.Deps
	Channels     map[string]workflow.Channel
	WorkflowDeps workflow.Deps
	Archiver     archive.Archiver
	Room         string
	Logger       *slog.Logger
}

// Session is one user conversation. All entry points serialize through
// the session lock, so a stalled model call cannot interleave turns.
type Session struct {
	id       string
	room     string
	deps     Deps
	factory  *agent.Factory
	locks    *concurrency.SessionLockManager
	mode     intent.Mode
	workflow *workflow.Runner
	closed   bool
}

func NewSession(deps Deps) *Session {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	s := &Session{
		id:    ulid.MustNew(ulid.Now(), entropy).String(),
		room:  deps.Room,
		deps:  deps,
		locks: concurrency.NewSessionLockManager(),
		mode:  intent.ModeGeneral,
	}

	agentDeps := deps.AgentDeps
	agentDeps.Poster = s
	s.factory = agent.NewFactory(agentDeps)

	// A previous process may have left a mode behind; resume it.
	var saved string
	if found, err := deps.Store.GetState(context.Background(), currentModeKey, &saved); err == nil && found {
		if mode, ok := intent.ParseMode(saved); ok {
			s.mode = mode
		}
	}

	return s
}

// ID returns the session's ULID.
func (s *Session) ID() string {
	return s.id
}

// Mode returns the mode the session is currently in.
func (s *Session) Mode() intent.Mode {
	return s.mode
}

// WorkflowStage reports the posting workflow's stage, or "" when no
// workflow has been started.
func (s *Session) WorkflowStage() workflow.Stage {
	if s.workflow == nil {
		return ""
	}
	return s.workflow.Stage()
}

// HandleUtterance runs one full turn: route, dispatch, commit. The reply
// is always speakable; when the behavior fails, the reply is a fallback
// sentence and the error reports what went wrong.
func (s *Session) HandleUtterance(ctx context.Context, utterance string) (string, error) {
	s.locks.Lock(s.id)
	defer s.locks.Unlock(s.id)

	if s.closed {
		return "", aoiErrors.InvalidInput("session is closed")
	}

	ctx = logger.WithSessionID(ctx, s.id)
	ctx = logger.WithTraceID(ctx, ulid.Make().String())

	// An active posting workflow captures the conversation: its review
	// feedback must not be re-routed by the intent classifier.
	if s.workflow != nil && s.workflow.Active() {
		return s.workflowTurn(ctx, utterance)
	}

	mode := s.deps.Classifier.DetermineMode(ctx, utterance)
	if mode != s.mode {
		s.switchMode(ctx, mode)
	}
	ctx = logger.WithMode(ctx, string(mode))

	s.commitTurn(ctx, store.RoleUser, utterance)

	behavior := s.factory.Create(s.mode)
	reply, err := behavior.Respond(ctx, utterance)
	if err != nil {
		s.deps.Logger.Error("behavior failed",
			slog.String("mode", string(s.mode)),
			slog.String("session_id", s.id),
			slog.Any("error", err))
		reply = "Sorry, I hit a snag with that. Could you try again?"
	}

	s.commitTurn(ctx, store.RoleAssistant, reply)
	return reply, err
}

// workflowTurn feeds an utterance to the active workflow and commits both
// sides of the exchange under the posting mode's namespace.
func (s *Session) workflowTurn(ctx context.Context, utterance string) (string, error) {
	ctx = logger.WithMode(ctx, string(s.mode))
	s.commitTurn(ctx, store.RoleUser, utterance)

	res, err := s.workflow.ContinueWith(ctx, utterance)
	reply := res.Reply
	if err != nil && reply == "" {
		reply = "Sorry, I hit a snag with that. Could you try again?"
	}

	s.commitTurn(ctx, store.RoleAssistant, reply)
	return reply, err
}

func (s *Session) switchMode(ctx context.Context, mode intent.Mode) {
	s.deps.Logger.Info("mode switch",
		slog.String("session_id", s.id),
		slog.String("from", string(s.mode)),
		slog.String("to", string(mode)))
	s.mode = mode

	if err := s.deps.Store.SetState(ctx, currentModeKey, string(mode), 0); err != nil {
		s.deps.Logger.Warn("failed to persist current mode", slog.Any("error", err))
	}
}

func (s *Session) commitTurn(ctx context.Context, role store.Role, message string) {
	ns := "conversation:" + string(s.mode)
	if err := s.deps.Store.AppendConversation(ctx, ns, role, message, string(s.mode)); err != nil {
		// A turn that cannot be committed is logged and dropped; the
		// conversation keeps going.
		s.deps.Logger.Warn("failed to commit turn",
			slog.String("namespace", ns),
			slog.Any("error", err))
	}
}

// --- agent.Poster ---

// StartDraft opens a posting workflow for channel. The previous workflow
// is discarded, even mid-negotiation: a new posting request supersedes
// whatever was being drafted.
func (s *Session) StartDraft(ctx context.Context, channel, topic string) (string, error) {
	spec, ok := s.deps.Channels[channel]
	if !ok {
		return "", aoiErrors.InvalidInput(fmt.Sprintf("unknown posting channel %q", channel))
	}

	if s.workflow != nil && s.workflow.Active() {
		s.deps.Logger.Info("discarding active posting workflow",
			slog.String("session_id", s.id),
			slog.String("channel", s.workflow.State().Channel),
			slog.String("stage", string(s.workflow.Stage())))
	}

	s.workflow = workflow.NewRunner(spec, s.deps.WorkflowDeps)
	res, err := s.workflow.Start(ctx, topic)
	return res.Reply, err
}

// ContinueDraft forwards feedback to the active workflow.
func (s *Session) ContinueDraft(ctx context.Context, utterance string) (string, error) {
	if s.workflow == nil || !s.workflow.Active() {
		return "", aoiErrors.WorkflowInvariant("no active posting workflow")
	}
	res, err := s.workflow.ContinueWith(ctx, utterance)
	return res.Reply, err
}

// Active reports whether the workflow slot holds a live workflow.
func (s *Session) Active() bool {
	return s.workflow != nil && s.workflow.Active()
}

// --- session end ---

// Close archives the merged transcript exactly once and seals the
// session. Closing twice is safe; the second call is a no-op.
func (s *Session) Close(ctx context.Context) error {
	s.locks.Lock(s.id)
	defer s.locks.Unlock(s.id)

	if s.closed {
		return nil
	}
	s.closed = true

	if s.deps.Archiver == nil {
		return nil
	}

	// Cross-process guard: even if two processes share the store, only
	// one archives this session.
	first, err := s.deps.Store.SetStateIfAbsent(ctx, archivedKeyPrefix+s.id, time.Now().Unix(), 0)
	if err != nil {
		s.deps.Logger.Warn("archive guard unavailable, skipping archive", slog.Any("error", err))
		return nil
	}
	if !first {
		return nil
	}

	turns := s.mergedTranscript(ctx)
	if len(turns) == 0 {
		return nil
	}

	meta := map[string]string{"final_mode": string(s.mode)}
	if s.workflow != nil {
		meta["workflow_stage"] = string(s.workflow.Stage())
	}

	recordID, err := s.deps.Archiver.Archive(ctx, s.id, s.room, turns, meta)
	if err != nil {
		return aoiErrors.Wrap(err, "archive session")
	}
	if recordID != "" {
		s.deps.Logger.Info("session archived",
			slog.String("session_id", s.id),
			slog.String("record_id", recordID),
			slog.Int("turns", len(turns)))
	}
	return nil
}

// mergedTranscript collects every mode's conversation log and orders the
// union by timestamp.
func (s *Session) mergedTranscript(ctx context.Context) []store.Turn {
	var merged []store.Turn
	for _, mode := range []intent.Mode{intent.ModeGeneral, intent.ModeLinkedIn, intent.ModeX, intent.ModeSlack} {
		turns, err := s.deps.Store.GetConversationHistory(ctx, "conversation:"+string(mode), 0)
		if err != nil {
			s.deps.Logger.Warn("transcript read failed",
				slog.String("mode", string(mode)),
				slog.Any("error", err))
			continue
		}
		merged = append(merged, turns...)
	}
	store.SortTurns(merged)
	return merged
}
