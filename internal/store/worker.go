package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"
	"github.com/oklog/ulid/v2"

	apperrors "github.com/veilworks/aoi/internal/errors"
)

// Operation identifies a store request handled by the worker goroutine.
type Operation int

const (
	opSetState Operation = iota
	opGetState
	opSetStateIfAbsent
	opAppendConversation
	opGetConversation
	opSetContext
	opGetContext
	opListStateKeys
	opAppendRolling
	opPruneExpired
)

type request struct {
	op       Operation
	payload  interface{}
	result   chan error
	response chan interface{}
}

// --- Request payloads ---

type setStatePayload struct {
	key   string
	value interface{}
	ttl   time.Duration
}

type getStatePayload struct {
	key string
}

type appendConversationPayload struct {
	namespace string
	turn      Turn
}

type getConversationPayload struct {
	namespace string
	limit     int
}

type setContextPayload struct {
	key   string
	value interface{}
}

type listKeysPayload struct {
	prefix string
}

type appendRollingPayload struct {
	key   string
	value interface{}
	limit int
}

// Store is the shared durable state layer. All mutations funnel through a
// single worker goroutine, so conditional writes (SetStateIfAbsent) are
// serialized without any caller-side locking.
type Store struct {
	path        string
	maxEntries  int
	inboxSize   int
	lockTimeout time.Duration
	lockRetry   time.Duration

	inbox    chan request
	done     chan struct{}
	flk      *flock.Flock
	state    snapshot
	entropy  *ulid.MonotonicEntropy
	stopOnce sync.Once
	stopMu   sync.RWMutex
	stopped  bool
	logger   *slog.Logger
}

type Option func(*Store)

// WithMaxConversationEntries caps each conversation log. Oldest entries
// are trimmed after every append. Zero disables trimming.
func WithMaxConversationEntries(n int) Option {
	return func(s *Store) { s.maxEntries = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithInboxSize sets the request channel's buffer. Zero or negative
// keeps the default.
func WithInboxSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.inboxSize = n
		}
	}
}

// WithLockTimeout bounds how long Open waits for the state lock; Close
// reuses it as the worker drain deadline.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithLockRetry sets the pause between lock acquisition attempts.
func WithLockRetry(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockRetry = d
		}
	}
}

// Open loads (or creates) the snapshot at path, takes the process lock,
// and starts the worker goroutine.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:        path,
		maxEntries:  100,
		inboxSize:   64,
		lockTimeout: defaultLockTimeout,
		lockRetry:   defaultLockRetry,
		done:        make(chan struct{}),
		entropy:     ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.inbox = make(chan request, s.inboxSize)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, apperrors.WrapAs(err, apperrors.ErrStoreUnavailable, "create state directory")
	}

	flk, err := acquireFileLock(path, s.lockTimeout, s.lockRetry)
	if err != nil {
		return nil, apperrors.WrapAs(err, apperrors.ErrStoreUnavailable, "lock state file")
	}
	s.flk = flk

	if err := s.load(); err != nil {
		_ = flk.Unlock()
		return nil, err
	}

	go s.run()
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.state = newSnapshot()
		return nil
	}
	if err != nil {
		return apperrors.WrapAs(err, apperrors.ErrStoreUnavailable, "read state file")
	}
	snap := newSnapshot()
	if err := json.Unmarshal(data, &snap); err != nil {
		return apperrors.WrapAs(err, apperrors.ErrStoreUnavailable, "decode state file")
	}
	if snap.Scalars == nil {
		snap.Scalars = make(map[string]scalarEntry)
	}
	if snap.Conversations == nil {
		snap.Conversations = make(map[string][]Turn)
	}
	if snap.Contexts == nil {
		snap.Contexts = make(map[string]json.RawMessage)
	}
	s.state = snap
	return nil
}

func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return apperrors.WrapAs(err, apperrors.ErrStoreUnavailable, "encode state")
	}
	if err := atomic.WriteFile(s.path, strings.NewReader(string(data))); err != nil {
		return apperrors.WrapAs(err, apperrors.ErrStoreUnavailable, "write state file")
	}
	return nil
}

func (s *Store) run() {
	for req := range s.inbox {
		s.handle(req)
	}
	close(s.done)
}

func (s *Store) handle(req request) {
	now := time.Now()

	switch req.op {
	case opSetState:
		p := req.payload.(setStatePayload)
		raw, err := json.Marshal(p.value)
		if err != nil {
			req.result <- apperrors.InvalidInput("state value not serializable")
			return
		}
		entry := scalarEntry{Value: raw}
		if p.ttl != 0 {
			entry.ExpiresAt = now.Add(p.ttl).Unix()
		}
		s.state.Scalars[p.key] = entry
		req.result <- s.persist()

	case opGetState:
		p := req.payload.(getStatePayload)
		entry, ok := s.state.Scalars[p.key]
		if !ok || entry.expired(now) {
			req.response <- json.RawMessage(nil)
		} else {
			req.response <- entry.Value
		}
		req.result <- nil

	case opSetStateIfAbsent:
		p := req.payload.(setStatePayload)
		if entry, ok := s.state.Scalars[p.key]; ok && !entry.expired(now) {
			req.response <- false
			req.result <- nil
			return
		}
		raw, err := json.Marshal(p.value)
		if err != nil {
			req.response <- false
			req.result <- apperrors.InvalidInput("state value not serializable")
			return
		}
		entry := scalarEntry{Value: raw}
		if p.ttl != 0 {
			entry.ExpiresAt = now.Add(p.ttl).Unix()
		}
		s.state.Scalars[p.key] = entry
		if err := s.persist(); err != nil {
			delete(s.state.Scalars, p.key)
			req.response <- false
			req.result <- err
			return
		}
		req.response <- true
		req.result <- nil

	case opAppendConversation:
		p := req.payload.(appendConversationPayload)
		turn := p.turn
		if turn.ID == "" {
			turn.ID = ulid.MustNew(ulid.Timestamp(now), s.entropy).String()
		}
		if turn.Timestamp.IsZero() {
			turn.Timestamp = now
		}
		log := append(s.state.Conversations[p.namespace], turn)
		if s.maxEntries > 0 && len(log) > s.maxEntries {
			log = log[len(log)-s.maxEntries:]
		}
		s.state.Conversations[p.namespace] = log
		req.result <- s.persist()

	case opGetConversation:
		p := req.payload.(getConversationPayload)
		log := s.state.Conversations[p.namespace]
		limit := p.limit
		if limit <= 0 || limit > len(log) {
			limit = len(log)
		}
		// Newest first.
		out := make([]Turn, 0, limit)
		for i := len(log) - 1; i >= len(log)-limit; i-- {
			out = append(out, log[i])
		}
		req.response <- out
		req.result <- nil

	case opSetContext:
		p := req.payload.(setStatePayload)
		raw, err := json.Marshal(p.value)
		if err != nil {
			req.result <- apperrors.InvalidInput("context value not serializable")
			return
		}
		s.state.Contexts[p.key] = raw
		req.result <- s.persist()

	case opGetContext:
		p := req.payload.(getStatePayload)
		req.response <- s.state.Contexts[p.key]
		req.result <- nil

	case opListStateKeys:
		p := req.payload.(listKeysPayload)
		out := make(map[string]json.RawMessage)
		for key, entry := range s.state.Scalars {
			if strings.HasPrefix(key, p.prefix) && !entry.expired(now) {
				out[key] = entry.Value
			}
		}
		req.response <- out
		req.result <- nil

	case opAppendRolling:
		p := req.payload.(appendRollingPayload)
		raw, err := json.Marshal(p.value)
		if err != nil {
			req.result <- apperrors.InvalidInput("state value not serializable")
			return
		}
		var window []json.RawMessage
		if entry, ok := s.state.Scalars[p.key]; ok && !entry.expired(now) {
			_ = json.Unmarshal(entry.Value, &window)
		}
		window = append(window, raw)
		if p.limit > 0 && len(window) > p.limit {
			window = window[len(window)-p.limit:]
		}
		merged, err := json.Marshal(window)
		if err != nil {
			req.result <- apperrors.Internal("encode rolling window")
			return
		}
		s.state.Scalars[p.key] = scalarEntry{Value: merged}
		req.result <- s.persist()

	case opPruneExpired:
		pruned := 0
		for key, entry := range s.state.Scalars {
			if entry.expired(now) {
				delete(s.state.Scalars, key)
				pruned++
			}
		}
		var err error
		if pruned > 0 {
			err = s.persist()
		}
		req.response <- pruned
		req.result <- err
	}
}

// submit sends a request to the worker, mapping a stopped store to
// ErrStoreUnavailable. The stop lock is held across the send so Close
// cannot close the inbox underneath a sender; every accepted request is
// answered by the worker, so a nil return always means the operation ran.
func (s *Store) submit(ctx context.Context, req request) error {
	s.stopMu.RLock()
	defer s.stopMu.RUnlock()

	if s.stopped {
		return apperrors.StoreUnavailable("store is stopped")
	}

	select {
	case s.inbox <- req:
	case <-ctx.Done():
		return apperrors.WrapAs(ctx.Err(), apperrors.ErrStoreUnavailable, "store submit")
	}

	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return apperrors.WrapAs(ctx.Err(), apperrors.ErrStoreUnavailable, "store await")
	}
}

// Close drains in-flight requests and releases the process lock.
func (s *Store) Close() error {
	s.stopOnce.Do(func() {
		// Waits for in-flight submits, then no new sender can reach
		// the inbox.
		s.stopMu.Lock()
		s.stopped = true
		close(s.inbox)
		s.stopMu.Unlock()
	})
	select {
	case <-s.done:
	case <-time.After(s.lockTimeout):
		s.logger.Warn("store worker did not drain before timeout")
	}
	if s.flk != nil {
		return s.flk.Unlock()
	}
	return nil
}

// --- Public API ---

// SetState writes a scalar value under key. A positive ttl makes the
// entry invisible to readers after it elapses.
func (s *Store) SetState(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return s.submit(ctx, request{
		op:      opSetState,
		payload: setStatePayload{key: key, value: value, ttl: ttl},
		result:  make(chan error, 1),
	})
}

// GetState reads the scalar under key into dest. Returns false when the
// key is absent or expired; dest is left untouched in that case.
func (s *Store) GetState(ctx context.Context, key string, dest interface{}) (bool, error) {
	req := request{
		op:       opGetState,
		payload:  getStatePayload{key: key},
		result:   make(chan error, 1),
		response: make(chan interface{}, 1),
	}
	if err := s.submit(ctx, req); err != nil {
		return false, err
	}
	raw := (<-req.response).(json.RawMessage)
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, apperrors.WrapAs(err, apperrors.ErrInternal, "decode state value")
	}
	return true, nil
}

// SetStateIfAbsent stores value under key only when no live entry exists.
// Returns true when this call created the entry. The check and the write
// happen inside the worker goroutine, so concurrent callers observe at
// most one winner.
func (s *Store) SetStateIfAbsent(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	req := request{
		op:       opSetStateIfAbsent,
		payload:  setStatePayload{key: key, value: value, ttl: ttl},
		result:   make(chan error, 1),
		response: make(chan interface{}, 1),
	}
	if err := s.submit(ctx, req); err != nil {
		return false, err
	}
	return (<-req.response).(bool), nil
}

// AppendConversation commits a turn to the namespace's log, assigning an
// ID and timestamp when unset, then trims the log to the configured cap.
func (s *Store) AppendConversation(ctx context.Context, namespace string, role Role, message, mode string) error {
	return s.submit(ctx, request{
		op: opAppendConversation,
		payload: appendConversationPayload{
			namespace: namespace,
			turn:      Turn{Role: role, Message: message, Mode: mode},
		},
		result: make(chan error, 1),
	})
}

// GetConversationHistory returns up to limit turns, newest first.
// limit <= 0 returns the whole log.
func (s *Store) GetConversationHistory(ctx context.Context, namespace string, limit int) ([]Turn, error) {
	req := request{
		op:       opGetConversation,
		payload:  getConversationPayload{namespace: namespace, limit: limit},
		result:   make(chan error, 1),
		response: make(chan interface{}, 1),
	}
	if err := s.submit(ctx, req); err != nil {
		return nil, err
	}
	return (<-req.response).([]Turn), nil
}

// SetContext stores an opaque blob for later whole-value retrieval.
func (s *Store) SetContext(ctx context.Context, key string, value interface{}) error {
	return s.submit(ctx, request{
		op:      opSetContext,
		payload: setStatePayload{key: key, value: value},
		result:  make(chan error, 1),
	})
}

// GetContext reads the blob under key into dest. Returns false when absent.
func (s *Store) GetContext(ctx context.Context, key string, dest interface{}) (bool, error) {
	req := request{
		op:       opGetContext,
		payload:  getStatePayload{key: key},
		result:   make(chan error, 1),
		response: make(chan interface{}, 1),
	}
	if err := s.submit(ctx, req); err != nil {
		return false, err
	}
	raw := (<-req.response).(json.RawMessage)
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, apperrors.WrapAs(err, apperrors.ErrInternal, "decode context value")
	}
	return true, nil
}

// ListStateKeys returns every live scalar whose key starts with prefix.
func (s *Store) ListStateKeys(ctx context.Context, prefix string) (map[string]json.RawMessage, error) {
	req := request{
		op:       opListStateKeys,
		payload:  listKeysPayload{prefix: prefix},
		result:   make(chan error, 1),
		response: make(chan interface{}, 1),
	}
	if err := s.submit(ctx, req); err != nil {
		return nil, err
	}
	return (<-req.response).(map[string]json.RawMessage), nil
}

// AppendRolling appends value to a JSON-array window under key, keeping
// only the newest limit elements.
func (s *Store) AppendRolling(ctx context.Context, key string, value interface{}, limit int) error {
	return s.submit(ctx, request{
		op:      opAppendRolling,
		payload: appendRollingPayload{key: key, value: value, limit: limit},
		result:  make(chan error, 1),
	})
}

// PruneExpired drops every expired scalar and reports how many went.
func (s *Store) PruneExpired(ctx context.Context) (int, error) {
	req := request{
		op:       opPruneExpired,
		result:   make(chan error, 1),
		response: make(chan interface{}, 1),
	}
	if err := s.submit(ctx, req); err != nil {
		return 0, err
	}
	return (<-req.response).(int), nil
}

// SortTurns orders turns oldest first by timestamp, breaking ties by ID.
func SortTurns(turns []Turn) {
	sort.SliceStable(turns, func(i, j int) bool {
		if turns[i].Timestamp.Equal(turns[j].Timestamp) {
			return turns[i].ID < turns[j].ID
		}
		return turns[i].Timestamp.Before(turns[j].Timestamp)
	})
}
