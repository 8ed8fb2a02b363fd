package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/veilworks/aoi/internal/errors"
)

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSetGetState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SetState(ctx, "current_mode", "linkedin", 0); err != nil {
		t.Fatalf("set: %v", err)
	}

	var mode string
	found, err := s.GetState(ctx, "current_mode", &mode)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found || mode != "linkedin" {
		t.Fatalf("got found=%v mode=%q", found, mode)
	}
}

func TestGetStateMissing(t *testing.T) {
	s := openTestStore(t)

	var out string
	found, err := s.GetState(context.Background(), "nope", &out)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found || out != "" {
		t.Fatalf("expected miss, got found=%v out=%q", found, out)
	}
}

func TestStateTTLExpiry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// A negative ttl yields an already-expired deadline, so the test
	// does not have to sleep.
	if err := s.SetState(ctx, "ephemeral", 42, -time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}

	var out int
	found, err := s.GetState(ctx, "ephemeral", &out)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Fatal("expected expired entry to be invisible")
	}
}

func TestSetStateIfAbsentSingleWinner(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	const callers = 16
	var wg sync.WaitGroup
	wins := make(chan bool, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stored, err := s.SetStateIfAbsent(ctx, "fingerprint:abc", true, time.Hour)
			if err != nil {
				t.Errorf("set if absent: %v", err)
				return
			}
			wins <- stored
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for w := range wins {
		if w {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestSetStateIfAbsentAfterExpiry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SetState(ctx, "slot", "old", -time.Hour); err != nil {
		t.Fatalf("seed: %v", err)
	}

	stored, err := s.SetStateIfAbsent(ctx, "slot", "new", time.Hour)
	if err != nil {
		t.Fatalf("set if absent: %v", err)
	}
	if !stored {
		t.Fatal("expired entry should not block a conditional write")
	}
}

func TestConversationAppendAndHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, msg := range []string{"first", "second", "third"} {
		if err := s.AppendConversation(ctx, "conversation:general", RoleUser, msg, "general"); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	turns, err := s.GetConversationHistory(ctx, "conversation:general", 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].Message != "third" || turns[1].Message != "second" {
		t.Fatalf("expected newest first, got %q then %q", turns[0].Message, turns[1].Message)
	}
	if turns[0].ID == "" || turns[0].Timestamp.IsZero() {
		t.Fatal("expected assigned id and timestamp")
	}
}

func TestConversationTrim(t *testing.T) {
	s := openTestStore(t, WithMaxConversationEntries(5))
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		if err := s.AppendConversation(ctx, "conversation:x", RoleAssistant, "m", "x"); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	turns, err := s.GetConversationHistory(ctx, "conversation:x", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(turns) != 5 {
		t.Fatalf("expected trimmed log of 5, got %d", len(turns))
	}
}

func TestContextRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	in := map[string]string{"name": "Riley", "company": "Veilworks"}
	if err := s.SetContext(ctx, "context:profile", in); err != nil {
		t.Fatalf("set context: %v", err)
	}

	var out map[string]string
	found, err := s.GetContext(ctx, "context:profile", &out)
	if err != nil {
		t.Fatalf("get context: %v", err)
	}
	if !found || out["company"] != "Veilworks" {
		t.Fatalf("got found=%v out=%v", found, out)
	}
}

func TestListStateKeys(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_ = s.SetState(ctx, "guard:last_post:linkedin", 1, 0)
	_ = s.SetState(ctx, "guard:last_post:x", 2, 0)
	_ = s.SetState(ctx, "other:key", 3, 0)

	keys, err := s.ListStateKeys(ctx, "guard:last_post:")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d: %v", len(keys), keys)
	}
}

func TestAppendRollingWindow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.AppendRolling(ctx, "guard:recent:linkedin", i, 3); err != nil {
			t.Fatalf("append rolling: %v", err)
		}
	}

	var window []int
	found, err := s.GetState(ctx, "guard:recent:linkedin", &window)
	if err != nil || !found {
		t.Fatalf("get window: found=%v err=%v", found, err)
	}
	if len(window) != 3 || window[0] != 2 || window[2] != 4 {
		t.Fatalf("expected newest 3 values, got %v", window)
	}
}

func TestPruneExpired(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_ = s.SetState(ctx, "live", 1, time.Hour)
	_ = s.SetState(ctx, "dead1", 1, -time.Minute)
	_ = s.SetState(ctx, "dead2", 1, -time.Minute)

	pruned, err := s.PruneExpired(ctx)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 2 {
		t.Fatalf("expected 2 pruned, got %d", pruned)
	}

	var out int
	found, _ := s.GetState(ctx, "live", &out)
	if !found {
		t.Fatal("live key should survive prune")
	}
}

func TestReopenPersistsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s1.SetState(ctx, "durable", "yes", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s1.AppendConversation(ctx, "conversation:general", RoleUser, "hello", "general"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	var out string
	found, err := s2.GetState(ctx, "durable", &out)
	if err != nil || !found || out != "yes" {
		t.Fatalf("reread scalar: found=%v out=%q err=%v", found, out, err)
	}
	turns, err := s2.GetConversationHistory(ctx, "conversation:general", 0)
	if err != nil || len(turns) != 1 {
		t.Fatalf("reread conversation: %v %v", turns, err)
	}
}

func TestClosedStoreReturnsUnavailable(t *testing.T) {
	s := openTestStore(t)
	_ = s.Close()

	if err := s.SetState(context.Background(), "k", "v", 0); !errors.Is(err, apperrors.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable after close, got %v", err)
	}

	var v string
	if _, err := s.GetState(context.Background(), "k", &v); !errors.Is(err, apperrors.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable for read after close, got %v", err)
	}
}

func TestOpenSecondInstanceTimesOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	first, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer first.Close()

	start := time.Now()
	_, err = Open(path, WithLockTimeout(150*time.Millisecond), WithLockRetry(20*time.Millisecond))
	if err == nil {
		t.Fatal("expected second instance to fail on the held lock")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("lock timeout not honored, took %s", elapsed)
	}
}

func TestCloseRacingSubmitters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Flipped only after Close returns; any call started afterwards must
	// report the store unavailable rather than succeed or hang.
	var stopped atomic.Bool
	faults := make(chan error, 32)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; ; j++ {
				sawStop := stopped.Load()
				err := s.SetState(ctx, fmt.Sprintf("writer:%d", id), j, 0)
				if err != nil {
					if !errors.Is(err, apperrors.ErrStoreUnavailable) {
						faults <- fmt.Errorf("writer %d: unexpected error: %w", id, err)
					}
					return
				}
				if sawStop {
					faults <- fmt.Errorf("writer %d: write accepted after close", id)
					return
				}
			}
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		var v int
		for {
			sawStop := stopped.Load()
			_, err := s.GetState(ctx, "writer:0", &v)
			if err != nil {
				if !errors.Is(err, apperrors.ErrStoreUnavailable) {
					faults <- fmt.Errorf("reader: unexpected error: %w", err)
				}
				return
			}
			if sawStop {
				faults <- errors.New("reader: read served after close")
				return
			}
		}
	}()

	time.Sleep(5 * time.Millisecond)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	stopped.Store(true)

	wg.Wait()
	close(faults)
	for err := range faults {
		t.Error(err)
	}
}

func TestSortTurns(t *testing.T) {
	base := time.Now()
	turns := []Turn{
		{ID: "b", Timestamp: base.Add(2 * time.Second)},
		{ID: "a", Timestamp: base},
		{ID: "c", Timestamp: base.Add(time.Second)},
	}
	SortTurns(turns)
	if turns[0].ID != "a" || turns[1].ID != "c" || turns[2].ID != "b" {
		t.Fatalf("unexpected order: %v %v %v", turns[0].ID, turns[1].ID, turns[2].ID)
	}
}
