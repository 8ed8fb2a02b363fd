package guard

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	apperrors "github.com/veilworks/aoi/internal/errors"
	"github.com/veilworks/aoi/internal/store"
)

func newTestGuard(t *testing.T) (*Guard, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st), st
}

func TestFingerprintNormalization(t *testing.T) {
	a := Fingerprint("Excited to share   our new launch!\n")
	b := Fingerprint("excited to share our new launch!")
	if a != b {
		t.Fatal("normalized variants should share a fingerprint")
	}

	c := Fingerprint("excited to share our new launch")
	if a == c {
		t.Fatal("different content should not collide")
	}
}

func TestCooldownFreshChannel(t *testing.T) {
	g, _ := newTestGuard(t)

	allowed, remaining, err := g.CheckCooldown(context.Background(), "linkedin", time.Hour)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !allowed || remaining != 0 {
		t.Fatalf("fresh channel should be allowed, got allowed=%v remaining=%v", allowed, remaining)
	}
}

func TestCooldownBlocksInsideWindow(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()

	if err := g.RecordSubmission(ctx, "linkedin", "first post"); err != nil {
		t.Fatalf("record: %v", err)
	}

	allowed, remaining, err := g.CheckCooldown(ctx, "linkedin", time.Hour)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if allowed {
		t.Fatal("post inside cooldown should be blocked")
	}
	if remaining <= 0 || remaining > time.Hour {
		t.Fatalf("remaining out of range: %v", remaining)
	}
}

func TestCooldownPerChannel(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()

	if err := g.RecordSubmission(ctx, "linkedin", "first post"); err != nil {
		t.Fatalf("record: %v", err)
	}

	allowed, _, err := g.CheckCooldown(ctx, "x", time.Hour)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !allowed {
		t.Fatal("cooldown on one channel must not leak into another")
	}
}

func TestCooldownReopensAfterInterval(t *testing.T) {
	g, st := newTestGuard(t)
	ctx := context.Background()

	// Backdate the last post beyond the interval.
	past := time.Now().Add(-2 * time.Hour).Unix()
	if err := st.SetState(ctx, "guard:last_post:linkedin", past, 0); err != nil {
		t.Fatalf("seed: %v", err)
	}

	allowed, _, err := g.CheckCooldown(ctx, "linkedin", time.Hour)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !allowed {
		t.Fatal("elapsed cooldown should allow posting")
	}
}

func TestDuplicateDetection(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()

	dup, err := g.CheckDuplicate(ctx, "linkedin", "launch announcement", time.Hour)
	if err != nil {
		t.Fatalf("first check: %v", err)
	}
	if dup {
		t.Fatal("first submission should not be a duplicate")
	}

	dup, err = g.CheckDuplicate(ctx, "linkedin", "Launch   Announcement", time.Hour)
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if !dup {
		t.Fatal("normalized repeat should be flagged as duplicate")
	}
}

func TestDuplicateScopedToChannel(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()

	if _, err := g.CheckDuplicate(ctx, "linkedin", "same text", time.Hour); err != nil {
		t.Fatalf("seed: %v", err)
	}

	dup, err := g.CheckDuplicate(ctx, "x", "same text", time.Hour)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if dup {
		t.Fatal("fingerprints are per channel")
	}
}

func TestDuplicateConcurrentSingleWinner(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()

	const callers = 10
	var wg sync.WaitGroup
	passed := make(chan bool, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dup, err := g.CheckDuplicate(ctx, "linkedin", "racy content", time.Hour)
			if err != nil {
				t.Errorf("check: %v", err)
				return
			}
			passed <- !dup
		}()
	}
	wg.Wait()
	close(passed)

	winners := 0
	for p := range passed {
		if p {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one non-duplicate, got %d", winners)
	}
}

func TestGuardDegradesOpenOnStoreFailure(t *testing.T) {
	g, st := newTestGuard(t)
	_ = st.Close()
	ctx := context.Background()

	allowed, _, err := g.CheckCooldown(ctx, "linkedin", time.Hour)
	if err != nil || !allowed {
		t.Fatalf("cooldown should degrade open: allowed=%v err=%v", allowed, err)
	}

	dup, err := g.CheckDuplicate(ctx, "linkedin", "anything", time.Hour)
	if err != nil || dup {
		t.Fatalf("duplicate check should degrade open: dup=%v err=%v", dup, err)
	}

	// Recording is the one guard write that surfaces its failure.
	err = g.RecordSubmission(ctx, "linkedin", "anything")
	if !apperrors.IsCategory(err, apperrors.ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
}

func TestRecordSubmissionKeepsAuditTrail(t *testing.T) {
	g, st := newTestGuard(t)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three", "four"} {
		if err := g.RecordSubmission(ctx, "x", text); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	var trail []map[string]string
	found, err := st.GetState(ctx, "guard:recent:x", &trail)
	if err != nil || !found {
		t.Fatalf("read trail: found=%v err=%v", found, err)
	}
	if len(trail) != 3 {
		t.Fatalf("expected trail capped at 3, got %d", len(trail))
	}
	if trail[2]["fingerprint"] != Fingerprint("four") {
		t.Fatal("newest submission missing from trail")
	}
}
