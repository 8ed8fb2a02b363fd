// Package guard enforces posting safety rails: a per-channel cooldown
// between outbound posts and content-fingerprint deduplication inside a
// sliding window. The guard never blocks a post on its own failures; when
// the store is down it reports the post as allowed and lets the caller
// log the degradation.
package guard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	apperrors "github.com/veilworks/aoi/internal/errors"
	"github.com/veilworks/aoi/internal/store"
)

const (
	lastPostPrefix    = "guard:last_post:"
	fingerprintPrefix = "guard:fingerprint:"
	recentPrefix      = "guard:recent:"
)

// Stater is the slice of the state store the guard needs.
type Stater interface {
	SetState(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	GetState(ctx context.Context, key string, dest interface{}) (bool, error)
	SetStateIfAbsent(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	AppendRolling(ctx context.Context, key string, value interface{}, limit int) error
}

// Guard gates outbound posts per channel.
type Guard struct {
	store       Stater
	recentLimit int
	logger      *slog.Logger
}

type Option func(*Guard)

// WithRecentLimit caps the per-channel audit trail of recent submissions.
func WithRecentLimit(n int) Option {
	return func(g *Guard) { g.recentLimit = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

func New(st Stater, opts ...Option) *Guard {
	g := &Guard{
		store:       st,
		recentLimit: 3,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Fingerprint derives a stable identity for post content: the SHA-256 of
// the text after trimming, case folding, and collapsing runs of
// whitespace. Two drafts that differ only in spacing or case collide.
func Fingerprint(content string) string {
	normalized := strings.ToLower(strings.TrimSpace(content))
	normalized = strings.Join(strings.Fields(normalized), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// CheckCooldown reports whether channel may post now under minInterval.
// When blocked, remaining tells the caller how long until the window
// reopens. Store failures degrade open.
func (g *Guard) CheckCooldown(ctx context.Context, channel string, minInterval time.Duration) (bool, time.Duration, error) {
	if minInterval <= 0 {
		return true, 0, nil
	}

	var lastUnix int64
	found, err := g.store.GetState(ctx, lastPostPrefix+channel, &lastUnix)
	if err != nil {
		g.logger.Warn("cooldown check degraded, allowing post",
			slog.String("channel", channel),
			slog.Any("error", err))
		return true, 0, nil
	}
	if !found {
		return true, 0, nil
	}

	elapsed := time.Since(time.Unix(lastUnix, 0))
	if elapsed >= minInterval {
		return true, 0, nil
	}
	return false, minInterval - elapsed, nil
}

// CheckDuplicate atomically tests whether content was already submitted
// to channel inside window and, when it was not, records its fingerprint
// so every concurrent caller after the first sees a duplicate. Store
// failures degrade open.
func (g *Guard) CheckDuplicate(ctx context.Context, channel, content string, window time.Duration) (bool, error) {
	key := fmt.Sprintf("%s%s:%s", fingerprintPrefix, channel, Fingerprint(content))

	stored, err := g.store.SetStateIfAbsent(ctx, key, time.Now().Unix(), window)
	if err != nil {
		g.logger.Warn("duplicate check degraded, allowing post",
			slog.String("channel", channel),
			slog.Any("error", err))
		return false, nil
	}
	if !stored {
		return true, nil
	}
	return false, nil
}

// RecordSubmission marks a successful post: it restarts the channel's
// cooldown clock and appends the content fingerprint to the channel's
// audit trail. Failures here are reported but must not unwind a post
// that already went out.
func (g *Guard) RecordSubmission(ctx context.Context, channel, content string) error {
	now := time.Now()

	if err := g.store.SetState(ctx, lastPostPrefix+channel, now.Unix(), 0); err != nil {
		return apperrors.Wrap(err, "record last post time")
	}

	entry := map[string]interface{}{
		"fingerprint": Fingerprint(content),
		"at":          now.UTC().Format(time.RFC3339),
	}
	if err := g.store.AppendRolling(ctx, recentPrefix+channel, entry, g.recentLimit); err != nil {
		return apperrors.Wrap(err, "record recent submission")
	}
	return nil
}

// compile-time check that the concrete store satisfies the guard's view.
var _ Stater = (*store.Store)(nil)
