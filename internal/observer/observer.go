// Package observer runs background housekeeping on a cron schedule:
// pruning expired state entries and stamping a liveness marker other
// tooling can watch.
package observer

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/veilworks/aoi/internal/concurrency"
)

const lastUpdateKey = "observer:last_update"

// Store is the janitor's slice of the state store.
type Store interface {
	PruneExpired(ctx context.Context) (int, error)
	SetState(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	ListStateKeys(ctx context.Context, prefix string) (map[string]json.RawMessage, error)
}

// Liveness is the heartbeat the sweep leaves behind.
type Liveness struct {
	At   string `json:"at"`
	Keys int    `json:"keys"`
}

// Observer periodically sweeps the store.
type Observer struct {
	store    Store
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger
}

func New(st Store, schedule string) *Observer {
	if schedule == "" {
		schedule = "@every 30s"
	}
	return &Observer{
		store:    st,
		schedule: schedule,
		cron:     cron.New(),
		logger:   slog.Default(),
	}
}

// Start registers the sweep job and launches the scheduler.
func (o *Observer) Start() error {
	_, err := o.cron.AddFunc(o.schedule, func() {
		concurrency.SafeGo("observer sweep", func() {
			o.sweep()
		}, func(r interface{}) {
			o.logger.Error("observer sweep panicked", slog.Any("panic", r))
		})
	})
	if err != nil {
		return err
	}
	o.cron.Start()
	o.logger.Info("observer started", slog.String("schedule", o.schedule))
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (o *Observer) Stop() {
	ctx := o.cron.Stop()
	<-ctx.Done()
}

// Sweep runs one housekeeping pass immediately.
func (o *Observer) Sweep() {
	o.sweep()
}

func (o *Observer) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pruned, err := o.store.PruneExpired(ctx)
	if err != nil {
		o.logger.Warn("prune failed", slog.Any("error", err))
		return
	}
	if pruned > 0 {
		o.logger.Info("pruned expired state", slog.Int("entries", pruned))
	}

	keys, err := o.store.ListStateKeys(ctx, "")
	if err != nil {
		o.logger.Warn("key census failed", slog.Any("error", err))
	}

	stamp := Liveness{At: time.Now().UTC().Format(time.RFC3339), Keys: len(keys)}
	if err := o.store.SetState(ctx, lastUpdateKey, stamp, 0); err != nil {
		o.logger.Warn("failed to stamp observer liveness", slog.Any("error", err))
	}
}
