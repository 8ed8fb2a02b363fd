package store

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

const (
	defaultLockTimeout = 5 * time.Second
	defaultLockRetry   = 100 * time.Millisecond
)

// acquireFileLock takes an exclusive advisory lock on path + ".lock" so
// only one process mutates the snapshot at a time.
func acquireFileLock(path string, timeout, retry time.Duration) (*flock.Flock, error) {
	fl := flock.New(path + ".lock")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for {
		ok, err := fl.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire state lock: %w", err)
		}
		if ok {
			return fl, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire state lock: %w", ctx.Err())
		case <-time.After(retry):
		}
	}
}
