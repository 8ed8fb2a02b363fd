// Package outbox hands finished posts to downstream delivery. Tasks are
// appended to a JSONL file so a separate publisher process can drain them;
// in-process consumers and tests use the memory queue.
package outbox

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	aoiErrors "github.com/veilworks/aoi/internal/errors"
)

// Task is one approved post ready for delivery.
type Task struct {
	ID          string                 `json:"id"`
	Type        string                 `json:"type"` // e.g. "linkedin_post"
	Text        string                 `json:"post_text"`
	ImageURL    string                 `json:"image_url,omitempty"`
	UserContext map[string]interface{} `json:"user_data,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// stamp fills queue-assigned fields the producer left unset, so every
// delivered line carries a usable ID and timestamp.
func (t *Task) stamp() {
	if t.ID == "" {
		t.ID = ulid.Make().String()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}
}

// Queue receives finished tasks. Push must be safe for concurrent use.
type Queue interface {
	Push(ctx context.Context, task Task) error
}

// FileQueue appends tasks to a JSONL file, one task per line. Each push
// is flushed before returning so a crash never loses an acknowledged post.
type FileQueue struct {
	path string
	mu   sync.Mutex
}

func NewFileQueue(path string) (*FileQueue, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, aoiErrors.WrapAs(err, aoiErrors.ErrStoreUnavailable, "create outbox directory")
	}
	return &FileQueue{path: path}, nil
}

func (q *FileQueue) Push(ctx context.Context, task Task) error {
	if err := ctx.Err(); err != nil {
		return aoiErrors.Wrap(err, "outbox push")
	}

	task.stamp()
	data, err := json.Marshal(task)
	if err != nil {
		return aoiErrors.Wrap(err, "encode task")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	f, err := os.OpenFile(q.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return aoiErrors.WrapAs(err, aoiErrors.ErrStoreUnavailable, "open outbox")
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return aoiErrors.WrapAs(err, aoiErrors.ErrStoreUnavailable, "append task")
	}
	if err := f.Sync(); err != nil {
		return aoiErrors.WrapAs(err, aoiErrors.ErrStoreUnavailable, "flush outbox")
	}
	return nil
}

// MemoryQueue collects tasks in memory.
type MemoryQueue struct {
	mu    sync.Mutex
	tasks []Task
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Push(ctx context.Context, task Task) error {
	task.stamp()
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return nil
}

// Tasks returns a copy of everything pushed so far.
func (q *MemoryQueue) Tasks() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Task, len(q.tasks))
	copy(out, q.tasks)
	return out
}
