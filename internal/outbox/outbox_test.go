package outbox

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestFileQueueAppendsJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.jsonl")
	q, err := NewFileQueue(path)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	ctx := context.Background()

	tasks := []Task{
		{ID: "1", Type: "linkedin_post", Text: "first", Timestamp: time.Now()},
		{ID: "2", Type: "x_post", Text: "second", ImageURL: "https://img.example/a.png", Timestamp: time.Now()},
	}
	for _, task := range tasks {
		if err := q.Push(ctx, task); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var read []Task
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var task Task
		if err := json.Unmarshal(scanner.Bytes(), &task); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		read = append(read, task)
	}

	if len(read) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(read))
	}
	if read[0].Text != "first" || read[1].Type != "x_post" || read[1].ImageURL == "" {
		t.Fatalf("round trip mismatch: %+v", read)
	}
}

func TestFileQueueConcurrentPush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.jsonl")
	q, err := NewFileQueue(path)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = q.Push(context.Background(), Task{Type: "linkedin_post", Text: "post"})
		}(i)
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	if lines != writers {
		t.Fatalf("expected %d complete lines, got %d", writers, lines)
	}
}

func TestPushStampsUnsetFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.jsonl")
	q, err := NewFileQueue(path)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := q.Push(ctx, Task{Type: "linkedin_post", Text: "post"}); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	seen := map[string]bool{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var task Task
		if err := json.Unmarshal(scanner.Bytes(), &task); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		if task.ID == "" {
			t.Fatal("queued line missing id")
		}
		if seen[task.ID] {
			t.Fatalf("duplicate id %q", task.ID)
		}
		seen[task.ID] = true
		if task.Timestamp.IsZero() {
			t.Fatal("queued line missing timestamp")
		}
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(seen))
	}
}

func TestMemoryQueue(t *testing.T) {
	q := NewMemoryQueue()
	_ = q.Push(context.Background(), Task{ID: "a", Type: "linkedin_post"})
	_ = q.Push(context.Background(), Task{ID: "b", Type: "x_post"})

	tasks := q.Tasks()
	if len(tasks) != 2 || tasks[0].ID != "a" || tasks[1].ID != "b" {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
}
