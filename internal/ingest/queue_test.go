// Attriflow - AI Traffic Attribution for E-Commerce Orders
// Copyright 2026 Attriflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/attriflow/attriflow

package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/attriflow/attriflow/internal/models"
)

// fakeJobStore records mirror-row transitions in memory.
type fakeJobStore struct {
	mu       sync.Mutex
	inserted []models.WebhookJobRecord
	finished map[string]models.JobStatus
	errors   map[string]string
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{
		finished: make(map[string]models.JobStatus),
		errors:   make(map[string]string),
	}
}

func (f *fakeJobStore) InsertWebhookJob(_ context.Context, job *models.WebhookJobRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, *job)
	return nil
}

func (f *fakeJobStore) MarkWebhookJobProcessing(_ context.Context, _ string) error {
	return nil
}

func (f *fakeJobStore) FinishWebhookJob(_ context.Context, id string, status models.JobStatus, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished[id] = status
	f.errors[id] = lastError
	return nil
}

func (f *fakeJobStore) statusOf(id string) (models.JobStatus, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finished[id], f.errors[id]
}

// startQueue runs the queue consumer for the duration of the test.
func startQueue(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := q.Serve(ctx); err != nil {
			t.Errorf("queue serve: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-q.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("queue consumer did not start")
	}
}

func TestQueue_DrainsInFIFOOrder(t *testing.T) {
	store := newFakeJobStore()
	q, err := NewQueue(Config{}, store)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}

	const n = 10
	var mu sync.Mutex
	var seen []string
	done := make(chan struct{}, n)
	q.Register("orders/create", func(_ context.Context, job Job) error {
		var body struct {
			Seq string `json:"seq"`
		}
		if err := json.Unmarshal(job.Payload, &body); err != nil {
			return err
		}
		mu.Lock()
		seen = append(seen, body.Seq)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	startQueue(t, q)

	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		payload, _ := json.Marshal(map[string]string{"seq": string(rune('a' + i))})
		id, err := q.Enqueue(context.Background(), "shop.example", "orders/create", payload)
		if err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
		ids = append(ids, id)
	}

	for i := 0; i < n; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for job %d", i)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i, want := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		if seen[i] != want {
			t.Fatalf("job order = %v, want alphabetical", seen)
		}
	}
	for _, id := range ids {
		if status, _ := store.statusOf(id); status != models.JobCompleted {
			t.Errorf("job %s status = %q, want completed", id, status)
		}
	}
}

func TestQueue_FailedJobDoesNotStopDrain(t *testing.T) {
	store := newFakeJobStore()
	q, err := NewQueue(Config{}, store)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}

	done := make(chan string, 2)
	q.Register("orders/create", func(_ context.Context, job Job) error {
		defer func() { done <- job.ID }()
		if string(job.Payload) == `{"fail":true}` {
			return errors.New("handler exploded")
		}
		return nil
	})
	startQueue(t, q)

	ctx := context.Background()
	failID, err := q.Enqueue(ctx, "shop.example", "orders/create", json.RawMessage(`{"fail":true}`))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	okID, err := q.Enqueue(ctx, "shop.example", "orders/create", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("queue stalled after failed job")
		}
	}

	// Allow the consumer's finish bookkeeping to land.
	deadline := time.Now().Add(2 * time.Second)
	for {
		failStatus, failMsg := store.statusOf(failID)
		okStatus, _ := store.statusOf(okID)
		if failStatus.Terminal() && okStatus.Terminal() {
			if failStatus != models.JobFailed || failMsg == "" {
				t.Errorf("failed job status = %q (%q), want failed with message", failStatus, failMsg)
			}
			if okStatus != models.JobCompleted {
				t.Errorf("ok job status = %q, want completed", okStatus)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("mirror rows never reached terminal state: %q / %q", failStatus, okStatus)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestQueue_UnregisteredTopicFailsJob(t *testing.T) {
	store := newFakeJobStore()
	q, err := NewQueue(Config{}, store)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	startQueue(t, q)

	id, err := q.Enqueue(context.Background(), "shop.example", "products/create", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		status, msg := store.statusOf(id)
		if status.Terminal() {
			if status != models.JobFailed || msg == "" {
				t.Fatalf("status = %q (%q), want failed with message", status, msg)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("job never finished")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestQueue_PanickingHandlerIsMarkedFailed(t *testing.T) {
	store := newFakeJobStore()
	q, err := NewQueue(Config{}, store)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}

	done := make(chan struct{}, 1)
	q.Register("orders/create", func(context.Context, Job) error {
		panic("corrupt payload")
	})
	q.Register("checkouts/create", func(context.Context, Job) error {
		done <- struct{}{}
		return nil
	})
	startQueue(t, q)

	ctx := context.Background()
	panicID, err := q.Enqueue(ctx, "shop.example", "orders/create", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	okID, err := q.Enqueue(ctx, "shop.example", "checkouts/create", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// The job behind the panicking one must still drain.
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("queue stalled behind panicking handler")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		panicStatus, panicMsg := store.statusOf(panicID)
		okStatus, _ := store.statusOf(okID)
		if panicStatus.Terminal() && okStatus.Terminal() {
			if panicStatus != models.JobFailed || panicMsg == "" {
				t.Errorf("panicking job status = %q (%q), want failed with message", panicStatus, panicMsg)
			}
			if okStatus != models.JobCompleted {
				t.Errorf("ok job status = %q, want completed", okStatus)
			}
			if depth := q.Depth(); depth != 0 {
				t.Errorf("queue depth after drain = %d, want 0", depth)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("mirror rows never reached terminal state: %q / %q", panicStatus, okStatus)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestQueue_PublishFailureMarksMirrorFailed(t *testing.T) {
	store := newFakeJobStore()
	q, err := NewQueue(Config{}, store)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	q.Register("orders/create", func(context.Context, Job) error { return nil })

	// Closing the transport makes the next publish fail.
	if err := q.pubsub.Close(); err != nil {
		t.Fatalf("pubsub close: %v", err)
	}

	if _, err := q.Enqueue(context.Background(), "shop.example", "orders/create", json.RawMessage(`{}`)); err == nil {
		t.Fatal("Enqueue after transport close should fail")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.inserted) != 1 {
		t.Fatalf("mirror inserts = %d, want 1", len(store.inserted))
	}
	id := store.inserted[0].ID
	if status := store.finished[id]; status != models.JobFailed {
		t.Errorf("stranded mirror status = %q, want failed", status)
	}
	if msg := store.errors[id]; msg == "" {
		t.Error("stranded mirror row should record the enqueue error")
	}
}

func TestQueue_EnqueueWritesMirrorRow(t *testing.T) {
	store := newFakeJobStore()
	q, err := NewQueue(Config{}, store)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	q.Register("orders/create", func(context.Context, Job) error { return nil })
	startQueue(t, q)

	id, err := q.Enqueue(context.Background(), "shop.example", "orders/create", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.inserted) != 1 {
		t.Fatalf("mirror inserts = %d, want 1", len(store.inserted))
	}
	rec := store.inserted[0]
	if rec.ID != id || rec.Shop != "shop.example" || rec.Topic != "orders/create" {
		t.Errorf("mirror row = %+v", rec)
	}
	if rec.Status != models.JobQueued {
		t.Errorf("mirror status = %q, want queued", rec.Status)
	}
}
