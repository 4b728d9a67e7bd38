// Attriflow - AI Traffic Attribution for E-Commerce Orders
// Copyright 2026 Attriflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/attriflow/attriflow

// Package ingest implements the asynchronous webhook job queue.
//
// Webhook HTTP handlers enqueue a small job envelope and return immediately;
// a single consumer drains the queue in FIFO order, one job at a time, so
// database writes from webhook bursts never contend with each other. A job
// failure is recorded on the job's mirror row and the drain continues with
// the next job.
//
// Each in-memory job has a persisted mirror row for dashboard observability.
// Mirror rows are best-effort: a mirror write failure is logged, never
// allowed to drop the webhook itself.
package ingest

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/attriflow/attriflow/internal/logging"
	"github.com/attriflow/attriflow/internal/metrics"
	"github.com/attriflow/attriflow/internal/models"
)

// jobsTopic is the single internal topic all webhook jobs flow through. One
// topic plus one consumer handler is what guarantees global FIFO ordering
// across webhook kinds.
const jobsTopic = "webhooks.jobs"

// Job is the serializable envelope carried through the queue. Payload holds
// the raw webhook body; the registered handler for Topic decodes it.
type Job struct {
	ID         string          `json:"id"`
	Shop       string          `json:"shop"`
	Topic      string          `json:"topic"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Handler processes one decoded job. A returned error marks the job failed
// on its mirror row; it does not stop the queue.
type Handler func(ctx context.Context, job Job) error

// JobStore persists job mirror rows. *database.DB implements it.
type JobStore interface {
	InsertWebhookJob(ctx context.Context, job *models.WebhookJobRecord) error
	MarkWebhookJobProcessing(ctx context.Context, id string) error
	FinishWebhookJob(ctx context.Context, id string, status models.JobStatus, lastError string) error
}

// Config holds queue construction parameters.
type Config struct {
	// BufferSize is the in-memory channel capacity. Enqueue blocks once the
	// buffer is full, which backpressures the webhook endpoint. Default 1024.
	BufferSize int

	// CloseTimeout bounds how long Close waits for the in-flight job.
	// Default 30s.
	CloseTimeout time.Duration
}

// Queue is the single-consumer webhook job queue.
//
// Register all handlers before calling Serve; the registry is not
// synchronized against a running consumer.
type Queue struct {
	pubsub   *gochannel.GoChannel
	router   *message.Router
	jobs     JobStore
	handlers map[string]Handler
	depth    atomic.Int64
}

// NewQueue creates the queue and its consumer router.
func NewQueue(cfg Config, jobs JobStore) (*Queue, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 30 * time.Second
	}

	wmLogger := newWatermillLogger()
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: int64(cfg.BufferSize),
	}, wmLogger)

	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: cfg.CloseTimeout,
	}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue router: %w", err)
	}
	router.AddMiddleware(middleware.Recoverer)

	q := &Queue{
		pubsub:   pubsub,
		router:   router,
		jobs:     jobs,
		handlers: make(map[string]Handler),
	}
	router.AddConsumerHandler("webhook-consumer", jobsTopic, pubsub, q.consume)
	return q, nil
}

// Register binds a handler to a webhook topic. Must be called before Serve.
func (q *Queue) Register(topic string, h Handler) {
	q.handlers[topic] = h
}

// Enqueue publishes a webhook job and creates its mirror row. It returns the
// job ID once the job is buffered; processing happens asynchronously.
//
// The in-memory transport drops messages published without a subscriber, so
// the consumer must be running (wait on Running) before the first Enqueue.
func (q *Queue) Enqueue(ctx context.Context, shop, topic string, payload json.RawMessage) (string, error) {
	job := Job{
		ID:         uuid.NewString(),
		Shop:       shop,
		Topic:      topic,
		EnqueuedAt: time.Now().UTC(),
		Payload:    payload,
	}

	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to encode webhook job: %w", err)
	}

	record := &models.WebhookJobRecord{
		ID:         job.ID,
		Shop:       shop,
		Topic:      topic,
		Intent:     fmt.Sprintf("process %s for %s", topic, shop),
		Status:     models.JobQueued,
		EnqueuedAt: job.EnqueuedAt,
	}
	if err := q.jobs.InsertWebhookJob(ctx, record); err != nil {
		logging.Warn().Err(err).Str("job_id", job.ID).Str("topic", topic).
			Msg("webhook job mirror insert failed")
	}

	msg := message.NewMessage(job.ID, data)
	if err := q.pubsub.Publish(jobsTopic, msg); err != nil {
		// The mirror row exists but the job will never run; leaving it queued
		// would strand it past the terminal-row retention purge.
		if ferr := q.jobs.FinishWebhookJob(ctx, job.ID, models.JobFailed, "enqueue failed: "+err.Error()); ferr != nil {
			logging.Warn().Err(ferr).Str("job_id", job.ID).Msg("webhook job mirror finish failed")
		}
		return "", fmt.Errorf("failed to enqueue webhook job: %w", err)
	}

	metrics.WebhookQueueDepth.Set(float64(q.depth.Add(1)))
	return job.ID, nil
}

// Depth returns the number of buffered jobs including the in-flight one.
func (q *Queue) Depth() int64 {
	return q.depth.Load()
}

// consume processes one job. It always returns nil: job outcomes live on the
// mirror row, and a failure must not stall the jobs behind it.
func (q *Queue) consume(msg *message.Message) error {
	ctx := context.Background()
	start := time.Now()
	defer func() {
		metrics.WebhookQueueDepth.Set(float64(q.depth.Add(-1)))
		metrics.WebhookJobDuration.Observe(time.Since(start).Seconds())
	}()

	var job Job
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		logging.Error().Err(err).Str("message_id", msg.UUID).
			Msg("discarding undecodable webhook job")
		metrics.WebhookJobsTotal.WithLabelValues("unknown", string(models.JobFailed)).Inc()
		return nil
	}

	if err := q.jobs.MarkWebhookJobProcessing(ctx, job.ID); err != nil {
		logging.Warn().Err(err).Str("job_id", job.ID).
			Msg("webhook job mirror update failed")
	}

	q.finish(ctx, job, q.dispatch(ctx, job))
	return nil
}

// dispatch runs the registered handler for the job. A handler panic is
// converted into the job's error: the message must be acked exactly once no
// matter what the handler does, or the transport would redeliver it and the
// jobs behind it would never drain.
func (q *Queue) dispatch(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	h, ok := q.handlers[job.Topic]
	if !ok {
		return fmt.Errorf("no handler registered for topic %q", job.Topic)
	}
	return h(ctx, job)
}

// finish records the terminal status on the mirror row and metrics.
func (q *Queue) finish(ctx context.Context, job Job, jobErr error) {
	status := models.JobCompleted
	lastError := ""
	if jobErr != nil {
		status = models.JobFailed
		lastError = jobErr.Error()
		logging.Error().Err(jobErr).
			Str("job_id", job.ID).Str("shop", job.Shop).Str("topic", job.Topic).
			Msg("webhook job failed")
	}

	metrics.WebhookJobsTotal.WithLabelValues(job.Topic, string(status)).Inc()
	if err := q.jobs.FinishWebhookJob(ctx, job.ID, status, lastError); err != nil {
		logging.Warn().Err(err).Str("job_id", job.ID).
			Msg("webhook job mirror finish failed")
	}
}

// Serve runs the consumer until ctx is cancelled. It satisfies the
// supervisor's service interface.
func (q *Queue) Serve(ctx context.Context) error {
	return q.router.Run(ctx)
}

// Running returns a channel that closes once the consumer is started.
func (q *Queue) Running() <-chan struct{} {
	return q.router.Running()
}

// Close drains the in-flight job and releases the queue.
func (q *Queue) Close() error {
	if err := q.router.Close(); err != nil {
		return err
	}
	return q.pubsub.Close()
}
