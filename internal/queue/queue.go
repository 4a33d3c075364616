// Package queue serializes outbound messages through a single worker with
// bounded retry and exponential backoff. At most one message is ever being
// processed; everything else waits in FIFO order by enqueue time.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"gatewayz/internal/metrics"
)

// Status is the per-message state machine:
// pending -> processing -> sent | pending (retry) | failed.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// Message is one queued outbound message. The queue owns all mutation;
// callers only ever see copies.
type Message struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	Model       string    `json:"model,omitempty"`
	Attachments []string  `json:"attachments,omitempty"`
	Status      Status    `json:"status"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error,omitempty"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// Processor delivers one message. An error triggers the retry policy.
type Processor func(ctx context.Context, msg Message) error

// ErrorFunc is invoked exactly once for a message that exhausts its
// attempts, with the last delivery error.
type ErrorFunc func(msg Message, err error)

type Config struct {
	Processor Processor
	OnError   ErrorFunc
	// MaxAttempts bounds delivery tries per message. Default 3.
	MaxAttempts int
	// BackoffBase scales the retry delay: 2^attempts * BackoffBase.
	// Default 1s, giving 2s then 4s between tries.
	BackoffBase time.Duration
	Logger      *slog.Logger
}

// Queue is a single-worker FIFO send queue. A retried message keeps its
// original position, so it is always retried before anything enqueued
// after it.
type Queue struct {
	processor   Processor
	onError     ErrorFunc
	maxAttempts int
	backoffBase time.Duration
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	messages   []*Message
	processing bool
	gen        int // bumped by ClearAll; abandons stale workers
	waiters    []chan struct{}
}

func New(cfg Config) *Queue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		processor:   cfg.Processor,
		onError:     cfg.OnError,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		logger:      cfg.Logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Enqueue accepts any content, appends it as pending, and returns the new
// message ID immediately. The worker starts if it is idle.
func (q *Queue) Enqueue(content, model string, attachments []string) string {
	msg := &Message{
		ID:          uuid.NewString(),
		Content:     content,
		Model:       model,
		Attachments: attachments,
		Status:      StatusPending,
		EnqueuedAt:  time.Now(),
	}

	q.mu.Lock()
	q.messages = append(q.messages, msg)
	q.updateDepthLocked()
	start := !q.processing && q.ctx.Err() == nil
	if start {
		q.processing = true
	}
	gen := q.gen
	q.mu.Unlock()

	if start {
		go q.run(gen)
	}
	return msg.ID
}

// Dequeue removes a message and reports success. Only a still-pending
// message can be removed; processing and terminal messages stay.
func (q *Queue) Dequeue(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, m := range q.messages {
		if m.ID == id {
			if m.Status != StatusPending {
				return false
			}
			q.messages = append(q.messages[:i], q.messages[i+1:]...)
			q.updateDepthLocked()
			return true
		}
	}
	return false
}

// HasDuplicatePending reports whether a pending message with identical
// content is already queued. Callers use it to suppress double submits.
func (q *Queue) HasDuplicatePending(content string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, m := range q.messages {
		if m.Status == StatusPending && m.Content == content {
			return true
		}
	}
	return false
}

// Messages returns a snapshot of the queue, oldest first.
func (q *Queue) Messages() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Message, len(q.messages))
	for i, m := range q.messages {
		out[i] = *m
	}
	return out
}

// Message returns a snapshot of one message by ID.
func (q *Queue) Message(id string) (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, m := range q.messages {
		if m.ID == id {
			return *m, true
		}
	}
	return Message{}, false
}

// WaitForCompletion blocks until the worker goes idle: every message
// reachable at the time of the call has reached a terminal state. Messages
// enqueued afterwards are not waited on.
func (q *Queue) WaitForCompletion(ctx context.Context) error {
	q.mu.Lock()
	if !q.processing {
		q.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	q.waiters = append(q.waiters, ch)
	q.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ClearSent drops terminal sent messages and returns how many were removed.
func (q *Queue) ClearSent() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.messages[:0]
	removed := 0
	for _, m := range q.messages {
		if m.Status == StatusSent {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	q.messages = kept
	q.updateDepthLocked()
	return removed
}

// ClearAll drops every message and resets the worker bookkeeping. An
// in-flight processor call is not cancelled; its worker abandons the queue
// when it returns.
func (q *Queue) ClearAll() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.messages = nil
	q.processing = false
	q.gen++
	q.updateDepthLocked()
	q.notifyIdleLocked()
}

// Close stops the worker. Pending messages stay queued but are no longer
// processed.
func (q *Queue) Close() {
	q.cancel()
}

// run is the single worker loop. Only one run goroutine is live per
// generation, guarded by the processing flag.
func (q *Queue) run(gen int) {
	for {
		q.mu.Lock()
		if q.gen != gen {
			// ClearAll happened while we were delivering; the queue
			// bookkeeping is no longer ours to touch.
			q.mu.Unlock()
			return
		}
		msg := q.firstPendingLocked()
		if msg == nil || q.ctx.Err() != nil {
			q.processing = false
			q.notifyIdleLocked()
			q.mu.Unlock()
			return
		}
		msg.Status = StatusProcessing
		msg.Attempts++
		attempt := msg.Attempts
		snapshot := *msg
		q.updateDepthLocked()
		q.mu.Unlock()

		err := q.processor(q.ctx, snapshot)

		q.mu.Lock()
		stale := q.gen != gen
		var failed Message
		var callErr error
		switch {
		case err == nil:
			msg.Status = StatusSent
			msg.LastError = ""
			metrics.QueueSent.Inc()
		case attempt >= q.maxAttempts:
			msg.Status = StatusFailed
			msg.LastError = err.Error()
			metrics.QueueFailed.Inc()
			failed = *msg
			callErr = err
		default:
			msg.Status = StatusPending
			msg.LastError = err.Error()
		}
		q.updateDepthLocked()
		q.mu.Unlock()

		if callErr != nil {
			q.logger.Error("message delivery exhausted retries",
				"id", failed.ID, "attempts", failed.Attempts, "err", callErr)
			if q.onError != nil && !stale {
				q.onError(failed, callErr)
			}
		}
		if stale {
			return
		}

		if err != nil && attempt < q.maxAttempts {
			// Backoff blocks the whole queue: the single-worker design is
			// the retry rate limit.
			delay := time.Duration(1<<attempt) * q.backoffBase
			q.logger.Warn("message delivery failed, will retry",
				"id", snapshot.ID, "attempt", attempt, "backoff", delay, "err", err)
			select {
			case <-time.After(delay):
			case <-q.ctx.Done():
			}
		}
	}
}

func (q *Queue) firstPendingLocked() *Message {
	for _, m := range q.messages {
		if m.Status == StatusPending {
			return m
		}
	}
	return nil
}

func (q *Queue) updateDepthLocked() {
	var n int64
	for _, m := range q.messages {
		if m.Status == StatusPending {
			n++
		}
	}
	metrics.QueueDepth.Set(n)
}

func (q *Queue) notifyIdleLocked() {
	for _, ch := range q.waiters {
		close(ch)
	}
	q.waiters = nil
}
