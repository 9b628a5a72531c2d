// Package audit records signing, confirmation and transaction events without
// blocking the capability that produced them.
package audit

import (
	"context"
	"fmt"
	mathrand "math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	DefaultBuffer  = 1024
	DefaultTimeout = 5 * time.Second
)

// Outcomes.
const (
	OutcomeApproved = "approved"
	OutcomeRejected = "rejected"
	OutcomeSigned   = "signed"
	OutcomeSent     = "sent"
	OutcomeFailed   = "failed"
)

// Event is one audit record.
type Event struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"time"`
	Session string    `json:"session,omitempty"`
	Domain  string    `json:"domain,omitempty"`
	Method  string    `json:"method"`
	Outcome string    `json:"outcome"`
	Address string    `json:"address,omitempty"`
	TxHash  string    `json:"tx_hash,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}

// Sink persists or forwards events.
type Sink interface {
	Write(ctx context.Context, event Event) error
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// NewID returns a time-ordered event id.
func NewID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Logger queues events for a background writer. The zero value and a nil
// *Logger discard everything.
type Logger struct {
	sink    Sink
	timeout time.Duration
	now     func() time.Time

	mu      sync.RWMutex
	queue   chan Event
	once    sync.Once
	stopped bool
	dropped atomic.Uint64
	failed  atomic.Uint64

	wg sync.WaitGroup
}

// NewLogger creates a Logger writing to sink. buffer bounds the queue.
func NewLogger(sink Sink, buffer int, timeout time.Duration) *Logger {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Logger{
		sink:    sink,
		timeout: timeout,
		now:     time.Now,
		queue:   make(chan Event, buffer),
	}
}

func (l *Logger) Start() {
	if l == nil || l.queue == nil {
		return
	}
	l.once.Do(func() {
		l.wg.Add(1)
		go l.run()
	})
}

// Stop closes the queue and waits for queued events to be written.
func (l *Logger) Stop(ctx context.Context) error {
	if l == nil || l.queue == nil {
		return nil
	}
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return nil
	}
	l.stopped = true
	close(l.queue)
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit stop: %w", ctx.Err())
	}
}

// Dropped counts events discarded because the queue was full.
func (l *Logger) Dropped() uint64 {
	if l == nil {
		return 0
	}
	return l.dropped.Load()
}

// Failed counts events the sink rejected.
func (l *Logger) Failed() uint64 {
	if l == nil {
		return 0
	}
	return l.failed.Load()
}

// Log stamps and enqueues an event. It never blocks; events are dropped
// when the queue is full or the logger is stopped.
func (l *Logger) Log(event Event) bool {
	if l == nil || l.queue == nil {
		return false
	}
	if event.Time.IsZero() {
		event.Time = l.now().UTC()
	}
	if event.ID == "" {
		event.ID = NewID(event.Time)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.stopped {
		return false
	}
	select {
	case l.queue <- event:
		return true
	default:
		l.dropped.Add(1)
		return false
	}
}

func (l *Logger) run() {
	defer l.wg.Done()

	for event := range l.queue {
		if l.sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		if err := l.sink.Write(ctx, event); err != nil {
			l.failed.Add(1)
		}
		cancel()
	}
}

// MultiSink writes to every sink and returns the first error.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, event Event) error {
	var first error
	for _, s := range m {
		if err := s.Write(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
