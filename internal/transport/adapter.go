// Package transport correlates capability requests with their responses over
// a single string pipe, routes scroll pings to the UI, and emits host events.
package transport

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/R3E-Network/miniapp-host/internal/errors"
	"github.com/R3E-Network/miniapp-host/internal/logging"
	"github.com/R3E-Network/miniapp-host/internal/metrics"
	"github.com/R3E-Network/miniapp-host/internal/protocol"
)

// ErrClosed is returned when sending on a closed adapter.
var ErrClosed = stderrors.New("transport closed")

// Drop reasons reported to metrics.
const (
	DropUnrecognized = "unrecognized"
	DropDuplicateID  = "duplicate_id"
	DropClosed       = "closed"
	DropLateResponse = "late_response"
)

// Pipe carries serialized frames to the embedded content.
type Pipe interface {
	Send(frame string) error
}

// PipeFunc adapts a function to Pipe.
type PipeFunc func(frame string) error

func (f PipeFunc) Send(frame string) error { return f(frame) }

// Dispatcher serves capability calls. The capability registry implements it.
type Dispatcher interface {
	Invoke(ctx context.Context, method string, params json.RawMessage) (interface{}, error)
}

// ScrollSink receives the content's scroll offset.
type ScrollSink interface {
	OnScroll(y float64)
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// WithScrollSink routes scroll pings to s.
func WithScrollSink(s ScrollSink) Option {
	return func(a *Adapter) { a.scroll = s }
}

// WithSessionID tags the adapter context and logs with id.
func WithSessionID(id string) Option {
	return func(a *Adapter) { a.sessionID = id }
}

// Adapter is one session's end of the pipe, bound to a single domain.
type Adapter struct {
	domain     string
	sessionID  string
	pipe       Pipe
	dispatcher Dispatcher
	scroll     ScrollSink
	logger     *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	inflight map[string]struct{}
	closed   bool
	wg       sync.WaitGroup

	sendMu sync.Mutex
}

// NewAdapter binds pipe and dispatcher for domain. Calls run under a context
// derived from parent that is cancelled by Close.
func NewAdapter(parent context.Context, domain string, pipe Pipe, dispatcher Dispatcher, opts ...Option) *Adapter {
	a := &Adapter{
		domain:     domain,
		pipe:       pipe,
		dispatcher: dispatcher,
		logger:     logging.NewDiscard(),
		inflight:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}

	ctx := logging.WithDomain(parent, domain)
	if a.sessionID != "" {
		ctx = logging.WithSessionID(ctx, a.sessionID)
	}
	a.ctx, a.cancel = context.WithCancel(ctx)
	return a
}

// Domain is the hostname the adapter is bound to.
func (a *Adapter) Domain() string { return a.domain }

// Context is the session context; it is done once the adapter closes.
func (a *Adapter) Context() context.Context { return a.ctx }

// Deliver handles one inbound frame. Requests are served concurrently;
// unrecognized frames are dropped without a reply.
func (a *Adapter) Deliver(raw string) {
	in := protocol.Parse(raw)
	switch in.Kind {
	case protocol.KindScroll:
		if a.scroll != nil && !a.isClosed() {
			a.scroll.OnScroll(in.Scroll.ScrollY)
		}
	case protocol.KindRequest:
		a.accept(in.Request)
	default:
		metrics.RecordDroppedMessage(DropUnrecognized)
		a.logger.WithContext(a.ctx).WithField("size", len(raw)).Debug("dropped unrecognized frame")
	}
}

func (a *Adapter) accept(req protocol.Request) {
	key := req.ID.Key()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		metrics.RecordDroppedMessage(DropClosed)
		return
	}
	if _, busy := a.inflight[key]; busy {
		a.mu.Unlock()
		metrics.RecordDroppedMessage(DropDuplicateID)
		a.logger.WithContext(a.ctx).WithField("id", key).Warn("dropped request with in-flight id")
		return
	}
	a.inflight[key] = struct{}{}
	a.wg.Add(1)
	a.mu.Unlock()

	go a.serve(req)
}

func (a *Adapter) serve(req protocol.Request) {
	defer a.wg.Done()

	ctx, after := withAfterReply(logging.WithTraceID(a.ctx, logging.NewTraceID()))
	defer after.run()
	result, err := a.dispatcher.Invoke(ctx, req.Method, req.Params)

	resp := protocol.NewResult(req.ID, result)
	if err != nil {
		resp = protocol.NewError(req.ID, err)
	}
	frame, encErr := protocol.Encode(resp)
	if encErr != nil {
		a.logger.WithContext(ctx).WithError(encErr).WithField("method", req.Method).Error("unencodable result")
		frame, _ = protocol.Encode(protocol.NewError(req.ID, errors.Internal(encErr)))
	}

	a.mu.Lock()
	delete(a.inflight, req.ID.Key())
	a.mu.Unlock()

	switch err := a.send(frame); {
	case stderrors.Is(err, ErrClosed):
		metrics.RecordDroppedMessage(DropLateResponse)
	case err != nil:
		a.logger.WithContext(ctx).WithError(err).WithField("method", req.Method).Warn("response not delivered")
	}
}

type afterReplyKey struct{}

type afterReply struct {
	mu  sync.Mutex
	fns []func()
	ran bool
}

func withAfterReply(ctx context.Context) (context.Context, *afterReply) {
	after := &afterReply{}
	return context.WithValue(ctx, afterReplyKey{}, after), after
}

func (r *afterReply) run() {
	r.mu.Lock()
	fns := r.fns
	r.fns, r.ran = nil, true
	r.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// AfterReply defers fn until the response to the request served with ctx
// has been sent. Outside a served request fn runs immediately.
func AfterReply(ctx context.Context, fn func()) {
	after, ok := ctx.Value(afterReplyKey{}).(*afterReply)
	if ok {
		after.mu.Lock()
		if !after.ran {
			after.fns = append(after.fns, fn)
			after.mu.Unlock()
			return
		}
		after.mu.Unlock()
	}
	fn()
}

// Emit sends a fire-and-forget event.
func (a *Adapter) Emit(name string, data interface{}) error {
	frame, err := protocol.Encode(protocol.NewEvent(name, data))
	if err != nil {
		return err
	}
	return a.send(frame)
}

// send writes one frame. Holding sendMu across the closed check means
// nothing reaches the pipe once Close has returned.
func (a *Adapter) send(frame string) error {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()
	if a.isClosed() {
		return ErrClosed
	}
	if err := a.pipe.Send(frame); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

// InFlight reports the number of requests awaiting a response.
func (a *Adapter) InFlight() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inflight)
}

func (a *Adapter) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// Close stops delivery and cancels the session context. In-flight calls
// observe cancellation; whatever they return is discarded.
func (a *Adapter) Close() {
	a.sendMu.Lock()
	a.mu.Lock()
	already := a.closed
	a.closed = true
	a.mu.Unlock()
	a.sendMu.Unlock()
	if !already {
		a.cancel()
	}
}

// Wait blocks until every accepted request has finished.
func (a *Adapter) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
