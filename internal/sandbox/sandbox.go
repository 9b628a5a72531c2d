// Package sandbox runs mini app scripts in an embedded JavaScript runtime
// that talks to the host only through string messages.
package sandbox

import (
	"context"
	_ "embed"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/R3E-Network/miniapp-host/internal/logging"
)

// MaxScriptSize bounds a loaded mini app script.
const MaxScriptSize = 1 << 20

// ErrClosed is returned when the sandbox has stopped.
var ErrClosed = stderrors.New("sandbox closed")

//go:embed shim.js
var shim string

// Direction of a transcript entry.
const (
	Outbound = "content->host"
	Inbound  = "host->content"
	Injected = "injected"
)

// Entry is one line of the message transcript.
type Entry struct {
	Direction string `json:"direction"`
	Frame     string `json:"frame"`
}

// Option configures a Sandbox.
type Option func(*Sandbox)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Sandbox) { s.logger = l }
}

// Sandbox owns one goja runtime and the event loop driving it. Everything
// touching the runtime runs on the loop goroutine.
type Sandbox struct {
	vm       *goja.Runtime
	jobs     chan func()
	handlers []goja.Callable
	deliver  func(string)
	logger   *logging.Logger

	mu         sync.Mutex
	logs       []string
	transcript []Entry
	errs       []error

	done      chan struct{}
	closeOnce sync.Once
}

// New builds a sandbox with the bridge, console, timer and miniapp globals
// installed.
func New(opts ...Option) (*Sandbox, error) {
	s := &Sandbox{
		vm:     goja.New(),
		jobs:   make(chan func(), 256),
		logger: logging.NewDiscard(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.install(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sandbox) install() error {
	vm := s.vm
	if err := vm.Set("window", vm.GlobalObject()); err != nil {
		return fmt.Errorf("set window: %w", err)
	}

	bridge := vm.NewObject()
	_ = bridge.Set("postMessage", func(call goja.FunctionCall) goja.Value {
		frame := call.Argument(0).String()
		s.record(Outbound, frame)
		if s.deliver != nil {
			s.deliver(frame)
		}
		return goja.Undefined()
	})
	_ = bridge.Set("onMessage", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(vm.NewTypeError("onMessage expects a function"))
		}
		s.handlers = append(s.handlers, fn)
		return goja.Undefined()
	})
	if err := vm.Set("bridge", bridge); err != nil {
		return fmt.Errorf("set bridge: %w", err)
	}

	console := vm.NewObject()
	_ = console.Set("log", func(call goja.FunctionCall) goja.Value {
		args := make([]interface{}, len(call.Arguments))
		for i, arg := range call.Arguments {
			args[i] = arg.Export()
		}
		line := fmt.Sprint(args...)
		s.mu.Lock()
		s.logs = append(s.logs, line)
		s.mu.Unlock()
		s.logger.WithField("source", "content").Debug(line)
		return goja.Undefined()
	})
	if err := vm.Set("console", console); err != nil {
		return fmt.Errorf("set console: %w", err)
	}

	if err := vm.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(vm.NewTypeError("setTimeout expects a function"))
		}
		delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
		time.AfterFunc(delay, func() {
			s.enqueue(func() {
				if _, err := fn(goja.Undefined()); err != nil {
					s.fail(fmt.Errorf("timer: %w", err))
				}
			})
		})
		return goja.Undefined()
	}); err != nil {
		return fmt.Errorf("set setTimeout: %w", err)
	}

	if _, err := vm.RunString(shim); err != nil {
		return fmt.Errorf("install shim: %w", err)
	}
	return nil
}

// Attach routes frames posted by content to deliver. It must be called
// before Run.
func (s *Sandbox) Attach(deliver func(string)) {
	s.deliver = deliver
}

// Send delivers a host frame to every bridge.onMessage handler.
func (s *Sandbox) Send(frame string) error {
	s.record(Inbound, frame)
	return s.enqueue(func() {
		arg := s.vm.ToValue(frame)
		for _, h := range s.handlers {
			if _, err := h(goja.Undefined(), arg); err != nil {
				s.fail(fmt.Errorf("onMessage handler: %w", err))
			}
		}
	})
}

// InjectScript evaluates script in the content's global scope.
func (s *Sandbox) InjectScript(script string) error {
	s.record(Injected, script)
	return s.enqueue(func() {
		if _, err := s.vm.RunString(script); err != nil {
			s.fail(fmt.Errorf("injected script: %w", err))
		}
	})
}

func (s *Sandbox) enqueue(job func()) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.jobs <- job:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// Run evaluates script and then serves the event loop until Close or ctx is
// done. A failing top-level script ends the run with its error.
func (s *Sandbox) Run(ctx context.Context, script string) error {
	if len(script) > MaxScriptSize {
		return fmt.Errorf("script exceeds maximum size of %d bytes", MaxScriptSize)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.vm.Interrupt("execution cancelled")
		case <-s.done:
		case <-stop:
		}
	}()

	if _, err := s.vm.RunString(script); err != nil {
		return fmt.Errorf("script error: %w", err)
	}

	for {
		select {
		case <-s.done:
			return nil
		case <-ctx.Done():
			s.Close()
			return ctx.Err()
		case job := <-s.jobs:
			job()
		}
	}
}

// Close stops the event loop. Pending jobs are discarded.
func (s *Sandbox) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Done is closed once the sandbox stops.
func (s *Sandbox) Done() <-chan struct{} { return s.done }

func (s *Sandbox) record(direction, frame string) {
	s.mu.Lock()
	s.transcript = append(s.transcript, Entry{Direction: direction, Frame: frame})
	s.mu.Unlock()
}

func (s *Sandbox) fail(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
	s.logger.WithError(err).Warn("content error")
}

// Logs returns console output.
func (s *Sandbox) Logs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.logs...)
}

// Transcript returns every frame exchanged so far.
func (s *Sandbox) Transcript() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.transcript...)
}

// Errors returns exceptions raised by handlers, timers and injected scripts.
func (s *Sandbox) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}
