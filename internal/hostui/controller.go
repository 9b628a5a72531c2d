// Package hostui is the host-side controller for one embedded-content
// surface: load state, primary button, drag-to-dismiss and context pushes.
package hostui

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/R3E-Network/miniapp-host/internal/logging"
	"github.com/R3E-Network/miniapp-host/internal/protocol"
)

// ScriptInjector evaluates a script inside the content's execution context
// out of band from the transport.
type ScriptInjector interface {
	InjectScript(script string) error
}

// CloseFunc is called once per session when it starts closing.
type CloseFunc func(sessionID string)

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithCloseFunc sets the close callback.
func WithCloseFunc(fn CloseFunc) Option {
	return func(c *Controller) { c.onClose = fn }
}

// Status is a point-in-time view of the controller.
type Status struct {
	SessionID     string                      `json:"sessionId"`
	State         State                       `json:"state"`
	URL           string                      `json:"url,omitempty"`
	Loading       bool                        `json:"loading"`
	NavLoading    bool                        `json:"navLoading"`
	PrimaryButton protocol.PrimaryButtonState `json:"primaryButton"`
	ScrollY       float64                     `json:"scrollY"`
	Offset        float64                     `json:"offset"`
}

// Controller owns the Host UI state for one surface. All methods are safe
// for concurrent use; callbacks run without the lock held.
type Controller struct {
	mu sync.Mutex

	state      State
	sessionID  string
	url        string
	navLoading bool
	button     protocol.PrimaryButtonState
	scrollY    float64

	click    *ClickRegistration
	drag     drag
	injector ScriptInjector

	closeFired bool
	onClose    CloseFunc
	logger     *logging.Logger
}

// New returns a closed controller.
func New(opts ...Option) *Controller {
	c := &Controller{
		state:  StateClosed,
		button: protocol.DefaultPrimaryButton(),
		logger: logging.NewDiscard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open starts a new session on url and returns its id. Any previous session
// state is discarded: the primary button returns to its default and loading
// is set again.
func (c *Controller) Open(url string, injector ScriptInjector) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessionID = uuid.NewString()
	c.transitionLocked(StateOpening)
	c.url = url
	c.navLoading = true
	c.button = protocol.DefaultPrimaryButton()
	c.scrollY = 0
	c.click = nil
	c.drag = drag{}
	c.injector = injector
	c.closeFired = false

	c.logger.WithFields(map[string]interface{}{
		"session_id": c.sessionID,
		"url":        url,
	}).Debug("surface opening")
	return c.sessionID
}

// SessionID is the current session id, empty when closed.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return ""
	}
	return c.sessionID
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Loading is true until the content signals readiness.
func (c *Controller) Loading() bool {
	return c.State() == StateOpening
}

// NavigationFinished records network load-end. It only drives the spinner
// overlay; readiness comes from MarkReady.
func (c *Controller) NavigationFinished() {
	c.mu.Lock()
	c.navLoading = false
	c.mu.Unlock()
}

// MarkReady handles the content's load-completion signal.
func (c *Controller) MarkReady() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateOpening {
		c.transitionLocked(StateReady)
	}
}

// RequestClose closes the surface immediately.
func (c *Controller) RequestClose() {
	c.mu.Lock()
	if !c.transitionLocked(StateClosed) {
		c.mu.Unlock()
		return
	}
	c.drag = drag{}
	c.button = protocol.DefaultPrimaryButton()
	fire := c.takeCloseLocked()
	c.mu.Unlock()
	fire()
}

func (c *Controller) transitionLocked(to State) bool {
	if !CanTransition(c.state, to) {
		return false
	}
	c.logger.WithFields(map[string]interface{}{
		"session_id": c.sessionID,
		"from":       c.state.String(),
		"to":         to.String(),
	}).Debug("surface state changed")
	c.state = to
	return true
}

// takeCloseLocked returns the close callback for the current session, or a
// no-op if it already fired.
func (c *Controller) takeCloseLocked() func() {
	if c.closeFired || c.onClose == nil {
		c.closeFired = true
		return func() {}
	}
	c.closeFired = true
	fn, id := c.onClose, c.sessionID
	return func() { fn(id) }
}

// CurrentURL is the URL of the open session.
func (c *Controller) CurrentURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return ""
	}
	return c.url
}

// SetCurrentURL switches the open session to url.
func (c *Controller) SetCurrentURL(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateClosed {
		c.url = url
	}
}

// SetPrimaryButton replaces the primary button state.
func (c *Controller) SetPrimaryButton(state protocol.PrimaryButtonState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.button = state
}

// PrimaryButton returns the primary button state.
func (c *Controller) PrimaryButton() protocol.PrimaryButtonState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.button
}

// ClickRegistration owns the primary button click slot until unregistered
// or replaced.
type ClickRegistration struct {
	c  *Controller
	fn func()
}

// Unregister frees the slot if r still owns it.
func (r *ClickRegistration) Unregister() {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	if r.c.click == r {
		r.c.click = nil
	}
}

// OnPrimaryButtonClick installs fn as the click handler, replacing any
// previous owner.
func (c *Controller) OnPrimaryButtonClick(fn func()) *ClickRegistration {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := &ClickRegistration{c: c, fn: fn}
	c.click = r
	return r
}

// ClickPrimaryButton delivers a user click. It reports whether a handler ran;
// hidden, disabled or loading buttons ignore clicks.
func (c *Controller) ClickPrimaryButton() bool {
	c.mu.Lock()
	b := c.button
	reg := c.click
	open := c.state == StateOpening || c.state == StateReady
	c.mu.Unlock()

	if !open || reg == nil || b.Hidden || b.Disabled || b.Loading {
		return false
	}
	reg.fn()
	return true
}

// OnScroll records the content's scroll offset.
func (c *Controller) OnScroll(y float64) {
	c.mu.Lock()
	c.scrollY = y
	c.mu.Unlock()
}

// ScrollY is the last reported scroll offset.
func (c *Controller) ScrollY() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scrollY
}

// PushContext injects hc into the open session. The content reads it from
// window.__hostContext and is notified through window.__onHostContext.
func (c *Controller) PushContext(hc protocol.HostContext) error {
	c.mu.Lock()
	injector := c.injector
	open := c.state != StateClosed
	c.mu.Unlock()
	if !open || injector == nil {
		return nil
	}

	raw, err := json.Marshal(hc)
	if err != nil {
		return fmt.Errorf("encode host context: %w", err)
	}
	if err := injector.InjectScript(ContextScript(raw)); err != nil {
		return fmt.Errorf("inject host context: %w", err)
	}
	return nil
}

// ContextScript is the injected script for a serialized host context.
func ContextScript(contextJSON []byte) string {
	return fmt.Sprintf("window.__hostContext = %s;\n"+
		"if (typeof window.__onHostContext === 'function') { window.__onHostContext(window.__hostContext); }",
		contextJSON)
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		SessionID:     c.sessionID,
		State:         c.state,
		URL:           c.url,
		Loading:       c.state == StateOpening,
		NavLoading:    c.navLoading,
		PrimaryButton: c.button,
		ScrollY:       c.scrollY,
		Offset:        c.drag.offset,
	}
}
