package hostui

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/miniapp-host/internal/protocol"
)

type recordingInjector struct {
	mu      sync.Mutex
	scripts []string
}

func (r *recordingInjector) InjectScript(script string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts = append(r.scripts, script)
	return nil
}

func newController(t *testing.T) (*Controller, *[]string) {
	t.Helper()
	var closed []string
	c := New(WithCloseFunc(func(id string) { closed = append(closed, id) }))
	return c, &closed
}

func TestController_Lifecycle(t *testing.T) {
	c, closed := newController(t)
	assert.Equal(t, StateClosed, c.State())
	assert.Empty(t, c.SessionID())

	id := c.Open("https://app.example.com/", nil)
	require.NotEmpty(t, id)
	assert.Equal(t, StateOpening, c.State())
	assert.True(t, c.Loading())
	assert.True(t, c.Status().NavLoading)

	// Network load-end only clears the spinner.
	c.NavigationFinished()
	assert.True(t, c.Loading())
	assert.False(t, c.Status().NavLoading)

	c.MarkReady()
	assert.Equal(t, StateReady, c.State())
	assert.False(t, c.Loading())
	c.MarkReady()
	assert.Equal(t, StateReady, c.State())

	c.RequestClose()
	assert.Equal(t, StateClosed, c.State())
	assert.Empty(t, c.CurrentURL())
	c.RequestClose()
	assert.Equal(t, []string{id}, *closed)
}

func TestController_OpenResetsSessionState(t *testing.T) {
	c, _ := newController(t)

	first := c.Open("https://one.example.com/", nil)
	c.MarkReady()
	c.SetPrimaryButton(protocol.PrimaryButtonState{Text: "Buy", Loading: true, Disabled: true})
	c.OnPrimaryButtonClick(func() {})
	c.OnScroll(300)

	second := c.Open("https://two.example.com/", nil)
	assert.NotEqual(t, first, second)
	assert.Equal(t, protocol.PrimaryButtonState{Hidden: true, Loading: false, Disabled: false, Text: ""}, c.PrimaryButton())
	assert.True(t, c.Loading())
	assert.Zero(t, c.ScrollY())
	assert.Equal(t, "https://two.example.com/", c.CurrentURL())

	c.SetPrimaryButton(protocol.PrimaryButtonState{Text: "Go"})
	assert.False(t, c.ClickPrimaryButton(), "handler from the previous session must not survive")
}

func TestController_PrimaryButtonSlot(t *testing.T) {
	c, _ := newController(t)
	c.Open("https://app.example.com/", nil)
	c.MarkReady()

	var first, second int
	reg1 := c.OnPrimaryButtonClick(func() { first++ })

	assert.False(t, c.ClickPrimaryButton(), "hidden by default")
	c.SetPrimaryButton(protocol.PrimaryButtonState{Text: "Mint"})
	assert.True(t, c.ClickPrimaryButton())
	assert.Equal(t, 1, first)

	reg2 := c.OnPrimaryButtonClick(func() { second++ })
	reg1.Unregister()
	assert.True(t, c.ClickPrimaryButton())
	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)

	c.SetPrimaryButton(protocol.PrimaryButtonState{Text: "Mint", Disabled: true})
	assert.False(t, c.ClickPrimaryButton())
	c.SetPrimaryButton(protocol.PrimaryButtonState{Text: "Mint", Loading: true})
	assert.False(t, c.ClickPrimaryButton())

	c.SetPrimaryButton(protocol.PrimaryButtonState{Text: "Mint"})
	reg2.Unregister()
	assert.False(t, c.ClickPrimaryButton())
	assert.Equal(t, 1, second)
}

func TestController_DragBelowThresholdSpringsBack(t *testing.T) {
	c, closed := newController(t)
	c.Open("https://app.example.com/", nil)
	c.MarkReady()

	require.True(t, c.BeginDrag(RegionHandle, 10))
	c.MoveDrag(60)
	assert.Equal(t, 50.0, c.DragOffset())
	c.MoveDrag(109)
	assert.Equal(t, DragSprangBack, c.EndDrag())

	assert.Equal(t, StateReady, c.State())
	assert.Zero(t, c.DragOffset())
	assert.Empty(t, *closed)
}

func TestController_NewDragStartsAtRest(t *testing.T) {
	c, _ := newController(t)
	c.Open("https://app.example.com/", nil)
	c.MarkReady()

	require.True(t, c.BeginDrag(RegionHandle, 0))
	c.MoveDrag(80)
	require.Equal(t, DragSprangBack, c.EndDrag())

	require.True(t, c.BeginDrag(RegionHandle, 200))
	assert.Zero(t, c.DragOffset())
	c.MoveDrag(230)
	assert.Equal(t, 30.0, c.DragOffset())
}

func TestController_CloseResetsPrimaryButton(t *testing.T) {
	c, _ := newController(t)
	c.Open("https://app.example.com/", nil)
	c.SetPrimaryButton(protocol.PrimaryButtonState{Text: "Mint"})
	require.Equal(t, "Mint", c.Status().PrimaryButton.Text)

	c.RequestClose()
	assert.Equal(t, protocol.DefaultPrimaryButton(), c.Status().PrimaryButton)

	c.Open("https://app.example.com/", nil)
	c.SetPrimaryButton(protocol.PrimaryButtonState{Text: "Buy"})
	require.True(t, c.BeginDrag(RegionHandle, 0))
	c.MoveDrag(150)
	require.Equal(t, DragDismissed, c.EndDrag())
	c.Dismissed()
	assert.Equal(t, protocol.DefaultPrimaryButton(), c.PrimaryButton())
}

func TestController_DragPastThresholdDismissesOnce(t *testing.T) {
	c, closed := newController(t)
	id := c.Open("https://app.example.com/", nil)
	c.MarkReady()

	require.True(t, c.BeginDrag(RegionHandle, 0))
	c.MoveDrag(101)
	assert.Equal(t, DragDismissed, c.EndDrag())
	assert.Equal(t, StateDismissing, c.State())
	assert.Equal(t, []string{id}, *closed)

	// The off-screen animation finishing or a late close request must not
	// invoke the callback again.
	c.RequestClose()
	c.Dismissed()
	assert.Equal(t, StateClosed, c.State())
	assert.Len(t, *closed, 1)
	assert.Equal(t, DragIgnored, c.EndDrag())
}

func TestController_DismissedCompletesAnimation(t *testing.T) {
	c, closed := newController(t)
	c.Open("https://app.example.com/", nil)

	require.True(t, c.BeginDrag(RegionHandle, 0))
	c.MoveDrag(250)
	require.Equal(t, DragDismissed, c.EndDrag())
	c.Dismissed()
	assert.Equal(t, StateClosed, c.State())
	assert.Len(t, *closed, 1)
}

func TestController_DragOnlyFromHandle(t *testing.T) {
	c, _ := newController(t)
	assert.False(t, c.BeginDrag(RegionHandle, 0), "closed surface")

	c.Open("https://app.example.com/", nil)
	c.MarkReady()
	assert.False(t, c.BeginDrag(RegionBody, 0))
	c.MoveDrag(500)
	assert.Zero(t, c.DragOffset())
	assert.Equal(t, DragIgnored, c.EndDrag())
	assert.Equal(t, StateReady, c.State())
}

func TestController_DragIsInterruptible(t *testing.T) {
	c, closed := newController(t)
	c.Open("https://app.example.com/", nil)
	c.MarkReady()

	require.True(t, c.BeginDrag(RegionHandle, 100))
	c.MoveDrag(180)
	c.MoveDrag(40)
	assert.Zero(t, c.DragOffset(), "upward drag clamps at rest")
	c.MoveDrag(150)
	c.CancelDrag()
	assert.Zero(t, c.DragOffset())
	assert.Equal(t, DragIgnored, c.EndDrag())
	assert.Empty(t, *closed)
}

func TestController_PushContext(t *testing.T) {
	c, _ := newController(t)
	inj := &recordingInjector{}

	require.NoError(t, c.PushContext(protocol.HostContext{}))
	assert.Empty(t, inj.scripts)

	c.Open("https://app.example.com/", inj)
	hc := protocol.HostContext{User: protocol.UserContext{FID: 42, Username: "alice"}}
	require.NoError(t, c.PushContext(hc))
	require.Len(t, inj.scripts, 1)

	script := inj.scripts[0]
	assert.True(t, strings.HasPrefix(script, "window.__hostContext = "))
	assert.Contains(t, script, "window.__onHostContext(window.__hostContext)")

	raw, _ := json.Marshal(hc)
	assert.Contains(t, script, string(raw))

	c.RequestClose()
	require.NoError(t, c.PushContext(hc))
	assert.Len(t, inj.scripts, 1)
}

func TestController_Status(t *testing.T) {
	c, _ := newController(t)
	id := c.Open("https://app.example.com/", nil)
	c.OnScroll(12)

	raw, err := json.Marshal(c.Status())
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"sessionId": "`+id+`",
		"state": "opening",
		"url": "https://app.example.com/",
		"loading": true,
		"navLoading": true,
		"primaryButton": {"text": "", "loading": false, "disabled": false, "hidden": true},
		"scrollY": 12,
		"offset": 0
	}`, string(raw))
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StateClosed, StateOpening))
	assert.False(t, CanTransition(StateClosed, StateReady))
	assert.False(t, CanTransition(StateClosed, StateClosed))
	assert.True(t, CanTransition(StateReady, StateDismissing))
	assert.False(t, CanTransition(StateDismissing, StateReady))
}
