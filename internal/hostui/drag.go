package hostui

import "github.com/R3E-Network/miniapp-host/internal/protocol"

// DismissThreshold is the downward drag, in logical pixels, past which a
// release dismisses the surface.
const DismissThreshold = 100.0

// Region is where a touch started.
type Region int

const (
	RegionBody Region = iota
	RegionHandle
)

// DragOutcome is the result of releasing a drag.
type DragOutcome int

const (
	DragIgnored DragOutcome = iota
	DragSprangBack
	DragDismissed
)

func (o DragOutcome) String() string {
	switch o {
	case DragSprangBack:
		return "sprang_back"
	case DragDismissed:
		return "dismissed"
	default:
		return "ignored"
	}
}

type drag struct {
	active bool
	startY float64
	offset float64
}

// BeginDrag starts tracking a touch at y. Only touches on the handle region
// of an open surface are tracked; body touches stay with the content.
func (c *Controller) BeginDrag(region Region, y float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if region != RegionHandle || (c.state != StateOpening && c.state != StateReady) {
		return false
	}
	c.drag = drag{active: true, startY: y}
	return true
}

// MoveDrag updates the displacement. Upward movement clamps at rest.
func (c *Controller) MoveDrag(y float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.drag.active {
		return
	}
	dy := y - c.drag.startY
	if dy < 0 {
		dy = 0
	}
	c.drag.offset = dy
}

// EndDrag releases the gesture. Past the threshold the surface moves to
// Dismissing and the close callback runs immediately; otherwise it springs
// back to rest.
func (c *Controller) EndDrag() DragOutcome {
	c.mu.Lock()
	if !c.drag.active {
		c.mu.Unlock()
		return DragIgnored
	}
	c.drag.active = false

	if c.drag.offset <= DismissThreshold {
		c.drag.offset = 0
		c.mu.Unlock()
		return DragSprangBack
	}

	c.transitionLocked(StateDismissing)
	fire := c.takeCloseLocked()
	c.mu.Unlock()
	fire()
	return DragDismissed
}

// CancelDrag abandons the gesture without dismissing.
func (c *Controller) CancelDrag() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drag = drag{}
}

// Dismissed completes the off-screen animation that follows a committed drag.
func (c *Controller) Dismissed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDismissing && c.transitionLocked(StateClosed) {
		c.drag = drag{}
		c.button = protocol.DefaultPrimaryButton()
	}
}

// DragOffset is the surface's current vertical displacement.
func (c *Controller) DragOffset() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drag.offset
}
