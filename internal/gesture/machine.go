// Package gesture disambiguates raw pointer/touch input into pan, pinch and
// double-tap intents for the image viewer.
package gesture

import (
	"math"
	"time"
)

// State is the current gesture interpretation.
type State string

const (
	Idle State = "idle"
	Pan  State = "pan"
	// Pinch is claimed the moment a second pointer lands and holds until
	// every pointer lifts.
	Pinch State = "pinch"
	// DoubleTap is the post-recognition cooldown during which all input is
	// swallowed, so a stray third tap cannot re-toggle the zoom.
	DoubleTap State = "doubletap"
)

// Tuning constants.
const (
	// PanThreshold is the distance in pixels a single pointer must travel
	// before the gesture is treated as a drag rather than a tap.
	PanThreshold = 10.0
	// DoubleTapWindow is the maximum gap between two taps.
	DoubleTapWindow = 300 * time.Millisecond
	// DoubleTapCooldown swallows input after a recognized double tap.
	DoubleTapCooldown = 600 * time.Millisecond
	// MomentumDecay is the per-frame velocity multiplier after release.
	MomentumDecay = 0.92
)

// Intent is what the machine asks the viewer to do in response to one event.
type Intent struct {
	// Pan deltas, valid while in the Pan state.
	PanDX, PanDY float64
	// Zoom is the pinch scale factor relative to the previous event
	// (1 when not pinching).
	Zoom float64
	// ZoomCX, ZoomCY is the pinch midpoint the zoom is anchored to.
	ZoomCX, ZoomCY float64
	// ToggleZoom is set when a double tap is recognized.
	ToggleZoom bool
	// ToggleX, ToggleY is where the double tap landed.
	ToggleX, ToggleY float64
}

type pointer struct {
	x, y float64
}

// Machine interprets a pointer event stream. Not safe for concurrent use;
// drive it from the input loop.
type Machine struct {
	state    State
	pointers map[int]pointer

	// Tap tracking.
	pressX, pressY float64
	lastTapTime    time.Time
	cooldownUntil  time.Time

	// Pan tracking for momentum.
	lastMoveTime time.Time
	velX, velY   float64

	// Pinch tracking.
	lastSpan float64
}

// NewMachine creates a machine in the Idle state.
func NewMachine() *Machine {
	return &Machine{
		state:    Idle,
		pointers: make(map[int]pointer),
	}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// PointerDown feeds a press for pointer id at (x, y).
func (m *Machine) PointerDown(id int, x, y float64, at time.Time) Intent {
	if m.swallowing(at) {
		return Intent{Zoom: 1}
	}
	m.pointers[id] = pointer{x, y}

	if len(m.pointers) >= 2 {
		// Second pointer claims pinch for the rest of the gesture,
		// regardless of what the first pointer was doing.
		m.state = Pinch
		m.lastSpan = m.span()
		m.velX, m.velY = 0, 0
		return Intent{Zoom: 1}
	}

	m.pressX, m.pressY = x, y
	m.velX, m.velY = 0, 0
	return Intent{Zoom: 1}
}

// PointerMove feeds a move for pointer id to (x, y).
func (m *Machine) PointerMove(id int, x, y float64, at time.Time) Intent {
	if m.swallowing(at) {
		return Intent{Zoom: 1}
	}
	prev, ok := m.pointers[id]
	if !ok {
		return Intent{Zoom: 1}
	}
	m.pointers[id] = pointer{x, y}

	switch m.state {
	case Pinch:
		span := m.span()
		zoom := 1.0
		if m.lastSpan > 0 && span > 0 {
			zoom = span / m.lastSpan
		}
		m.lastSpan = span
		cx, cy := m.midpoint()
		return Intent{Zoom: zoom, ZoomCX: cx, ZoomCY: cy}

	case Pan:
		dx, dy := x-prev.x, y-prev.y
		m.trackVelocity(dx, dy, at)
		return Intent{PanDX: dx, PanDY: dy, Zoom: 1}

	case Idle:
		if dist(x, y, m.pressX, m.pressY) > PanThreshold {
			// The drag claims pan and cancels tap detection.
			m.state = Pan
			m.lastTapTime = time.Time{}
			dx, dy := x-prev.x, y-prev.y
			m.trackVelocity(dx, dy, at)
			return Intent{PanDX: dx, PanDY: dy, Zoom: 1}
		}
	}
	return Intent{Zoom: 1}
}

// PointerUp feeds a release for pointer id.
func (m *Machine) PointerUp(id int, x, y float64, at time.Time) Intent {
	if m.swallowing(at) {
		delete(m.pointers, id)
		return Intent{Zoom: 1}
	}
	delete(m.pointers, id)

	switch m.state {
	case Pinch:
		if len(m.pointers) == 0 {
			m.state = Idle
		}
		return Intent{Zoom: 1}

	case Pan:
		if len(m.pointers) == 0 {
			m.state = Idle
			// Momentum keeps the tracked velocity; Step decays it.
		}
		return Intent{Zoom: 1}

	case Idle:
		// A short press that never moved past the threshold is a tap.
		if !m.lastTapTime.IsZero() && at.Sub(m.lastTapTime) <= DoubleTapWindow {
			m.lastTapTime = time.Time{}
			m.state = DoubleTap
			m.cooldownUntil = at.Add(DoubleTapCooldown)
			return Intent{ToggleZoom: true, ToggleX: x, ToggleY: y, Zoom: 1}
		}
		m.lastTapTime = at
	}
	return Intent{Zoom: 1}
}

// Step advances post-release momentum by one frame and returns the pan delta
// to apply. Returns false once the velocity has decayed away.
func (m *Machine) Step() (dx, dy float64, ok bool) {
	if m.state != Idle {
		return 0, 0, false
	}
	m.velX *= MomentumDecay
	m.velY *= MomentumDecay
	if math.Abs(m.velX) < 0.1 && math.Abs(m.velY) < 0.1 {
		m.velX, m.velY = 0, 0
		return 0, 0, false
	}
	return m.velX, m.velY, true
}

// swallowing reports whether input is still inside the double-tap cooldown,
// leaving the cooldown when it has expired.
func (m *Machine) swallowing(at time.Time) bool {
	if m.state != DoubleTap {
		return false
	}
	if at.Before(m.cooldownUntil) {
		return true
	}
	m.state = Idle
	m.pointers = make(map[int]pointer)
	return false
}

func (m *Machine) trackVelocity(dx, dy float64, at time.Time) {
	// Velocity is per-frame; approximate a frame as the gap between moves
	// clamped to something sane so a long pause does not explode it.
	if !m.lastMoveTime.IsZero() {
		gap := at.Sub(m.lastMoveTime)
		if gap > 0 && gap < 100*time.Millisecond {
			m.velX, m.velY = dx, dy
		}
	} else {
		m.velX, m.velY = dx, dy
	}
	m.lastMoveTime = at
}

func (m *Machine) span() float64 {
	pts := make([]pointer, 0, 2)
	for _, p := range m.pointers {
		pts = append(pts, p)
		if len(pts) == 2 {
			break
		}
	}
	if len(pts) < 2 {
		return 0
	}
	return dist(pts[0].x, pts[0].y, pts[1].x, pts[1].y)
}

func (m *Machine) midpoint() (float64, float64) {
	var sx, sy float64
	n := 0
	for _, p := range m.pointers {
		sx += p.x
		sy += p.y
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return sx / float64(n), sy / float64(n)
}

func dist(x1, y1, x2, y2 float64) float64 {
	return math.Hypot(x2-x1, y2-y1)
}
