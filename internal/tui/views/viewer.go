package views

import (
	"fmt"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/opencomm/opdesk/internal/gesture"
	"github.com/opencomm/opdesk/internal/media"
	"github.com/opencomm/opdesk/internal/store"
	"github.com/opencomm/opdesk/internal/tui/ui"
	"github.com/rivo/tview"
)

// Zoom bounds for the viewer.
const (
	minZoom = 0.25
	maxZoom = 8.0
	// toggleZoom is the level a double tap zooms to from the fitted view.
	toggleZoom = 2.0
	// wheelZoomStep is the scale factor per scroll wheel notch.
	wheelZoomStep = 1.1
)

// Viewer displays a single media message with pan and zoom driven by the
// gesture machine. Mouse drag pans, the wheel zooms at the cursor, a double
// click toggles between fitted and zoomed.
type Viewer struct {
	*tview.TextView
	theme   *ui.Theme
	machine *gesture.Machine
	redraw  func()

	mu         sync.Mutex
	msg        store.Message
	info       media.Info
	zoom       float64
	offX, offY float64
	dragging   bool
}

// NewViewer creates the media viewer. redraw schedules a repaint on the UI
// thread and must be safe to call from any goroutine.
func NewViewer(theme *ui.Theme, redraw func()) *Viewer {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTitle(" Viewer ")
	tv.SetTitleColor(theme.TitleColor)

	v := &Viewer{
		TextView: tv,
		theme:    theme,
		machine:  gesture.NewMachine(),
		redraw:   redraw,
		zoom:     1,
	}

	tv.SetMouseCapture(v.handleMouse)
	return v
}

// Name implements Component.
func (v *Viewer) Name() string { return "Viewer" }

// Hints implements Component.
func (v *Viewer) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "drag", Description: "Pan"},
		{Key: "wheel", Description: "Zoom"},
		{Key: "dbl-click", Description: "Toggle zoom"},
		{Key: "0", Description: "Reset"},
		{Key: "Esc", Description: "Back"},
	}
}

// Show resets the viewer onto a media message.
func (v *Viewer) Show(m store.Message, info media.Info) {
	v.mu.Lock()
	v.msg = m
	v.info = info
	v.zoom = 1
	v.offX, v.offY = 0, 0
	v.machine = gesture.NewMachine()
	v.mu.Unlock()
	v.render()
}

// Reset returns to the fitted view.
func (v *Viewer) Reset() {
	v.mu.Lock()
	v.zoom = 1
	v.offX, v.offY = 0, 0
	v.mu.Unlock()
	v.render()
}

func (v *Viewer) handleMouse(action tview.MouseAction, event *tcell.EventMouse) (tview.MouseAction, *tcell.EventMouse) {
	x, y := event.Position()
	fx, fy := float64(x), float64(y)
	now := time.Now()

	v.mu.Lock()
	switch action {
	case tview.MouseLeftDown:
		v.dragging = true
		v.apply(v.machine.PointerDown(0, fx, fy, now))

	case tview.MouseMove:
		if v.dragging {
			v.apply(v.machine.PointerMove(0, fx, fy, now))
		}

	case tview.MouseLeftUp:
		v.dragging = false
		intent := v.machine.PointerUp(0, fx, fy, now)
		v.apply(intent)
		if !intent.ToggleZoom {
			go v.runMomentum()
		}

	case tview.MouseScrollUp:
		v.zoomAt(wheelZoomStep, fx, fy)

	case tview.MouseScrollDown:
		v.zoomAt(1/wheelZoomStep, fx, fy)

	default:
		v.mu.Unlock()
		return action, event
	}
	v.mu.Unlock()

	v.render()
	return action, nil
}

// apply folds one gesture intent into the viewport. Caller holds the lock.
func (v *Viewer) apply(intent gesture.Intent) {
	if intent.ToggleZoom {
		if v.zoom > 1 {
			v.zoom = 1
			v.offX, v.offY = 0, 0
		} else {
			v.zoomAt(toggleZoom/v.zoom, intent.ToggleX, intent.ToggleY)
		}
		return
	}
	if intent.Zoom != 0 && intent.Zoom != 1 {
		v.zoomAt(intent.Zoom, intent.ZoomCX, intent.ZoomCY)
	}
	v.offX += intent.PanDX
	v.offY += intent.PanDY
}

// zoomAt scales around (cx, cy) so the point under the cursor stays put.
// Caller holds the lock.
func (v *Viewer) zoomAt(factor, cx, cy float64) {
	next := v.zoom * factor
	if next < minZoom {
		next = minZoom
	}
	if next > maxZoom {
		next = maxZoom
	}
	factor = next / v.zoom
	v.offX = cx + (v.offX-cx)*factor
	v.offY = cy + (v.offY-cy)*factor
	v.zoom = next
}

// runMomentum keeps panning after release until the velocity decays.
func (v *Viewer) runMomentum() {
	ticker := time.NewTicker(16 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		v.mu.Lock()
		if v.dragging {
			v.mu.Unlock()
			return
		}
		dx, dy, ok := v.machine.Step()
		if !ok {
			v.mu.Unlock()
			return
		}
		v.offX += dx
		v.offY += dy
		v.mu.Unlock()

		v.render()
		if v.redraw != nil {
			v.redraw()
		}
	}
}

func (v *Viewer) render() {
	v.mu.Lock()
	msg := v.msg
	info := v.info
	zoom := v.zoom
	offX, offY := v.offX, v.offY
	state := v.machine.State()
	v.mu.Unlock()

	v.Clear()

	url := msg.DisplayURL()
	if url == "" && info.Status == media.StatusReady {
		url = info.URL
	}
	line := fmt.Sprintf("\n  [::b]%s[-:-:-]  %s\n\n", msg.Kind, formatTimestamp(msg.Timestamp))
	switch {
	case url != "":
		line += fmt.Sprintf("  [aqua]%s[-]\n", tview.Escape(url))
	case info.Unavailable:
		line += "  [red]media unavailable[-]\n"
	case info.Status == media.StatusFailed:
		line += "  [orange]resolution failed[-]\n"
	default:
		line += "  [::d]resolving…[-:-:-]\n"
	}
	if msg.Body != "" {
		line += fmt.Sprintf("\n  %s\n", tview.Escape(sanitizeForTerminal(msg.Body)))
	}
	line += fmt.Sprintf("\n  zoom %3.0f%%  pan (%+.0f, %+.0f)  [::d]%s[-:-:-]\n",
		zoom*100, offX, offY, state)
	_, _ = fmt.Fprint(v, line)
}
