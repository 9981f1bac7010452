package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/opencomm/opdesk/internal/status"
	"github.com/rivo/tview"
)

// StatusBar displays the profile, connection state and transient messages.
type StatusBar struct {
	*tview.TextView
	profile string
	conn    status.State
	hints   []string
	flash   string
	flashEr bool
}

// NewStatusBar creates the status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv, conn: status.Idle}
}

// SetProfile updates the profile name display.
func (sb *StatusBar) SetProfile(name string) {
	sb.profile = name
	sb.render()
}

// SetConnection updates the realtime link indicator.
func (sb *StatusBar) SetConnection(s status.State) {
	sb.conn = s
	sb.render()
}

// SetHints updates the keybinding hints for the current view.
func (sb *StatusBar) SetHints(hints []string) {
	sb.hints = hints
	sb.render()
}

// SetFlash sets a transient message.
func (sb *StatusBar) SetFlash(msg string, isErr bool) {
	sb.flash = msg
	sb.flashEr = isErr
	sb.render()
}

func connColor(s status.State) string {
	switch s {
	case status.Live:
		return "green"
	case status.Connecting, status.Reconnecting:
		return "orange"
	case status.Degraded, status.Closed:
		return "red"
	default:
		return "gray"
	}
}

func (sb *StatusBar) render() {
	sb.Clear()

	line := fmt.Sprintf(" [::b]%s[-:-:-] | [%s]%s[-] | %s",
		sb.profile, connColor(sb.conn), sb.conn, time.Now().Format("15:04"))
	if len(sb.hints) > 0 {
		line += " | [::d]" + strings.Join(sb.hints, "  ") + "[-:-:-]"
	}
	if sb.flash != "" {
		color := "yellow"
		if sb.flashEr {
			color = "red"
		}
		line += fmt.Sprintf(" | [%s]%s[-]", color, tview.Escape(sb.flash))
	}

	_, _ = fmt.Fprint(sb, line)
}
