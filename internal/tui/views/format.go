package views

import (
	"strings"
	"time"

	"github.com/opencomm/opdesk/internal/store"
)

func formatTimestamp(ms int64) string {
	if ms == 0 {
		return ""
	}
	t := time.UnixMilli(ms)
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}

// statusMark is the delivery indicator appended to outbound messages.
func statusMark(status string) string {
	switch status {
	case store.StatusSending:
		return "[::d]…[-:-:-]"
	case store.StatusSent:
		return "✓"
	case store.StatusDelivered:
		return "✓✓"
	case store.StatusRead:
		return "[aqua]✓✓[-]"
	case store.StatusFailed:
		return "[red]✗[-]"
	default:
		return ""
	}
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
