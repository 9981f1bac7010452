package views

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/opencomm/opdesk/internal/store"
	"github.com/opencomm/opdesk/internal/tui/ui"
	"github.com/rivo/tview"
)

// Inbox is the conversation list view.
type Inbox struct {
	*tview.Table
	theme  *ui.Theme
	convs  []store.Conversation
	filter string
}

// NewInbox creates the conversation list table.
func NewInbox(theme *ui.Theme) *Inbox {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitle(" Inbox ")
	table.SetTitleColor(theme.TitleColor)

	return &Inbox{Table: table, theme: theme}
}

// Name implements Component.
func (in *Inbox) Name() string { return "Inbox" }

// Hints implements Component.
func (in *Inbox) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Open"},
		{Key: "/", Description: "Filter"},
		{Key: "s", Description: "Search"},
		{Key: "R", Description: "Refresh"},
		{Key: "q", Description: "Quit"},
	}
}

// Update refreshes the list with new data.
func (in *Inbox) Update(convs []store.Conversation) {
	in.convs = convs
	in.render()
}

// SetFilter sets the active filter text and re-renders.
func (in *Inbox) SetFilter(filter string) {
	in.filter = filter
	in.render()
}

// ClearFilter clears the active filter.
func (in *Inbox) ClearFilter() {
	in.filter = ""
	in.render()
}

func (in *Inbox) visible(c *store.Conversation) bool {
	if in.filter == "" {
		return true
	}
	return containsFold(c.Name, in.filter) ||
		containsFold(c.Phone, in.filter) ||
		containsFold(c.LastMessagePreview, in.filter)
}

func (in *Inbox) render() {
	in.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{" NAME", 1},
		{" LAST MESSAGE", 2},
		{" TIME", 0},
		{" PRIO", 0},
	}
	for col, h := range headers {
		cell := tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(in.theme.TableHeaderFg).
			SetBackgroundColor(in.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp)
		in.SetCell(0, col, cell)
	}

	row := 1
	for i := range in.convs {
		c := &in.convs[i]
		if !in.visible(c) {
			continue
		}

		name := c.Name
		if name == "" {
			name = c.Phone
		}
		nameColor := in.theme.FgColor
		if c.UnreadCount > 0 {
			name = fmt.Sprintf("(%d) %s", c.UnreadCount, name)
			nameColor = in.theme.UnreadColor
		}

		prio := c.Priority
		prioColor := in.theme.FgColor
		if prio == "high" || prio == "urgent" {
			prioColor = in.theme.PriorityColor
		}

		in.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(name))).SetExpansion(1).SetTextColor(nameColor))
		in.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(c.LastMessagePreview))).SetExpansion(2).SetTextColor(in.theme.FgColor))
		in.SetCell(row, 2, tview.NewTableCell(formatTimestamp(c.LastMessageAt)).SetExpansion(0).SetTextColor(in.theme.FgColor).SetAlign(tview.AlignRight))
		in.SetCell(row, 3, tview.NewTableCell(prio).SetExpansion(0).SetTextColor(prioColor).SetAlign(tview.AlignRight))
		row++
	}

	if in.filter != "" {
		in.SetTitle(fmt.Sprintf(" Inbox (%d/%d) filter: %s ", row-1, len(in.convs), in.filter))
	} else {
		in.SetTitle(fmt.Sprintf(" Inbox (%d) ", len(in.convs)))
	}
}

// Selected returns the ID of the currently selected conversation.
func (in *Inbox) Selected() string {
	row, _ := in.GetSelection()
	idx := row - 1 // header
	if idx < 0 {
		return ""
	}
	visible := 0
	for i := range in.convs {
		if !in.visible(&in.convs[i]) {
			continue
		}
		if visible == idx {
			return in.convs[i].ID
		}
		visible++
	}
	return ""
}
