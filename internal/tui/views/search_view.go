package views

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/opencomm/opdesk/internal/store"
	"github.com/opencomm/opdesk/internal/tui/ui"
	"github.com/rivo/tview"
)

// SearchView queries the local message cache and lists matches.
type SearchView struct {
	*tview.Flex
	theme   *ui.Theme
	input   *tview.InputField
	results *tview.Table
	matches []store.SearchResult

	onQuery func(query string)
	onOpen  func(conversationID string)
}

// NewSearchView creates the search view.
func NewSearchView(theme *ui.Theme) *SearchView {
	input := tview.NewInputField().
		SetLabel(" search: ").
		SetFieldWidth(0)
	input.SetBorder(true)
	input.SetBorderColor(theme.BorderColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetLabelColor(theme.MenuKeyColor)

	results := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	results.SetBorder(true)
	results.SetBorderColor(theme.BorderColor)
	results.SetBackgroundColor(theme.BgColor)
	results.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	results.SetTitle(" Results ")
	results.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(input, 3, 0, true).
		AddItem(results, 0, 1, false)

	sv := &SearchView{
		Flex:    flex,
		theme:   theme,
		input:   input,
		results: results,
	}

	input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && sv.onQuery != nil {
			if q := input.GetText(); q != "" {
				sv.onQuery(q)
			}
		}
	})

	results.SetSelectedFunc(func(row, col int) {
		idx := row - 1
		if idx >= 0 && idx < len(sv.matches) && sv.onOpen != nil {
			sv.onOpen(sv.matches[idx].Message.ConversationID)
		}
	})

	return sv
}

// Name implements Component.
func (sv *SearchView) Name() string { return "Search" }

// Hints implements Component.
func (sv *SearchView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Search / Open"},
		{Key: "Esc", Description: "Back"},
	}
}

// SetOnQuery sets the search submit callback.
func (sv *SearchView) SetOnQuery(fn func(query string)) { sv.onQuery = fn }

// SetOnOpen sets the callback for opening a result's conversation.
func (sv *SearchView) SetOnOpen(fn func(conversationID string)) { sv.onOpen = fn }

// Input returns the query input (for focus management).
func (sv *SearchView) Input() *tview.InputField { return sv.input }

// Results returns the results table (for focus management).
func (sv *SearchView) Results() *tview.Table { return sv.results }

// Update refreshes the result list.
func (sv *SearchView) Update(matches []store.SearchResult) {
	sv.matches = matches
	sv.results.Clear()

	headers := []string{" CONVERSATION", " MATCH", " TIME"}
	for col, h := range headers {
		sv.results.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(sv.theme.TableHeaderFg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(1))
	}

	for i, r := range matches {
		row := i + 1
		sv.results.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(r.Message.ConversationID)).SetTextColor(sv.theme.FgColor).SetExpansion(1))
		sv.results.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(r.Snippet))).SetTextColor(sv.theme.FgColor).SetExpansion(2))
		sv.results.SetCell(row, 2, tview.NewTableCell(formatTimestamp(r.Message.Timestamp)).SetTextColor(sv.theme.FgColor).SetAlign(tview.AlignRight))
	}

	sv.results.SetTitle(fmt.Sprintf(" Results (%d) ", len(matches)))
}
