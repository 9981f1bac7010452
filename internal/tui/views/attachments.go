package views

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/opencomm/opdesk/internal/tui/ui"
	"github.com/opencomm/opdesk/internal/upload"
	"github.com/rivo/tview"
)

// AttachmentPicker stages local files and captions before a batch send.
type AttachmentPicker struct {
	*tview.Flex
	theme     *ui.Theme
	list      *tview.Table
	pathInput *tview.InputField
	caption   *tview.InputField
	items     []upload.Item

	onStage      func(path string)
	onCaption    func(clientID, caption string)
	onRemove     func(clientID string)
	onSend       func()
	focusRequest func(p tview.Primitive)
}

// NewAttachmentPicker creates the attachment staging view.
func NewAttachmentPicker(theme *ui.Theme) *AttachmentPicker {
	list := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	list.SetBorder(true)
	list.SetBorderColor(theme.BorderColor)
	list.SetBackgroundColor(theme.BgColor)
	list.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	list.SetTitle(" Attachments ")
	list.SetTitleColor(theme.TitleColor)

	pathInput := tview.NewInputField().
		SetLabel(" file: ").
		SetFieldWidth(0)
	pathInput.SetBorder(true)
	pathInput.SetBorderColor(theme.BorderColor)
	pathInput.SetFieldBackgroundColor(theme.BgColor)
	pathInput.SetLabelColor(theme.MenuKeyColor)
	pathInput.SetTitle(" Add file (Enter to stage) ")
	pathInput.SetTitleColor(theme.TitleColor)

	caption := tview.NewInputField().
		SetLabel(" caption: ").
		SetFieldWidth(0)
	caption.SetBorder(true)
	caption.SetBorderColor(theme.BorderColor)
	caption.SetFieldBackgroundColor(theme.BgColor)
	caption.SetLabelColor(theme.MenuKeyColor)
	caption.SetTitle(" Caption for selected (Enter to apply) ")
	caption.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(list, 0, 1, true).
		AddItem(pathInput, 3, 0, false).
		AddItem(caption, 3, 0, false)

	ap := &AttachmentPicker{
		Flex:      flex,
		theme:     theme,
		list:      list,
		pathInput: pathInput,
		caption:   caption,
	}

	pathInput.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && ap.onStage != nil {
			path := pathInput.GetText()
			if path != "" {
				ap.onStage(path)
				pathInput.SetText("")
			}
		}
	})

	caption.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && ap.onCaption != nil {
			if id := ap.selectedID(); id != "" {
				ap.onCaption(id, caption.GetText())
				caption.SetText("")
				if ap.focusRequest != nil {
					ap.focusRequest(ap.list)
				}
			}
		}
	})

	list.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() != tcell.KeyRune {
			return event
		}
		switch event.Rune() {
		case 'd':
			if id := ap.selectedID(); id != "" && ap.onRemove != nil {
				ap.onRemove(id)
			}
			return nil
		case 'c':
			if ap.focusRequest != nil {
				ap.focusRequest(ap.caption)
			}
			return nil
		case 'f':
			if ap.focusRequest != nil {
				ap.focusRequest(ap.pathInput)
			}
			return nil
		case 'S':
			if ap.onSend != nil {
				ap.onSend()
			}
			return nil
		}
		return event
	})

	return ap
}

// Name implements Component.
func (ap *AttachmentPicker) Name() string { return "Attachments" }

// Hints implements Component.
func (ap *AttachmentPicker) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "f", Description: "Add file"},
		{Key: "c", Description: "Caption"},
		{Key: "d", Description: "Remove"},
		{Key: "S", Description: "Send all"},
		{Key: "Esc", Description: "Back"},
	}
}

// SetOnStage sets the callback for staging a file path.
func (ap *AttachmentPicker) SetOnStage(fn func(path string)) { ap.onStage = fn }

// SetOnCaption sets the callback for applying a caption.
func (ap *AttachmentPicker) SetOnCaption(fn func(clientID, caption string)) { ap.onCaption = fn }

// SetOnRemove sets the callback for unstaging a file.
func (ap *AttachmentPicker) SetOnRemove(fn func(clientID string)) { ap.onRemove = fn }

// SetOnSend sets the callback for dispatching the whole batch.
func (ap *AttachmentPicker) SetOnSend(fn func()) { ap.onSend = fn }

// SetFocusFunc lets the app own focus changes requested by this view.
func (ap *AttachmentPicker) SetFocusFunc(fn func(p tview.Primitive)) { ap.focusRequest = fn }

// List returns the staged-file table (for focus management).
func (ap *AttachmentPicker) List() *tview.Table { return ap.list }

// PathInput returns the file path input (for focus management).
func (ap *AttachmentPicker) PathInput() *tview.InputField { return ap.pathInput }

// Update refreshes the staged file list.
func (ap *AttachmentPicker) Update(items []upload.Item) {
	ap.items = items
	ap.list.Clear()

	headers := []string{" FILE", " KIND", " SIZE", " CAPTION"}
	for col, h := range headers {
		ap.list.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(ap.theme.TableHeaderFg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(1))
	}

	for i, item := range items {
		row := i + 1
		ap.list.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(item.Name)).SetTextColor(ap.theme.FgColor).SetExpansion(1))
		ap.list.SetCell(row, 1, tview.NewTableCell(item.Kind).SetTextColor(ap.theme.FgColor))
		ap.list.SetCell(row, 2, tview.NewTableCell(formatSize(len(item.Data))).SetTextColor(ap.theme.FgColor).SetAlign(tview.AlignRight))
		ap.list.SetCell(row, 3, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(item.Caption))).SetTextColor(ap.theme.FgColor).SetExpansion(1))
	}

	ap.list.SetTitle(fmt.Sprintf(" Attachments (%d) ", len(items)))
}

func (ap *AttachmentPicker) selectedID() string {
	row, _ := ap.list.GetSelection()
	idx := row - 1
	if idx < 0 || idx >= len(ap.items) {
		return ""
	}
	return ap.items[idx].ClientID
}

func formatSize(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
