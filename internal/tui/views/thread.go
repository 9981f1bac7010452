package views

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/opencomm/opdesk/internal/media"
	"github.com/opencomm/opdesk/internal/store"
	"github.com/opencomm/opdesk/internal/tui/ui"
	"github.com/rivo/tview"
)

// Thread displays the message history and composer for one conversation.
type Thread struct {
	*tview.Flex
	theme    *ui.Theme
	messages *tview.TextView
	composer *tview.InputField
	convName string

	// blockLines[i] is how many rendered lines message i occupies, used to
	// re-anchor the viewport after older history is prepended.
	blockLines []int
	msgs       []store.Message
	atBottom   bool

	onSend      func(text string)
	onLoadOlder func()
	onOpenMedia func(m store.Message)
}

// NewThread creates the message thread view.
func NewThread(theme *ui.Theme) *Thread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitle(" Messages ")
	messages.SetTitleColor(theme.TitleColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitle(" Compose (i to focus) ")
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(composer, 3, 0, false)

	t := &Thread{
		Flex:     flex,
		theme:    theme,
		messages: messages,
		composer: composer,
		atBottom: true,
	}

	composer.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && t.onSend != nil {
			text := composer.GetText()
			if text != "" {
				t.onSend(text)
				composer.SetText("")
			}
		}
	})

	// Scrolling up unpins the viewport from the tail; scrolling up from the
	// top of the buffer asks for older history.
	messages.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyUp, tcell.KeyPgUp:
			t.atBottom = false
			if row, _ := messages.GetScrollOffset(); row == 0 && t.onLoadOlder != nil {
				t.onLoadOlder()
				return nil
			}
		case tcell.KeyEnd:
			t.FollowTail()
		case tcell.KeyRune:
			if event.Rune() == 'G' {
				t.FollowTail()
				return nil
			}
		}
		return event
	})

	return t
}

// Name implements Component.
func (t *Thread) Name() string {
	if t.convName != "" {
		return t.convName
	}
	return "Messages"
}

// Hints implements Component.
func (t *Thread) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "i", Description: "Compose"},
		{Key: "a", Description: "Attach"},
		{Key: "v", Description: "View media"},
		{Key: "r", Description: "Retry media"},
		{Key: "Esc", Description: "Back"},
	}
}

// SetConversationName updates the title.
func (t *Thread) SetConversationName(name string) {
	t.convName = name
	t.messages.SetTitle(fmt.Sprintf(" %s ", name))
}

// SetOnSend sets the composer submit callback.
func (t *Thread) SetOnSend(fn func(text string)) { t.onSend = fn }

// SetOnLoadOlder sets the callback fired when the view scrolls past the top.
func (t *Thread) SetOnLoadOlder(fn func()) { t.onLoadOlder = fn }

// SetOnOpenMedia sets the callback for opening a media message in the viewer.
func (t *Thread) SetOnOpenMedia(fn func(m store.Message)) { t.onOpenMedia = fn }

// Update re-renders the message list. mediaInfo supplies the resolution state
// for unresolved media. The viewport follows the newest message while pinned
// to the bottom; otherwise the scroll position is left alone.
func (t *Thread) Update(msgs []store.Message, mediaInfo func(key string) media.Info) {
	row, _ := t.messages.GetScrollOffset()
	t.msgs = msgs
	t.messages.Clear()
	t.blockLines = t.blockLines[:0]

	var b strings.Builder
	for i := range msgs {
		block := t.renderMessage(&msgs[i], mediaInfo)
		t.blockLines = append(t.blockLines, strings.Count(block, "\n"))
		b.WriteString(block)
	}
	_, _ = fmt.Fprint(t.messages, b.String())

	if t.atBottom {
		t.messages.ScrollToEnd()
	} else {
		t.messages.ScrollTo(row, 0)
	}
}

// FollowTail re-pins the viewport to the newest message.
func (t *Thread) FollowTail() {
	t.atBottom = true
	t.messages.ScrollToEnd()
}

// AnchorAfterPrepend shifts the viewport down by the height of the prepended
// messages so the previously visible message stays where it was.
func (t *Thread) AnchorAfterPrepend(added int) {
	if added <= 0 || added > len(t.blockLines) {
		return
	}
	t.atBottom = false
	shift := 0
	for _, n := range t.blockLines[:added] {
		shift += n
	}
	row, _ := t.messages.GetScrollOffset()
	t.messages.ScrollTo(row+shift, 0)
}

// NewestMedia returns the newest media message, for the quick-view binding.
func (t *Thread) NewestMedia() (store.Message, bool) {
	for i := len(t.msgs) - 1; i >= 0; i-- {
		if t.msgs[i].Kind != store.KindText {
			return t.msgs[i], true
		}
	}
	return store.Message{}, false
}

func (t *Thread) renderMessage(m *store.Message, mediaInfo func(key string) media.Info) string {
	sender := t.convName
	if m.Direction == store.DirectionOutbound {
		sender = "You"
	}

	header := fmt.Sprintf("[::b]%s[-:-:-] [::d]%s[-:-:-]",
		tview.Escape(sanitizeForTerminal(sender)), formatTimestamp(m.Timestamp))
	if m.Direction == store.DirectionOutbound {
		header += " " + statusMark(m.Status)
	}

	var b strings.Builder
	b.WriteString(header)
	b.WriteByte('\n')
	if m.Kind != store.KindText {
		b.WriteString(t.renderMediaLine(m, mediaInfo))
		b.WriteByte('\n')
	}
	if m.Body != "" {
		b.WriteString(tview.Escape(sanitizeForTerminal(m.Body)))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String()
}

func (t *Thread) renderMediaLine(m *store.Message, mediaInfo func(key string) media.Info) string {
	tag := "[" + m.Kind + "]"
	if url := m.DisplayURL(); url != "" {
		return fmt.Sprintf("[aqua]%s[-] %s", tag, tview.Escape(url))
	}
	if mediaInfo == nil {
		return fmt.Sprintf("[aqua]%s[-]", tag)
	}
	switch info := mediaInfo(m.Key()); {
	case info.Status == media.StatusReady:
		return fmt.Sprintf("[aqua]%s[-] %s", tag, tview.Escape(info.URL))
	case info.Unavailable:
		return fmt.Sprintf("[red]%s unavailable[-]", tag)
	case info.Status == media.StatusFailed:
		return fmt.Sprintf("[orange]%s failed (r to retry)[-]", tag)
	default:
		return fmt.Sprintf("[::d]%s loading…[-:-:-]", tag)
	}
}

// FailedMedia returns the newest media message with a failed resolution, for
// the retry binding.
func (t *Thread) FailedMedia(mediaInfo func(key string) media.Info) (store.Message, bool) {
	for i := len(t.msgs) - 1; i >= 0; i-- {
		m := t.msgs[i]
		if m.Kind == store.KindText || m.MediaID == "" {
			continue
		}
		if info := mediaInfo(m.Key()); info.Status == media.StatusFailed && !info.Unavailable {
			return m, true
		}
	}
	return store.Message{}, false
}

// Messages returns the text view (for focus management).
func (t *Thread) Messages() *tview.TextView { return t.messages }

// Composer returns the composer input field (for focus management).
func (t *Thread) Composer() *tview.InputField { return t.composer }
