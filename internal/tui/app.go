// Package tui is the operator console shell: pages, key routing and the
// bridge between bus events and screen updates.
package tui

import (
	"context"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/opencomm/opdesk/internal/bus"
	"github.com/opencomm/opdesk/internal/status"
	"github.com/opencomm/opdesk/internal/tui/keys"
	"github.com/opencomm/opdesk/internal/tui/model"
	"github.com/opencomm/opdesk/internal/tui/ui"
	"github.com/opencomm/opdesk/internal/tui/views"
	"github.com/rivo/tview"
)

const flashDuration = 5 * time.Second

// App is the main TUI application shell.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	vm        *model.ViewModel
	bus       *bus.Bus
	registry  *keys.Registry
	statusBar *views.StatusBar
	inbox     *views.Inbox
	filter    *tview.InputField
	thread    *views.Thread
	search    *views.SearchView
	picker    *views.AttachmentPicker
	viewer    *views.Viewer
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(vm *model.ViewModel, b *bus.Bus, profileName string) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		vm:        vm,
		bus:       b,
		registry:  keys.NewRegistry(),
		statusBar: views.NewStatusBar(),
		inbox:     views.NewInbox(theme),
		thread:    views.NewThread(theme),
		search:    views.NewSearchView(theme),
		picker:    views.NewAttachmentPicker(theme),
		ctx:       ctx,
		cancel:    cancel,
	}
	a.viewer = views.NewViewer(theme, func() {
		a.app.QueueUpdateDraw(func() {})
	})
	a.filter = tview.NewInputField().
		SetLabel(" / ").
		SetFieldWidth(0)
	a.filter.SetBorder(true)
	a.filter.SetBorderColor(theme.BorderColor)
	a.filter.SetFieldBackgroundColor(theme.BgColor)
	a.filter.SetLabelColor(theme.MenuKeyColor)
	a.filter.SetTitle(" Filter ")
	a.filter.SetTitleColor(theme.TitleColor)

	a.statusBar.SetProfile(profileName)
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("quit", &keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: func() { a.app.Stop() },
	})
	a.registry.AddGlobal("search", &keys.Action{
		Rune: 's', Key: tcell.KeyRune,
		Description: "s:search", Visible: true,
		Handler: func() { a.showSearch() },
	})

	a.registry.AddView("inbox", "refresh", &keys.Action{
		Rune: 'R', Key: tcell.KeyRune,
		Description: "R:refresh", Visible: true,
		Handler: func() { a.hardRefresh() },
	})
	a.registry.AddView("thread", "attach", &keys.Action{
		Rune: 'a', Key: tcell.KeyRune,
		Description: "a:attach", Visible: true,
		Handler: func() { a.showAttachments() },
	})
	a.registry.AddView("thread", "view", &keys.Action{
		Rune: 'v', Key: tcell.KeyRune,
		Description: "v:view media", Visible: true,
		Handler: func() { a.showViewer() },
	})
	a.registry.AddView("thread", "retry", &keys.Action{
		Rune: 'r', Key: tcell.KeyRune,
		Description: "r:retry media", Visible: true,
		Handler: func() { a.retryMedia() },
	})
	a.registry.AddView("viewer", "reset", &keys.Action{
		Rune: '0', Key: tcell.KeyRune,
		Description: "0:reset", Visible: true,
		Handler: func() { a.viewer.Reset() },
	})
}

func (a *App) setupCallbacks() {
	a.inbox.SetSelectedFunc(func(row, col int) {
		if id := a.inbox.Selected(); id != "" {
			a.openConversation(id)
		}
	})

	a.filter.SetChangedFunc(func(text string) {
		a.inbox.SetFilter(text)
	})
	a.filter.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEscape {
			a.filter.SetText("")
			a.inbox.ClearFilter()
		}
		a.app.SetFocus(a.inbox)
	})

	a.thread.SetOnSend(func(text string) {
		go func() {
			if err := a.vm.SendText(a.ctx, text); err != nil {
				a.vm.Flash.SetError("Send failed: "+err.Error(), flashDuration)
			}
			a.refreshThread()
		}()
	})

	a.thread.SetOnLoadOlder(func() {
		go func() {
			added, err := a.vm.LoadOlder(a.ctx)
			if err != nil {
				a.vm.Flash.SetError("Load failed: "+err.Error(), flashDuration)
				return
			}
			if added == 0 {
				return
			}
			a.app.QueueUpdateDraw(func() {
				a.thread.Update(a.vm.Messages(), a.vm.MediaInfo)
				a.thread.AnchorAfterPrepend(added)
			})
		}()
	})

	a.search.SetOnQuery(func(query string) {
		results, err := a.vm.Search(query)
		if err != nil {
			a.vm.Flash.SetError("Search failed: "+err.Error(), flashDuration)
			return
		}
		a.search.Update(results)
		a.app.SetFocus(a.search.Results())
	})
	a.search.SetOnOpen(func(conversationID string) {
		a.openConversation(conversationID)
	})

	a.picker.SetFocusFunc(func(p tview.Primitive) { a.app.SetFocus(p) })
	a.picker.SetOnStage(func(path string) {
		if _, err := a.vm.StageFile(path); err != nil {
			a.vm.Flash.SetError(err.Error(), flashDuration)
		}
		a.picker.Update(a.vm.StagedFiles())
	})
	a.picker.SetOnCaption(func(clientID, caption string) {
		if err := a.vm.SetCaption(clientID, caption); err != nil {
			a.vm.Flash.SetError(err.Error(), flashDuration)
		}
		a.picker.Update(a.vm.StagedFiles())
	})
	a.picker.SetOnRemove(func(clientID string) {
		if err := a.vm.Unstage(clientID); err != nil {
			a.vm.Flash.SetError(err.Error(), flashDuration)
		}
		a.picker.Update(a.vm.StagedFiles())
	})
	a.picker.SetOnSend(func() {
		a.pages.SwitchToPage("thread")
		a.app.SetFocus(a.thread.Messages())
		go func() {
			if err := a.vm.SendStaged(a.ctx); err != nil {
				a.vm.Flash.SetError("Some files failed: "+err.Error(), flashDuration)
			}
			a.refreshThread()
		}()
	})
}

func (a *App) setupLayout() {
	inboxFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.inbox, 0, 1, true).
		AddItem(a.filter, 3, 0, false)

	a.pages.AddPage("inbox", inboxFlex, true, true)
	a.pages.AddPage("thread", a.thread, true, false)
	a.pages.AddPage("search", a.search, true, false)
	a.pages.AddPage("attach", a.picker, true, false)
	a.pages.AddPage("viewer", a.viewer, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)
	a.app.EnableMouse(true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape {
			switch currentPage {
			case "thread", "search":
				a.switchTo("inbox", a.inbox)
				return nil
			case "attach", "viewer":
				a.switchTo("thread", a.thread.Messages())
				return nil
			}
		}

		// Let text input widgets handle all keys normally.
		focused := a.app.GetFocus()
		if _, ok := focused.(*tview.InputField); ok {
			return event
		}

		if event.Key() == tcell.KeyRune {
			switch {
			case currentPage == "thread" && event.Rune() == 'i':
				a.app.SetFocus(a.thread.Composer())
				return nil
			case currentPage == "inbox" && event.Rune() == '/':
				a.app.SetFocus(a.filter)
				return nil
			}
		}

		if a.registry.HandleEvent(currentPage, event) {
			return nil
		}
		return event
	})
}

func (a *App) switchTo(page string, focus tview.Primitive) {
	a.pages.SwitchToPage(page)
	a.app.SetFocus(focus)
	a.syncHints(page)
}

func (a *App) syncHints(page string) {
	var c ui.Component
	switch page {
	case "inbox":
		c = a.inbox
	case "thread":
		c = a.thread
	case "search":
		c = a.search
	case "attach":
		c = a.picker
	case "viewer":
		c = a.viewer
	}
	if c == nil {
		return
	}
	hints := make([]string, 0, len(c.Hints()))
	for _, h := range c.Hints() {
		hints = append(hints, h.Key+":"+h.Description)
	}
	a.statusBar.SetHints(hints)
}

func (a *App) openConversation(id string) {
	go func() {
		if err := a.vm.Open(a.ctx, id); err != nil {
			a.vm.Flash.SetError("Load failed: "+err.Error(), flashDuration)
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.thread.SetConversationName(a.vm.ConversationName(id))
			a.thread.Update(a.vm.Messages(), a.vm.MediaInfo)
			a.thread.FollowTail()
			a.switchTo("thread", a.thread.Messages())
		})
	}()
}

// hardRefresh drops cached media resolutions and reloads the inbox from the
// backend.
func (a *App) hardRefresh() {
	go func() {
		if err := a.vm.HardRefresh(a.ctx); err != nil {
			a.vm.Flash.SetError("Refresh failed: "+err.Error(), flashDuration)
		}
		a.app.QueueUpdateDraw(func() {
			a.inbox.Update(a.vm.Conversations())
		})
	}()
}

func (a *App) showSearch() {
	a.switchTo("search", a.search.Input())
}

func (a *App) showAttachments() {
	a.picker.Update(a.vm.StagedFiles())
	a.switchTo("attach", a.picker.List())
}

func (a *App) showViewer() {
	m, ok := a.thread.NewestMedia()
	if !ok {
		a.vm.Flash.Set("No media in this conversation", flashDuration)
		return
	}
	a.viewer.Show(m, a.vm.MediaInfo(m.Key()))
	a.switchTo("viewer", a.viewer)
}

func (a *App) retryMedia() {
	m, ok := a.thread.FailedMedia(a.vm.MediaInfo)
	if !ok {
		return
	}
	if err := a.vm.RetryMedia(a.ctx, m.Key(), m.MediaID); err != nil {
		a.vm.Flash.SetError("Retry refused: "+err.Error(), flashDuration)
		return
	}
	// Already on the UI thread; repaint directly.
	a.thread.Update(a.vm.Messages(), a.vm.MediaInfo)
}

// refreshThread repaints the message list if the thread page is visible.
func (a *App) refreshThread() {
	a.app.QueueUpdateDraw(func() {
		if page, _ := a.pages.GetFrontPage(); page == "thread" {
			a.thread.Update(a.vm.Messages(), a.vm.MediaInfo)
		}
	})
}

// Run starts the TUI application and blocks until it exits.
func (a *App) Run() error {
	go a.consumeEvents()
	go a.startTickers()

	go func() {
		if err := a.vm.LoadInbox(a.ctx); err != nil {
			a.vm.Flash.SetError("Inbox load failed: "+err.Error(), flashDuration)
		}
		a.app.QueueUpdateDraw(func() {
			a.inbox.Update(a.vm.Conversations())
			a.syncHints("inbox")
		})
	}()

	return a.app.Run()
}

// consumeEvents bridges bus events onto the UI thread.
func (a *App) consumeEvents() {
	ch, unsub := a.bus.Subscribe("", 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			a.handleEvent(evt)
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindConvRefresh:
		if id, ok := evt.Payload.(string); ok && id == a.vm.ActiveConversation() {
			a.refreshThread()
		}

	case bus.KindInboxUpdated:
		a.vm.ReloadInboxFromCache()
		a.app.QueueUpdateDraw(func() {
			a.inbox.Update(a.vm.Conversations())
		})

	case bus.KindConvSendFailed:
		a.vm.Flash.SetError("Send failed", flashDuration)

	case bus.KindConvLoadFailed:
		a.vm.Flash.SetError("History load failed", flashDuration)

	case bus.KindNetStatusChanged:
		if change, ok := evt.Payload.(status.Change); ok {
			a.app.QueueUpdateDraw(func() {
				a.statusBar.SetConnection(change.To)
			})
		}
	}
}

// startTickers drives the clock, flash expiry and periodic inbox refresh.
func (a *App) startTickers() {
	flashTicker := time.NewTicker(time.Second)
	inboxTicker := time.NewTicker(30 * time.Second)
	defer flashTicker.Stop()
	defer inboxTicker.Stop()

	for {
		select {
		case <-flashTicker.C:
			a.app.QueueUpdateDraw(func() {
				msg, isErr := a.vm.Flash.Get()
				a.statusBar.SetFlash(msg, isErr)
			})

		case <-inboxTicker.C:
			if err := a.vm.LoadInbox(a.ctx); err != nil {
				continue
			}
			a.app.QueueUpdateDraw(func() {
				a.inbox.Update(a.vm.Conversations())
			})

		case <-a.ctx.Done():
			return
		}
	}
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
