// Package ui implements the UIAdapter: a tview-based terminal front end
// that renders the message log, a status bar with the blocking/countdown
// overlay, and an input field with an "@"-triggered recipient picker.
package ui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"depinchat/internal/directory"
	"depinchat/internal/events"
	"depinchat/internal/sender"
	"depinchat/internal/store"
)

// pickerState is the explicit state machine for the "@" recipient overlay.
type pickerState int

const (
	pickerClosed pickerState = iota
	pickerLoading
	pickerReady
	pickerError
)

const picksPageName = "picker"

// Adapter is the tview-based UIAdapter. It implements events.Sink (fed by
// Poller/Sender/Supervisor) and shutdown.Resetter (used by the
// ShutdownController on exit).
type Adapter struct {
	app       *tview.Application
	pages     *tview.Pages
	chatbox   *tview.TextView
	statusBar *tview.TextView
	input     *tview.InputField
	pickerBox *tview.List

	sender    *sender.Sender
	directory *directory.Directory
	logger    *zap.Logger
	selfAddr  string

	mu      sync.Mutex
	picker  pickerState
	choices []directory.Entry
}

// New builds an Adapter. selfAddr is excluded from the recipient picker's
// candidate list.
func New(send *sender.Sender, dir *directory.Directory, logger *zap.Logger, selfAddr string) *Adapter {
	a := &Adapter{
		app:       tview.NewApplication(),
		sender:    send,
		directory: dir,
		logger:    logger,
		selfAddr:  selfAddr,
	}
	a.build()
	return a
}

func (a *Adapter) build() {
	a.chatbox = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	a.chatbox.SetBorder(true).SetTitle(" Messages ")

	a.statusBar = tview.NewTextView().
		SetDynamicColors(true)
	a.statusBar.SetBorder(false)
	a.setStatus("[green]verifying...[-]")

	a.input = tview.NewInputField().
		SetLabel("> ").
		SetFieldWidth(0)
	a.input.SetBorder(true).SetTitle(" Message (@address body, or plain text for group) ")

	a.input.SetChangedFunc(func(text string) {
		if strings.HasPrefix(text, "@") && !strings.Contains(text, " ") {
			a.openPicker(text[1:])
		} else {
			a.closePicker()
		}
	})

	a.input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := a.input.GetText()
		if strings.TrimSpace(text) == "" {
			return
		}
		a.input.SetText("")
		go a.send(text)
	})

	a.pickerBox = tview.NewList().ShowSecondaryText(false)
	a.pickerBox.SetBorder(true).SetTitle(" Recipients ")
	a.pickerBox.SetSelectedFunc(func(i int, address string, _ string, _ rune) {
		a.mu.Lock()
		choices := a.choices
		a.mu.Unlock()
		if i >= 0 && i < len(choices) {
			a.input.SetText("@" + choices[i].Address + " ")
		}
		a.closePicker()
		a.app.SetFocus(a.input)
	})

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.chatbox, 0, 1, false).
		AddItem(a.statusBar, 1, 0, false).
		AddItem(a.input, 3, 0, true)

	a.pages = tview.NewPages().
		AddPage("main", layout, true, true)
}

// Run blocks until the application exits.
func (a *Adapter) Run() error {
	return a.app.SetRoot(a.pages, true).SetFocus(a.input).Run()
}

// ResetTerminal satisfies shutdown.Resetter: tview's Stop restores the
// terminal (exits alt-screen, shows cursor, disables mouse/paste/focus
// reporting) before the process exits.
func (a *Adapter) ResetTerminal() {
	a.app.Stop()
}

func (a *Adapter) send(text string) {
	result, err := a.sender.Send(context.Background(), text)
	if err != nil {
		a.app.QueueUpdateDraw(func() {
			fmt.Fprintf(a.chatbox, "[red]send failed:[-] %v\n", err)
		})
		return
	}
	a.app.QueueUpdateDraw(func() {
		a.printMessage(result.Hash, "you", result.Peer, result.Plaintext, result.Kind, time.Now())
	})
}

func (a *Adapter) printMessage(hash, sender, peer, text string, kind store.Kind, ts time.Time) {
	switch kind {
	case store.Private:
		fmt.Fprintf(a.chatbox, "[yellow]%s -> %s[-] (%s): %s\n", sender, peer, ts.Format("15:04:05"), text)
	default:
		fmt.Fprintf(a.chatbox, "[green]%s[-] (%s): %s\n", sender, ts.Format("15:04:05"), text)
	}
	a.chatbox.ScrollToEnd()
}

func (a *Adapter) setStatus(s string) {
	a.statusBar.SetText(s)
}

// openPicker enters PickingRecipient{loading} and kicks off an async
// directory fetch filtered by prefix; the result transitions to ready or
// error without blocking the input field.
func (a *Adapter) openPicker(prefix string) {
	a.mu.Lock()
	a.picker = pickerLoading
	a.mu.Unlock()

	a.app.QueueUpdateDraw(func() {
		a.pickerBox.Clear()
		a.pickerBox.AddItem("loading...", "", 0, nil)
		a.pages.AddPage(picksPageName, a.pickerBox, true, true)
	})

	go func() {
		entries, err := a.directory.Refresh(context.Background(), false)
		a.mu.Lock()
		if err != nil {
			a.picker = pickerError
		} else {
			a.picker = pickerReady
		}
		a.mu.Unlock()

		filtered := make([]directory.Entry, 0, len(entries))
		for _, e := range entries {
			if e.Address == a.selfAddr {
				continue
			}
			if prefix == "" || strings.HasPrefix(strings.ToLower(e.Address), strings.ToLower(prefix)) {
				filtered = append(filtered, e)
			}
		}
		sort.Slice(filtered, func(i, j int) bool { return filtered[i].Address < filtered[j].Address })

		a.mu.Lock()
		a.choices = filtered
		a.mu.Unlock()

		a.app.QueueUpdateDraw(func() {
			a.pickerBox.Clear()
			if err != nil {
				a.pickerBox.AddItem("directory unavailable: "+err.Error(), "", 0, nil)
				return
			}
			if len(filtered) == 0 {
				a.pickerBox.AddItem("no matches", "", 0, nil)
				return
			}
			for _, e := range filtered {
				a.pickerBox.AddItem(e.Address, "", 0, nil)
			}
		})
	}()
}

func (a *Adapter) closePicker() {
	a.mu.Lock()
	a.picker = pickerClosed
	a.mu.Unlock()
	a.app.QueueUpdateDraw(func() {
		a.pages.RemovePage(picksPageName)
	})
}

// --- events.Sink ---

func (a *Adapter) OnMessage(m events.Message) {
	a.app.QueueUpdateDraw(func() {
		kind := store.Group
		if m.Kind == store.Private {
			kind = store.Private
		}
		sender := m.Sender
		if sender == "" {
			sender = "unknown"
		}
		a.printMessage(m.Hash, sender, m.Peer, m.Plaintext, kind, time.Unix(int64(m.Timestamp), 0))
	})
}

func (a *Adapter) OnPollComplete(p events.PollComplete) {
	a.app.QueueUpdateDraw(func() {
		a.setStatus(fmt.Sprintf("[green]running[-] — %d messages total", p.Total))
	})
}

func (a *Adapter) OnPollError(p events.PollError) {
	a.app.QueueUpdateDraw(func() {
		a.setStatus(fmt.Sprintf("[red]poll error:[-] %s", p.Message))
	})
}

func (a *Adapter) OnReconnected(events.Reconnected) {
	a.app.QueueUpdateDraw(func() {
		fmt.Fprintln(a.chatbox, "[blue]reconnected, full sync complete[-]")
		a.chatbox.ScrollToEnd()
	})
}

func (a *Adapter) OnBlockingErrors(b events.BlockingErrors) {
	deadline := time.Now().Add(30 * time.Second)
	a.app.QueueUpdateDraw(func() {
		a.setStatus(fmt.Sprintf("[red]blocked:[-] %s — retrying at %s",
			strings.Join(b.Messages, "; "), deadline.Format("15:04:05")))
	})
}

func (a *Adapter) OnBlockingCleared(events.BlockingCleared) {
	a.app.QueueUpdateDraw(func() {
		a.setStatus("[green]running[-]")
	})
}
