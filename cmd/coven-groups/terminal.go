// ABOUTME: Terminal output for the chat client: messages, notices, and prompts
// ABOUTME: Serializes writes from the input loop and the connection goroutine

package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-groups/internal/protocol"
	"github.com/2389/coven-groups/internal/render"
	"github.com/2389/coven-groups/internal/session"
)

// historyPreviewLen caps each line when replaying fetched history.
const historyPreviewLen = 160

type terminal struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

func newTerminal(out io.Writer) *terminal {
	return &terminal{out: out, now: time.Now}
}

// Notify implements session.Notifier.
func (t *terminal) Notify(n session.Notice) {
	switch n.Level {
	case session.LevelSuccess:
		t.println(color.GreenString("✓ %s", n.Message))
	case session.LevelError:
		t.println(color.RedString("✗ %s", n.Message))
	default:
		t.println(color.CyanString("• %s", n.Message))
	}
}

// printMessage renders a live message in full.
func (t *terminal) printMessage(m protocol.Message) {
	body := render.PlainText(m.MessageText)
	if strings.Contains(body, "\n") {
		body = "\n    " + strings.ReplaceAll(body, "\n", "\n    ")
	}
	t.println(fmt.Sprintf("%s %s %s", t.stamp(m.Timestamp), color.New(color.FgYellow, color.Bold).Sprint(m.SenderUsername+":"), body))
}

// printHistory renders fetched history, one line per message.
func (t *terminal) printHistory(groupName string, list []protocol.Message) {
	if len(list) == 0 {
		t.println(color.HiBlackString("-- no messages in %s yet --", groupName))
		return
	}
	t.println(color.HiBlackString("-- %s: %d messages --", groupName, len(list)))
	for _, m := range list {
		t.println(fmt.Sprintf("%s %s %s", t.stamp(m.Timestamp), color.YellowString(m.SenderUsername+":"), render.Preview(m.MessageText, historyPreviewLen)))
	}
}

func (t *terminal) info(msg string) {
	t.println(color.CyanString("• %s", msg))
}

func (t *terminal) warn(msg string) {
	t.println(color.YellowString("! %s", msg))
}

func (t *terminal) plain(msg string) {
	t.println(msg)
}

func (t *terminal) prompt(groupName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if groupName != "" {
		fmt.Fprintf(t.out, "[%s]> ", groupName)
	} else {
		fmt.Fprint(t.out, "> ")
	}
}

func (t *terminal) println(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, line)
}

// stamp formats a unix timestamp in seconds as a clock time, adding the date
// for messages from another day.
func (t *terminal) stamp(sec int64) string {
	if sec <= 0 {
		return color.HiBlackString("--:--")
	}
	ts := time.Unix(sec, 0).Local()
	now := t.now().Local()
	if ts.Year() == now.Year() && ts.YearDay() == now.YearDay() {
		return color.HiBlackString(ts.Format("15:04"))
	}
	return color.HiBlackString(ts.Format("Jan 2 15:04"))
}
