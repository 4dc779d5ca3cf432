// Package ui bridges conversation events to whatever surface is
// attached: the bubbletea TUI, the plain REPL, or nothing at all.
package ui

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/jarvis/internal/assistant"
)

type UI interface {
	UpdateStatus(status string)
	Log(msg string)
	ShowImport(summary string)
}

// SilentUI drops everything; serve mode runs with it.
type SilentUI struct{}

func (SilentUI) UpdateStatus(status string) {}
func (SilentUI) Log(msg string)             {}
func (SilentUI) ShowImport(summary string)  {}

// ConsoleUI prints event lines for the line-oriented REPL. Status
// changes are dropped; the prompt already shows when a turn is done.
type ConsoleUI struct{}

func (ConsoleUI) UpdateStatus(status string) {}

func (ConsoleUI) Log(msg string) {
	fmt.Println("  · " + msg)
}

func (ConsoleUI) ShowImport(summary string) {
	fmt.Println("  · import: " + summary)
}

// Attach routes conversation events into a UI as status changes and
// log lines. Handlers run on the publishing goroutine, so UIs must not
// block.
func Attach(bus *assistant.EventBus, u UI) {
	bus.SubscribeAll(func(e assistant.Event) {
		switch e.Type {
		case assistant.EventChatStart:
			u.UpdateStatus("thinking")

		case assistant.EventToolCalls:
			u.UpdateStatus("running tools")
			if n, ok := e.Data["count"].(int); ok {
				u.Log(fmt.Sprintf("executing %d tool call(s)", n))
			}

		case assistant.EventChatReply:
			u.UpdateStatus("ready")

		case assistant.EventGuardViolation:
			u.UpdateStatus("blocked")
			u.Log(fmt.Sprintf("guard violation: %v", e.Data["rule"]))

		case assistant.EventImportComplete:
			u.UpdateStatus("ready")
			if s, ok := e.Data["summary"].(string); ok {
				u.ShowImport(firstLine(s))
			}

		case assistant.EventMaintenanceComplete:
			u.Log(fmt.Sprintf("maintenance pass: examined %v, merged %v", e.Data["examined"], e.Data["merged"]))

		case assistant.EventContextSummarized:
			u.Log("context summarized into the archive")

		case assistant.EventBackupComplete:
			if p, ok := e.Data["path"].(string); ok {
				u.Log("backup written: " + p)
			}

		case assistant.EventSessionExpired:
			u.Log("session expired: " + e.SessionID)
		}
	})
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
