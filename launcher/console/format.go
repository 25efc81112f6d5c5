package console

import (
	"fmt"
	"strings"

	"github.com/tomyedwab/medialauncher/launcher/events"
)

// FormatEvent renders an event as a single console line.
func FormatEvent(ev events.Event) string {
	timestamp := ev.Time.Format("15:04:05")
	switch ev.Kind {
	case events.KindStatusChanged:
		return fmt.Sprintf("%s %s Status: %s", timestamp, statusIcon(ev.State), ev.State)
	case events.KindLogLine:
		return fmt.Sprintf("%s %s %s", timestamp, formatStream(ev.Stream), ev.Line)
	case events.KindErrorReported:
		msg := "unknown error"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		// Multi-line errors carry an output tail; indent it under the headline.
		return fmt.Sprintf("%s 🔴 ERROR %s", timestamp, strings.ReplaceAll(msg, "\n", "\n         "))
	default:
		return fmt.Sprintf("%s %s", timestamp, ev.Kind)
	}
}

func formatStream(stream events.Stream) string {
	switch stream {
	case events.StreamStderr:
		return "🟡 [server]"
	case events.StreamStdout:
		return "   [server]"
	default:
		return "🔵"
	}
}

func statusIcon(state string) string {
	switch state {
	case "RUNNING":
		return "🟢"
	case "CHECKING", "READY", "STARTING", "STOPPING":
		return "🟡"
	case "STOPPED":
		return "🔴"
	case "FAILED":
		return "💥"
	default:
		return "⚪"
	}
}
