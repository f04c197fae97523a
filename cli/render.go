package cli

import (
	"fmt"
	"io"

	"github.com/dbrheo/dbrheo/client"
)

// renderEvents drains events and prints a human-readable rendering to out.
// It returns once events is closed by the caller.
func renderEvents(out io.Writer, events <-chan client.Event) {
	textOpen := false
	for ev := range events {
		switch v := ev.(type) {
		case client.TextEvent:
			fmt.Fprint(out, v.Delta)
			textOpen = true
		case client.ToolStartEvent:
			closeText(out, &textOpen)
			fmt.Fprintf(out, "[tool] %s starting (%s)\n", v.Name, v.ID)
		case client.ToolAwaitingConfirmationEvent:
			closeText(out, &textOpen)
			fmt.Fprintf(out, "[tool] %s awaiting confirmation (risk: %s) — %s\n", v.ID, v.Risk, v.Summary)
		case client.ToolRunningEvent:
			closeText(out, &textOpen)
			fmt.Fprintf(out, "[tool] %s running\n", v.ID)
		case client.ToolFinishedEvent:
			closeText(out, &textOpen)
			if v.Ok {
				fmt.Fprintf(out, "[tool] %s finished\n", v.ID)
			} else {
				fmt.Fprintf(out, "[tool] %s failed: %s\n", v.ID, v.Summary)
			}
		case client.UsageUpdateEvent:
			// Token accounting isn't rendered inline; a verbose host could
			// surface v.InputTokens/v.OutputTokens in a status line.
		case client.ErrorEvent:
			closeText(out, &textOpen)
			fmt.Fprintf(out, "[error: %s] %s\n", v.Kind, v.Message)
		case client.FinishEvent:
			closeText(out, &textOpen)
		}
	}
}

func closeText(out io.Writer, open *bool) {
	if *open {
		fmt.Fprintln(out)
		*open = false
	}
}
