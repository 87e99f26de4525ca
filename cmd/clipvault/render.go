package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"go.klb.dev/clipvault/internal/events"
	"go.klb.dev/clipvault/internal/history"
)

const previewWidth = 60

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printPage(w io.Writer, p history.Page) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPIN\tKIND\tCOPIED\tCONTENT")
	for _, e := range p.Items {
		pin := ""
		if e.Pinned {
			pin = "*"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			e.ID, pin, e.Category, humanize.Time(e.CreatedAt), preview(e.Content, previewWidth))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	shown := int64(len(p.Items))
	if p.NextOffset != nil {
		fmt.Fprintf(w, "%d of %d entries (next: --offset %d)\n", shown, p.Total, *p.NextOffset)
	} else {
		fmt.Fprintf(w, "%d of %d entries\n", shown, p.Total)
	}
	return nil
}

func printSettings(w io.Writer, st history.Settings) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "history limit:\t%d\n", st.HistoryLimit)
	fmt.Fprintf(tw, "max clip size:\t%s\n", humanize.IBytes(uint64(max(st.MaxClipBytes, 0))))
	fmt.Fprintf(tw, "paused:\t%t\n", st.TrackingPaused)
	fmt.Fprintf(tw, "restore after paste:\t%t\n", st.RestoreClipboardAfterPaste)
	fmt.Fprintf(tw, "denylist:\t%s\n", strings.Join(st.Denylist, ", "))
	return tw.Flush()
}

func formatEvent(ev events.Event) string {
	switch {
	case ev.Entry != nil:
		return fmt.Sprintf("%-8s %d %s %s", ev.Type, ev.Entry.ID, ev.Entry.Category, preview(ev.Entry.Content, previewWidth))
	case ev.ID != 0:
		return fmt.Sprintf("%-8s %d", ev.Type, ev.ID)
	default:
		return string(ev.Type)
	}
}

// preview flattens s onto one line and truncates it to n runes.
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
