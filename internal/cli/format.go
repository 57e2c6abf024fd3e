package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"mailsync/internal/message"
	"mailsync/internal/thread"
)

const subjectWidth = 60

func printMessages(out io.Writer, messages []message.Message) {
	tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "UID\tDATE\tFLAGS\tFROM\tSUBJECT")
	for _, msg := range messages {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", msg.UID, formatDate(msg.Date, msg.DateKnown), flagMarks(msg.Read, msg.Starred), msg.From, truncate(msg.Subject, subjectWidth))
	}
	_ = tw.Flush()
}

func printThreads(out io.Writer, threads []thread.Thread) {
	tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "THREAD\tUPDATED\tFLAGS\tCOUNT\tSUBJECT\tPARTICIPANTS")
	for _, t := range threads {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			shortID(t.ID), formatDate(t.UpdatedAt, true), flagMarks(!t.Unread, t.Starred), len(t.Entries),
			truncate(t.Subject, subjectWidth), strings.Join(t.Participants, ", "))
	}
	_ = tw.Flush()
}

func printThread(out io.Writer, t thread.Thread) {
	fmt.Fprintf(out, "Thread: %s\n", t.Subject)
	fmt.Fprintf(out, "Participants: %s\n", strings.Join(t.Participants, ", "))
	for _, e := range t.Entries {
		fmt.Fprintln(out, "")
		fmt.Fprintf(out, "--- %s  %s  [%s uid %d]\n", formatDate(e.Message.Date, e.Message.DateKnown), e.Message.From, e.Message.Folder, e.Message.UID)
		fmt.Fprintln(out, e.MainResponse)
	}
}

func formatDate(t time.Time, known bool) string {
	if t.IsZero() || !known {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// flagMarks renders unread as "N" and starred as "*".
func flagMarks(read, starred bool) string {
	marks := ""
	if !read {
		marks += "N"
	}
	if starred {
		marks += "*"
	}
	return marks
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
