// Package thread groups messages into conversations.
package thread

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/k3a/html2text"

	"mailsync/internal/envelope"
	"mailsync/internal/message"
	"mailsync/internal/mime"
)

// Entry is a message inside a thread with its reply split out.
type Entry struct {
	Message      message.Message
	MainResponse string
	// QuotedText is empty when the message quotes nothing.
	QuotedText string
}

type Thread struct {
	ID           string
	Subject      string
	Participants []string
	// Entries are ordered oldest first.
	Entries   []Entry
	Unread    bool
	Starred   bool
	Folder    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

var threadSpace = uuid.MustParse("0b8f7d52-91c4-5e3a-a6d0-4c2e9f1b8a73")

var replyPrefix = regexp.MustCompile(`(?i)^\s*(re|fwd|fw|aw|vs)\s*(\[\d+\])?\s*:\s*`)

// NormalizeSubject strips any run of reply and forward prefixes.
func NormalizeSubject(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		loc := replyPrefix.FindStringIndex(s)
		if loc == nil {
			return s
		}
		s = strings.TrimSpace(s[loc[1]:])
	}
}

// Key returns the bucket a message belongs to: its In-Reply-To, else its
// Message-ID, else its normalized subject.
func Key(m message.Message) string {
	if id := strings.TrimSpace(m.InReplyTo); id != "" {
		return "id:" + id
	}
	if id := strings.TrimSpace(m.MessageID); id != "" {
		return "id:" + id
	}
	return "subject:" + strings.ToLower(NormalizeSubject(m.Subject))
}

// Group clusters msgs into threads, most recently updated first. Messages
// sharing a local id are counted once.
func Group(msgs []message.Message) []Thread {
	buckets := make(map[string][]message.Message)
	seen := make(map[string]bool, len(msgs))
	var keys []string
	for _, m := range msgs {
		if m.ID != "" {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
		}
		k := Key(m)
		if _, ok := buckets[k]; !ok {
			keys = append(keys, k)
		}
		buckets[k] = append(buckets[k], m)
	}

	threads := make([]Thread, 0, len(keys))
	for _, k := range keys {
		threads = append(threads, build(k, buckets[k]))
	}
	sort.SliceStable(threads, func(i, j int) bool {
		if !threads[i].UpdatedAt.Equal(threads[j].UpdatedAt) {
			return threads[i].UpdatedAt.After(threads[j].UpdatedAt)
		}
		return threads[i].ID < threads[j].ID
	})
	return threads
}

func build(key string, msgs []message.Message) Thread {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].Date.Equal(msgs[j].Date) {
			return msgs[i].Date.Before(msgs[j].Date)
		}
		return msgs[i].UID < msgs[j].UID
	})

	first, last := msgs[0], msgs[len(msgs)-1]
	t := Thread{
		ID:        uuid.NewSHA1(threadSpace, []byte(key)).String(),
		Subject:   NormalizeSubject(first.Subject),
		Folder:    last.Folder,
		CreatedAt: first.Date,
		UpdatedAt: last.Date,
	}
	if t.Subject == "" {
		t.Subject = envelope.NoSubject
	}

	participants := make(map[string]bool)
	for _, m := range msgs {
		t.Unread = t.Unread || !m.Read
		t.Starred = t.Starred || m.Starred
		if m.From != "" && !participants[strings.ToLower(m.From)] {
			participants[strings.ToLower(m.From)] = true
			t.Participants = append(t.Participants, m.From)
		}
		t.Entries = append(t.Entries, newEntry(m))
	}
	return t
}

func newEntry(m message.Message) Entry {
	text := m.Body
	if m.IsHTML {
		text = html2text.HTML2Text(text)
	}
	main, quoted := mime.SplitReply(text)
	return Entry{Message: m, MainResponse: main, QuotedText: quoted}
}
