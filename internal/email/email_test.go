package email

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gomail "github.com/emersion/go-message/mail"

	"mailsync/internal/message"
)

func TestBuildPlain(t *testing.T) {
	raw, err := Build(Compose{
		From:       "Me <me@example.com>",
		To:         []string{"a@example.com"},
		Bcc:        []string{"hidden@example.com"},
		Subject:    "Grüße",
		Body:       "café = good",
		InReplyTo:  "<parent@example.com>",
		References: []string{"<root@example.com>", "<parent@example.com>"},
		Date:       time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if bytes.Contains(raw, []byte("hidden@example.com")) {
		t.Fatalf("bcc must not appear in headers")
	}

	r, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if subject, _ := r.Header.Subject(); subject != "Grüße" {
		t.Fatalf("unexpected subject %q", subject)
	}
	if id, _ := r.Header.MessageID(); !strings.HasSuffix(id, "@example.com") {
		t.Fatalf("unexpected message id %q", id)
	}
	refs, _ := r.Header.MsgIDList("References")
	if len(refs) != 2 || refs[0] != "root@example.com" {
		t.Fatalf("unexpected references %v", refs)
	}
	part, err := r.NextPart()
	if err != nil {
		t.Fatalf("next part: %v", err)
	}
	body, _ := io.ReadAll(part.Body)
	if string(body) != "café = good" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestBuildWithAttachment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("attached"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	raw, err := Build(Compose{From: "me@example.com", To: []string{"a@example.com"}, Subject: "files", Body: "see file", Attachments: []string{path}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	r, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	var names []string
	for {
		p, err := r.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("next part: %v", err)
		}
		if h, ok := p.Header.(*gomail.AttachmentHeader); ok {
			name, _ := h.Filename()
			names = append(names, name)
		}
	}
	if len(names) != 1 || names[0] != "notes.txt" {
		t.Fatalf("unexpected attachments %v", names)
	}
}

func TestBuildRequiresSender(t *testing.T) {
	if _, err := Build(Compose{To: []string{"a@example.com"}}); err != ErrNoSender {
		t.Fatalf("expected ErrNoSender, got %v", err)
	}
}

func TestRecipients(t *testing.T) {
	got := Recipients(Compose{
		To:  []string{"A <a@example.com>", "b@example.com"},
		Cc:  []string{"a@example.com"},
		Bcc: []string{"c@example.com"},
	})
	if len(got) != 3 || got[0] != "a@example.com" || got[2] != "c@example.com" {
		t.Fatalf("unexpected recipients %v", got)
	}
}

func TestReplyHeaders(t *testing.T) {
	m := message.Message{MessageID: "<c@example.com>", References: []string{"<a@example.com>", "<b@example.com>"}}
	inReplyTo, refs := ReplyHeaders(m)
	if inReplyTo != "<c@example.com>" || len(refs) != 3 || refs[2] != "<c@example.com>" {
		t.Fatalf("unexpected headers %q %v", inReplyTo, refs)
	}

	bare := message.Message{MessageID: "<x@example.com>", InReplyTo: "<w@example.com>"}
	if _, refs := ReplyHeaders(bare); len(refs) != 2 || refs[0] != "<w@example.com>" {
		t.Fatalf("expected in-reply-to to seed references, got %v", refs)
	}
}

func TestReplyAll(t *testing.T) {
	m := message.Message{
		From:    "Ann <ann@example.com>",
		To:      []string{"Me <me@example.com>", "bob@example.com"},
		Cc:      []string{"carol@example.com", "bob@example.com"},
		Subject: "Plans",
		Body:    "<p>See you <b>soon</b></p>",
		IsHTML:  true,
	}

	c := Reply(m, "me@example.com", "Sounds good", true)

	if c.Subject != "Re: Plans" {
		t.Fatalf("unexpected subject %q", c.Subject)
	}
	if len(c.To) != 2 || c.To[0] != "ann@example.com" || c.To[1] != "bob@example.com" {
		t.Fatalf("unexpected to %v", c.To)
	}
	if len(c.Cc) != 1 || c.Cc[0] != "carol@example.com" {
		t.Fatalf("unexpected cc %v", c.Cc)
	}
	if !strings.Contains(c.Body, "> See you soon") || strings.Contains(c.Body, "<b>") {
		t.Fatalf("expected flattened quote, got %q", c.Body)
	}
}

func TestReplySubject(t *testing.T) {
	tests := map[string]string{
		"Hello":     "Re: Hello",
		"RE: Hello": "RE: Hello",
		"  ":        "",
	}
	for in, want := range tests {
		if got := ReplySubject(in); got != want {
			t.Fatalf("ReplySubject(%q) = %q, want %q", in, got, want)
		}
	}
}
