package envelope

import (
	"testing"
	"time"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func now() time.Time { return fixedNow }

func TestParseFullEnvelope(t *testing.T) {
	raw := `* 12 FETCH (UID 42 FLAGS (\Seen \Flagged) ENVELOPE ("Tue, 5 Mar 2024 09:15:00 +0100 (CET)" "Quarterly \"numbers\"" (("Alice Doe" NIL "alice" "example.com")) (("Alice Doe" NIL "alice" "example.com")) NIL (("Bob" NIL "bob" "example.org") (NIL NIL "carol" "example.net")) ((NIL NIL "dave" "example.com")) NIL "<parent@example.com>" "<msg-1@example.com>"))` + "\r\nA003 OK FETCH completed\r\n"

	env := Parse(raw, "me@example.com", now)

	if env.SeqNum != 12 || env.UID != 42 {
		t.Fatalf("unexpected ids: seq=%d uid=%d", env.SeqNum, env.UID)
	}
	if !env.Read || !env.Starred {
		t.Fatalf("expected read and starred, flags=%v", env.Flags)
	}
	if env.Subject != `Quarterly "numbers"` {
		t.Fatalf("unexpected subject %q", env.Subject)
	}
	if env.From != "Alice Doe <alice@example.com>" {
		t.Fatalf("unexpected from %q", env.From)
	}
	if len(env.To) != 2 || env.To[0] != "Bob <bob@example.org>" || env.To[1] != "carol@example.net" {
		t.Fatalf("unexpected to %v", env.To)
	}
	if len(env.Cc) != 1 || env.Cc[0] != "dave@example.com" {
		t.Fatalf("unexpected cc %v", env.Cc)
	}
	if env.InReplyTo != "<parent@example.com>" || env.MessageID != "<msg-1@example.com>" {
		t.Fatalf("unexpected threading headers %q %q", env.InReplyTo, env.MessageID)
	}
	want := time.Date(2024, 3, 5, 8, 15, 0, 0, time.UTC)
	if !env.DateKnown || !env.Date.Equal(want) {
		t.Fatalf("unexpected date %v known=%v", env.Date, env.DateKnown)
	}
}

func TestParsePlaceholders(t *testing.T) {
	raw := "* 1 FETCH (FLAGS () ENVELOPE (NIL NIL NIL NIL NIL NIL NIL NIL NIL NIL))\r\n"

	env := Parse(raw, "me@example.com", now)

	if env.Subject != NoSubject {
		t.Fatalf("expected placeholder subject, got %q", env.Subject)
	}
	if env.From != UnknownSender {
		t.Fatalf("expected placeholder sender, got %q", env.From)
	}
	if len(env.To) != 1 || env.To[0] != "me@example.com" {
		t.Fatalf("expected self recipient, got %v", env.To)
	}
	if env.Read {
		t.Fatalf("expected unread")
	}
	if env.DateKnown || !env.Date.Equal(fixedNow) {
		t.Fatalf("expected fallback date, got %v known=%v", env.Date, env.DateKnown)
	}
}

func TestParseLiteralSubjectAndEncodedWords(t *testing.T) {
	subject := "Line with ) paren"
	raw := "* 3 FETCH (UID 7 ENVELOPE (\"Wed, 6 Mar 2024 10:00:00 +0000\" {17}\r\n" + subject +
		" ((\"=?UTF-8?B?SsO8cmdlbg==?=\" NIL \"j\" \"example.de\")) NIL NIL NIL NIL NIL NIL NIL) FLAGS (\\Answered))\r\n"

	env := Parse(raw, "", now)

	if env.Subject != subject {
		t.Fatalf("unexpected subject %q", env.Subject)
	}
	if env.From != "Jürgen <j@example.de>" {
		t.Fatalf("unexpected from %q", env.From)
	}
	if !env.Answered || env.Read {
		t.Fatalf("unexpected flags %v", env.Flags)
	}
	if len(env.To) != 1 || env.To[0] != UndisclosedRecipient {
		t.Fatalf("unexpected default recipient %v", env.To)
	}
}

func TestParseOversizedLiteral(t *testing.T) {
	raw := "* 3 FETCH (UID 7 ENVELOPE (\"Wed, 6 Mar 2024 10:00:00 +0000\" {9223372036854775807}\r\nshort) FLAGS (\\Seen))\r\n"

	env := Parse(raw, "me", now)

	if env.From != UnknownSender {
		t.Fatalf("unexpected from %q", env.From)
	}
}

func TestParseMalformedFallsBackToFlagScan(t *testing.T) {
	raw := "garbage before\r\nno fetch here but \\Seen appears\r\n"

	env := Parse(raw, "me", now)

	if !env.Read {
		t.Fatalf("expected read flag from whole-line scan")
	}
	if env.Subject != NoSubject || env.From != UnknownSender {
		t.Fatalf("expected placeholders, got %q %q", env.Subject, env.From)
	}
}

func TestParseAbbreviatedAddressPairs(t *testing.T) {
	raw := `* 2 FETCH (ENVELOPE ("2 Jan 2024 10:00:00 -0500" "Hi" (("ann" "example.com")) NIL NIL (("ben" "example.com")) NIL NIL NIL NIL))`

	env := Parse(raw, "", now)

	if env.From != "ann@example.com" {
		t.Fatalf("unexpected from %q", env.From)
	}
	if len(env.To) != 1 || env.To[0] != "ben@example.com" {
		t.Fatalf("unexpected to %v", env.To)
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		ok   bool
		want time.Time
	}{
		{"Mon, 4 Mar 2024 08:00:00 +0000", true, time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)},
		{"Mon, 04 Mar 2024 08:00:00 +0000 (UTC)", true, time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)},
		{"4 Mar 2024 08:00:00 +0000", true, time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)},
		{"not a date", false, time.Time{}},
		{"", false, time.Time{}},
	}
	for _, tt := range tests {
		got, ok := ParseDate(tt.in)
		if ok != tt.ok {
			t.Fatalf("ParseDate(%q) ok=%v, want %v", tt.in, ok, tt.ok)
		}
		if ok && !got.Equal(tt.want) {
			t.Fatalf("ParseDate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
