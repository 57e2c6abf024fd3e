package message

import (
	"strconv"
	"testing"
	"time"
)

func TestAssemble(t *testing.T) {
	envRaw := `* 1 FETCH (UID 17 FLAGS (\Seen) ENVELOPE ("Mon, 4 Mar 2024 08:00:00 +0000" "Re: Plans" (("Ann" NIL "ann" "example.com")) NIL NIL (("Me" NIL "me" "example.com")) NIL NIL "<root@example.com>" "<reply@example.com>"))` + "\r\nA003 OK done\r\n"
	payload := "References: <root@example.com> <mid@example.com>\r\nContent-Type: text/plain\r\n\r\nSee you then.\r\n"
	bodyRaw := "* 1 FETCH (UID 17 BODY[] {" + strconv.Itoa(len(payload)) + "}\r\n" + payload + ")\r\nA004 OK done\r\n"

	a := Assembler{Account: "me@example.com", Self: "me@example.com"}
	msg := a.Assemble("INBOX", envRaw, bodyRaw)

	if msg.UID != 17 || msg.Folder != "INBOX" || !msg.Read {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.Body != "See you then." || msg.IsHTML {
		t.Fatalf("unexpected body %q html=%v", msg.Body, msg.IsHTML)
	}
	if len(msg.References) != 2 || msg.References[1] != "<mid@example.com>" {
		t.Fatalf("unexpected references %v", msg.References)
	}
	if msg.InReplyTo != "<root@example.com>" || msg.MessageID != "<reply@example.com>" {
		t.Fatalf("unexpected threading headers %q %q", msg.InReplyTo, msg.MessageID)
	}

	again := a.Assemble("INBOX", envRaw, bodyRaw)
	if again.ID != msg.ID {
		t.Fatalf("expected stable id across parses, got %s and %s", msg.ID, again.ID)
	}
	other := a.Assemble("Archive", envRaw, bodyRaw)
	if other.ID == msg.ID {
		t.Fatalf("expected folder to change the id")
	}
}

func TestAssembleUnknownDate(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := Assembler{Account: "acct", Now: func() time.Time { return now }}

	msg := a.Assemble("INBOX", `* 2 FETCH (ENVELOPE ("yesterday" NIL NIL NIL NIL NIL NIL NIL NIL NIL))`, "")

	if msg.DateKnown || !msg.Date.Equal(now) {
		t.Fatalf("expected substituted date, got %v known=%v", msg.Date, msg.DateKnown)
	}
	if msg.UID != 0 || msg.ID == "" {
		t.Fatalf("expected random id without uid, got %q", msg.ID)
	}
}

func TestLocalID(t *testing.T) {
	if LocalID("a", "INBOX", 1) != LocalID("a", "INBOX", 1) {
		t.Fatalf("expected deterministic id")
	}
	if LocalID("a", "INBOX", 1) == LocalID("b", "INBOX", 1) {
		t.Fatalf("expected account to change the id")
	}
	if LocalID("a", "INBOX", 0) == LocalID("a", "INBOX", 0) {
		t.Fatalf("expected random ids without uid")
	}
}
