package imap

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/server"

	"mailsync/internal/envelope"
	"mailsync/internal/message"
	"mailsync/internal/transport"
	"mailsync/internal/transport/transporttest"
)

var fastPolicy = transport.ReadPolicy{MaxAttempts: 3, Backoff: time.Millisecond}

type reply struct {
	prefix string
	text   string
}

// scripted answers the first reply whose prefix matches the command. "TAG" in
// the reply text is replaced with the command's tag.
func scripted(replies ...reply) transporttest.Handler {
	return func(line string) string {
		tag, cmd := transporttest.Tag(line), transporttest.Command(line)
		for _, r := range replies {
			if strings.HasPrefix(cmd, r.prefix) {
				return strings.ReplaceAll(r.text, "TAG", tag)
			}
		}
		return tag + " BAD unexpected command\r\n"
	}
}

func newSession(t *testing.T, replies ...reply) (*Session, *transporttest.Conn) {
	t.Helper()
	login := reply{"LOGIN", "TAG OK LOGIN completed\r\n"}
	conn := transporttest.New("* OK IMAP4rev1 ready\r\n", scripted(append([]reply{login}, replies...)...))
	s := New(conn, WithReadPolicy(fastPolicy), WithAssembler(message.Assembler{Account: "me@example.com"}))
	ctx := context.Background()
	if _, err := s.ReadGreeting(ctx); err != nil {
		t.Fatalf("greeting: %v", err)
	}
	if err := s.Login(ctx, "me@example.com", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	return s, conn
}

func TestLoginFailure(t *testing.T) {
	conn := transporttest.New("* OK ready\r\n", scripted(reply{"LOGIN", "TAG NO [AUTHENTICATIONFAILED] Invalid credentials\r\n"}))
	s := New(conn, WithReadPolicy(fastPolicy))
	ctx := context.Background()

	if _, err := s.ReadGreeting(ctx); err != nil {
		t.Fatalf("greeting: %v", err)
	}
	err := s.Login(ctx, "me", `pa"ss`)

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if authErr.Status != "NO" {
		t.Fatalf("unexpected status %q", authErr.Status)
	}
	if s.Connected() {
		t.Fatalf("session must not be marked connected")
	}
	sent := conn.Sent()
	if len(sent) != 1 || sent[0] != `A001 LOGIN "me" "pa\"ss"` {
		t.Fatalf("unexpected wire output %q", sent)
	}
	if _, err := s.SearchAll(ctx); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestLoginWithoutCompletion(t *testing.T) {
	conn := transporttest.New("* OK ready\r\n", func(string) string { return "* CAPABILITY IMAP4rev1\r\n" })
	s := New(conn, WithReadPolicy(fastPolicy))
	ctx := context.Background()
	_, _ = s.ReadGreeting(ctx)

	var authErr *AuthError
	if err := s.Login(ctx, "me", "x"); !errors.As(err, &authErr) || authErr.Status != "" {
		t.Fatalf("expected AuthError without status, got %v", err)
	}
}

func TestGreetingBye(t *testing.T) {
	s := New(transporttest.New("* BYE too many connections\r\n", nil), WithReadPolicy(fastPolicy))

	_, err := s.ReadGreeting(context.Background())

	var se *ServerError
	if !errors.As(err, &se) || se.Status != "BYE" {
		t.Fatalf("expected BYE server error, got %v", err)
	}
}

func TestSelectFolder(t *testing.T) {
	s, _ := newSession(t,
		reply{`SELECT "INBOX"`, "* 3 EXISTS\r\n* 0 RECENT\r\n* OK [UIDVALIDITY 1700] ok\r\n* OK [UIDNEXT 9] next\r\nTAG OK [READ-WRITE] SELECT completed\r\n"},
		reply{`SELECT "Missing"`, "TAG NO Mailbox doesn't exist\r\n"},
	)
	ctx := context.Background()

	mb, err := s.SelectFolder(ctx, "INBOX")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if mb.Exists != 3 || mb.UIDValidity != 1700 || mb.UIDNext != 9 {
		t.Fatalf("unexpected mailbox %+v", mb)
	}

	_, err = s.SelectFolder(ctx, "Missing")
	var se *ServerError
	if !errors.As(err, &se) || se.Folder != "Missing" || se.Status != "NO" {
		t.Fatalf("expected select ServerError, got %v", err)
	}
	if s.Selected() != "" {
		t.Fatalf("failed select must clear the selection")
	}
}

func TestSelectEncodesFolderName(t *testing.T) {
	s, conn := newSession(t, reply{"SELECT", "TAG OK done\r\n"})

	if _, err := s.SelectFolder(context.Background(), "Entwürfe"); err != nil {
		t.Fatalf("select: %v", err)
	}
	sent := conn.Sent()
	if got := sent[len(sent)-1]; got != `A002 SELECT "Entw&APw-rfe"` {
		t.Fatalf("unexpected command %q", got)
	}
}

func TestSearch(t *testing.T) {
	s, conn := newSession(t,
		reply{"SEARCH ALL", "* SEARCH 1 2 3\r\nTAG OK SEARCH completed\r\n"},
		reply{"UID SEARCH UID 6:*", "* SEARCH 5\r\nTAG OK SEARCH completed\r\n"},
		reply{"UID SEARCH UID 3:*", "* SEARCH 3 4\r\n* SEARCH 8\r\nTAG OK SEARCH completed\r\n"},
	)
	ctx := context.Background()

	all, err := s.SearchAll(ctx)
	if err != nil || len(all) != 3 || all[2] != 3 {
		t.Fatalf("unexpected search result %v err=%v", all, err)
	}

	none, err := s.SearchUIDsAfter(ctx, 5)
	if err != nil || len(none) != 0 {
		t.Fatalf("expected highest uid to be filtered out, got %v err=%v", none, err)
	}

	some, err := s.SearchUIDsAfter(ctx, 2)
	if err != nil || len(some) != 3 || some[0] != 3 || some[2] != 8 {
		t.Fatalf("unexpected uids %v err=%v", some, err)
	}

	sent := conn.Sent()
	for i, line := range sent {
		if want := "A00" + strconv.Itoa(i+1); transporttest.Tag(line) != want {
			t.Fatalf("expected monotonic tags, line %d is %q", i, line)
		}
	}
}

func TestFetchBodyIgnoresTagInsideLiteral(t *testing.T) {
	payload := "Subject: tricky\r\n\r\nA002 OK this line is body text\r\n"
	body := "* 1 FETCH (UID 4 BODY[] {" + strconv.Itoa(len(payload)) + "}\r\n" + payload + ")\r\nTAG OK FETCH completed\r\n"
	s, conn := newSession(t, reply{"FETCH 1 (UID BODY.PEEK[])", body})
	conn.ChunkSize = 7

	raw, err := s.FetchFullBody(context.Background(), 1)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !strings.HasSuffix(raw, "A002 OK FETCH completed\r\n") {
		t.Fatalf("completion detected too early: %q", raw)
	}
}

func TestCompletionWithOversizedLiteral(t *testing.T) {
	buf := []byte("* 1 FETCH (BODY[] {9223372036854775807}\r\nabc\r\nA001 OK FETCH completed\r\n")

	if _, ok := completion(buf, "A001", false, false); ok {
		t.Fatalf("a literal longer than the buffer must keep the response incomplete")
	}
}

func TestLenientCommands(t *testing.T) {
	s, conn := newSession(t,
		reply{"UID STORE", "TAG NO [CANNOT] read-only\r\n"},
		reply{"UID COPY", "TAG OK COPY completed\r\n"},
		reply{"EXPUNGE", "TAG BAD not now\r\n"},
	)
	ctx := context.Background()

	if ok, err := s.StoreFlag(ctx, 7, imap.SeenFlag, true); err != nil || ok {
		t.Fatalf("declined store must report ok=false without error: %v %v", ok, err)
	}
	if ok, err := s.StoreFlag(ctx, 7, imap.FlaggedFlag, false); err != nil || ok {
		t.Fatalf("store: %v %v", ok, err)
	}
	if ok, err := s.CopyTo(ctx, 7, "Archive"); err != nil || !ok {
		t.Fatalf("copy: %v %v", ok, err)
	}
	if _, err := s.MarkDeleted(ctx, 7); err != nil {
		t.Fatalf("mark deleted: %v", err)
	}
	if ok, err := s.Expunge(ctx); err != nil || ok {
		t.Fatalf("declined expunge must report ok=false without error: %v %v", ok, err)
	}

	want := []string{
		`A002 UID STORE 7 +FLAGS.SILENT (\Seen)`,
		`A003 UID STORE 7 -FLAGS.SILENT (\Flagged)`,
		`A004 UID COPY 7 "Archive"`,
		`A005 UID STORE 7 +FLAGS.SILENT (\Deleted)`,
		`A006 EXPUNGE`,
	}
	sent := conn.Sent()[1:]
	if len(sent) != len(want) {
		t.Fatalf("unexpected commands %q", sent)
	}
	for i := range want {
		if sent[i] != want[i] {
			t.Fatalf("command %d = %q, want %q", i, sent[i], want[i])
		}
	}
}

func TestCopyCheckedReportsRefusal(t *testing.T) {
	s, conn := newSession(t, reply{"UID COPY", "TAG NO [TRYCREATE] no such mailbox\r\n"})
	ctx := context.Background()

	err := s.CopyChecked(ctx, 2, "Trash")
	var serverErr *ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("expected server error, got %v", err)
	}
	if serverErr.Status != "NO" || serverErr.Folder != "Trash" || !strings.Contains(serverErr.Text, "TRYCREATE") {
		t.Fatalf("unexpected error %+v", serverErr)
	}
	if sent := conn.Sent(); sent[len(sent)-1] != `A002 UID COPY 2 "Trash"` {
		t.Fatalf("unexpected commands %q", sent)
	}
}

func TestTransportFailurePropagates(t *testing.T) {
	s, conn := newSession(t)
	conn.SendErr = errors.New("broken pipe")

	if _, err := s.Expunge(context.Background()); err == nil {
		t.Fatalf("expected transport error")
	}
}

func fetchReplies(n int) []reply {
	var replies []reply
	for i := 1; i <= n; i++ {
		id := strconv.Itoa(i)
		env := "* " + id + " FETCH (UID " + id + " FLAGS () ENVELOPE (\"Mon, " + id + " Apr 2024 10:00:00 +0000\" \"Message " + id + "\" ((NIL NIL \"a\" \"example.com\")) NIL NIL NIL NIL NIL NIL \"<m" + id + "@example.com>\"))\r\nTAG OK FETCH completed\r\n"
		payload := "Content-Type: text/plain\r\n\r\nbody " + id + "\r\n"
		body := "* " + id + " FETCH (UID " + id + " BODY[] {" + strconv.Itoa(len(payload)) + "}\r\n" + payload + ")\r\nTAG OK FETCH completed\r\n"
		replies = append(replies,
			reply{"FETCH " + id + " (UID FLAGS ENVELOPE)", env},
			reply{"FETCH " + id + " (UID BODY.PEEK[])", body},
		)
	}
	return replies
}

func TestFetchRecent(t *testing.T) {
	replies := append([]reply{
		{`SELECT "INBOX"`, "* 3 EXISTS\r\nTAG OK SELECT completed\r\n"},
		{"SEARCH ALL", "* SEARCH 1 2 3\r\nTAG OK SEARCH completed\r\n"},
	}, fetchReplies(3)...)
	s, _ := newSession(t, replies...)

	got, err := s.FetchRecent(context.Background(), "INBOX", 2)
	if err != nil {
		t.Fatalf("fetch recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected limit to apply, got %d", len(got))
	}
	if got[0].UID != 2 || got[1].UID != 3 {
		t.Fatalf("expected newest messages, got %d and %d", got[0].UID, got[1].UID)
	}
	if got[1].Message.Subject != "Message 3" || got[1].Message.Body != "body 3" || got[1].Message.Folder != "INBOX" {
		t.Fatalf("unexpected message %+v", got[1].Message)
	}
}

func TestFetchSinceSkipsRefusedEnvelope(t *testing.T) {
	s, _ := newSession(t,
		reply{`SELECT "INBOX"`, "TAG OK SELECT completed\r\n"},
		reply{"UID SEARCH UID 11:*", "* SEARCH 11 12\r\nTAG OK SEARCH completed\r\n"},
		reply{"UID FETCH 11 (UID FLAGS ENVELOPE)", "TAG NO message vanished\r\n"},
		reply{"UID FETCH 12 (UID FLAGS ENVELOPE)", "* 2 FETCH (FLAGS (\\Seen) ENVELOPE (NIL \"late\" NIL NIL NIL NIL NIL NIL NIL NIL))\r\nTAG OK done\r\n"},
		reply{"UID FETCH 12 (UID BODY.PEEK[])", "TAG OK done\r\n"},
	)

	got, err := s.FetchSince(context.Background(), "INBOX", 10, 50)
	if err != nil {
		t.Fatalf("fetch since: %v", err)
	}
	if len(got) != 1 || got[0].UID != 12 || got[0].Message.Subject != "late" || !got[0].Message.Read {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestAuthenticateTokenContinuation(t *testing.T) {
	var lastTag string
	conn := transporttest.New("* OK ready\r\n", func(line string) string {
		if line == "" {
			return lastTag + " NO SASL authentication failed\r\n"
		}
		lastTag = transporttest.Tag(line)
		return "+ eyJzdGF0dXMiOiJpbnZhbGlkX3Rva2VuIn0=\r\n"
	})
	s := New(conn, WithReadPolicy(fastPolicy))
	ctx := context.Background()
	_, _ = s.ReadGreeting(ctx)

	err := s.AuthenticateToken(ctx, "me@example.com", "tok", "imap.example.com", 993)

	var authErr *AuthError
	if !errors.As(err, &authErr) || authErr.Mechanism != "OAUTHBEARER" || authErr.Status != "NO" {
		t.Fatalf("expected OAUTHBEARER AuthError, got %v", err)
	}
	if !strings.Contains(authErr.Text, "invalid_token") {
		t.Fatalf("expected server challenge in error, got %q", authErr.Text)
	}
	if s.Connected() {
		t.Fatalf("session must not be connected")
	}
	if sent := conn.Sent(); !strings.HasPrefix(sent[0], "A001 AUTHENTICATE OAUTHBEARER ") {
		t.Fatalf("unexpected command %q", sent[0])
	}
}

func TestAuthenticateTokenSuccess(t *testing.T) {
	conn := transporttest.New("* OK ready\r\n", func(line string) string {
		return transporttest.Tag(line) + " OK authenticated\r\n"
	})
	s := New(conn, WithReadPolicy(fastPolicy))
	ctx := context.Background()
	_, _ = s.ReadGreeting(ctx)

	if err := s.AuthenticateToken(ctx, "me@example.com", "tok", "imap.example.com", 993); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if !s.Connected() {
		t.Fatalf("expected connected session")
	}
}

func TestLogoutClosesTransport(t *testing.T) {
	s, conn := newSession(t, reply{"LOGOUT", "* BYE logging out\r\nTAG OK LOGOUT completed\r\n"})

	if err := s.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if !conn.Closed() || s.Connected() {
		t.Fatalf("expected closed, disconnected session")
	}
}

func TestSessionAgainstServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := server.New(memory.New())
	srv.AllowInsecureAuth = true
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	ctx := context.Background()
	port := ln.Addr().(*net.TCPAddr).Port
	s, err := Dial(ctx, transport.Params{Host: "127.0.0.1", Port: port},
		WithAssembler(message.Assembler{Account: "username"}))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := s.Login(ctx, "username", "password"); err != nil {
		t.Fatalf("login: %v", err)
	}

	mb, err := s.SelectFolder(ctx, "INBOX")
	if err != nil || mb.Exists != 1 {
		t.Fatalf("select: %+v err=%v", mb, err)
	}

	fetched, err := s.FetchRecent(ctx, "INBOX", 10)
	if err != nil {
		t.Fatalf("fetch recent: %v", err)
	}
	if len(fetched) != 1 {
		t.Fatalf("expected one message, got %d", len(fetched))
	}
	msg := fetched[0].Message
	if msg.Subject != "A little message, just for you" || msg.From != "contact@example.org" {
		t.Fatalf("unexpected envelope %+v", msg)
	}
	if msg.Body != "Hi there :)" || !msg.Read || fetched[0].UID == 0 {
		t.Fatalf("unexpected message %+v", msg)
	}

	uid := fetched[0].UID
	after, err := s.SearchUIDsAfter(ctx, uid)
	if err != nil || len(after) != 0 {
		t.Fatalf("expected nothing newer than %d, got %v err=%v", uid, after, err)
	}

	if _, err := s.StoreFlag(ctx, uid, imap.FlaggedFlag, true); err != nil {
		t.Fatalf("store: %v", err)
	}
	raw, err := s.UIDFetchEnvelopeAndFlags(ctx, uid)
	if err != nil {
		t.Fatalf("fetch flags: %v", err)
	}
	if env := envelope.Parse(raw, "", nil); !env.Starred {
		t.Fatalf("expected flagged message, flags=%v", env.Flags)
	}

	if err := s.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
}
