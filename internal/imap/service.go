// Package imap implements a tagged IMAP command/response engine over a
// transport connection. One command is in flight at a time per session.
package imap

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-sasl"
	"github.com/rs/zerolog"

	"mailsync/internal/message"
	"mailsync/internal/transport"
)

type Session struct {
	mu        sync.Mutex
	conn      transport.Conn
	tag       int
	connected bool
	selected  string

	log       zerolog.Logger
	policy    transport.ReadPolicy
	assembler message.Assembler
}

type Option func(*Session)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

func WithReadPolicy(p transport.ReadPolicy) Option {
	return func(s *Session) { s.policy = p }
}

// WithAssembler sets how fetched responses are turned into Messages.
func WithAssembler(a message.Assembler) Option {
	return func(s *Session) { s.assembler = a }
}

// New wraps an open connection. The caller still has to read the greeting.
func New(conn transport.Conn, opts ...Option) *Session {
	s := &Session{
		conn:   conn,
		log:    zerolog.Nop(),
		policy: transport.DefaultReadPolicy,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dial opens the transport and consumes the server greeting.
func Dial(ctx context.Context, p transport.Params, opts ...Option) (*Session, error) {
	conn, err := transport.Open(ctx, p)
	if err != nil {
		return nil, err
	}
	s := New(conn, opts...)
	if _, err := s.ReadGreeting(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

// ReadGreeting waits for the first untagged line.
func (s *Session) ReadGreeting(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, complete, err := transport.ReadUntil(ctx, s.conn, s.policy, func(b []byte) bool {
		_, ok := completion(b, "", false, true)
		return ok
	})
	if err != nil {
		return "", err
	}
	if !complete {
		return "", ErrNoGreeting
	}
	line, _ := completion(buf, "", false, true)
	if strings.HasPrefix(strings.ToUpper(line), "* BYE") {
		return line, &ServerError{Command: "GREETING", Status: "BYE", Text: strings.TrimSpace(line[5:])}
	}
	return line, nil
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Selected returns the currently selected folder.
func (s *Session) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Login authenticates with LOGIN. Anything but a tagged OK is an AuthError.
func (s *Session) Login(ctx context.Context, username, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = false
	resp, err := s.execute(ctx, "LOGIN "+quote(username)+" "+quote(password))
	if err != nil {
		return err
	}
	if !resp.OK() {
		return &AuthError{Mechanism: "LOGIN", Status: resp.Status, Text: resp.Text}
	}
	s.connected = true
	s.log.Debug().Str("user", username).Msg("imap authenticated")
	return nil
}

// AuthenticateToken authenticates with SASL OAUTHBEARER, sending the client
// response inline. A continuation from the server carries an error challenge;
// it is answered with an empty line and reported as an AuthError.
func (s *Session) AuthenticateToken(ctx context.Context, username, token, host string, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = false
	client := sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
		Username: username,
		Token:    token,
		Host:     host,
		Port:     port,
	})
	mech, ir, err := client.Start()
	if err != nil {
		return err
	}

	tag := s.nextTag()
	line := fmt.Sprintf("%s AUTHENTICATE %s %s\r\n", tag, mech, base64.StdEncoding.EncodeToString(ir))
	if err := s.conn.Send([]byte(line)); err != nil {
		return err
	}
	resp, err := s.await(ctx, tag, true)
	if err != nil {
		return err
	}
	if resp.Status == statusContinuation {
		detail := resp.Text
		if raw, derr := base64.StdEncoding.DecodeString(resp.Text); derr == nil {
			detail = string(raw)
		}
		if err := s.conn.Send([]byte("\r\n")); err != nil {
			return err
		}
		final, err := s.await(ctx, tag, false)
		if err != nil {
			return err
		}
		return &AuthError{Mechanism: mech, Status: final.Status, Text: strings.TrimSpace(final.Text + " " + detail)}
	}
	if !resp.OK() {
		return &AuthError{Mechanism: mech, Status: resp.Status, Text: resp.Text}
	}
	s.connected = true
	return nil
}

// Logout ends the session and closes the transport on every path.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	defer func() {
		s.connected = false
		s.selected = ""
	}()
	resp, err := s.execute(ctx, "LOGOUT")
	if err == nil && !resp.OK() {
		s.log.Warn().Str("status", resp.Status).Msg("imap logout not acknowledged")
	}
	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close releases the transport without saying goodbye.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return s.conn.Close()
}

func (s *Session) SelectFolder(ctx context.Context, name string) (Mailbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectFolder(ctx, name)
}

func (s *Session) selectFolder(ctx context.Context, name string) (Mailbox, error) {
	if !s.connected {
		return Mailbox{}, ErrNotConnected
	}
	resp, err := s.execute(ctx, "SELECT "+mailboxName(name))
	if err != nil {
		return Mailbox{}, err
	}
	if !resp.OK() {
		s.selected = ""
		return Mailbox{}, &ServerError{Command: "SELECT", Folder: name, Status: resp.Status, Text: resp.Text}
	}
	s.selected = name

	mb := Mailbox{Name: name}
	for _, line := range resp.untagged() {
		fields := strings.Fields(line)
		switch {
		case len(fields) >= 3 && strings.EqualFold(fields[2], "EXISTS"):
			if n, err := strconv.ParseUint(fields[1], 10, 32); err == nil {
				mb.Exists = uint32(n)
			}
		case len(fields) >= 4 && strings.EqualFold(fields[1], "OK"):
			code := strings.TrimPrefix(strings.ToUpper(fields[2]), "[")
			value := strings.TrimSuffix(fields[3], "]")
			n, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				continue
			}
			switch code {
			case "UIDVALIDITY":
				mb.UIDValidity = uint32(n)
			case "UIDNEXT":
				mb.UIDNext = uint32(n)
			}
		}
	}
	return mb, nil
}

// SearchAll returns the sequence numbers of every message in the selected folder.
func (s *Session) SearchAll(ctx context.Context) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.search(ctx, "SEARCH ALL")
}

// SearchUIDsAfter returns the UIDs strictly greater than uid. The server
// answers "n:*" with the highest UID even when it is below n, so the result
// is filtered here.
func (s *Session) SearchUIDsAfter(ctx context.Context, uid uint32) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searchUIDsAfter(ctx, uid)
}

func (s *Session) searchUIDsAfter(ctx context.Context, uid uint32) ([]uint32, error) {
	set := new(imap.SeqSet)
	set.AddRange(uid+1, 0)
	uids, err := s.search(ctx, "UID SEARCH UID "+set.String())
	if err != nil {
		return nil, err
	}
	out := uids[:0]
	for _, u := range uids {
		if u > uid {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *Session) search(ctx context.Context, command string) ([]uint32, error) {
	if !s.connected {
		return nil, ErrNotConnected
	}
	resp, err := s.execute(ctx, command)
	if err != nil {
		return nil, err
	}
	if resp.Complete && !resp.OK() {
		return nil, &ServerError{Command: "SEARCH", Folder: s.selected, Status: resp.Status, Text: resp.Text}
	}
	var ids []uint32
	for _, line := range resp.untagged() {
		fields := strings.Fields(line)
		if len(fields) >= 2 && strings.EqualFold(fields[1], "SEARCH") {
			ids = append(ids, parseNumbers(fields[2:])...)
		}
	}
	return ids, nil
}

// FetchEnvelopeAndFlags returns the raw response for a sequence number.
func (s *Session) FetchEnvelopeAndFlags(ctx context.Context, seq uint32) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetch(ctx, "FETCH", seq, "(UID FLAGS ENVELOPE)")
}

// FetchFullBody returns the raw BODY[] response without setting \Seen.
func (s *Session) FetchFullBody(ctx context.Context, seq uint32) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetch(ctx, "FETCH", seq, "(UID BODY.PEEK[])")
}

func (s *Session) UIDFetchEnvelopeAndFlags(ctx context.Context, uid uint32) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetch(ctx, "UID FETCH", uid, "(UID FLAGS ENVELOPE)")
}

func (s *Session) UIDFetchFullBody(ctx context.Context, uid uint32) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetch(ctx, "UID FETCH", uid, "(UID BODY.PEEK[])")
}

func (s *Session) fetch(ctx context.Context, verb string, id uint32, items string) (string, error) {
	if !s.connected {
		return "", ErrNotConnected
	}
	resp, err := s.execute(ctx, fmt.Sprintf("%s %d %s", verb, id, items))
	if err != nil {
		return "", err
	}
	if resp.Complete && !resp.OK() {
		return resp.Raw, &ServerError{Command: verb, Folder: s.selected, Status: resp.Status, Text: resp.Text}
	}
	return resp.Raw, nil
}

// StoreFlag adds or removes flag on uid. A declined STORE is logged and
// reported as ok == false, not as an error.
func (s *Session) StoreFlag(ctx context.Context, uid uint32, flag string, add bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var op imap.FlagsOp = imap.RemoveFlags
	if add {
		op = imap.AddFlags
	}
	item := imap.FormatFlagsOp(op, true)
	return s.lenient(ctx, "STORE", fmt.Sprintf("UID STORE %d %s (%s)", uid, item, flag))
}

// CopyTo copies uid into folder. A declined COPY is logged only.
func (s *Session) CopyTo(ctx context.Context, uid uint32, folder string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lenient(ctx, "COPY", copyCommand(uid, folder))
}

// CopyChecked is CopyTo for callers that delete the source afterwards: a
// declined COPY is returned as a *ServerError.
func (s *Session) CopyChecked(ctx context.Context, uid uint32, folder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return ErrNotConnected
	}
	resp, err := s.execute(ctx, copyCommand(uid, folder))
	if err != nil {
		return err
	}
	if !resp.OK() {
		return &ServerError{Command: "COPY", Folder: folder, Status: resp.Status, Text: resp.Text}
	}
	return nil
}

func copyCommand(uid uint32, folder string) string {
	return fmt.Sprintf("UID COPY %d %s", uid, mailboxName(folder))
}

func (s *Session) MarkDeleted(ctx context.Context, uid uint32) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	return s.lenient(ctx, "STORE", fmt.Sprintf("UID STORE %d %s (%s)", uid, item, imap.DeletedFlag))
}

func (s *Session) Expunge(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lenient(ctx, "EXPUNGE", "EXPUNGE")
}

// lenient runs a command whose refusal does not stop the caller. ok is false
// when the server declined; transport failures are still returned.
func (s *Session) lenient(ctx context.Context, name, command string) (ok bool, err error) {
	if !s.connected {
		return false, ErrNotConnected
	}
	resp, err := s.execute(ctx, command)
	if err != nil {
		return false, err
	}
	if !resp.OK() {
		s.log.Warn().
			Str("tag", resp.Tag).
			Str("command", name).
			Str("folder", s.selected).
			Str("status", resp.Status).
			Str("text", resp.Text).
			Msg("imap server declined command")
		return false, nil
	}
	return true, nil
}

func (s *Session) nextTag() string {
	s.tag++
	return fmt.Sprintf("A%03d", s.tag)
}

// execute sends one tagged command and waits for its completion.
func (s *Session) execute(ctx context.Context, command string) (*response, error) {
	tag := s.nextTag()
	if err := s.conn.Send([]byte(tag + " " + command + "\r\n")); err != nil {
		return nil, err
	}
	return s.await(ctx, tag, false)
}

func (s *Session) await(ctx context.Context, tag string, cont bool) (*response, error) {
	buf, complete, err := transport.ReadUntil(ctx, s.conn, s.policy, func(b []byte) bool {
		_, ok := completion(b, tag, cont, false)
		return ok
	})
	resp := &response{Tag: tag, Raw: string(buf), Complete: complete}
	if complete {
		line, _ := completion(buf, tag, cont, false)
		resp.Status, resp.Text = parseStatus(line, tag)
	}
	if err != nil {
		return resp, err
	}
	if !complete {
		s.log.Warn().Str("tag", tag).Int("bytes", len(buf)).Msg("imap response incomplete after retry cap")
	}
	return resp, nil
}
