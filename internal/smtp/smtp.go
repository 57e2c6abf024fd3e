// Package smtp submits one message per connection over a transport session.
package smtp

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/emersion/go-sasl"
	"github.com/rs/zerolog"

	"mailsync/internal/transport"
)

const (
	StageGreeting = "greeting"
	StageEHLO     = "EHLO"
	StageAuth     = "AUTH"
	StageMail     = "MAIL FROM"
	StageRcpt     = "RCPT TO"
	StageData     = "DATA"
	StageMessage  = "message"
)

var ErrNoRecipients = errors.New("no recipients provided")

// ServerError names the stage (and recipient, for RCPT) the server rejected.
type ServerError struct {
	Stage     string
	Recipient string
	Code      int
	Text      string
}

func (e *ServerError) Error() string {
	reply := strconv.Itoa(e.Code) + " " + e.Text
	if e.Code == 0 {
		reply = "no reply from server"
	}
	if e.Recipient != "" {
		return fmt.Sprintf("smtp %s <%s> rejected: %s", e.Stage, e.Recipient, reply)
	}
	return fmt.Sprintf("smtp %s rejected: %s", e.Stage, reply)
}

// Auth holds LOGIN credentials. An empty Username skips authentication.
type Auth struct {
	Username string
	Password string
}

type Session struct {
	conn      transport.Conn
	log       zerolog.Logger
	policy    transport.ReadPolicy
	localName string
}

type Option func(*Session)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

func WithReadPolicy(p transport.ReadPolicy) Option {
	return func(s *Session) { s.policy = p }
}

// WithLocalName sets the EHLO argument.
func WithLocalName(name string) Option {
	return func(s *Session) { s.localName = name }
}

func New(conn transport.Conn, opts ...Option) *Session {
	s := &Session{
		conn:      conn,
		log:       zerolog.Nop(),
		policy:    transport.DefaultReadPolicy,
		localName: "localhost",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send dials p, submits msg and closes the connection.
func Send(ctx context.Context, p transport.Params, auth Auth, from string, to []string, msg []byte, opts ...Option) error {
	if len(to) == 0 {
		return ErrNoRecipients
	}
	conn, err := transport.Open(ctx, p)
	if err != nil {
		return err
	}
	defer conn.Close()
	return New(conn, opts...).SendMessage(ctx, auth, from, to, msg)
}

// SendMessage runs one submission. Any recipient rejection aborts the whole
// message before DATA.
func (s *Session) SendMessage(ctx context.Context, auth Auth, from string, to []string, msg []byte) (err error) {
	if len(to) == 0 {
		return ErrNoRecipients
	}
	defer func() {
		if err != nil {
			s.quit(ctx)
		}
	}()

	if err := s.expect(ctx, StageGreeting, "", 220); err != nil {
		return err
	}
	if err := s.command(ctx, StageEHLO, "", "EHLO "+s.localName, 250); err != nil {
		return err
	}
	if auth.Username != "" {
		if err := s.authLogin(ctx, auth); err != nil {
			return err
		}
	}
	if err := s.command(ctx, StageMail, "", "MAIL FROM:<"+from+">", 250); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := s.command(ctx, StageRcpt, rcpt, "RCPT TO:<"+rcpt+">", 250, 251); err != nil {
			return err
		}
	}
	if err := s.command(ctx, StageData, "", "DATA", 354); err != nil {
		return err
	}
	if err := s.conn.Send(dotStuff(msg)); err != nil {
		return err
	}
	if err := s.expect(ctx, StageMessage, "", 250); err != nil {
		return err
	}

	if err := s.conn.Send([]byte("QUIT\r\n")); err == nil {
		_, _, _ = s.readReply(ctx)
	}
	return nil
}

func (s *Session) authLogin(ctx context.Context, auth Auth) error {
	client := sasl.NewLoginClient(auth.Username, auth.Password)
	mech, ir, err := client.Start()
	if err != nil {
		return err
	}
	if err := s.command(ctx, StageAuth, "", "AUTH "+mech, 334); err != nil {
		return err
	}
	if err := s.send(base64.StdEncoding.EncodeToString(ir)); err != nil {
		return err
	}
	code, text, err := s.readReply(ctx)
	if err != nil {
		return err
	}
	if code != 334 {
		return &ServerError{Stage: StageAuth, Code: code, Text: text}
	}
	challenge, derr := base64.StdEncoding.DecodeString(strings.TrimSpace(text))
	if derr != nil || strings.EqualFold(string(challenge), "password:") {
		challenge = []byte("Password:")
	}
	resp, err := client.Next(challenge)
	if err != nil {
		return err
	}
	if err := s.send(base64.StdEncoding.EncodeToString(resp)); err != nil {
		return err
	}
	return s.expect(ctx, StageAuth, "", 235)
}

func (s *Session) command(ctx context.Context, stage, rcpt, line string, want ...int) error {
	if err := s.send(line); err != nil {
		return err
	}
	return s.expect(ctx, stage, rcpt, want...)
}

func (s *Session) expect(ctx context.Context, stage, rcpt string, want ...int) error {
	code, text, err := s.readReply(ctx)
	if err != nil {
		return err
	}
	for _, w := range want {
		if code == w {
			return nil
		}
	}
	return &ServerError{Stage: stage, Recipient: rcpt, Code: code, Text: text}
}

func (s *Session) send(line string) error {
	return s.conn.Send([]byte(line + "\r\n"))
}

func (s *Session) quit(ctx context.Context) {
	if err := s.send("QUIT"); err != nil {
		return
	}
	if _, _, err := s.readReply(ctx); err != nil {
		s.log.Debug().Err(err).Msg("smtp quit")
	}
}

// readReply collects one possibly multi-line reply. code is 0 when no final
// line arrived before the retry cap.
func (s *Session) readReply(ctx context.Context) (int, string, error) {
	buf, complete, err := transport.ReadUntil(ctx, s.conn, s.policy, func(b []byte) bool {
		_, _, ok := finalLine(b)
		return ok
	})
	if err != nil {
		return 0, "", err
	}
	if !complete {
		return 0, "", nil
	}
	code, text, _ := finalLine(buf)
	return code, text, nil
}

// finalLine finds the "NNN text" line that ends a reply; "NNN-text" lines
// continue it.
func finalLine(buf []byte) (int, string, bool) {
	var texts []string
	for len(buf) > 0 {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			return 0, "", false
		}
		line := strings.TrimRight(string(buf[:i]), "\r")
		buf = buf[i+1:]
		if len(line) < 3 {
			continue
		}
		code, err := strconv.Atoi(line[:3])
		if err != nil {
			continue
		}
		rest := line[3:]
		if strings.HasPrefix(rest, "-") {
			texts = append(texts, rest[1:])
			continue
		}
		texts = append(texts, strings.TrimSpace(rest))
		return code, strings.Join(texts, "\n"), true
	}
	return 0, "", false
}

// dotStuff normalizes line endings to CRLF, doubles leading dots and appends
// the terminating ".".
func dotStuff(msg []byte) []byte {
	text := strings.ReplaceAll(string(msg), "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	var b strings.Builder
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, ".") {
			b.WriteByte('.')
		}
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	b.WriteString(".\r\n")
	return []byte(b.String())
}
