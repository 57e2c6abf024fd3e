package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

const (
	defaultDialTimeout = 30 * time.Second
	defaultReadTimeout = 100 * time.Millisecond
	chunkSize          = 32 * 1024
)

var ErrClosed = errors.New("transport closed")

// Conn is the byte-level contract the protocol engines are written against.
type Conn interface {
	Send(p []byte) error
	ReceiveChunk() ([]byte, error)
	Close() error
}

// Params describes one connection. It is immutable for the lifetime of a session.
type Params struct {
	Host               string
	Port               int
	Encrypted          bool
	InsecureSkipVerify bool
	DialTimeout        time.Duration
	ReadTimeout        time.Duration
}

func (p Params) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// Error reports a connection or I/O failure. Op is "dial", "write" or "read".
type Error struct {
	Op   string
	Addr string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsConnectionError reports whether err happened while establishing the connection.
func IsConnectionError(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Op == "dial"
}

// Session owns a single network connection. Encryption is negotiated when the
// connection is opened, never per command.
type Session struct {
	conn        net.Conn
	addr        string
	readTimeout time.Duration
	buf         []byte

	closeOnce sync.Once
	closeErr  error
	mu        sync.Mutex
	closed    bool
}

func Open(ctx context.Context, p Params) (*Session, error) {
	addr := p.Addr()
	dialTimeout := p.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	netDialer := &net.Dialer{Timeout: dialTimeout}

	var (
		conn net.Conn
		err  error
	)
	if p.Encrypted {
		dialer := &tls.Dialer{
			NetDialer: netDialer,
			Config: &tls.Config{
				ServerName:         p.Host,
				InsecureSkipVerify: p.InsecureSkipVerify, //nolint:gosec // opt-in per account
			},
		}
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = netDialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, &Error{Op: "dial", Addr: addr, Err: err}
	}

	return NewSession(conn, p.ReadTimeout), nil
}

// NewSession wraps an already established connection.
func NewSession(conn net.Conn, readTimeout time.Duration) *Session {
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	return &Session{
		conn:        conn,
		addr:        conn.RemoteAddr().String(),
		readTimeout: readTimeout,
		buf:         make([]byte, chunkSize),
	}
}

func (s *Session) Send(p []byte) error {
	if s.isClosed() {
		return &Error{Op: "write", Addr: s.addr, Err: ErrClosed}
	}
	for len(p) > 0 {
		n, err := s.conn.Write(p)
		if err != nil {
			return &Error{Op: "write", Addr: s.addr, Err: err}
		}
		p = p[n:]
	}
	return nil
}

// ReceiveChunk returns whatever arrived within the read timeout. An empty
// chunk with a nil error means nothing was available yet.
func (s *Session) ReceiveChunk() ([]byte, error) {
	if s.isClosed() {
		return nil, &Error{Op: "read", Addr: s.addr, Err: ErrClosed}
	}
	if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
		return nil, &Error{Op: "read", Addr: s.addr, Err: err}
	}
	n, err := s.conn.Read(s.buf)
	var chunk []byte
	if n > 0 {
		chunk = append(chunk, s.buf[:n]...)
	}
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return chunk, nil
		}
		if len(chunk) > 0 {
			return chunk, nil
		}
		return nil, &Error{Op: "read", Addr: s.addr, Err: err}
	}
	return chunk, nil
}

// Close is idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
