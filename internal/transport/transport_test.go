package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

type stubConn struct {
	chunks [][]byte
	err    error
	reads  int
}

func (s *stubConn) Send(p []byte) error { return nil }
func (s *stubConn) Close() error        { return nil }
func (s *stubConn) ReceiveChunk() ([]byte, error) {
	s.reads++
	if len(s.chunks) == 0 {
		return nil, s.err
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func TestReadUntilAccumulatesChunks(t *testing.T) {
	conn := &stubConn{chunks: [][]byte{[]byte("* SEARCH 1"), nil, []byte(" 2\r\nA1 OK"), []byte(" done\r\n")}}
	buf, complete, err := ReadUntil(context.Background(), conn, ReadPolicy{MaxAttempts: 5, Backoff: time.Millisecond}, func(b []byte) bool {
		return bytes.HasSuffix(b, []byte("done\r\n"))
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !complete {
		t.Fatalf("expected completion")
	}
	if string(buf) != "* SEARCH 1 2\r\nA1 OK done\r\n" {
		t.Fatalf("unexpected buffer %q", buf)
	}
}

func TestReadUntilReturnsPartialAfterCap(t *testing.T) {
	conn := &stubConn{chunks: [][]byte{[]byte("* partial")}}
	buf, complete, err := ReadUntil(context.Background(), conn, ReadPolicy{MaxAttempts: 3, Backoff: time.Millisecond}, func([]byte) bool { return false })
	if err != nil {
		t.Fatalf("expected no error on timeout, got %v", err)
	}
	if complete {
		t.Fatalf("expected incomplete response")
	}
	if string(buf) != "* partial" {
		t.Fatalf("unexpected buffer %q", buf)
	}
	if conn.reads != 4 {
		t.Fatalf("expected 4 reads (1 data + 3 empty), got %d", conn.reads)
	}
}

func TestReadUntilPropagatesHardFailure(t *testing.T) {
	boom := errors.New("reset")
	conn := &stubConn{err: boom}
	_, _, err := ReadUntil(context.Background(), conn, DefaultReadPolicy, func([]byte) bool { return false })
	if !errors.Is(err, boom) {
		t.Fatalf("expected hard failure, got %v", err)
	}
}

func TestSessionRoundTripAndIdempotentClose(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	s := NewSession(client, 20*time.Millisecond)

	go func() {
		buf := make([]byte, 64)
		n, _ := server.Read(buf)
		_, _ = server.Write(append([]byte("echo "), buf[:n]...))
	}()

	if err := s.Send([]byte("ping")); err != nil {
		t.Fatalf("send: %v", err)
	}
	buf, complete, err := ReadUntil(context.Background(), s, ReadPolicy{MaxAttempts: 50, Backoff: time.Millisecond}, func(b []byte) bool {
		return string(b) == "echo ping"
	})
	if err != nil || !complete {
		t.Fatalf("read: complete=%v err=%v buf=%q", complete, err, buf)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := s.Send([]byte("x")); err == nil {
		t.Fatalf("expected send after close to fail")
	}
}

func TestOpenReportsConnectionError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().(*net.TCPAddr)
	_ = l.Close()

	_, err = Open(context.Background(), Params{Host: "127.0.0.1", Port: addr.Port, DialTimeout: time.Second})
	if err == nil {
		t.Fatalf("expected dial failure")
	}
	if !IsConnectionError(err) {
		t.Fatalf("expected connection error, got %v", err)
	}
}
