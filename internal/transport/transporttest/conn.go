// Package transporttest provides a scripted in-memory transport.Conn.
package transporttest

import (
	"errors"
	"strings"
	"sync"
)

var ErrClosed = errors.New("transporttest: connection closed")

// Handler produces the server reply for one client line (CRLF stripped).
// Returning "" sends nothing.
type Handler func(line string) string

// Conn replays server output produced by a Handler. Replies are handed out in
// pieces of at most ChunkSize bytes to exercise response accumulation.
type Conn struct {
	mu        sync.Mutex
	handler   Handler
	pending   []byte
	sent      []string
	partial   string
	closed    bool
	ChunkSize int
	SendErr   error
}

// New returns a Conn that will first deliver greeting (may be empty).
func New(greeting string, h Handler) *Conn {
	return &Conn{handler: h, pending: []byte(greeting)}
}

func (c *Conn) Send(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.SendErr != nil {
		return c.SendErr
	}
	data := c.partial + string(p)
	lines := strings.Split(data, "\n")
	c.partial = lines[len(lines)-1]
	for _, line := range lines[:len(lines)-1] {
		line = strings.TrimSuffix(line, "\r")
		c.sent = append(c.sent, line)
		if c.handler != nil {
			c.pending = append(c.pending, c.handler(line)...)
		}
	}
	return nil
}

func (c *Conn) ReceiveChunk() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if len(c.pending) == 0 {
		return nil, nil
	}
	n := len(c.pending)
	if c.ChunkSize > 0 && n > c.ChunkSize {
		n = c.ChunkSize
	}
	chunk := append([]byte(nil), c.pending[:n]...)
	c.pending = c.pending[n:]
	return chunk, nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Sent returns every line the client wrote so far.
func (c *Conn) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Tag returns the first whitespace-delimited token of an IMAP command line.
func Tag(line string) string {
	if i := strings.IndexByte(line, ' '); i >= 0 {
		return line[:i]
	}
	return line
}

// Command returns the command portion of an IMAP line with the tag removed.
func Command(line string) string {
	if i := strings.IndexByte(line, ' '); i >= 0 {
		return line[i+1:]
	}
	return ""
}
