package transport

import (
	"context"
	"time"
)

// ReadPolicy bounds how long ReadUntil waits for a response to complete.
// MaxAttempts counts consecutive empty reads; any received data resets it.
type ReadPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

var DefaultReadPolicy = ReadPolicy{MaxAttempts: 50, Backoff: 20 * time.Millisecond}

// ReadUntil accumulates chunks from c until done reports the buffer holds a
// complete response. When the attempt cap is hit it returns what it has with
// complete == false and no error: partial data may still be usable.
func ReadUntil(ctx context.Context, c Conn, p ReadPolicy, done func([]byte) bool) (buf []byte, complete bool, err error) {
	if p.MaxAttempts <= 0 {
		p = DefaultReadPolicy
	}
	empty := 0
	for empty < p.MaxAttempts {
		chunk, err := c.ReceiveChunk()
		if err != nil {
			return buf, false, err
		}
		if len(chunk) > 0 {
			buf = append(buf, chunk...)
			if done(buf) {
				return buf, true, nil
			}
			empty = 0
			continue
		}
		empty++
		timer := time.NewTimer(p.Backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return buf, false, ctx.Err()
		case <-timer.C:
		}
	}
	return buf, false, nil
}
