package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultPollInterval = 2 * time.Minute
	// pollTimeout bounds a single folder sync started by the poller.
	pollTimeout = 2 * time.Minute
)

// Poller periodically runs incremental syncs for one account's folders.
type Poller struct {
	engine   *Engine
	account  string
	folders  []string
	limit    int
	interval time.Duration
	log      zerolog.Logger

	resultCh chan Result
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       gosync.Mutex
	running  bool
}

// NewPoller creates a Poller. A non-positive interval uses DefaultPollInterval.
func NewPoller(e *Engine, account string, folders []string, interval time.Duration, limit int) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		engine:   e,
		account:  account,
		folders:  folders,
		limit:    limit,
		interval: interval,
		log:      e.log,
		resultCh: make(chan Result, 16),
	}
}

// Results delivers every poll that fetched new messages. Results are dropped
// when nobody is reading.
func (p *Poller) Results() <-chan Result {
	return p.resultCh
}

// Start launches the polling goroutine. It stops on Stop or when ctx ends.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	go p.loop(ctx, p.stopCh, p.doneCh)
}

// Stop halts polling and waits for an in-flight poll to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	close(p.stopCh)
	done := p.doneCh
	p.running = false
	p.mu.Unlock()
	<-done
}

func (p *Poller) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// poll syncs every stale folder, skipping folders that are still fresh or
// already syncing and skipping everything while the session is down.
func (p *Poller) poll(ctx context.Context) {
	if !p.engine.Connected(p.account) {
		p.log.Debug().Str("account", p.account).Msg("poll skipped: no live session")
		return
	}
	for _, folder := range p.folders {
		if p.engine.IsValid(ctx, p.account, folder) || p.engine.InProgress(p.account, folder) {
			continue
		}
		fctx, cancel := context.WithTimeout(ctx, pollTimeout)
		res, err := p.engine.IncrementalSync(fctx, p.account, folder, p.limit)
		cancel()
		if err != nil {
			p.log.Warn().Err(err).Str("account", p.account).Str("folder", folder).Msg("periodic sync failed")
			continue
		}
		if res.Fetched == 0 {
			continue
		}
		select {
		case p.resultCh <- res:
		default:
		}
	}
}
