// Package sync keeps the local cache of each folder in step with the server.
//
// An Engine owns the cache store and one live Source per account. It chooses
// between full and incremental sync, keeps the UID watermark monotonic, and
// mirrors flag, move and delete operations to the session and then the cache.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"mailsync/internal/cache"
	"mailsync/internal/imap"
	"mailsync/internal/message"
)

const (
	DefaultFreshness   = 5 * time.Minute
	DefaultTrashFolder = "Trash"
)

var (
	ErrNoSource     = errors.New("no live session for account")
	ErrNotConnected = errors.New("session is not connected")
	// ErrDeclined is returned by mutations the server refused. The cache is
	// left as it was.
	ErrDeclined = errors.New("server declined the change")
)

// Source is the live protocol session of one account. *imap.Session
// implements it.
type Source interface {
	Connected() bool
	Selected() string
	SelectFolder(ctx context.Context, name string) (imap.Mailbox, error)
	FetchRecent(ctx context.Context, folder string, limit int) ([]imap.Fetched, error)
	FetchSince(ctx context.Context, folder string, uid uint32, limit int) ([]imap.Fetched, error)
	// StoreFlag, MarkDeleted and Expunge report ok == false when the server
	// declined the command.
	StoreFlag(ctx context.Context, uid uint32, flag string, add bool) (bool, error)
	CopyChecked(ctx context.Context, uid uint32, folder string) error
	MarkDeleted(ctx context.Context, uid uint32) (bool, error)
	Expunge(ctx context.Context) (bool, error)
}

// State is the sync state of one (account, folder).
type State int

const (
	StateUncached State = iota
	StateValid
	StateStale
	StateSyncing
	StateError
)

func (s State) String() string {
	switch s {
	case StateUncached:
		return "uncached"
	case StateValid:
		return "valid"
	case StateStale:
		return "stale"
	case StateSyncing:
		return "syncing"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Result describes one completed sync of a folder.
type Result struct {
	Account    string
	Folder     string
	Full       bool
	Fetched    int
	HighestUID uint32
	Total      int
}

type folderKey struct {
	account string
	folder  string
}

// account serializes all use of one live session.
type account struct {
	mu  gosync.Mutex
	src Source
}

type Option func(*Engine)

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithFreshness sets how long a synced folder stays valid.
func WithFreshness(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.freshness = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithTrashFolder names the folder non-permanent deletes move messages to.
func WithTrashFolder(name string) Option {
	return func(e *Engine) {
		if name != "" {
			e.trash = name
		}
	}
}

// Engine coordinates sync for any number of accounts sharing one store.
type Engine struct {
	store     cache.Store
	log       zerolog.Logger
	freshness time.Duration
	now       func() time.Time
	trash     string
	group     singleflight.Group

	mu       gosync.Mutex
	accounts map[string]*account
	syncing  map[folderKey]int
	failed   map[folderKey]error
}

func NewEngine(store cache.Store, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		log:       zerolog.Nop(),
		freshness: DefaultFreshness,
		now:       time.Now,
		trash:     DefaultTrashFolder,
		accounts:  make(map[string]*account),
		syncing:   make(map[folderKey]int),
		failed:    make(map[folderKey]error),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Attach registers the live session of account, replacing any previous one.
func (e *Engine) Attach(name string, src Source) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if a, ok := e.accounts[name]; ok {
		a.mu.Lock()
		a.src = src
		a.mu.Unlock()
		return
	}
	e.accounts[name] = &account{src: src}
}

func (e *Engine) account(name string) (*account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.accounts[name]
	if !ok || a.src == nil {
		return nil, fmt.Errorf("%w %q", ErrNoSource, name)
	}
	return a, nil
}

// Connected reports whether account has a live, authenticated session.
func (e *Engine) Connected(name string) bool {
	a, err := e.account(name)
	return err == nil && a.src.Connected()
}

// LoadCached returns the cached messages of folder, newest first. It never
// touches the network.
func (e *Engine) LoadCached(ctx context.Context, account, folder string) ([]message.Message, error) {
	entries, err := e.store.Load(ctx, account, folder)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", folder, err)
	}
	msgs := make([]message.Message, 0, len(entries))
	for _, entry := range entries {
		msgs = append(msgs, entry.Message)
	}
	return msgs, nil
}

// IsValid is true when folder was synced within the freshness window.
func (e *Engine) IsValid(ctx context.Context, account, folder string) bool {
	meta, ok, err := e.store.GetMeta(ctx, account, folder)
	if err != nil {
		e.log.Warn().Err(err).Str("folder", folder).Msg("reading sync metadata")
		return false
	}
	return ok && e.now().Sub(meta.LastSync) < e.freshness
}

func (e *Engine) State(ctx context.Context, account, folder string) State {
	key := folderKey{account, folder}
	e.mu.Lock()
	syncing, failure := e.syncing[key] > 0, e.failed[key]
	e.mu.Unlock()

	switch {
	case syncing:
		return StateSyncing
	case failure != nil:
		return StateError
	}
	meta, ok, err := e.store.GetMeta(ctx, account, folder)
	switch {
	case err != nil:
		return StateError
	case !ok:
		return StateUncached
	case e.now().Sub(meta.LastSync) < e.freshness:
		return StateValid
	}
	return StateStale
}

// LastError returns the failure of the most recent sync of folder, if any.
func (e *Engine) LastError(account, folder string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failed[folderKey{account, folder}]
}

// InProgress reports whether a sync of folder is running.
func (e *Engine) InProgress(account, folder string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncing[folderKey{account, folder}] > 0
}

// Sync runs a full sync for a folder that has never been synced and an
// incremental sync otherwise.
func (e *Engine) Sync(ctx context.Context, account, folder string, limit int) (Result, error) {
	_, ok, err := e.store.GetMeta(ctx, account, folder)
	if err != nil {
		return Result{}, fmt.Errorf("reading sync metadata for %s: %w", folder, err)
	}
	if !ok {
		return e.FullSync(ctx, account, folder, limit)
	}
	return e.IncrementalSync(ctx, account, folder, limit)
}

// FullSync fetches up to limit of the newest messages and replaces the cached
// contents of folder with them.
func (e *Engine) FullSync(ctx context.Context, account, folder string, limit int) (Result, error) {
	return e.run(ctx, "full", account, folder, func(src Source) (Result, error) {
		return e.fullSync(ctx, src, account, folder, limit)
	})
}

// IncrementalSync fetches messages above the stored watermark and merges them
// into the cache. Without stored metadata it falls back to a full sync.
func (e *Engine) IncrementalSync(ctx context.Context, account, folder string, limit int) (Result, error) {
	return e.run(ctx, "incremental", account, folder, func(src Source) (Result, error) {
		meta, ok, err := e.store.GetMeta(ctx, account, folder)
		if err != nil {
			return Result{}, fmt.Errorf("reading sync metadata for %s: %w", folder, err)
		}
		if !ok {
			return e.fullSync(ctx, src, account, folder, limit)
		}
		return e.incrementalSync(ctx, src, meta, limit)
	})
}

// run de-duplicates concurrent requests for the same sync and holds the
// account's session for the duration.
func (e *Engine) run(ctx context.Context, kind, accountName, folder string, fn func(Source) (Result, error)) (Result, error) {
	key := folderKey{accountName, folder}
	v, err, _ := e.group.Do(kind+"\x00"+accountName+"\x00"+folder, func() (any, error) {
		a, err := e.account(accountName)
		if err != nil {
			return Result{}, err
		}
		e.mark(key, 1)
		defer e.mark(key, -1)

		a.mu.Lock()
		defer a.mu.Unlock()
		if !a.src.Connected() {
			return Result{}, ErrNotConnected
		}

		start := e.now()
		res, err := fn(a.src)
		e.mu.Lock()
		if err != nil {
			e.failed[key] = err
		} else {
			delete(e.failed, key)
		}
		e.mu.Unlock()
		if err != nil {
			return Result{}, err
		}
		e.log.Debug().
			Str("account", accountName).
			Str("folder", folder).
			Bool("full", res.Full).
			Int("fetched", res.Fetched).
			Uint32("highest_uid", res.HighestUID).
			Dur("took", e.now().Sub(start)).
			Msg("folder synced")
		return res, nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("%s sync of %s: %w", kind, folder, err)
	}
	return v.(Result), nil
}

func (e *Engine) mark(key folderKey, delta int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.syncing[key] += delta
	if e.syncing[key] <= 0 {
		delete(e.syncing, key)
	}
}

func (e *Engine) fullSync(ctx context.Context, src Source, account, folder string, limit int) (Result, error) {
	fetched, err := src.FetchRecent(ctx, folder, limit)
	if err != nil {
		return Result{}, err
	}

	msgs := make([]message.Message, 0, len(fetched))
	var highest uint32
	for i, f := range fetched {
		m := f.Message
		m.Folder = folder
		if f.UID == 0 {
			// position stands in for the UID the server did not report
			m = m.WithUID(account, uint32(i+1))
		}
		highest = max(highest, m.UID)
		msgs = append(msgs, m)
	}

	if err := e.store.ReplaceFolder(ctx, account, folder, msgs); err != nil {
		return Result{}, err
	}
	total, err := e.store.Count(ctx, account, folder)
	if err != nil {
		return Result{}, err
	}
	meta := cache.FolderMeta{Account: account, Folder: folder, LastSync: e.now(), HighestUID: highest, Total: total}
	if err := e.store.SaveMeta(ctx, meta); err != nil {
		return Result{}, err
	}
	return Result{Account: account, Folder: folder, Full: true, Fetched: len(msgs), HighestUID: highest, Total: total}, nil
}

func (e *Engine) incrementalSync(ctx context.Context, src Source, meta cache.FolderMeta, limit int) (Result, error) {
	fetched, err := src.FetchSince(ctx, meta.Folder, meta.HighestUID, limit)
	if err != nil {
		return Result{}, err
	}
	res := Result{Account: meta.Account, Folder: meta.Folder, HighestUID: meta.HighestUID, Total: meta.Total}
	if len(fetched) == 0 {
		return res, nil
	}

	msgs := make([]message.Message, 0, len(fetched))
	highest := meta.HighestUID
	for _, f := range fetched {
		if f.UID == 0 {
			e.log.Warn().Str("folder", meta.Folder).Msg("dropping message without UID from incremental sync")
			continue
		}
		m := f.Message
		m.Folder = meta.Folder
		highest = max(highest, m.UID)
		msgs = append(msgs, m)
	}

	if err := e.store.MergeMessages(ctx, meta.Account, meta.Folder, msgs); err != nil {
		return Result{}, err
	}
	total, err := e.store.Count(ctx, meta.Account, meta.Folder)
	if err != nil {
		return Result{}, err
	}
	meta.LastSync, meta.HighestUID, meta.Total = e.now(), highest, total
	if err := e.store.SaveMeta(ctx, meta); err != nil {
		return Result{}, err
	}
	res.Fetched, res.HighestUID, res.Total = len(msgs), highest, total
	return res, nil
}

// SweepResult reports a sync over several folders. A failed folder does not
// stop the others.
type SweepResult struct {
	Synced []Result
	Failed map[string]error
}

// Partial is true when some folders synced and some failed.
func (r SweepResult) Partial() bool {
	return len(r.Synced) > 0 && len(r.Failed) > 0
}

// Err joins the per-folder failures, or returns nil when there were none.
func (r SweepResult) Err() error {
	var errs []error
	for _, err := range r.Failed {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SyncAll syncs folders in order, logging and recording failures.
func (e *Engine) SyncAll(ctx context.Context, account string, folders []string, limit int) SweepResult {
	out := SweepResult{Failed: make(map[string]error)}
	for _, folder := range folders {
		if err := ctx.Err(); err != nil {
			out.Failed[folder] = err
			continue
		}
		res, err := e.Sync(ctx, account, folder, limit)
		if err != nil {
			e.log.Warn().Err(err).Str("account", account).Str("folder", folder).Msg("folder sync failed")
			out.Failed[folder] = err
			continue
		}
		out.Synced = append(out.Synced, res)
	}
	return out
}
