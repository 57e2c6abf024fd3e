package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"mailsync/internal/message"
)

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the database at dbPath and runs pending
// migrations. ":memory:" gives a private in-memory store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
		}
	}
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// one writer at a time; also keeps ":memory:" on a single database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(&tableCount, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount > 0 {
		if err := s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

type messageRow struct {
	Account     string `db:"account"`
	Folder      string `db:"folder"`
	UID         int64  `db:"uid"`
	ID          string `db:"id"`
	MessageID   string `db:"message_id"`
	Sender      string `db:"sender"`
	Recipients  string `db:"recipients"`
	Cc          string `db:"cc"`
	Subject     string `db:"subject"`
	DateMs      int64  `db:"date_ms"`
	DateKnown   bool   `db:"date_known"`
	Read        bool   `db:"read"`
	Starred     bool   `db:"starred"`
	Body        string `db:"body"`
	IsHTML      bool   `db:"is_html"`
	Attachments string `db:"attachments"`
	InReplyTo   string `db:"in_reply_to"`
	Refs        string `db:"refs"`
	Flags       string `db:"flags"`
	CachedAtMs  int64  `db:"cached_at_ms"`
}

const upsertMessage = `
	INSERT OR REPLACE INTO messages (
		account, folder, uid, id, message_id,
		sender, recipients, cc, subject,
		date_ms, date_known, read, starred,
		body, is_html, attachments,
		in_reply_to, refs, flags, cached_at_ms
	) VALUES (
		:account, :folder, :uid, :id, :message_id,
		:sender, :recipients, :cc, :subject,
		:date_ms, :date_known, :read, :starred,
		:body, :is_html, :attachments,
		:in_reply_to, :refs, :flags, :cached_at_ms
	)`

func (s *SQLiteStore) ReplaceFolder(ctx context.Context, account, folder string, msgs []message.Message) error {
	return s.write(ctx, account, folder, msgs, true)
}

func (s *SQLiteStore) MergeMessages(ctx context.Context, account, folder string, msgs []message.Message) error {
	return s.write(ctx, account, folder, msgs, false)
}

func (s *SQLiteStore) write(ctx context.Context, account, folder string, msgs []message.Message, replace bool) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if replace {
		if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE account = ? AND folder = ?", account, folder); err != nil {
			return fmt.Errorf("clearing folder %s: %w", folder, err)
		}
	}

	stmt, err := tx.PrepareNamedContext(ctx, upsertMessage)
	if err != nil {
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	cachedAt := s.now().UnixMilli()
	for _, m := range msgs {
		row, err := toRow(account, folder, m, cachedAt)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, row); err != nil {
			return fmt.Errorf("upserting message %d: %w", m.UID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Load(ctx context.Context, account, folder string) ([]Entry, error) {
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM messages WHERE account = ? AND folder = ? ORDER BY date_ms DESC, uid DESC",
		account, folder)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		e, err := r.entry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Get returns nil without error when the message is not cached.
func (s *SQLiteStore) Get(ctx context.Context, account, folder string, uid uint32) (*Entry, error) {
	var r messageRow
	err := s.db.GetContext(ctx, &r,
		"SELECT * FROM messages WHERE account = ? AND folder = ? AND uid = ?", account, folder, uid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying message %d: %w", uid, err)
	}
	e, err := r.entry()
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *SQLiteStore) Count(ctx context.Context, account, folder string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM messages WHERE account = ? AND folder = ?", account, folder)
	if err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return n, nil
}

type metaRow struct {
	Account    string `db:"account"`
	Folder     string `db:"folder"`
	LastSyncMs int64  `db:"last_sync_ms"`
	HighestUID int64  `db:"highest_uid"`
	Total      int    `db:"total"`
}

func (r metaRow) meta() FolderMeta {
	return FolderMeta{
		Account:    r.Account,
		Folder:     r.Folder,
		LastSync:   time.UnixMilli(r.LastSyncMs),
		HighestUID: uint32(r.HighestUID),
		Total:      r.Total,
	}
}

func (s *SQLiteStore) GetMeta(ctx context.Context, account, folder string) (FolderMeta, bool, error) {
	var r metaRow
	err := s.db.GetContext(ctx, &r, "SELECT * FROM folder_sync WHERE account = ? AND folder = ?", account, folder)
	if errors.Is(err, sql.ErrNoRows) {
		return FolderMeta{}, false, nil
	}
	if err != nil {
		return FolderMeta{}, false, fmt.Errorf("querying sync metadata: %w", err)
	}
	return r.meta(), true, nil
}

func (s *SQLiteStore) SaveMeta(ctx context.Context, m FolderMeta) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT OR REPLACE INTO folder_sync (account, folder, last_sync_ms, highest_uid, total)
		VALUES (:account, :folder, :last_sync_ms, :highest_uid, :total)`,
		metaRow{
			Account:    m.Account,
			Folder:     m.Folder,
			LastSyncMs: m.LastSync.UnixMilli(),
			HighestUID: int64(m.HighestUID),
			Total:      m.Total,
		})
	if err != nil {
		return fmt.Errorf("saving sync metadata for %s: %w", m.Folder, err)
	}
	return nil
}

func (s *SQLiteStore) ListMeta(ctx context.Context, account string) ([]FolderMeta, error) {
	var rows []metaRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM folder_sync WHERE account = ? ORDER BY folder", account); err != nil {
		return nil, fmt.Errorf("querying sync metadata: %w", err)
	}
	out := make([]FolderMeta, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.meta())
	}
	return out, nil
}

// UpdateFlags rewrites the flag set and the read/starred columns derived from it.
func (s *SQLiteStore) UpdateFlags(ctx context.Context, account, folder string, uid uint32, flags []string) error {
	encoded, err := json.Marshal(nonNil(flags))
	if err != nil {
		return err
	}
	m := message.Message{Flags: flags}
	result, err := s.db.ExecContext(ctx,
		"UPDATE messages SET flags = ?, read = ?, starred = ? WHERE account = ? AND folder = ? AND uid = ?",
		string(encoded), m.HasFlag(message.FlagSeen), m.HasFlag(message.FlagFlagged), account, folder, uid)
	if err != nil {
		return fmt.Errorf("updating flags of %d: %w", uid, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("message %d not cached in %s", uid, folder)
	}
	return nil
}

func (s *SQLiteStore) DeleteMessage(ctx context.Context, account, folder string, uid uint32) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE account = ? AND folder = ? AND uid = ?", account, folder, uid)
	if err != nil {
		return fmt.Errorf("deleting message %d: %w", uid, err)
	}
	return nil
}

func (s *SQLiteStore) ClearAccount(ctx context.Context, account string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE account = ?", account); err != nil {
		return fmt.Errorf("clearing messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM folder_sync WHERE account = ?", account); err != nil {
		return fmt.Errorf("clearing sync metadata: %w", err)
	}
	return tx.Commit()
}

func toRow(account, folder string, m message.Message, cachedAt int64) (messageRow, error) {
	lists := map[string][]string{
		"recipients":  m.To,
		"cc":          m.Cc,
		"attachments": m.Attachments,
		"refs":        m.References,
		"flags":       m.Flags,
	}
	encoded := make(map[string]string, len(lists))
	for name, list := range lists {
		b, err := json.Marshal(nonNil(list))
		if err != nil {
			return messageRow{}, fmt.Errorf("marshaling %s for message %d: %w", name, m.UID, err)
		}
		encoded[name] = string(b)
	}
	return messageRow{
		Account:     account,
		Folder:      folder,
		UID:         int64(m.UID),
		ID:          m.ID,
		MessageID:   m.MessageID,
		Sender:      m.From,
		Recipients:  encoded["recipients"],
		Cc:          encoded["cc"],
		Subject:     m.Subject,
		DateMs:      m.Date.UnixMilli(),
		DateKnown:   m.DateKnown,
		Read:        m.Read,
		Starred:     m.Starred,
		Body:        m.Body,
		IsHTML:      m.IsHTML,
		Attachments: encoded["attachments"],
		InReplyTo:   m.InReplyTo,
		Refs:        encoded["refs"],
		Flags:       encoded["flags"],
		CachedAtMs:  cachedAt,
	}, nil
}

func (r messageRow) entry() (Entry, error) {
	m := message.Message{
		ID:        r.ID,
		MessageID: r.MessageID,
		From:      r.Sender,
		Subject:   r.Subject,
		Date:      time.UnixMilli(r.DateMs),
		DateKnown: r.DateKnown,
		Read:      r.Read,
		Starred:   r.Starred,
		Folder:    r.Folder,
		Body:      r.Body,
		IsHTML:    r.IsHTML,
		InReplyTo: r.InReplyTo,
		UID:       uint32(r.UID),
	}
	columns := []struct {
		raw string
		dst *[]string
	}{
		{r.Recipients, &m.To},
		{r.Cc, &m.Cc},
		{r.Attachments, &m.Attachments},
		{r.Refs, &m.References},
		{r.Flags, &m.Flags},
	}
	for _, c := range columns {
		if err := json.Unmarshal([]byte(c.raw), c.dst); err != nil {
			return Entry{}, fmt.Errorf("decoding message %d: %w", r.UID, err)
		}
	}
	return Entry{Message: m, CachedAt: time.UnixMilli(r.CachedAtMs)}, nil
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
