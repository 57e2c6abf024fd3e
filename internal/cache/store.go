// Package cache persists synced messages and per-folder sync metadata.
package cache

import (
	"context"
	"time"

	"mailsync/internal/message"
)

// Entry is a cached message. At most one exists per (account, folder, UID).
type Entry struct {
	Message  message.Message
	CachedAt time.Time
}

// FolderMeta is the sync bookkeeping for one (account, folder).
type FolderMeta struct {
	Account    string
	Folder     string
	LastSync   time.Time
	HighestUID uint32
	Total      int
}

// Store defines the persistence interface used by the sync engine.
type Store interface {
	// ReplaceFolder drops every entry of the folder and writes msgs.
	ReplaceFolder(ctx context.Context, account, folder string, msgs []message.Message) error
	// MergeMessages writes msgs, overwriting entries with the same UID.
	MergeMessages(ctx context.Context, account, folder string, msgs []message.Message) error
	// Load returns the folder's entries, newest first.
	Load(ctx context.Context, account, folder string) ([]Entry, error)
	Get(ctx context.Context, account, folder string, uid uint32) (*Entry, error)
	Count(ctx context.Context, account, folder string) (int, error)

	GetMeta(ctx context.Context, account, folder string) (FolderMeta, bool, error)
	SaveMeta(ctx context.Context, meta FolderMeta) error
	ListMeta(ctx context.Context, account string) ([]FolderMeta, error)

	UpdateFlags(ctx context.Context, account, folder string, uid uint32, flags []string) error
	DeleteMessage(ctx context.Context, account, folder string, uid uint32) error
	// ClearAccount removes every entry and metadata row of account.
	ClearAccount(ctx context.Context, account string) error

	Close() error
}
