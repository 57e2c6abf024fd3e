package sync

import (
	"context"
	"fmt"

	"mailsync/internal/message"
)

func (e *Engine) SetRead(ctx context.Context, account, folder string, uid uint32, read bool) error {
	return e.setFlag(ctx, account, folder, uid, message.FlagSeen, read)
}

func (e *Engine) SetStarred(ctx context.Context, account, folder string, uid uint32, starred bool) error {
	return e.setFlag(ctx, account, folder, uid, message.FlagFlagged, starred)
}

func (e *Engine) setFlag(ctx context.Context, account, folder string, uid uint32, flag string, on bool) error {
	err := e.withFolder(ctx, account, folder, func(src Source) error {
		return accepted(src.StoreFlag(ctx, uid, flag, on))
	})
	if err != nil {
		return fmt.Errorf("store %s on %d: %w", flag, uid, err)
	}

	entry, err := e.store.Get(ctx, account, folder, uid)
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}
	m := entry.Message
	m.SetFlag(flag, on)
	return e.store.UpdateFlags(ctx, account, folder, uid, m.Flags)
}

// Move copies the message to dest, expunges it from folder and drops it from
// the cached folder. dest is picked up by its next sync. Nothing is deleted
// unless the copy succeeded.
func (e *Engine) Move(ctx context.Context, account, folder string, uid uint32, dest string) error {
	if dest == folder {
		return fmt.Errorf("message %d is already in %s", uid, dest)
	}
	err := e.withFolder(ctx, account, folder, func(src Source) error {
		if err := src.CopyChecked(ctx, uid, dest); err != nil {
			return err
		}
		return expunge(ctx, src, uid)
	})
	if err != nil {
		return fmt.Errorf("move %d to %s: %w", uid, dest, err)
	}
	return e.store.DeleteMessage(ctx, account, folder, uid)
}

// Delete moves the message to the trash folder, or removes it for good when
// permanent is set or the message already sits in the trash.
func (e *Engine) Delete(ctx context.Context, account, folder string, uid uint32, permanent bool) error {
	if !permanent && folder != e.trash {
		return e.Move(ctx, account, folder, uid, e.trash)
	}
	err := e.withFolder(ctx, account, folder, func(src Source) error {
		return expunge(ctx, src, uid)
	})
	if err != nil {
		return fmt.Errorf("delete %d: %w", uid, err)
	}
	return e.store.DeleteMessage(ctx, account, folder, uid)
}

func expunge(ctx context.Context, src Source, uid uint32) error {
	if err := accepted(src.MarkDeleted(ctx, uid)); err != nil {
		return err
	}
	return accepted(src.Expunge(ctx))
}

// accepted turns a declined lenient command into ErrDeclined.
func accepted(ok bool, err error) error {
	if err != nil {
		return err
	}
	if !ok {
		return ErrDeclined
	}
	return nil
}

// withFolder runs fn with folder selected on the account's session.
func (e *Engine) withFolder(ctx context.Context, account, folder string, fn func(Source) error) error {
	a, err := e.account(account)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.src.Connected() {
		return ErrNotConnected
	}
	if a.src.Selected() != folder {
		if _, err := a.src.SelectFolder(ctx, folder); err != nil {
			return err
		}
	}
	return fn(a.src)
}
