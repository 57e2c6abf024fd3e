package imap

import (
	"errors"
	"fmt"

	"mailsync/internal/message"
)

var (
	ErrNotConnected = errors.New("imap session is not authenticated")
	ErrNoGreeting   = errors.New("imap server sent no greeting")
)

// AuthError is returned when the server refuses the credentials. The session
// stays unauthenticated; retrying needs new credentials.
type AuthError struct {
	Mechanism string
	Status    string
	Text      string
}

func (e *AuthError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("imap %s: no completion from server", e.Mechanism)
	}
	return fmt.Sprintf("imap %s failed: %s %s", e.Mechanism, e.Status, e.Text)
}

// ServerError is a non-OK completion for a command whose outcome is fatal to
// the operation, such as selecting a folder.
type ServerError struct {
	Command string
	Folder  string
	Status  string
	Text    string
}

func (e *ServerError) Error() string {
	status := e.Status
	if status == "" {
		status = "incomplete"
	}
	if e.Folder != "" {
		return fmt.Sprintf("imap %s %q: %s %s", e.Command, e.Folder, status, e.Text)
	}
	return fmt.Sprintf("imap %s: %s %s", e.Command, status, e.Text)
}

// Mailbox is the state reported by SELECT.
type Mailbox struct {
	Name        string
	Exists      uint32
	UIDValidity uint32
	UIDNext     uint32
}

// Fetched is one message retrieved during a sync pass.
type Fetched struct {
	Message message.Message
	UID     uint32
	Flags   []string
}
