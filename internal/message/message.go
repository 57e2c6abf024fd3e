// Package message defines the canonical Message entity and assembles it from
// raw envelope and body responses.
package message

import (
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/google/uuid"

	"mailsync/internal/envelope"
	"mailsync/internal/mime"
)

type Message struct {
	ID          string    `json:"id"`
	MessageID   string    `json:"message_id,omitempty"`
	From        string    `json:"from"`
	To          []string  `json:"to"`
	Cc          []string  `json:"cc,omitempty"`
	Subject     string    `json:"subject"`
	Date        time.Time `json:"date"`
	DateKnown   bool      `json:"date_known"`
	Read        bool      `json:"read"`
	Starred     bool      `json:"starred"`
	Folder      string    `json:"folder"`
	Body        string    `json:"body"`
	IsHTML      bool      `json:"is_html"`
	Attachments []string  `json:"attachments,omitempty"`
	InReplyTo   string    `json:"in_reply_to,omitempty"`
	References  []string  `json:"references,omitempty"`
	UID         uint32    `json:"uid"`
	Flags       []string  `json:"flags,omitempty"`
}

const (
	FlagSeen     = imap.SeenFlag
	FlagFlagged  = imap.FlaggedFlag
	FlagDeleted  = imap.DeletedFlag
	FlagAnswered = imap.AnsweredFlag
)

// idSpace namespaces the name-based local ids.
var idSpace = uuid.MustParse("6f0e4c8a-3d1b-5a7e-9c2f-8b4d0e1a7c35")

// LocalID derives a stable id from (account, folder, uid). A zero uid has no
// stable identity, so a random id is returned.
func LocalID(account, folder string, uid uint32) string {
	if uid == 0 {
		return uuid.NewString()
	}
	name := account + "\x00" + folder + "\x00" + strconv.FormatUint(uint64(uid), 10)
	return uuid.NewSHA1(idSpace, []byte(name)).String()
}

// Assembler combines parser output into Messages for one account.
type Assembler struct {
	Account string
	// Self is the recipient placeholder used when an envelope lists none.
	Self string
	Now  func() time.Time
}

// Assemble never fails: parse problems only reduce fidelity.
func (a Assembler) Assemble(folder, envelopeRaw, bodyRaw string) Message {
	env := envelope.Parse(envelopeRaw, a.Self, a.Now)
	body := mime.Decode(bodyRaw)

	msg := Message{
		MessageID:   env.MessageID,
		From:        env.From,
		To:          env.To,
		Cc:          env.Cc,
		Subject:     env.Subject,
		Date:        env.Date,
		DateKnown:   env.DateKnown,
		Read:        env.Read,
		Starred:     env.Starred,
		Folder:      folder,
		Body:        body.Text,
		IsHTML:      body.IsHTML,
		Attachments: body.Attachments,
		InReplyTo:   env.InReplyTo,
		UID:         env.UID,
		Flags:       env.Flags,
	}

	if refs, err := body.Header.MsgIDList("References"); err == nil {
		for _, id := range refs {
			msg.References = append(msg.References, "<"+id+">")
		}
	}
	if msg.MessageID == "" {
		if id, err := body.Header.MessageID(); err == nil && id != "" {
			msg.MessageID = "<" + id + ">"
		}
	}
	if msg.InReplyTo == "" {
		if ids, err := body.Header.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
			msg.InReplyTo = "<" + ids[0] + ">"
		}
	}

	msg.ID = LocalID(a.Account, folder, msg.UID)
	return msg
}

// WithUID returns m rebound to uid, refreshing its local id.
func (m Message) WithUID(account string, uid uint32) Message {
	m.UID = uid
	m.ID = LocalID(account, m.Folder, uid)
	return m
}

// HasFlag reports whether m carries flag, compared case-insensitively.
func (m Message) HasFlag(flag string) bool {
	for _, f := range m.Flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}

// SetFlag adds or removes flag and keeps Read and Starred in step.
func (m *Message) SetFlag(flag string, on bool) {
	flags := make([]string, 0, len(m.Flags)+1)
	for _, f := range m.Flags {
		if !strings.EqualFold(f, flag) {
			flags = append(flags, f)
		}
	}
	if on {
		flags = append(flags, flag)
	}
	m.Flags = flags
	m.Read = m.HasFlag(FlagSeen)
	m.Starred = m.HasFlag(FlagFlagged)
}
