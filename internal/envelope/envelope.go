// Package envelope extracts message metadata from IMAP FETCH responses
// carrying FLAGS and ENVELOPE items.
package envelope

import (
	"mime"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-message/charset"
)

const (
	NoSubject     = "(no subject)"
	UnknownSender = "Unknown"
	// UndisclosedRecipient is used when neither the envelope nor the caller
	// supplies a recipient.
	UndisclosedRecipient = "undisclosed-recipients"
)

type Envelope struct {
	SeqNum    uint32
	UID       uint32
	Flags     []string
	Read      bool
	Starred   bool
	Answered  bool
	Deleted   bool
	Date      time.Time
	DateKnown bool
	Subject   string
	From      string
	To        []string
	Cc        []string
	InReplyTo string
	MessageID string
}

var dateLayouts = []string{
	time.RFC1123Z,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04 -0700",
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 MST",
	"Mon, 2 Jan 06 15:04:05 -0700",
	time.RFC822Z,
	time.RFC3339,
}

var (
	trailingZoneName = regexp.MustCompile(`\s*\([^)]*\)\s*$`)
	fetchLine        = regexp.MustCompile(`(?i)^\*\s+(\d+)\s+FETCH\s+\(`)
	flagsGroup       = regexp.MustCompile(`(?i)FLAGS\s*\(([^)]*)\)`)
	wordDecoder      = &mime.WordDecoder{CharsetReader: charset.Reader}
)

// Parse reads the first untagged FETCH response in raw. self is the
// recipient placeholder used when the envelope lists none; now supplies the
// fallback date. Parse never fails; missing fields get placeholders.
func Parse(raw, self string, now func() time.Time) Envelope {
	if now == nil {
		now = time.Now
	}
	env := Envelope{}

	line, seq := findFetch(raw)
	env.SeqNum = seq
	var attrs []node
	if line != "" {
		r := &reader{s: line}
		attrs = r.readList()
	}
	var envNode *node
	for i := 0; i+1 < len(attrs); i += 2 {
		key := strings.ToUpper(attrs[i].value)
		val := attrs[i+1]
		switch key {
		case "UID":
			if n, err := strconv.ParseUint(val.value, 10, 32); err == nil {
				env.UID = uint32(n)
			}
		case "FLAGS":
			for _, f := range val.items {
				if f.kind == kindAtom {
					env.Flags = append(env.Flags, imap.CanonicalFlag(f.value))
				}
			}
		case "ENVELOPE":
			if val.kind == kindList {
				v := val
				envNode = &v
			}
		}
	}

	if env.Flags == nil {
		env.Flags = scanFlags(raw)
	}
	applyFlags(&env)

	var fields []node
	if envNode != nil {
		fields = envNode.items
	}
	field := func(i int) node {
		if i < len(fields) {
			return fields[i]
		}
		return node{kind: kindNil}
	}

	if d := field(0).str(); d != "" {
		env.Date, env.DateKnown = ParseDate(d)
	}
	if !env.DateKnown {
		env.Date = now()
	}

	env.Subject = strings.TrimSpace(decodeWords(field(1).str()))
	if env.Subject == "" {
		env.Subject = NoSubject
	}

	from := addresses(field(2))
	if len(from) == 0 {
		from = addresses(field(3))
	}
	if len(from) > 0 {
		env.From = from[0]
	} else {
		env.From = UnknownSender
	}

	env.To = addresses(field(5))
	env.Cc = addresses(field(6))
	if len(env.To) == 0 {
		if self == "" {
			self = UndisclosedRecipient
		}
		env.To = []string{self}
	}

	env.InReplyTo = strings.TrimSpace(field(8).str())
	env.MessageID = strings.TrimSpace(field(9).str())

	return env
}

// ParseDate tries the accepted layouts after dropping a trailing
// parenthesized zone name such as "(UTC)".
func ParseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(trailingZoneName.ReplaceAllString(value, ""))
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	if t, err := mail.ParseDate(value); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// findFetch returns the attribute text following "* N FETCH (" and N.
func findFetch(raw string) (string, uint32) {
	for start := 0; start < len(raw); {
		end := strings.IndexByte(raw[start:], '\n')
		lineEnd := len(raw)
		if end >= 0 {
			lineEnd = start + end
		}
		line := raw[start:lineEnd]
		if m := fetchLine.FindStringSubmatchIndex(line); m != nil {
			seq, _ := strconv.ParseUint(line[m[2]:m[3]], 10, 32)
			// attributes may span literals, so hand the rest of raw to the reader
			return raw[start+m[1]:], uint32(seq)
		}
		if end < 0 {
			break
		}
		start = lineEnd + 1
	}
	return "", 0
}

// scanFlags is the fallback when the FETCH line could not be tokenized.
func scanFlags(raw string) []string {
	m := flagsGroup.FindStringSubmatch(raw)
	if m == nil {
		if strings.Contains(raw, imap.SeenFlag) {
			return []string{imap.SeenFlag}
		}
		return nil
	}
	var flags []string
	for _, f := range strings.Fields(m[1]) {
		flags = append(flags, imap.CanonicalFlag(f))
	}
	return flags
}

func applyFlags(env *Envelope) {
	for _, f := range env.Flags {
		switch f {
		case imap.SeenFlag:
			env.Read = true
		case imap.FlaggedFlag:
			env.Starred = true
		case imap.AnsweredFlag:
			env.Answered = true
		case imap.DeletedFlag:
			env.Deleted = true
		}
	}
}

// addresses formats an address list: ((name adl mailbox host) ...).
func addresses(n node) []string {
	if n.kind != kindList {
		return nil
	}
	var out []string
	for _, a := range n.items {
		if a.kind != kindList {
			continue
		}
		var name, mailbox, host string
		switch {
		case len(a.items) >= 4:
			name = strings.TrimSpace(decodeWords(a.items[0].str()))
			mailbox, host = a.items[2].str(), a.items[3].str()
		case len(a.items) == 2:
			// abbreviated (local-part domain) pair sent by some servers
			mailbox, host = a.items[0].str(), a.items[1].str()
		default:
			continue
		}
		if mailbox == "" {
			continue
		}
		addr := mailbox
		if host != "" {
			addr = mailbox + "@" + host
		}
		if name != "" {
			out = append(out, name+" <"+addr+">")
		} else {
			out = append(out, addr)
		}
	}
	return out
}

func decodeWords(s string) string {
	if !strings.Contains(s, "=?") {
		return s
	}
	decoded, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}
