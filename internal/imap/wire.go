package imap

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/emersion/go-imap/utf7"
)

const (
	statusOK           = "OK"
	statusNO           = "NO"
	statusBAD          = "BAD"
	statusContinuation = "+"
)

// response is the accumulated text of one exchange.
type response struct {
	Tag      string
	Status   string
	Text     string
	Raw      string
	Complete bool
}

func (r *response) OK() bool { return r.Status == statusOK }

// untagged returns the "* ..." lines of the response, literal payloads excluded.
func (r *response) untagged() []string {
	var out []string
	eachLine([]byte(r.Raw), func(line string) bool {
		if strings.HasPrefix(line, "* ") {
			out = append(out, line)
		}
		return false
	})
	return out
}

// completion finds the line that ends an exchange. Lines are matched on the
// tag under wait; continuation lines count when cont is set, and any untagged
// line counts when greeting is set.
func completion(buf []byte, tag string, cont, greeting bool) (string, bool) {
	var found string
	ok := eachLine(buf, func(line string) bool {
		switch {
		case greeting && strings.HasPrefix(line, "*"):
		case cont && strings.HasPrefix(line, statusContinuation):
		case tag != "" && isTagged(line, tag):
		default:
			return false
		}
		found = line
		return true
	})
	return found, ok
}

// eachLine calls fn for every complete line in buf, stepping over literal
// payloads announced with {N}. It stops when fn returns true and reports that.
func eachLine(buf []byte, fn func(line string) bool) bool {
	for i := 0; i < len(buf); {
		j := bytes.IndexByte(buf[i:], '\n')
		if j < 0 {
			return false
		}
		line := strings.TrimRight(string(buf[i:i+j]), "\r")
		next := i + j + 1
		if n, ok := literalSize(line); ok {
			if fn(line) {
				return true
			}
			if n > len(buf)-next {
				return false
			}
			i = next + n
			continue
		}
		if fn(line) {
			return true
		}
		i = next
	}
	return false
}

// literalSize reports the byte count when line ends with a literal marker.
func literalSize(line string) (int, bool) {
	if !strings.HasSuffix(line, "}") {
		return 0, false
	}
	open := strings.LastIndexByte(line, '{')
	if open < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(line[open+1:len(line)-1], "+"))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func isTagged(line, tag string) bool {
	if !strings.HasPrefix(line, tag+" ") {
		return false
	}
	status, _, _ := strings.Cut(line[len(tag)+1:], " ")
	switch strings.ToUpper(status) {
	case statusOK, statusNO, statusBAD:
		return true
	}
	return false
}

// parseStatus splits a completion line into its status and human text.
func parseStatus(line, tag string) (string, string) {
	if strings.HasPrefix(line, statusContinuation) {
		return statusContinuation, strings.TrimSpace(line[1:])
	}
	rest := strings.TrimPrefix(line, tag+" ")
	status, text, _ := strings.Cut(rest, " ")
	return strings.ToUpper(status), text
}

// parseNumbers reads whitespace separated integers, ignoring anything else.
func parseNumbers(fields []string) []uint32 {
	var out []uint32
	for _, f := range fields {
		if n, err := strconv.ParseUint(f, 10, 32); err == nil {
			out = append(out, uint32(n))
		}
	}
	return out
}

// quote renders s as an IMAP quoted string.
func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

// mailboxName encodes a folder name in modified UTF-7 and quotes it.
func mailboxName(name string) string {
	enc, err := utf7.Encoding.NewEncoder().String(name)
	if err != nil {
		enc = name
	}
	return quote(enc)
}
