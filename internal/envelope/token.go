package envelope

import (
	"strconv"
	"strings"
)

type kind int

const (
	kindAtom kind = iota
	kindString
	kindNil
	kindList
)

// node is one IMAP data item: atom, quoted or literal string, NIL, or a
// parenthesized list.
type node struct {
	kind  kind
	value string
	items []node
}

func (n node) str() string {
	if n.kind == kindString || n.kind == kindAtom {
		return n.value
	}
	return ""
}

// reader tokenizes IMAP response data. It never fails: unterminated strings
// and lists end at the end of input, which keeps partial data usable.
type reader struct {
	s   string
	pos int
}

func (r *reader) eof() bool { return r.pos >= len(r.s) }

func (r *reader) skipSpace() {
	for !r.eof() {
		switch r.s[r.pos] {
		case ' ', '\t', '\r', '\n':
			r.pos++
		default:
			return
		}
	}
}

// readList reads items until the matching ')' (which must already be consumed
// at the opening side) or end of input.
func (r *reader) readList() []node {
	var items []node
	for {
		r.skipSpace()
		if r.eof() {
			return items
		}
		if r.s[r.pos] == ')' {
			r.pos++
			return items
		}
		items = append(items, r.readItem())
	}
}

func (r *reader) readItem() node {
	switch c := r.s[r.pos]; c {
	case '(':
		r.pos++
		return node{kind: kindList, items: r.readList()}
	case '"':
		return node{kind: kindString, value: r.readQuoted()}
	case '{':
		if v, ok := r.readLiteral(); ok {
			return node{kind: kindString, value: v}
		}
		return r.readAtom()
	default:
		n := r.readAtom()
		if strings.EqualFold(n.value, "NIL") {
			return node{kind: kindNil}
		}
		return n
	}
}

func (r *reader) readQuoted() string {
	r.pos++
	var b strings.Builder
	for !r.eof() {
		c := r.s[r.pos]
		r.pos++
		switch c {
		case '\\':
			if !r.eof() {
				b.WriteByte(r.s[r.pos])
				r.pos++
			}
		case '"':
			return b.String()
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// readLiteral reads "{N}\r\n" followed by N bytes.
func (r *reader) readLiteral() (string, bool) {
	end := strings.IndexByte(r.s[r.pos:], '}')
	if end < 0 {
		return "", false
	}
	sizeText := strings.TrimSuffix(r.s[r.pos+1:r.pos+end], "+")
	size, err := strconv.Atoi(sizeText)
	if err != nil || size < 0 {
		return "", false
	}
	p := r.pos + end + 1
	if strings.HasPrefix(r.s[p:], "\r\n") {
		p += 2
	} else if strings.HasPrefix(r.s[p:], "\n") {
		p++
	}
	if size > len(r.s)-p {
		size = len(r.s) - p
	}
	r.pos = p + size
	return r.s[p : p+size], true
}

// readAtom reads up to whitespace or a list delimiter. Brackets are kept so
// that section specs like BODY[HEADER.FIELDS (X)] stay a single atom prefix.
func (r *reader) readAtom() node {
	start := r.pos
	depth := 0
	for !r.eof() {
		c := r.s[r.pos]
		if depth == 0 && (c == ' ' || c == '(' || c == ')' || c == '\r' || c == '\n') {
			break
		}
		if c == '[' {
			depth++
		} else if c == ']' && depth > 0 {
			depth--
		}
		r.pos++
	}
	if r.pos == start {
		// stray delimiter; consume it so the caller makes progress
		r.pos++
	}
	return node{kind: kindAtom, value: r.s[start:r.pos]}
}
