package mime

import (
	"encoding/base64"
	"regexp"
	"strings"
)

var qpEscape = regexp.MustCompile(`=[0-9A-F]{2}`)

// LooksQuotedPrintable reports whether s carries =XX escapes, used when a part
// omits its Content-Transfer-Encoding header.
func LooksQuotedPrintable(s string) bool {
	return qpEscape.MatchString(s)
}

// DecodeQuotedPrintable works on bytes so that multi-byte UTF-8 sequences
// split across escapes (or across soft line breaks) are reassembled. Invalid
// escapes are copied through unchanged.
func DecodeQuotedPrintable(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '=' {
			out = append(out, c)
			continue
		}
		rest := s[i+1:]
		switch {
		case rest == "":
			// soft break at end of input
		case strings.HasPrefix(rest, "\r\n"):
			i += 2
		case strings.HasPrefix(rest, "\n"):
			i++
		case len(rest) >= 2 && isHex(rest[0]) && isHex(rest[1]):
			out = append(out, unhex(rest[0])<<4|unhex(rest[1]))
			i += 2
		default:
			out = append(out, c)
		}
	}
	return string(out)
}

// DecodeBase64 strips whitespace and decodes standard base64. Malformed input
// is returned unchanged.
func DecodeBase64(s string) string {
	compact := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
	if b, err := base64.StdEncoding.DecodeString(compact); err == nil {
		return string(b)
	}
	if b, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(compact, "=")); err == nil {
		return string(b)
	}
	return s
}

// decodeTransfer applies the named Content-Transfer-Encoding. An empty
// encoding falls back to quoted-printable detection.
func decodeTransfer(encoding, body string) string {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		return DecodeQuotedPrintable(body)
	case "base64":
		return DecodeBase64(body)
	case "":
		if LooksQuotedPrintable(body) {
			return DecodeQuotedPrintable(body)
		}
		return body
	default:
		return body
	}
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
