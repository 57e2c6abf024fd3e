// Package mime reconstructs a readable body from raw FETCH body data.
// Every stage degrades to the raw payload instead of failing.
package mime

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
)

type Result struct {
	Text        string
	IsHTML      bool
	Attachments []string
	// Header is the top-level message header when it could be parsed.
	Header mail.Header
}

type part struct {
	contentType string
	text        string
}

var (
	literalMarker  = regexp.MustCompile(`\{(\d+)\+?\}\r?\n`)
	multipartType  = regexp.MustCompile(`(?i)content-type:\s*multipart/`)
	boundaryParam  = regexp.MustCompile(`(?i)boundary\s*=\s*(?:"([^"]+)"|([^\s;]+))`)
	headerLikeLine = regexp.MustCompile(`^[A-Za-z0-9-]+:`)
	markupRoot     = regexp.MustCompile(`(?i)<(!doctype|html|head|body|div|table|p|br|span)[\s>/]`)
)

// Decode turns a FETCH BODY[] response into a single noise-stripped body.
func Decode(raw string) Result {
	payload := ExtractLiteral(raw)
	res := Result{}

	header, body, hasHeader := splitHeader(payload)
	if hasHeader {
		res.Header = mail.Header{Header: message.Header{Header: header}}
	}

	if IsMultipart(payload) {
		parts, attachments := collectParts(payload)
		res.Attachments = attachments
		if p, ok := choosePart(parts); ok {
			res.Text = p.text
			res.IsHTML = strings.EqualFold(p.contentType, "text/html")
		} else {
			res.Text = payload
		}
	} else {
		res.Text = decodeSingle(header, body, hasHeader)
	}

	res.Text = CleanArtifacts(res.Text)
	if !res.IsHTML {
		res.IsHTML = LooksLikeMarkup(res.Text)
	}
	if res.IsHTML {
		res.Text = StripQuotedMarkup(res.Text)
	} else {
		res.Text = StripQuotedText(res.Text)
	}
	return res
}

// ExtractLiteral isolates the payload of the first "{N}" literal, tolerating
// trailing response noise. Without a literal the untagged and tagged status
// lines are dropped and the rest is returned.
func ExtractLiteral(raw string) string {
	if loc := literalMarker.FindStringSubmatchIndex(raw); loc != nil {
		n, err := strconv.Atoi(raw[loc[2]:loc[3]])
		if err == nil {
			start := loc[1]
			if n > len(raw)-start {
				n = len(raw) - start
			}
			return raw[start : start+n]
		}
	}
	lines := strings.Split(raw, "\n")
	var kept []string
	for _, line := range lines {
		trimmed := strings.TrimRight(line, "\r")
		if strings.HasPrefix(trimmed, "* ") || isStatusLine(trimmed) || trimmed == ")" {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func isStatusLine(line string) bool {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return false
	}
	switch strings.ToUpper(fields[1]) {
	case "OK", "NO", "BAD":
		return !strings.Contains(fields[0], ":")
	}
	return false
}

// IsMultipart is true only when a multipart Content-Type header is present;
// boundary-looking lines alone are not enough.
func IsMultipart(payload string) bool {
	return multipartType.MatchString(payload)
}

// LooksLikeMarkup reports whether text contains markup root tags.
func LooksLikeMarkup(text string) bool {
	return markupRoot.MatchString(text)
}

// choosePart prefers text/html, then text/plain, then the first textual part.
func choosePart(parts []part) (part, bool) {
	for _, want := range []string{"text/html", "text/plain"} {
		for _, p := range parts {
			if strings.EqualFold(p.contentType, want) && strings.TrimSpace(p.text) != "" {
				return p, true
			}
		}
	}
	for _, p := range parts {
		if p.contentType == "" || strings.HasPrefix(strings.ToLower(p.contentType), "text/") {
			return p, true
		}
	}
	return part{}, false
}

func collectParts(payload string) ([]part, []string) {
	var parts []part
	var attachments []string
	entity, err := message.Read(strings.NewReader(payload))
	// A multipart header below the top level leaves go-message with a single
	// text entity that still carries the boundaries.
	if entity != nil && (err == nil || message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)) && entity.MultipartReader() != nil {
		if werr := walkEntity(entity, &parts, &attachments); werr == nil && len(parts) > 0 {
			return parts, attachments
		}
	}
	parts, attachments = nil, nil
	splitManually(payload, 0, &parts, &attachments)
	return parts, attachments
}

func walkEntity(e *message.Entity, parts *[]part, attachments *[]string) error {
	if mr := e.MultipartReader(); mr != nil {
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				return nil
			}
			if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
				return err
			}
			if err := walkEntity(p, parts, attachments); err != nil {
				return err
			}
		}
	}

	ct, _, _ := e.Header.ContentType()
	disp, dparams, _ := e.Header.ContentDisposition()
	if strings.EqualFold(disp, "attachment") {
		name := dparams["filename"]
		if name == "" {
			_, cparams, _ := e.Header.ContentType()
			name = cparams["name"]
		}
		if name != "" {
			*attachments = append(*attachments, name)
		}
		return nil
	}
	if !strings.HasPrefix(strings.ToLower(ct), "text/") {
		return nil
	}
	b, err := io.ReadAll(e.Body)
	if err != nil {
		return err
	}
	text := string(b)
	if e.Header.Get("Content-Transfer-Encoding") == "" && LooksQuotedPrintable(text) {
		text = DecodeQuotedPrintable(text)
	}
	*parts = append(*parts, part{contentType: strings.ToLower(ct), text: text})
	return nil
}

const maxNesting = 8

// splitManually handles payloads go-message rejects: multipart headers that
// are not at the top level, missing closing boundaries, broken encodings.
func splitManually(payload string, depth int, parts *[]part, attachments *[]string) {
	m := boundaryParam.FindStringSubmatch(payload)
	if m == nil || depth > maxNesting {
		if h, body, ok := splitHeader(payload); ok {
			*parts = append(*parts, part{contentType: mediaType(h), text: decodeSingle(h, body, true)})
		}
		return
	}
	boundary := m[1]
	if boundary == "" {
		boundary = m[2]
	}
	delim := "--" + boundary
	sections := strings.Split(payload, delim)
	// sections[0] is the preamble (and the outer headers)
	for _, sec := range sections[1:] {
		if strings.HasPrefix(sec, "--") {
			break
		}
		sec = strings.TrimLeft(sec, "\r\n")
		h, body, ok := splitHeader(sec)
		if !ok {
			continue
		}
		ct := mediaType(h)
		if strings.HasPrefix(ct, "multipart/") {
			splitManually(sec, depth+1, parts, attachments)
			continue
		}
		hdr := message.Header{Header: h}
		if disp, params, err := hdr.ContentDisposition(); err == nil && strings.EqualFold(disp, "attachment") {
			if params["filename"] != "" {
				*attachments = append(*attachments, params["filename"])
			}
			continue
		}
		*parts = append(*parts, part{contentType: ct, text: decodeSingle(h, body, true)})
	}
}

// splitHeader separates a header block from content at the first blank line.
// ok is false when payload does not start with a header-looking line.
func splitHeader(payload string) (textproto.Header, string, bool) {
	if !headerLikeLine.MatchString(payload) {
		return textproto.Header{}, payload, false
	}
	br := bufio.NewReader(strings.NewReader(payload))
	h, err := textproto.ReadHeader(br)
	if err != nil {
		return textproto.Header{}, payload, false
	}
	rest, _ := io.ReadAll(br)
	return h, string(rest), true
}

func mediaType(h textproto.Header) string {
	hdr := message.Header{Header: h}
	ct, _, err := hdr.ContentType()
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.SplitN(h.Get("Content-Type"), ";", 2)[0]))
	}
	return strings.ToLower(ct)
}

// decodeSingle transfer-decodes one body and converts its charset to UTF-8.
func decodeSingle(h textproto.Header, body string, hasHeader bool) string {
	if !hasHeader {
		return decodeTransfer("", body)
	}
	text := decodeTransfer(h.Get("Content-Transfer-Encoding"), body)
	hdr := message.Header{Header: h}
	if _, params, err := hdr.ContentType(); err == nil {
		if cs := strings.ToLower(params["charset"]); cs != "" && cs != "utf-8" && cs != "us-ascii" {
			if r, err := charset.Reader(cs, strings.NewReader(text)); err == nil {
				if b, err := io.ReadAll(r); err == nil {
					text = string(b)
				}
			}
		}
	}
	return text
}
