// Package email composes outgoing messages and derives reply metadata.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	gomail "github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

var ErrNoSender = errors.New("from address is required")

type Compose struct {
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	Body        string
	InReplyTo   string
	References  []string
	Attachments []string
	// Date defaults to now.
	Date time.Time
}

// Build renders c as RFC 5322 bytes ready for DATA. Bcc recipients never
// appear in the header.
func Build(c Compose) ([]byte, error) {
	if c.From == "" {
		return nil, ErrNoSender
	}

	var h gomail.Header
	from, err := parseAddresses([]string{c.From})
	if err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	h.SetAddressList("From", from)
	for field, list := range map[string][]string{"To": c.To, "Cc": c.Cc} {
		if len(list) == 0 {
			continue
		}
		addrs, err := parseAddresses(list)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", strings.ToLower(field), err)
		}
		h.SetAddressList(field, addrs)
	}
	h.SetSubject(c.Subject)
	date := c.Date
	if date.IsZero() {
		date = time.Now()
	}
	h.SetDate(date)
	h.SetMessageID(newMessageID(c.From))
	if id := strings.Trim(c.InReplyTo, "<> "); id != "" {
		h.SetMsgIDList("In-Reply-To", []string{id})
	}
	if len(c.References) > 0 {
		refs := make([]string, 0, len(c.References))
		for _, r := range c.References {
			if id := strings.Trim(r, "<> "); id != "" {
				refs = append(refs, id)
			}
		}
		h.SetMsgIDList("References", refs)
	}

	var buf bytes.Buffer
	if len(c.Attachments) == 0 {
		h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		h.Set("Content-Transfer-Encoding", "quoted-printable")
		w, err := gomail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, err
		}
		if _, err := io.WriteString(w, c.Body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	mw, err := gomail.CreateWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	var th gomail.InlineHeader
	th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	th.Set("Content-Transfer-Encoding", "quoted-printable")
	tw, err := mw.CreateSingleInline(th)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(tw, c.Body); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}

	for _, path := range c.Attachments {
		if path == "" {
			continue
		}
		if err := writeAttachment(mw, path); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Recipients lists every envelope recipient of c, Bcc included.
func Recipients(c Compose) []string {
	all := make([]string, 0, len(c.To)+len(c.Cc)+len(c.Bcc))
	for _, list := range [][]string{c.To, c.Cc, c.Bcc} {
		for _, a := range list {
			if addr, err := mail.ParseAddress(a); err == nil {
				all = append(all, addr.Address)
			} else if a = strings.TrimSpace(a); a != "" {
				all = append(all, a)
			}
		}
	}
	return deduplicateAddresses(all)
}

// AddressOf returns the bare mailbox of a formatted address.
func AddressOf(s string) string {
	if addr, err := mail.ParseAddress(s); err == nil {
		return addr.Address
	}
	return strings.TrimSpace(s)
}

func writeAttachment(mw *gomail.Writer, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	filename := filepath.Base(path)
	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}

	var ah gomail.AttachmentHeader
	ah.SetContentType(contentType, map[string]string{"name": filename})
	ah.SetFilename(filename)
	ah.Set("Content-Transfer-Encoding", "base64")
	w, err := mw.CreateAttachment(ah)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func parseAddresses(list []string) ([]*gomail.Address, error) {
	out := make([]*gomail.Address, 0, len(list))
	for _, s := range list {
		addr, err := mail.ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", s, err)
		}
		out = append(out, &gomail.Address{Name: addr.Name, Address: addr.Address})
	}
	return out, nil
}

func newMessageID(from string) string {
	domain := "localhost"
	if at := strings.LastIndexByte(AddressOf(from), '@'); at >= 0 {
		domain = AddressOf(from)[at+1:]
	}
	return uuid.NewString() + "@" + domain
}

