package email

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/k3a/html2text"

	"mailsync/internal/message"
)

// ReplyHeaders returns the In-Reply-To value and the References chain for a
// reply to m: m's own references followed by its Message-ID.
func ReplyHeaders(m message.Message) (string, []string) {
	messageID := strings.TrimSpace(m.MessageID)
	refs := make([]string, 0, len(m.References)+1)
	refs = append(refs, m.References...)
	if len(refs) == 0 && m.InReplyTo != "" {
		refs = append(refs, m.InReplyTo)
	}
	if messageID != "" && !containsFold(refs, messageID) {
		refs = append(refs, messageID)
	}
	return messageID, refs
}

// Reply prepares a Compose answering m from self. With all set the original
// recipients are kept, minus self.
func Reply(m message.Message, self, body string, all bool) Compose {
	inReplyTo, refs := ReplyHeaders(m)
	c := Compose{
		From:       self,
		Subject:    ReplySubject(m.Subject),
		Body:       body + QuoteBody(m),
		InReplyTo:  inReplyTo,
		References: refs,
	}
	if all {
		c.To, c.Cc = ReplyAllRecipients(m, self)
	} else {
		c.To = ReplyRecipients(m, self)
	}
	return c
}

func ReplyRecipients(m message.Message, self string) []string {
	to := parseEmailAddresses(m.From)
	return deduplicateAddresses(filterOutSelf(to, AddressOf(self)))
}

func ReplyAllRecipients(m message.Message, self string) (to, cc []string) {
	selfAddr := AddressOf(self)
	toAddrs := parseEmailAddresses(m.From)
	toAddrs = append(toAddrs, parseEmailAddresses(strings.Join(m.To, ", "))...)
	toAddrs = deduplicateAddresses(filterOutSelf(toAddrs, selfAddr))

	ccAddrs := deduplicateAddresses(filterOutSelf(parseEmailAddresses(strings.Join(m.Cc, ", ")), selfAddr))
	toSet := make(map[string]bool, len(toAddrs))
	for _, addr := range toAddrs {
		toSet[strings.ToLower(addr)] = true
	}
	for _, addr := range ccAddrs {
		if !toSet[strings.ToLower(addr)] {
			cc = append(cc, addr)
		}
	}
	return toAddrs, cc
}

func ReplySubject(original string) string {
	trimmed := strings.TrimSpace(original)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(trimmed), "re:") {
		return trimmed
	}
	return "Re: " + trimmed
}

// QuoteBody renders m's body as a "> " quoted block with an attribution line.
// Markup bodies are flattened to text first.
func QuoteBody(m message.Message) string {
	body := m.Body
	if m.IsHTML {
		body = html2text.HTML2Text(body)
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("\n\n")
	switch {
	case m.DateKnown && m.From != "":
		sb.WriteString(fmt.Sprintf("On %s, %s wrote:\n", m.Date.Format("Mon, 2 Jan 2006 15:04"), m.From))
	case m.From != "":
		sb.WriteString(fmt.Sprintf("%s wrote:\n", m.From))
	default:
		sb.WriteString("Original message:\n")
	}
	for _, line := range strings.Split(body, "\n") {
		sb.WriteString("> ")
		sb.WriteString(strings.TrimRight(line, "\r"))
		sb.WriteString("\n")
	}
	return sb.String()
}

func parseEmailAddresses(header string) []string {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}
	addrs, err := mail.ParseAddressList(header)
	if err != nil {
		return parseEmailAddressesFallback(header)
	}
	result := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		if addr.Address != "" {
			result = append(result, strings.ToLower(addr.Address))
		}
	}
	return result
}

func parseEmailAddressesFallback(header string) []string {
	parts := strings.Split(header, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if start := strings.LastIndex(p, "<"); start != -1 {
			if end := strings.LastIndex(p, ">"); end > start {
				if addr := strings.TrimSpace(p[start+1 : end]); addr != "" {
					result = append(result, strings.ToLower(addr))
				}
				continue
			}
		}
		if strings.Contains(p, "@") {
			result = append(result, strings.ToLower(p))
		}
	}
	return result
}

func filterOutSelf(addresses []string, self string) []string {
	selfLower := strings.ToLower(self)
	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if strings.ToLower(addr) != selfLower {
			result = append(result, addr)
		}
	}
	return result
}

func deduplicateAddresses(addresses []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		lower := strings.ToLower(addr)
		if !seen[lower] {
			seen[lower] = true
			result = append(result, addr)
		}
	}
	return result
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
