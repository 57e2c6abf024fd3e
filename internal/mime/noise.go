package mime

import (
	"bytes"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	replyDivider = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\s*On\s.+\swrote:\s*$`),
		regexp.MustCompile(`(?i)^\s*-{2,}\s*Original Message\s*-{2,}\s*$`),
		regexp.MustCompile(`(?i)^\s*-{2,}\s*Forwarded message\s*-{2,}\s*$`),
		regexp.MustCompile(`(?i)^\s*#+-?\s*Please type your reply above this line\s*-?#+\s*$`),
		regexp.MustCompile(`(?i)^\s*-+\s*Reply above this line\s*-+\s*$`),
		regexp.MustCompile(`(?i)^\s*_{10,}\s*$`),
	}
	onPrefix = regexp.MustCompile(`(?i)^\s*On\s.+`)
	// "Jane Doe, Mar 4, 2024, 10:15 AM PST"
	attributionLine = regexp.MustCompile(`^\s*[^,\n]{1,80},\s*(Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\.?\s+\d{1,2},\s*\d{4},?\s+\d{1,2}:\d{2}(\s*[AP]M)?(\s+[A-Z]{2,5})?\s*$`)
	ticketToken     = regexp.MustCompile(`\s?\[(?:#|(?i:ticket|case|request)\s*#?)\s*[A-Za-z0-9-]+\]`)

	boundaryLine  = regexp.MustCompile(`^--[-=_.A-Za-z0-9]*[A-Za-z0-9][-=_.A-Za-z0-9]*$`)
	mimeHeaderRow = regexp.MustCompile(`(?i)^\s*(content-type|content-transfer-encoding|content-disposition|content-id|mime-version)\s*:`)
	mimeParamRow  = regexp.MustCompile(`(?i)^\s*(charset|boundary)\s*=`)
)

// StripQuotedText removes quoted history from a plain-text body: lines
// prefixed with '>', everything from a reply divider on, a leading attribution
// line and ticket-id tokens. Runs of blank lines are capped at two.
func StripQuotedText(text string) string {
	main, _ := SplitReply(text)
	return main
}

// SplitReply separates the new content of a plain-text reply from the quoted
// material it carries. quoted is empty when nothing was detected.
func SplitReply(text string) (main, quoted string) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var kept, dropped []string
	firstContent := true
	for i, line := range lines {
		if isDivider(line) || (wrapsAttribution(line) && i+1 < len(lines) && strings.EqualFold(strings.TrimSpace(lines[i+1]), "wrote:")) {
			dropped = append(dropped, lines[i:]...)
			break
		}
		if strings.HasPrefix(strings.TrimLeft(line, " \t"), ">") {
			dropped = append(dropped, line)
			continue
		}
		if firstContent && strings.TrimSpace(line) != "" {
			firstContent = false
			if attributionLine.MatchString(line) {
				continue
			}
		}
		kept = append(kept, ticketToken.ReplaceAllString(line, ""))
	}

	main = strings.TrimSpace(collapseBlankLines(kept))
	quoted = strings.TrimSpace(strings.Join(dropped, "\n"))
	return main, quoted
}

func isDivider(line string) bool {
	for _, re := range replyDivider {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// wrapsAttribution matches the first half of an "On ... wrote:" line that a
// client wrapped before "wrote:".
func wrapsAttribution(line string) bool {
	return onPrefix.MatchString(line)
}

func collapseBlankLines(lines []string) string {
	var b strings.Builder
	blank := 0
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			blank++
			if blank > 2 {
				continue
			}
		} else {
			blank = 0
		}
		if i > 0 && b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	return b.String()
}

// CleanArtifacts drops stray boundary lines and MIME header fragments left
// behind by a partial decode.
func CleanArtifacts(text string) string {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		trimmed := strings.TrimRight(line, "\r \t")
		if len(trimmed) >= 12 && boundaryLine.MatchString(trimmed) {
			continue
		}
		if mimeHeaderRow.MatchString(trimmed) || mimeParamRow.MatchString(trimmed) {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// quoteContainer reports whether a start tag opens a known quote wrapper.
func quoteContainer(t html.Token) bool {
	if t.Data == "blockquote" {
		return true
	}
	if t.Data != "div" {
		return false
	}
	for _, a := range t.Attr {
		switch a.Key {
		case "class":
			for _, c := range strings.Fields(a.Val) {
				switch c {
				case "gmail_quote", "gmail_attr", "yahoo_quoted", "moz-cite-prefix", "protonmail_quote", "OutlookMessageHeader":
					return true
				}
			}
		case "id":
			switch a.Val {
			case "appendonsend", "divRplyFwdMsg", "mail-editor-reference-message-container":
				return true
			}
		}
	}
	return false
}

// StripQuotedMarkup removes quote-container elements from markup. Every other
// byte is preserved verbatim; the content is never truncated otherwise.
func StripQuotedMarkup(markup string) string {
	z := html.NewTokenizer(strings.NewReader(markup))
	var out bytes.Buffer
	skipTag := ""
	depth := 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if z.Err() != io.EOF {
				return markup
			}
			break
		}
		raw := z.Raw()
		if skipTag == "" {
			if tt == html.StartTagToken {
				tok := z.Token()
				if quoteContainer(tok) {
					skipTag, depth = tok.Data, 1
					continue
				}
			}
			out.Write(raw)
			continue
		}
		switch tt {
		case html.StartTagToken:
			name, _ := z.TagName()
			if string(name) == skipTag {
				depth++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if string(name) == skipTag {
				depth--
				if depth == 0 {
					skipTag = ""
				}
			}
		}
	}
	return out.String()
}
