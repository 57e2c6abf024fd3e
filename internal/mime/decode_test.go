package mime

import (
	"bytes"
	"encoding/base64"
	"mime/quotedprintable"
	"strconv"
	"strings"
	"testing"
)

func TestQuotedPrintableRoundTrip(t *testing.T) {
	inputs := []string{
		"plain ascii",
		"café crème brûlée",
		"a line\nanother = sign\n",
		strings.Repeat("Grüße aus München ", 10),
	}
	for _, in := range inputs {
		var buf bytes.Buffer
		w := quotedprintable.NewWriter(&buf)
		w.Binary = true
		if _, err := w.Write([]byte(in)); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
		if got := DecodeQuotedPrintable(buf.String()); got != in {
			t.Fatalf("round trip mismatch\n got %q\nwant %q", got, in)
		}
	}
}

func TestQuotedPrintableSequenceAcrossSoftBreak(t *testing.T) {
	got := DecodeQuotedPrintable("caf=C3=\r\n=A9 ok")
	if got != "café ok" {
		t.Fatalf("unexpected decode %q", got)
	}
}

func TestQuotedPrintableInvalidEscapeKept(t *testing.T) {
	got := DecodeQuotedPrintable("50=ZZ off")
	if got != "50=ZZ off" {
		t.Fatalf("unexpected decode %q", got)
	}
}

func TestBase64(t *testing.T) {
	in := "hello, wörld"
	enc := base64.StdEncoding.EncodeToString([]byte(in))
	wrapped := enc[:6] + "\r\n" + enc[6:]
	if got := DecodeBase64(wrapped); got != in {
		t.Fatalf("unexpected decode %q", got)
	}
	if got := DecodeBase64("%%% not base64"); got != "%%% not base64" {
		t.Fatalf("malformed input should pass through, got %q", got)
	}
}

func TestExtractLiteral(t *testing.T) {
	body := "Subject: hi\r\n\r\nhello"
	raw := "* 1 FETCH (UID 5 BODY[] {" + strconv.Itoa(len(body)) + "}\r\n" + body + ")\r\nA004 OK FETCH completed\r\n"
	if got := ExtractLiteral(raw); got != body {
		t.Fatalf("unexpected literal %q", got)
	}

	short := "* 1 FETCH (BODY[] {500}\r\ntruncated"
	if got := ExtractLiteral(short); got != "truncated" {
		t.Fatalf("expected clamped literal, got %q", got)
	}
}

func TestDecodeOversizedLiteral(t *testing.T) {
	raw := "* 1 FETCH (BODY[] {9223372036854775807}\r\nhello)\r\nA004 OK FETCH completed\r\n"

	if got := ExtractLiteral(raw); !strings.HasPrefix(got, "hello") {
		t.Fatalf("expected literal clamped to the buffer, got %q", got)
	}
	res := Decode(raw)
	if !strings.Contains(res.Text, "hello") {
		t.Fatalf("unexpected text %q", res.Text)
	}
}

func TestIsMultipartRequiresHeader(t *testing.T) {
	if IsMultipart("----------boundary-like line\r\njust text") {
		t.Fatalf("boundary-looking line alone must not count")
	}
	if !IsMultipart("Content-Type: multipart/alternative; boundary=x\r\n\r\n") {
		t.Fatalf("expected multipart")
	}
}

func TestDecodePrefersHTMLPart(t *testing.T) {
	payload := strings.Join([]string{
		"From: a@example.com",
		"Subject: test",
		"MIME-Version: 1.0",
		`Content-Type: multipart/alternative; boundary="b1"`,
		"",
		"--b1",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"plain version",
		"--b1",
		"Content-Type: text/html; charset=utf-8",
		"Content-Transfer-Encoding: quoted-printable",
		"",
		"<div>caf=C3=A9 <b>bold</b></div>",
		"--b1--",
		"",
	}, "\r\n")

	res := Decode(literal(payload))

	if !res.IsHTML {
		t.Fatalf("expected html result")
	}
	if !strings.Contains(res.Text, "<div>café <b>bold</b></div>") {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if res.Header.Get("Subject") != "test" {
		t.Fatalf("expected top-level header to be kept")
	}
}

func TestDecodeCollectsAttachmentNames(t *testing.T) {
	payload := strings.Join([]string{
		`Content-Type: multipart/mixed; boundary="mix"`,
		"",
		"--mix",
		"Content-Type: text/plain",
		"",
		"see attached",
		"--mix",
		`Content-Type: application/pdf; name="report.pdf"`,
		`Content-Disposition: attachment; filename="report.pdf"`,
		"Content-Transfer-Encoding: base64",
		"",
		"JVBERi0xLjQK",
		"--mix--",
		"",
	}, "\r\n")

	res := Decode(literal(payload))

	if res.IsHTML || res.Text != "see attached" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Attachments) != 1 || res.Attachments[0] != "report.pdf" {
		t.Fatalf("unexpected attachments %v", res.Attachments)
	}
}

func TestDecodeManualFallbackWithoutClosingBoundary(t *testing.T) {
	payload := strings.Join([]string{
		"X-Junk: first",
		"",
		"preamble",
		`Content-Type: multipart/alternative; boundary=zz`,
		"--zz",
		"Content-Type: text/plain; charset=iso-8859-1",
		"Content-Transfer-Encoding: quoted-printable",
		"",
		"Gr=FC=DFe",
	}, "\r\n")

	res := Decode(literal(payload))

	if res.Text != "Grüße" {
		t.Fatalf("unexpected text %q", res.Text)
	}
}

func TestDecodeSinglePartHeuristicQP(t *testing.T) {
	payload := "Subject: x\r\nContent-Type: text/plain\r\n\r\nna=C3=AFve\r\n"

	res := Decode(literal(payload))

	if res.Text != "naïve" {
		t.Fatalf("unexpected text %q", res.Text)
	}
}

func TestDecodeStripsQuotedReply(t *testing.T) {
	payload := "Content-Type: text/plain\r\n\r\nSounds good [#TICKET-42] to me.\r\n\r\nOn Mon, Mar 4, 2024 at 10:00 AM Bob <bob@example.com> wrote:\r\n> earlier message\r\n> more\r\n"

	res := Decode(literal(payload))

	if res.Text != "Sounds good to me." {
		t.Fatalf("unexpected text %q", res.Text)
	}
}

func TestSplitReply(t *testing.T) {
	text := "Jane Doe, Mar 4, 2024, 10:15 AM PST\n\nThanks!\n> quoted\n\n\n\n\nBye\nOn Tue, Mar 5, 2024 at 9:00 AM Jane\nwrote:\nold stuff"

	main, quoted := SplitReply(text)

	if main != "Thanks!\n\n\nBye" {
		t.Fatalf("unexpected main %q", main)
	}
	if !strings.Contains(quoted, "> quoted") || !strings.Contains(quoted, "old stuff") {
		t.Fatalf("unexpected quoted %q", quoted)
	}
}

func TestCleanArtifacts(t *testing.T) {
	text := "hello\n--000000000000abcdef123456\nContent-Type: text/plain; charset=UTF-8\ncharset=utf-8\nworld"
	if got := CleanArtifacts(text); got != "hello\nworld" {
		t.Fatalf("unexpected cleaned text %q", got)
	}
	if got := CleanArtifacts("-- \nsig"); got != "-- \nsig" {
		t.Fatalf("short signature delimiter must survive, got %q", got)
	}
}

func TestStripQuotedMarkupPreservesRest(t *testing.T) {
	in := `<html><body><p class="x">Reply &amp; more</p><div class="gmail_quote"><div>nested <div>deep</div></div><blockquote>old</blockquote></div><p>tail</p></body></html>`
	want := `<html><body><p class="x">Reply &amp; more</p><p>tail</p></body></html>`

	if got := StripQuotedMarkup(in); got != want {
		t.Fatalf("unexpected markup\n got %q\nwant %q", got, want)
	}
}

func TestLooksLikeMarkup(t *testing.T) {
	if !LooksLikeMarkup("<!DOCTYPE html><html>") {
		t.Fatalf("expected markup")
	}
	if LooksLikeMarkup("a < b and c > d") {
		t.Fatalf("comparison text is not markup")
	}
}

func literal(payload string) string {
	return "* 1 FETCH (UID 9 BODY[] {" + strconv.Itoa(len(payload)) + "}\r\n" + payload + ")\r\nA005 OK FETCH completed\r\n"
}
