package helpers

import (
	"bufio"
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/k3a/html2text"
)

const notAvailable = "N/A"

// HeaderSummary holds the decoded header fields logged for every message.
type HeaderSummary struct {
	From      string
	To        string
	Subject   string
	Date      string
	MessageID string
}

// ParseHeaderSummary parses a fetched BODY[HEADER.FIELDS (...)] block. Fields
// that are absent are reported as "N/A". An error is returned only when the
// block is not a valid header at all.
func ParseHeaderSummary(raw []byte) (HeaderSummary, error) {
	// A header block must be terminated by an empty line.
	if !bytes.HasSuffix(raw, []byte("\r\n\r\n")) && !bytes.HasSuffix(raw, []byte("\n\n")) {
		raw = append(append([]byte{}, raw...), "\r\n"...)
	}

	th, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return HeaderSummary{}, err
	}
	h := mail.Header{Header: message.Header{Header: th}}

	summary := HeaderSummary{
		From:      firstAddress(h, "From"),
		To:        firstAddress(h, "To"),
		Subject:   decodedText(h, "Subject"),
		Date:      notAvailable,
		MessageID: notAvailable,
	}
	if date, err := h.Date(); err == nil && !date.IsZero() {
		summary.Date = date.Format("Mon, 02 Jan 2006 15:04:05 -0700")
	} else if v := h.Get("Date"); v != "" {
		summary.Date = v
	}
	if id, err := h.MessageID(); err == nil && id != "" {
		summary.MessageID = id
	}
	return summary, nil
}

func firstAddress(h mail.Header, key string) string {
	if addrs, err := h.AddressList(key); err == nil && len(addrs) > 0 {
		return addrs[0].String()
	}
	return decodedText(h, key)
}

func decodedText(h mail.Header, key string) string {
	v, err := h.Text(key)
	if err != nil {
		v = h.Get(key)
	}
	if v == "" {
		return notAvailable
	}
	return v
}

// BodyPreview renders the first maxRunes characters of a raw body as plain
// text for logging. HTML is converted to text and whitespace is collapsed.
func BodyPreview(rawBody string, maxRunes int) string {
	text := html2text.HTML2Text(DecodeQuotedPrintable(rawBody))
	return Truncate(strings.Join(strings.Fields(SanitizeUTF8(text)), " "), maxRunes)
}

// Truncate shortens s to maxRunes characters, appending "..." when cut.
func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes]) + "..."
}
