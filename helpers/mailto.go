package helpers

import (
	"html"
	"net/url"
	"regexp"
	"strings"
)

var mailtoHrefRe = regexp.MustCompile(`(?i)href="mailto:([^"]+)"`)

// URL parsers drop tabs and newlines inside a link; quoted-printable bodies
// wrap long hrefs, so do the same before parsing.
var linkWhitespace = strings.NewReplacer("\r", "", "\n", "", "\t", "")

// Mailto is the reply described by a mailto: action link.
type Mailto struct {
	To       string
	Subject  string
	BodyText string
}

// ExtractMailto finds the first href="mailto:..." link in a raw message body
// and parses it. Only the first link is used; notifications carry a single
// primary action. The second return value is false when the body contains no
// usable link.
func ExtractMailto(rawBody string) (Mailto, bool) {
	decoded := DecodeQuotedPrintable(rawBody)
	match := mailtoHrefRe.FindStringSubmatch(decoded)
	if match == nil {
		return Mailto{}, false
	}
	return ParseMailto(html.UnescapeString(match[1]))
}

// ParseMailto parses the part of a mailto: URI following the scheme.
func ParseMailto(payload string) (Mailto, bool) {
	u, err := url.Parse("mailto:" + linkWhitespace.Replace(payload))
	if err != nil {
		return Mailto{}, false
	}

	to := u.Opaque
	if to == "" {
		to = u.Path
	}
	if unescaped, err := url.PathUnescape(to); err == nil {
		to = unescaped
	}

	// ParseQuery keeps every well-formed pair even when it reports an error.
	query, _ := url.ParseQuery(u.RawQuery)

	return Mailto{
		To:       to,
		Subject:  query.Get("subject"),
		BodyText: query.Get("body"),
	}, true
}
