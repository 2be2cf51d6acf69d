package helpers

import (
	"regexp"
	"strconv"
)

var (
	softLineBreakRe = regexp.MustCompile("=\r?\n")
	hexEscapeRe     = regexp.MustCompile("=([0-9A-Fa-f]{2})")
)

// DecodeQuotedPrintable decodes the quoted-printable artifacts found in raw
// message bodies: soft line breaks are removed and every =XX escape becomes
// the character with code point 0xXX (latin-1 interpretation). Malformed
// escapes are left untouched; unlike mime/quotedprintable this never fails.
func DecodeQuotedPrintable(input string) string {
	unwrapped := softLineBreakRe.ReplaceAllString(input, "")
	return hexEscapeRe.ReplaceAllStringFunc(unwrapped, func(escape string) string {
		code, err := strconv.ParseUint(escape[1:], 16, 8)
		if err != nil {
			return escape
		}
		return string(rune(code))
	})
}
