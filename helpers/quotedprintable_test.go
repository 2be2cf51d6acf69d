package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeQuotedPrintable(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "plain text unchanged", input: "Hello World", expected: "Hello World"},
		{name: "non-ascii unchanged", input: "Grüße, 日本", expected: "Grüße, 日本"},
		{name: "crlf soft break", input: "Hello=\r\nWorld", expected: "HelloWorld"},
		{name: "lf soft break", input: "Hello=\nWorld", expected: "HelloWorld"},
		{name: "hex escape", input: "Caf=E9", expected: "Café"},
		{name: "lowercase hex", input: "a=3db", expected: "a=b"},
		{name: "malformed escape kept", input: "100=ZZ", expected: "100=ZZ"},
		{name: "trailing equals kept", input: "total=", expected: "total="},
		{name: "single hex digit kept", input: "x=4", expected: "x=4"},
		{name: "html attribute", input: `<a href=3D"mailto:a@b.com">`, expected: `<a href="mailto:a@b.com">`},
		{
			name:     "escape split by soft break",
			input:    "href=3D\"mailto:a@b.c=\r\nom?subject=3DHi\"",
			expected: "href=\"mailto:a@b.com?subject=Hi\"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DecodeQuotedPrintable(tt.input))
		})
	}
}

func TestDecodeQuotedPrintable_LatinOne(t *testing.T) {
	decoded := DecodeQuotedPrintable("Caf=E9")
	runes := []rune(decoded)
	assert.Equal(t, rune(0xE9), runes[len(runes)-1])
}
