// Package settings loads the mail connector settings of a site and rewrites
// their SMTP/IMAP endpoints when the site reaches its mail server through
// tunnels.
package settings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Settings keys
const (
	KeyMailHost        = "EMAIL_CONNECTOR_MAIL_HOST"
	KeyMailPort        = "EMAIL_CONNECTOR_MAIL_PORT"
	KeyMailUsername    = "EMAIL_CONNECTOR_MAIL_USERNAME"
	KeyMailPassword    = "EMAIL_CONNECTOR_MAIL_PASSWORD"
	KeyMailFromName    = "EMAIL_CONNECTOR_MAIL_FROM_NAME"
	KeyMailFromAddress = "EMAIL_CONNECTOR_MAIL_FROM_ADDRESS"

	KeyIMAPServer   = "abe_imap_server"
	KeyIMAPPort     = "abe_imap_port"
	KeyIMAPUsername = "abe_imap_username"
	KeyIMAPPassword = "abe_imap_password"
	KeyIMAPPath     = "abe_imap_path"
)

// DefaultMailConfig is used when a site names no mail config file.
const DefaultMailConfig = "gmail.json"

// Settings maps setting keys to their configured values.
type Settings map[string]string

// Get returns the value for key with surrounding whitespace removed.
func (s Settings) Get(key string) string {
	return strings.TrimSpace(s[key])
}

// Clone returns an independent copy.
func (s Settings) Clone() Settings {
	out := make(Settings, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Keys returns the setting keys in sorted order.
func (s Settings) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Load reads dir/mailConfig, falling back to DefaultMailConfig when
// mailConfig is empty. Non-string JSON values are stored in their JSON
// text form.
func Load(dir, mailConfig string) (Settings, error) {
	if mailConfig == "" {
		mailConfig = DefaultMailConfig
	}
	path := filepath.Join(dir, mailConfig)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load email settings from %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load email settings from %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes a JSON object of settings.
func Parse(data []byte) (Settings, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("settings must be a JSON object")
	}

	s := make(Settings, len(raw))
	for k, v := range raw {
		s[k] = StringValue(v)
	}
	return s, nil
}

// StringValue renders a JSON value as a setting string: strings are
// unquoted, null is empty and anything else keeps its JSON text.
func StringValue(v json.RawMessage) string {
	var str string
	if err := json.Unmarshal(v, &str); err == nil {
		return str
	}
	trimmed := bytes.TrimSpace(v)
	if bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	return string(trimmed)
}

// Port parses the numeric port stored under key, returning def when the
// value is empty or not a positive number.
func (s Settings) Port(key string, def int) int {
	p, err := strconv.Atoi(s.Get(key))
	if err != nil || p <= 0 {
		return def
	}
	return p
}
