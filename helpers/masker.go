package helpers

import "strings"

// MaskSecret hides a credential for logging while keeping its presence visible.
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	return "[REDACTED]"
}

// MaskLoginLine redacts the password of an IMAP LOGIN command line
// ("<tag> LOGIN <user> <password>") captured by protocol debug output.
// Other lines are returned unchanged.
func MaskLoginLine(line string) string {
	parts := strings.Fields(line)
	for i, p := range parts {
		if !strings.EqualFold(p, "LOGIN") && !strings.EqualFold(p, "AUTHENTICATE") {
			continue
		}
		keep := i + 2
		if len(parts) > keep {
			return strings.Join(parts[:keep], " ") + " " + MaskSecret(strings.Join(parts[keep:], " "))
		}
		return line
	}
	return line
}
