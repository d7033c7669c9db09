package logging

import "strings"

// Sanitize flattens user-provided strings (hostnames, commands, device
// output excerpts) before they are logged so they cannot forge log lines.
// Whitespace control characters become spaces, other control characters are
// dropped, and the result is capped at maxSanitizedLen bytes.
func Sanitize(s string) string {
	out := strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			return ' '
		case r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, s)
	if len(out) > maxSanitizedLen {
		out = out[:maxSanitizedLen] + "..."
	}
	return out
}

const maxSanitizedLen = 256
