package logger

import "strings"

// maxLoggedValueLen caps the length of user-supplied strings in log entries.
const maxLoggedValueLen = 100

// Sanitize makes a user-supplied string safe for inclusion in a log entry.
// CR, LF, and other control characters (U+0000–U+001F, U+007F) are stripped
// so that attacker-controlled input cannot forge log lines, and the result
// is truncated to 100 characters. Truncation counts runes, never splitting
// a multi-byte character.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	kept := 0
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			continue
		}
		if kept == maxLoggedValueLen {
			break
		}
		b.WriteRune(r)
		kept++
	}
	return b.String()
}
