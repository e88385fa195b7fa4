package whisper

import "strings"

// joinSegments trims each segment, drops whisper's non-speech annotations
// such as "[BLANK_AUDIO]", "(music)" or "[ Silence ]", and joins the rest
// with single spaces.
func joinSegments(segments []string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.TrimSpace(s)
		if s == "" || isAnnotation(s) {
			continue
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, " ")
}

// isAnnotation reports whether s is entirely a bracketed or parenthesised tag.
func isAnnotation(s string) bool {
	if len(s) < 2 {
		return false
	}
	open, close := s[0], s[len(s)-1]
	if !(open == '[' && close == ']') && !(open == '(' && close == ')') {
		return false
	}
	return !strings.ContainsAny(s[1:len(s)-1], "[]()")
}
