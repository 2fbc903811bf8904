package bridge

import "strings"

// SanitizeName reduces a site identifier or script file name to a safe file
// name component. Anything outside [a-z0-9._-] is dropped, separators can
// never survive, and leading dots are stripped so the result cannot traverse
// out of the worker directory. Site identifiers are validated against the
// registry before they get here, but the value still originates from request
// content, so it is never used in a path without passing through this.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		}
	}
	out := b.String()
	for strings.Contains(out, "..") {
		out = strings.ReplaceAll(out, "..", ".")
	}
	return strings.TrimLeft(out, ".")
}
