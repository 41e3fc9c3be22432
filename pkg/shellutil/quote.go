// Package shellutil formats command lines so they can be pasted into a shell.
package shellutil

import "strings"

// Quote wraps s in single quotes. Embedded single quotes become '\''.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// safe reports whether s can appear in a shell word unquoted.
func safe(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("-_./:=,+@%", r):
		default:
			return false
		}
	}
	return true
}

// QuoteIfNeeded returns s unchanged when it has no shell metacharacters.
func QuoteIfNeeded(s string) string {
	if safe(s) {
		return s
	}
	return Quote(s)
}

// Join renders a command and its arguments as one shell line.
func Join(name string, args ...string) string {
	words := make([]string, 0, len(args)+1)
	words = append(words, QuoteIfNeeded(name))
	for _, a := range args {
		words = append(words, QuoteIfNeeded(a))
	}
	return strings.Join(words, " ")
}

// EnvLine renders KEY=value pairs for the given keys, in order, in the form
// a shell accepts as a command prefix. Keys missing from env are skipped.
func EnvLine(env []string, keys ...string) string {
	values := make(map[string]string, len(env))
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok {
			values[k] = v
		}
	}
	var words []string
	for _, k := range keys {
		if v, ok := values[k]; ok {
			words = append(words, k+"="+QuoteIfNeeded(v))
		}
	}
	return strings.Join(words, " ")
}
