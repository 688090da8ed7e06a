package utils

import (
	"strings"
	"unicode/utf8"
)

// maxPathComponentLength leaves room under NAME_MAX (255 bytes) for an index and extension suffix.
const maxPathComponentLength = 100

// pathUnsafeChars is the fixed denylist replaced in every path component.
const pathUnsafeChars = "/\\*#$@!\"<>?|:"

var pathReplacer = func() *strings.Replacer {
	pairs := make([]string, 0, 2*len(pathUnsafeChars))
	for _, r := range pathUnsafeChars {
		pairs = append(pairs, string(r), "_")
	}
	return strings.NewReplacer(pairs...)
}()

// SanitizePathComponent replaces every denylisted character with an underscore.
// The mapping is deterministic and one character wide, so distinct titles of
// equal length never collapse into the same name unless they differ only in
// denylisted characters. Names are cut to maxPathComponentLength bytes on a rune boundary.
func SanitizePathComponent(name string) string {
	sanitized := pathReplacer.Replace(strings.TrimSpace(name))
	if len(sanitized) > maxPathComponentLength {
		cut := maxPathComponentLength
		for cut > 0 && !utf8.RuneStart(sanitized[cut]) {
			cut--
		}
		sanitized = strings.TrimSpace(sanitized[:cut])
	}
	if sanitized == "" || sanitized == "." || sanitized == ".." {
		return "untitled"
	}
	return sanitized
}
