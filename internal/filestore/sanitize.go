package filestore

import (
	"path"
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxNameLength = 120

// SanitizeFilename reduces a client supplied name to a safe single path
// component, keeping as much of the original as possible.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == 0:
			return -1
		case unicode.IsControl(r):
			return -1
		case r == '"' || r == '?' || r == '*' || r == '<' || r == '>' || r == '|' || r == ':':
			return '_'
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return "unnamed"
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		ext := path.Ext(name)
		if utf8.RuneCountInString(ext) > 16 {
			ext = ""
		}
		runes := []rune(strings.TrimSuffix(name, ext))
		name = string(runes[:maxNameLength-utf8.RuneCountInString(ext)]) + ext
	}
	return name
}

// slug keeps ASCII letters, digits, '-' and '_' for identifiers that
// remote stores restrict.
func slug(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.':
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 64 {
		out = out[:64]
	}
	return out
}
