package wikitext

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// NormalizeName canonicalises a page or template name: underscores become
// spaces, whitespace runs collapse and the first letter is upper-cased.
func NormalizeName(name string) string {
	name = strings.Join(strings.Fields(strings.ReplaceAll(name, "_", " ")), " ")
	if name == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(r)) + name[size:]
}

// SplitNamespace separates a title into one of the given namespace names
// and the rest. Matching is case-insensitive on the namespace; the
// returned namespace is the spelling from namespaces. ok is false when
// the title carries none of them.
func SplitNamespace(title string, namespaces []string) (ns, rest string, ok bool) {
	title = NormalizeName(title)
	i := strings.IndexByte(title, ':')
	if i < 0 {
		return "", title, false
	}
	prefix := strings.TrimSpace(title[:i])
	for _, n := range namespaces {
		if strings.EqualFold(prefix, n) {
			return n, NormalizeName(title[i+1:]), true
		}
	}
	return "", title, false
}
