// Package wikitext is a small structural parser for MediaWiki markup.
//
// It recognises the nodes the bot needs to reason about: template
// invocations, wikilinks, HTML comments and section headings. Everything
// else is kept as text. Parse followed by String reproduces the input
// byte for byte; edits are made by removing or inserting whole nodes.
package wikitext

import (
	"regexp"
	"strconv"
	"strings"
)

// Node is one element of parsed wikitext.
type Node interface {
	String() string
}

// Text is literal markup that is not otherwise recognised.
type Text struct {
	Value string
}

func (t *Text) String() string { return t.Value }

// Comment is an HTML comment, including its delimiters.
type Comment struct {
	Raw string
}

func (c *Comment) String() string { return c.Raw }

// Heading is a section heading occupying a whole line.
type Heading struct {
	Raw   string
	Level int
	Title string
}

func (h *Heading) String() string { return h.Raw }

// Wikilink is an internal link such as [[Title|text]].
type Wikilink struct {
	Raw   string
	Title string
	Text  string
}

func (l *Wikilink) String() string { return l.Raw }

// IsCategory reports whether the link target starts with one of the
// given namespace prefixes, compared case-insensitively.
func (l *Wikilink) IsCategory(prefixes ...string) bool {
	title := strings.ToLower(strings.TrimSpace(l.Title))
	for _, p := range prefixes {
		if strings.HasPrefix(title, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// Param is a single template argument.
type Param struct {
	Name    string
	Value   string
	Showkey bool
}

// Template is a template invocation such as {{Name|a|key=b}}.
type Template struct {
	Raw    string
	Name   string
	Params []Param
}

func (t *Template) String() string { return t.Raw }

// NameMatches compares the template name against candidates the way
// MediaWiki resolves titles: underscores equal spaces, runs of
// whitespace collapse and the first letter is case-insensitive.
func (t *Template) NameMatches(names ...string) bool {
	own := NormalizeName(t.Name)
	for _, n := range names {
		if own == NormalizeName(n) {
			return true
		}
	}
	return false
}

// Get returns the value of the last parameter called name. Positional
// parameters are named by their index, starting at "1".
func (t *Template) Get(name string) (string, bool) {
	for i := len(t.Params) - 1; i >= 0; i-- {
		if t.Params[i].Name == name {
			return t.Params[i].Value, true
		}
	}
	return "", false
}

// Has reports whether a parameter called name exists.
func (t *Template) Has(name string) bool {
	_, ok := t.Get(name)
	return ok
}

// Wikicode is a parsed document: an ordered list of top-level nodes.
type Wikicode struct {
	Nodes []Node
}

// Parse splits text into nodes.
func Parse(text string) *Wikicode {
	return &Wikicode{Nodes: parseNodes(text)}
}

func (w *Wikicode) String() string {
	var b strings.Builder
	for _, n := range w.Nodes {
		b.WriteString(n.String())
	}
	return b.String()
}

// Templates lists template invocations. With recursive set, templates
// nested in parameter values are included after their parent.
func (w *Wikicode) Templates(recursive bool) []*Template {
	var out []*Template
	for _, n := range w.Nodes {
		t, ok := n.(*Template)
		if !ok {
			continue
		}
		out = append(out, t)
		if recursive {
			for _, p := range t.Params {
				out = append(out, Parse(p.Value).Templates(true)...)
			}
		}
	}
	return out
}

// Wikilinks lists top-level links.
func (w *Wikicode) Wikilinks() []*Wikilink {
	var out []*Wikilink
	for _, n := range w.Nodes {
		if l, ok := n.(*Wikilink); ok {
			out = append(out, l)
		}
	}
	return out
}

// Index returns the position of n among the top-level nodes, or -1.
func (w *Wikicode) Index(n Node) int {
	for i, m := range w.Nodes {
		if m == n {
			return i
		}
	}
	return -1
}

// Remove deletes n from the top-level nodes.
func (w *Wikicode) Remove(n Node) bool {
	i := w.Index(n)
	if i < 0 {
		return false
	}
	w.Nodes = append(w.Nodes[:i], w.Nodes[i+1:]...)
	return true
}

// RemoveComments drops every top-level comment.
func (w *Wikicode) RemoveComments() {
	kept := w.Nodes[:0]
	for _, n := range w.Nodes {
		if _, ok := n.(*Comment); !ok {
			kept = append(kept, n)
		}
	}
	w.Nodes = kept
}

// InsertAt inserts raw text before the node at index i. An index equal
// to the node count appends.
func (w *Wikicode) InsertAt(i int, text string) {
	if i < 0 {
		i = 0
	}
	if i > len(w.Nodes) {
		i = len(w.Nodes)
	}
	w.Nodes = append(w.Nodes, nil)
	copy(w.Nodes[i+1:], w.Nodes[i:])
	w.Nodes[i] = &Text{Value: text}
}

// Section is a heading and the nodes that follow it up to the next
// heading of the same or a higher level. End is exclusive.
type Section struct {
	Heading *Heading
	Start   int
	End     int
}

// Sections lists every section except the lead.
func (w *Wikicode) Sections() []Section {
	var out []Section
	for i, n := range w.Nodes {
		h, ok := n.(*Heading)
		if !ok {
			continue
		}
		end := len(w.Nodes)
		for j := i + 1; j < len(w.Nodes); j++ {
			if next, ok := w.Nodes[j].(*Heading); ok && next.Level <= h.Level {
				end = j
				break
			}
		}
		out = append(out, Section{Heading: h, Start: i, End: end})
	}
	return out
}

// StripCode reduces markup to its visible text: templates and comments
// vanish and links become their label.
func StripCode(text string) string {
	var b strings.Builder
	for _, n := range parseNodes(text) {
		switch v := n.(type) {
		case *Text:
			b.WriteString(v.Value)
		case *Heading:
			b.WriteString(strings.TrimSpace(v.Title))
		case *Wikilink:
			if v.Text != "" {
				b.WriteString(v.Text)
			} else {
				b.WriteString(v.Title)
			}
		}
	}
	return strings.TrimSpace(b.String())
}

var headingPattern = regexp.MustCompile(`^(=+)(.+?)(=+)[ \t]*$`)

func parseNodes(s string) []Node {
	var nodes []Node
	var buf strings.Builder
	flush := func() {
		if buf.Len() > 0 {
			nodes = append(nodes, &Text{Value: buf.String()})
			buf.Reset()
		}
	}

	for i := 0; i < len(s); {
		rest := s[i:]
		switch {
		case strings.HasPrefix(rest, "<!--"):
			j := len(s)
			if end := strings.Index(rest[4:], "-->"); end >= 0 {
				j = i + 4 + end + 3
			}
			flush()
			nodes = append(nodes, &Comment{Raw: s[i:j]})
			i = j
			continue
		case hasPrefixFold(rest, "<nowiki>"):
			j := len(s)
			if end := strings.Index(strings.ToLower(rest), "</nowiki>"); end >= 0 {
				j = i + end + len("</nowiki>")
			}
			buf.WriteString(s[i:j])
			i = j
			continue
		case strings.HasPrefix(rest, "{{{"):
			if end := strings.Index(rest, "}}}"); end >= 0 {
				buf.WriteString(rest[:end+3])
				i += end + 3
				continue
			}
		case strings.HasPrefix(rest, "{{"):
			if j := closing(s, i); j > 0 {
				flush()
				nodes = append(nodes, newTemplate(s[i:j]))
				i = j
				continue
			}
		case strings.HasPrefix(rest, "[["):
			if j := closing(s, i); j > 0 {
				flush()
				nodes = append(nodes, newWikilink(s[i:j]))
				i = j
				continue
			}
		case s[i] == '=' && (i == 0 || s[i-1] == '\n'):
			j := len(s)
			if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
				j = i + nl
			}
			if h := newHeading(s[i:j]); h != nil {
				flush()
				nodes = append(nodes, h)
				i = j
				continue
			}
		}
		buf.WriteByte(s[i])
		i++
	}
	flush()
	return nodes
}

// closing returns the offset just past the bracket pair opened at start,
// or -1 when it never closes.
func closing(s string, start int) int {
	var stack []byte
	for i := start; i < len(s); {
		rest := s[i:]
		switch {
		case strings.HasPrefix(rest, "<!--"):
			end := strings.Index(rest, "-->")
			if end < 0 {
				return -1
			}
			i += end + 3
		case strings.HasPrefix(rest, "{{"):
			stack = append(stack, '{')
			i += 2
		case strings.HasPrefix(rest, "[["):
			stack = append(stack, '[')
			i += 2
		case strings.HasPrefix(rest, "}}") && len(stack) > 0 && stack[len(stack)-1] == '{':
			stack = stack[:len(stack)-1]
			i += 2
			if len(stack) == 0 {
				return i
			}
		case strings.HasPrefix(rest, "]]") && len(stack) > 0 && stack[len(stack)-1] == '[':
			stack = stack[:len(stack)-1]
			i += 2
			if len(stack) == 0 {
				return i
			}
		default:
			i++
		}
	}
	return -1
}

// splitTop splits s on sep where sep is not nested inside brackets or
// comments.
func splitTop(s string, sep byte, limit int) []string {
	var parts []string
	depth := 0
	last := 0
	for i := 0; i < len(s); {
		rest := s[i:]
		switch {
		case strings.HasPrefix(rest, "<!--"):
			end := strings.Index(rest, "-->")
			if end < 0 {
				i = len(s)
				continue
			}
			i += end + 3
		case strings.HasPrefix(rest, "{{"), strings.HasPrefix(rest, "[["):
			depth++
			i += 2
		case (strings.HasPrefix(rest, "}}") || strings.HasPrefix(rest, "]]")) && depth > 0:
			depth--
			i += 2
		case s[i] == sep && depth == 0 && (limit < 0 || len(parts) < limit-1):
			parts = append(parts, s[last:i])
			i++
			last = i
		default:
			i++
		}
	}
	return append(parts, s[last:])
}

func newTemplate(raw string) *Template {
	inner := raw[2 : len(raw)-2]
	parts := splitTop(inner, '|', -1)
	t := &Template{Raw: raw, Name: strings.TrimSpace(parts[0])}
	pos := 0
	for _, part := range parts[1:] {
		kv := splitTop(part, '=', 2)
		if len(kv) == 2 {
			t.Params = append(t.Params, Param{Name: strings.TrimSpace(kv[0]), Value: kv[1], Showkey: true})
			continue
		}
		pos++
		t.Params = append(t.Params, Param{Name: strconv.Itoa(pos), Value: part})
	}
	return t
}

func newWikilink(raw string) *Wikilink {
	inner := raw[2 : len(raw)-2]
	parts := splitTop(inner, '|', 2)
	l := &Wikilink{Raw: raw, Title: strings.TrimSpace(parts[0])}
	if len(parts) == 2 {
		l.Text = parts[1]
	}
	return l
}

func newHeading(line string) *Heading {
	m := headingPattern.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	left, right := len(m[1]), len(m[3])
	level := min(left, right, 6)
	title := strings.Repeat("=", left-level) + m[2] + strings.Repeat("=", right-level)
	return &Heading{Raw: line, Level: level, Title: title}
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
