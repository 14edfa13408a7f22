package sdfile

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/Honjitsu-Seiten/SeitenBot2/internal/wikitext"
)

const leftToRightMark = "\u200e"

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}\p{M}_]+`)

// Normalizer reduces file page text to the part that matters when
// comparing two revisions: category links, boilerplate templates,
// punctuation and whitespace are dropped.
type Normalizer struct {
	templates        []string
	categoryPrefixes []string
}

// NewNormalizer builds a normalizer from the template lists of r.
func NewNormalizer(r *Rules) *Normalizer {
	return &Normalizer{templates: r.Boilerplate(), categoryPrefixes: r.CategoryPrefixes}
}

// Normalize is deterministic and idempotent.
func (n *Normalizer) Normalize(text string) string {
	code := wikitext.Parse(stripMarks(text))
	for _, link := range code.Wikilinks() {
		if link.IsCategory(n.categoryPrefixes...) {
			code.Remove(link)
		}
	}
	for _, t := range code.Templates(false) {
		if t.NameMatches(n.templates...) {
			code.Remove(t)
		}
	}
	return nonWord.ReplaceAllString(norm.NFC.String(code.String()), "")
}

func stripMarks(text string) string {
	return strings.ReplaceAll(text, leftToRightMark, "")
}
