package sdfile

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/Honjitsu-Seiten/SeitenBot2/internal/config"
	"github.com/Honjitsu-Seiten/SeitenBot2/internal/wikitext"
)

// Rules is the resolved form of the bot configuration shared by every
// stage of a run.
type Rules struct {
	LocalNamespace   string
	LocalNamespaces  []string
	RemoteNamespace  string
	RemoteNamespaces []string

	SpeedyTemplates      []string
	FileSpeedyTemplates  []string
	NowCommonsTemplates  []string
	BoilerplateTemplates []string
	KeepLocalTemplates   []string
	ValidSpeedyReasons   map[string]bool

	RecordTemplate   string
	UploadLogHeading string
	CategoryPrefixes []string
	ExceptCategories map[string]bool
	ExemptUsers      map[string]bool
	NoticePattern    *regexp.Regexp
	ImporterTag      string

	MaxRenameHops int
	MaxUploads    int
	MaxEdits      int
	DeleteSummary string
	RecordSummary string

	importPattern *regexp.Regexp
	movePattern   *regexp.Regexp
	headingRe     *regexp.Regexp
}

// NewRules compiles the patterns of cfg. Template redirects are not known
// yet; call ExpandTemplates once the local site is reachable.
func NewRules(cfg *config.Config) (*Rules, error) {
	bot := cfg.Bot
	notice, err := regexp.Compile(bot.NoticePattern)
	if err != nil {
		return nil, fmt.Errorf("invalid notice pattern: %w", err)
	}

	r := &Rules{
		LocalNamespace:       cfg.Local.FileNamespace,
		LocalNamespaces:      withNamespace(cfg.Local.FileNamespaces, cfg.Local.FileNamespace),
		RemoteNamespace:      cfg.Remote.FileNamespace,
		RemoteNamespaces:     withNamespace(cfg.Remote.FileNamespaces, cfg.Remote.FileNamespace),
		SpeedyTemplates:      append([]string(nil), bot.SpeedyTemplates...),
		FileSpeedyTemplates:  append([]string(nil), bot.FileSpeedyTemplates...),
		NowCommonsTemplates:  append([]string(nil), bot.NowCommonsTemplates...),
		BoilerplateTemplates: append([]string(nil), bot.BoilerplateTemplates...),
		KeepLocalTemplates:   append([]string(nil), bot.KeepLocalTemplates...),
		ValidSpeedyReasons:   map[string]bool{},
		RecordTemplate:       bot.RecordTemplate,
		UploadLogHeading:     bot.UploadLogHeading,
		CategoryPrefixes:     bot.CategoryPrefixes,
		ExceptCategories:     toSet(bot.ExceptCategories, wikitext.NormalizeName),
		ExemptUsers:          toSet(bot.ExemptUsers, nil),
		NoticePattern:        notice,
		ImporterTag:          bot.ImporterTag,
		MaxRenameHops:        bot.MaxRenameHops,
		MaxUploads:           bot.MaxUploads,
		MaxEdits:             bot.MaxEdits,
		DeleteSummary:        bot.DeleteSummary,
		RecordSummary:        bot.RecordSummary,
	}

	r.importPattern = regexp.MustCompile(`^Imported with FileImporter from https://` +
		regexp.QuoteMeta(bot.SourceHost) + `/wiki/(.+?)\n?$`)
	ns := namespaceAlternation(r.RemoteNamespaces)
	r.movePattern = regexp.MustCompile(`moved page \[\[((?:` + ns + `):.+?)\]\] to \[\[((?:` + ns + `):.+?)\]\]`)
	r.headingRe = regexp.MustCompile(`(?i)` + strings.Join(quoteWords(bot.UploadLogHeading), `[ _]+`))
	r.addValidReasons(r.FileSpeedyTemplates)
	return r, nil
}

// ExpandTemplates adds the redirects of every recognised template so that
// markup written through a redirect still matches.
func (r *Rules) ExpandTemplates(ctx context.Context, site Site) error {
	lists := []*[]string{
		&r.SpeedyTemplates, &r.FileSpeedyTemplates, &r.NowCommonsTemplates, &r.KeepLocalTemplates,
	}
	for _, list := range lists {
		names := *list
		for _, name := range names {
			redirects, err := site.TemplateRedirects(ctx, name)
			if err != nil {
				return fmt.Errorf("failed to list redirects of %s: %w", name, err)
			}
			*list = appendUnique(*list, redirects...)
		}
	}
	r.addValidReasons(r.FileSpeedyTemplates)
	return nil
}

// addValidReasons derives the reason argument accepted by the generic
// speedy-deletion template from subpage names such as 即時削除/ファイル1-5.
func (r *Rules) addValidReasons(names []string) {
	if len(r.SpeedyTemplates) == 0 {
		return
	}
	bases := make([]string, 0, len(r.SpeedyTemplates))
	for _, b := range r.SpeedyTemplates {
		bases = append(bases, regexp.QuoteMeta(wikitext.NormalizeName(b)))
	}
	re := regexp.MustCompile(`^(?:` + strings.Join(bases, "|") + `)2?/(.+)$`)
	for _, n := range names {
		if m := re.FindStringSubmatch(wikitext.NormalizeName(n)); m != nil {
			r.ValidSpeedyReasons[m[1]] = true
		}
	}
}

// Boilerplate lists every template stripped by the normalizer.
func (r *Rules) Boilerplate() []string {
	var out []string
	out = append(out, r.SpeedyTemplates...)
	out = append(out, r.FileSpeedyTemplates...)
	out = append(out, r.NowCommonsTemplates...)
	out = append(out, r.BoilerplateTemplates...)
	return out
}

// LocalName returns a local file title without its namespace.
func (r *Rules) LocalName(title string) string {
	_, rest, _ := wikitext.SplitNamespace(title, r.LocalNamespaces)
	return rest
}

// RemoteName returns a remote file title without its namespace.
func (r *Rules) RemoteName(title string) string {
	_, rest, _ := wikitext.SplitNamespace(title, r.RemoteNamespaces)
	return rest
}

// LocalTitle prefixes name with the canonical local file namespace.
func (r *Rules) LocalTitle(name string) string {
	return r.LocalNamespace + ":" + wikitext.NormalizeName(name)
}

// RemoteTitle prefixes name with the canonical remote file namespace.
func (r *Rules) RemoteTitle(name string) string {
	return r.RemoteNamespace + ":" + wikitext.NormalizeName(name)
}

// SameLocalFile compares two local file titles, treating namespace
// aliases as equal. Titles outside the file namespace never match.
func (r *Rules) SameLocalFile(a, b string) bool {
	_, na, okA := wikitext.SplitNamespace(a, r.LocalNamespaces)
	_, nb, okB := wikitext.SplitNamespace(b, r.LocalNamespaces)
	return okA && okB && na == nb
}

// ImportSource extracts the source page title from a FileImporter comment.
func (r *Rules) ImportSource(comment string) (string, bool) {
	m := r.importPattern.FindStringSubmatch(comment)
	if m == nil {
		return "", false
	}
	source, err := url.PathUnescape(m[1])
	if err != nil {
		source = m[1]
	}
	return wikitext.NormalizeName(source), true
}

// RenamedFrom returns the source title of a move summary.
func (r *Rules) RenamedFrom(comment string) (string, bool) {
	m := r.movePattern.FindStringSubmatch(comment)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// IsUploadLogHeading reports whether a heading title names the original
// upload log section.
func (r *Rules) IsUploadLogHeading(title string) bool {
	return r.headingRe.MatchString(title)
}

func withNamespace(list []string, canonical string) []string {
	return appendUnique([]string{canonical}, list...)
}

func appendUnique(list []string, more ...string) []string {
	seen := make(map[string]bool, len(list))
	for _, s := range list {
		seen[wikitext.NormalizeName(s)] = true
	}
	for _, s := range more {
		key := wikitext.NormalizeName(s)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		list = append(list, s)
	}
	return list
}

func toSet(list []string, norm func(string) string) map[string]bool {
	out := make(map[string]bool, len(list))
	for _, s := range list {
		if norm != nil {
			s = norm(s)
		}
		out[s] = true
	}
	return out
}

func namespaceAlternation(namespaces []string) string {
	quoted := make([]string, 0, len(namespaces))
	for _, n := range namespaces {
		quoted = append(quoted, regexp.QuoteMeta(n))
	}
	return strings.Join(quoted, "|")
}

func quoteWords(s string) []string {
	words := strings.Fields(strings.ReplaceAll(s, "_", " "))
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return words
}
