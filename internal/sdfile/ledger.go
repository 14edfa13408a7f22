package sdfile

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Honjitsu-Seiten/SeitenBot2/internal/config"
	"github.com/Honjitsu-Seiten/SeitenBot2/internal/mediawiki"
	"github.com/Honjitsu-Seiten/SeitenBot2/internal/wikitext"
	"github.com/Honjitsu-Seiten/SeitenBot2/pkg/models"
)

// ErrLedgerTableMissing is returned when the skip list page has no table
// the bot can maintain.
var ErrLedgerTableMissing = errors.New("skip list table not found")

const ledgerTableTemplate = "Table2"

var (
	latestLinkPattern = regexp.MustCompile(`\[\[:c:([^|\]]+)\|最新版\]\]`)
	permaLinkPattern  = regexp.MustCompile(`\[\[:c:Special:PermaLink/(\d+)\|`)
	logLinkPattern    = regexp.MustCompile(`p=page=([^|}]+)\|s=ログ`)
	codeLinkPattern   = regexp.MustCompile(`\[\[#([A-Z])\|`)
)

// LedgerRow is one line of the skip list table.
type LedgerRow struct {
	Name         string
	RemoteTitle  string
	RemoteExists bool
	FirstRevID   int64
	SameName     bool
	Reasons      []models.SkipReason
}

// Render formats the row. namespace is the local file namespace used by
// the {{P}} link template.
func (r LedgerRow) Render(namespace string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "| {{P|%s|%s}} ", namespace, r.Name)
	switch {
	case r.RemoteTitle == "":
		b.WriteString("| | ")
	case r.RemoteExists:
		fmt.Fprintf(&b, "| [[:c:%s|最新版]] / [[:c:Special:PermaLink/%d|初版]] / [[:c:Special:Diff/%d/cur|差分]] / "+
			"{{Fullurl|n=c%%3A%s|p=action=history|s=履歴|t=コモンズの履歴}} ",
			r.RemoteTitle, r.FirstRevID, r.FirstRevID, titleURL(r.RemoteTitle))
	default:
		fmt.Fprintf(&b, "| {{Fullurl|n=c%%3ASpecial%%3ALog|p=page=%s|s=ログ|t=コモンズの記録}} ", titleURL(r.RemoteTitle))
	}
	if r.RemoteTitle != "" {
		if r.SameName {
			b.WriteString("| Yes ")
		} else {
			b.WriteString("| '''No''' ")
		}
	}
	links := make([]string, 0, len(r.Reasons))
	for _, reason := range r.Reasons {
		links = append(links, fmt.Sprintf("[[#%s|%s]]", reason.Code(), reason.Code()))
	}
	b.WriteString("| " + strings.Join(links, ", ") + "\n")
	return b.String()
}

// ParseLedgerRow reads a row written by Render. ok is false for lines
// that are not file rows.
func ParseLedgerRow(line, namespace string) (LedgerRow, bool) {
	m := rowPattern(namespace).FindStringSubmatch(line)
	if m == nil {
		return LedgerRow{}, false
	}
	row := LedgerRow{Name: m[1]}
	rest := line[len(m[0]):]

	if lm := latestLinkPattern.FindStringSubmatch(rest); lm != nil {
		row.RemoteTitle = lm[1]
		row.RemoteExists = true
		if pm := permaLinkPattern.FindStringSubmatch(rest); pm != nil {
			row.FirstRevID, _ = strconv.ParseInt(pm[1], 10, 64)
		}
	} else if lm := logLinkPattern.FindStringSubmatch(rest); lm != nil {
		if title, err := url.QueryUnescape(lm[1]); err == nil {
			row.RemoteTitle = strings.ReplaceAll(title, "_", " ")
		}
	}
	row.SameName = strings.Contains(rest, "| Yes ")
	for _, cm := range codeLinkPattern.FindAllStringSubmatch(rest, -1) {
		if reason, err := models.ReasonFromCode(cm[1]); err == nil {
			row.Reasons = append(row.Reasons, reason)
		}
	}
	return row, true
}

// rowPatterns caches the compiled row pattern per namespace.
var rowPatterns sync.Map

func rowPattern(namespace string) *regexp.Regexp {
	if re, ok := rowPatterns.Load(namespace); ok {
		return re.(*regexp.Regexp)
	}
	re := regexp.MustCompile(`^\| *\{\{P\|` + regexp.QuoteMeta(namespace) + `\|([^}]+?)\}\}`)
	actual, _ := rowPatterns.LoadOrStore(namespace, re)
	return actual.(*regexp.Regexp)
}

// titleURL percent-encodes a title the way page URLs are written.
func titleURL(title string) string {
	return strings.ReplaceAll(url.QueryEscape(strings.ReplaceAll(title, " ", "_")), "%2F", "/")
}

// Ledger is the skip list kept on a wiki page. It is loaded once, pruned
// of files deleted by someone else, extended during the run and written
// back in a single edit.
type Ledger struct {
	cfg   config.LedgerConfig
	rules *Rules
	log   zerolog.Logger

	text      string
	table     string
	lines     []string
	tracked   map[string]bool
	pruned    []string
	records   []models.SkipRecord
	Watermark time.Time
}

// LoadLedger reads the skip list page and drops the rows of files that
// were deleted after the bot last wrote the page.
func LoadLedger(ctx context.Context, site Site, rules *Rules, cfg config.LedgerConfig, log zerolog.Logger) (*Ledger, error) {
	text, err := site.PageText(ctx, cfg.Page)
	if err != nil {
		if errors.Is(err, mediawiki.ErrMissing) {
			return nil, fmt.Errorf("%w: page %s does not exist", ErrLedgerTableMissing, cfg.Page)
		}
		return nil, fmt.Errorf("failed to read %s: %w", cfg.Page, err)
	}

	l := &Ledger{cfg: cfg, rules: rules, log: log, text: text, tracked: map[string]bool{}}
	table := l.findTable(text)
	if table == nil {
		return nil, fmt.Errorf("%w: no {{%s}} with class %s on %s", ErrLedgerTableMissing, ledgerTableTemplate, cfg.TableClass, cfg.Page)
	}
	l.table = table.Raw

	if l.Watermark, err = l.watermark(ctx, site); err != nil {
		return nil, err
	}
	deleted, err := l.deletedSince(ctx, site)
	if err != nil {
		return nil, err
	}

	for _, line := range strings.Split(l.table, "\n") {
		if row, ok := ParseLedgerRow(line, rules.LocalNamespace); ok {
			key := wikitext.NormalizeName(row.Name)
			if deleted[key] {
				l.pruned = append(l.pruned, row.Name)
				continue
			}
			l.tracked[key] = true
		}
		l.lines = append(l.lines, line)
	}
	log.Info().
		Int("tracked", len(l.tracked)).
		Int("pruned", len(l.pruned)).
		Time("watermark", l.Watermark).
		Msg("skip list loaded")
	return l, nil
}

func (l *Ledger) findTable(text string) *wikitext.Template {
	for _, t := range wikitext.Parse(text).Templates(true) {
		if !t.NameMatches(ledgerTableTemplate) {
			continue
		}
		class, _ := t.Get("class")
		for _, c := range strings.Fields(class) {
			if c == l.cfg.TableClass {
				return t
			}
		}
	}
	return nil
}

// watermark is the time of the bot's latest edit of the page, or of the
// latest edit by anyone when the bot never edited it.
func (l *Ledger) watermark(ctx context.Context, site Site) (time.Time, error) {
	for _, user := range []string{l.cfg.User, ""} {
		revs, err := site.Revisions(ctx, l.cfg.Page, mediawiki.RevisionQuery{NewestFirst: true, User: user, Limit: 1})
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to read history of %s: %w", l.cfg.Page, err)
		}
		if len(revs) > 0 {
			return revs[0].Timestamp, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %s has no revisions", ErrLedgerTableMissing, l.cfg.Page)
}

func (l *Ledger) deletedSince(ctx context.Context, site Site) (map[string]bool, error) {
	ns := mediawiki.NamespaceFile
	entries, err := site.LogEvents(ctx, mediawiki.LogQuery{
		Action:    "delete/delete",
		Namespace: &ns,
		Since:     l.Watermark,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read deletion log: %w", err)
	}
	deleted := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.PageID != 0 {
			continue
		}
		deleted[wikitext.NormalizeName(l.rules.LocalName(e.Title))] = true
	}
	return deleted, nil
}

// Tracks reports whether title already has a row.
func (l *Ledger) Tracks(title string) bool {
	return l.tracked[wikitext.NormalizeName(l.rules.LocalName(title))]
}

// Record queues a row for title. Files already tracked are ignored.
func (l *Ledger) Record(rec models.SkipRecord) {
	key := wikitext.NormalizeName(l.rules.LocalName(rec.Title))
	if l.tracked[key] {
		return
	}
	l.tracked[key] = true
	l.records = append(l.records, rec)
}

// Pruned lists the file names dropped while loading.
func (l *Ledger) Pruned() []string {
	return l.pruned
}

// Pending is the number of rows queued during this run.
func (l *Ledger) Pending() int {
	return len(l.records)
}

// Render returns the full page text with the table replaced.
func (l *Ledger) Render(ctx context.Context, remote Site) string {
	body := strings.TrimSuffix(strings.Join(l.lines, "\n"), "}}")
	var b strings.Builder
	b.WriteString(body)
	if body != "" && !strings.HasSuffix(body, "\n") {
		b.WriteString("\n")
	}
	for _, rec := range l.records {
		b.WriteString(l.row(ctx, remote, rec).Render(l.rules.LocalNamespace))
	}
	b.WriteString("}}")
	return strings.Replace(l.text, l.table, b.String(), 1)
}

func (l *Ledger) row(ctx context.Context, remote Site, rec models.SkipRecord) LedgerRow {
	name := l.rules.LocalName(rec.Title)
	row := LedgerRow{Name: name, Reasons: rec.Reasons.Sorted()}
	if rec.Remote == nil || rec.Remote.Title == "" {
		return row
	}
	row.RemoteTitle = rec.Remote.Title
	row.SameName = name == l.rules.RemoteName(rec.Remote.Title)
	if !rec.Remote.Exists {
		return row
	}
	revs, err := remote.Revisions(ctx, rec.Remote.Title, mediawiki.RevisionQuery{Limit: 1})
	if err != nil || len(revs) == 0 {
		l.log.Warn().Err(err).Str("remote", rec.Remote.Title).Msg("first revision unavailable; linking the log instead")
		return row
	}
	row.RemoteExists = true
	row.FirstRevID = revs[0].ID
	return row
}

// Save writes the table back in one edit. Nothing is written when the
// table did not change.
func (l *Ledger) Save(ctx context.Context, local, remote Site) error {
	text := l.Render(ctx, remote)
	if text == l.text {
		l.log.Info().Msg("skip list unchanged")
		return nil
	}
	if err := local.Save(ctx, l.cfg.Page, text, l.cfg.Summary, false); err != nil {
		return fmt.Errorf("failed to save %s: %w", l.cfg.Page, err)
	}
	l.log.Info().Int("added", len(l.records)).Int("pruned", len(l.pruned)).Msg("skip list saved")
	return nil
}
