package sdfile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/rs/zerolog"

	"github.com/Honjitsu-Seiten/SeitenBot2/internal/mediawiki"
	"github.com/Honjitsu-Seiten/SeitenBot2/internal/wikitext"
	"github.com/Honjitsu-Seiten/SeitenBot2/pkg/models"
)

// State is a stage of the per-file verification.
type State int

const (
	StateStart State = iota
	StateCategoryChecked
	StateRemoteResolved
	StateImportTimeResolved
	StateUsageChecked
	StateHistoryWalked
	StateDone
)

var stateNames = [...]string{
	"start", "category-checked", "remote-resolved", "import-time-resolved",
	"usage-checked", "history-walked", "done",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Verification is the per-file record built while a file is checked.
type Verification struct {
	Local      *models.LocalFile
	Text       string
	Claimed    string
	Remote     models.RemoteFile
	Reasons    models.ReasonSet
	ImportTime time.Time
	Snapshot   string
	Details    []string
	State      State
}

// Eligible reports whether the file may be deleted.
func (v *Verification) Eligible() bool {
	return v.State == StateDone && len(v.Reasons) == 0
}

// SkipRecord returns the ledger entry for a file that is kept.
func (v *Verification) SkipRecord() models.SkipRecord {
	remote := v.Remote
	return models.SkipRecord{Title: v.Local.Title, Reasons: v.Reasons, Remote: &remote}
}

type stepResult struct {
	reasons  []models.SkipReason
	details  []string
	terminal bool
}

func (v *Verification) merge(next State, r stepResult) {
	v.Reasons.Add(r.reasons...)
	v.Details = append(v.Details, r.details...)
	if r.terminal {
		v.State = StateDone
		return
	}
	v.State = next
}

// Verifier decides whether a local file has been faithfully moved to the
// shared repository.
type Verifier struct {
	local      Site
	remote     Site
	rules      *Rules
	normalizer *Normalizer
	log        zerolog.Logger
}

// NewVerifier wires a verifier for the given pair of sites.
func NewVerifier(local, remote Site, rules *Rules, log zerolog.Logger) *Verifier {
	return &Verifier{
		local:      local,
		remote:     remote,
		rules:      rules,
		normalizer: NewNormalizer(rules),
		log:        log,
	}
}

// Verify runs every check for title. Errors are transport failures; the
// outcome of the checks themselves is the reason set of the result.
func (v *Verifier) Verify(ctx context.Context, title string) (*Verification, error) {
	local, text, err := v.loadLocal(ctx, title)
	if err != nil {
		return nil, err
	}
	ver := &Verification{Local: local, Text: text, Reasons: models.NewReasonSet(), State: StateStart}
	log := v.log.With().Str("file", title).Logger()

	ver.merge(StateCategoryChecked, v.checkCategories(local))

	ver.Claimed = v.rules.RemoteTitle(v.claimedRemoteName(local, text))
	res, err := ResolveRemote(ctx, v.remote, ver.Claimed, v.rules.MaxRenameHops)
	if err != nil {
		return ver, err
	}
	ver.Remote = res.Remote
	if !res.Remote.Exists {
		ver.merge(StateRemoteResolved, stepResult{
			reasons:  []models.SkipReason{models.CommonsFileNotExists},
			details:  []string{"remote file not found: " + ver.Claimed},
			terminal: true,
		})
		return ver, nil
	}
	ver.merge(StateRemoteResolved, stepResult{})
	log = log.With().Str("remote", ver.Remote.Title).Logger()
	if len(res.Renames) > 0 || res.Redirected {
		log.Debug().Strs("renames", res.Renames).Bool("redirect", res.Redirected).Msg("remote file resolved")
	}

	it, err := v.resolveImportTime(ctx, &importSubject{local: local, claimed: ver.Claimed, remote: ver.Remote})
	if err != nil {
		return ver, err
	}
	var details []string
	if it.Detail != "" {
		details = append(details, it.Detail)
	}
	ver.merge(StateImportTimeResolved, stepResult{reasons: it.Reasons, details: details, terminal: !it.Resolved})
	if !it.Resolved {
		return ver, nil
	}
	ver.ImportTime = it.At
	log.Debug().Str("strategy", it.Strategy).Time("imported", it.At).Msg("import time resolved")

	usage, err := v.checkUsage(ctx, local, ver.Remote)
	if err != nil {
		return ver, err
	}
	ver.merge(StateUsageChecked, usage)

	if err := v.ensureRevisions(ctx, local); err != nil {
		return ver, err
	}
	walk := v.walkHistory(log, local.Revisions, ver.ImportTime)
	ver.Snapshot = walk.snapshot
	ver.merge(StateHistoryWalked, walk.stepResult)

	ver.State = StateDone
	return ver, nil
}

func (v *Verifier) loadLocal(ctx context.Context, title string) (*models.LocalFile, string, error) {
	text, err := v.local.PageText(ctx, title)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", title, err)
	}
	cats, err := v.local.Categories(ctx, title)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read categories of %s: %w", title, err)
	}
	history, err := v.local.FileHistory(ctx, title)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read upload history of %s: %w", title, err)
	}
	local := &models.LocalFile{Title: title, Categories: cats, FileHistory: history}
	if n := len(history); n > 0 {
		local.SHA1 = history[n-1].SHA1
	}
	return local, stripMarks(text), nil
}

func (v *Verifier) ensureRevisions(ctx context.Context, local *models.LocalFile) error {
	if local.Revisions != nil {
		return nil
	}
	revs, err := v.local.Revisions(ctx, local.Title, mediawiki.RevisionQuery{Content: true})
	if err != nil {
		return fmt.Errorf("failed to read history of %s: %w", local.Title, err)
	}
	local.Revisions = revs
	return nil
}

func (v *Verifier) checkCategories(local *models.LocalFile) stepResult {
	var bad []string
	for _, c := range local.Categories {
		if v.rules.ExceptCategories[wikitext.NormalizeName(c)] {
			bad = append(bad, c)
		}
	}
	if len(bad) == 0 {
		return stepResult{}
	}
	return stepResult{
		reasons: []models.SkipReason{models.InvalidCategory},
		details: []string{"in category " + strings.Join(bad, ", ")},
	}
}

// claimedRemoteName reads the remote file name from the speedy-deletion
// request on the page. Without one the local name is assumed.
func (v *Verifier) claimedRemoteName(local *models.LocalFile, text string) string {
	namespaces := append(append([]string(nil), v.rules.RemoteNamespaces...), v.rules.LocalNamespaces...)
	for _, t := range wikitext.Parse(text).Templates(true) {
		var arg string
		switch {
		case t.NameMatches(v.rules.SpeedyTemplates...):
			reason, _ := t.Get("1")
			if !v.rules.ValidSpeedyReasons[strings.TrimSpace(reason)] {
				continue
			}
			arg, _ = t.Get("2")
		case t.NameMatches(v.rules.FileSpeedyTemplates...):
			arg, _ = t.Get("1")
		default:
			continue
		}
		name := wikitext.StripCode(arg)
		if _, rest, ok := wikitext.SplitNamespace(name, namespaces); ok {
			name = rest
		}
		if name != "" {
			return name
		}
	}
	return v.rules.LocalName(local.Title)
}

// checkUsage flags pages that still embed the local file under its old
// name once the remote copy is known under a different one. A single
// self reference listed first is ignored.
func (v *Verifier) checkUsage(ctx context.Context, local *models.LocalFile, remote models.RemoteFile) (stepResult, error) {
	if v.rules.LocalName(local.Title) == v.rules.RemoteName(remote.Title) {
		return stepResult{}, nil
	}
	usage, err := v.local.FileUsage(ctx, local.Title)
	if err != nil {
		return stepResult{}, fmt.Errorf("failed to read usage of %s: %w", local.Title, err)
	}
	if len(usage) > 0 && wikitext.NormalizeName(usage[0]) == wikitext.NormalizeName(local.Title) {
		usage = usage[1:]
	}
	if len(usage) == 0 {
		return stepResult{}, nil
	}
	return stepResult{
		reasons: []models.SkipReason{models.UsedOldFileName},
		details: []string{fmt.Sprintf("used on %d pages", len(usage))},
	}, nil
}

type historyWalk struct {
	stepResult
	snapshot string
}

// walkHistory looks for an export notice before the import time and for
// substantive edits after it. The text of the last revision before the
// import is the state the remote copy was taken from.
func (v *Verifier) walkHistory(log zerolog.Logger, revs []models.Revision, importAt time.Time) historyWalk {
	var walk historyWalk
	var prev string
	noticed, changed := false, false

	for _, rev := range revs {
		text := stripMarks(rev.Text)
		if rev.Timestamp.Before(importAt) {
			walk.snapshot = text
			if !noticed && v.hasExportNotice(text) {
				noticed = true
				walk.reasons = append(walk.reasons, models.NoticeOfExportation)
				walk.details = append(walk.details, fmt.Sprintf("export notice in revision %d", rev.ID))
			}
		} else if !changed && !v.rules.ExemptUsers[rev.User] {
			if v.normalizer.Normalize(prev) != v.normalizer.Normalize(text) {
				changed = true
				walk.reasons = append(walk.reasons, models.ChangedAfterExported)
				walk.details = append(walk.details, fmt.Sprintf("revision %d by %s changed the page", rev.ID, rev.User))
				if e := log.Debug(); e.Enabled() {
					e.Int64("revid", rev.ID).Msg("post-import change\n" + unifiedDiff(prev, text, "before", "after"))
				}
			}
		}
		prev = text
	}
	return walk
}

func (v *Verifier) hasExportNotice(text string) bool {
	for _, t := range wikitext.Parse(text).Templates(true) {
		if t.NameMatches(v.rules.KeepLocalTemplates...) {
			return true
		}
	}
	return v.rules.NoticePattern.MatchString(v.normalizer.Normalize(text))
}

func unifiedDiff(a, b, fromName, toName string) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: fromName,
		ToFile:   toName,
		Context:  2,
	})
	if err != nil {
		return err.Error()
	}
	return diff
}
