package sdfile

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Honjitsu-Seiten/SeitenBot2/internal/config"
	"github.com/Honjitsu-Seiten/SeitenBot2/internal/mediawiki"
	"github.com/Honjitsu-Seiten/SeitenBot2/pkg/models"
)

// fakeSite is an in-memory wiki.
type fakeSite struct {
	texts      map[string]string
	exists     map[string]bool
	redirects  map[string]string
	revisions  map[string][]models.Revision
	categories map[string][]string
	files      map[string][]models.FileRevision
	usage      map[string][]string
	templates  map[string][]string
	members    []string
	logs       []models.LogEntry

	saves   []savedEdit
	deleted []string
	failOn  map[string]error
}

type savedEdit struct {
	title, text, summary string
}

func newFakeSite() *fakeSite {
	return &fakeSite{
		texts:      map[string]string{},
		exists:     map[string]bool{},
		redirects:  map[string]string{},
		revisions:  map[string][]models.Revision{},
		categories: map[string][]string{},
		files:      map[string][]models.FileRevision{},
		usage:      map[string][]string{},
		templates:  map[string][]string{},
		failOn:     map[string]error{},
	}
}

func (f *fakeSite) PageText(_ context.Context, title string) (string, error) {
	if err := f.failOn[title]; err != nil {
		return "", err
	}
	text, ok := f.texts[title]
	if !ok {
		return "", fmt.Errorf("%s: %w", title, mediawiki.ErrMissing)
	}
	return text, nil
}

func (f *fakeSite) Exists(_ context.Context, title string) (bool, error) {
	if e, ok := f.exists[title]; ok {
		return e, nil
	}
	_, ok := f.texts[title]
	return ok, nil
}

func (f *fakeSite) RedirectTarget(_ context.Context, title string) (string, bool, error) {
	to, ok := f.redirects[title]
	return to, ok, nil
}

func (f *fakeSite) Revisions(_ context.Context, title string, q mediawiki.RevisionQuery) ([]models.Revision, error) {
	var out []models.Revision
	for _, r := range f.revisions[title] {
		if q.User == "" || r.User == q.User {
			out = append(out, r)
		}
	}
	if q.NewestFirst {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (f *fakeSite) Categories(_ context.Context, title string) ([]string, error) {
	return f.categories[title], nil
}

func (f *fakeSite) FileHistory(_ context.Context, title string) ([]models.FileRevision, error) {
	return f.files[title], nil
}

func (f *fakeSite) FileUsage(_ context.Context, title string) ([]string, error) {
	return f.usage[title], nil
}

func (f *fakeSite) TemplateRedirects(_ context.Context, name string) ([]string, error) {
	return f.templates[name], nil
}

func (f *fakeSite) CategoryMembers(_ context.Context, _ string, newestFirst bool, limit int) ([]string, error) {
	out := append([]string(nil), f.members...)
	if newestFirst {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeSite) LogEvents(_ context.Context, q mediawiki.LogQuery) ([]models.LogEntry, error) {
	var out []models.LogEntry
	for _, e := range f.logs {
		switch {
		case q.Action != "" && e.Type+"/"+e.Action != q.Action:
			continue
		case q.Action == "" && q.Type != "" && e.Type != q.Type:
			continue
		case q.Title != "" && e.Title != q.Title:
			continue
		case !q.Since.IsZero() && e.Timestamp.Before(q.Since):
			continue
		}
		out = append(out, e)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (f *fakeSite) Save(_ context.Context, title, text, summary string, _ bool) error {
	if err := f.failOn["save:"+title]; err != nil {
		return err
	}
	f.texts[title] = text
	f.saves = append(f.saves, savedEdit{title: title, text: text, summary: summary})
	return nil
}

func (f *fakeSite) Delete(_ context.Context, title, _ string) error {
	delete(f.texts, title)
	f.deleted = append(f.deleted, title)
	return nil
}

// fakeJournal keeps outcomes in memory.
type fakeJournal struct {
	runs     []models.Run
	outcomes []models.Outcome
	finished []string
}

func (j *fakeJournal) StartRun(run models.Run) error {
	j.runs = append(j.runs, run)
	return nil
}

func (j *fakeJournal) RecordOutcome(o models.Outcome) error {
	j.outcomes = append(j.outcomes, o)
	return nil
}

func (j *fakeJournal) FinishRun(runID string, _ int) error {
	j.finished = append(j.finished, runID)
	return nil
}

type fakeArchiver struct {
	snaps []models.DeletionSnapshot
	err   error
}

func (a *fakeArchiver) Archive(_ context.Context, snap models.DeletionSnapshot) error {
	if a.err != nil {
		return a.err
	}
	a.snaps = append(a.snaps, snap)
	return nil
}

type scriptedConfirm struct {
	answers []bool
	asked   []string
}

func (c *scriptedConfirm) Confirm(q string) (bool, error) {
	c.asked = append(c.asked, q)
	if len(c.answers) == 0 {
		return false, nil
	}
	a := c.answers[0]
	c.answers = c.answers[1:]
	return a, nil
}

const (
	ledgerPage = "利用者:SeitenBot2/即時削除を見送ったファイル"
	sourceURL  = "https://ja.wikipedia.org/wiki/"
)

var (
	uploadTime = time.Date(2019, 4, 1, 9, 0, 0, 0, time.UTC)
	importTime = time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	watermark  = time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
)

func testRules(t *testing.T) *Rules {
	t.Helper()
	r, err := NewRules(config.Default())
	require.NoError(t, err)
	return r
}

func importComment(title string) string {
	return "Imported with FileImporter from " + sourceURL + strings.ReplaceAll(title, " ", "_")
}

// world is a local wiki and a remote repository holding one migrated file.
type world struct {
	local, remote *fakeSite
	rules         *Rules
}

func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{local: newFakeSite(), remote: newFakeSite(), rules: testRules(t)}
	w.local.texts[ledgerPage] = "対象外のファイル一覧\n{{Table2 | class = wikitable sortable seitenbot2\n! ファイル !! コモンズ !! 同名 !! 理由\n}}\n"
	w.local.revisions[ledgerPage] = []models.Revision{{ID: 500, Timestamp: watermark, User: "SeitenBot2"}}
	return w
}

// addMigrated registers a local file uploaded before importTime and its
// remote copy imported with FileImporter.
func (w *world) addMigrated(name string) (local, remote string) {
	local, remote = "ファイル:"+name, "File:"+name
	text := "{{即時削除/ファイル1-5|" + name + "}}\n== 概要 ==\n猫の写真。\n[[Category:猫]]"
	w.local.texts[local] = text
	w.local.categories[local] = []string{"猫"}
	w.local.files[local] = []models.FileRevision{
		{Timestamp: uploadTime, Width: 640, Height: 480, SHA1: "sha-" + name, User: "Uploader", Comment: "撮影"},
	}
	w.local.revisions[local] = []models.Revision{
		{ID: 1, Timestamp: uploadTime, User: "Uploader", Comment: "撮影", Text: "== 概要 ==\n猫の写真。\n[[Category:猫]]"},
		{ID: 2, Timestamp: importTime.Add(24 * time.Hour), User: "Tagger", Comment: "即時削除", Text: text},
	}
	w.remote.texts[remote] = "== {{int:filedesc}} ==\n{{Information|Description=猫}}\n\n[[Category:Cats]]\n"
	w.remote.revisions[remote] = []models.Revision{
		{ID: 9001, Timestamp: importTime, User: "Importer", Comment: importComment(local)},
	}
	w.remote.files[remote] = []models.FileRevision{{Timestamp: importTime, SHA1: "sha-" + name}}
	w.remote.logs = append(w.remote.logs, models.LogEntry{
		Type: "import", Action: "upload", Title: remote, Timestamp: importTime, Comment: importComment(local),
	})
	return local, remote
}

func (w *world) verifier() *Verifier {
	return NewVerifier(w.local, w.remote, w.rules, zerolog.Nop())
}

func (w *world) deps(journal Journal) Deps {
	return Deps{
		Local:   w.local,
		Remote:  w.remote,
		Rules:   w.rules,
		Ledger:  config.Default().Ledger,
		Journal: journal,
		Log:     zerolog.Nop(),
	}
}

func (w *world) bot(journal Journal, opts Options) *Bot {
	return NewBot(w.deps(journal), opts)
}
