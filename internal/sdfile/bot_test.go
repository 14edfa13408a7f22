package sdfile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Honjitsu-Seiten/SeitenBot2/pkg/models"
)

func TestRunDeletesFaithfulCopy(t *testing.T) {
	w := newWorld(t)
	local, _ := w.addMigrated("Foo.jpg")
	journal := &fakeJournal{}

	stats, err := w.bot(journal, Options{Always: true}).Run(context.Background(), []string{local})
	require.NoError(t, err)

	assert.Equal(t, []string{local}, w.local.deleted)
	assert.Equal(t, int64(1), stats.Deleted)
	require.Len(t, journal.outcomes, 1)
	assert.Equal(t, models.StatusDeleted, journal.outcomes[0].Status)
	assert.Equal(t, "File:Foo.jpg", journal.outcomes[0].RemoteTitle)
	assert.Equal(t, journal.runs[0].ID, journal.outcomes[0].RunID)
	assert.Equal(t, []string{journal.runs[0].ID}, journal.finished)
	assert.Empty(t, w.local.saves, "skip list is untouched when nothing was skipped")
}

func TestRunRecordsMissingRemote(t *testing.T) {
	w := newWorld(t)
	local, remote := w.addMigrated("Bar.jpg")
	delete(w.remote.texts, remote)
	journal := &fakeJournal{}

	_, err := w.bot(journal, Options{Always: true}).Run(context.Background(), []string{local})
	require.NoError(t, err)

	assert.Empty(t, w.local.deleted)
	require.Len(t, w.local.saves, 1)
	save := w.local.saves[0]
	assert.Equal(t, ledgerPage, save.title)
	assert.Equal(t, "Botによる: 一覧の更新", save.summary)
	assert.Contains(t, save.text,
		"| {{P|ファイル|Bar.jpg}} | {{Fullurl|n=c%3ASpecial%3ALog|p=page=File%3ABar.jpg|s=ログ|t=コモンズの記録}} | Yes | [[#C|C]]\n}}")
	assert.True(t, strings.HasPrefix(save.text, "対象外のファイル一覧\n"))

	require.Len(t, journal.outcomes, 1)
	assert.Equal(t, models.StatusSkipped, journal.outcomes[0].Status)
	assert.Equal(t, []string{"C"}, journal.outcomes[0].Reasons)
}

func TestRunAttachesRecordOnHashFallback(t *testing.T) {
	w := newWorld(t)
	local, remote := w.addMigrated("Foo.jpg")
	w.remote.logs = nil
	w.remote.revisions[remote][0].Comment = "Transferred from ja.wikipedia"
	journal := &fakeJournal{}

	_, err := w.bot(journal, Options{Always: true}).Run(context.Background(), []string{local})
	require.NoError(t, err)

	assert.Empty(t, w.local.deleted)
	require.Len(t, w.remote.saves, 1)
	edit := w.remote.saves[0]
	assert.Equal(t, remote, edit.title)
	assert.Equal(t, w.rules.RecordSummary, edit.summary)
	record := strings.Index(edit.text, "{{Moved from Japanese Wikipedia\n")
	heading := strings.Index(edit.text, "== {{Original upload log}} ==")
	category := strings.Index(edit.text, "[[Category:Cats]]")
	require.NotEqual(t, -1, record)
	assert.True(t, heading < record && record < category)
	assert.Equal(t, models.StatusTagged, journal.outcomes[0].Status)
	assert.Equal(t, []string{"A"}, journal.outcomes[0].Reasons)

	// A second run on the same state never adds another record.
	journal2 := &fakeJournal{}
	_, err = w.bot(journal2, Options{Always: true, IgnoreList: true}).Run(context.Background(), []string{local})
	require.NoError(t, err)
	assert.Len(t, w.remote.saves, 1)
	assert.Equal(t, 1, strings.Count(w.remote.texts[remote], "{{Moved from Japanese Wikipedia"))
	assert.Equal(t, models.StatusSkipped, journal2.outcomes[0].Status)
}

func TestRunKeepsFileEditedAfterExport(t *testing.T) {
	w := newWorld(t)
	local, _ := w.addMigrated("Foo.jpg")
	revs := w.local.revisions[local]
	w.local.revisions[local] = append(revs, models.Revision{
		ID: 3, Timestamp: importTime.Add(72 * time.Hour), User: "Editor", Text: "全く別の説明",
	})
	journal := &fakeJournal{}

	_, err := w.bot(journal, Options{Always: true}).Run(context.Background(), []string{local})
	require.NoError(t, err)
	assert.Empty(t, w.local.deleted)
	assert.Contains(t, journal.outcomes[0].Reasons, "F")
	require.Len(t, w.local.saves, 1)
	assert.Contains(t, w.local.saves[0].text, "[[:c:File:Foo.jpg|最新版]]")
	assert.Contains(t, w.local.saves[0].text, "[[:c:Special:PermaLink/9001|初版]]")
}

func TestRunHistoryTooLongBecomesOtherIssue(t *testing.T) {
	w := newWorld(t)
	local, remote := w.addMigrated("Foo.jpg")
	w.remote.logs = nil
	w.remote.revisions[remote][0].Comment = "Transferred from ja.wikipedia"
	var revs []models.Revision
	for i := 0; i < 25; i++ {
		revs = append(revs, models.Revision{
			ID:        int64(i + 1),
			Timestamp: uploadTime.Add(time.Duration(i) * time.Hour),
			User:      "Uploader",
			Text:      "猫の写真。",
		})
	}
	w.local.revisions[local] = revs
	journal := &fakeJournal{}

	_, err := w.bot(journal, Options{Always: true}).Run(context.Background(), []string{local})
	require.NoError(t, err)
	assert.Empty(t, w.remote.saves)
	assert.Empty(t, w.local.deleted)
	assert.Equal(t, []string{"A", "Z"}, journal.outcomes[0].Reasons)
	require.Len(t, w.local.saves, 1)
	assert.Contains(t, w.local.saves[0].text, "[[#A|A]], [[#Z|Z]]")
}

func TestRunSkipsTrackedFiles(t *testing.T) {
	w := newWorld(t)
	local, _ := w.addMigrated("Foo.jpg")
	w.local.texts[ledgerPage] = "{{Table2 | class = seitenbot2\n| {{P|ファイル|Foo.jpg}} | | | [[#Z|Z]]\n}}"
	journal := &fakeJournal{}

	_, err := w.bot(journal, Options{Always: true}).Run(context.Background(), []string{local})
	require.NoError(t, err)
	assert.Empty(t, journal.outcomes)
	assert.Empty(t, w.local.deleted)

	_, err = w.bot(journal, Options{Always: true, IgnoreList: true}).Run(context.Background(), []string{local})
	require.NoError(t, err)
	assert.Equal(t, []string{local}, w.local.deleted)
}

func TestRunMissingLedgerIsFatal(t *testing.T) {
	w := newWorld(t)
	local, _ := w.addMigrated("Foo.jpg")
	w.local.texts[ledgerPage] = "no table here"
	journal := &fakeJournal{}

	_, err := w.bot(journal, Options{Always: true}).Run(context.Background(), []string{local})
	assert.ErrorIs(t, err, ErrLedgerTableMissing)
	assert.Empty(t, journal.runs)
	assert.Empty(t, w.local.deleted)
}

func TestRunContinuesAfterFailure(t *testing.T) {
	w := newWorld(t)
	broken, _ := w.addMigrated("Broken.jpg")
	good, _ := w.addMigrated("Good.jpg")
	w.local.failOn[broken] = errors.New("connection reset")
	journal := &fakeJournal{}

	stats, err := w.bot(journal, Options{Always: true}).Run(context.Background(), []string{broken, good})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, []string{good}, w.local.deleted)
	require.Len(t, journal.outcomes, 2)
	assert.Equal(t, models.StatusFailed, journal.outcomes[0].Status)
	assert.Contains(t, journal.outcomes[0].Detail, "connection reset")
	assert.Empty(t, w.local.saves, "failed files are not added to the skip list")
}

func TestRunDryRunChangesNothing(t *testing.T) {
	w := newWorld(t)
	good, _ := w.addMigrated("Good.jpg")
	missing, remote := w.addMigrated("Missing.jpg")
	delete(w.remote.texts, remote)
	journal := &fakeJournal{}

	stats, err := w.bot(journal, Options{DryRun: true}).Run(context.Background(), []string{good, missing})
	require.NoError(t, err)
	assert.Empty(t, w.local.deleted)
	assert.Empty(t, w.local.saves)
	assert.Equal(t, int64(1), stats.Eligible)
	assert.Equal(t, int64(1), stats.Skipped)
}

func TestRunStopsBetweenFilesWhenCancelled(t *testing.T) {
	w := newWorld(t)
	first, _ := w.addMigrated("First.jpg")
	second, remote := w.addMigrated("Second.jpg")
	delete(w.remote.texts, remote)
	journal := &fakeJournal{}

	ctx, cancel := context.WithCancel(context.Background())
	confirm := &cancellingConfirm{cancel: cancel}
	deps := w.deps(journal)
	deps.Confirm = confirm
	b := NewBot(deps, Options{})

	_, err := b.Run(ctx, []string{first, second})
	require.NoError(t, err)
	assert.Equal(t, []string{first}, w.local.deleted, "the file in progress is finished")
	assert.Len(t, journal.outcomes, 1)
	assert.Equal(t, []string{journal.runs[0].ID}, journal.finished)
}

type cancellingConfirm struct {
	cancel context.CancelFunc
}

func (c *cancellingConfirm) Confirm(string) (bool, error) {
	c.cancel()
	return true, nil
}

func TestRunDeclinedDeletion(t *testing.T) {
	w := newWorld(t)
	local, _ := w.addMigrated("Foo.jpg")
	journal := &fakeJournal{}
	confirm := &scriptedConfirm{answers: []bool{false}}
	deps := w.deps(journal)
	deps.Confirm = confirm
	b := NewBot(deps, Options{})

	_, err := b.Run(context.Background(), []string{local})
	require.NoError(t, err)
	assert.Empty(t, w.local.deleted)
	assert.Equal(t, []string{"Delete ファイル:Foo.jpg?"}, confirm.asked)
	assert.Equal(t, models.StatusEligible, journal.outcomes[0].Status)
	assert.Equal(t, "declined", journal.outcomes[0].Detail)
}

func TestRunArchivesBeforeDelete(t *testing.T) {
	w := newWorld(t)
	local, _ := w.addMigrated("Foo.jpg")
	archiver := &fakeArchiver{}
	deps := w.deps(&fakeJournal{})
	deps.Archiver = archiver
	b := NewBot(deps, Options{Always: true})

	_, err := b.Run(context.Background(), []string{local})
	require.NoError(t, err)
	require.Len(t, archiver.snaps, 1)
	snap := archiver.snaps[0]
	assert.Equal(t, local, snap.Title)
	assert.Equal(t, "File:Foo.jpg", snap.RemoteTitle)
	assert.Equal(t, "Bot: [[WP:CSD#ファイル1-5]] [[c:File:Foo.jpg]]へ移行", snap.Reason)
	assert.Len(t, snap.Revisions, 2)
	assert.Equal(t, []string{local}, w.local.deleted)
}

func TestRunArchiveFailurePreventsDelete(t *testing.T) {
	w := newWorld(t)
	local, _ := w.addMigrated("Foo.jpg")
	journal := &fakeJournal{}
	deps := w.deps(journal)
	deps.Archiver = &fakeArchiver{err: fmt.Errorf("bucket gone")}
	b := NewBot(deps, Options{Always: true})

	_, err := b.Run(context.Background(), []string{local})
	require.NoError(t, err)
	assert.Empty(t, w.local.deleted)
	assert.Equal(t, models.StatusFailed, journal.outcomes[0].Status)
}

func TestCandidates(t *testing.T) {
	w := newWorld(t)
	w.local.members = []string{"ファイル:A.jpg", "ファイル:B.jpg", "ファイル:C.jpg"}
	b := w.bot(&fakeJournal{}, Options{})

	titles, err := b.Candidates(context.Background(), "cat", true, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"ファイル:C.jpg", "ファイル:B.jpg"}, titles)
}

type failingConfirm struct{ err error }

func (c failingConfirm) Confirm(string) (bool, error) { return false, c.err }

func TestRunStopsWhenConfirmationFails(t *testing.T) {
	w := newWorld(t)
	first, _ := w.addMigrated("Foo.jpg")
	second, _ := w.addMigrated("Bar.jpg")
	journal := &fakeJournal{}
	aborted := errors.New("aborted by operator")
	deps := w.deps(journal)
	deps.Confirm = failingConfirm{err: aborted}
	b := NewBot(deps, Options{})

	_, err := b.Run(context.Background(), []string{first, second})
	assert.ErrorIs(t, err, aborted)
	assert.Empty(t, w.local.deleted)
	require.Len(t, journal.outcomes, 1)
	assert.Equal(t, models.StatusFailed, journal.outcomes[0].Status)
	assert.Equal(t, []string{journal.runs[0].ID}, journal.finished)
}
