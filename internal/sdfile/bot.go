package sdfile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Honjitsu-Seiten/SeitenBot2/internal/config"
	"github.com/Honjitsu-Seiten/SeitenBot2/pkg/models"
)

// Options changes how a run treats candidates.
type Options struct {
	// Always skips the confirmation prompt.
	Always bool
	// IgnoreList neither loads nor saves the skip list; tracked files
	// are checked again.
	IgnoreList bool
	// DryRun verifies without deleting, tagging or saving the skip list.
	DryRun bool
	// Progress draws a progress bar on stderr.
	Progress bool
}

// Deps are the collaborators of a Bot. Archiver and Confirm may be nil.
type Deps struct {
	Local    Site
	Remote   Site
	Rules    *Rules
	Ledger   config.LedgerConfig
	Journal  Journal
	Archiver Archiver
	Confirm  Confirmer
	Log      zerolog.Logger
}

// Bot processes speedy-deletion candidates one after another.
type Bot struct {
	local    Site
	remote   Site
	rules    *Rules
	ledger   config.LedgerConfig
	verifier *Verifier
	records  *RecordBuilder
	journal  Journal
	archiver Archiver
	confirm  Confirmer
	opts     Options
	log      zerolog.Logger
	now      func() time.Time

	// abort is the first confirmation failure; it ends the run.
	abort error
}

// NewBot wires a bot from d.
func NewBot(d Deps, opts Options) *Bot {
	confirm := d.Confirm
	if confirm == nil || opts.Always {
		confirm = alwaysYes{}
	}
	return &Bot{
		local:    d.Local,
		remote:   d.Remote,
		rules:    d.Rules,
		ledger:   d.Ledger,
		verifier: NewVerifier(d.Local, d.Remote, d.Rules, d.Log.With().Str("component", "verifier").Logger()),
		records:  NewRecordBuilder(d.Rules),
		journal:  d.Journal,
		archiver: d.Archiver,
		confirm:  confirm,
		opts:     opts,
		log:      d.Log,
		now:      time.Now,
	}
}

type alwaysYes struct{}

func (alwaysYes) Confirm(string) (bool, error) { return true, nil }

// Candidates lists the members of the candidate category.
func (b *Bot) Candidates(ctx context.Context, category string, recent bool, limit int) ([]string, error) {
	titles, err := b.local.CategoryMembers(ctx, category, recent, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	return titles, nil
}

// Run treats every title in order. Cancelling ctx stops the run between
// files; the file being worked on is finished first. The skip list is
// written once at the end, also after an interruption.
func (b *Bot) Run(ctx context.Context, titles []string) (*models.Stats, error) {
	var ledger *Ledger
	if !b.opts.IgnoreList {
		var err error
		ledger, err = LoadLedger(ctx, b.local, b.rules, b.ledger, b.log.With().Str("component", "ledger").Logger())
		if err != nil {
			return nil, err
		}
	}

	run := models.Run{ID: uuid.NewString(), StartedAt: b.now(), Candidates: len(titles)}
	if err := b.journal.StartRun(run); err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}
	log := b.log.With().Str("run", run.ID).Logger()
	log.Info().Int("candidates", len(titles)).Bool("dry_run", b.opts.DryRun).Msg("run started")

	stats := &models.Stats{RunID: run.ID, ByReason: map[string]int64{}}
	progress := newRunProgress(len(titles), b.opts.Progress)
	progress.start()

	for _, title := range titles {
		if ctx.Err() != nil {
			log.Warn().Msg("interrupted; stopping before the next file")
			break
		}
		progress.step(title)
		if ledger != nil && ledger.Tracks(title) {
			log.Debug().Str("file", title).Msg("already on the skip list")
			continue
		}

		out := b.treat(context.WithoutCancel(ctx), log, ledger, title)
		out.RunID = run.ID
		out.UpdatedAt = b.now()
		stats.Add(out)
		if err := b.journal.RecordOutcome(out); err != nil {
			log.Error().Err(err).Str("file", title).Msg("failed to journal outcome")
		}
		if b.abort != nil {
			log.Warn().Err(b.abort).Msg("no answer; stopping the run")
			break
		}
	}
	progress.finish()

	var saveErr error
	if ledger != nil && !b.opts.DryRun {
		saveErr = ledger.Save(context.WithoutCancel(ctx), b.local, b.remote)
	}
	if err := b.journal.FinishRun(run.ID, len(titles)); err != nil {
		log.Error().Err(err).Msg("failed to finish run")
	}

	log.Info().
		Int64("deleted", stats.Deleted).
		Int64("tagged", stats.Tagged).
		Int64("skipped", stats.Skipped).
		Int64("eligible", stats.Eligible).
		Int64("failed", stats.Failed).
		Msg("run finished")
	return stats, errors.Join(saveErr, b.abort)
}

// treat verifies one file and acts on the result.
func (b *Bot) treat(ctx context.Context, log zerolog.Logger, ledger *Ledger, title string) models.Outcome {
	out := models.Outcome{Title: title}
	log = log.With().Str("file", title).Logger()

	ver, err := b.verifier.Verify(ctx, title)
	if err != nil {
		log.Error().Err(err).Msg("verification aborted")
		out.Status = models.StatusFailed
		out.Detail = err.Error()
		return out
	}
	out.RemoteTitle = ver.Remote.Title
	log = log.With().Str("remote", ver.Remote.Title).Logger()

	if ver.Eligible() {
		return b.delete(ctx, log, ver, out)
	}

	out.Status = models.StatusSkipped
	if ver.Reasons.Only(models.NotUsedFileImporter) {
		tagged, err := b.attachRecord(ctx, log, ver)
		switch {
		case errors.Is(err, ErrHistoryTooLong):
			log.Warn().Err(err).Msg("record not attached")
			ver.Reasons.Add(models.OtherIssue)
			ver.Details = append(ver.Details, err.Error())
		case err != nil:
			log.Error().Err(err).Msg("failed to attach record")
			ver.Details = append(ver.Details, err.Error())
		case tagged:
			out.Status = models.StatusTagged
		}
	}

	out.Reasons = ver.Reasons.Codes()
	out.Detail = strings.Join(ver.Details, "; ")
	for _, r := range ver.Reasons.Sorted() {
		log.Info().Str("reason", string(r)).Str("code", r.Code()).Msg("skipped")
	}
	if ledger != nil {
		ledger.Record(ver.SkipRecord())
	}
	return out
}

// attachRecord adds the historical record to the remote page. It reports
// whether the page was edited.
func (b *Bot) attachRecord(ctx context.Context, log zerolog.Logger, ver *Verification) (bool, error) {
	if err := b.verifier.ensureRevisions(ctx, ver.Local); err != nil {
		return false, err
	}
	block, err := b.records.Build(ver.Local, ver.Snapshot, ver.ImportTime)
	if err != nil {
		return false, err
	}
	text, err := b.remote.PageText(ctx, ver.Remote.Title)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", ver.Remote.Title, err)
	}
	updated, changed := b.records.Attach(text, block)
	if !changed {
		log.Info().Msg("remote page already carries the record")
		return false, nil
	}
	log.Info().Msg("record to attach\n" + unifiedDiff(text, updated, ver.Remote.Title, ver.Remote.Title))
	if b.opts.DryRun {
		return false, nil
	}
	ok, err := b.ask(fmt.Sprintf("Attach the record to %s?", ver.Remote.Title))
	if err != nil || !ok {
		return false, err
	}
	if err := b.remote.Save(ctx, ver.Remote.Title, updated, b.rules.RecordSummary, false); err != nil {
		return false, err
	}
	log.Info().Msg("record attached")
	return true, nil
}

func (b *Bot) ask(question string) (bool, error) {
	ok, err := b.confirm.Confirm(question)
	if err != nil && b.abort == nil {
		b.abort = err
	}
	return ok, err
}

func (b *Bot) delete(ctx context.Context, log zerolog.Logger, ver *Verification, out models.Outcome) models.Outcome {
	reason := fmt.Sprintf(b.rules.DeleteSummary, ver.Remote.Title)
	out.Status = models.StatusEligible
	log.Info().Str("reason", reason).Msg("eligible for deletion")
	if b.opts.DryRun {
		out.Detail = "dry run"
		return out
	}

	ok, err := b.ask(fmt.Sprintf("Delete %s?", ver.Local.Title))
	if err != nil {
		out.Status = models.StatusFailed
		out.Detail = err.Error()
		return out
	}
	if !ok {
		out.Detail = "declined"
		return out
	}

	if b.archiver != nil {
		snap := models.DeletionSnapshot{
			Title:       ver.Local.Title,
			RemoteTitle: ver.Remote.Title,
			Reason:      reason,
			Text:        ver.Text,
			Revisions:   ver.Local.Revisions,
			FileHistory: ver.Local.FileHistory,
			DeletedAt:   b.now().UTC(),
		}
		if err := b.archiver.Archive(ctx, snap); err != nil {
			log.Error().Err(err).Msg("archive failed; not deleting")
			out.Status = models.StatusFailed
			out.Detail = err.Error()
			return out
		}
	}

	if err := b.local.Delete(ctx, ver.Local.Title, reason); err != nil {
		log.Error().Err(err).Msg("delete failed")
		out.Status = models.StatusFailed
		out.Detail = err.Error()
		return out
	}
	log.Info().Msg("deleted")
	out.Status = models.StatusDeleted
	return out
}
