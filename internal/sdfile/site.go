package sdfile

import (
	"context"

	"github.com/Honjitsu-Seiten/SeitenBot2/internal/mediawiki"
	"github.com/Honjitsu-Seiten/SeitenBot2/pkg/models"
)

// Site is the content store of one wiki. The origin wiki and the shared
// repository are both accessed through it.
type Site interface {
	PageText(ctx context.Context, title string) (string, error)
	Exists(ctx context.Context, title string) (bool, error)
	RedirectTarget(ctx context.Context, title string) (string, bool, error)
	Revisions(ctx context.Context, title string, q mediawiki.RevisionQuery) ([]models.Revision, error)
	Categories(ctx context.Context, title string) ([]string, error)
	FileHistory(ctx context.Context, title string) ([]models.FileRevision, error)
	FileUsage(ctx context.Context, title string) ([]string, error)
	TemplateRedirects(ctx context.Context, name string) ([]string, error)
	CategoryMembers(ctx context.Context, category string, newestFirst bool, limit int) ([]string, error)
	LogEvents(ctx context.Context, q mediawiki.LogQuery) ([]models.LogEntry, error)
	Save(ctx context.Context, title, text, summary string, minor bool) error
	Delete(ctx context.Context, title, reason string) error
}

var _ Site = (*mediawiki.Client)(nil)

// Journal records run progress outside the wiki.
type Journal interface {
	StartRun(run models.Run) error
	RecordOutcome(o models.Outcome) error
	FinishRun(runID string, candidates int) error
}

// Archiver keeps a copy of a page before it is deleted.
type Archiver interface {
	Archive(ctx context.Context, snap models.DeletionSnapshot) error
}

// Confirmer asks the operator before a destructive action.
type Confirmer interface {
	Confirm(question string) (bool, error)
}
