package sdfile

import (
	"context"
	"fmt"
	"time"

	"github.com/Honjitsu-Seiten/SeitenBot2/internal/mediawiki"
	"github.com/Honjitsu-Seiten/SeitenBot2/pkg/models"
)

type outcomeKind int

const (
	inconclusive outcomeKind = iota
	resolved
	failed
)

// importOutcome is what a single strategy learned. An inconclusive
// outcome may still carry a reason that holds unless a later strategy
// finds the FileImporter trace after all. viaImporter marks outcomes
// read from a FileImporter summary, whatever it said.
type importOutcome struct {
	kind        outcomeKind
	at          time.Time
	reason      models.SkipReason
	detail      string
	viaImporter bool
}

// importSubject is the state shared by the strategies of one file.
type importSubject struct {
	local       *models.LocalFile
	claimed     string
	remote      models.RemoteFile
	renamedFrom string
}

type importStrategy struct {
	name string
	run  func(context.Context, *importSubject) (importOutcome, error)
}

// ImportTime is the result of resolving when the remote copy was made.
type ImportTime struct {
	At       time.Time
	Resolved bool
	Strategy string
	Reasons  []models.SkipReason
	Detail   string
}

func (v *Verifier) importStrategies() []importStrategy {
	return []importStrategy{
		{name: "import-log", run: v.importLog(func(s *importSubject) string { return s.claimed })},
		{name: "history-scan", run: v.historyScan},
		{name: "renamed-import-log", run: v.importLog(func(s *importSubject) string {
			if s.renamedFrom == "" || s.renamedFrom == s.claimed {
				return ""
			}
			return s.renamedFrom
		})},
		{name: "hash-match", run: v.hashMatch},
	}
}

// resolveImportTime runs the strategies in order until one resolves or
// fails. Pending reasons of inconclusive strategies are kept unless the
// FileImporter trace is found later.
func (v *Verifier) resolveImportTime(ctx context.Context, s *importSubject) (ImportTime, error) {
	var pending []models.SkipReason
	for _, st := range v.importStrategies() {
		out, err := st.run(ctx, s)
		if err != nil {
			return ImportTime{}, fmt.Errorf("%s: %w", st.name, err)
		}
		switch out.kind {
		case resolved:
			res := ImportTime{At: out.at, Resolved: true, Strategy: st.name}
			if !out.viaImporter {
				res.Reasons = pending
			}
			return res, nil
		case failed:
			res := ImportTime{Strategy: st.name, Detail: out.detail}
			if !out.viaImporter {
				res.Reasons = pending
			}
			res.Reasons = append(res.Reasons, out.reason)
			return res, nil
		default:
			if out.reason != "" {
				pending = append(pending, out.reason)
			}
		}
	}
	return ImportTime{Reasons: append(pending, models.OtherIssue), Detail: "import time unresolved"}, nil
}

func (v *Verifier) importLog(target func(*importSubject) string) func(context.Context, *importSubject) (importOutcome, error) {
	return func(ctx context.Context, s *importSubject) (importOutcome, error) {
		title := target(s)
		if title == "" {
			return importOutcome{}, nil
		}
		entries, err := v.remote.LogEvents(ctx, mediawiki.LogQuery{
			Type: "import", Title: title, Tag: v.rules.ImporterTag, Limit: 1,
		})
		if err != nil {
			return importOutcome{}, err
		}
		if len(entries) == 0 {
			return importOutcome{}, nil
		}
		return v.checkImportComment(s, entries[0].Comment, entries[0].Timestamp), nil
	}
}

// historyScan walks the remote page history newest first looking for the
// FileImporter summary. Move summaries seen on the way remember the title
// the file had before it was renamed.
func (v *Verifier) historyScan(ctx context.Context, s *importSubject) (importOutcome, error) {
	revs, err := v.remote.Revisions(ctx, s.remote.Title, mediawiki.RevisionQuery{NewestFirst: true})
	if err != nil {
		return importOutcome{}, err
	}
	for _, rev := range revs {
		if _, ok := v.rules.ImportSource(rev.Comment); ok {
			return v.checkImportComment(s, rev.Comment, rev.Timestamp), nil
		}
		if from, ok := v.rules.RenamedFrom(rev.Comment); ok {
			s.renamedFrom = from
		}
	}
	return importOutcome{reason: models.NotUsedFileImporter}, nil
}

func (v *Verifier) hashMatch(ctx context.Context, s *importSubject) (importOutcome, error) {
	if s.local.SHA1 == "" {
		return importOutcome{kind: failed, reason: models.OtherIssue, detail: "local file has no upload"}, nil
	}
	history, err := v.remote.FileHistory(ctx, s.remote.Title)
	if err != nil {
		return importOutcome{}, err
	}
	for _, up := range history {
		if up.SHA1 == s.local.SHA1 {
			return importOutcome{kind: resolved, at: up.Timestamp}, nil
		}
	}
	return importOutcome{
		kind:   failed,
		reason: models.OtherIssue,
		detail: "no remote upload matches the local file hash",
	}, nil
}

func (v *Verifier) checkImportComment(s *importSubject, comment string, at time.Time) importOutcome {
	source, ok := v.rules.ImportSource(comment)
	if !ok {
		return importOutcome{
			kind:        failed,
			reason:      models.OtherIssue,
			detail:      "malformed import summary: " + comment,
			viaImporter: true,
		}
	}
	if !v.rules.SameLocalFile(source, s.local.Title) {
		return importOutcome{
			kind:        failed,
			reason:      models.IncorrectCommonsFileName,
			detail:      "imported from " + source,
			viaImporter: true,
		}
	}
	return importOutcome{kind: resolved, at: at, viaImporter: true}
}
