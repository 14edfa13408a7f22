package sdfile

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Honjitsu-Seiten/SeitenBot2/internal/wikitext"
	"github.com/Honjitsu-Seiten/SeitenBot2/pkg/models"
)

// ErrHistoryTooLong is returned when the history before the import does
// not fit in the record template.
var ErrHistoryTooLong = errors.New("history too long for the record template")

const recordTimeLayout = "2006-01-02T15:04:05Z"

var newlineRun = regexp.MustCompile(`\n+`)

// RecordBuilder renders and places the historical record of a local file
// on its remote copy.
type RecordBuilder struct {
	rules *Rules
}

// NewRecordBuilder returns a builder using the template names of r.
func NewRecordBuilder(r *Rules) *RecordBuilder {
	return &RecordBuilder{rules: r}
}

// Build renders the upload log and page history of local up to importAt.
// snapshot is the page text at that time and supplies the description.
func (b *RecordBuilder) Build(local *models.LocalFile, snapshot string, importAt time.Time) (string, error) {
	var uploads []models.FileRevision
	for _, up := range local.FileHistory {
		if up.Timestamp.Before(importAt) {
			uploads = append(uploads, up)
		}
	}
	var edits []models.Revision
	for _, rev := range local.Revisions {
		if rev.Timestamp.Before(importAt) {
			edits = append(edits, rev)
		}
	}
	if len(uploads) > b.rules.MaxUploads {
		return "", fmt.Errorf("%w: %d uploads", ErrHistoryTooLong, len(uploads))
	}
	if len(edits) > b.rules.MaxEdits {
		return "", fmt.Errorf("%w: %d edits", ErrHistoryTooLong, len(edits))
	}

	name := b.rules.RecordTemplate
	lines := []string{
		"{{" + name,
		"| filename = " + b.rules.LocalName(local.Title),
		"| description = " + nowiki(b.description(snapshot)),
		"| file_history = {{" + name + "/FileHistory\n | timezone = UTC",
	}
	for i, up := range uploads {
		n := i + 1
		lines = append(lines,
			fmt.Sprintf(" | datetime%d = %s", n, up.Timestamp.UTC().Format(recordTimeLayout)),
			fmt.Sprintf(" | demensions%d = %dx%d", n, up.Width, up.Height),
			fmt.Sprintf(" | user%d = %s", n, up.User),
			fmt.Sprintf(" | comment%d = %s", n, optionalNowiki(oneLine(up.Comment))),
		)
	}
	lines = append(lines, "}}\n| page_history = {{"+name+"/PageHistory\n | timezone = UTC")
	for i, rev := range edits {
		n := i + 1
		lines = append(lines,
			fmt.Sprintf(" | datetime%d = %s", n, rev.Timestamp.UTC().Format(recordTimeLayout)),
			fmt.Sprintf(" | user%d = %s", n, rev.User),
			fmt.Sprintf(" | summary%d = %s", n, optionalNowiki(oneLine(rev.Comment))),
		)
		if rev.Minor {
			lines = append(lines, fmt.Sprintf(" | flag%d = m", n))
		}
	}
	lines = append(lines, "}}\n| other_information = \n}}\n")
	return strings.Join(lines, "\n"), nil
}

// description prefers the Description field of an Information template
// and falls back to the page text without comments and categories. An
// Information template without a Description gives an empty description.
func (b *RecordBuilder) description(text string) string {
	code := wikitext.Parse(text)
	code.RemoveComments()
	for _, t := range code.Templates(true) {
		if !t.NameMatches("Information") {
			continue
		}
		d, _ := t.Get("Description")
		desc := wikitext.Parse(d)
		desc.RemoveComments()
		return oneLine(desc.String())
	}
	for _, l := range code.Wikilinks() {
		if l.IsCategory(b.rules.CategoryPrefixes...) {
			code.Remove(l)
		}
	}
	return oneLine(code.String())
}

// oneLine joins the lines of s with single spaces.
func oneLine(s string) string {
	return strings.TrimSpace(newlineRun.ReplaceAllString(s, " "))
}

// Attach places block in remoteText. The second result is false when the
// page already carries a record and nothing was changed.
func (b *RecordBuilder) Attach(remoteText, block string) (string, bool) {
	code := wikitext.Parse(remoteText)
	for _, t := range code.Templates(true) {
		if t.NameMatches(b.rules.RecordTemplate) {
			return remoteText, false
		}
	}

	start, end, found := 0, len(code.Nodes), false
	for _, s := range code.Sections() {
		if b.rules.IsUploadLogHeading(s.Heading.Title) {
			start, end, found = s.Start+1, s.End, true
			break
		}
	}
	if !found {
		block = "== {{" + b.rules.UploadLogHeading + "}} ==\n" + block
	}

	at := end
	for i := start; i < end; i++ {
		if l, ok := code.Nodes[i].(*wikitext.Wikilink); ok && l.IsCategory(b.rules.CategoryPrefixes...) {
			at = i
			break
		}
	}
	if before := (&wikitext.Wikicode{Nodes: code.Nodes[:at]}).String(); before != "" && !strings.HasSuffix(before, "\n") {
		block = "\n" + block
	}
	code.InsertAt(at, block)
	return code.String(), true
}

func nowiki(s string) string {
	return "<nowiki>" + strings.ReplaceAll(s, "</nowiki>", "&lt;/nowiki>") + "</nowiki>"
}

func optionalNowiki(s string) string {
	if s == "" {
		return ""
	}
	return nowiki(s)
}
