package sdfile

import (
	"context"
	"fmt"

	"github.com/Honjitsu-Seiten/SeitenBot2/internal/mediawiki"
	"github.com/Honjitsu-Seiten/SeitenBot2/pkg/models"
)

// RemoteResolution is where a claimed remote title actually lives.
type RemoteResolution struct {
	Remote     models.RemoteFile
	Renames    []string
	Redirected bool
}

// ResolveRemote follows the move log of the remote site until the claimed
// title, or one it was renamed to, exists. At most maxHops renames are
// followed and a title is never visited twice. An existing redirect is
// followed one level. When nothing is found the result has Exists unset
// and the last title that was tried.
func ResolveRemote(ctx context.Context, site Site, claimed string, maxHops int) (RemoteResolution, error) {
	var res RemoteResolution
	title := claimed
	visited := map[string]bool{}

	for {
		exists, err := site.Exists(ctx, title)
		if err != nil {
			return res, fmt.Errorf("failed to check %s: %w", title, err)
		}
		if exists {
			break
		}
		visited[title] = true
		if len(res.Renames) >= maxHops {
			res.Remote = models.RemoteFile{Title: title}
			return res, nil
		}

		moves, err := site.LogEvents(ctx, mediawiki.LogQuery{Type: "move", Title: title, Limit: 1})
		if err != nil {
			return res, fmt.Errorf("failed to read move log of %s: %w", title, err)
		}
		if len(moves) == 0 || moves[0].Target == "" || visited[moves[0].Target] {
			res.Remote = models.RemoteFile{Title: title}
			return res, nil
		}
		title = moves[0].Target
		res.Renames = append(res.Renames, title)
	}

	target, ok, err := site.RedirectTarget(ctx, title)
	if err != nil {
		return res, fmt.Errorf("failed to resolve redirect %s: %w", title, err)
	}
	if ok {
		title = target
		res.Redirected = true
	}
	res.Remote = models.RemoteFile{Title: title, Exists: true}
	return res, nil
}
