// Package mediawiki is a minimal client for the MediaWiki Action API
// covering the page, history, log and maintenance calls the bot makes.
package mediawiki

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/Honjitsu-Seiten/SeitenBot2/internal/logging"
	"github.com/Honjitsu-Seiten/SeitenBot2/pkg/models"
)

// Client talks to a single wiki.
type Client struct {
	apiURL    string
	userAgent string
	http      *http.Client
	pacer     *Pacer
	log       zerolog.Logger
	csrf      string
}

// Options configures a Client
type Options struct {
	APIURL      string
	UserAgent   string
	MinInterval time.Duration
	Timeout     time.Duration
	Transport   http.RoundTripper
}

// New creates a client for the wiki at opts.APIURL.
func New(opts Options) (*Client, error) {
	if _, err := url.Parse(opts.APIURL); err != nil || opts.APIURL == "" {
		return nil, fmt.Errorf("invalid api url %q", opts.APIURL)
	}

	tr := opts.Transport
	if tr == nil {
		tr = &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		apiURL:    opts.APIURL,
		userAgent: opts.UserAgent,
		http:      &http.Client{Transport: tr, Jar: jar, Timeout: timeout},
		pacer:     NewPacer(opts.MinInterval),
		log:       logging.For("mediawiki").With().Str("api", opts.APIURL).Logger(),
	}, nil
}

// Login authenticates with a bot password.
func (c *Client) Login(ctx context.Context, username, password string) error {
	token, err := c.token(ctx, "login")
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPost, url.Values{
		"action":     {"login"},
		"lgname":     {username},
		"lgpassword": {password},
		"lgtoken":    {token},
	})
	if err != nil {
		return fmt.Errorf("failed to log in as %s: %w", username, err)
	}
	if resp.Login == nil || resp.Login.Result != "Success" {
		reason := ""
		if resp.Login != nil {
			reason = resp.Login.Result + " " + resp.Login.Reason
		}
		return fmt.Errorf("failed to log in as %s: %s", username, strings.TrimSpace(reason))
	}
	c.log.Info().Str("user", username).Msg("logged in")
	return nil
}

// PageText returns the current wikitext of title.
func (c *Client) PageText(ctx context.Context, title string) (string, error) {
	revs, err := c.Revisions(ctx, title, RevisionQuery{NewestFirst: true, Content: true, Limit: 1})
	if err != nil {
		return "", err
	}
	if len(revs) == 0 {
		return "", fmt.Errorf("%s: %w", title, ErrMissing)
	}
	return revs[0].Text, nil
}

// Exists reports whether title exists.
func (c *Client) Exists(ctx context.Context, title string) (bool, error) {
	page, err := c.pageInfo(ctx, title)
	if err != nil {
		return false, err
	}
	return !page.Missing && !page.Invalid, nil
}

// RedirectTarget returns the target of title when it is a redirect.
func (c *Client) RedirectTarget(ctx context.Context, title string) (string, bool, error) {
	resp, err := c.do(ctx, http.MethodGet, url.Values{
		"action":    {"query"},
		"titles":    {title},
		"redirects": {"1"},
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve redirect %s: %w", title, err)
	}
	if resp.Query == nil || len(resp.Query.Redirects) == 0 {
		return "", false, nil
	}
	return resp.Query.Redirects[0].To, true, nil
}

// Revisions returns revisions of title, oldest first unless q.NewestFirst.
func (c *Client) Revisions(ctx context.Context, title string, q RevisionQuery) ([]models.Revision, error) {
	props := "ids|timestamp|user|comment|flags"
	limit := "max"
	if q.Content {
		props += "|content"
		limit = "50"
	}
	if q.Limit > 0 && (limit == "max" || q.Limit < 50) {
		limit = strconv.Itoa(q.Limit)
	}
	params := url.Values{
		"action":  {"query"},
		"prop":    {"revisions"},
		"titles":  {title},
		"rvprop":  {props},
		"rvslots": {"main"},
		"rvlimit": {limit},
		"rvdir":   {"newer"},
	}
	if q.NewestFirst {
		params.Set("rvdir", "older")
	}
	if q.User != "" {
		params.Set("rvuser", q.User)
	}

	var out []models.Revision
	err := c.query(ctx, params, func(r *queryResult) (bool, error) {
		for _, p := range r.Pages {
			if p.Missing || p.Invalid {
				return false, fmt.Errorf("%s: %w", title, ErrMissing)
			}
			for _, rev := range p.Revisions {
				ts, err := parseTimestamp(rev.Timestamp)
				if err != nil {
					return false, err
				}
				out = append(out, models.Revision{
					ID:        rev.RevID,
					Timestamp: ts,
					User:      rev.User,
					Comment:   rev.Comment,
					Minor:     rev.Minor,
					Text:      rev.Slots.Main.Content,
				})
			}
		}
		return q.Limit <= 0 || len(out) < q.Limit, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch revisions of %s: %w", title, err)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Categories returns the category names (without namespace) of title.
func (c *Client) Categories(ctx context.Context, title string) ([]string, error) {
	var out []string
	err := c.query(ctx, url.Values{
		"action":  {"query"},
		"prop":    {"categories"},
		"titles":  {title},
		"cllimit": {"max"},
	}, func(r *queryResult) (bool, error) {
		for _, p := range r.Pages {
			for _, cat := range p.Categories {
				out = append(out, stripNamespace(cat.Title, cat.NS))
			}
		}
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch categories of %s: %w", title, err)
	}
	return out, nil
}

// FileHistory returns the upload history of a file page, oldest first.
func (c *Client) FileHistory(ctx context.Context, title string) ([]models.FileRevision, error) {
	var out []models.FileRevision
	err := c.query(ctx, url.Values{
		"action":  {"query"},
		"prop":    {"imageinfo"},
		"titles":  {title},
		"iiprop":  {"timestamp|user|comment|sha1|size"},
		"iilimit": {"max"},
	}, func(r *queryResult) (bool, error) {
		for _, p := range r.Pages {
			for _, ii := range p.ImageInfo {
				ts, err := parseTimestamp(ii.Timestamp)
				if err != nil {
					return false, err
				}
				out = append(out, models.FileRevision{
					Timestamp: ts,
					Width:     ii.Width,
					Height:    ii.Height,
					Size:      ii.Size,
					SHA1:      ii.SHA1,
					User:      ii.User,
					Comment:   ii.Comment,
				})
			}
		}
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch file history of %s: %w", title, err)
	}
	// the API lists newest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// FileUsage lists the pages embedding the file title.
func (c *Client) FileUsage(ctx context.Context, title string) ([]string, error) {
	var out []string
	err := c.query(ctx, url.Values{
		"action":  {"query"},
		"list":    {"imageusage"},
		"iutitle": {title},
		"iulimit": {"max"},
	}, func(r *queryResult) (bool, error) {
		for _, u := range r.ImageUsage {
			out = append(out, u.Title)
		}
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch usage of %s: %w", title, err)
	}
	return out, nil
}

// TemplateRedirects lists the names (without namespace) of redirects to
// the template called name.
func (c *Client) TemplateRedirects(ctx context.Context, name string) ([]string, error) {
	var out []string
	err := c.query(ctx, url.Values{
		"action":        {"query"},
		"list":          {"backlinks"},
		"bltitle":       {"Template:" + name},
		"blfilterredir": {"redirects"},
		"blnamespace":   {strconv.Itoa(NamespaceTemplate)},
		"bllimit":       {"max"},
	}, func(r *queryResult) (bool, error) {
		for _, b := range r.Backlinks {
			out = append(out, stripNamespace(b.Title, b.NS))
		}
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch redirects of template %s: %w", name, err)
	}
	return out, nil
}

// CategoryMembers lists file pages in a category ordered by the time they
// were added.
func (c *Client) CategoryMembers(ctx context.Context, category string, newestFirst bool, limit int) ([]string, error) {
	params := url.Values{
		"action":      {"query"},
		"list":        {"categorymembers"},
		"cmtitle":     {"Category:" + category},
		"cmnamespace": {strconv.Itoa(NamespaceFile)},
		"cmsort":      {"timestamp"},
		"cmdir":       {"asc"},
		"cmlimit":     {"max"},
	}
	if newestFirst {
		params.Set("cmdir", "desc")
	}
	var out []string
	err := c.query(ctx, params, func(r *queryResult) (bool, error) {
		for _, m := range r.CategoryMembers {
			out = append(out, m.Title)
		}
		return limit <= 0 || len(out) < limit, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list category %s: %w", category, err)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LogEvents lists log entries matching q, newest first.
func (c *Client) LogEvents(ctx context.Context, q LogQuery) ([]models.LogEntry, error) {
	params := url.Values{
		"action":  {"query"},
		"list":    {"logevents"},
		"leprop":  {"ids|title|type|user|timestamp|comment|details"},
		"lelimit": {"max"},
	}
	switch {
	case q.Action != "":
		params.Set("leaction", q.Action)
	case q.Type != "":
		params.Set("letype", q.Type)
	}
	if q.Title != "" {
		params.Set("letitle", q.Title)
	}
	if q.Tag != "" {
		params.Set("letag", q.Tag)
	}
	if q.Namespace != nil {
		params.Set("lenamespace", strconv.Itoa(*q.Namespace))
	}
	if !q.Since.IsZero() {
		params.Set("leend", q.Since.UTC().Format(time.RFC3339))
	}
	if q.Limit > 0 && q.Limit < 500 {
		params.Set("lelimit", strconv.Itoa(q.Limit))
	}

	var out []models.LogEntry
	err := c.query(ctx, params, func(r *queryResult) (bool, error) {
		for _, e := range r.LogEvents {
			ts, err := parseTimestamp(e.Timestamp)
			if err != nil {
				return false, err
			}
			out = append(out, models.LogEntry{
				Type:      e.Type,
				Action:    e.Action,
				Title:     e.Title,
				PageID:    e.PageID,
				Timestamp: ts,
				Comment:   e.Comment,
				Target:    e.Params.TargetTitle,
			})
		}
		return q.Limit <= 0 || len(out) < q.Limit, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch logs: %w", err)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Save replaces the text of title.
func (c *Client) Save(ctx context.Context, title, text, summary string, minor bool) error {
	token, err := c.csrfToken(ctx)
	if err != nil {
		return err
	}
	params := url.Values{
		"action":  {"edit"},
		"title":   {title},
		"text":    {text},
		"summary": {summary},
		"bot":     {"1"},
		"token":   {token},
	}
	if minor {
		params.Set("minor", "1")
	} else {
		params.Set("notminor", "1")
	}
	resp, err := c.do(ctx, http.MethodPost, params)
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", title, err)
	}
	if resp.Edit == nil || resp.Edit.Result != "Success" {
		return fmt.Errorf("failed to save %s: unexpected edit result", title)
	}
	c.log.Info().Str("title", title).Str("summary", summary).Msg("saved page")
	return nil
}

// Delete deletes title with the given reason.
func (c *Client) Delete(ctx context.Context, title, reason string) error {
	token, err := c.csrfToken(ctx)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPost, url.Values{
		"action": {"delete"},
		"title":  {title},
		"reason": {reason},
		"token":  {token},
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", title, err)
	}
	if resp.Delete == nil {
		return fmt.Errorf("failed to delete %s: unexpected response", title)
	}
	c.log.Info().Str("title", title).Str("reason", reason).Msg("deleted page")
	return nil
}

func (c *Client) pageInfo(ctx context.Context, title string) (*apiPage, error) {
	resp, err := c.do(ctx, http.MethodGet, url.Values{
		"action": {"query"},
		"prop":   {"info"},
		"titles": {title},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch info of %s: %w", title, err)
	}
	if resp.Query == nil || len(resp.Query.Pages) == 0 {
		return nil, fmt.Errorf("failed to fetch info of %s: empty response", title)
	}
	return &resp.Query.Pages[0], nil
}

func (c *Client) csrfToken(ctx context.Context) (string, error) {
	if c.csrf != "" {
		return c.csrf, nil
	}
	token, err := c.token(ctx, "csrf")
	if err != nil {
		return "", err
	}
	c.csrf = token
	return token, nil
}

func (c *Client) token(ctx context.Context, kind string) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, url.Values{
		"action": {"query"},
		"meta":   {"tokens"},
		"type":   {kind},
	})
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s token: %w", kind, err)
	}
	if resp.Query == nil || resp.Query.Tokens == nil {
		return "", fmt.Errorf("failed to fetch %s token: empty response", kind)
	}
	if kind == "login" {
		return resp.Query.Tokens.LoginToken, nil
	}
	return resp.Query.Tokens.CSRFToken, nil
}

// query runs a query module and follows continuation while fn asks for more.
func (c *Client) query(ctx context.Context, params url.Values, fn func(*queryResult) (bool, error)) error {
	for {
		resp, err := c.do(ctx, http.MethodGet, params)
		if err != nil {
			return err
		}
		more := true
		if resp.Query != nil {
			if more, err = fn(resp.Query); err != nil {
				return err
			}
		}
		if !more || len(resp.Continue) == 0 {
			return nil
		}
		for k, v := range resp.Continue {
			params.Set(k, fmt.Sprint(v))
		}
	}
}

func (c *Client) do(ctx context.Context, method string, params url.Values) (*response, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	params.Set("format", "json")
	params.Set("formatversion", "2")

	var req *http.Request
	var err error
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, method, c.apiURL, strings.NewReader(params.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.apiURL+"?"+params.Encode(), nil)
	}
	if err != nil {
		return nil, err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	c.log.Trace().Str("method", method).Str("action", params.Get("action")).Msg("api request")
	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected http status %d", res.StatusCode)
	}

	var out response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode api response: %w", err)
	}
	if out.Error != nil {
		return nil, out.Error
	}
	return &out, nil
}

func parseTimestamp(s string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return ts.UTC(), nil
}

func stripNamespace(title string, ns int) string {
	if ns == 0 {
		return title
	}
	if i := strings.IndexByte(title, ':'); i >= 0 {
		return title[i+1:]
	}
	return title
}
