package mediawiki

import (
	"errors"
	"fmt"
	"time"
)

// ErrMissing is returned when a requested page does not exist.
var ErrMissing = errors.New("page does not exist")

// APIError is an error object returned by the Action API.
type APIError struct {
	Code string `json:"code"`
	Info string `json:"info"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mediawiki api error %s: %s", e.Code, e.Info)
}

// RevisionQuery selects revisions of a single page.
type RevisionQuery struct {
	NewestFirst bool
	Content     bool
	User        string
	Limit       int
}

// LogQuery selects log events. Results are newest first.
type LogQuery struct {
	Type      string
	Action    string
	Title     string
	Tag       string
	Namespace *int
	Since     time.Time
	Limit     int
}

// Namespace numbers used by the bot.
const (
	NamespaceFile     = 6
	NamespaceTemplate = 10
	NamespaceCategory = 14
)

type response struct {
	Error    *APIError      `json:"error"`
	Continue map[string]any `json:"continue"`
	Query    *queryResult   `json:"query"`
	Login    *loginResult   `json:"login"`
	Edit     *editResult    `json:"edit"`
	Delete   *deleteResult  `json:"delete"`
}

type queryResult struct {
	Pages           []apiPage     `json:"pages"`
	Redirects       []apiRedirect `json:"redirects"`
	LogEvents       []apiLogEvent `json:"logevents"`
	ImageUsage      []apiTitle    `json:"imageusage"`
	Backlinks       []apiTitle    `json:"backlinks"`
	CategoryMembers []apiTitle    `json:"categorymembers"`
	Tokens          *apiTokens    `json:"tokens"`
}

type apiPage struct {
	PageID     int64          `json:"pageid"`
	NS         int            `json:"ns"`
	Title      string         `json:"title"`
	Missing    bool           `json:"missing"`
	Invalid    bool           `json:"invalid"`
	Redirect   bool           `json:"redirect"`
	Revisions  []apiRevision  `json:"revisions"`
	Categories []apiTitle     `json:"categories"`
	ImageInfo  []apiImageInfo `json:"imageinfo"`
}

type apiRevision struct {
	RevID     int64  `json:"revid"`
	Minor     bool   `json:"minor"`
	User      string `json:"user"`
	Timestamp string `json:"timestamp"`
	Comment   string `json:"comment"`
	Slots     struct {
		Main struct {
			Content string `json:"content"`
		} `json:"main"`
	} `json:"slots"`
}

type apiImageInfo struct {
	Timestamp string `json:"timestamp"`
	User      string `json:"user"`
	Size      int64  `json:"size"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Comment   string `json:"comment"`
	SHA1      string `json:"sha1"`
}

type apiRedirect struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type apiLogEvent struct {
	LogID     int64  `json:"logid"`
	NS        int    `json:"ns"`
	Title     string `json:"title"`
	PageID    int64  `json:"pageid"`
	Type      string `json:"type"`
	Action    string `json:"action"`
	User      string `json:"user"`
	Timestamp string `json:"timestamp"`
	Comment   string `json:"comment"`
	Params    struct {
		TargetTitle string `json:"target_title"`
	} `json:"params"`
}

type apiTitle struct {
	PageID   int64  `json:"pageid"`
	NS       int    `json:"ns"`
	Title    string `json:"title"`
	Redirect bool   `json:"redirect"`
}

type apiTokens struct {
	CSRFToken  string `json:"csrftoken"`
	LoginToken string `json:"logintoken"`
}

type loginResult struct {
	Result string `json:"result"`
	Reason string `json:"reason"`
}

type editResult struct {
	Result string `json:"result"`
}

type deleteResult struct {
	Title string `json:"title"`
	LogID int64  `json:"logid"`
}
