package models

import "time"

// Revision is one edit of a wiki page.
type Revision struct {
	ID        int64
	Timestamp time.Time
	User      string
	Comment   string
	Minor     bool
	Text      string
}

// FileRevision is one uploaded binary version of a file page.
type FileRevision struct {
	Timestamp time.Time
	Width     int
	Height    int
	Size      int64
	SHA1      string
	User      string
	Comment   string
}

// LocalFile is a media page on the origin wiki that may be deleted
type LocalFile struct {
	Title       string
	Revisions   []Revision
	Categories  []string
	FileHistory []FileRevision
	SHA1        string
}

// RemoteFile is the shared-repository counterpart of a LocalFile.
type RemoteFile struct {
	Title  string
	Exists bool
}

// LogEntry is a single wiki log event (move, import, delete).
type LogEntry struct {
	Type      string
	Action    string
	Title     string
	PageID    int64
	Timestamp time.Time
	Comment   string
	Target    string
}

// DeletionSnapshot is what gets archived right before a local file is deleted.
type DeletionSnapshot struct {
	Title       string         `json:"title"`
	RemoteTitle string         `json:"remote_title"`
	Reason      string         `json:"reason"`
	Text        string         `json:"text"`
	Revisions   []Revision     `json:"revisions"`
	FileHistory []FileRevision `json:"file_history"`
	DeletedAt   time.Time      `json:"deleted_at"`
}
