package models

import "time"

// Outcome statuses recorded in the run journal
const (
	StatusDeleted  = "deleted"
	StatusTagged   = "tagged"
	StatusSkipped  = "skipped"
	StatusEligible = "eligible"
	StatusFailed   = "failed"
)

// Outcome is the journal row written for every verified file
type Outcome struct {
	RunID       string
	Title       string
	Status      string
	RemoteTitle string
	Reasons     []string
	Detail      string
	UpdatedAt   time.Time
}

// Run describes a single invocation of the bot
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Candidates int
}
