package models

// Stats represents run statistics
type Stats struct {
	RunID      string
	TotalFiles int64
	Deleted    int64
	Tagged     int64
	Skipped    int64
	Eligible   int64
	Failed     int64
	ByReason   map[string]int64
}

// Add counts one outcome.
func (s *Stats) Add(o Outcome) {
	s.TotalFiles++
	switch o.Status {
	case StatusDeleted:
		s.Deleted++
	case StatusTagged:
		s.Tagged++
	case StatusSkipped:
		s.Skipped++
	case StatusEligible:
		s.Eligible++
	case StatusFailed:
		s.Failed++
	}
	if s.ByReason == nil {
		s.ByReason = map[string]int64{}
	}
	for _, code := range o.Reasons {
		s.ByReason[code]++
	}
}
