package models

import (
	"fmt"
	"sort"
)

// SkipReason is a cause that keeps a local file from being deleted
type SkipReason string

const (
	NotUsedFileImporter      SkipReason = "NotUsedFileImporter"
	InvalidCategory          SkipReason = "InvalidCategory"
	CommonsFileNotExists     SkipReason = "CommonsFileNotExists"
	UsedOldFileName          SkipReason = "UsedOldFileName"
	IncorrectCommonsFileName SkipReason = "IncorrectCommonsFileName"
	ChangedAfterExported     SkipReason = "ChangedAfterExported"
	NoticeOfExportation      SkipReason = "NoticeOfExportation"
	OtherIssue               SkipReason = "OtherIssue"
)

var reasonCodes = map[SkipReason]string{
	NotUsedFileImporter:      "A",
	InvalidCategory:          "B",
	CommonsFileNotExists:     "C",
	UsedOldFileName:          "D",
	IncorrectCommonsFileName: "E",
	ChangedAfterExported:     "F",
	NoticeOfExportation:      "G",
	OtherIssue:               "Z",
}

// Code returns the one-letter code the skip list uses for r.
func (r SkipReason) Code() string {
	return reasonCodes[r]
}

// ReasonFromCode maps a skip list code back to its reason.
func ReasonFromCode(code string) (SkipReason, error) {
	for r, c := range reasonCodes {
		if c == code {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown skip reason code %q", code)
}

// ReasonSet is an unordered set of skip reasons.
type ReasonSet map[SkipReason]struct{}

// NewReasonSet builds a set from the given reasons.
func NewReasonSet(reasons ...SkipReason) ReasonSet {
	s := make(ReasonSet, len(reasons))
	s.Add(reasons...)
	return s
}

func (s ReasonSet) Add(reasons ...SkipReason) {
	for _, r := range reasons {
		s[r] = struct{}{}
	}
}

func (s ReasonSet) Has(r SkipReason) bool {
	_, ok := s[r]
	return ok
}

// Only reports whether r is the single member of s.
func (s ReasonSet) Only(r SkipReason) bool {
	return len(s) == 1 && s.Has(r)
}

// Codes returns the sorted one-letter codes of the set.
func (s ReasonSet) Codes() []string {
	codes := make([]string, 0, len(s))
	for r := range s {
		codes = append(codes, r.Code())
	}
	sort.Strings(codes)
	return codes
}

// Sorted returns the reasons ordered by their code.
func (s ReasonSet) Sorted() []SkipReason {
	out := make([]SkipReason, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code() < out[j].Code() })
	return out
}

// SkipRecord collects why a local file was kept.
type SkipRecord struct {
	Title   string
	Reasons ReasonSet
	Remote  *RemoteFile
}
