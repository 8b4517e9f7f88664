package repository

import "time"

// Problem is a judging target together with its ordered test cases.
type Problem struct {
	ID               int64
	Title            string
	Statement        string
	OwnerID          int64
	Visible          bool
	CPUTimeLimit     *float64 // seconds
	MemoryLimit      *int64   // KB
	AllowedLanguages []int
	SubmissionCount  int64
	AcceptedCount    int64
	TestCases        []TestCase
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AllowsLanguage reports whether languageID is in the allowed set.
// An empty set defers to the judge catalog and reports true here.
func (p *Problem) AllowsLanguage(languageID int) bool {
	if len(p.AllowedLanguages) == 0 {
		return true
	}
	for _, id := range p.AllowedLanguages {
		if id == languageID {
			return true
		}
	}
	return false
}

// TestCase is one weighted input/expected-output pair.
type TestCase struct {
	Ordinal        int
	Input          string
	ExpectedOutput string
	Points         int
}

// Counters are the running totals kept on a problem row.
type Counters struct {
	SubmissionCount int64 `json:"submission_count"`
	AcceptedCount   int64 `json:"accepted_count"`
}
