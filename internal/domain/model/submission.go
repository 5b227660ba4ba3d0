package model

import "time"

type SubmissionStatus string

const (
	StatusPending    SubmissionStatus = "PENDING"
	StatusProcessing SubmissionStatus = "PROCESSING"
	StatusAccepted   SubmissionStatus = "AC"
	StatusRejected   SubmissionStatus = "REJECTED"
)

// IsTerminal reports whether the verdict can no longer change.
func (s SubmissionStatus) IsTerminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// Test case status ids as written by the judges.
const (
	TestCaseQueued     = 1
	TestCaseProcessing = 2
	TestCaseAccepted   = 3
	// Everything above 3 is a terminal failure (wrong answer, TLE, runtime error, ...).
)

type Submission struct {
	ID              string           `json:"id"`
	UserID          string           `json:"user_id"`
	ProblemID       string           `json:"problem_id"`
	Difficulty      Difficulty       `json:"difficulty"`
	ActiveContestID *string          `json:"active_contest_id,omitempty"` // nil for practice submissions
	Status          SubmissionStatus `json:"status"`
	TimeMs          *int             `json:"time_ms,omitempty"`
	MemoryKb        *int             `json:"memory_kb,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	TestCases       []TestCaseResult `json:"test_cases,omitempty"` // ordered by Index
}

type TestCaseResult struct {
	ID           string    `json:"id"`
	SubmissionID string    `json:"submission_id"`
	Index        int       `json:"index"`
	StatusID     int       `json:"status_id"`
	TimeMs       *int      `json:"time_ms,omitempty"`
	MemoryKb     *int      `json:"memory_kb,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (tc TestCaseResult) IsPending() bool {
	return tc.StatusID == TestCaseQueued || tc.StatusID == TestCaseProcessing
}

func (tc TestCaseResult) IsAccepted() bool {
	return tc.StatusID == TestCaseAccepted
}
