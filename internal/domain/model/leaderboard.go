package model

import "time"

// ContestSubmission is the scoring record of one (user, problem, contest) triple.
type ContestSubmission struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	ProblemID    string    `json:"problem_id"`
	ContestID    string    `json:"contest_id"`
	SubmissionID string    `json:"submission_id"`
	Points       int       `json:"points"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ContestPoints is one leaderboard row.
type ContestPoints struct {
	ID        string `json:"id"`
	ContestID string `json:"contest_id"`
	UserID    string `json:"user_id"`
	Points    int    `json:"points"`
	Rank      int    `json:"rank"`
}

// UserPoints is a per-user sum of ContestSubmission points.
type UserPoints struct {
	UserID string
	Points int
}

type LeaderboardEntry struct {
	Rank   int    `json:"rank"`
	UserID string `json:"user_id"`
	Points int    `json:"points"`
}
