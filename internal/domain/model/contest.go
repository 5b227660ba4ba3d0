package model

import "time"

type Contest struct {
	ID                   string    `json:"id"`
	Title                string    `json:"title"`
	StartTime            time.Time `json:"start_time"`
	EndTime              time.Time `json:"end_time"`
	Hidden               bool      `json:"hidden"`
	Deleted              bool      `json:"deleted"`
	LeaderboardPublished bool      `json:"leaderboard"` // one-way: set on first refresh
}

// EndedWithin reports whether the contest has not ended yet or ended less than window ago.
func (c Contest) EndedWithin(now time.Time, window time.Duration) bool {
	return c.EndTime.After(now.Add(-window))
}
