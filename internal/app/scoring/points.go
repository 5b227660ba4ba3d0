// Package scoring turns an accepted contest submission into leaderboard points.
package scoring

import (
	"math"
	"strings"
	"time"

	"tle_zone_sweeper/internal/domain/model"
)

var basePoints = map[model.Difficulty]int{
	model.DifficultyEasy:   250,
	model.DifficultyMedium: 500,
	model.DifficultyHard:   1000,
}

// BasePoints returns the tier value of a difficulty, or 0 when it is unknown.
func BasePoints(difficulty model.Difficulty) int {
	return basePoints[model.Difficulty(strings.ToUpper(strings.TrimSpace(string(difficulty))))]
}

// TimeBonus decays linearly from 1 at contest start to 0 at contest end.
// A zero-length contest gives no bonus.
func TimeBonus(now, contestStart, contestEnd time.Time) float64 {
	duration := contestEnd.Sub(contestStart).Abs()
	if duration == 0 {
		return 0
	}
	elapsed := now.Sub(contestStart).Abs()
	return math.Max(0, float64(duration-elapsed)/float64(duration))
}

// ComputePoints scores a submission accepted at now: base * (1 + bonus), rounded.
func ComputePoints(difficulty model.Difficulty, now, contestStart, contestEnd time.Time) int {
	base := BasePoints(difficulty)
	if base == 0 {
		return 0
	}
	return int(math.Round(float64(base) * (1 + TimeBonus(now, contestStart, contestEnd))))
}
