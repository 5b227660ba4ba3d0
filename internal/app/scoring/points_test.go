package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"tle_zone_sweeper/internal/domain/model"
)

var (
	start = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	end   = start.Add(2 * time.Hour)
)

func TestComputePoints_Boundaries(t *testing.T) {
	tests := []struct {
		name       string
		difficulty model.Difficulty
		now        time.Time
		want       int
	}{
		{"easy at start doubles", model.DifficultyEasy, start, 500},
		{"medium at start doubles", model.DifficultyMedium, start, 1000},
		{"hard at end is base", model.DifficultyHard, end, 1000},
		{"medium halfway", model.DifficultyMedium, start.Add(time.Hour), 750},
		{"easy after end is base", model.DifficultyEasy, end.Add(time.Hour), 250},
		{"unknown difficulty", model.Difficulty("IMPOSSIBLE"), start, 0},
		{"missing difficulty", model.Difficulty(""), start, 0},
		{"lowercase tier", model.Difficulty("hard"), start, 2000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputePoints(tt.difficulty, tt.now, start, end))
		})
	}
}

func TestComputePoints_ZeroDurationContest(t *testing.T) {
	assert.Equal(t, 250, ComputePoints(model.DifficultyEasy, start, start, start))
	assert.Equal(t, 0.0, TimeBonus(start.Add(time.Minute), start, start))
}

func TestComputePoints_Rounding(t *testing.T) {
	// 1/3 of the window elapsed: 250 * (1 + 2/3) = 416.67
	now := start.Add(40 * time.Minute)
	assert.Equal(t, 417, ComputePoints(model.DifficultyEasy, now, start, end))
}

func TestComputePoints_MonotonicAndBounded(t *testing.T) {
	for _, d := range []model.Difficulty{model.DifficultyEasy, model.DifficultyMedium, model.DifficultyHard} {
		base := BasePoints(d)
		prev := 2*base + 1
		for elapsed := time.Duration(0); elapsed <= end.Sub(start); elapsed += 37 * time.Second {
			got := ComputePoints(d, start.Add(elapsed), start, end)
			assert.LessOrEqual(t, got, prev, "points must not increase with elapsed time (%s, %s)", d, elapsed)
			assert.GreaterOrEqual(t, got, base)
			assert.LessOrEqual(t, got, 2*base)
			prev = got
		}
	}
}

func TestTimeBonus_SubmissionBeforeStartUsesDistance(t *testing.T) {
	// Elapsed is an absolute distance, so being early costs bonus like being late.
	assert.InDelta(t, 0.5, TimeBonus(start.Add(-time.Hour), start, end), 1e-9)
}
