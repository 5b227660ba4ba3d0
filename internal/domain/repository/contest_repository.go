package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"tle_zone_sweeper/internal/common"
	"tle_zone_sweeper/internal/domain/model"
)

var contestColumns = []string{"id", "title", "start_time", "end_time", "hidden", "deleted", "leaderboard"}

func scanContest(row interface{ Scan(...any) error }, c *model.Contest) error {
	return row.Scan(&c.ID, &c.Title, &c.StartTime, &c.EndTime, &c.Hidden, &c.Deleted, &c.LeaderboardPublished)
}

func (r *pgStore) GetContest(ctx context.Context, id string) (*model.Contest, error) {
	query, args, err := psql.Select(contestColumns...).From("contests").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("pgStore.GetContest: build query: %w", err)
	}
	contest := &model.Contest{}
	if err := scanContest(r.db.QueryRowContext(ctx, query, args...), contest); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.Errorf("contest %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("pgStore.GetContest: %w", err)
	}
	return contest, nil
}

func (r *pgStore) ListContestsActiveOrRecentlyEnded(ctx context.Context, now time.Time, window time.Duration) ([]model.Contest, error) {
	query, args, err := psql.Select(contestColumns...).
		From("contests").
		Where(sq.Gt{"end_time": now.Add(-window)}).
		Where(sq.Eq{"deleted": false}).
		OrderBy("start_time", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("pgStore.ListContestsActiveOrRecentlyEnded: build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgStore.ListContestsActiveOrRecentlyEnded: %w", err)
	}
	defer rows.Close()

	var contests []model.Contest
	for rows.Next() {
		var c model.Contest
		if err := scanContest(rows, &c); err != nil {
			return nil, fmt.Errorf("pgStore.ListContestsActiveOrRecentlyEnded: scan: %w", err)
		}
		contests = append(contests, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgStore.ListContestsActiveOrRecentlyEnded: %w", err)
	}
	return contests, nil
}

func (r *pgStore) UpsertContestSubmission(ctx context.Context, userID, problemID, contestID, submissionID string, points int) error {
	query := `INSERT INTO contest_submissions (id, user_id, problem_id, contest_id, submission_id, points)
	          VALUES ($1, $2, $3, $4, $5, $6)
	          ON CONFLICT (user_id, problem_id, contest_id)
	          DO UPDATE SET points = EXCLUDED.points, submission_id = EXCLUDED.submission_id, updated_at = now()`
	_, err := r.db.ExecContext(ctx, query, uuid.NewString(), userID, problemID, contestID, submissionID, points)
	if err != nil {
		return fmt.Errorf("pgStore.UpsertContestSubmission: %w", common.MapPgError(err))
	}
	return nil
}
