package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"tle_zone_sweeper/internal/common"
	"tle_zone_sweeper/internal/domain/model"
)

func (r *pgStore) InContestTx(ctx context.Context, contestID string, fn func(tx LeaderboardTx) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("pgStore.InContestTx: begin: %w", err)
	}
	defer tx.Rollback()

	// Serialises refreshes of the same contest across every sweeper process.
	// Released automatically on commit or rollback.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, contestID); err != nil {
		return fmt.Errorf("pgStore.InContestTx: lock contest %s: %w", contestID, err)
	}

	if err := fn(&pgLeaderboardTx{tx: tx, contestID: contestID}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pgStore.InContestTx: commit: %w", err)
	}
	return nil
}

type pgLeaderboardTx struct {
	tx        *sql.Tx
	contestID string
}

func (t *pgLeaderboardTx) SumContestSubmissionPointsByUser(ctx context.Context) ([]model.UserPoints, error) {
	query := `SELECT user_id, COALESCE(SUM(points), 0)
	          FROM contest_submissions
	          WHERE contest_id = $1
	          GROUP BY user_id
	          ORDER BY user_id`
	rows, err := t.tx.QueryContext(ctx, query, t.contestID)
	if err != nil {
		return nil, fmt.Errorf("pgLeaderboardTx.SumContestSubmissionPointsByUser: %w", err)
	}
	defer rows.Close()

	var sums []model.UserPoints
	for rows.Next() {
		var up model.UserPoints
		if err := rows.Scan(&up.UserID, &up.Points); err != nil {
			return nil, fmt.Errorf("pgLeaderboardTx.SumContestSubmissionPointsByUser: scan: %w", err)
		}
		sums = append(sums, up)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgLeaderboardTx.SumContestSubmissionPointsByUser: %w", err)
	}
	return sums, nil
}

func (t *pgLeaderboardTx) UpsertContestPoints(ctx context.Context, userID string, points int) error {
	query := `INSERT INTO contest_points (id, contest_id, user_id, points, rank)
	          VALUES ($1, $2, $3, $4, 0)
	          ON CONFLICT (contest_id, user_id) DO UPDATE SET points = EXCLUDED.points`
	if _, err := t.tx.ExecContext(ctx, query, uuid.NewString(), t.contestID, userID, points); err != nil {
		return fmt.Errorf("pgLeaderboardTx.UpsertContestPoints: %w", common.MapPgError(err))
	}
	return nil
}

func (t *pgLeaderboardTx) ListContestPoints(ctx context.Context) ([]model.ContestPoints, error) {
	query := `SELECT id, contest_id, user_id, points, rank
	          FROM contest_points
	          WHERE contest_id = $1
	          ORDER BY points DESC, user_id ASC`
	rows, err := t.tx.QueryContext(ctx, query, t.contestID)
	if err != nil {
		return nil, fmt.Errorf("pgLeaderboardTx.ListContestPoints: %w", err)
	}
	defer rows.Close()

	var list []model.ContestPoints
	for rows.Next() {
		var cp model.ContestPoints
		if err := rows.Scan(&cp.ID, &cp.ContestID, &cp.UserID, &cp.Points, &cp.Rank); err != nil {
			return nil, fmt.Errorf("pgLeaderboardTx.ListContestPoints: scan: %w", err)
		}
		list = append(list, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgLeaderboardTx.ListContestPoints: %w", err)
	}
	return list, nil
}

func (t *pgLeaderboardTx) UpdateContestPointsRank(ctx context.Context, id string, rank int) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE contest_points SET rank = $1 WHERE id = $2 AND contest_id = $3`, rank, id, t.contestID)
	if err != nil {
		return fmt.Errorf("pgLeaderboardTx.UpdateContestPointsRank: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("pgLeaderboardTx.UpdateContestPointsRank: %w", err)
	}
	if n == 0 {
		return common.Errorf("contest points %s: %w", id, common.ErrNotFound)
	}
	return nil
}

func (t *pgLeaderboardTx) SetContestLeaderboardPublished(ctx context.Context) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `UPDATE contests SET leaderboard = TRUE WHERE id = $1 AND NOT leaderboard`, t.contestID)
	if err != nil {
		return false, fmt.Errorf("pgLeaderboardTx.SetContestLeaderboardPublished: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("pgLeaderboardTx.SetContestLeaderboardPublished: %w", err)
	}
	return n > 0, nil
}

func (t *pgLeaderboardTx) BumpLeaderboardVersion(ctx context.Context) (int64, error) {
	var version int64
	err := t.tx.QueryRowContext(ctx, `UPDATE contests SET leaderboard_version = leaderboard_version + 1
	                                  WHERE id = $1 RETURNING leaderboard_version`, t.contestID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, common.Errorf("contest %s: %w", t.contestID, common.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("pgLeaderboardTx.BumpLeaderboardVersion: %w", err)
	}
	return version, nil
}
