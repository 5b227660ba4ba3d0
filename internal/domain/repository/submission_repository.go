package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"tle_zone_sweeper/internal/common"
	"tle_zone_sweeper/internal/domain/model"
)

//go:embed schema.sql
var schemaSQL string

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type pgStore struct {
	db *sql.DB
}

func NewPgStore(db *sql.DB) Store {
	return &pgStore{db: db}
}

// Migrate creates the tables the sweeper reads and writes if they are missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("repository.Migrate: %w", err)
	}
	return nil
}

func (r *pgStore) ListRecentSubmissions(ctx context.Context, limit int) ([]model.Submission, error) {
	query, args, err := psql.
		Select("s.id", "s.user_id", "s.problem_id", "p.difficulty", "s.active_contest_id",
			"s.status", "s.time", "s.memory", "s.created_at").
		From("submissions s").
		Join("problems p ON p.id = s.problem_id").
		Where(sq.Eq{"s.status": []string{string(model.StatusPending), string(model.StatusProcessing)}}).
		OrderBy("s.created_at DESC", "s.id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("pgStore.ListRecentSubmissions: build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgStore.ListRecentSubmissions: %w", err)
	}
	defer rows.Close()

	var subs []model.Submission
	index := make(map[string]int)
	for rows.Next() {
		var s model.Submission
		if err := rows.Scan(&s.ID, &s.UserID, &s.ProblemID, &s.Difficulty, &s.ActiveContestID,
			&s.Status, &s.TimeMs, &s.MemoryKb, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("pgStore.ListRecentSubmissions: scan: %w", err)
		}
		index[s.ID] = len(subs)
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgStore.ListRecentSubmissions: %w", err)
	}
	if len(subs) == 0 {
		return subs, nil
	}

	ids := make([]string, len(subs))
	for i, s := range subs {
		ids[i] = s.ID
	}
	tcRows, err := r.db.QueryContext(ctx, `
		SELECT id, submission_id, idx, status_id, time, memory, created_at
		FROM testcases
		WHERE submission_id = ANY($1)
		ORDER BY submission_id, idx`, ids)
	if err != nil {
		return nil, fmt.Errorf("pgStore.ListRecentSubmissions: testcases: %w", err)
	}
	defer tcRows.Close()

	for tcRows.Next() {
		var tc model.TestCaseResult
		if err := tcRows.Scan(&tc.ID, &tc.SubmissionID, &tc.Index, &tc.StatusID, &tc.TimeMs, &tc.MemoryKb, &tc.CreatedAt); err != nil {
			return nil, fmt.Errorf("pgStore.ListRecentSubmissions: scan testcase: %w", err)
		}
		i := index[tc.SubmissionID]
		subs[i].TestCases = append(subs[i].TestCases, tc)
	}
	if err := tcRows.Err(); err != nil {
		return nil, fmt.Errorf("pgStore.ListRecentSubmissions: testcases: %w", err)
	}
	return subs, nil
}

func (r *pgStore) UpdateSubmissionVerdict(ctx context.Context, id string, status model.SubmissionStatus, timeMs *int, memoryKb *int) error {
	query := `UPDATE submissions
	          SET status = $1, time = COALESCE($2, time), memory = COALESCE($3, memory)
	          WHERE id = $4`
	res, err := r.db.ExecContext(ctx, query, status, timeMs, memoryKb, id)
	if err != nil {
		return fmt.Errorf("pgStore.UpdateSubmissionVerdict: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("pgStore.UpdateSubmissionVerdict: %w", err)
	}
	if n == 0 {
		return common.Errorf("submission %s: %w", id, common.ErrNotFound)
	}
	return nil
}
