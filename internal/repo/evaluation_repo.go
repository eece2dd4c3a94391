package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"
	"github.com/jmoiron/sqlx"

	"github.com/poleval/poleval/internal/model"
	"github.com/poleval/poleval/internal/pkg/dbutil"
	appErr "github.com/poleval/poleval/internal/pkg/errors"
)

var evaluationColumns = []string{
	"id", "session_id", "policy_file", "submission_file", "status",
	"total_checks", "passed", "failed", "partial", "raw_result", "ctime",
}

type EvaluationRepo struct {
	db *sql.DB
}

func NewEvaluationRepo(db *sql.DB) *EvaluationRepo {
	return &EvaluationRepo{db: db}
}

func (r *EvaluationRepo) Create(ctx context.Context, record *model.EvaluationRecord) error {
	data := map[string]interface{}{
		"id":              record.ID,
		"session_id":      record.SessionID,
		"policy_file":     record.PolicyFile,
		"submission_file": record.SubmissionFile,
		"status":          record.Status,
		"total_checks":    record.TotalChecks,
		"passed":          record.Passed,
		"failed":          record.Failed,
		"partial":         record.Partial,
		"raw_result":      record.RawResult,
		"ctime":           record.Ctime,
	}
	sqlStr, args, err := builder.BuildInsert("evaluations", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

func (r *EvaluationRepo) GetByID(ctx context.Context, id string) (*model.EvaluationRecord, error) {
	sqlStr, args, err := builder.BuildSelect("evaluations", map[string]interface{}{"id": id}, evaluationColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, appErr.ErrNotFound
	}
	return scanEvaluation(rows)
}

// ListBySession returns a session's evaluations, newest first.
func (r *EvaluationRepo) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]model.EvaluationRecord, error) {
	where := map[string]interface{}{
		"session_id": sessionID,
		"_orderby":   "ctime desc",
		"_limit":     []uint{uint(offset), uint(limit)},
	}
	sqlStr, args, err := builder.BuildSelect("evaluations", where, evaluationColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	return r.queryEvaluations(ctx, sqlStr, args)
}

func (r *EvaluationRepo) ListBySessionIDs(ctx context.Context, sessionIDs []string) ([]model.EvaluationRecord, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}
	sqlStr, args, err := sqlx.In(`
		SELECT id, session_id, policy_file, submission_file, status,
		       total_checks, passed, failed, partial, raw_result, ctime
		FROM evaluations
		WHERE session_id IN (?)
		ORDER BY ctime DESC
	`, sessionIDs)
	if err != nil {
		return nil, err
	}
	return r.queryEvaluations(ctx, sqlStr, args)
}

func (r *EvaluationRepo) CountBySession(ctx context.Context, sessionID string) (int, error) {
	const query = `SELECT COUNT(1) FROM evaluations WHERE session_id = ?`
	var count int
	if err := r.db.QueryRowContext(ctx, query, sessionID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteBefore drops records older than the cutoff and returns how many
// rows went away. The cleanup job pairs this with the session cache purge.
func (r *EvaluationRepo) DeleteBefore(ctx context.Context, cutoff int64) (int64, error) {
	const query = `DELETE FROM evaluations WHERE ctime < ?`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *EvaluationRepo) queryEvaluations(ctx context.Context, sqlStr string, args []interface{}) ([]model.EvaluationRecord, error) {
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []model.EvaluationRecord
	for rows.Next() {
		record, err := scanEvaluation(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

func scanEvaluation(rows *sql.Rows) (*model.EvaluationRecord, error) {
	var record model.EvaluationRecord
	if err := rows.Scan(
		&record.ID,
		&record.SessionID,
		&record.PolicyFile,
		&record.SubmissionFile,
		&record.Status,
		&record.TotalChecks,
		&record.Passed,
		&record.Failed,
		&record.Partial,
		&record.RawResult,
		&record.Ctime,
	); err != nil {
		return nil, err
	}
	return &record, nil
}
