package repo

import (
	"context"
	"database/sql"

	"auditflow/internal/domain"
)

func (r Repo) InsertStepTx(ctx context.Context, tx *sql.Tx, s domain.Step) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO steps(id,project_id,name,position,created_at) VALUES (?,?,?,?,?)`,
		s.ID, s.ProjectID, s.Name, s.Position, s.CreatedAt)
	return err
}

func scanStep(row *sql.Row) (domain.Step, error) {
	var s domain.Step
	err := row.Scan(&s.ID, &s.ProjectID, &s.Name, &s.Position, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) GetStep(ctx context.Context, id string) (domain.Step, error) {
	return scanStep(r.DB.QueryRowContext(ctx, `SELECT id,project_id,name,position,created_at FROM steps WHERE id=?`, id))
}

func (r Repo) GetStepTx(ctx context.Context, tx *sql.Tx, id string) (domain.Step, error) {
	return scanStep(tx.QueryRowContext(ctx, `SELECT id,project_id,name,position,created_at FROM steps WHERE id=?`, id))
}

func (r Repo) ListSteps(ctx context.Context, projectID string) ([]domain.Step, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,name,position,created_at FROM steps WHERE project_id=? ORDER BY position ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSteps(rows)
}

func (r Repo) ListStepsTx(ctx context.Context, tx *sql.Tx, projectID string) ([]domain.Step, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id,project_id,name,position,created_at FROM steps WHERE project_id=? ORDER BY position ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSteps(rows)
}

func collectSteps(rows *sql.Rows) ([]domain.Step, error) {
	var res []domain.Step
	for rows.Next() {
		var s domain.Step
		if err := rows.Scan(&s.ID, &s.ProjectID, &s.Name, &s.Position, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) MaxStepPositionTx(ctx context.Context, tx *sql.Tx, projectID string) (int, error) {
	var max int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position),0) FROM steps WHERE project_id=?`, projectID).Scan(&max)
	return max, err
}

func (r Repo) RenameStepTx(ctx context.Context, tx *sql.Tx, id, name string) error {
	res, err := tx.ExecContext(ctx, `UPDATE steps SET name=? WHERE id=?`, name, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateStepPositionTx(ctx context.Context, tx *sql.Tx, id string, position int) error {
	_, err := tx.ExecContext(ctx, `UPDATE steps SET position=? WHERE id=?`, position, id)
	return err
}

// DeleteStepTx removes the step; tasks cascade via foreign keys.
func (r Repo) DeleteStepTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM steps WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
