package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"auditflow/internal/domain"
)

const taskColumns = `id,step_id,name,position,is_required,client_interact,multiple_files,approval_roles_json,approval_type,completion_status,created_at,updated_at`

func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	roles, err := json.Marshal(domain.SortRoles(t.ApprovalRoles))
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.StepID, t.Name, t.Position, t.IsRequired, t.ClientInteract, t.MultipleFiles,
		string(roles), t.ApprovalType, t.CompletionStatus, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) UpdateTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	roles, err := json.Marshal(domain.SortRoles(t.ApprovalRoles))
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE tasks SET name=?, is_required=?, client_interact=?, multiple_files=?, approval_roles_json=?, approval_type=?, updated_at=? WHERE id=?`,
		t.Name, t.IsRequired, t.ClientInteract, t.MultipleFiles, string(roles), t.ApprovalType, t.UpdatedAt, t.ID)
	return err
}

func (r Repo) UpdateTaskCompletionTx(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET completion_status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	return err
}

// UpdateTaskPlacementTx re-points a task to a step and position; used by
// reorder moves.
func (r Repo) UpdateTaskPlacementTx(ctx context.Context, tx *sql.Tx, id, stepID string, position int) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET step_id=?, position=? WHERE id=?`, stepID, position, id)
	return err
}

func (r Repo) DeleteTaskTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var rolesJSON string
	err := row.Scan(&t.ID, &t.StepID, &t.Name, &t.Position, &t.IsRequired, &t.ClientInteract,
		&t.MultipleFiles, &rolesJSON, &t.ApprovalType, &t.CompletionStatus, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if err := json.Unmarshal([]byte(rolesJSON), &t.ApprovalRoles); err != nil {
		return t, err
	}
	if t.ApprovalRoles == nil {
		t.ApprovalRoles = []string{}
	}
	return t, nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
	if err != nil {
		return t, err
	}
	t.Workers, err = r.ListTaskWorkers(ctx, t.ID)
	return t, err
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) ListTasksByStep(ctx context.Context, stepID string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE step_id=? ORDER BY position ASC`, stepID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListProjectTasks returns every task of the project ordered by step
// position then task position.
func (r Repo) ListProjectTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, projectTasksQuery, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (r Repo) ListProjectTasksTx(ctx context.Context, tx *sql.Tx, projectID string) ([]domain.Task, error) {
	rows, err := tx.QueryContext(ctx, projectTasksQuery, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

const projectTasksQuery = `SELECT t.id,t.step_id,t.name,t.position,t.is_required,t.client_interact,t.multiple_files,t.approval_roles_json,t.approval_type,t.completion_status,t.created_at,t.updated_at
FROM tasks t JOIN steps s ON s.id=t.step_id
WHERE s.project_id=? ORDER BY s.position ASC, t.position ASC`

func collectTasks(rows *sql.Rows) ([]domain.Task, error) {
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) MaxTaskPositionTx(ctx context.Context, tx *sql.Tx, stepID string) (int, error) {
	var max int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position),0) FROM tasks WHERE step_id=?`, stepID).Scan(&max)
	return max, err
}

// --- workers ---

func (r Repo) SetTaskWorkersTx(ctx context.Context, tx *sql.Tx, taskID string, memberIDs []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_workers WHERE task_id=?`, taskID); err != nil {
		return err
	}
	for _, m := range memberIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_workers(task_id,member_id) VALUES (?,?)`, taskID, m); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ListTaskWorkers(ctx context.Context, taskID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT member_id FROM task_workers WHERE task_id=?`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
