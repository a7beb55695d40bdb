package repo

import (
	"context"
	"database/sql"

	"auditflow/internal/domain"
)

func (r Repo) InsertTeamMemberTx(ctx context.Context, tx *sql.Tx, m domain.TeamMember) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO team_members(id,project_id,user_ref,role,created_at) VALUES (?,?,?,?,?)`,
		m.ID, m.ProjectID, m.UserRef, m.Role, m.CreatedAt)
	return err
}

func scanMember(row rowScanner) (domain.TeamMember, error) {
	var m domain.TeamMember
	err := row.Scan(&m.ID, &m.ProjectID, &m.UserRef, &m.Role, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

const memberColumns = `id,project_id,user_ref,role,created_at`

func (r Repo) GetTeamMember(ctx context.Context, id string) (domain.TeamMember, error) {
	return scanMember(r.DB.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM team_members WHERE id=?`, id))
}

func (r Repo) GetTeamMemberByUser(ctx context.Context, projectID, userRef string) (domain.TeamMember, error) {
	return scanMember(r.DB.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM team_members WHERE project_id=? AND user_ref=?`, projectID, userRef))
}

func (r Repo) ListTeamMembers(ctx context.Context, projectID string) ([]domain.TeamMember, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+memberColumns+` FROM team_members WHERE project_id=? ORDER BY created_at ASC, id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TeamMember
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) MemberExistsTx(ctx context.Context, tx *sql.Tx, projectID, memberID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM team_members WHERE project_id=? AND id=?`, projectID, memberID).Scan(&n)
	return n > 0, err
}
