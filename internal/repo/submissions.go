package repo

import (
	"context"
	"database/sql"

	"auditflow/internal/domain"
)

const submissionColumns = `id,task_id,seq,stage,notes,outcome_comment,client_comment,created_at`

func (r Repo) InsertSubmissionTx(ctx context.Context, tx *sql.Tx, s domain.Submission) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO submissions(`+submissionColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		s.ID, s.TaskID, s.Seq, s.Stage, nullable(s.Notes), nullable(s.OutcomeComment), nullable(s.ClientComment), s.CreatedAt)
	return err
}

func scanSubmission(row rowScanner) (domain.Submission, error) {
	var s domain.Submission
	var notes, outcome, client sql.NullString
	err := row.Scan(&s.ID, &s.TaskID, &s.Seq, &s.Stage, &notes, &outcome, &client, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Notes = notes.String
	s.OutcomeComment = outcome.String
	s.ClientComment = client.String
	return s, nil
}

// LatestSubmissionTx returns the highest-seq submission of the task, bare
// (no documents or approvals hydrated). ErrNotFound when the task has none.
func (r Repo) LatestSubmissionTx(ctx context.Context, tx *sql.Tx, taskID string) (domain.Submission, error) {
	return scanSubmission(tx.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE task_id=? ORDER BY seq DESC LIMIT 1`, taskID))
}

func (r Repo) GetSubmissionTx(ctx context.Context, tx *sql.Tx, id string) (domain.Submission, error) {
	return scanSubmission(tx.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id=?`, id))
}

// ListSubmissions returns the task's full submission history oldest first,
// hydrated with documents, client documents and approvals.
func (r Repo) ListSubmissions(ctx context.Context, taskID string) ([]domain.Submission, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE task_id=? ORDER BY seq ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []domain.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range subs {
		if subs[i].Documents, err = r.listDocuments(ctx, subs[i].ID); err != nil {
			return nil, err
		}
		if subs[i].ClientDocs, err = r.listClientDocuments(ctx, r.DB, subs[i].ID); err != nil {
			return nil, err
		}
		if subs[i].Approvals, err = r.listApprovals(ctx, r.DB, subs[i].ID); err != nil {
			return nil, err
		}
	}
	return subs, nil
}

func (r Repo) UpdateSubmissionStageTx(ctx context.Context, tx *sql.Tx, id, stage string) error {
	_, err := tx.ExecContext(ctx, `UPDATE submissions SET stage=? WHERE id=?`, stage, id)
	return err
}

func (r Repo) SetSubmissionOutcomeTx(ctx context.Context, tx *sql.Tx, id, stage, comment string) error {
	_, err := tx.ExecContext(ctx, `UPDATE submissions SET stage=?, outcome_comment=? WHERE id=?`, stage, nullable(comment), id)
	return err
}

func (r Repo) SetSubmissionClientCommentTx(ctx context.Context, tx *sql.Tx, id, comment string) error {
	_, err := tx.ExecContext(ctx, `UPDATE submissions SET client_comment=? WHERE id=?`, nullable(comment), id)
	return err
}

// --- documents ---

func (r Repo) InsertDocumentTx(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO documents(id,submission_id,name,file_ref,uploaded_by,created_at) VALUES (?,?,?,?,?,?)`,
		d.ID, d.SubmissionID, d.Name, d.FileRef, d.UploadedBy, d.CreatedAt)
	return err
}

func (r Repo) listDocuments(ctx context.Context, submissionID string) ([]domain.Document, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,submission_id,name,file_ref,uploaded_by,created_at FROM documents WHERE submission_id=? ORDER BY created_at ASC, id ASC`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []domain.Document
	for rows.Next() {
		var d domain.Document
		if err := rows.Scan(&d.ID, &d.SubmissionID, &d.Name, &d.FileRef, &d.UploadedBy, &d.CreatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (r Repo) CountDocumentsTx(ctx context.Context, tx *sql.Tx, submissionID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM documents WHERE submission_id=?`, submissionID).Scan(&n)
	return n, err
}

// TaskHasDocumentsTx reports whether any submission of the task carries at
// least one internal document.
func (r Repo) TaskHasDocumentsTx(ctx context.Context, tx *sql.Tx, taskID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM documents d JOIN submissions s ON s.id=d.submission_id WHERE s.task_id=?`, taskID).Scan(&n)
	return n > 0, err
}

// --- client documents ---

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r Repo) InsertClientDocumentTx(ctx context.Context, tx *sql.Tx, d domain.ClientDocument) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO client_documents(id,submission_id,description,file_ref,uploaded_at,created_at) VALUES (?,?,?,?,?,?)`,
		d.ID, d.SubmissionID, d.Description, nullableStringPtr(d.FileRef), nullableStringPtr(d.UploadedAt), d.CreatedAt)
	return err
}

func scanClientDocument(row rowScanner) (domain.ClientDocument, error) {
	var d domain.ClientDocument
	var fileRef, uploadedAt sql.NullString
	err := row.Scan(&d.ID, &d.SubmissionID, &d.Description, &fileRef, &uploadedAt, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	if fileRef.Valid {
		d.FileRef = &fileRef.String
	}
	if uploadedAt.Valid {
		d.UploadedAt = &uploadedAt.String
	}
	return d, nil
}

func (r Repo) GetClientDocumentTx(ctx context.Context, tx *sql.Tx, id string) (domain.ClientDocument, error) {
	return scanClientDocument(tx.QueryRowContext(ctx,
		`SELECT id,submission_id,description,file_ref,uploaded_at,created_at FROM client_documents WHERE id=?`, id))
}

func (r Repo) listClientDocuments(ctx context.Context, q querier, submissionID string) ([]domain.ClientDocument, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id,submission_id,description,file_ref,uploaded_at,created_at FROM client_documents WHERE submission_id=? ORDER BY created_at ASC, id ASC`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []domain.ClientDocument
	for rows.Next() {
		d, err := scanClientDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (r Repo) ListClientDocumentsTx(ctx context.Context, tx *sql.Tx, submissionID string) ([]domain.ClientDocument, error) {
	return r.listClientDocuments(ctx, tx, submissionID)
}

func (r Repo) SetClientDocumentFileTx(ctx context.Context, tx *sql.Tx, id, fileRef, uploadedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE client_documents SET file_ref=?, uploaded_at=? WHERE id=?`, fileRef, uploadedAt, id)
	return err
}

// --- approvals ---

func (r Repo) InsertApprovalTx(ctx context.Context, tx *sql.Tx, a domain.Approval) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO approvals(submission_id,role,actor_id,decision,comment,created_at) VALUES (?,?,?,?,?,?)`,
		a.SubmissionID, a.Role, a.ActorID, a.Decision, nullable(a.Comment), a.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) listApprovals(ctx context.Context, q querier, submissionID string) ([]domain.Approval, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id,submission_id,role,actor_id,decision,comment,created_at FROM approvals WHERE submission_id=? ORDER BY id ASC`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Approval
	for rows.Next() {
		var a domain.Approval
		var comment sql.NullString
		if err := rows.Scan(&a.ID, &a.SubmissionID, &a.Role, &a.ActorID, &a.Decision, &comment, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Comment = comment.String
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) ListApprovalsTx(ctx context.Context, tx *sql.Tx, submissionID string) ([]domain.Approval, error) {
	return r.listApprovals(ctx, tx, submissionID)
}

// RolesEverApprovedTx returns the set of roles that have recorded an
// approved decision on any submission of the task.
func (r Repo) RolesEverApprovedTx(ctx context.Context, tx *sql.Tx, taskID string) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT DISTINCT a.role FROM approvals a JOIN submissions s ON s.id=a.submission_id WHERE s.task_id=? AND a.decision=?`,
		taskID, domain.DecisionApproved)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ever := map[string]bool{}
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		ever[role] = true
	}
	return ever, rows.Err()
}
