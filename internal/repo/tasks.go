package repo

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"

	"leadline/internal/domain"
)

const taskColumns = `id,contact_id,assigned_to,title,priority,status,due_date,escalated_at,created_at,updated_at`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var contactID, dueDate, escalatedAt sql.NullString
	err := scan(&t.ID, &contactID, &t.AssignedTo, &t.Title, &t.Priority, &t.Status, &dueDate, &escalatedAt, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, classify(err)
	}
	t.ContactID = optionalString(contactID)
	t.DueDate = optionalString(dueDate)
	t.EscalatedAt = optionalString(escalatedAt)
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		t.ID, nullableStringPtr(t.ContactID), t.AssignedTo, t.Title, t.Priority, t.Status,
		nullableStringPtr(t.DueDate), nullableStringPtr(t.EscalatedAt), t.CreatedAt, t.UpdatedAt)
	return classify(err)
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

type TaskFilters struct {
	ContactID  string
	AssignedTo string
	Status     string
	Limit      int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	q := builder().Select("id", "contact_id", "assigned_to", "title", "priority", "status", "due_date", "escalated_at", "created_at", "updated_at").
		From("tasks").
		OrderBy("created_at DESC", "id DESC")
	if f.ContactID != "" {
		q = q.Where(sq.Eq{"contact_id": f.ContactID})
	}
	if f.AssignedTo != "" {
		q = q.Where(sq.Eq{"assigned_to": f.AssignedTo})
	}
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": f.Status})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, classify(rows.Err())
}

// OverdueCandidates returns pending tasks whose due date has passed and
// that have not been escalated yet.
func (r Repo) OverdueCandidates(ctx context.Context, now string) ([]domain.Task, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status='pending' AND due_date IS NOT NULL AND due_date < ? ORDER BY due_date ASC`, now)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, classify(rows.Err())
}

// MarkTaskOverdue flips a pending task to overdue exactly once: the status
// guard makes a repeated sweep a no-op for already-escalated tasks.
func (r Repo) MarkTaskOverdue(ctx context.Context, tx *sql.Tx, id, escalatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status='overdue', escalated_at=?, updated_at=? WHERE id=? AND status='pending'`,
		escalatedAt, escalatedAt, id)
	if err != nil {
		return false, classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CompleteTask marks a pending or overdue task done.
func (r Repo) CompleteTask(ctx context.Context, tx *sql.Tx, id, doneAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status='done', updated_at=? WHERE id=? AND status IN ('pending','overdue')`, doneAt, id)
	if err != nil {
		return false, classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
