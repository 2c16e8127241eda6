package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"checkline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	var provider, fullName, url any
	if p.Repo != nil {
		provider, fullName, url = p.Repo.Provider, p.Repo.FullName, nullable(p.Repo.URL)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,title,description,owner_id,repo_provider,repo_full_name,repo_url,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.Title, nullable(p.Description), p.OwnerID, provider, fullName, url, p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,title,COALESCE(description,''),owner_id,COALESCE(repo_provider,''),COALESCE(repo_full_name,''),COALESCE(repo_url,''),created_at FROM projects WHERE id=?`, id)
	return scanProject(row)
}

func scanProject(row *sql.Row) (domain.Project, error) {
	var p domain.Project
	var provider, fullName, url string
	err := row.Scan(&p.ID, &p.Title, &p.Description, &p.OwnerID, &provider, &fullName, &url, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if fullName != "" {
		p.Repo = &domain.RepoRef{Provider: provider, FullName: fullName, URL: url}
	}
	return p, nil
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,title,COALESCE(description,''),owner_id,COALESCE(repo_provider,''),COALESCE(repo_full_name,''),COALESCE(repo_url,''),created_at FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		var provider, fullName, url string
		if err := rows.Scan(&p.ID, &p.Title, &p.Description, &p.OwnerID, &provider, &fullName, &url, &p.CreatedAt); err != nil {
			return nil, err
		}
		if fullName != "" {
			p.Repo = &domain.RepoRef{Provider: provider, FullName: fullName, URL: url}
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// LinkRepository attaches an external repository to a project.
func (r Repo) LinkRepository(ctx context.Context, projectID string, ref domain.RepoRef) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE projects SET repo_provider=?,repo_full_name=?,repo_url=? WHERE id=?`,
		ref.Provider, ref.FullName, nullable(ref.URL), projectID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const taskColumns = `id,project_id,title,COALESCE(description,''),COALESCE(acceptance_criteria,''),assignee_id,column_status,verification_status,check_status,COALESCE(check_url,''),COALESCE(check_last_run_at,''),COALESCE(branch,''),COALESCE(checklist_json,'[]'),created_at,updated_at`

func scanTask(scan func(...any) error) (domain.Task, error) {
	var t domain.Task
	var assignee sql.NullString
	var checklist string
	err := scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.AcceptanceCriteria,
		&assignee, &t.Column, &t.Verification, &t.RepoLink.CheckStatus, &t.RepoLink.CheckURL,
		&t.RepoLink.LastRunAt, &t.RepoLink.Branch, &checklist, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if assignee.Valid {
		t.AssigneeID = &assignee.String
	}
	if err := json.Unmarshal([]byte(checklist), &t.Checklist); err != nil {
		return t, fmt.Errorf("task %s checklist: %w", t.ID, err)
	}
	return t, nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row.Scan)
	if err != nil {
		return t, err
	}
	return r.fillRepoRef(ctx, t)
}

// GetTaskByBranch resolves a task from its repository and branch name, used
// for webhook correlation.
func (r Repo) GetTaskByBranch(ctx context.Context, repoFullName, branch string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks
WHERE branch=? AND project_id IN (SELECT id FROM projects WHERE repo_full_name=?)`, branch, repoFullName)
	t, err := scanTask(row.Scan)
	if err != nil {
		return t, err
	}
	return r.fillRepoRef(ctx, t)
}

func (r Repo) fillRepoRef(ctx context.Context, t domain.Task) (domain.Task, error) {
	p, err := r.GetProject(ctx, t.ProjectID)
	if err != nil {
		return t, err
	}
	if p.Repo != nil {
		t.RepoLink.Provider = p.Repo.Provider
		t.RepoLink.FullName = p.Repo.FullName
	}
	return t, nil
}

type TaskFilters struct {
	ProjectID  string
	Column     string
	AssigneeID string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE project_id=?`
	args := []any{f.ProjectID}
	if f.Column != "" {
		q += ` AND column_status=?`
		args = append(args, f.Column)
	}
	if f.AssigneeID != "" {
		q += ` AND assignee_id=?`
		args = append(args, f.AssigneeID)
	}
	q += ` ORDER BY created_at, id`
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
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
	return res, rows.Err()
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	checklist, err := json.Marshal(emptyIfNil(t.Checklist))
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO tasks(id,project_id,title,description,acceptance_criteria,assignee_id,column_status,verification_status,check_status,check_url,check_last_run_at,branch,checklist_json,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, t.Title, nullable(t.Description), nullable(t.AcceptanceCriteria),
		t.AssigneeID, t.Column, t.Verification, t.RepoLink.CheckStatus, nullable(t.RepoLink.CheckURL),
		nullable(t.RepoLink.LastRunAt), nullable(t.RepoLink.Branch), string(checklist), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	checklist, err := json.Marshal(emptyIfNil(t.Checklist))
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?,description=?,acceptance_criteria=?,assignee_id=?,column_status=?,verification_status=?,check_status=?,check_url=?,check_last_run_at=?,branch=?,checklist_json=?,updated_at=? WHERE id=?`,
		t.Title, nullable(t.Description), nullable(t.AcceptanceCriteria), t.AssigneeID,
		t.Column, t.Verification, t.RepoLink.CheckStatus, nullable(t.RepoLink.CheckURL),
		nullable(t.RepoLink.LastRunAt), nullable(t.RepoLink.Branch), string(checklist), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceTaskID rewrites a task's identifier in place, used by lazy
// normalization of malformed or colliding ids.
func (r Repo) ReplaceTaskID(ctx context.Context, tx *sql.Tx, oldID, newID string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET id=? WHERE id=?`, newID, oldID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimTask atomically assigns a task to a user, succeeding only if the task
// is still unassigned. Returns false when another assignment won the race.
func (r Repo) ClaimTask(ctx context.Context, tx *sql.Tx, taskID, userID, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET assignee_id=?,updated_at=? WHERE id=? AND assignee_id IS NULL`,
		userID, updatedAt, taskID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CountDoing counts tasks a user holds in the doing column across projects.
func (r Repo) CountDoing(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE assignee_id=? AND column_status=?`,
		userID, domain.ColumnDoing).Scan(&n)
	return n, err
}

func (r Repo) CountTasksByColumn(ctx context.Context, projectID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT column_status, COUNT(*) FROM tasks WHERE project_id=? GROUP BY column_status`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var col string
		var n int
		if err := rows.Scan(&col, &n); err != nil {
			return nil, err
		}
		counts[col] = n
	}
	return counts, rows.Err()
}

func (r Repo) GetMembership(ctx context.Context, projectID, userID string) (domain.RepoMembership, error) {
	var m domain.RepoMembership
	row := r.DB.QueryRowContext(ctx, `SELECT project_id,user_id,state,joined,COALESCE(invited_at,''),COALESCE(accepted_at,''),COALESCE(checked_at,'') FROM memberships WHERE project_id=? AND user_id=?`,
		projectID, userID)
	err := row.Scan(&m.ProjectID, &m.UserID, &m.State, &m.Joined, &m.InvitedAt, &m.AcceptedAt, &m.CheckedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

func (r Repo) UpsertMembership(ctx context.Context, m domain.RepoMembership) error {
	_, err := r.DB.ExecContext(ctx, `
INSERT INTO memberships(project_id,user_id,state,joined,invited_at,accepted_at,checked_at)
VALUES (?,?,?,?,?,?,?)
ON CONFLICT(project_id,user_id) DO UPDATE SET
  state=excluded.state, joined=excluded.joined, invited_at=excluded.invited_at,
  accepted_at=excluded.accepted_at, checked_at=excluded.checked_at`,
		m.ProjectID, m.UserID, m.State, m.Joined, nullable(m.InvitedAt), nullable(m.AcceptedAt), nullable(m.CheckedAt))
	return err
}

func (r Repo) EventsAfter(ctx context.Context, limit int, afterID int64, projectID string) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,COALESCE(project_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE id>? AND (?='' OR project_id=?) ORDER BY id LIMIT ?`,
		afterID, projectID, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProjectID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func emptyIfNil(items []domain.ChecklistItem) []domain.ChecklistItem {
	if items == nil {
		return []domain.ChecklistItem{}
	}
	return items
}
