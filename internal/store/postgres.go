package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds every statement; it runs against the pool or an open tx.
type queries struct {
	q querier
}

type PostgresStore struct {
	queries
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{queries: queries{q: db}, db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InTx runs fn in a SERIALIZABLE transaction. Serialization failures,
// deadlocks and unique violations (including deferred position checks at
// commit) are returned as ErrConflict.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return classify(fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&postgresTx{queries: queries{q: tx}}); err != nil {
		return classify(err)
	}
	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

type postgresTx struct {
	queries
}

func classify(err error) error {
	if errors.Is(err, ErrConflict) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.SQLState() {
		case "40001", "40P01", "23505":
			return fmt.Errorf("%w: %w", ErrConflict, err)
		}
	}
	return err
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("read %s: %w", what, err)
}

func expectRow(res sql.Result, err error, what string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func (s queries) GetUser(ctx context.Context, userID string) (User, error) {
	var u User
	err := s.q.QueryRowContext(ctx, `SELECT id, subject, name, email, created_at FROM users WHERE id=$1`, userID).
		Scan(&u.ID, &u.Subject, &u.Name, &u.Email, &u.CreatedAt)
	if err != nil {
		return User{}, notFound(err, "user")
	}
	return u, nil
}

func (s queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := s.q.QueryRowContext(ctx, `SELECT id, subject, name, email, created_at FROM users WHERE LOWER(email)=LOWER($1)`, email).
		Scan(&u.ID, &u.Subject, &u.Name, &u.Email, &u.CreatedAt)
	if err != nil {
		return User{}, notFound(err, "user")
	}
	return u, nil
}

func (s queries) UserIDBySubject(ctx context.Context, subject string) (string, error) {
	var id string
	if err := s.q.QueryRowContext(ctx, `SELECT id FROM users WHERE subject=$1`, subject).Scan(&id); err != nil {
		return "", notFound(err, "user")
	}
	return id, nil
}

func (s queries) InsertUser(ctx context.Context, user User) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO users (id, subject, name, email) VALUES ($1, $2, $3, $4)`,
		user.ID, user.Subject, user.Name, user.Email)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s queries) GetTeam(ctx context.Context, teamID string) (Team, error) {
	var t Team
	err := s.q.QueryRowContext(ctx, `SELECT id, name, owner_id, created_at FROM teams WHERE id=$1`, teamID).
		Scan(&t.ID, &t.Name, &t.OwnerID, &t.CreatedAt)
	if err != nil {
		return Team{}, notFound(err, "team")
	}
	return t, nil
}

func (s queries) InsertTeam(ctx context.Context, team Team) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO teams (id, name, owner_id) VALUES ($1, $2, $3)`, team.ID, team.Name, team.OwnerID)
	if err != nil {
		return fmt.Errorf("insert team: %w", err)
	}
	return nil
}

func (s queries) UpdateTeam(ctx context.Context, teamID, name string) error {
	res, err := s.q.ExecContext(ctx, `UPDATE teams SET name=$2 WHERE id=$1`, teamID, name)
	return expectRow(res, err, "update team")
}

func (s queries) DeleteTeam(ctx context.Context, teamID string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM teams WHERE id=$1`, teamID)
	return expectRow(res, err, "delete team")
}

const memberColumns = `id, user_id, team_id, role_id, invite_confirmed, created_at`

func scanMember(row interface{ Scan(...any) error }) (TeamMember, error) {
	var m TeamMember
	err := row.Scan(&m.ID, &m.UserID, &m.TeamID, &m.RoleID, &m.InviteConfirmed, &m.CreatedAt)
	return m, err
}

func (s queries) GetMember(ctx context.Context, memberID string) (TeamMember, error) {
	m, err := scanMember(s.q.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM team_members WHERE id=$1`, memberID))
	if err != nil {
		return TeamMember{}, notFound(err, "team member")
	}
	return m, nil
}

func (s queries) FindMember(ctx context.Context, teamID, userID string) (TeamMember, error) {
	m, err := scanMember(s.q.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM team_members WHERE team_id=$1 AND user_id=$2`, teamID, userID))
	if err != nil {
		return TeamMember{}, notFound(err, "team member")
	}
	return m, nil
}

func (s queries) ListMembers(ctx context.Context, teamID string) ([]TeamMember, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+memberColumns+` FROM team_members WHERE team_id=$1 ORDER BY created_at, id`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list team members: %w", err)
	}
	defer rows.Close()

	var out []TeamMember
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan team member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s queries) InsertMember(ctx context.Context, member TeamMember) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO team_members (id, user_id, team_id, role_id, invite_confirmed)
		VALUES ($1, $2, $3, $4, $5)
	`, member.ID, member.UserID, member.TeamID, member.RoleID, member.InviteConfirmed)
	if err != nil {
		return fmt.Errorf("insert team member: %w", err)
	}
	return nil
}

func (s queries) ConfirmMember(ctx context.Context, memberID string) error {
	res, err := s.q.ExecContext(ctx, `UPDATE team_members SET invite_confirmed=TRUE WHERE id=$1`, memberID)
	return expectRow(res, err, "confirm team member")
}

func (s queries) UpdateMemberRole(ctx context.Context, memberID string, roleID int64) error {
	res, err := s.q.ExecContext(ctx, `UPDATE team_members SET role_id=$2 WHERE id=$1`, memberID, roleID)
	return expectRow(res, err, "update member role")
}

func (s queries) DeleteMember(ctx context.Context, memberID string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM team_members WHERE id=$1`, memberID)
	return expectRow(res, err, "delete team member")
}

func (s queries) GetRole(ctx context.Context, roleID int64) (Role, error) {
	var r Role
	err := s.q.QueryRowContext(ctx, `SELECT id, name_id, display_name, priority FROM roles WHERE id=$1`, roleID).
		Scan(&r.ID, &r.NameID, &r.DisplayName, &r.Priority)
	if err != nil {
		return Role{}, notFound(err, "role")
	}
	return r, nil
}

func (s queries) GetRoleByNameID(ctx context.Context, nameID string) (Role, error) {
	var r Role
	err := s.q.QueryRowContext(ctx, `SELECT id, name_id, display_name, priority FROM roles WHERE name_id=$1`, nameID).
		Scan(&r.ID, &r.NameID, &r.DisplayName, &r.Priority)
	if err != nil {
		return Role{}, notFound(err, "role")
	}
	return r, nil
}

func (s queries) PermissionID(ctx context.Context, name string) (int64, error) {
	var id int64
	if err := s.q.QueryRowContext(ctx, `SELECT id FROM permissions WHERE name=$1`, name).Scan(&id); err != nil {
		return 0, notFound(err, "permission "+name)
	}
	return id, nil
}

func (s queries) RoleHasPermission(ctx context.Context, roleID int64, permission string) (bool, error) {
	var granted bool
	err := s.q.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM role_permissions rp
			JOIN permissions p ON p.id = rp.permission_id
			WHERE rp.role_id = $1 AND p.name = $2
		)
	`, roleID, permission).Scan(&granted)
	if err != nil {
		return false, fmt.Errorf("check role permission: %w", err)
	}
	return granted, nil
}

func (s queries) RolesAtOrBelowPriority(ctx context.Context, minPriority int) ([]Role, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, name_id, display_name, priority FROM roles
		WHERE priority >= $1
		ORDER BY priority, id
	`, minPriority)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	var out []Role
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ID, &r.NameID, &r.DisplayName, &r.Priority); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s queries) GetProject(ctx context.Context, projectID string) (Project, error) {
	var p Project
	err := s.q.QueryRowContext(ctx, `SELECT id, team_id, name, created_at FROM projects WHERE id=$1`, projectID).
		Scan(&p.ID, &p.TeamID, &p.Name, &p.CreatedAt)
	if err != nil {
		return Project{}, notFound(err, "project")
	}
	return p, nil
}

func (s queries) LockProject(ctx context.Context, projectID string) error {
	var id string
	if err := s.q.QueryRowContext(ctx, `SELECT id FROM projects WHERE id=$1 FOR UPDATE`, projectID).Scan(&id); err != nil {
		return notFound(err, "project")
	}
	return nil
}

func (s queries) InsertProject(ctx context.Context, project Project) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO projects (id, team_id, name) VALUES ($1, $2, $3)`, project.ID, project.TeamID, project.Name)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s queries) UpdateProject(ctx context.Context, projectID, name string) error {
	res, err := s.q.ExecContext(ctx, `UPDATE projects SET name=$2 WHERE id=$1`, projectID, name)
	return expectRow(res, err, "update project")
}

func (s queries) DeleteProject(ctx context.Context, projectID string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, projectID)
	return expectRow(res, err, "delete project")
}

func (s queries) GetList(ctx context.Context, listID string) (List, error) {
	var l List
	err := s.q.QueryRowContext(ctx, `SELECT id, project_id, name, position, created_at FROM lists WHERE id=$1`, listID).
		Scan(&l.ID, &l.ProjectID, &l.Name, &l.Position, &l.CreatedAt)
	if err != nil {
		return List{}, notFound(err, "list")
	}
	return l, nil
}

func (s queries) ListsByProject(ctx context.Context, projectID string) ([]List, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, project_id, name, position, created_at FROM lists
		WHERE project_id=$1
		ORDER BY position, id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list lists: %w", err)
	}
	defer rows.Close()

	var out []List
	for rows.Next() {
		var l List
		if err := rows.Scan(&l.ID, &l.ProjectID, &l.Name, &l.Position, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan list: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s queries) InsertList(ctx context.Context, list List) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO lists (id, project_id, name, position) VALUES ($1, $2, $3, $4)`,
		list.ID, list.ProjectID, list.Name, list.Position)
	if err != nil {
		return fmt.Errorf("insert list: %w", err)
	}
	return nil
}

func (s queries) UpdateList(ctx context.Context, listID, name string) error {
	res, err := s.q.ExecContext(ctx, `UPDATE lists SET name=$2 WHERE id=$1`, listID, name)
	return expectRow(res, err, "update list")
}

func (s queries) DeleteList(ctx context.Context, listID string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM lists WHERE id=$1`, listID)
	return expectRow(res, err, "delete list")
}

func (s queries) SetListPosition(ctx context.Context, listID string, position int) error {
	res, err := s.q.ExecContext(ctx, `UPDATE lists SET position=$2 WHERE id=$1`, listID, position)
	return expectRow(res, err, "set list position")
}

const taskColumns = `id, project_id, list_id, title, description, assignee_id, position, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (Task, error) {
	var t Task
	var listID, assigneeID sql.NullString
	if err := row.Scan(&t.ID, &t.ProjectID, &listID, &t.Title, &t.Description, &assigneeID, &t.Position, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Task{}, err
	}
	if listID.Valid {
		t.ListID = &listID.String
	}
	if assigneeID.Valid {
		t.AssigneeID = &assigneeID.String
	}
	return t, nil
}

func (s queries) GetTask(ctx context.Context, taskID string) (Task, error) {
	t, err := scanTask(s.q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, taskID))
	if err != nil {
		return Task{}, notFound(err, "task")
	}
	return t, nil
}

func (s queries) TasksInScope(ctx context.Context, projectID string, listID *string) ([]Task, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if listID == nil {
		rows, err = s.q.QueryContext(ctx, `
			SELECT `+taskColumns+` FROM tasks
			WHERE project_id=$1 AND list_id IS NULL
			ORDER BY position, id
		`, projectID)
	} else {
		rows, err = s.q.QueryContext(ctx, `
			SELECT `+taskColumns+` FROM tasks
			WHERE project_id=$1 AND list_id=$2
			ORDER BY position, id
		`, projectID, *listID)
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s queries) InsertTask(ctx context.Context, task Task) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO tasks (id, project_id, list_id, title, description, assignee_id, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, task.ID, task.ProjectID, task.ListID, task.Title, task.Description, task.AssigneeID, task.Position)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// UpdateTask writes the editable fields; placement goes through
// SetTaskPlacement.
func (s queries) UpdateTask(ctx context.Context, task Task) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE tasks SET title=$2, description=$3, assignee_id=$4, updated_at=NOW()
		WHERE id=$1
	`, task.ID, task.Title, task.Description, task.AssigneeID)
	return expectRow(res, err, "update task")
}

func (s queries) DeleteTask(ctx context.Context, taskID string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM tasks WHERE id=$1`, taskID)
	return expectRow(res, err, "delete task")
}

func (s queries) SetTaskPlacement(ctx context.Context, taskID string, listID *string, position int) error {
	res, err := s.q.ExecContext(ctx, `UPDATE tasks SET list_id=$2, position=$3, updated_at=NOW() WHERE id=$1`, taskID, listID, position)
	return expectRow(res, err, "set task placement")
}

func (s queries) GetComment(ctx context.Context, commentID string) (Comment, error) {
	var c Comment
	err := s.q.QueryRowContext(ctx, `SELECT id, task_id, author_id, body, created_at, updated_at FROM comments WHERE id=$1`, commentID).
		Scan(&c.ID, &c.TaskID, &c.AuthorID, &c.Body, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Comment{}, notFound(err, "comment")
	}
	return c, nil
}

func (s queries) CommentsByTask(ctx context.Context, taskID string) ([]Comment, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, task_id, author_id, body, created_at, updated_at FROM comments
		WHERE task_id=$1
		ORDER BY created_at, id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var out []Comment
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.TaskID, &c.AuthorID, &c.Body, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s queries) InsertComment(ctx context.Context, comment Comment) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO comments (id, task_id, author_id, body) VALUES ($1, $2, $3, $4)`,
		comment.ID, comment.TaskID, comment.AuthorID, comment.Body)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s queries) UpdateComment(ctx context.Context, commentID, body string) error {
	res, err := s.q.ExecContext(ctx, `UPDATE comments SET body=$2, updated_at=NOW() WHERE id=$1`, commentID, body)
	return expectRow(res, err, "update comment")
}

func (s queries) DeleteComment(ctx context.Context, commentID string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM comments WHERE id=$1`, commentID)
	return expectRow(res, err, "delete comment")
}

func (s queries) InsertActivity(ctx context.Context, entry ActivityLog) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO activity_logs (team_id, permission_id, member_id, description)
		VALUES ($1, $2, $3, $4)
	`, entry.TeamID, entry.PermissionID, entry.MemberID, entry.Description)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (s queries) ListActivity(ctx context.Context, teamID string, limit int) ([]ActivityLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT a.id, a.team_id, a.permission_id, p.name, a.member_id, a.description, a.created_at
		FROM activity_logs a
		JOIN permissions p ON p.id = a.permission_id
		WHERE a.team_id = $1
		ORDER BY a.created_at DESC, a.id DESC
		LIMIT $2
	`, teamID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	var out []ActivityLog
	for rows.Next() {
		var a ActivityLog
		if err := rows.Scan(&a.ID, &a.TeamID, &a.PermissionID, &a.Permission, &a.MemberID, &a.Description, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
