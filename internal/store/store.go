package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrConflict = errors.New("store: conflicting concurrent update")
)

// Reader is the read side shared by the store and by open transactions.
type Reader interface {
	GetUser(ctx context.Context, userID string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	UserIDBySubject(ctx context.Context, subject string) (string, error)

	GetTeam(ctx context.Context, teamID string) (Team, error)
	GetMember(ctx context.Context, memberID string) (TeamMember, error)
	FindMember(ctx context.Context, teamID, userID string) (TeamMember, error)
	ListMembers(ctx context.Context, teamID string) ([]TeamMember, error)

	GetRole(ctx context.Context, roleID int64) (Role, error)
	GetRoleByNameID(ctx context.Context, nameID string) (Role, error)
	PermissionID(ctx context.Context, name string) (int64, error)
	RoleHasPermission(ctx context.Context, roleID int64, permission string) (bool, error)
	RolesAtOrBelowPriority(ctx context.Context, minPriority int) ([]Role, error)

	GetProject(ctx context.Context, projectID string) (Project, error)
	GetList(ctx context.Context, listID string) (List, error)
	GetTask(ctx context.Context, taskID string) (Task, error)
	GetComment(ctx context.Context, commentID string) (Comment, error)

	// ListsByProject returns the project's lists ordered by position.
	ListsByProject(ctx context.Context, projectID string) ([]List, error)
	// TasksInScope returns the tasks of one ordering scope ordered by
	// position: the tasks of listID, or the project's unlisted tasks when
	// listID is nil.
	TasksInScope(ctx context.Context, projectID string, listID *string) ([]Task, error)
	// CommentsByTask returns the task's comments oldest first.
	CommentsByTask(ctx context.Context, taskID string) ([]Comment, error)

	ListActivity(ctx context.Context, teamID string, limit int) ([]ActivityLog, error)
}

// Writer mutations are only reachable through a transaction, except
// InsertActivity which the recorder calls after commit.
type Writer interface {
	InsertUser(ctx context.Context, user User) error

	// LockProject serializes ordering changes within one project.
	LockProject(ctx context.Context, projectID string) error

	InsertTeam(ctx context.Context, team Team) error
	UpdateTeam(ctx context.Context, teamID, name string) error
	DeleteTeam(ctx context.Context, teamID string) error

	InsertMember(ctx context.Context, member TeamMember) error
	ConfirmMember(ctx context.Context, memberID string) error
	UpdateMemberRole(ctx context.Context, memberID string, roleID int64) error
	DeleteMember(ctx context.Context, memberID string) error

	InsertProject(ctx context.Context, project Project) error
	UpdateProject(ctx context.Context, projectID, name string) error
	DeleteProject(ctx context.Context, projectID string) error

	InsertList(ctx context.Context, list List) error
	UpdateList(ctx context.Context, listID, name string) error
	DeleteList(ctx context.Context, listID string) error
	SetListPosition(ctx context.Context, listID string, position int) error

	InsertTask(ctx context.Context, task Task) error
	UpdateTask(ctx context.Context, task Task) error
	DeleteTask(ctx context.Context, taskID string) error
	SetTaskPlacement(ctx context.Context, taskID string, listID *string, position int) error

	InsertComment(ctx context.Context, comment Comment) error
	UpdateComment(ctx context.Context, commentID, body string) error
	DeleteComment(ctx context.Context, commentID string) error
}

type ActivityWriter interface {
	InsertActivity(ctx context.Context, entry ActivityLog) error
}

type Tx interface {
	Reader
	Writer
}

// Store runs transactions. fn's changes are committed when it returns nil
// and rolled back otherwise.
type Store interface {
	Reader
	ActivityWriter
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
}
