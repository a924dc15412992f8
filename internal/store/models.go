package store

import "time"

type User struct {
	ID        string
	Subject   string
	Name      string
	Email     string
	CreatedAt time.Time
}

type Role struct {
	ID          int64
	NameID      string
	DisplayName string
	Priority    int
}

type Permission struct {
	ID          int64
	Name        string
	Description string
}

type Team struct {
	ID        string
	Name      string
	OwnerID   string
	CreatedAt time.Time
}

// TeamMember links a user to a team with one role. Unconfirmed members are
// pending invites.
type TeamMember struct {
	ID              string
	UserID          string
	TeamID          string
	RoleID          int64
	InviteConfirmed bool
	CreatedAt       time.Time
}

type Project struct {
	ID        string
	TeamID    string
	Name      string
	CreatedAt time.Time
}

type List struct {
	ID        string
	ProjectID string
	Name      string
	Position  int
	CreatedAt time.Time
}

// Task belongs to a project and optionally to one of its lists. Tasks with
// a nil ListID are ordered among the project's other unlisted tasks.
type Task struct {
	ID          string
	ProjectID   string
	ListID      *string
	Title       string
	Description string
	AssigneeID  *string
	Position    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Comment struct {
	ID        string
	TaskID    string
	AuthorID  string
	Body      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ActivityLog rows are append-only. MemberID is the acting team member.
type ActivityLog struct {
	ID           int64
	TeamID       string
	PermissionID int64
	Permission   string
	MemberID     string
	Description  string
	CreatedAt    time.Time
}
