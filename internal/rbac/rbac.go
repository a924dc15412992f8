package rbac

type RoleName string
type Permission string

const (
	RoleOwner          RoleName = "owner"
	RoleProjectManager RoleName = "project_manager"
	RoleMember         RoleName = "member"
)

const (
	UpdateTeam       Permission = "update_team"
	DeleteTeam       Permission = "delete_team"
	InviteMember     Permission = "invite_member"
	KickMember       Permission = "kick_member"
	UpdateMemberRole Permission = "update_member_role"
	CreateProject    Permission = "create_project"
	UpdateProject    Permission = "update_project"
	DeleteProject    Permission = "delete_project"
	CreateList       Permission = "create_list"
	UpdateList       Permission = "update_list"
	DeleteList       Permission = "delete_list"
	MoveList         Permission = "move_list"
	CreateTask       Permission = "create_task"
	UpdateTask       Permission = "update_task"
	DeleteTask       Permission = "delete_task"
	MoveTask         Permission = "move_task"
	CreateComment    Permission = "create_comment"
	UpdateComment    Permission = "update_comment"
	DeleteComment    Permission = "delete_comment"
)

// ownershipOverrides lists the permissions a resource's assignee or author
// holds on that resource regardless of role.
var ownershipOverrides = map[Permission]struct{}{
	UpdateTask:    {},
	UpdateComment: {},
	DeleteComment: {},
}

// OwnershipOverridable reports whether ownership of the target resource may
// stand in for the permission.
func OwnershipOverridable(p Permission) bool {
	_, ok := ownershipOverrides[p]
	return ok
}
