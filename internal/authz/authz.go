// Package authz answers "may this user do this here" against current
// state. A Resolver reads through whatever it is given, normally the open
// transaction of the mutation it guards, and caches nothing.
package authz

import (
	"context"
	"errors"
	"fmt"

	"kanban/core/internal/rbac"
	"kanban/core/internal/store"
)

var (
	ErrNotAMember = errors.New("authz: not a member of the team")
	ErrDenied     = errors.New("authz: permission denied")
)

type Kind int

const (
	KindTeam Kind = iota
	KindProject
	KindList
	KindTask
	KindComment
)

func (k Kind) String() string {
	switch k {
	case KindTeam:
		return "team"
	case KindProject:
		return "project"
	case KindList:
		return "list"
	case KindTask:
		return "task"
	case KindComment:
		return "comment"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Scope names the entity a check is evaluated against. Membership is
// always decided on the team the entity belongs to.
type Scope struct {
	Kind Kind
	ID   string
}

func Team(id string) Scope    { return Scope{Kind: KindTeam, ID: id} }
func Project(id string) Scope { return Scope{Kind: KindProject, ID: id} }
func List(id string) Scope    { return Scope{Kind: KindList, ID: id} }
func Task(id string) Scope    { return Scope{Kind: KindTask, ID: id} }
func Comment(id string) Scope { return Scope{Kind: KindComment, ID: id} }

func (s Scope) String() string { return s.Kind.String() + ":" + s.ID }

// Reader is the subset of the store the resolver needs.
type Reader interface {
	GetTeam(ctx context.Context, teamID string) (store.Team, error)
	GetProject(ctx context.Context, projectID string) (store.Project, error)
	GetList(ctx context.Context, listID string) (store.List, error)
	GetTask(ctx context.Context, taskID string) (store.Task, error)
	GetComment(ctx context.Context, commentID string) (store.Comment, error)
	FindMember(ctx context.Context, teamID, userID string) (store.TeamMember, error)
	GetRole(ctx context.Context, roleID int64) (store.Role, error)
	RoleHasPermission(ctx context.Context, roleID int64, permission string) (bool, error)
	RolesAtOrBelowPriority(ctx context.Context, minPriority int) ([]store.Role, error)
}

// Ownership reports whether the member owns the resource being acted on,
// e.g. is the task's assignee or the comment's author.
type Ownership func(member store.TeamMember) bool

type Resolver struct {
	r Reader
}

func New(r Reader) *Resolver {
	return &Resolver{r: r}
}

// TeamOf walks the scope's parent chain to its team id. A missing link
// yields store.ErrNotFound.
func (z *Resolver) TeamOf(ctx context.Context, scope Scope) (string, error) {
	id := scope.ID
	kind := scope.Kind
	for {
		switch kind {
		case KindTeam:
			team, err := z.r.GetTeam(ctx, id)
			if err != nil {
				return "", err
			}
			return team.ID, nil
		case KindProject:
			project, err := z.r.GetProject(ctx, id)
			if err != nil {
				return "", err
			}
			id, kind = project.TeamID, KindTeam
		case KindList:
			list, err := z.r.GetList(ctx, id)
			if err != nil {
				return "", err
			}
			id, kind = list.ProjectID, KindProject
		case KindTask:
			task, err := z.r.GetTask(ctx, id)
			if err != nil {
				return "", err
			}
			id, kind = task.ProjectID, KindProject
		case KindComment:
			comment, err := z.r.GetComment(ctx, id)
			if err != nil {
				return "", err
			}
			id, kind = comment.TaskID, KindTask
		default:
			return "", fmt.Errorf("authz: unknown scope kind %v", kind)
		}
	}
}

// ResolveMembership returns the user's confirmed membership in the team
// owning scope. An absent scope, an absent membership and a pending invite
// all yield ErrNotAMember.
func (z *Resolver) ResolveMembership(ctx context.Context, userID string, scope Scope) (store.TeamMember, error) {
	member, err := z.lookup(ctx, userID, scope)
	if err != nil {
		return store.TeamMember{}, err
	}
	if !member.InviteConfirmed {
		return store.TeamMember{}, fmt.Errorf("%w: invite for %s not accepted", ErrNotAMember, scope)
	}
	return member, nil
}

// ResolveInvite is ResolveMembership for the accept and decline actions:
// it also returns unconfirmed members.
func (z *Resolver) ResolveInvite(ctx context.Context, userID string, scope Scope) (store.TeamMember, error) {
	return z.lookup(ctx, userID, scope)
}

func (z *Resolver) lookup(ctx context.Context, userID string, scope Scope) (store.TeamMember, error) {
	teamID, err := z.TeamOf(ctx, scope)
	if errors.Is(err, store.ErrNotFound) {
		return store.TeamMember{}, fmt.Errorf("%w: %s", ErrNotAMember, scope)
	}
	if err != nil {
		return store.TeamMember{}, err
	}
	member, err := z.r.FindMember(ctx, teamID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return store.TeamMember{}, fmt.Errorf("%w: %s", ErrNotAMember, scope)
	}
	if err != nil {
		return store.TeamMember{}, err
	}
	return member, nil
}

// HasPermission reports whether the member's role is granted permission.
// Pending invites hold no permissions.
func (z *Resolver) HasPermission(ctx context.Context, member store.TeamMember, permission rbac.Permission) (bool, error) {
	if !member.InviteConfirmed {
		return false, nil
	}
	return z.r.RoleHasPermission(ctx, member.RoleID, string(permission))
}

// HasPermissionOrOwnership grants when the role holds permission, or when
// permission is ownership-overridable and owns reports true.
func (z *Resolver) HasPermissionOrOwnership(ctx context.Context, member store.TeamMember, permission rbac.Permission, owns Ownership) (bool, error) {
	ok, err := z.HasPermission(ctx, member, permission)
	if err != nil || ok {
		return ok, err
	}
	if !member.InviteConfirmed || owns == nil || !rbac.OwnershipOverridable(permission) {
		return false, nil
	}
	return owns(member), nil
}

// IsTeamOwner compares against the team's owner directly, bypassing roles.
func (z *Resolver) IsTeamOwner(ctx context.Context, teamID, userID string) (bool, error) {
	team, err := z.r.GetTeam(ctx, teamID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return team.OwnerID == userID, nil
}

// Authorize resolves membership for scope and requires permission. The
// error wraps ErrNotAMember or ErrDenied; callers report both the same way.
func (z *Resolver) Authorize(ctx context.Context, userID string, scope Scope, permission rbac.Permission) (store.TeamMember, error) {
	member, err := z.ResolveMembership(ctx, userID, scope)
	if err != nil {
		return store.TeamMember{}, err
	}
	if err := z.Require(ctx, member, permission, nil); err != nil {
		return store.TeamMember{}, err
	}
	return member, nil
}

// Require returns ErrDenied unless HasPermissionOrOwnership grants.
func (z *Resolver) Require(ctx context.Context, member store.TeamMember, permission rbac.Permission, owns Ownership) error {
	ok, err := z.HasPermissionOrOwnership(ctx, member, permission, owns)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrDenied, permission)
	}
	return nil
}

// AssignableRoles lists the roles the member may hand out: their own
// priority and below, never owner.
func (z *Resolver) AssignableRoles(ctx context.Context, member store.TeamMember) ([]store.Role, error) {
	role, err := z.r.GetRole(ctx, member.RoleID)
	if err != nil {
		return nil, fmt.Errorf("read member role: %w", err)
	}
	roles, err := z.r.RolesAtOrBelowPriority(ctx, role.Priority)
	if err != nil {
		return nil, err
	}
	out := roles[:0:0]
	for _, r := range roles {
		if r.NameID == string(rbac.RoleOwner) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
