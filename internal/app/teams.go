package app

import (
	"context"
	"errors"
	"strings"

	"kanban/core/internal/activity"
	"kanban/core/internal/authz"
	"kanban/core/internal/rbac"
	"kanban/core/internal/store"
	"kanban/core/internal/util"
)

type TeamInput struct {
	Name string `validate:"required,max=120"`
}

type InviteMemberInput struct {
	Email string `validate:"required,email"`
	Role  string `validate:"required"`
}

type ChangeRoleInput struct {
	Role string `validate:"required"`
}

// CreateTeam creates a team owned by actor, who becomes its first,
// confirmed, owner-role member.
func (s *Service) CreateTeam(ctx context.Context, actor string, in TeamInput) (store.Team, error) {
	in.Name = cleanName(in.Name)
	if err := validateInput(in); err != nil {
		return store.Team{}, err
	}

	var team store.Team
	err := s.mutate(ctx, "create_team", func(tx store.Tx, _ *authz.Resolver) (*activity.Entry, error) {
		if _, err := tx.GetUser(ctx, actor); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, unauthorized(err)
			}
			return nil, err
		}
		owner, err := tx.GetRoleByNameID(ctx, string(rbac.RoleOwner))
		if err != nil {
			return nil, err
		}

		team = store.Team{ID: util.NewID("team"), Name: in.Name, OwnerID: actor}
		if err := tx.InsertTeam(ctx, team); err != nil {
			return nil, err
		}
		member := store.TeamMember{
			ID:              util.NewID("tm"),
			UserID:          actor,
			TeamID:          team.ID,
			RoleID:          owner.ID,
			InviteConfirmed: true,
		}
		if err := tx.InsertMember(ctx, member); err != nil {
			return nil, err
		}
		team, err = tx.GetTeam(ctx, team.ID)
		return nil, err
	})
	return team, err
}

// UpdateTeam renames the team. Only the team's owner may do this,
// whatever their role.
func (s *Service) UpdateTeam(ctx context.Context, actor, teamID string, in TeamInput) (store.Team, error) {
	in.Name = cleanName(in.Name)
	if err := validateInput(in); err != nil {
		return store.Team{}, err
	}

	var team store.Team
	err := s.mutate(ctx, "update_team", func(tx store.Tx, z *authz.Resolver) (*activity.Entry, error) {
		member, err := requireTeamOwner(ctx, z, actor, teamID)
		if err != nil {
			return nil, err
		}
		old, err := tx.GetTeam(ctx, teamID)
		if err != nil {
			return nil, scopeNotFound(err, "team")
		}
		if err := tx.UpdateTeam(ctx, teamID, in.Name); err != nil {
			return nil, err
		}
		team, err = tx.GetTeam(ctx, teamID)
		if err != nil {
			return nil, err
		}
		return logEntry(teamID, rbac.UpdateTeam, member, "%s renamed team %q to %q", actorName(ctx, tx, member), old.Name, team.Name), nil
	})
	return team, err
}

// DeleteTeam removes the team and everything in it. The activity log is
// kept.
func (s *Service) DeleteTeam(ctx context.Context, actor, teamID string) error {
	return s.mutate(ctx, "delete_team", func(tx store.Tx, z *authz.Resolver) (*activity.Entry, error) {
		member, err := requireTeamOwner(ctx, z, actor, teamID)
		if err != nil {
			return nil, err
		}
		team, err := tx.GetTeam(ctx, teamID)
		if err != nil {
			return nil, scopeNotFound(err, "team")
		}
		name := actorName(ctx, tx, member)
		if err := tx.DeleteTeam(ctx, teamID); err != nil {
			return nil, err
		}
		return logEntry(teamID, rbac.DeleteTeam, member, "%s deleted team %q", name, team.Name), nil
	})
}

func requireTeamOwner(ctx context.Context, z *authz.Resolver, actor, teamID string) (store.TeamMember, error) {
	isOwner, err := z.IsTeamOwner(ctx, teamID, actor)
	if err != nil {
		return store.TeamMember{}, err
	}
	if !isOwner {
		return store.TeamMember{}, unauthorized(authz.ErrDenied)
	}
	return z.ResolveMembership(ctx, actor, authz.Team(teamID))
}

// InviteMember adds a pending membership for the user with the given
// email. The role must be one the inviter may assign.
func (s *Service) InviteMember(ctx context.Context, actor, teamID string, in InviteMemberInput) (store.TeamMember, error) {
	in.Email = strings.TrimSpace(in.Email)
	if err := validateInput(in); err != nil {
		return store.TeamMember{}, err
	}

	var invited store.TeamMember
	err := s.mutate(ctx, "invite_member", func(tx store.Tx, z *authz.Resolver) (*activity.Entry, error) {
		member, err := z.Authorize(ctx, actor, authz.Team(teamID), rbac.InviteMember)
		if err != nil {
			return nil, err
		}
		role, err := assignableRole(ctx, tx, z, member, in.Role)
		if err != nil {
			return nil, err
		}
		user, err := tx.GetUserByEmail(ctx, in.Email)
		if err != nil {
			return nil, scopeNotFound(err, "user")
		}
		if _, err := tx.FindMember(ctx, teamID, user.ID); err == nil {
			return nil, domainError(KindConflict, user.Name+" is already in this team", nil)
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}

		invited = store.TeamMember{
			ID:     util.NewID("tm"),
			UserID: user.ID,
			TeamID: teamID,
			RoleID: role.ID,
		}
		if err := tx.InsertMember(ctx, invited); err != nil {
			return nil, err
		}
		if invited, err = tx.GetMember(ctx, invited.ID); err != nil {
			return nil, err
		}
		return logEntry(teamID, rbac.InviteMember, member, "%s invited %s as %s", actorName(ctx, tx, member), user.Name, role.DisplayName), nil
	})
	return invited, err
}

// AcceptInvite confirms the actor's pending membership.
func (s *Service) AcceptInvite(ctx context.Context, actor, teamID string) (store.TeamMember, error) {
	var member store.TeamMember
	err := s.mutate(ctx, "accept_invite", func(tx store.Tx, z *authz.Resolver) (*activity.Entry, error) {
		invite, err := z.ResolveInvite(ctx, actor, authz.Team(teamID))
		if err != nil {
			return nil, err
		}
		if invite.InviteConfirmed {
			return nil, domainError(KindConflict, "invite already accepted", nil)
		}
		if err := tx.ConfirmMember(ctx, invite.ID); err != nil {
			return nil, err
		}
		member, err = tx.GetMember(ctx, invite.ID)
		return nil, err
	})
	return member, err
}

// DeclineInvite deletes the actor's pending membership.
func (s *Service) DeclineInvite(ctx context.Context, actor, teamID string) error {
	return s.mutate(ctx, "decline_invite", func(tx store.Tx, z *authz.Resolver) (*activity.Entry, error) {
		invite, err := z.ResolveInvite(ctx, actor, authz.Team(teamID))
		if err != nil {
			return nil, err
		}
		if invite.InviteConfirmed {
			return nil, domainError(KindConflict, "invite already accepted, leave the team instead", nil)
		}
		return nil, tx.DeleteMember(ctx, invite.ID)
	})
}

// KickMember removes another member. The team owner cannot be kicked and
// nobody can kick a member more senior than they may assign.
func (s *Service) KickMember(ctx context.Context, actor, teamID, memberID string) error {
	return s.mutate(ctx, "kick_member", func(tx store.Tx, z *authz.Resolver) (*activity.Entry, error) {
		member, err := z.Authorize(ctx, actor, authz.Team(teamID), rbac.KickMember)
		if err != nil {
			return nil, err
		}
		target, err := teamMember(ctx, tx, teamID, memberID)
		if err != nil {
			return nil, err
		}
		if target.ID == member.ID {
			return nil, invalid("use leave to remove yourself")
		}
		if err := canManage(ctx, tx, z, member, target); err != nil {
			return nil, err
		}
		targetUser, _ := tx.GetUser(ctx, target.UserID)
		if err := tx.DeleteMember(ctx, target.ID); err != nil {
			return nil, err
		}
		return logEntry(teamID, rbac.KickMember, member, "%s removed %s from the team", actorName(ctx, tx, member), targetUser.Name), nil
	})
}

// LeaveTeam removes the actor's own membership. The owner has to delete
// the team instead.
func (s *Service) LeaveTeam(ctx context.Context, actor, teamID string) error {
	return s.mutate(ctx, "leave_team", func(tx store.Tx, z *authz.Resolver) (*activity.Entry, error) {
		member, err := z.ResolveMembership(ctx, actor, authz.Team(teamID))
		if err != nil {
			return nil, err
		}
		team, err := tx.GetTeam(ctx, teamID)
		if err != nil {
			return nil, err
		}
		if team.OwnerID == actor {
			return nil, invalid("the owner cannot leave the team")
		}
		return nil, tx.DeleteMember(ctx, member.ID)
	})
}

// ChangeMemberRole reassigns another member's role within what the actor
// may assign.
func (s *Service) ChangeMemberRole(ctx context.Context, actor, teamID, memberID string, in ChangeRoleInput) (store.TeamMember, error) {
	if err := validateInput(in); err != nil {
		return store.TeamMember{}, err
	}

	var changed store.TeamMember
	err := s.mutate(ctx, "update_member_role", func(tx store.Tx, z *authz.Resolver) (*activity.Entry, error) {
		member, err := z.Authorize(ctx, actor, authz.Team(teamID), rbac.UpdateMemberRole)
		if err != nil {
			return nil, err
		}
		target, err := teamMember(ctx, tx, teamID, memberID)
		if err != nil {
			return nil, err
		}
		if target.ID == member.ID {
			return nil, invalid("you cannot change your own role")
		}
		if err := canManage(ctx, tx, z, member, target); err != nil {
			return nil, err
		}
		role, err := assignableRole(ctx, tx, z, member, in.Role)
		if err != nil {
			return nil, err
		}
		if err := tx.UpdateMemberRole(ctx, target.ID, role.ID); err != nil {
			return nil, err
		}
		if changed, err = tx.GetMember(ctx, target.ID); err != nil {
			return nil, err
		}
		targetUser, _ := tx.GetUser(ctx, target.UserID)
		return logEntry(teamID, rbac.UpdateMemberRole, member, "%s made %s a %s", actorName(ctx, tx, member), targetUser.Name, role.DisplayName), nil
	})
	return changed, err
}

// AssignableRoles lists the roles actor may hand out in the team.
func (s *Service) AssignableRoles(ctx context.Context, actor, teamID string) ([]store.Role, error) {
	var roles []store.Role
	err := s.read(ctx, "assignable_roles", func(tx store.Tx, z *authz.Resolver) error {
		member, err := z.ResolveMembership(ctx, actor, authz.Team(teamID))
		if err != nil {
			return err
		}
		roles, err = z.AssignableRoles(ctx, member)
		return err
	})
	return roles, err
}

// Members lists the team's members, pending invites included.
func (s *Service) Members(ctx context.Context, actor, teamID string) ([]store.TeamMember, error) {
	var members []store.TeamMember
	err := s.read(ctx, "list_members", func(tx store.Tx, z *authz.Resolver) error {
		if _, err := z.ResolveMembership(ctx, actor, authz.Team(teamID)); err != nil {
			return err
		}
		var err error
		members, err = tx.ListMembers(ctx, teamID)
		return err
	})
	return members, err
}

func teamMember(ctx context.Context, tx store.Tx, teamID, memberID string) (store.TeamMember, error) {
	target, err := tx.GetMember(ctx, memberID)
	if err != nil {
		return store.TeamMember{}, scopeNotFound(err, "member")
	}
	if target.TeamID != teamID {
		return store.TeamMember{}, notFound("member")
	}
	return target, nil
}

func assignableRole(ctx context.Context, tx store.Tx, z *authz.Resolver, member store.TeamMember, nameID string) (store.Role, error) {
	role, err := tx.GetRoleByNameID(ctx, strings.TrimSpace(nameID))
	if errors.Is(err, store.ErrNotFound) {
		return store.Role{}, invalid("role must be one of the team roles")
	}
	if err != nil {
		return store.Role{}, err
	}
	allowed, err := z.AssignableRoles(ctx, member)
	if err != nil {
		return store.Role{}, err
	}
	for _, r := range allowed {
		if r.ID == role.ID {
			return role, nil
		}
	}
	return store.Role{}, unauthorized(authz.ErrDenied)
}

// canManage rejects acting on the team owner or on a member whose role the
// actor could not assign.
func canManage(ctx context.Context, tx store.Tx, z *authz.Resolver, member, target store.TeamMember) error {
	team, err := tx.GetTeam(ctx, target.TeamID)
	if err != nil {
		return err
	}
	if team.OwnerID == target.UserID {
		return unauthorized(authz.ErrDenied)
	}
	allowed, err := z.AssignableRoles(ctx, member)
	if err != nil {
		return err
	}
	for _, r := range allowed {
		if r.ID == target.RoleID {
			return nil
		}
	}
	return unauthorized(authz.ErrDenied)
}
