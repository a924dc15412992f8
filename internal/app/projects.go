package app

import (
	"context"

	"kanban/core/internal/activity"
	"kanban/core/internal/authz"
	"kanban/core/internal/rbac"
	"kanban/core/internal/store"
	"kanban/core/internal/util"
)

type ProjectInput struct {
	Name string `validate:"required,max=120"`
}

func (s *Service) CreateProject(ctx context.Context, actor, teamID string, in ProjectInput) (store.Project, error) {
	in.Name = cleanName(in.Name)
	if err := validateInput(in); err != nil {
		return store.Project{}, err
	}

	var project store.Project
	err := s.mutate(ctx, "create_project", func(tx store.Tx, z *authz.Resolver) (*activity.Entry, error) {
		member, err := z.Authorize(ctx, actor, authz.Team(teamID), rbac.CreateProject)
		if err != nil {
			return nil, err
		}
		project = store.Project{ID: util.NewID("prj"), TeamID: teamID, Name: in.Name}
		if err := tx.InsertProject(ctx, project); err != nil {
			return nil, err
		}
		if project, err = tx.GetProject(ctx, project.ID); err != nil {
			return nil, err
		}
		return logEntry(teamID, rbac.CreateProject, member, "%s created project %q", actorName(ctx, tx, member), project.Name), nil
	})
	return project, err
}

func (s *Service) UpdateProject(ctx context.Context, actor, teamID, projectID string, in ProjectInput) (store.Project, error) {
	in.Name = cleanName(in.Name)
	if err := validateInput(in); err != nil {
		return store.Project{}, err
	}

	var project store.Project
	err := s.mutate(ctx, "update_project", func(tx store.Tx, z *authz.Resolver) (*activity.Entry, error) {
		member, err := z.Authorize(ctx, actor, authz.Team(teamID), rbac.UpdateProject)
		if err != nil {
			return nil, err
		}
		old, err := teamProject(ctx, tx, teamID, projectID)
		if err != nil {
			return nil, err
		}
		if err := tx.UpdateProject(ctx, projectID, in.Name); err != nil {
			return nil, err
		}
		if project, err = tx.GetProject(ctx, projectID); err != nil {
			return nil, err
		}
		return logEntry(teamID, rbac.UpdateProject, member, "%s renamed project %q to %q", actorName(ctx, tx, member), old.Name, project.Name), nil
	})
	return project, err
}

// DeleteProject removes the project with its lists, tasks and comments.
func (s *Service) DeleteProject(ctx context.Context, actor, teamID, projectID string) error {
	return s.mutate(ctx, "delete_project", func(tx store.Tx, z *authz.Resolver) (*activity.Entry, error) {
		member, err := z.Authorize(ctx, actor, authz.Team(teamID), rbac.DeleteProject)
		if err != nil {
			return nil, err
		}
		project, err := teamProject(ctx, tx, teamID, projectID)
		if err != nil {
			return nil, err
		}
		if err := tx.DeleteProject(ctx, projectID); err != nil {
			return nil, err
		}
		return logEntry(teamID, rbac.DeleteProject, member, "%s deleted project %q", actorName(ctx, tx, member), project.Name), nil
	})
}

func teamProject(ctx context.Context, tx store.Tx, teamID, projectID string) (store.Project, error) {
	project, err := tx.GetProject(ctx, projectID)
	if err != nil {
		return store.Project{}, scopeNotFound(err, "project")
	}
	if project.TeamID != teamID {
		return store.Project{}, notFound("project")
	}
	return project, nil
}
