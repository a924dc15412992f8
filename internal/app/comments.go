package app

import (
	"context"

	"kanban/core/internal/activity"
	"kanban/core/internal/authz"
	"kanban/core/internal/rbac"
	"kanban/core/internal/store"
	"kanban/core/internal/util"
)

type CommentInput struct {
	Body string `validate:"required,max=5000"`
}

func (s *Service) CreateComment(ctx context.Context, actor, projectID, taskID string, in CommentInput) (store.Comment, error) {
	in.Body = cleanName(in.Body)
	if err := validateInput(in); err != nil {
		return store.Comment{}, err
	}

	var comment store.Comment
	err := s.mutate(ctx, "create_comment", func(tx store.Tx, z *authz.Resolver) (*activity.Entry, error) {
		member, err := z.Authorize(ctx, actor, authz.Project(projectID), rbac.CreateComment)
		if err != nil {
			return nil, err
		}
		task, err := projectTask(ctx, tx, projectID, taskID)
		if err != nil {
			return nil, err
		}
		comment = store.Comment{ID: util.NewID("cmt"), TaskID: taskID, AuthorID: member.ID, Body: in.Body}
		if err := tx.InsertComment(ctx, comment); err != nil {
			return nil, err
		}
		if comment, err = tx.GetComment(ctx, comment.ID); err != nil {
			return nil, err
		}
		return logEntry(member.TeamID, rbac.CreateComment, member, "%s commented on task %q", actorName(ctx, tx, member), task.Title), nil
	})
	return comment, err
}

// UpdateComment edits the body. The author may always edit their own
// comment.
func (s *Service) UpdateComment(ctx context.Context, actor, projectID, taskID, commentID string, in CommentInput) (store.Comment, error) {
	in.Body = cleanName(in.Body)
	if err := validateInput(in); err != nil {
		return store.Comment{}, err
	}

	var comment store.Comment
	err := s.mutate(ctx, "update_comment", func(tx store.Tx, z *authz.Resolver) (*activity.Entry, error) {
		member, task, old, err := authorOrPermitted(ctx, tx, z, actor, projectID, taskID, commentID, rbac.UpdateComment)
		if err != nil {
			return nil, err
		}
		if err := tx.UpdateComment(ctx, old.ID, in.Body); err != nil {
			return nil, err
		}
		if comment, err = tx.GetComment(ctx, old.ID); err != nil {
			return nil, err
		}
		return logEntry(member.TeamID, rbac.UpdateComment, member, "%s edited a comment on task %q", actorName(ctx, tx, member), task.Title), nil
	})
	return comment, err
}

func (s *Service) DeleteComment(ctx context.Context, actor, projectID, taskID, commentID string) error {
	return s.mutate(ctx, "delete_comment", func(tx store.Tx, z *authz.Resolver) (*activity.Entry, error) {
		member, task, comment, err := authorOrPermitted(ctx, tx, z, actor, projectID, taskID, commentID, rbac.DeleteComment)
		if err != nil {
			return nil, err
		}
		if err := tx.DeleteComment(ctx, comment.ID); err != nil {
			return nil, err
		}
		return logEntry(member.TeamID, rbac.DeleteComment, member, "%s deleted a comment on task %q", actorName(ctx, tx, member), task.Title), nil
	})
}

func (s *Service) Comments(ctx context.Context, actor, projectID, taskID string) ([]store.Comment, error) {
	var comments []store.Comment
	err := s.read(ctx, "list_comments", func(tx store.Tx, z *authz.Resolver) error {
		if _, err := z.ResolveMembership(ctx, actor, authz.Project(projectID)); err != nil {
			return err
		}
		if _, err := projectTask(ctx, tx, projectID, taskID); err != nil {
			return err
		}
		var err error
		comments, err = tx.CommentsByTask(ctx, taskID)
		return err
	})
	return comments, err
}

// authorOrPermitted resolves the actor's membership, checks the comment
// belongs to the task and the task to the project, then requires permission
// unless the actor wrote the comment.
func authorOrPermitted(ctx context.Context, tx store.Tx, z *authz.Resolver, actor, projectID, taskID, commentID string, permission rbac.Permission) (store.TeamMember, store.Task, store.Comment, error) {
	member, err := z.ResolveMembership(ctx, actor, authz.Project(projectID))
	if err != nil {
		return store.TeamMember{}, store.Task{}, store.Comment{}, err
	}
	task, err := projectTask(ctx, tx, projectID, taskID)
	if err != nil {
		return store.TeamMember{}, store.Task{}, store.Comment{}, err
	}
	comment, err := tx.GetComment(ctx, commentID)
	if err != nil {
		return store.TeamMember{}, store.Task{}, store.Comment{}, scopeNotFound(err, "comment")
	}
	if comment.TaskID != taskID {
		return store.TeamMember{}, store.Task{}, store.Comment{}, notFound("comment")
	}
	wrote := func(m store.TeamMember) bool { return comment.AuthorID == m.ID }
	if err := z.Require(ctx, member, permission, wrote); err != nil {
		return store.TeamMember{}, store.Task{}, store.Comment{}, err
	}
	return member, task, comment, nil
}
