package app

import (
	"context"
	"errors"

	"kanban/core/internal/activity"
	"kanban/core/internal/authz"
	"kanban/core/internal/ordering"
	"kanban/core/internal/rbac"
	"kanban/core/internal/store"
	"kanban/core/internal/util"
)

type CreateTaskInput struct {
	Title       string `validate:"required,max=200"`
	Description string `validate:"max=5000"`
	ListID      *string
	AssigneeID  *string
}

type UpdateTaskInput struct {
	Title       string `validate:"required,max=200"`
	Description string `validate:"max=5000"`
	AssigneeID  *string
}

// ArrangeItem asks for a task to land at Position in ListID, or among the
// project's unlisted tasks when ListID is nil.
type ArrangeItem struct {
	TaskID   string `validate:"required"`
	ListID   *string
	Position int `validate:"min=0"`
}

type ArrangeTasksInput struct {
	Items []ArrangeItem `validate:"required,min=1,dive"`
}

// TaskPlacement is a task's final list and position after an arrange.
type TaskPlacement struct {
	TaskID   string
	ListID   *string
	Position int
}

// unlistedScope is the ordering scope key of a project's unlisted tasks.
const unlistedScope = ""

func taskItems(tasks []store.Task) []ordering.Item {
	items := make([]ordering.Item, len(tasks))
	for i, t := range tasks {
		items[i] = ordering.Item{ID: t.ID, Position: t.Position}
	}
	return items
}

func scopeKey(listID *string) string {
	if listID == nil {
		return unlistedScope
	}
	return *listID
}

func scopeList(key string) *string {
	if key == unlistedScope {
		return nil
	}
	return &key
}

func (s *Service) CreateTask(ctx context.Context, actor, projectID string, in CreateTaskInput) (store.Task, error) {
	in.Title = cleanName(in.Title)
	if err := validateInput(in); err != nil {
		return store.Task{}, err
	}

	var task store.Task
	err := s.mutate(ctx, "create_task", func(tx store.Tx, z *authz.Resolver) (*activity.Entry, error) {
		member, err := z.Authorize(ctx, actor, authz.Project(projectID), rbac.CreateTask)
		if err != nil {
			return nil, err
		}
		if err := tx.LockProject(ctx, projectID); err != nil {
			return nil, err
		}
		if in.ListID != nil {
			if _, err := projectList(ctx, tx, projectID, *in.ListID); err != nil {
				return nil, err
			}
		}
		if err := checkAssignee(ctx, tx, member.TeamID, in.AssigneeID); err != nil {
			return nil, err
		}
		siblings, err := tx.TasksInScope(ctx, projectID, in.ListID)
		if err != nil {
			return nil, err
		}

		task = store.Task{
			ID:          util.NewID("tsk"),
			ProjectID:   projectID,
			ListID:      in.ListID,
			Title:       in.Title,
			Description: in.Description,
			AssigneeID:  in.AssigneeID,
			Position:    ordering.Append(taskItems(siblings)),
		}
		if err := tx.InsertTask(ctx, task); err != nil {
			return nil, err
		}
		if task, err = tx.GetTask(ctx, task.ID); err != nil {
			return nil, err
		}
		return logEntry(member.TeamID, rbac.CreateTask, member, "%s created task %q", actorName(ctx, tx, member), task.Title), nil
	})
	return task, err
}

// UpdateTask edits the task's title, description and assignee. The current
// assignee may update the task without holding update_task.
func (s *Service) UpdateTask(ctx context.Context, actor, projectID, taskID string, in UpdateTaskInput) (store.Task, error) {
	in.Title = cleanName(in.Title)
	if err := validateInput(in); err != nil {
		return store.Task{}, err
	}

	var task store.Task
	err := s.mutate(ctx, "update_task", func(tx store.Tx, z *authz.Resolver) (*activity.Entry, error) {
		member, err := z.ResolveMembership(ctx, actor, authz.Project(projectID))
		if err != nil {
			return nil, err
		}
		old, err := projectTask(ctx, tx, projectID, taskID)
		if err != nil {
			return nil, err
		}
		assigned := func(m store.TeamMember) bool {
			return old.AssigneeID != nil && *old.AssigneeID == m.ID
		}
		if err := z.Require(ctx, member, rbac.UpdateTask, assigned); err != nil {
			return nil, err
		}
		if !sameString(old.AssigneeID, in.AssigneeID) {
			if err := checkAssignee(ctx, tx, member.TeamID, in.AssigneeID); err != nil {
				return nil, err
			}
		}

		next := old
		next.Title = in.Title
		next.Description = in.Description
		next.AssigneeID = in.AssigneeID
		if err := tx.UpdateTask(ctx, next); err != nil {
			return nil, err
		}
		if task, err = tx.GetTask(ctx, taskID); err != nil {
			return nil, err
		}
		return logEntry(member.TeamID, rbac.UpdateTask, member, "%s updated task %q", actorName(ctx, tx, member), task.Title), nil
	})
	return task, err
}

// DeleteTask removes the task and its comments and closes the gap in its
// scope.
func (s *Service) DeleteTask(ctx context.Context, actor, projectID, taskID string) error {
	return s.mutate(ctx, "delete_task", func(tx store.Tx, z *authz.Resolver) (*activity.Entry, error) {
		member, err := z.Authorize(ctx, actor, authz.Project(projectID), rbac.DeleteTask)
		if err != nil {
			return nil, err
		}
		if err := tx.LockProject(ctx, projectID); err != nil {
			return nil, err
		}
		task, err := projectTask(ctx, tx, projectID, taskID)
		if err != nil {
			return nil, err
		}
		if err := tx.DeleteTask(ctx, taskID); err != nil {
			return nil, err
		}
		remaining, err := tx.TasksInScope(ctx, projectID, task.ListID)
		if err != nil {
			return nil, err
		}
		for _, change := range ordering.Compact(taskItems(remaining)) {
			if err := tx.SetTaskPlacement(ctx, change.ID, task.ListID, change.Position); err != nil {
				return nil, err
			}
		}
		return logEntry(member.TeamID, rbac.DeleteTask, member, "%s deleted task %q", actorName(ctx, tx, member), task.Title), nil
	})
}

// MoveTask swaps the task with its neighbour in the same scope: Left moves
// it up, Right moves it down.
func (s *Service) MoveTask(ctx context.Context, actor, projectID, taskID string, dir ordering.Direction) (Swap, error) {
	var result Swap
	err := s.mutate(ctx, "move_task", func(tx store.Tx, z *authz.Resolver) (*activity.Entry, error) {
		member, err := z.Authorize(ctx, actor, authz.Project(projectID), rbac.MoveTask)
		if err != nil {
			return nil, err
		}
		if err := tx.LockProject(ctx, projectID); err != nil {
			return nil, err
		}
		task, err := projectTask(ctx, tx, projectID, taskID)
		if err != nil {
			return nil, err
		}
		siblings, err := tx.TasksInScope(ctx, projectID, task.ListID)
		if err != nil {
			return nil, err
		}
		swap, err := ordering.SwapAdjacent(taskItems(siblings), taskID, dir)
		if err != nil {
			return nil, err
		}
		if err := tx.SetTaskPlacement(ctx, swap.Moved.ID, task.ListID, swap.Moved.Position); err != nil {
			return nil, err
		}
		if err := tx.SetTaskPlacement(ctx, swap.With.ID, task.ListID, swap.With.Position); err != nil {
			return nil, err
		}
		result = Swap{
			MovedID:             swap.Moved.ID,
			MovedPosition:       swap.Moved.Position,
			SwappedWithID:       swap.With.ID,
			SwappedWithPosition: swap.With.Position,
		}
		way := "up"
		if dir == ordering.Right {
			way = "down"
		}
		return logEntry(member.TeamID, rbac.MoveTask, member, "%s moved task %q %s", actorName(ctx, tx, member), task.Title, way), nil
	})
	return result, err
}

// ArrangeTasks applies a drag-and-drop payload in one transaction. Either
// every placement is written or none is. The result lists every task whose
// list or position changed.
func (s *Service) ArrangeTasks(ctx context.Context, actor, projectID string, in ArrangeTasksInput) ([]TaskPlacement, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	var result []TaskPlacement
	err := s.mutate(ctx, "arrange_tasks", func(tx store.Tx, z *authz.Resolver) (*activity.Entry, error) {
		member, err := z.Authorize(ctx, actor, authz.Project(projectID), rbac.MoveTask)
		if err != nil {
			return nil, err
		}
		if err := tx.LockProject(ctx, projectID); err != nil {
			return nil, err
		}
		scopes, err := projectScopes(ctx, tx, projectID)
		if err != nil {
			return nil, err
		}

		moves := make([]ordering.Move, len(in.Items))
		for i, item := range in.Items {
			moves[i] = ordering.Move{ID: item.TaskID, Scope: scopeKey(item.ListID), Position: item.Position}
		}
		placements, err := ordering.Arrange(scopes, moves)
		if err != nil {
			return nil, err
		}

		result = make([]TaskPlacement, 0, len(placements))
		for _, p := range placements {
			listID := scopeList(p.Scope)
			if err := tx.SetTaskPlacement(ctx, p.ID, listID, p.Position); err != nil {
				return nil, err
			}
			result = append(result, TaskPlacement{TaskID: p.ID, ListID: listID, Position: p.Position})
		}
		return logEntry(member.TeamID, rbac.MoveTask, member, "%s rearranged %d tasks", actorName(ctx, tx, member), len(in.Items)), nil
	})
	return result, err
}

// Tasks returns the tasks of one scope in display order: the list's tasks,
// or the project's unlisted tasks when listID is nil.
func (s *Service) Tasks(ctx context.Context, actor, projectID string, listID *string) ([]store.Task, error) {
	var tasks []store.Task
	err := s.read(ctx, "list_tasks", func(tx store.Tx, z *authz.Resolver) error {
		if _, err := z.ResolveMembership(ctx, actor, authz.Project(projectID)); err != nil {
			return err
		}
		if listID != nil {
			if _, err := projectList(ctx, tx, projectID, *listID); err != nil {
				return err
			}
		}
		var err error
		tasks, err = tx.TasksInScope(ctx, projectID, listID)
		return err
	})
	return tasks, err
}

// projectScopes loads every task ordering scope of the project keyed by
// scopeKey, empty lists included.
func projectScopes(ctx context.Context, tx store.Tx, projectID string) (map[string][]ordering.Item, error) {
	lists, err := tx.ListsByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	unlisted, err := tx.TasksInScope(ctx, projectID, nil)
	if err != nil {
		return nil, err
	}
	scopes := map[string][]ordering.Item{unlistedScope: taskItems(unlisted)}
	for _, list := range lists {
		tasks, err := tx.TasksInScope(ctx, projectID, &list.ID)
		if err != nil {
			return nil, err
		}
		scopes[list.ID] = taskItems(tasks)
	}
	return scopes, nil
}

func projectTask(ctx context.Context, tx store.Tx, projectID, taskID string) (store.Task, error) {
	task, err := tx.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, scopeNotFound(err, "task")
	}
	if task.ProjectID != projectID {
		return store.Task{}, notFound("task")
	}
	return task, nil
}

// checkAssignee requires a nil assignee or a confirmed member of the team.
func checkAssignee(ctx context.Context, tx store.Tx, teamID string, assigneeID *string) error {
	if assigneeID == nil {
		return nil
	}
	assignee, err := tx.GetMember(ctx, *assigneeID)
	if errors.Is(err, store.ErrNotFound) {
		return invalid("assignee is not a member of this team")
	}
	if err != nil {
		return err
	}
	if assignee.TeamID != teamID || !assignee.InviteConfirmed {
		return invalid("assignee is not a member of this team")
	}
	return nil
}
