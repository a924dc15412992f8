package app

import (
	"context"

	"kanban/core/internal/activity"
	"kanban/core/internal/authz"
	"kanban/core/internal/ordering"
	"kanban/core/internal/rbac"
	"kanban/core/internal/store"
	"kanban/core/internal/util"
)

type ListInput struct {
	Name string `validate:"required,max=120"`
}

type ArrangeListsInput struct {
	ListIDs []string `validate:"required,min=1,unique,dive,required"`
}

// Swap reports an adjacent move: the moved entity and the neighbour it
// exchanged positions with, with their new positions.
type Swap struct {
	MovedID             string
	MovedPosition       int
	SwappedWithID       string
	SwappedWithPosition int
}

func listItems(lists []store.List) []ordering.Item {
	items := make([]ordering.Item, len(lists))
	for i, l := range lists {
		items[i] = ordering.Item{ID: l.ID, Position: l.Position}
	}
	return items
}

// CreateList appends a list at the end of the project.
func (s *Service) CreateList(ctx context.Context, actor, projectID string, in ListInput) (store.List, error) {
	in.Name = cleanName(in.Name)
	if err := validateInput(in); err != nil {
		return store.List{}, err
	}

	var list store.List
	err := s.mutate(ctx, "create_list", func(tx store.Tx, z *authz.Resolver) (*activity.Entry, error) {
		member, err := z.Authorize(ctx, actor, authz.Project(projectID), rbac.CreateList)
		if err != nil {
			return nil, err
		}
		if err := tx.LockProject(ctx, projectID); err != nil {
			return nil, err
		}
		siblings, err := tx.ListsByProject(ctx, projectID)
		if err != nil {
			return nil, err
		}
		list = store.List{
			ID:        util.NewID("lst"),
			ProjectID: projectID,
			Name:      in.Name,
			Position:  ordering.Append(listItems(siblings)),
		}
		if err := tx.InsertList(ctx, list); err != nil {
			return nil, err
		}
		if list, err = tx.GetList(ctx, list.ID); err != nil {
			return nil, err
		}
		return logEntry(member.TeamID, rbac.CreateList, member, "%s created list %q", actorName(ctx, tx, member), list.Name), nil
	})
	return list, err
}

func (s *Service) UpdateList(ctx context.Context, actor, projectID, listID string, in ListInput) (store.List, error) {
	in.Name = cleanName(in.Name)
	if err := validateInput(in); err != nil {
		return store.List{}, err
	}

	var list store.List
	err := s.mutate(ctx, "update_list", func(tx store.Tx, z *authz.Resolver) (*activity.Entry, error) {
		member, err := z.Authorize(ctx, actor, authz.Project(projectID), rbac.UpdateList)
		if err != nil {
			return nil, err
		}
		old, err := projectList(ctx, tx, projectID, listID)
		if err != nil {
			return nil, err
		}
		if err := tx.UpdateList(ctx, listID, in.Name); err != nil {
			return nil, err
		}
		if list, err = tx.GetList(ctx, listID); err != nil {
			return nil, err
		}
		return logEntry(member.TeamID, rbac.UpdateList, member, "%s renamed list %q to %q", actorName(ctx, tx, member), old.Name, list.Name), nil
	})
	return list, err
}

// DeleteList deletes the list. Its tasks keep their relative order and are
// appended to the project's unlisted tasks; the remaining lists close the
// gap.
func (s *Service) DeleteList(ctx context.Context, actor, projectID, listID string) error {
	return s.mutate(ctx, "delete_list", func(tx store.Tx, z *authz.Resolver) (*activity.Entry, error) {
		member, err := z.Authorize(ctx, actor, authz.Project(projectID), rbac.DeleteList)
		if err != nil {
			return nil, err
		}
		if err := tx.LockProject(ctx, projectID); err != nil {
			return nil, err
		}
		list, err := projectList(ctx, tx, projectID, listID)
		if err != nil {
			return nil, err
		}

		orphans, err := tx.TasksInScope(ctx, projectID, &listID)
		if err != nil {
			return nil, err
		}
		unlisted, err := tx.TasksInScope(ctx, projectID, nil)
		if err != nil {
			return nil, err
		}
		for _, change := range ordering.Compact(taskItems(unlisted)) {
			if err := tx.SetTaskPlacement(ctx, change.ID, nil, change.Position); err != nil {
				return nil, err
			}
		}
		next := ordering.Append(taskItems(unlisted))
		for i, task := range orphans {
			if err := tx.SetTaskPlacement(ctx, task.ID, nil, next+i); err != nil {
				return nil, err
			}
		}

		if err := tx.DeleteList(ctx, listID); err != nil {
			return nil, err
		}
		remaining, err := tx.ListsByProject(ctx, projectID)
		if err != nil {
			return nil, err
		}
		for _, change := range ordering.Compact(listItems(remaining)) {
			if err := tx.SetListPosition(ctx, change.ID, change.Position); err != nil {
				return nil, err
			}
		}
		return logEntry(member.TeamID, rbac.DeleteList, member, "%s deleted list %q", actorName(ctx, tx, member), list.Name), nil
	})
}

// MoveList swaps the list with its left or right neighbour. Moving the
// first list left or the last list right fails with KindOutOfBounds.
func (s *Service) MoveList(ctx context.Context, actor, projectID, listID string, dir ordering.Direction) (Swap, error) {
	var result Swap
	err := s.mutate(ctx, "move_list", func(tx store.Tx, z *authz.Resolver) (*activity.Entry, error) {
		member, err := z.Authorize(ctx, actor, authz.Project(projectID), rbac.MoveList)
		if err != nil {
			return nil, err
		}
		if err := tx.LockProject(ctx, projectID); err != nil {
			return nil, err
		}
		list, err := projectList(ctx, tx, projectID, listID)
		if err != nil {
			return nil, err
		}
		siblings, err := tx.ListsByProject(ctx, projectID)
		if err != nil {
			return nil, err
		}
		swap, err := ordering.SwapAdjacent(listItems(siblings), listID, dir)
		if err != nil {
			return nil, err
		}
		if err := tx.SetListPosition(ctx, swap.Moved.ID, swap.Moved.Position); err != nil {
			return nil, err
		}
		if err := tx.SetListPosition(ctx, swap.With.ID, swap.With.Position); err != nil {
			return nil, err
		}
		result = Swap{
			MovedID:             swap.Moved.ID,
			MovedPosition:       swap.Moved.Position,
			SwappedWithID:       swap.With.ID,
			SwappedWithPosition: swap.With.Position,
		}
		return logEntry(member.TeamID, rbac.MoveList, member, "%s moved list %q %s", actorName(ctx, tx, member), list.Name, dir), nil
	})
	return result, err
}

// ArrangeLists places the given lists at their index in ListIDs; lists not
// named keep their relative order around them.
func (s *Service) ArrangeLists(ctx context.Context, actor, projectID string, in ArrangeListsInput) ([]store.List, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	var lists []store.List
	err := s.mutate(ctx, "arrange_lists", func(tx store.Tx, z *authz.Resolver) (*activity.Entry, error) {
		member, err := z.Authorize(ctx, actor, authz.Project(projectID), rbac.MoveList)
		if err != nil {
			return nil, err
		}
		if err := tx.LockProject(ctx, projectID); err != nil {
			return nil, err
		}
		current, err := tx.ListsByProject(ctx, projectID)
		if err != nil {
			return nil, err
		}
		moves := make([]ordering.Move, len(in.ListIDs))
		for i, id := range in.ListIDs {
			moves[i] = ordering.Move{ID: id, Scope: projectID, Position: i}
		}
		placements, err := ordering.Arrange(map[string][]ordering.Item{projectID: listItems(current)}, moves)
		if err != nil {
			return nil, err
		}
		for _, p := range placements {
			if err := tx.SetListPosition(ctx, p.ID, p.Position); err != nil {
				return nil, err
			}
		}
		if lists, err = tx.ListsByProject(ctx, projectID); err != nil {
			return nil, err
		}
		return logEntry(member.TeamID, rbac.MoveList, member, "%s rearranged the lists", actorName(ctx, tx, member)), nil
	})
	return lists, err
}

// Lists returns the project's lists in display order.
func (s *Service) Lists(ctx context.Context, actor, projectID string) ([]store.List, error) {
	var lists []store.List
	err := s.read(ctx, "list_lists", func(tx store.Tx, z *authz.Resolver) error {
		if _, err := z.ResolveMembership(ctx, actor, authz.Project(projectID)); err != nil {
			return err
		}
		var err error
		lists, err = tx.ListsByProject(ctx, projectID)
		return err
	})
	return lists, err
}

func projectList(ctx context.Context, tx store.Tx, projectID, listID string) (store.List, error) {
	list, err := tx.GetList(ctx, listID)
	if err != nil {
		return store.List{}, scopeNotFound(err, "list")
	}
	if list.ProjectID != projectID {
		return store.List{}, notFound("list")
	}
	return list, nil
}
