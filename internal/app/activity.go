package app

import (
	"context"

	"kanban/core/internal/authz"
	"kanban/core/internal/store"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 500
)

// ListActivity returns the team's most recent activity, newest first.
// Only confirmed members may read it.
func (s *Service) ListActivity(ctx context.Context, actor, teamID string, limit int) ([]store.ActivityLog, error) {
	switch {
	case limit <= 0:
		limit = defaultActivityLimit
	case limit > maxActivityLimit:
		limit = maxActivityLimit
	}

	var logs []store.ActivityLog
	err := s.read(ctx, "list_activity", func(tx store.Tx, z *authz.Resolver) error {
		if _, err := z.ResolveMembership(ctx, actor, authz.Team(teamID)); err != nil {
			return err
		}
		var err error
		logs, err = tx.ListActivity(ctx, teamID, limit)
		return err
	})
	return logs, err
}
