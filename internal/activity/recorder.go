// Package activity appends the team activity log after a mutation commits.
package activity

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"kanban/core/internal/observe"
	"kanban/core/internal/rbac"
	"kanban/core/internal/store"
)

type Appender interface {
	PermissionID(ctx context.Context, name string) (int64, error)
	InsertActivity(ctx context.Context, entry store.ActivityLog) error
}

type Entry struct {
	TeamID      string
	Permission  rbac.Permission
	MemberID    string
	Description string
}

type Recorder struct {
	store Appender
	log   logrus.FieldLogger
}

func NewRecorder(s Appender, log logrus.FieldLogger) *Recorder {
	return &Recorder{store: s, log: log}
}

// Record appends entry. It never fails the caller: the mutation it
// describes has already committed, so errors are logged and reported.
func (r *Recorder) Record(ctx context.Context, entry Entry) {
	if err := r.append(ctx, entry); err != nil {
		observe.Error(r.log, "activity_log", err, logrus.Fields{
			"team_id":    entry.TeamID,
			"permission": string(entry.Permission),
			"actor":      entry.MemberID,
		})
	}
}

func (r *Recorder) append(ctx context.Context, entry Entry) error {
	permissionID, err := r.store.PermissionID(ctx, string(entry.Permission))
	if err != nil {
		return fmt.Errorf("resolve permission %s: %w", entry.Permission, err)
	}
	return r.store.InsertActivity(ctx, store.ActivityLog{
		TeamID:       entry.TeamID,
		PermissionID: permissionID,
		MemberID:     entry.MemberID,
		Description:  entry.Description,
	})
}
