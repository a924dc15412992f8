// Package app is the mutation façade: every gated operation on teams,
// projects, lists, tasks and comments goes through a Service method.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"kanban/core/internal/activity"
	"kanban/core/internal/authz"
	"kanban/core/internal/config"
	"kanban/core/internal/observe"
	"kanban/core/internal/ordering"
	"kanban/core/internal/rbac"
	"kanban/core/internal/store"
)

type Service struct {
	store     store.Store
	recorder  *activity.Recorder
	log       logrus.FieldLogger
	txTimeout time.Duration
}

func New(cfg config.Config, st store.Store, log logrus.FieldLogger) *Service {
	return &Service{
		store:     st,
		recorder:  activity.NewRecorder(st, log),
		log:       log,
		txTimeout: cfg.TxTimeout,
	}
}

// txFunc runs inside the mutation's transaction. A non-nil entry is
// recorded once the transaction commits.
type txFunc func(tx store.Tx, z *authz.Resolver) (*activity.Entry, error)

// mutate runs fn in a transaction, retrying once when the store reports a
// conflicting concurrent update, and records activity after commit.
func (s *Service) mutate(ctx context.Context, op string, fn txFunc) error {
	var entry *activity.Entry
	attempt := func() error {
		txCtx := ctx
		if s.txTimeout > 0 {
			var cancel context.CancelFunc
			txCtx, cancel = context.WithTimeout(ctx, s.txTimeout)
			defer cancel()
		}
		return s.store.InTx(txCtx, func(tx store.Tx) error {
			var err error
			entry, err = fn(tx, authz.New(tx))
			return err
		})
	}

	err := attempt()
	if errors.Is(err, store.ErrConflict) {
		observe.Event(s.log, "tx_retry", logrus.Fields{"op": op})
		err = attempt()
	}
	if err != nil {
		return s.translate(op, err)
	}

	if entry != nil {
		s.recorder.Record(ctx, *entry)
	}
	return nil
}

// read runs fn in a transaction for a consistent view without recording
// anything.
func (s *Service) read(ctx context.Context, op string, fn func(tx store.Tx, z *authz.Resolver) error) error {
	return s.mutate(ctx, op, func(tx store.Tx, z *authz.Resolver) (*activity.Entry, error) {
		return nil, fn(tx, z)
	})
}

func (s *Service) translate(op string, err error) error {
	var domainErr *Error
	switch {
	case errors.As(err, &domainErr):
		return domainErr
	case errors.Is(err, authz.ErrNotAMember), errors.Is(err, authz.ErrDenied):
		return unauthorized(err)
	case errors.Is(err, store.ErrConflict):
		return domainError(KindConflict, "someone else changed this at the same time, try again", err)
	case errors.Is(err, ordering.ErrOutOfBounds):
		return domainError(KindOutOfBounds, "it cannot move any further in that direction", err)
	case errors.Is(err, ordering.ErrUnknownItem), errors.Is(err, ordering.ErrUnknownScope), errors.Is(err, store.ErrNotFound):
		return domainError(KindNotFound, "not found", err)
	case errors.Is(err, ordering.ErrDuplicateItem):
		return domainError(KindValidationFailed, "an item appears more than once", err)
	}

	observe.Error(s.log, string(KindInternal), err, logrus.Fields{"op": op})
	return domainError(KindInternal, "something went wrong", err)
}

// actorName returns the display name used in activity descriptions.
func actorName(ctx context.Context, tx store.Tx, member store.TeamMember) string {
	user, err := tx.GetUser(ctx, member.UserID)
	if err != nil || user.Name == "" {
		return "Someone"
	}
	return user.Name
}

func logEntry(teamID string, permission rbac.Permission, member store.TeamMember, format string, args ...any) *activity.Entry {
	return &activity.Entry{
		TeamID:      teamID,
		Permission:  permission,
		MemberID:    member.ID,
		Description: fmt.Sprintf(format, args...),
	}
}

// scopeNotFound maps a missing child entity to NotFound, leaving other
// store failures alone.
func scopeNotFound(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return notFound(what)
	}
	return err
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
