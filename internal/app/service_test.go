package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"kanban/core/internal/config"
	"kanban/core/internal/ordering"
	"kanban/core/internal/rbac"
	"kanban/core/internal/store"
)

type fixture struct {
	svc   *Service
	store *store.MemoryStore
}

// newFixture seeds team_1 (owned by usr_owner) with a confirmed member of
// every role, a second plain member, a pending invite and project prj_1.
// usr_outsider exists but belongs to no team.
func newFixture(t *testing.T) fixture {
	t.Helper()
	catalog := rbac.DefaultCatalog()
	s := store.NewMemoryStore(catalog)
	ctx := context.Background()

	roleID := func(name rbac.RoleName) int64 {
		role, ok := catalog.Role(name)
		if !ok {
			t.Fatalf("role %s missing", name)
		}
		return role.ID
	}

	err := s.InTx(ctx, func(tx store.Tx) error {
		for _, u := range []string{"owner", "pm", "member", "other", "invitee", "outsider"} {
			if err := tx.InsertUser(ctx, store.User{ID: "usr_" + u, Subject: "sub-" + u, Name: u, Email: u + "@example.com"}); err != nil {
				return err
			}
		}
		if err := tx.InsertTeam(ctx, store.Team{ID: "team_1", Name: "Core", OwnerID: "usr_owner"}); err != nil {
			return err
		}
		members := []store.TeamMember{
			{ID: "tm_owner", UserID: "usr_owner", TeamID: "team_1", RoleID: roleID(rbac.RoleOwner), InviteConfirmed: true},
			{ID: "tm_pm", UserID: "usr_pm", TeamID: "team_1", RoleID: roleID(rbac.RoleProjectManager), InviteConfirmed: true},
			{ID: "tm_member", UserID: "usr_member", TeamID: "team_1", RoleID: roleID(rbac.RoleMember), InviteConfirmed: true},
			{ID: "tm_other", UserID: "usr_other", TeamID: "team_1", RoleID: roleID(rbac.RoleMember), InviteConfirmed: true},
			{ID: "tm_invitee", UserID: "usr_invitee", TeamID: "team_1", RoleID: roleID(rbac.RoleMember)},
		}
		for _, m := range members {
			if err := tx.InsertMember(ctx, m); err != nil {
				return err
			}
		}
		return tx.InsertProject(ctx, store.Project{ID: "prj_1", TeamID: "team_1", Name: "Board"})
	})
	if err != nil {
		t.Fatalf("seed fixture: %v", err)
	}

	log, _ := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	return fixture{
		svc:   New(config.Config{TxTimeout: time.Second}, s, log),
		store: s,
	}
}

func (f fixture) list(t *testing.T, name string) store.List {
	t.Helper()
	list, err := f.svc.CreateList(context.Background(), "usr_pm", "prj_1", ListInput{Name: name})
	if err != nil {
		t.Fatalf("CreateList(%s): %v", name, err)
	}
	return list
}

func (f fixture) task(t *testing.T, title string, listID *string) store.Task {
	t.Helper()
	task, err := f.svc.CreateTask(context.Background(), "usr_member", "prj_1", CreateTaskInput{Title: title, ListID: listID})
	if err != nil {
		t.Fatalf("CreateTask(%s): %v", title, err)
	}
	return task
}

func (f fixture) activity(t *testing.T) []store.ActivityLog {
	t.Helper()
	logs, err := f.store.ListActivity(context.Background(), "team_1", 100)
	if err != nil {
		t.Fatalf("ListActivity: %v", err)
	}
	return logs
}

// listNames returns the project's list names in display order.
func (f fixture) listNames(t *testing.T) []string {
	t.Helper()
	lists, err := f.store.ListsByProject(context.Background(), "prj_1")
	if err != nil {
		t.Fatalf("ListsByProject: %v", err)
	}
	names := make([]string, len(lists))
	for i, l := range lists {
		names[i] = l.Name
	}
	return names
}

func (f fixture) taskTitles(t *testing.T, listID *string) []string {
	t.Helper()
	tasks, err := f.store.TasksInScope(context.Background(), "prj_1", listID)
	if err != nil {
		t.Fatalf("TasksInScope: %v", err)
	}
	titles := make([]string, len(tasks))
	for i, task := range tasks {
		titles[i] = task.Title
	}
	return titles
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func wantKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	if got := KindOf(err); got != kind {
		t.Fatalf("kind = %q (%v), want %q", got, err, kind)
	}
}

// conflictingStore reports a serialization conflict for the first
// failures transactions.
type conflictingStore struct {
	store.Store
	failures int
	attempts int
}

func (c *conflictingStore) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	c.attempts++
	if c.failures > 0 {
		c.failures--
		return store.ErrConflict
	}
	return c.Store.InTx(ctx, fn)
}

func TestMutateRetriesOnceOnConflict(t *testing.T) {
	f := newFixture(t)
	wrapped := &conflictingStore{Store: f.store, failures: 1}
	log, hook := logtest.NewNullLogger()
	svc := New(config.Config{}, wrapped, log)

	list, err := svc.CreateList(context.Background(), "usr_pm", "prj_1", ListInput{Name: "Todo"})
	if err != nil {
		t.Fatalf("CreateList: %v", err)
	}
	if wrapped.attempts != 2 {
		t.Fatalf("attempts = %d, want 2", wrapped.attempts)
	}
	if list.Position != 0 {
		t.Fatalf("position = %d", list.Position)
	}
	if first := hook.AllEntries()[0]; first.Data["event_type"] != "tx_retry" || first.Data["op"] != "create_list" {
		t.Fatalf("retry event = %+v", first.Data)
	}
	if logs := f.activity(t); len(logs) != 1 {
		t.Fatalf("activity rows = %d, want 1", len(logs))
	}
}

func TestMutateSurfacesRepeatedConflict(t *testing.T) {
	f := newFixture(t)
	wrapped := &conflictingStore{Store: f.store, failures: 5}
	svc := New(config.Config{}, wrapped, logrus.New())

	_, err := svc.CreateList(context.Background(), "usr_pm", "prj_1", ListInput{Name: "Todo"})
	wantKind(t, err, KindConflict)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("err = %v, want wrapped ErrConflict", err)
	}
	if wrapped.attempts != 2 {
		t.Fatalf("attempts = %d, want 2", wrapped.attempts)
	}
	if logs := f.activity(t); len(logs) != 0 {
		t.Fatalf("activity recorded for failed mutation: %+v", logs)
	}
}

// brokenActivityStore fails every activity append.
type brokenActivityStore struct {
	store.Store
}

func (brokenActivityStore) InsertActivity(context.Context, store.ActivityLog) error {
	return errors.New("activity table unavailable")
}

func TestActivityFailureDoesNotFailMutation(t *testing.T) {
	f := newFixture(t)
	log, hook := logtest.NewNullLogger()
	svc := New(config.Config{}, brokenActivityStore{Store: f.store}, log)

	if _, err := svc.CreateList(context.Background(), "usr_pm", "prj_1", ListInput{Name: "Todo"}); err != nil {
		t.Fatalf("CreateList: %v", err)
	}
	if names := f.listNames(t); !equalStrings(names, []string{"Todo"}) {
		t.Fatalf("lists = %v", names)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.ErrorLevel {
		t.Fatalf("expected an error log, got %+v", entry)
	}
	if entry.Data["error_type"] != "activity_log" {
		t.Fatalf("error_type = %v", entry.Data["error_type"])
	}
}

func TestInternalErrorsAreLoggedAndHidden(t *testing.T) {
	f := newFixture(t)
	log, hook := logtest.NewNullLogger()
	svc := New(config.Config{}, &failingStore{Store: f.store, failOn: 1}, log)

	a := f.list(t, "A")
	f.task(t, "one", &a.ID)
	f.task(t, "two", &a.ID)

	_, err := svc.MoveTask(context.Background(), "usr_member", "prj_1", f.firstTask(t, &a.ID).ID, ordering.Right)
	wantKind(t, err, KindInternal)

	res := Envelope(nil, err)
	if res.OK || res.Message != "something went wrong" {
		t.Fatalf("envelope = %+v", res)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Data["op"] != "move_task" {
		t.Fatalf("expected internal error log for move_task, got %+v", entry)
	}
}

func (f fixture) firstTask(t *testing.T, listID *string) store.Task {
	t.Helper()
	tasks, err := f.store.TasksInScope(context.Background(), "prj_1", listID)
	if err != nil || len(tasks) == 0 {
		t.Fatalf("TasksInScope: %v (%d tasks)", err, len(tasks))
	}
	return tasks[0]
}

func TestCancelledContextWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.CreateList(ctx, "usr_pm", "prj_1", ListInput{Name: "Todo"})
	if err == nil {
		t.Fatal("expected an error")
	}
	if names := f.listNames(t); len(names) != 0 {
		t.Fatalf("lists = %v", names)
	}
}
