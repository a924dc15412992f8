package app

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/sirupsen/logrus"

	"kanban/core/internal/authz"
	"kanban/core/internal/config"
	"kanban/core/internal/ordering"
	"kanban/core/internal/store"
)

// failingStore hands out transactions whose failOn-th SetTaskPlacement
// call fails.
type failingStore struct {
	store.Store
	failOn int
}

func (f *failingStore) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return f.Store.InTx(ctx, func(tx store.Tx) error {
		return fn(&failingTx{Tx: tx, failOn: f.failOn})
	})
}

type failingTx struct {
	store.Tx
	calls  int
	failOn int
}

func (f *failingTx) SetTaskPlacement(ctx context.Context, taskID string, listID *string, position int) error {
	f.calls++
	if f.calls == f.failOn {
		return errors.New("write failed")
	}
	return f.Tx.SetTaskPlacement(ctx, taskID, listID, position)
}

// arrangeBoard builds L1 = [X, Y, T] and L2 = [A, B, C].
func arrangeBoard(t *testing.T, f fixture) (l1, l2 store.List, task store.Task) {
	t.Helper()
	l1 = f.list(t, "L1")
	l2 = f.list(t, "L2")
	f.task(t, "X", &l1.ID)
	f.task(t, "Y", &l1.ID)
	task = f.task(t, "T", &l1.ID)
	f.task(t, "A", &l2.ID)
	f.task(t, "B", &l2.ID)
	f.task(t, "C", &l2.ID)
	return l1, l2, task
}

func TestArrangeTasksMovesAcrossLists(t *testing.T) {
	f := newFixture(t)
	l1, l2, task := arrangeBoard(t, f)

	placements, err := f.svc.ArrangeTasks(context.Background(), "usr_member", "prj_1", ArrangeTasksInput{
		Items: []ArrangeItem{{TaskID: task.ID, ListID: &l2.ID, Position: 0}},
	})
	if err != nil {
		t.Fatalf("ArrangeTasks: %v", err)
	}
	if len(placements) != 4 {
		t.Fatalf("placements = %+v, want 4", placements)
	}
	first := placements[0]
	if first.TaskID != task.ID || first.ListID == nil || *first.ListID != l2.ID || first.Position != 0 {
		t.Fatalf("first placement = %+v", first)
	}

	if titles := f.taskTitles(t, &l2.ID); !equalStrings(titles, []string{"T", "A", "B", "C"}) {
		t.Fatalf("L2 = %v", titles)
	}
	if titles := f.taskTitles(t, &l1.ID); !equalStrings(titles, []string{"X", "Y"}) {
		t.Fatalf("L1 = %v", titles)
	}
}

func TestArrangeTasksRollsBackOnFailedWrite(t *testing.T) {
	f := newFixture(t)
	l1, l2, task := arrangeBoard(t, f)
	before := len(f.activity(t))
	svc := New(config.Config{}, &failingStore{Store: f.store, failOn: 3}, logrus.New())

	_, err := svc.ArrangeTasks(context.Background(), "usr_member", "prj_1", ArrangeTasksInput{
		Items: []ArrangeItem{{TaskID: task.ID, ListID: &l2.ID, Position: 0}},
	})
	wantKind(t, err, KindInternal)

	if titles := f.taskTitles(t, &l1.ID); !equalStrings(titles, []string{"X", "Y", "T"}) {
		t.Fatalf("L1 = %v", titles)
	}
	if titles := f.taskTitles(t, &l2.ID); !equalStrings(titles, []string{"A", "B", "C"}) {
		t.Fatalf("L2 = %v", titles)
	}
	for _, listID := range []*string{&l1.ID, &l2.ID} {
		tasks, _ := f.store.TasksInScope(context.Background(), "prj_1", listID)
		for i, task := range tasks {
			if task.Position != i {
				t.Fatalf("%s at %d, want %d", task.Title, task.Position, i)
			}
		}
	}
	if after := len(f.activity(t)); after != before {
		t.Fatalf("activity rows %d -> %d after rollback", before, after)
	}
}

func TestArrangeTasksRejectsForeignTargets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, task := arrangeBoard(t, f)
	other, err := f.svc.CreateProject(ctx, "usr_pm", "team_1", ProjectInput{Name: "Other"})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	foreign, err := f.svc.CreateList(ctx, "usr_pm", other.ID, ListInput{Name: "Elsewhere"})
	if err != nil {
		t.Fatalf("CreateList: %v", err)
	}

	_, err = f.svc.ArrangeTasks(ctx, "usr_member", "prj_1", ArrangeTasksInput{
		Items: []ArrangeItem{{TaskID: task.ID, ListID: &foreign.ID, Position: 0}},
	})
	wantKind(t, err, KindNotFound)

	_, err = f.svc.ArrangeTasks(ctx, "usr_member", "prj_1", ArrangeTasksInput{
		Items: []ArrangeItem{{TaskID: task.ID, Position: 0}, {TaskID: task.ID, Position: 1}},
	})
	wantKind(t, err, KindValidationFailed)

	_, err = f.svc.ArrangeTasks(ctx, "usr_member", "prj_1", ArrangeTasksInput{
		Items: []ArrangeItem{{TaskID: task.ID, Position: -1}},
	})
	wantKind(t, err, KindValidationFailed)
}

func TestArrangeTasksIntoUnlisted(t *testing.T) {
	f := newFixture(t)
	l1, _, task := arrangeBoard(t, f)
	f.task(t, "loose", nil)

	placements, err := f.svc.ArrangeTasks(context.Background(), "usr_member", "prj_1", ArrangeTasksInput{
		Items: []ArrangeItem{{TaskID: task.ID, Position: 10}},
	})
	if err != nil {
		t.Fatalf("ArrangeTasks: %v", err)
	}
	if placements[0].ListID != nil || placements[0].Position != 1 {
		t.Fatalf("placement = %+v", placements[0])
	}
	if titles := f.taskTitles(t, nil); !equalStrings(titles, []string{"loose", "T"}) {
		t.Fatalf("unlisted = %v", titles)
	}
	if titles := f.taskTitles(t, &l1.ID); !equalStrings(titles, []string{"X", "Y"}) {
		t.Fatalf("L1 = %v", titles)
	}
}

func TestMoveTaskWithinScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.list(t, "L")
	f.task(t, "one", &l.ID)
	two := f.task(t, "two", &l.ID)

	swap, err := f.svc.MoveTask(ctx, "usr_member", "prj_1", two.ID, ordering.Left)
	if err != nil {
		t.Fatalf("MoveTask: %v", err)
	}
	if swap.MovedID != two.ID || swap.MovedPosition != 0 {
		t.Fatalf("swap = %+v", swap)
	}
	if titles := f.taskTitles(t, &l.ID); !equalStrings(titles, []string{"two", "one"}) {
		t.Fatalf("L = %v", titles)
	}
	if logs := f.activity(t); logs[0].Description != `member moved task "two" up` {
		t.Fatalf("description = %q", logs[0].Description)
	}

	_, err = f.svc.MoveTask(ctx, "usr_member", "prj_1", two.ID, ordering.Left)
	wantKind(t, err, KindOutOfBounds)
}

func TestKickedMemberIsUnauthorized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.list(t, "L")
	f.task(t, "one", &l.ID)
	two := f.task(t, "two", &l.ID)

	if err := f.svc.KickMember(ctx, "usr_owner", "team_1", "tm_member"); err != nil {
		t.Fatalf("KickMember: %v", err)
	}

	_, err := f.svc.MoveTask(ctx, "usr_member", "prj_1", two.ID, ordering.Left)
	wantKind(t, err, KindUnauthorized)
	if !errors.Is(err, authz.ErrNotAMember) {
		t.Fatalf("err = %v, want ErrNotAMember", err)
	}
	if titles := f.taskTitles(t, &l.ID); !equalStrings(titles, []string{"one", "two"}) {
		t.Fatalf("L = %v", titles)
	}
}

func TestUpdateTaskAssigneeOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assignee := "tm_member"
	task, err := f.svc.CreateTask(ctx, "usr_pm", "prj_1", CreateTaskInput{Title: "mine", AssigneeID: &assignee})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	updated, err := f.svc.UpdateTask(ctx, "usr_member", "prj_1", task.ID, UpdateTaskInput{Title: "still mine", AssigneeID: &assignee})
	if err != nil {
		t.Fatalf("assignee UpdateTask: %v", err)
	}
	if updated.Title != "still mine" {
		t.Fatalf("title = %q", updated.Title)
	}

	_, err = f.svc.UpdateTask(ctx, "usr_other", "prj_1", task.ID, UpdateTaskInput{Title: "not yours"})
	wantKind(t, err, KindUnauthorized)
	if !errors.Is(err, authz.ErrDenied) {
		t.Fatalf("err = %v, want ErrDenied", err)
	}

	if _, err := f.svc.UpdateTask(ctx, "usr_pm", "prj_1", task.ID, UpdateTaskInput{Title: "reassigned"}); err != nil {
		t.Fatalf("pm UpdateTask: %v", err)
	}
	_, err = f.svc.UpdateTask(ctx, "usr_member", "prj_1", task.ID, UpdateTaskInput{Title: "mine again"})
	wantKind(t, err, KindUnauthorized)
}

func TestCreateTaskChecksAssigneeAndList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := "tm_invitee"
	_, err := f.svc.CreateTask(ctx, "usr_member", "prj_1", CreateTaskInput{Title: "t", AssigneeID: &pending})
	wantKind(t, err, KindValidationFailed)

	missing := "lst_missing"
	_, err = f.svc.CreateTask(ctx, "usr_member", "prj_1", CreateTaskInput{Title: "t", ListID: &missing})
	wantKind(t, err, KindNotFound)

	_, err = f.svc.CreateTask(ctx, "usr_member", "prj_1", CreateTaskInput{Title: ""})
	wantKind(t, err, KindValidationFailed)

	_, err = f.svc.CreateTask(ctx, "usr_invitee", "prj_1", CreateTaskInput{Title: "t"})
	wantKind(t, err, KindUnauthorized)
}

func TestDeleteTaskCompactsScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.list(t, "L")
	f.task(t, "one", &l.ID)
	two := f.task(t, "two", &l.ID)
	f.task(t, "three", &l.ID)

	err := f.svc.DeleteTask(ctx, "usr_member", "prj_1", two.ID)
	wantKind(t, err, KindUnauthorized)

	if err := f.svc.DeleteTask(ctx, "usr_pm", "prj_1", two.ID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	tasks, _ := f.store.TasksInScope(ctx, "prj_1", &l.ID)
	if !ordering.Contiguous(taskItems(tasks)) || len(tasks) != 2 {
		t.Fatalf("tasks = %+v", tasks)
	}
}

// TestPositionsStayContiguous drives random creates, moves and arranges and
// checks every scope after each step.
func TestPositionsStayContiguous(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(11))

	var lists []store.List
	var tasks []store.Task
	scopeOf := func() *string {
		if len(lists) == 0 || rng.Intn(4) == 0 {
			return nil
		}
		id := lists[rng.Intn(len(lists))].ID
		return &id
	}
	dir := func() ordering.Direction {
		if rng.Intn(2) == 0 {
			return ordering.Left
		}
		return ordering.Right
	}

	for step := 0; step < 150; step++ {
		var err error
		switch op := rng.Intn(6); {
		case op == 0 || len(lists) == 0:
			lists = append(lists, f.list(t, "list"))
		case op == 1 || len(tasks) == 0:
			tasks = append(tasks, f.task(t, "task", scopeOf()))
		case op == 2:
			_, err = f.svc.MoveList(ctx, "usr_pm", "prj_1", lists[rng.Intn(len(lists))].ID, dir())
		case op == 3:
			_, err = f.svc.MoveTask(ctx, "usr_member", "prj_1", tasks[rng.Intn(len(tasks))].ID, dir())
		case op == 4:
			items := []ArrangeItem{{TaskID: tasks[rng.Intn(len(tasks))].ID, ListID: scopeOf(), Position: rng.Intn(5)}}
			_, err = f.svc.ArrangeTasks(ctx, "usr_member", "prj_1", ArrangeTasksInput{Items: items})
		default:
			ids := []string{lists[rng.Intn(len(lists))].ID}
			_, err = f.svc.ArrangeLists(ctx, "usr_pm", "prj_1", ArrangeListsInput{ListIDs: ids})
		}
		if err != nil && KindOf(err) != KindOutOfBounds {
			t.Fatalf("step %d: %v", step, err)
		}

		current, _ := f.store.ListsByProject(ctx, "prj_1")
		if !ordering.Contiguous(listItems(current)) {
			t.Fatalf("step %d: lists not contiguous: %+v", step, current)
		}
		scopes := []*string{nil}
		for i := range current {
			scopes = append(scopes, &current[i].ID)
		}
		for _, scope := range scopes {
			inScope, _ := f.store.TasksInScope(ctx, "prj_1", scope)
			if !ordering.Contiguous(taskItems(inScope)) {
				t.Fatalf("step %d: scope %v not contiguous: %+v", step, scope, inScope)
			}
		}
	}
}

func TestTasksReadsOneScope(t *testing.T) {
	f := newFixture(t)
	l := f.list(t, "L")
	f.task(t, "in list", &l.ID)
	f.task(t, "loose", nil)

	tasks, err := f.svc.Tasks(context.Background(), "usr_member", "prj_1", nil)
	if err != nil || len(tasks) != 1 || tasks[0].Title != "loose" {
		t.Fatalf("Tasks = %+v, %v", tasks, err)
	}
}
