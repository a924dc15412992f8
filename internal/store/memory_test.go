package store

import (
	"context"
	"errors"
	"testing"

	"kanban/core/internal/rbac"
)

func newSeededMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore(rbac.DefaultCatalog())
	ctx := context.Background()
	if got := seedProject(t, ctx, s); got != "prj_1" {
		t.Fatalf("unexpected project id %s", got)
	}
	return s
}

func TestMemoryStoreRollsBackFailedTransaction(t *testing.T) {
	s := newSeededMemoryStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertList(ctx, List{ID: "lst_a", ProjectID: "prj_1", Name: "A"}); err != nil {
			return err
		}
		if err := tx.UpdateProject(ctx, "prj_1", "Renamed"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx error = %v, want boom", err)
	}

	if _, err := s.GetList(ctx, "lst_a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("list survived rollback: %v", err)
	}
	project, _ := s.GetProject(ctx, "prj_1")
	if project.Name != "Board" {
		t.Fatalf("project rename survived rollback: %q", project.Name)
	}
}

func TestMemoryStoreTransactionSeesOwnWrites(t *testing.T) {
	s := newSeededMemoryStore(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertList(ctx, List{ID: "lst_a", ProjectID: "prj_1", Name: "A"}); err != nil {
			return err
		}
		if _, err := tx.GetList(ctx, "lst_a"); err != nil {
			t.Errorf("tx should see its own insert: %v", err)
		}
		if _, err := s.GetList(ctx, "lst_a"); !errors.Is(err, ErrNotFound) {
			t.Errorf("uncommitted insert visible outside tx: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
}

func TestMemoryStoreRejectsDuplicatePositionsAtCommit(t *testing.T) {
	s := newSeededMemoryStore(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertList(ctx, List{ID: "lst_a", ProjectID: "prj_1", Name: "A", Position: 0}); err != nil {
			return err
		}
		if err := tx.InsertList(ctx, List{ID: "lst_b", ProjectID: "prj_1", Name: "B", Position: 0}); err != nil {
			return err
		}
		return nil
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}

	err = s.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertList(ctx, List{ID: "lst_a", ProjectID: "prj_1", Name: "A", Position: 0}); err != nil {
			return err
		}
		if err := tx.InsertList(ctx, List{ID: "lst_b", ProjectID: "prj_1", Name: "B", Position: 0}); err != nil {
			return err
		}
		return tx.SetListPosition(ctx, "lst_b", 1)
	})
	if err != nil {
		t.Fatalf("duplicates resolved before commit should pass: %v", err)
	}
}

func TestMemoryStoreCascades(t *testing.T) {
	s := newSeededMemoryStore(t)
	ctx := context.Background()
	listID := "lst_a"
	assignee := "tm_ada"

	err := s.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertList(ctx, List{ID: listID, ProjectID: "prj_1", Name: "A"}); err != nil {
			return err
		}
		if err := tx.InsertTask(ctx, Task{ID: "tsk_1", ProjectID: "prj_1", ListID: &listID, Title: "one", AssigneeID: &assignee}); err != nil {
			return err
		}
		return tx.InsertComment(ctx, Comment{ID: "cmt_1", TaskID: "tsk_1", AuthorID: "tm_ada", Body: "hi"})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := s.InTx(ctx, func(tx Tx) error { return tx.DeleteList(ctx, listID) }); err != nil {
		t.Fatalf("delete list: %v", err)
	}
	task, err := s.GetTask(ctx, "tsk_1")
	if err != nil {
		t.Fatalf("task should survive list deletion: %v", err)
	}
	if task.ListID != nil {
		t.Fatalf("task still references deleted list")
	}

	if err := s.InTx(ctx, func(tx Tx) error { return tx.DeleteTeam(ctx, "team_1") }); err != nil {
		t.Fatalf("delete team: %v", err)
	}
	for name, check := range map[string]error{
		"project": func() error { _, err := s.GetProject(ctx, "prj_1"); return err }(),
		"task":    func() error { _, err := s.GetTask(ctx, "tsk_1"); return err }(),
		"comment": func() error { _, err := s.GetComment(ctx, "cmt_1"); return err }(),
		"member":  func() error { _, err := s.GetMember(ctx, "tm_ada"); return err }(),
	} {
		if !errors.Is(check, ErrNotFound) {
			t.Errorf("%s should be gone after team deletion, got %v", name, check)
		}
	}
}

func TestMemoryStoreActivitySurvivesTeamDeletion(t *testing.T) {
	s := newSeededMemoryStore(t)
	ctx := context.Background()

	permissionID, err := s.PermissionID(ctx, "create_project")
	if err != nil {
		t.Fatalf("PermissionID: %v", err)
	}
	for _, description := range []string{"first", "second"} {
		if err := s.InsertActivity(ctx, ActivityLog{TeamID: "team_1", PermissionID: permissionID, MemberID: "tm_ada", Description: description}); err != nil {
			t.Fatalf("InsertActivity: %v", err)
		}
	}
	if err := s.InTx(ctx, func(tx Tx) error { return tx.DeleteTeam(ctx, "team_1") }); err != nil {
		t.Fatalf("delete team: %v", err)
	}

	logs, err := s.ListActivity(ctx, "team_1", 1)
	if err != nil {
		t.Fatalf("ListActivity: %v", err)
	}
	if len(logs) != 1 || logs[0].Description != "second" || logs[0].Permission != "create_project" {
		t.Fatalf("unexpected activity %+v", logs)
	}
}

func TestMemoryStoreHonoursCancelledContext(t *testing.T) {
	s := newSeededMemoryStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	err := s.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertList(ctx, List{ID: "lst_a", ProjectID: "prj_1", Name: "A"}); err != nil {
			return err
		}
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if _, err := s.GetList(context.Background(), "lst_a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cancelled tx committed: %v", err)
	}
}

func TestMemoryStoreMatchesCatalog(t *testing.T) {
	catalog := rbac.DefaultCatalog()
	s := NewMemoryStore(catalog)
	ctx := context.Background()

	for _, role := range catalog.Roles() {
		for _, p := range catalog.Permissions() {
			got, err := s.RoleHasPermission(ctx, role.ID, string(p.Name))
			if err != nil {
				t.Fatalf("RoleHasPermission: %v", err)
			}
			if want := catalog.Can(role.ID, p.Name); got != want {
				t.Errorf("%s/%s = %v, want %v", role.NameID, p.Name, got, want)
			}
		}
	}

	if _, err := s.PermissionID(ctx, "no_such_permission"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown permission: got %v", err)
	}
}
