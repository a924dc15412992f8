package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"kanban/core/internal/rbac"
)

// openTestStore returns a migrated and seeded store on a fresh public
// schema. It skips unless KANBAN_TEST_DATABASE_URL is set.
func openTestStore(t *testing.T) (*PostgresStore, *sql.DB) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("KANBAN_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("KANBAN_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn, PoolOptions{})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, db, Migrations()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if err := SeedCatalog(ctx, db, rbac.DefaultCatalog()); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	return NewPostgresStore(db), db
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	_, db := openTestStore(t)
	ctx := context.Background()

	if err := RevertMigrations(ctx, db, Migrations()); err != nil {
		t.Fatalf("revert migrations: %v", err)
	}
	if err := ApplyMigrations(ctx, db, Migrations()); err != nil {
		t.Fatalf("apply migrations (pass 2): %v", err)
	}
	if err := SeedCatalog(ctx, db, rbac.DefaultCatalog()); err != nil {
		t.Fatalf("seed after round trip: %v", err)
	}
}

func TestSeedCatalogIsIdempotent(t *testing.T) {
	s, db := openTestStore(t)
	ctx := context.Background()

	if err := SeedCatalog(ctx, db, rbac.DefaultCatalog()); err != nil {
		t.Fatalf("second seed: %v", err)
	}
	roles, err := s.RolesAtOrBelowPriority(ctx, 1)
	if err != nil {
		t.Fatalf("RolesAtOrBelowPriority: %v", err)
	}
	if len(roles) != 3 || roles[0].NameID != "owner" {
		t.Fatalf("unexpected roles %+v", roles)
	}
	member, _ := s.GetRoleByNameID(ctx, "member")
	if ok, _ := s.RoleHasPermission(ctx, member.ID, "create_task"); !ok {
		t.Fatal("member should hold create_task")
	}
	if ok, _ := s.RoleHasPermission(ctx, member.ID, "delete_project"); ok {
		t.Fatal("member must not hold delete_project")
	}
}

func seedProject(t *testing.T, ctx context.Context, s Store) (projectID string) {
	t.Helper()
	owner, _ := s.GetRoleByNameID(ctx, "owner")
	err := s.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertUser(ctx, User{ID: "usr_ada", Subject: "sub-ada", Name: "Ada", Email: "ada@example.com"}); err != nil {
			return err
		}
		if err := tx.InsertTeam(ctx, Team{ID: "team_1", Name: "Core", OwnerID: "usr_ada"}); err != nil {
			return err
		}
		if err := tx.InsertMember(ctx, TeamMember{ID: "tm_ada", UserID: "usr_ada", TeamID: "team_1", RoleID: owner.ID, InviteConfirmed: true}); err != nil {
			return err
		}
		return tx.InsertProject(ctx, Project{ID: "prj_1", TeamID: "team_1", Name: "Board"})
	})
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}
	return "prj_1"
}

func TestPostgresSwapThroughDeferredConstraint(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	projectID := seedProject(t, ctx, s)

	err := s.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertList(ctx, List{ID: "lst_a", ProjectID: projectID, Name: "A", Position: 0}); err != nil {
			return err
		}
		return tx.InsertList(ctx, List{ID: "lst_b", ProjectID: projectID, Name: "B", Position: 1})
	})
	if err != nil {
		t.Fatalf("insert lists: %v", err)
	}

	err = s.InTx(ctx, func(tx Tx) error {
		if err := tx.LockProject(ctx, projectID); err != nil {
			return err
		}
		if err := tx.SetListPosition(ctx, "lst_b", 0); err != nil {
			return err
		}
		return tx.SetListPosition(ctx, "lst_a", 1)
	})
	if err != nil {
		t.Fatalf("swap: %v", err)
	}

	lists, err := s.ListsByProject(ctx, projectID)
	if err != nil {
		t.Fatalf("ListsByProject: %v", err)
	}
	if lists[0].ID != "lst_b" || lists[1].ID != "lst_a" {
		t.Fatalf("unexpected order %+v", lists)
	}

	err = s.InTx(ctx, func(tx Tx) error {
		return tx.SetListPosition(ctx, "lst_a", 0)
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate position at commit: got %v, want ErrConflict", err)
	}
}

func TestPostgresDeleteListLeavesTasks(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	projectID := seedProject(t, ctx, s)
	listID := "lst_a"

	err := s.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertList(ctx, List{ID: listID, ProjectID: projectID, Name: "A"}); err != nil {
			return err
		}
		return tx.InsertTask(ctx, Task{ID: "tsk_1", ProjectID: projectID, ListID: &listID, Title: "one"})
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.InTx(ctx, func(tx Tx) error { return tx.DeleteList(ctx, listID) }); err != nil {
		t.Fatalf("delete list: %v", err)
	}
	task, err := s.GetTask(ctx, "tsk_1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.ListID != nil {
		t.Fatalf("expected task to become unlisted, got list %s", *task.ListID)
	}
}

func TestActivityLogImmutability(t *testing.T) {
	s, db := openTestStore(t)
	ctx := context.Background()

	permissionID, err := s.PermissionID(ctx, "create_task")
	if err != nil {
		t.Fatalf("PermissionID: %v", err)
	}
	if err := s.InsertActivity(ctx, ActivityLog{TeamID: "team_x", PermissionID: permissionID, MemberID: "tm_x", Description: "created"}); err != nil {
		t.Fatalf("insert activity should succeed: %v", err)
	}

	cases := []struct {
		op    string
		query string
	}{
		{op: "UPDATE", query: `UPDATE activity_logs SET description='changed' WHERE team_id='team_x'`},
		{op: "DELETE", query: `DELETE FROM activity_logs WHERE team_id='team_x'`},
	}
	for _, tc := range cases {
		t.Run(tc.op, func(t *testing.T) {
			_, err := db.ExecContext(ctx, tc.query)
			if err == nil {
				t.Fatalf("expected %s to be blocked", tc.op)
			}
			var pgErr *pgconn.PgError
			if !errors.As(err, &pgErr) {
				t.Fatalf("expected PostgreSQL error, got: %v", err)
			}
			if pgErr.SQLState() != "55000" {
				t.Fatalf("expected SQLSTATE 55000, got: %s", pgErr.SQLState())
			}
			if pgErr.Message != "activity_logs is immutable; "+tc.op+" is not allowed" {
				t.Fatalf("unexpected error message: %s", pgErr.Message)
			}
		})
	}

	logs, err := s.ListActivity(ctx, "team_x", 10)
	if err != nil {
		t.Fatalf("ListActivity: %v", err)
	}
	if len(logs) != 1 || logs[0].Permission != "create_task" {
		t.Fatalf("unexpected activity %+v", logs)
	}
}
