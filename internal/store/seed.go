package store

import (
	"context"
	"database/sql"
	"fmt"

	"kanban/core/internal/rbac"
)

// SeedCatalog upserts the roles, permissions and grants of the catalog.
// Grants are additive: rows present in the database but absent from the
// catalog are left alone.
func SeedCatalog(ctx context.Context, db *sql.DB, catalog *rbac.Catalog) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range catalog.Permissions() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO permissions (id, name, description) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, description=EXCLUDED.description
		`, p.ID, string(p.Name), p.Description); err != nil {
			return fmt.Errorf("seed permission %s: %w", p.Name, err)
		}
	}

	for _, role := range catalog.Roles() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO roles (id, name_id, display_name, priority) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET name_id=EXCLUDED.name_id, display_name=EXCLUDED.display_name, priority=EXCLUDED.priority
		`, role.ID, string(role.NameID), role.DisplayName, role.Priority); err != nil {
			return fmt.Errorf("seed role %s: %w", role.NameID, err)
		}
		for _, name := range role.Permissions {
			permissionID, err := catalog.PermissionID(name)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)
				ON CONFLICT DO NOTHING
			`, role.ID, permissionID); err != nil {
				return fmt.Errorf("seed grant %s/%s: %w", role.NameID, name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}
	return nil
}
