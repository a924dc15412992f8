package rbac

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var defaultSeed []byte

var ErrUnknownPermission = errors.New("rbac: unknown permission")

// RoleDef is a seeded role. ID is assigned by the catalog in priority order.
type RoleDef struct {
	ID          int64        `yaml:"-"`
	NameID      RoleName     `yaml:"name_id"`
	DisplayName string       `yaml:"display_name"`
	Priority    int          `yaml:"priority"`
	Permissions []Permission `yaml:"permissions"`
}

type PermissionDef struct {
	ID          int64      `yaml:"-"`
	Name        Permission `yaml:"name"`
	Description string     `yaml:"description"`
}

type seedDocument struct {
	Permissions []PermissionDef `yaml:"permissions"`
	Roles       []RoleDef       `yaml:"roles"`
}

// Catalog is the read-only grant matrix. It is safe for concurrent use.
type Catalog struct {
	roles       []RoleDef
	permissions []PermissionDef
	byName      map[Permission]PermissionDef
	grants      map[int64]map[Permission]struct{}
}

// DefaultCatalog returns the catalog parsed from the embedded seed document.
func DefaultCatalog() *Catalog {
	catalog, err := Parse(defaultSeed)
	if err != nil {
		panic(fmt.Sprintf("rbac: embedded seed: %v", err))
	}
	return catalog
}

// Parse builds a catalog from a YAML seed document. A role listing "*" is
// granted every declared permission.
func Parse(data []byte) (*Catalog, error) {
	var doc seedDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	if len(doc.Roles) == 0 || len(doc.Permissions) == 0 {
		return nil, errors.New("seed must declare roles and permissions")
	}

	c := &Catalog{
		byName: make(map[Permission]PermissionDef, len(doc.Permissions)),
		grants: make(map[int64]map[Permission]struct{}, len(doc.Roles)),
	}
	for i, p := range doc.Permissions {
		if p.Name == "" {
			return nil, fmt.Errorf("permission %d has no name", i)
		}
		if _, dup := c.byName[p.Name]; dup {
			return nil, fmt.Errorf("duplicate permission %q", p.Name)
		}
		p.ID = int64(i + 1)
		c.permissions = append(c.permissions, p)
		c.byName[p.Name] = p
	}

	roles := append([]RoleDef(nil), doc.Roles...)
	sort.SliceStable(roles, func(i, j int) bool { return roles[i].Priority < roles[j].Priority })
	seen := make(map[RoleName]struct{}, len(roles))
	for i := range roles {
		role := &roles[i]
		if role.NameID == "" {
			return nil, fmt.Errorf("role %d has no name_id", i)
		}
		if _, dup := seen[role.NameID]; dup {
			return nil, fmt.Errorf("duplicate role %q", role.NameID)
		}
		seen[role.NameID] = struct{}{}
		role.ID = int64(i + 1)

		granted := make(map[Permission]struct{})
		for _, name := range role.Permissions {
			if name == "*" {
				for _, p := range c.permissions {
					granted[p.Name] = struct{}{}
				}
				continue
			}
			if _, ok := c.byName[name]; !ok {
				return nil, fmt.Errorf("role %q grants undeclared permission %q", role.NameID, name)
			}
			granted[name] = struct{}{}
		}
		role.Permissions = role.Permissions[:0]
		for _, p := range c.permissions {
			if _, ok := granted[p.Name]; ok {
				role.Permissions = append(role.Permissions, p.Name)
			}
		}
		c.grants[role.ID] = granted
	}
	c.roles = roles
	return c, nil
}

// Roles returns every role, most senior first.
func (c *Catalog) Roles() []RoleDef {
	return append([]RoleDef(nil), c.roles...)
}

func (c *Catalog) Permissions() []PermissionDef {
	return append([]PermissionDef(nil), c.permissions...)
}

func (c *Catalog) Role(name RoleName) (RoleDef, bool) {
	for _, role := range c.roles {
		if role.NameID == name {
			return role, true
		}
	}
	return RoleDef{}, false
}

func (c *Catalog) PermissionID(name Permission) (int64, error) {
	p, ok := c.byName[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPermission, name)
	}
	return p.ID, nil
}

// RolesAtOrBelowPriority returns the roles whose priority is minPriority or
// less senior, most senior first.
func (c *Catalog) RolesAtOrBelowPriority(minPriority int) []RoleDef {
	out := make([]RoleDef, 0, len(c.roles))
	for _, role := range c.roles {
		if role.Priority >= minPriority {
			out = append(out, role)
		}
	}
	return out
}

// Can reports whether the role is granted the permission.
func (c *Catalog) Can(roleID int64, permission Permission) bool {
	_, ok := c.grants[roleID][permission]
	return ok
}
