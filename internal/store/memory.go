package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"kanban/core/internal/rbac"
)

// MemoryStore keeps everything in process. Committed state is an immutable
// snapshot; a transaction mutates a private copy that replaces the snapshot
// on commit, so a failed transaction leaves no trace. Transactions are
// serialized.
type MemoryStore struct {
	mu      sync.Mutex
	current atomic.Pointer[memoryData]
	now     func() time.Time
}

type memoryData struct {
	now func() time.Time

	users       map[string]User
	roles       map[int64]Role
	permissions map[int64]Permission
	grants      map[int64]map[string]struct{}
	teams       map[string]Team
	members     map[string]TeamMember
	projects    map[string]Project
	lists       map[string]List
	tasks       map[string]Task
	comments    map[string]Comment
	activity    []ActivityLog
}

// NewMemoryStore returns a store seeded with the catalog's roles,
// permissions and grants.
func NewMemoryStore(catalog *rbac.Catalog) *MemoryStore {
	s := &MemoryStore{now: time.Now}
	d := &memoryData{
		now:         func() time.Time { return s.now().UTC() },
		users:       map[string]User{},
		roles:       map[int64]Role{},
		permissions: map[int64]Permission{},
		grants:      map[int64]map[string]struct{}{},
		teams:       map[string]Team{},
		members:     map[string]TeamMember{},
		projects:    map[string]Project{},
		lists:       map[string]List{},
		tasks:       map[string]Task{},
		comments:    map[string]Comment{},
	}
	for _, p := range catalog.Permissions() {
		d.permissions[p.ID] = Permission{ID: p.ID, Name: string(p.Name), Description: p.Description}
	}
	for _, r := range catalog.Roles() {
		d.roles[r.ID] = Role{ID: r.ID, NameID: string(r.NameID), DisplayName: r.DisplayName, Priority: r.Priority}
		granted := make(map[string]struct{}, len(r.Permissions))
		for _, p := range r.Permissions {
			granted[string(p)] = struct{}{}
		}
		d.grants[r.ID] = granted
	}
	s.current.Store(d)
	return s
}

// SetClock replaces the time source used for CreatedAt stamps.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.current.Load().clone()
	if err := fn(work); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := work.checkPositions(); err != nil {
		return err
	}
	s.current.Store(work)
	return nil
}

func (s *MemoryStore) InsertActivity(ctx context.Context, entry ActivityLog) error {
	return s.InTx(ctx, func(tx Tx) error {
		return tx.(*memoryData).InsertActivity(ctx, entry)
	})
}

func (s *MemoryStore) view() *memoryData { return s.current.Load() }

func (s *MemoryStore) GetUser(ctx context.Context, id string) (User, error) {
	return s.view().GetUser(ctx, id)
}
func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.view().GetUserByEmail(ctx, email)
}
func (s *MemoryStore) UserIDBySubject(ctx context.Context, subject string) (string, error) {
	return s.view().UserIDBySubject(ctx, subject)
}
func (s *MemoryStore) GetTeam(ctx context.Context, id string) (Team, error) {
	return s.view().GetTeam(ctx, id)
}
func (s *MemoryStore) GetMember(ctx context.Context, id string) (TeamMember, error) {
	return s.view().GetMember(ctx, id)
}
func (s *MemoryStore) FindMember(ctx context.Context, teamID, userID string) (TeamMember, error) {
	return s.view().FindMember(ctx, teamID, userID)
}
func (s *MemoryStore) ListMembers(ctx context.Context, teamID string) ([]TeamMember, error) {
	return s.view().ListMembers(ctx, teamID)
}
func (s *MemoryStore) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.view().GetRole(ctx, id)
}
func (s *MemoryStore) GetRoleByNameID(ctx context.Context, nameID string) (Role, error) {
	return s.view().GetRoleByNameID(ctx, nameID)
}
func (s *MemoryStore) PermissionID(ctx context.Context, name string) (int64, error) {
	return s.view().PermissionID(ctx, name)
}
func (s *MemoryStore) RoleHasPermission(ctx context.Context, roleID int64, permission string) (bool, error) {
	return s.view().RoleHasPermission(ctx, roleID, permission)
}
func (s *MemoryStore) RolesAtOrBelowPriority(ctx context.Context, minPriority int) ([]Role, error) {
	return s.view().RolesAtOrBelowPriority(ctx, minPriority)
}
func (s *MemoryStore) GetProject(ctx context.Context, id string) (Project, error) {
	return s.view().GetProject(ctx, id)
}
func (s *MemoryStore) GetList(ctx context.Context, id string) (List, error) {
	return s.view().GetList(ctx, id)
}
func (s *MemoryStore) GetTask(ctx context.Context, id string) (Task, error) {
	return s.view().GetTask(ctx, id)
}
func (s *MemoryStore) GetComment(ctx context.Context, id string) (Comment, error) {
	return s.view().GetComment(ctx, id)
}
func (s *MemoryStore) ListsByProject(ctx context.Context, projectID string) ([]List, error) {
	return s.view().ListsByProject(ctx, projectID)
}
func (s *MemoryStore) TasksInScope(ctx context.Context, projectID string, listID *string) ([]Task, error) {
	return s.view().TasksInScope(ctx, projectID, listID)
}
func (s *MemoryStore) CommentsByTask(ctx context.Context, taskID string) ([]Comment, error) {
	return s.view().CommentsByTask(ctx, taskID)
}
func (s *MemoryStore) ListActivity(ctx context.Context, teamID string, limit int) ([]ActivityLog, error) {
	return s.view().ListActivity(ctx, teamID, limit)
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (d *memoryData) clone() *memoryData {
	return &memoryData{
		now:         d.now,
		users:       copyMap(d.users),
		roles:       d.roles,
		permissions: d.permissions,
		grants:      d.grants,
		teams:       copyMap(d.teams),
		members:     copyMap(d.members),
		projects:    copyMap(d.projects),
		lists:       copyMap(d.lists),
		tasks:       copyMap(d.tasks),
		comments:    copyMap(d.comments),
		activity:    append([]ActivityLog(nil), d.activity...),
	}
}

// checkPositions mirrors the deferred unique position constraints.
func (d *memoryData) checkPositions() error {
	seen := map[string]string{}
	for _, l := range d.lists {
		key := fmt.Sprintf("list|%s|%d", l.ProjectID, l.Position)
		if other, dup := seen[key]; dup {
			return fmt.Errorf("%w: lists %s and %s share position %d", ErrConflict, other, l.ID, l.Position)
		}
		seen[key] = l.ID
	}
	for _, t := range d.tasks {
		key := fmt.Sprintf("task|unlisted:%s|%d", t.ProjectID, t.Position)
		if t.ListID != nil {
			key = fmt.Sprintf("task|%s|%d", *t.ListID, t.Position)
		}
		if other, dup := seen[key]; dup {
			return fmt.Errorf("%w: tasks %s and %s share position %d", ErrConflict, other, t.ID, t.Position)
		}
		seen[key] = t.ID
	}
	return nil
}

func missing(what, id string) error {
	return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
}

func ptr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func (d *memoryData) GetUser(_ context.Context, id string) (User, error) {
	u, ok := d.users[id]
	if !ok {
		return User{}, missing("user", id)
	}
	return u, nil
}

func (d *memoryData) GetUserByEmail(_ context.Context, email string) (User, error) {
	for _, u := range d.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return User{}, missing("user", email)
}

func (d *memoryData) UserIDBySubject(_ context.Context, subject string) (string, error) {
	for _, u := range d.users {
		if u.Subject == subject {
			return u.ID, nil
		}
	}
	return "", missing("user", subject)
}

func (d *memoryData) InsertUser(_ context.Context, user User) error {
	if _, dup := d.users[user.ID]; dup {
		return fmt.Errorf("insert user: %w", ErrConflict)
	}
	for _, u := range d.users {
		if u.Subject == user.Subject || strings.EqualFold(u.Email, user.Email) {
			return fmt.Errorf("insert user: %w", ErrConflict)
		}
	}
	user.CreatedAt = d.now()
	d.users[user.ID] = user
	return nil
}

func (d *memoryData) GetTeam(_ context.Context, id string) (Team, error) {
	t, ok := d.teams[id]
	if !ok {
		return Team{}, missing("team", id)
	}
	return t, nil
}

func (d *memoryData) InsertTeam(_ context.Context, team Team) error {
	if _, ok := d.users[team.OwnerID]; !ok {
		return fmt.Errorf("insert team: unknown owner %s", team.OwnerID)
	}
	if _, dup := d.teams[team.ID]; dup {
		return fmt.Errorf("insert team: %w", ErrConflict)
	}
	team.CreatedAt = d.now()
	d.teams[team.ID] = team
	return nil
}

func (d *memoryData) UpdateTeam(_ context.Context, id, name string) error {
	t, ok := d.teams[id]
	if !ok {
		return missing("team", id)
	}
	t.Name = name
	d.teams[id] = t
	return nil
}

func (d *memoryData) DeleteTeam(ctx context.Context, id string) error {
	if _, ok := d.teams[id]; !ok {
		return missing("team", id)
	}
	for pid, p := range d.projects {
		if p.TeamID == id {
			_ = d.DeleteProject(ctx, pid)
		}
	}
	for mid, m := range d.members {
		if m.TeamID == id {
			_ = d.DeleteMember(ctx, mid)
		}
	}
	delete(d.teams, id)
	return nil
}

func (d *memoryData) GetMember(_ context.Context, id string) (TeamMember, error) {
	m, ok := d.members[id]
	if !ok {
		return TeamMember{}, missing("team member", id)
	}
	return m, nil
}

func (d *memoryData) FindMember(_ context.Context, teamID, userID string) (TeamMember, error) {
	for _, m := range d.members {
		if m.TeamID == teamID && m.UserID == userID {
			return m, nil
		}
	}
	return TeamMember{}, missing("team member", userID)
}

func (d *memoryData) ListMembers(_ context.Context, teamID string) ([]TeamMember, error) {
	var out []TeamMember
	for _, m := range d.members {
		if m.TeamID == teamID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (d *memoryData) InsertMember(ctx context.Context, member TeamMember) error {
	if _, ok := d.teams[member.TeamID]; !ok {
		return fmt.Errorf("insert team member: unknown team %s", member.TeamID)
	}
	if _, ok := d.users[member.UserID]; !ok {
		return fmt.Errorf("insert team member: unknown user %s", member.UserID)
	}
	if _, ok := d.roles[member.RoleID]; !ok {
		return fmt.Errorf("insert team member: unknown role %d", member.RoleID)
	}
	if _, err := d.FindMember(ctx, member.TeamID, member.UserID); err == nil {
		return fmt.Errorf("insert team member: %w", ErrConflict)
	}
	member.CreatedAt = d.now()
	d.members[member.ID] = member
	return nil
}

func (d *memoryData) ConfirmMember(_ context.Context, id string) error {
	m, ok := d.members[id]
	if !ok {
		return missing("team member", id)
	}
	m.InviteConfirmed = true
	d.members[id] = m
	return nil
}

func (d *memoryData) UpdateMemberRole(_ context.Context, id string, roleID int64) error {
	m, ok := d.members[id]
	if !ok {
		return missing("team member", id)
	}
	if _, ok := d.roles[roleID]; !ok {
		return fmt.Errorf("update member role: unknown role %d", roleID)
	}
	m.RoleID = roleID
	d.members[id] = m
	return nil
}

func (d *memoryData) DeleteMember(_ context.Context, id string) error {
	if _, ok := d.members[id]; !ok {
		return missing("team member", id)
	}
	for tid, t := range d.tasks {
		if t.AssigneeID != nil && *t.AssigneeID == id {
			t.AssigneeID = nil
			d.tasks[tid] = t
		}
	}
	for cid, c := range d.comments {
		if c.AuthorID == id {
			delete(d.comments, cid)
		}
	}
	delete(d.members, id)
	return nil
}

func (d *memoryData) GetRole(_ context.Context, id int64) (Role, error) {
	r, ok := d.roles[id]
	if !ok {
		return Role{}, missing("role", fmt.Sprint(id))
	}
	return r, nil
}

func (d *memoryData) GetRoleByNameID(_ context.Context, nameID string) (Role, error) {
	for _, r := range d.roles {
		if r.NameID == nameID {
			return r, nil
		}
	}
	return Role{}, missing("role", nameID)
}

func (d *memoryData) PermissionID(_ context.Context, name string) (int64, error) {
	for _, p := range d.permissions {
		if p.Name == name {
			return p.ID, nil
		}
	}
	return 0, missing("permission", name)
}

func (d *memoryData) RoleHasPermission(_ context.Context, roleID int64, permission string) (bool, error) {
	_, ok := d.grants[roleID][permission]
	return ok, nil
}

func (d *memoryData) RolesAtOrBelowPriority(_ context.Context, minPriority int) ([]Role, error) {
	var out []Role
	for _, r := range d.roles {
		if r.Priority >= minPriority {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (d *memoryData) GetProject(_ context.Context, id string) (Project, error) {
	p, ok := d.projects[id]
	if !ok {
		return Project{}, missing("project", id)
	}
	return p, nil
}

func (d *memoryData) LockProject(_ context.Context, id string) error {
	if _, ok := d.projects[id]; !ok {
		return missing("project", id)
	}
	return nil
}

func (d *memoryData) InsertProject(_ context.Context, project Project) error {
	if _, ok := d.teams[project.TeamID]; !ok {
		return fmt.Errorf("insert project: unknown team %s", project.TeamID)
	}
	project.CreatedAt = d.now()
	d.projects[project.ID] = project
	return nil
}

func (d *memoryData) UpdateProject(_ context.Context, id, name string) error {
	p, ok := d.projects[id]
	if !ok {
		return missing("project", id)
	}
	p.Name = name
	d.projects[id] = p
	return nil
}

func (d *memoryData) DeleteProject(ctx context.Context, id string) error {
	if _, ok := d.projects[id]; !ok {
		return missing("project", id)
	}
	for tid, t := range d.tasks {
		if t.ProjectID == id {
			_ = d.DeleteTask(ctx, tid)
		}
	}
	for lid, l := range d.lists {
		if l.ProjectID == id {
			delete(d.lists, lid)
		}
	}
	delete(d.projects, id)
	return nil
}

func (d *memoryData) GetList(_ context.Context, id string) (List, error) {
	l, ok := d.lists[id]
	if !ok {
		return List{}, missing("list", id)
	}
	return l, nil
}

func (d *memoryData) ListsByProject(_ context.Context, projectID string) ([]List, error) {
	var out []List
	for _, l := range d.lists {
		if l.ProjectID == projectID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (d *memoryData) InsertList(_ context.Context, list List) error {
	if _, ok := d.projects[list.ProjectID]; !ok {
		return fmt.Errorf("insert list: unknown project %s", list.ProjectID)
	}
	list.CreatedAt = d.now()
	d.lists[list.ID] = list
	return nil
}

func (d *memoryData) UpdateList(_ context.Context, id, name string) error {
	l, ok := d.lists[id]
	if !ok {
		return missing("list", id)
	}
	l.Name = name
	d.lists[id] = l
	return nil
}

func (d *memoryData) DeleteList(_ context.Context, id string) error {
	if _, ok := d.lists[id]; !ok {
		return missing("list", id)
	}
	for tid, t := range d.tasks {
		if t.ListID != nil && *t.ListID == id {
			t.ListID = nil
			d.tasks[tid] = t
		}
	}
	delete(d.lists, id)
	return nil
}

func (d *memoryData) SetListPosition(_ context.Context, id string, position int) error {
	l, ok := d.lists[id]
	if !ok {
		return missing("list", id)
	}
	l.Position = position
	d.lists[id] = l
	return nil
}

func (d *memoryData) GetTask(_ context.Context, id string) (Task, error) {
	t, ok := d.tasks[id]
	if !ok {
		return Task{}, missing("task", id)
	}
	t.ListID, t.AssigneeID = ptr(t.ListID), ptr(t.AssigneeID)
	return t, nil
}

func (d *memoryData) TasksInScope(_ context.Context, projectID string, listID *string) ([]Task, error) {
	var out []Task
	for _, t := range d.tasks {
		if t.ProjectID != projectID {
			continue
		}
		if (listID == nil) != (t.ListID == nil) {
			continue
		}
		if listID != nil && *listID != *t.ListID {
			continue
		}
		t.ListID, t.AssigneeID = ptr(t.ListID), ptr(t.AssigneeID)
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (d *memoryData) InsertTask(_ context.Context, task Task) error {
	if _, ok := d.projects[task.ProjectID]; !ok {
		return fmt.Errorf("insert task: unknown project %s", task.ProjectID)
	}
	if task.ListID != nil {
		if _, ok := d.lists[*task.ListID]; !ok {
			return fmt.Errorf("insert task: unknown list %s", *task.ListID)
		}
	}
	if task.AssigneeID != nil {
		if _, ok := d.members[*task.AssigneeID]; !ok {
			return fmt.Errorf("insert task: unknown assignee %s", *task.AssigneeID)
		}
	}
	now := d.now()
	task.CreatedAt, task.UpdatedAt = now, now
	task.ListID, task.AssigneeID = ptr(task.ListID), ptr(task.AssigneeID)
	d.tasks[task.ID] = task
	return nil
}

func (d *memoryData) UpdateTask(_ context.Context, task Task) error {
	t, ok := d.tasks[task.ID]
	if !ok {
		return missing("task", task.ID)
	}
	if task.AssigneeID != nil {
		if _, ok := d.members[*task.AssigneeID]; !ok {
			return fmt.Errorf("update task: unknown assignee %s", *task.AssigneeID)
		}
	}
	t.Title = task.Title
	t.Description = task.Description
	t.AssigneeID = ptr(task.AssigneeID)
	t.UpdatedAt = d.now()
	d.tasks[task.ID] = t
	return nil
}

func (d *memoryData) DeleteTask(_ context.Context, id string) error {
	if _, ok := d.tasks[id]; !ok {
		return missing("task", id)
	}
	for cid, c := range d.comments {
		if c.TaskID == id {
			delete(d.comments, cid)
		}
	}
	delete(d.tasks, id)
	return nil
}

func (d *memoryData) SetTaskPlacement(_ context.Context, id string, listID *string, position int) error {
	t, ok := d.tasks[id]
	if !ok {
		return missing("task", id)
	}
	if listID != nil {
		if _, ok := d.lists[*listID]; !ok {
			return fmt.Errorf("set task placement: unknown list %s", *listID)
		}
	}
	t.ListID = ptr(listID)
	t.Position = position
	t.UpdatedAt = d.now()
	d.tasks[id] = t
	return nil
}

func (d *memoryData) GetComment(_ context.Context, id string) (Comment, error) {
	c, ok := d.comments[id]
	if !ok {
		return Comment{}, missing("comment", id)
	}
	return c, nil
}

func (d *memoryData) CommentsByTask(_ context.Context, taskID string) ([]Comment, error) {
	var out []Comment
	for _, c := range d.comments {
		if c.TaskID == taskID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (d *memoryData) InsertComment(_ context.Context, comment Comment) error {
	if _, ok := d.tasks[comment.TaskID]; !ok {
		return fmt.Errorf("insert comment: unknown task %s", comment.TaskID)
	}
	if _, ok := d.members[comment.AuthorID]; !ok {
		return fmt.Errorf("insert comment: unknown author %s", comment.AuthorID)
	}
	now := d.now()
	comment.CreatedAt, comment.UpdatedAt = now, now
	d.comments[comment.ID] = comment
	return nil
}

func (d *memoryData) UpdateComment(_ context.Context, id, body string) error {
	c, ok := d.comments[id]
	if !ok {
		return missing("comment", id)
	}
	c.Body = body
	c.UpdatedAt = d.now()
	d.comments[id] = c
	return nil
}

func (d *memoryData) DeleteComment(_ context.Context, id string) error {
	if _, ok := d.comments[id]; !ok {
		return missing("comment", id)
	}
	delete(d.comments, id)
	return nil
}

func (d *memoryData) InsertActivity(_ context.Context, entry ActivityLog) error {
	p, ok := d.permissions[entry.PermissionID]
	if !ok {
		return fmt.Errorf("insert activity: unknown permission %d", entry.PermissionID)
	}
	entry.ID = int64(len(d.activity) + 1)
	entry.Permission = p.Name
	entry.CreatedAt = d.now()
	d.activity = append(d.activity, entry)
	return nil
}

func (d *memoryData) ListActivity(_ context.Context, teamID string, limit int) ([]ActivityLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []ActivityLog
	for i := len(d.activity) - 1; i >= 0 && len(out) < limit; i-- {
		if d.activity[i].TeamID == teamID {
			out = append(out, d.activity[i])
		}
	}
	return out, nil
}
