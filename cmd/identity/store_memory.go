package identity

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore is a Repository kept in process memory, for development and
// tests. Records are copied in and out through the clone function so callers
// never share state with the store.
type MemoryStore[U Principal] struct {
	mu    sync.Mutex
	clone func(U) U
	now   func() time.Time

	users map[string]U
	roles map[string]Role
}

// NewMemoryStore constructs an empty MemoryStore. clone must return a deep
// copy of its argument; for *User pass CloneUser.
func NewMemoryStore[U Principal](clone func(U) U) *MemoryStore[U] {
	return &MemoryStore[U]{
		clone: clone,
		now:   func() time.Time { return time.Now().UTC() },
		users: make(map[string]U),
		roles: make(map[string]Role),
	}
}

// NewUserMemoryStore is NewMemoryStore for the plain *User record.
func NewUserMemoryStore() *MemoryStore[*User] {
	return NewMemoryStore(CloneUser)
}

func (s *MemoryStore[U]) Get(ctx context.Context, id string) (U, error) {
	var zero U
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return zero, NotFoundError{Op: "identity.Get", Resource: "user"}
	}
	return s.clone(u), nil
}

func (s *MemoryStore[U]) GetBy(ctx context.Context, f UserFilter) (U, error) {
	const op = "identity.GetBy"

	var zero U
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if f.Empty() {
		return zero, InvalidInput(op, "empty filter")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		found U
		n     int
	)
	for _, u := range s.users {
		if f.Match(u.Identity()) {
			found = u
			n++
		}
	}
	if n != 1 {
		return zero, NotFoundError{Op: op, Resource: "user"}
	}
	return s.clone(found), nil
}

func (s *MemoryStore[U]) Add(ctx context.Context, u U) (U, error) {
	const op = "identity.Add"

	var zero U
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if u == zero || u.Identity().ID == "" {
		return zero, InvalidInput(op, "user id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := u.Identity()
	if _, ok := s.users[id.ID]; ok {
		return zero, ConflictError{Op: op, Field: "id"}
	}
	if s.emailTakenLocked(id.Email, "") {
		return zero, ConflictError{Op: op, Field: "email"}
	}
	for _, r := range id.Roles {
		if _, ok := s.roles[r.ID]; !ok {
			return zero, NotFoundError{Op: op, Resource: "role"}
		}
	}

	stored := s.clone(u)
	for i, r := range stored.Identity().Roles {
		stored.Identity().Roles[i] = s.roles[r.ID]
	}
	s.users[id.ID] = stored
	return s.clone(stored), nil
}

func (s *MemoryStore[U]) Update(ctx context.Context, id string, p UserPatch[U]) (U, error) {
	const op = "identity.Update"

	var zero U
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.users[id]
	if !ok {
		return zero, NotFoundError{Op: op, Resource: "user"}
	}
	if p.Email != nil && s.emailTakenLocked(*p.Email, id) {
		return zero, ConflictError{Op: op, Field: "email"}
	}

	next := s.clone(cur)
	p.Apply(next, s.now())
	// Identity fields owned by the store survive Mutate.
	next.Identity().ID = id
	next.Identity().Roles = slices.Clone(cur.Identity().Roles)

	s.users[id] = next
	return s.clone(next), nil
}

func (s *MemoryStore[U]) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return NotFoundError{Op: "identity.Delete", Resource: "user"}
	}
	delete(s.users, id)
	return nil
}

func (s *MemoryStore[U]) GetRole(ctx context.Context, id string) (Role, error) {
	if err := ctx.Err(); err != nil {
		return Role{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.roles[id]
	if !ok {
		return Role{}, NotFoundError{Op: "identity.GetRole", Resource: "role"}
	}
	return r, nil
}

func (s *MemoryStore[U]) GetRoleByName(ctx context.Context, name string) (Role, error) {
	if err := ctx.Err(); err != nil {
		return Role{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name = NormalizeRoleName(name)
	for _, r := range s.roles {
		if r.Name == name {
			return r, nil
		}
	}
	return Role{}, NotFoundError{Op: "identity.GetRoleByName", Resource: "role"}
}

func (s *MemoryStore[U]) AddRole(ctx context.Context, r Role) (Role, error) {
	const op = "identity.AddRole"

	if err := ctx.Err(); err != nil {
		return Role{}, err
	}
	if r.ID == "" || NormalizeRoleName(r.Name) == "" {
		return Role{}, InvalidInput(op, "role id and name are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roles[r.ID]; ok {
		return Role{}, ConflictError{Op: op, Field: "id"}
	}
	if s.roleNameTakenLocked(r.Name, "") {
		return Role{}, ConflictError{Op: op, Field: "role_name"}
	}
	r.Name = NormalizeRoleName(r.Name)
	s.roles[r.ID] = r
	return r, nil
}

func (s *MemoryStore[U]) UpdateRole(ctx context.Context, id string, p RolePatch) (Role, error) {
	const op = "identity.UpdateRole"

	if err := ctx.Err(); err != nil {
		return Role{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.roles[id]
	if !ok {
		return Role{}, NotFoundError{Op: op, Resource: "role"}
	}
	if p.Name != nil {
		if NormalizeRoleName(*p.Name) == "" {
			return Role{}, InvalidInput(op, "role name is required")
		}
		if s.roleNameTakenLocked(*p.Name, id) {
			return Role{}, ConflictError{Op: op, Field: "role_name"}
		}
		name := NormalizeRoleName(*p.Name)
		p.Name = &name
	}
	p.Apply(&r, s.now())
	s.roles[id] = r

	for _, u := range s.users {
		roles := u.Identity().Roles
		for i := range roles {
			if roles[i].ID == id {
				roles[i] = r
			}
		}
	}
	return r, nil
}

func (s *MemoryStore[U]) DeleteRole(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roles[id]; !ok {
		return NotFoundError{Op: "identity.DeleteRole", Resource: "role"}
	}
	delete(s.roles, id)

	for _, u := range s.users {
		u.Identity().Roles = slices.DeleteFunc(u.Identity().Roles, func(r Role) bool { return r.ID == id })
	}
	return nil
}

func (s *MemoryStore[U]) AssignRole(ctx context.Context, userID, roleID string) (U, error) {
	const op = "identity.AssignRole"

	var zero U
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return zero, NotFoundError{Op: op, Resource: "user"}
	}
	r, ok := s.roles[roleID]
	if !ok {
		return zero, NotFoundError{Op: op, Resource: "role"}
	}
	id := u.Identity()
	if id.HasRoleID(roleID) {
		return zero, ConflictError{Op: op, Field: "role"}
	}
	id.Roles = append(id.Roles, r)
	return s.clone(u), nil
}

func (s *MemoryStore[U]) RevokeRole(ctx context.Context, userID, roleID string) (U, error) {
	const op = "identity.RevokeRole"

	var zero U
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return zero, NotFoundError{Op: op, Resource: "user"}
	}
	id := u.Identity()
	if !id.HasRoleID(roleID) {
		return zero, NotFoundError{Op: op, Resource: "role_membership"}
	}
	id.Roles = slices.DeleteFunc(id.Roles, func(r Role) bool { return r.ID == roleID })
	return s.clone(u), nil
}

func (s *MemoryStore[U]) emailTakenLocked(email, exceptID string) bool {
	norm := NormalizeEmail(email)
	for id, u := range s.users {
		if id != exceptID && NormalizeEmail(u.Identity().Email) == norm {
			return true
		}
	}
	return false
}

func (s *MemoryStore[U]) roleNameTakenLocked(name, exceptID string) bool {
	name = NormalizeRoleName(name)
	for id, r := range s.roles {
		if id != exceptID && r.Name == name {
			return true
		}
	}
	return false
}
