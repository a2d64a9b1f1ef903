package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Repository[*User] over PostgreSQL.
//
// Design notes:
//   - The pgx pool is owned by the caller; this store must NOT close it.
//   - Schema/table identifiers are quoted to avoid SQL injection via identifiers.
//   - Update is serialized per user via SELECT ... FOR UPDATE.
//   - Constraint violations are mapped to ConflictError/NotFoundError.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	now    func() time.Time
}

var _ Repository[*User] = (*PostgresStore)(nil)

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the store (default DefaultSchema).
// The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentIsValid(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: DefaultSchema,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const pgUserCols = `id, email, password_hash, is_active, is_verified, created_at, updated_at`
const pgRoleCols = `id, name, description, created_at, updated_at`

func (s *PostgresStore) Get(ctx context.Context, id string) (*User, error) {
	const op = "identity.Get"

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, err := s.getUser(ctx, s.pool, op, id, false)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *PostgresStore) GetBy(ctx context.Context, f UserFilter) (*User, error) {
	const op = "identity.GetBy"

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Empty() {
		return nil, pgInvalid(op, "empty filter")
	}

	var (
		conds []string
		args  []any
	)
	if f.Email != "" {
		args = append(args, NormalizeEmail(f.Email))
		conds = append(conds, fmt.Sprintf("email_norm = $%d", len(args)))
	}
	if f.IsActive != nil {
		args = append(args, *f.IsActive)
		conds = append(conds, fmt.Sprintf("is_active = $%d", len(args)))
	}
	if f.IsVerified != nil {
		args = append(args, *f.IsVerified)
		conds = append(conds, fmt.Sprintf("is_verified = $%d", len(args)))
	}

	// LIMIT 2 is enough to detect an ambiguous filter.
	q := `SELECT ` + pgUserCols + ` FROM ` + s.t("users") +
		` WHERE ` + strings.Join(conds, " AND ") + ` LIMIT 2`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: query: %w", op, err)
	}
	found, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*User, error) {
		return scanUserRow(row)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: scan: %w", op, err)
	}
	if len(found) != 1 {
		return nil, NotFoundError{Op: op, Resource: "user"}
	}

	u := found[0]
	if u.Roles, err = s.loadRoles(ctx, s.pool, u.ID); err != nil {
		return nil, fmt.Errorf("%s: roles: %w", op, err)
	}
	return u, nil
}

func (s *PostgresStore) Add(ctx context.Context, u *User) (*User, error) {
	const op = "identity.Add"

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if u == nil || u.ID == "" {
		return nil, pgInvalid(op, "user id is required")
	}
	email := strings.TrimSpace(u.Email)
	if email == "" {
		return nil, pgInvalid(op, "email is required")
	}

	now := s.now()
	createdAt, updatedAt := u.CreatedAt, u.UpdatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%s: begin: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
INSERT INTO `+s.t("users")+` (id, email, email_norm, password_hash, is_active, is_verified, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, email, NormalizeEmail(email), u.PasswordHash, u.IsActive, u.IsVerified, createdAt, updatedAt,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return nil, ConflictError{Op: op, Field: field}
		}
		return nil, fmt.Errorf("%s: insert user: %w", op, err)
	}

	for _, r := range u.Roles {
		if err := s.insertMembership(ctx, tx, op, u.ID, r.ID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%s: commit: %w", op, err)
	}
	return s.Get(ctx, u.ID)
}

func (s *PostgresStore) Update(ctx context.Context, id string, p UserPatch[*User]) (*User, error) {
	const op = "identity.Update"

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%s: begin: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	u, err := s.getUser(ctx, tx, op, id, true)
	if err != nil {
		return nil, err
	}
	roles := u.Roles

	p.Apply(u, s.now())
	u.ID = id
	u.Roles = roles
	u.Email = strings.TrimSpace(u.Email)
	if u.Email == "" {
		return nil, pgInvalid(op, "email is required")
	}

	_, err = tx.Exec(ctx, `
UPDATE `+s.t("users")+`
SET email = $2, email_norm = $3, password_hash = $4, is_active = $5, is_verified = $6, updated_at = $7
WHERE id = $1`,
		id, u.Email, NormalizeEmail(u.Email), u.PasswordHash, u.IsActive, u.IsVerified, u.UpdatedAt,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return nil, ConflictError{Op: op, Field: field}
		}
		return nil, fmt.Errorf("%s: update: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%s: commit: %w", op, err)
	}
	return u, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	const op = "identity.Delete"

	if err := ctx.Err(); err != nil {
		return err
	}
	ct, err := s.pool.Exec(ctx, `DELETE FROM `+s.t("users")+` WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

func (s *PostgresStore) GetRole(ctx context.Context, id string) (Role, error) {
	const op = "identity.GetRole"

	if err := ctx.Err(); err != nil {
		return Role{}, err
	}
	row := s.pool.QueryRow(ctx, `SELECT `+pgRoleCols+` FROM `+s.t("roles")+` WHERE id = $1`, id)
	return pgScanRole(op, row)
}

func (s *PostgresStore) GetRoleByName(ctx context.Context, name string) (Role, error) {
	const op = "identity.GetRoleByName"

	if err := ctx.Err(); err != nil {
		return Role{}, err
	}
	row := s.pool.QueryRow(ctx, `SELECT `+pgRoleCols+` FROM `+s.t("roles")+` WHERE name = $1`, NormalizeRoleName(name))
	return pgScanRole(op, row)
}

func (s *PostgresStore) AddRole(ctx context.Context, r Role) (Role, error) {
	const op = "identity.AddRole"

	if err := ctx.Err(); err != nil {
		return Role{}, err
	}
	r.Name = NormalizeRoleName(r.Name)
	if r.ID == "" || r.Name == "" {
		return Role{}, pgInvalid(op, "role id and name are required")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}

	_, err := s.pool.Exec(ctx, `
INSERT INTO `+s.t("roles")+` (id, name, description, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5)`,
		r.ID, r.Name, r.Description, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Role{}, ConflictError{Op: op, Field: field}
		}
		return Role{}, fmt.Errorf("%s: insert: %w", op, err)
	}
	return r, nil
}

func (s *PostgresStore) UpdateRole(ctx context.Context, id string, p RolePatch) (Role, error) {
	const op = "identity.UpdateRole"

	if err := ctx.Err(); err != nil {
		return Role{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Role{}, fmt.Errorf("%s: begin: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	r, err := pgScanRole(op, tx.QueryRow(ctx, `SELECT `+pgRoleCols+` FROM `+s.t("roles")+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Role{}, err
	}

	p.Apply(&r, s.now())
	r.Name = NormalizeRoleName(r.Name)
	if r.Name == "" {
		return Role{}, pgInvalid(op, "role name is required")
	}

	_, err = tx.Exec(ctx, `
UPDATE `+s.t("roles")+` SET name = $2, description = $3, updated_at = $4 WHERE id = $1`,
		id, r.Name, r.Description, r.UpdatedAt,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Role{}, ConflictError{Op: op, Field: field}
		}
		return Role{}, fmt.Errorf("%s: update: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Role{}, fmt.Errorf("%s: commit: %w", op, err)
	}
	return r, nil
}

func (s *PostgresStore) DeleteRole(ctx context.Context, id string) error {
	const op = "identity.DeleteRole"

	if err := ctx.Err(); err != nil {
		return err
	}
	ct, err := s.pool.Exec(ctx, `DELETE FROM `+s.t("roles")+` WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "role"}
	}
	return nil
}

func (s *PostgresStore) AssignRole(ctx context.Context, userID, roleID string) (*User, error) {
	const op = "identity.AssignRole"

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.insertMembership(ctx, s.pool, op, userID, roleID); err != nil {
		return nil, err
	}
	return s.Get(ctx, userID)
}

func (s *PostgresStore) RevokeRole(ctx context.Context, userID, roleID string) (*User, error) {
	const op = "identity.RevokeRole"

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ct, err := s.pool.Exec(ctx, `DELETE FROM `+s.t("user_roles")+` WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if ct.RowsAffected() == 0 {
		if _, err := s.getUser(ctx, s.pool, op, userID, false); err != nil {
			return nil, err
		}
		return nil, NotFoundError{Op: op, Resource: "role_membership"}
	}
	return s.Get(ctx, userID)
}

func (s *PostgresStore) getUser(ctx context.Context, q pgQuerier, op, id string, forUpdate bool) (*User, error) {
	sql := `SELECT ` + pgUserCols + ` FROM ` + s.t("users") + ` WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}

	u, err := scanUserRow(q.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, NotFoundError{Op: op, Resource: "user"}
		}
		return nil, fmt.Errorf("%s: select user: %w", op, err)
	}
	if u.Roles, err = s.loadRoles(ctx, q, id); err != nil {
		return nil, fmt.Errorf("%s: roles: %w", op, err)
	}
	return u, nil
}

func (s *PostgresStore) loadRoles(ctx context.Context, q pgQuerier, userID string) ([]Role, error) {
	rows, err := q.Query(ctx, `
SELECT r.id, r.name, r.description, r.created_at, r.updated_at
FROM `+s.t("roles")+` r
JOIN `+s.t("user_roles")+` ur ON ur.role_id = r.id
WHERE ur.user_id = $1
ORDER BY r.name`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Role, error) {
		var r Role
		err := row.Scan(&r.ID, &r.Name, &r.Description, &r.CreatedAt, &r.UpdatedAt)
		return r, err
	})
}

func (s *PostgresStore) insertMembership(ctx context.Context, q pgQuerier, op, userID, roleID string) error {
	_, err := q.Exec(ctx, `INSERT INTO `+s.t("user_roles")+` (user_id, role_id) VALUES ($1, $2)`, userID, roleID)
	if err == nil {
		return nil
	}
	if field, ok := pgClassifyUniqueViolation(err); ok {
		return ConflictError{Op: op, Field: field}
	}
	if resource, ok := pgClassifyForeignKeyViolation(err); ok {
		return NotFoundError{Op: op, Resource: resource}
	}
	return fmt.Errorf("%s: insert membership: %w", op, err)
}

func (s *PostgresStore) t(name string) string {
	return pgIdent(s.schema, name)
}

func scanUserRow(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsActive, &u.IsVerified, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func pgScanRole(op string, row pgx.Row) (Role, error) {
	var r Role
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, NotFoundError{Op: op, Resource: "role"}
		}
		return Role{}, fmt.Errorf("%s: select role: %w", op, err)
	}
	return r, nil
}

// pgInvalid standardizes invalid input errors.
func pgInvalid(op, msg string) error {
	return InvalidInput(op, msg)
}

// pgIdentIsValid checks if a string is a safe Postgres identifier.
func pgIdentIsValid(s string) bool {
	return pgIdentRe.MatchString(s)
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgClassifyForeignKeyViolation(err error) (resource string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23503" { // foreign_key_violation
		return "", false
	}
	if strings.Contains(strings.ToLower(pgErr.ConstraintName), "role_id") {
		return "role", true
	}
	return "user", true
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	// Prefer stable constraint names from the migrations, then fall back to
	// substring matching.
	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))

	switch c {
	case "uq_users_email_norm":
		return "email", true
	case "uq_roles_name":
		return "role_name", true
	case "pk_user_roles":
		return "role", true
	default:
		switch {
		case strings.Contains(c, "email"):
			return "email", true
		case strings.Contains(c, "roles_name"):
			return "role_name", true
		case strings.Contains(c, "user_roles"):
			return "role", true
		default:
			return "unique", true
		}
	}
}
