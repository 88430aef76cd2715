package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cirrusdrive/internal/models"
)

const defaultPostgresTimeout = 5 * time.Second

// PostgresConfig tunes the Postgres-backed repository pool.
type PostgresConfig struct {
	DSN             string
	MaxConnections  int32
	MinConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
	ApplicationName string
	QueryTimeout    time.Duration
}

// PostgresOption mutates the Postgres repository configuration.
type PostgresOption func(*PostgresConfig)

// WithPostgresPoolLimits bounds the connection pool size.
func WithPostgresPoolLimits(min, max int32) PostgresOption {
	return func(cfg *PostgresConfig) {
		cfg.MinConnections = min
		cfg.MaxConnections = max
	}
}

// WithPostgresApplicationName sets the application_name reported to the
// server.
func WithPostgresApplicationName(name string) PostgresOption {
	return func(cfg *PostgresConfig) {
		cfg.ApplicationName = name
	}
}

// WithPostgresQueryTimeout bounds individual repository queries.
func WithPostgresQueryTimeout(timeout time.Duration) PostgresOption {
	return func(cfg *PostgresConfig) {
		if timeout > 0 {
			cfg.QueryTimeout = timeout
		}
	}
}

type postgresRepository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewPostgresRepository opens a Postgres-backed repository, applies the
// schema migration, and seeds the built-in role catalog.
func NewPostgresRepository(dsn string, opts ...PostgresOption) (Repository, error) {
	cfg := PostgresConfig{DSN: dsn, QueryTimeout: defaultPostgresTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	repo := &postgresRepository{pool: pool, timeout: cfg.QueryTimeout}
	if err := repo.migrate(); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

// Close releases the connection pool resources.
func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *postgresRepository) queryContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.timeout)
}

func (r *postgresRepository) migrate() error {
	ctx, cancel := r.queryContext()
	defer cancel()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    username TEXT NOT NULL,
    email TEXT NOT NULL,
    first_name TEXT NOT NULL DEFAULT '',
    last_name TEXT NOT NULL DEFAULT '',
    roles TEXT[] NOT NULL DEFAULT '{}',
    status TEXT NOT NULL DEFAULT 'ACTIVE',
    password_hash TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS users_username_idx ON users (lower(username))`,
		`CREATE UNIQUE INDEX IF NOT EXISTS users_email_idx ON users (email)`,
		`CREATE TABLE IF NOT EXISTS roles (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS files (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
    filename TEXT NOT NULL,
    path TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    size_bytes BIGINT NOT NULL DEFAULT 0,
    uploaded_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS files_owner_idx ON files (owner_id)`,
	}
	for _, stmt := range statements {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}

	for _, name := range []string{models.RoleAdmin, models.RoleUser} {
		id, err := generateID()
		if err != nil {
			return err
		}
		_, err = r.pool.Exec(ctx, `
INSERT INTO roles (id, name, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (name) DO NOTHING
`, id, name, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("seed role %s: %w", name, err)
		}
	}
	return nil
}

// Ping verifies database connectivity.
func (r *postgresRepository) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.pool.Ping(ctx)
}

const userColumns = `id, username, email, first_name, last_name, roles, status, password_hash, created_at`

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.FirstName,
		&user.LastName,
		&user.Roles,
		&user.Status,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	return user, err
}

// User operations

func (r *postgresRepository) CreateUser(params CreateUserParams) (models.User, error) {
	username := strings.TrimSpace(params.Username)
	if username == "" {
		return models.User{}, errors.New("username is required")
	}
	email := strings.TrimSpace(strings.ToLower(params.Email))
	if email == "" {
		return models.User{}, errors.New("email is required")
	}
	if params.Password == "" {
		return models.User{}, errors.New("password is required")
	}

	ctx, cancel := r.queryContext()
	defer cancel()

	var usernameTaken, emailTaken bool
	err := r.pool.QueryRow(ctx, `
SELECT
    EXISTS (SELECT 1 FROM users WHERE lower(username) = lower($1)),
    EXISTS (SELECT 1 FROM users WHERE email = $2)
`, username, email).Scan(&usernameTaken, &emailTaken)
	if err != nil {
		return models.User{}, fmt.Errorf("check user uniqueness: %w", err)
	}
	if usernameTaken {
		return models.User{}, ErrUsernameTaken
	}
	if emailTaken {
		return models.User{}, ErrEmailTaken
	}

	roles := normalizeRoles(params.Roles)
	if len(roles) == 0 {
		roles = []string{models.RoleUser}
	}
	status := params.Status
	if status == "" {
		status = models.StatusActive
	}

	id, err := generateID()
	if err != nil {
		return models.User{}, err
	}
	hashed, err := hashPassword(params.Password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := models.User{
		ID:           id,
		Username:     username,
		Email:        email,
		FirstName:    strings.TrimSpace(params.FirstName),
		LastName:     strings.TrimSpace(params.LastName),
		Roles:        roles,
		Status:       status,
		PasswordHash: hashed,
		CreatedAt:    time.Now().UTC(),
	}

	_, err = r.pool.Exec(ctx, `
INSERT INTO users (id, username, email, first_name, last_name, roles, status, password_hash, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`, user.ID, user.Username, user.Email, user.FirstName, user.LastName, user.Roles, user.Status, user.PasswordHash, user.CreatedAt)
	if err != nil {
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (r *postgresRepository) AuthenticateUser(login, password string) (models.User, error) {
	if password == "" {
		return models.User{}, errors.New("password is required")
	}
	trimmed := strings.TrimSpace(login)

	ctx, cancel := r.queryContext()
	defer cancel()

	user, err := scanUser(r.pool.QueryRow(ctx, `
SELECT `+userColumns+`
FROM users
WHERE lower(username) = lower($1) OR email = lower($1)
`, trimmed))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return models.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := verifyPassword(user.PasswordHash, password); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return models.User{}, ErrInvalidCredentials
		}
		return models.User{}, err
	}
	if !user.Enabled() {
		return models.User{}, ErrAccountDisabled
	}
	return user, nil
}

func (r *postgresRepository) ListUsers() []models.User {
	ctx, cancel := r.queryContext()
	defer cancel()

	rows, err := r.pool.Query(ctx, `
SELECT `+userColumns+`
FROM users
ORDER BY created_at, id
`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	users := make([]models.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil
		}
		users = append(users, user)
	}
	return users
}

func (r *postgresRepository) GetUser(id string) (models.User, bool) {
	ctx, cancel := r.queryContext()
	defer cancel()

	user, err := scanUser(r.pool.QueryRow(ctx, `
SELECT `+userColumns+`
FROM users
WHERE id = $1
`, id))
	if err != nil {
		return models.User{}, false
	}
	return user, true
}

func (r *postgresRepository) FindUserByUsername(username string) (models.User, bool) {
	ctx, cancel := r.queryContext()
	defer cancel()

	user, err := scanUser(r.pool.QueryRow(ctx, `
SELECT `+userColumns+`
FROM users
WHERE lower(username) = lower($1)
`, strings.TrimSpace(username)))
	if err != nil {
		return models.User{}, false
	}
	return user, true
}

func (r *postgresRepository) UpdateUser(id string, update UserUpdate) (models.User, error) {
	ctx, cancel := r.queryContext()
	defer cancel()

	user, err := scanUser(r.pool.QueryRow(ctx, `
SELECT `+userColumns+`
FROM users
WHERE id = $1
`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.User{}, fmt.Errorf("lookup user: %w", err)
	}

	if update.Username != nil {
		username := strings.TrimSpace(*update.Username)
		if username == "" {
			return models.User{}, errors.New("username cannot be empty")
		}
		var taken bool
		err := r.pool.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM users WHERE lower(username) = lower($1) AND id <> $2)
`, username, id).Scan(&taken)
		if err != nil {
			return models.User{}, fmt.Errorf("check username uniqueness: %w", err)
		}
		if taken {
			return models.User{}, ErrUsernameTaken
		}
		user.Username = username
	}
	if update.FirstName != nil {
		user.FirstName = strings.TrimSpace(*update.FirstName)
	}
	if update.LastName != nil {
		user.LastName = strings.TrimSpace(*update.LastName)
	}
	if update.Password != nil {
		if *update.Password == "" {
			return models.User{}, errors.New("password cannot be empty")
		}
		hashed, err := hashPassword(*update.Password)
		if err != nil {
			return models.User{}, fmt.Errorf("hash password: %w", err)
		}
		user.PasswordHash = hashed
	}
	if update.Roles != nil {
		roles := normalizeRoles(*update.Roles)
		if len(roles) == 0 {
			return models.User{}, errors.New("roles cannot be empty")
		}
		user.Roles = roles
	}
	if update.Status != nil {
		switch *update.Status {
		case models.StatusActive, models.StatusDisabled:
			user.Status = *update.Status
		default:
			return models.User{}, fmt.Errorf("unknown status %q", *update.Status)
		}
	}

	_, err = r.pool.Exec(ctx, `
UPDATE users
SET username = $2, first_name = $3, last_name = $4, roles = $5, status = $6, password_hash = $7
WHERE id = $1
`, user.ID, user.Username, user.FirstName, user.LastName, user.Roles, user.Status, user.PasswordHash)
	if err != nil {
		return models.User{}, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

func (r *postgresRepository) DeleteUser(id string) error {
	ctx, cancel := r.queryContext()
	defer cancel()

	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return nil
}

// Role operations

func (r *postgresRepository) CreateRole(name string) (models.Role, error) {
	normalized := strings.ToUpper(strings.TrimSpace(name))
	if normalized == "" {
		return models.Role{}, errors.New("role name is required")
	}

	ctx, cancel := r.queryContext()
	defer cancel()

	id, err := generateID()
	if err != nil {
		return models.Role{}, err
	}
	role := models.Role{ID: id, Name: normalized, CreatedAt: time.Now().UTC()}

	tag, err := r.pool.Exec(ctx, `
INSERT INTO roles (id, name, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (name) DO NOTHING
`, role.ID, role.Name, role.CreatedAt)
	if err != nil {
		return models.Role{}, fmt.Errorf("insert role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.Role{}, ErrRoleExists
	}
	return role, nil
}

func (r *postgresRepository) ListRoles() []models.Role {
	ctx, cancel := r.queryContext()
	defer cancel()

	rows, err := r.pool.Query(ctx, `SELECT id, name, created_at FROM roles ORDER BY name`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	roles := make([]models.Role, 0)
	for rows.Next() {
		var role models.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.CreatedAt); err != nil {
			return nil
		}
		roles = append(roles, role)
	}
	return roles
}

func (r *postgresRepository) GetRole(id string) (models.Role, bool) {
	ctx, cancel := r.queryContext()
	defer cancel()

	var role models.Role
	err := r.pool.QueryRow(ctx, `SELECT id, name, created_at FROM roles WHERE id = $1`, id).
		Scan(&role.ID, &role.Name, &role.CreatedAt)
	if err != nil {
		return models.Role{}, false
	}
	return role, true
}

func (r *postgresRepository) FindRoleByName(name string) (models.Role, bool) {
	ctx, cancel := r.queryContext()
	defer cancel()

	var role models.Role
	err := r.pool.QueryRow(ctx, `
SELECT id, name, created_at FROM roles WHERE name = $1
`, strings.ToUpper(strings.TrimSpace(name))).
		Scan(&role.ID, &role.Name, &role.CreatedAt)
	if err != nil {
		return models.Role{}, false
	}
	return role, true
}

func (r *postgresRepository) RenameRole(id, name string) (models.Role, error) {
	normalized := strings.ToUpper(strings.TrimSpace(name))
	if normalized == "" {
		return models.Role{}, errors.New("role name is required")
	}

	ctx, cancel := r.queryContext()
	defer cancel()

	var taken bool
	err := r.pool.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM roles WHERE name = $1 AND id <> $2)
`, normalized, id).Scan(&taken)
	if err != nil {
		return models.Role{}, fmt.Errorf("check role uniqueness: %w", err)
	}
	if taken {
		return models.Role{}, ErrRoleExists
	}

	var role models.Role
	err = r.pool.QueryRow(ctx, `
UPDATE roles SET name = $2 WHERE id = $1
RETURNING id, name, created_at
`, id, normalized).Scan(&role.ID, &role.Name, &role.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Role{}, fmt.Errorf("role %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Role{}, fmt.Errorf("rename role: %w", err)
	}
	return role, nil
}

func (r *postgresRepository) DeleteRole(id string) error {
	ctx, cancel := r.queryContext()
	defer cancel()

	var role models.Role
	err := r.pool.QueryRow(ctx, `SELECT id, name, created_at FROM roles WHERE id = $1`, id).
		Scan(&role.ID, &role.Name, &role.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("role %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lookup role: %w", err)
	}

	var assigned bool
	err = r.pool.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM users WHERE $1 = ANY (roles))
`, role.Name).Scan(&assigned)
	if err != nil {
		return fmt.Errorf("check role assignments: %w", err)
	}
	if assigned {
		return ErrRoleInUse
	}

	if _, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	return nil
}

// File operations

const fileColumns = `id, owner_id, filename, path, description, size_bytes, uploaded_at, updated_at`

func scanFile(row pgx.Row) (models.File, error) {
	var file models.File
	err := row.Scan(
		&file.ID,
		&file.OwnerID,
		&file.Filename,
		&file.Path,
		&file.Description,
		&file.SizeBytes,
		&file.UploadedAt,
		&file.UpdatedAt,
	)
	return file, err
}

func (r *postgresRepository) CreateFile(params CreateFileParams) (models.File, error) {
	if params.OwnerID == "" {
		return models.File{}, errors.New("ownerID is required")
	}
	filename := strings.TrimSpace(params.Filename)
	if filename == "" {
		return models.File{}, errors.New("filename is required")
	}

	ctx, cancel := r.queryContext()
	defer cancel()

	var ownerExists bool
	err := r.pool.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)
`, params.OwnerID).Scan(&ownerExists)
	if err != nil {
		return models.File{}, fmt.Errorf("check owner: %w", err)
	}
	if !ownerExists {
		return models.File{}, fmt.Errorf("owner %s: %w", params.OwnerID, ErrNotFound)
	}

	id, err := generateID()
	if err != nil {
		return models.File{}, err
	}
	now := time.Now().UTC()
	file := models.File{
		ID:          id,
		OwnerID:     params.OwnerID,
		Filename:    filename,
		Path:        params.Path,
		Description: strings.TrimSpace(params.Description),
		SizeBytes:   params.SizeBytes,
		UploadedAt:  now,
		UpdatedAt:   now,
	}

	_, err = r.pool.Exec(ctx, `
INSERT INTO files (id, owner_id, filename, path, description, size_bytes, uploaded_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`, file.ID, file.OwnerID, file.Filename, file.Path, file.Description, file.SizeBytes, file.UploadedAt, file.UpdatedAt)
	if err != nil {
		return models.File{}, fmt.Errorf("insert file: %w", err)
	}
	return file, nil
}

func (r *postgresRepository) ListFiles() []models.File {
	return r.listFiles(``)
}

func (r *postgresRepository) ListFilesByOwner(ownerID string) []models.File {
	return r.listFiles(ownerID)
}

func (r *postgresRepository) listFiles(ownerID string) []models.File {
	ctx, cancel := r.queryContext()
	defer cancel()

	query := `SELECT ` + fileColumns + ` FROM files ORDER BY uploaded_at, id`
	args := []any{}
	if ownerID != "" {
		query = `SELECT ` + fileColumns + ` FROM files WHERE owner_id = $1 ORDER BY uploaded_at, id`
		args = append(args, ownerID)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil
	}
	defer rows.Close()

	files := make([]models.File, 0)
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil
		}
		files = append(files, file)
	}
	return files
}

func (r *postgresRepository) GetFile(id string) (models.File, bool) {
	ctx, cancel := r.queryContext()
	defer cancel()

	file, err := scanFile(r.pool.QueryRow(ctx, `
SELECT `+fileColumns+`
FROM files
WHERE id = $1
`, id))
	if err != nil {
		return models.File{}, false
	}
	return file, true
}

func (r *postgresRepository) UpdateFile(id string, update FileUpdate) (models.File, error) {
	ctx, cancel := r.queryContext()
	defer cancel()

	file, err := scanFile(r.pool.QueryRow(ctx, `
SELECT `+fileColumns+`
FROM files
WHERE id = $1
`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.File{}, fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.File{}, fmt.Errorf("lookup file: %w", err)
	}

	if update.Filename != nil {
		filename := strings.TrimSpace(*update.Filename)
		if filename == "" {
			return models.File{}, errors.New("filename cannot be empty")
		}
		file.Filename = filename
	}
	if update.Description != nil {
		file.Description = strings.TrimSpace(*update.Description)
	}
	if update.Path != nil {
		file.Path = *update.Path
	}
	if update.SizeBytes != nil {
		file.SizeBytes = *update.SizeBytes
	}
	file.UpdatedAt = time.Now().UTC()

	_, err = r.pool.Exec(ctx, `
UPDATE files
SET filename = $2, path = $3, description = $4, size_bytes = $5, updated_at = $6
WHERE id = $1
`, file.ID, file.Filename, file.Path, file.Description, file.SizeBytes, file.UpdatedAt)
	if err != nil {
		return models.File{}, fmt.Errorf("update file: %w", err)
	}
	return file, nil
}

func (r *postgresRepository) DeleteFile(id string) error {
	ctx, cancel := r.queryContext()
	defer cancel()

	tag, err := r.pool.Exec(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	return nil
}
