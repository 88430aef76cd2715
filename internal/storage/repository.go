package storage

import (
	"context"
	"errors"

	"cirrusdrive/internal/models"
)

// Datastore errors surfaced to the API layer. ErrNotFound covers every
// entity kind; handlers decide the status code.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrUsernameTaken      = errors.New("username already in use")
	ErrEmailTaken         = errors.New("email already in use")
	ErrRoleExists         = errors.New("role already exists")
	ErrRoleInUse          = errors.New("role is assigned to users")
)

// CreateUserParams captures the attributes that can be set when creating a
// user. Roles defaults to the standard user role when empty; Status defaults
// to active.
type CreateUserParams struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	Roles     []string
	Status    models.Status
}

// UserUpdate mutates user metadata. Nil fields are left untouched. Email is
// deliberately absent: accounts keep the address they registered with.
type UserUpdate struct {
	Username  *string
	FirstName *string
	LastName  *string
	Password  *string
	Roles     *[]string
	Status    *models.Status
}

// CreateFileParams captures the metadata recorded for an uploaded file. Path
// is the blob-store location of the content.
type CreateFileParams struct {
	OwnerID     string
	Filename    string
	Path        string
	Description string
	SizeBytes   int64
}

// FileUpdate mutates file metadata. Nil fields are left untouched.
type FileUpdate struct {
	Filename    *string
	Description *string
	Path        *string
	SizeBytes   *int64
}

// Repository exposes the datastore operations required by the API handlers
// and the bootstrap tooling.
type Repository interface {
	Ping(ctx context.Context) error

	CreateUser(params CreateUserParams) (models.User, error)
	AuthenticateUser(login, password string) (models.User, error)
	ListUsers() []models.User
	GetUser(id string) (models.User, bool)
	FindUserByUsername(username string) (models.User, bool)
	UpdateUser(id string, update UserUpdate) (models.User, error)
	DeleteUser(id string) error

	CreateRole(name string) (models.Role, error)
	ListRoles() []models.Role
	GetRole(id string) (models.Role, bool)
	FindRoleByName(name string) (models.Role, bool)
	RenameRole(id, name string) (models.Role, error)
	DeleteRole(id string) error

	CreateFile(params CreateFileParams) (models.File, error)
	ListFiles() []models.File
	ListFilesByOwner(ownerID string) []models.File
	GetFile(id string) (models.File, bool)
	UpdateFile(id string, update FileUpdate) (models.File, error)
	DeleteFile(id string) error
}

var _ Repository = (*Storage)(nil)
var _ Repository = (*postgresRepository)(nil)
