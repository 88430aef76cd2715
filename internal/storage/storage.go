package storage

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"cirrusdrive/internal/models"
	"golang.org/x/crypto/pbkdf2"
)

const (
	passwordHashSaltLength = 16
	passwordHashKeyLength  = 32
	passwordHashIterations = 120000
)

type dataset struct {
	Users map[string]models.User `json:"users"`
	Roles map[string]models.Role `json:"roles"`
	Files map[string]models.File `json:"files"`
}

func newDataset() dataset {
	return dataset{
		Users: make(map[string]models.User),
		Roles: make(map[string]models.Role),
		Files: make(map[string]models.File),
	}
}

// Storage is the JSON-file datastore used for development and small
// single-node deployments.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
}

// NewStorage loads (or creates) the JSON datastore at path and seeds the
// built-in role catalog.
func NewStorage(path string) (*Storage, error) {
	store := &Storage{filePath: path}
	if err := store.load(); err != nil {
		return nil, err
	}
	if err := store.seedRoles(); err != nil {
		return nil, err
	}
	return store, nil
}

// Ping reports datastore liveness. The JSON store is always live once
// loaded.
func (s *Storage) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}

	s.ensureDatasetInitializedLocked()

	return nil
}

func (s *Storage) ensureDatasetInitializedLocked() {
	if s.data.Users == nil {
		s.data.Users = make(map[string]models.User)
	}
	if s.data.Roles == nil {
		s.data.Roles = make(map[string]models.Role)
	}
	if s.data.Files == nil {
		s.data.Files = make(map[string]models.File)
	}
}

// seedRoles guarantees the built-in roles exist so fresh deployments can
// register users and promote administrators immediately.
func (s *Storage) seedRoles() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seeded := false
	for _, name := range []string{models.RoleAdmin, models.RoleUser} {
		if _, ok := s.findRoleByNameLocked(name); ok {
			continue
		}
		id, err := generateID()
		if err != nil {
			return err
		}
		s.data.Roles[id] = models.Role{ID: id, Name: name, CreatedAt: time.Now().UTC()}
		seeded = true
	}
	if !seeded {
		return nil
	}
	return s.persist()
}

func (s *Storage) persist() error {
	return s.persistDataset(s.data)
}

func (s *Storage) persistDataset(data dataset) error {
	if s.persistOverride != nil {
		if err := s.persistOverride(data); err != nil {
			return err
		}
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("sync store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close store file: %w", err)
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

func cloneDataset(data dataset) dataset {
	cloned := newDataset()
	for id, user := range data.Users {
		cloned.Users[id] = user
	}
	for id, role := range data.Roles {
		cloned.Roles[id] = role
	}
	for id, file := range data.Files {
		cloned.Files[id] = file
	}
	return cloned
}

func generateID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// normalizeRoles upper-cases, trims, and de-duplicates role names while
// preserving first-seen order.
func normalizeRoles(roles []string) []string {
	normalized := make([]string, 0, len(roles))
	seen := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		name := strings.ToUpper(strings.TrimSpace(role))
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		normalized = append(normalized, name)
	}
	return normalized
}

// User operations

func (s *Storage) CreateUser(params CreateUserParams) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

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
	for _, user := range s.data.Users {
		if strings.EqualFold(user.Username, username) {
			return models.User{}, ErrUsernameTaken
		}
		if user.Email == email {
			return models.User{}, ErrEmailTaken
		}
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

	s.data.Users[id] = user
	if err := s.persist(); err != nil {
		delete(s.data.Users, id)
		return models.User{}, err
	}

	return user, nil
}

// AuthenticateUser verifies credentials and returns the matching user on
// success. The login value matches either the username or the registered
// email address.
func (s *Storage) AuthenticateUser(login, password string) (models.User, error) {
	if password == "" {
		return models.User{}, errors.New("password is required")
	}
	user, ok := s.findUserByLogin(login)
	if !ok {
		return models.User{}, ErrInvalidCredentials
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

func (s *Storage) findUserByLogin(login string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	trimmed := strings.TrimSpace(login)
	email := strings.ToLower(trimmed)
	for _, user := range s.data.Users {
		if strings.EqualFold(user.Username, trimmed) || user.Email == email {
			return user, true
		}
	}
	return models.User{}, false
}

func (s *Storage) ListUsers() []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]models.User, 0, len(s.data.Users))
	for _, user := range s.data.Users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users
}

func (s *Storage) GetUser(id string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.data.Users[id]
	return user, ok
}

// FindUserByUsername looks up a user by username, ignoring case.
func (s *Storage) FindUserByUsername(username string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	trimmed := strings.TrimSpace(username)
	for _, user := range s.data.Users {
		if strings.EqualFold(user.Username, trimmed) {
			return user, true
		}
	}
	return models.User{}, false
}

// UpdateUser mutates user metadata while enforcing uniqueness constraints.
func (s *Storage) UpdateUser(id string, update UserUpdate) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	user, ok := updatedData.Users[id]
	if !ok {
		return models.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}

	if update.Username != nil {
		username := strings.TrimSpace(*update.Username)
		if username == "" {
			return models.User{}, errors.New("username cannot be empty")
		}
		for existingID, existing := range updatedData.Users {
			if existingID == user.ID {
				continue
			}
			if strings.EqualFold(existing.Username, username) {
				return models.User{}, ErrUsernameTaken
			}
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

	updatedData.Users[id] = user
	if err := s.persistDataset(updatedData); err != nil {
		return models.User{}, err
	}
	s.data = updatedData
	return user, nil
}

// DeleteUser removes the user and every file record they own. Callers are
// responsible for cleaning up blobs and share links first.
func (s *Storage) DeleteUser(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	if _, ok := updatedData.Users[id]; !ok {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}

	delete(updatedData.Users, id)
	for fileID, file := range updatedData.Files {
		if file.OwnerID == id {
			delete(updatedData.Files, fileID)
		}
	}

	if err := s.persistDataset(updatedData); err != nil {
		return err
	}
	s.data = updatedData
	return nil
}

// Role operations

func (s *Storage) CreateRole(name string) (models.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized := strings.ToUpper(strings.TrimSpace(name))
	if normalized == "" {
		return models.Role{}, errors.New("role name is required")
	}
	if _, ok := s.findRoleByNameLocked(normalized); ok {
		return models.Role{}, ErrRoleExists
	}

	id, err := generateID()
	if err != nil {
		return models.Role{}, err
	}
	role := models.Role{ID: id, Name: normalized, CreatedAt: time.Now().UTC()}
	s.data.Roles[id] = role
	if err := s.persist(); err != nil {
		delete(s.data.Roles, id)
		return models.Role{}, err
	}
	return role, nil
}

func (s *Storage) ListRoles() []models.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roles := make([]models.Role, 0, len(s.data.Roles))
	for _, role := range s.data.Roles {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool {
		return roles[i].Name < roles[j].Name
	})
	return roles
}

func (s *Storage) GetRole(id string) (models.Role, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.data.Roles[id]
	return role, ok
}

// FindRoleByName looks up a role by its normalized name.
func (s *Storage) FindRoleByName(name string) (models.Role, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findRoleByNameLocked(name)
}

func (s *Storage) findRoleByNameLocked(name string) (models.Role, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(name))
	for _, role := range s.data.Roles {
		if role.Name == normalized {
			return role, true
		}
	}
	return models.Role{}, false
}

// RenameRole changes a role's name. User role lists are untouched; they hold
// the names granted at assignment time.
func (s *Storage) RenameRole(id, name string) (models.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	role, ok := s.data.Roles[id]
	if !ok {
		return models.Role{}, fmt.Errorf("role %s: %w", id, ErrNotFound)
	}
	normalized := strings.ToUpper(strings.TrimSpace(name))
	if normalized == "" {
		return models.Role{}, errors.New("role name is required")
	}
	if existing, found := s.findRoleByNameLocked(normalized); found && existing.ID != id {
		return models.Role{}, ErrRoleExists
	}

	previous := role
	role.Name = normalized
	s.data.Roles[id] = role
	if err := s.persist(); err != nil {
		s.data.Roles[id] = previous
		return models.Role{}, err
	}
	return role, nil
}

// DeleteRole removes a role from the catalog. Roles still assigned to users
// are protected; strip the role from those accounts first.
func (s *Storage) DeleteRole(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	role, ok := s.data.Roles[id]
	if !ok {
		return fmt.Errorf("role %s: %w", id, ErrNotFound)
	}
	for _, user := range s.data.Users {
		if user.HasRole(role.Name) {
			return ErrRoleInUse
		}
	}

	delete(s.data.Roles, id)
	if err := s.persist(); err != nil {
		s.data.Roles[id] = role
		return err
	}
	return nil
}

// File operations

func (s *Storage) CreateFile(params CreateFileParams) (models.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if params.OwnerID == "" {
		return models.File{}, errors.New("ownerID is required")
	}
	if _, ok := s.data.Users[params.OwnerID]; !ok {
		return models.File{}, fmt.Errorf("owner %s: %w", params.OwnerID, ErrNotFound)
	}
	filename := strings.TrimSpace(params.Filename)
	if filename == "" {
		return models.File{}, errors.New("filename is required")
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

	s.data.Files[id] = file
	if err := s.persist(); err != nil {
		delete(s.data.Files, id)
		return models.File{}, err
	}
	return file, nil
}

func (s *Storage) ListFiles() []models.File {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files := make([]models.File, 0, len(s.data.Files))
	for _, file := range s.data.Files {
		files = append(files, file)
	}
	sortFiles(files)
	return files
}

func (s *Storage) ListFilesByOwner(ownerID string) []models.File {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files := make([]models.File, 0)
	for _, file := range s.data.Files {
		if file.OwnerID == ownerID {
			files = append(files, file)
		}
	}
	sortFiles(files)
	return files
}

func sortFiles(files []models.File) {
	sort.Slice(files, func(i, j int) bool {
		if files[i].UploadedAt.Equal(files[j].UploadedAt) {
			return files[i].ID < files[j].ID
		}
		return files[i].UploadedAt.Before(files[j].UploadedAt)
	})
}

func (s *Storage) GetFile(id string) (models.File, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	file, ok := s.data.Files[id]
	return file, ok
}

// UpdateFile mutates file metadata.
func (s *Storage) UpdateFile(id string, update FileUpdate) (models.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, ok := s.data.Files[id]
	if !ok {
		return models.File{}, fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	previous := file

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

	s.data.Files[id] = file
	if err := s.persist(); err != nil {
		s.data.Files[id] = previous
		return models.File{}, err
	}
	return file, nil
}

func (s *Storage) DeleteFile(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, ok := s.data.Files[id]
	if !ok {
		return fmt.Errorf("file %s: %w", id, ErrNotFound)
	}

	delete(s.data.Files, id)
	if err := s.persist(); err != nil {
		s.data.Files[id] = file
		return err
	}
	return nil
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, passwordHashSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(password), salt, passwordHashIterations, passwordHashKeyLength, sha256.New)
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedKey := base64.RawStdEncoding.EncodeToString(derived)
	return fmt.Sprintf("pbkdf2$sha256$%d$%s$%s", passwordHashIterations, encodedSalt, encodedKey), nil
}

func verifyPassword(encodedHash, candidate string) error {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 5 {
		return fmt.Errorf("verify password: invalid hash format")
	}
	if parts[0] != "pbkdf2" || parts[1] != "sha256" {
		return fmt.Errorf("verify password: unsupported hash identifier")
	}
	iterations, err := strconv.Atoi(parts[2])
	if err != nil || iterations <= 0 {
		return fmt.Errorf("verify password: invalid iteration count")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return fmt.Errorf("verify password: decode salt: %w", err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("verify password: decode hash: %w", err)
	}
	derived := pbkdf2.Key([]byte(candidate), salt, iterations, len(expected), sha256.New)
	if subtle.ConstantTimeCompare(derived, expected) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}
