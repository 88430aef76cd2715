// Command bootstrap-admin seeds or promotes an administrator account in the
// datastore. It is the supported way to obtain the first ADMIN principal,
// since the registration endpoint only creates regular users.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"cirrusdrive/internal/models"
	"cirrusdrive/internal/storage"
)

func main() {
	var (
		jsonPath    string
		postgresDSN string
		username    string
		email       string
		password    string
	)

	flag.StringVar(&jsonPath, "json", "", "Path to the JSON datastore (store.json)")
	flag.StringVar(&postgresDSN, "postgres-dsn", "", "Postgres connection string")
	flag.StringVar(&username, "username", "", "Username for the admin account")
	flag.StringVar(&email, "email", "", "Email address for the admin account")
	flag.StringVar(&password, "password", "", "Password for the admin account")
	flag.Parse()

	if jsonPath == "" && postgresDSN == "" {
		fatalf("either --json or --postgres-dsn must be provided")
	}
	if jsonPath != "" && postgresDSN != "" {
		fatalf("only one datastore option may be provided")
	}
	if strings.TrimSpace(username) == "" {
		fatalf("--username is required")
	}
	if len(password) < 8 {
		fatalf("--password must be at least 8 characters")
	}

	repo, err := openRepository(jsonPath, postgresDSN)
	if err != nil {
		fatalf("open datastore: %v", err)
	}
	defer closeRepository(repo)

	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)

	user, created, err := bootstrapAdmin(repo, username, email, password)
	if err != nil {
		fatalf("bootstrap admin: %v", err)
	}

	state := "promoted"
	if created {
		state = "created"
	}
	fmt.Printf("Admin user %s (%s) %s successfully.\n", user.Username, user.Email, state)
	fmt.Println("Remember to rotate this password after the first login.")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func openRepository(jsonPath, postgresDSN string) (storage.Repository, error) {
	if jsonPath != "" {
		return storage.NewStorage(jsonPath)
	}
	return storage.NewPostgresRepository(postgresDSN)
}

func closeRepository(repo storage.Repository) {
	type closer interface {
		Close(context.Context) error
	}
	if c, ok := repo.(closer); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	}
}

func bootstrapAdmin(repo storage.Repository, username, email, password string) (models.User, bool, error) {
	if existing, ok := repo.FindUserByUsername(username); ok {
		return promoteAdmin(repo, existing, password)
	}

	if email == "" {
		return models.User{}, false, fmt.Errorf("--email is required when creating a new account")
	}
	user, err := repo.CreateUser(storage.CreateUserParams{
		Username: username,
		Email:    email,
		Password: password,
		Roles:    []string{models.RoleAdmin, models.RoleUser},
		Status:   models.StatusActive,
	})
	if err != nil {
		return models.User{}, false, err
	}
	return user, true, nil
}

func promoteAdmin(repo storage.Repository, existing models.User, password string) (models.User, bool, error) {
	roles := ensureAdminRole(existing.Roles)
	status := models.StatusActive

	update := storage.UserUpdate{Password: &password}
	if !equalStringSlices(existing.Roles, roles) {
		update.Roles = &roles
	}
	if existing.Status != status {
		update.Status = &status
	}

	updated, err := repo.UpdateUser(existing.ID, update)
	if err != nil {
		return models.User{}, false, err
	}
	return updated, false, nil
}

func ensureAdminRole(existing []string) []string {
	seen := make(map[string]struct{})
	for _, role := range existing {
		trimmed := strings.ToUpper(strings.TrimSpace(role))
		if trimmed == "" {
			continue
		}
		seen[trimmed] = struct{}{}
	}
	seen[models.RoleAdmin] = struct{}{}
	roles := make([]string, 0, len(seen))
	for role := range seen {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

func equalStringSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
