package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"cirrusdrive/internal/models"
)

func TestAdminEndpointsRequireAdminRole(t *testing.T) {
	h := newTestHandler(t)
	user := registerUser(t, h, "alice")

	endpoints := []struct {
		name    string
		handler http.HandlerFunc
		path    string
	}{
		{"users", h.AdminUsers, "/api/admin/users"},
		{"user", h.AdminUserByUsername, "/api/admin/users/alice"},
		{"roles", h.AdminRoles, "/api/admin/roles"},
		{"role", h.AdminRoleByRef, "/api/admin/roles/USER"},
		{"files", h.AdminFiles, "/api/admin/files"},
		{"file", h.AdminFileByID, "/api/admin/files/some-id"},
	}

	for _, endpoint := range endpoints {
		t.Run(endpoint.name, func(t *testing.T) {
			// Anonymous requests read as unauthenticated.
			rec := httptest.NewRecorder()
			endpoint.handler(rec, httptest.NewRequest(http.MethodGet, endpoint.path, nil))
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401 for anonymous request, got %d", rec.Code)
			}

			// A regular user is authenticated but lacks the role.
			rec = httptest.NewRecorder()
			endpoint.handler(rec, asUser(httptest.NewRequest(http.MethodGet, endpoint.path, nil), user))
			if rec.Code != http.StatusForbidden {
				t.Fatalf("expected 403 for missing role, got %d", rec.Code)
			}
		})
	}
}

func TestAdminUserManagement(t *testing.T) {
	h := newTestHandler(t)
	admin := registerUser(t, h, "root", models.RoleAdmin, models.RoleUser)
	registerUser(t, h, "alice")

	rec := httptest.NewRecorder()
	h.AdminUsers(rec, asUser(httptest.NewRequest(http.MethodGet, "/api/admin/users", nil), admin))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var users []models.User
	decodeBody(t, rec, &users)
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}

	rec = httptest.NewRecorder()
	h.AdminUserByUsername(rec, asUser(httptest.NewRequest(http.MethodGet, "/api/admin/users/alice", nil), admin))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	// Role and status assignment is an admin-only capability.
	rec = httptest.NewRecorder()
	h.AdminUserByUsername(rec, asUser(httptest.NewRequest(http.MethodPut, "/api/admin/users/alice", jsonBody(t, map[string]interface{}{
		"roles":  []string{"USER", "ADMIN"},
		"status": "DISABLED",
	})), admin))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var updated models.User
	decodeBody(t, rec, &updated)
	if !updated.HasRole(models.RoleAdmin) || updated.Status != models.StatusDisabled {
		t.Fatalf("unexpected update result: %+v", updated)
	}

	rec = httptest.NewRecorder()
	h.AdminUserByUsername(rec, asUser(httptest.NewRequest(http.MethodGet, "/api/admin/users/nobody", nil), admin))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown user, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.AdminUserByUsername(rec, asUser(httptest.NewRequest(http.MethodDelete, "/api/admin/users/alice", nil), admin))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if _, ok := h.Store.FindUserByUsername("alice"); ok {
		t.Fatal("expected account to be gone")
	}
}

func TestAdminRoleCatalog(t *testing.T) {
	h := newTestHandler(t)
	admin := registerUser(t, h, "root", models.RoleAdmin)

	rec := httptest.NewRecorder()
	h.AdminRoles(rec, asUser(httptest.NewRequest(http.MethodPost, "/api/admin/roles", jsonBody(t, map[string]string{
		"name": "auditor",
	})), admin))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var role models.Role
	decodeBody(t, rec, &role)
	if role.Name != "AUDITOR" {
		t.Fatalf("expected normalized name, got %s", role.Name)
	}

	rec = httptest.NewRecorder()
	h.AdminRoles(rec, asUser(httptest.NewRequest(http.MethodGet, "/api/admin/roles", nil), admin))
	var roles []models.Role
	decodeBody(t, rec, &roles)
	if len(roles) != 3 {
		t.Fatalf("expected 3 roles (two seeded plus one created), got %+v", roles)
	}

	// Roles are addressable by id and by name.
	rec = httptest.NewRecorder()
	h.AdminRoleByRef(rec, asUser(httptest.NewRequest(http.MethodGet, "/api/admin/roles/"+role.ID, nil), admin))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 by id, got %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.AdminRoleByRef(rec, asUser(httptest.NewRequest(http.MethodGet, "/api/admin/roles/auditor", nil), admin))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 by name, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.AdminRoleByRef(rec, asUser(httptest.NewRequest(http.MethodPut, "/api/admin/roles/"+role.ID, jsonBody(t, map[string]string{
		"name": "reviewer",
	})), admin))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.AdminRoleByRef(rec, asUser(httptest.NewRequest(http.MethodDelete, "/api/admin/roles/"+role.ID, nil), admin))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestAdminCannotDeleteAssignedRole(t *testing.T) {
	h := newTestHandler(t)
	admin := registerUser(t, h, "root", models.RoleAdmin)
	registerUser(t, h, "alice")

	rec := httptest.NewRecorder()
	h.AdminRoleByRef(rec, asUser(httptest.NewRequest(http.MethodDelete, "/api/admin/roles/USER", nil), admin))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for assigned role, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAdminFileManagement(t *testing.T) {
	h := newTestHandler(t)
	admin := registerUser(t, h, "root", models.RoleAdmin)
	alice := registerUser(t, h, "alice")
	file := uploadTestFile(t, h, alice, "notes.txt", "hello")

	rec := httptest.NewRecorder()
	h.AdminFiles(rec, asUser(httptest.NewRequest(http.MethodGet, "/api/admin/files", nil), admin))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var files []models.File
	decodeBody(t, rec, &files)
	if len(files) != 1 || files[0].ID != file.ID {
		t.Fatalf("unexpected listing: %+v", files)
	}

	rec = httptest.NewRecorder()
	h.AdminFileByID(rec, asUser(httptest.NewRequest(http.MethodGet, "/api/admin/files/"+file.ID, nil), admin))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.AdminFileByID(rec, asUser(httptest.NewRequest(http.MethodDelete, "/api/admin/files/"+file.ID, nil), admin))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if _, ok := h.Store.GetFile(file.ID); ok {
		t.Fatal("expected file record to be gone")
	}
}
