package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cirrusdrive/internal/models"
	"cirrusdrive/internal/storage"
)

func TestRegister(t *testing.T) {
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/api/users/register", jsonBody(t, map[string]string{
		"username":  "alice",
		"email":     "alice@example.com",
		"password":  "secret-password",
		"firstName": "Alice",
	})))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var user models.User
	decodeBody(t, rec, &user)
	if user.Username != "alice" {
		t.Fatalf("expected alice, got %s", user.Username)
	}
	if len(user.Roles) != 1 || user.Roles[0] != models.RoleUser {
		t.Fatalf("expected default USER role, got %v", user.Roles)
	}
	if strings.Contains(rec.Body.String(), "secret-password") || strings.Contains(rec.Body.String(), "pbkdf2") {
		t.Fatal("response must not leak password material")
	}
}

func TestRegisterValidation(t *testing.T) {
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/api/users/register", jsonBody(t, map[string]string{})))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var violations []Violation
	decodeBody(t, rec, &violations)
	if len(violations) != 3 {
		t.Fatalf("expected 3 violations, got %+v", violations)
	}

	// A single missing field comes back as a bare object, not an array.
	rec = httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/api/users/register", jsonBody(t, map[string]string{
		"username": "alice",
		"email":    "alice@example.com",
	})))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var violation Violation
	decodeBody(t, rec, &violation)
	if violation.Field != "password" {
		t.Fatalf("expected password violation, got %+v", violation)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	h := newTestHandler(t)
	registerUser(t, h, "alice")

	rec := httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/api/users/register", jsonBody(t, map[string]string{
		"username": "bob",
		"email":    "alice@example.com",
		"password": "secret-password",
	})))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var violation Violation
	decodeBody(t, rec, &violation)
	if violation.Field != "email" {
		t.Fatalf("expected email violation, got %+v", violation)
	}
}

func TestRegisterRejectsUnknownFields(t *testing.T) {
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/api/users/register", jsonBody(t, map[string]string{
		"username": "alice",
		"email":    "alice@example.com",
		"password": "secret-password",
		"roles":    "ADMIN",
	})))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected unknown field to be rejected, got %d", rec.Code)
	}
}

func TestLogin(t *testing.T) {
	h := newTestHandler(t)
	registerUser(t, h, "alice")

	rec := httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/api/users/login", jsonBody(t, map[string]string{
		"login":    "alice",
		"password": "secret-password",
	})))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp loginResponse
	decodeBody(t, rec, &resp)
	if resp.Username != "alice" || resp.Token == "" {
		t.Fatalf("unexpected login response: %+v", resp)
	}
	claims, err := h.Tokens.Decode(resp.Token)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if claims.Subject != "alice" {
		t.Fatalf("expected token subject alice, got %s", claims.Subject)
	}
	if len(claims.Authorities) != 1 || claims.Authorities[0] != models.RoleUser {
		t.Fatalf("expected USER authority, got %v", claims.Authorities)
	}
}

func TestLoginFailures(t *testing.T) {
	h := newTestHandler(t)
	user := registerUser(t, h, "alice")

	rec := httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/api/users/login", jsonBody(t, map[string]string{
		"login":    "alice",
		"password": "wrong",
	})))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", rec.Code)
	}

	disabled := models.StatusDisabled
	if _, err := h.Store.UpdateUser(user.ID, storage.UserUpdate{Status: &disabled}); err != nil {
		t.Fatalf("UpdateUser returned error: %v", err)
	}
	rec = httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/api/users/login", jsonBody(t, map[string]string{
		"login":    "alice",
		"password": "secret-password",
	})))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for disabled account, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/api/users/login", jsonBody(t, map[string]string{
		"login": "alice",
	})))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing password, got %d", rec.Code)
	}
}

func TestMe(t *testing.T) {
	h := newTestHandler(t)
	user := registerUser(t, h, "alice")

	rec := httptest.NewRecorder()
	h.Me(rec, asUser(httptest.NewRequest(http.MethodGet, "/api/users", nil), user))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var fetched models.User
	decodeBody(t, rec, &fetched)
	if fetched.ID != user.ID {
		t.Fatalf("expected own profile, got %+v", fetched)
	}

	rec = httptest.NewRecorder()
	h.Me(rec, asUser(httptest.NewRequest(http.MethodPut, "/api/users", jsonBody(t, map[string]string{
		"firstName": "Alice",
	})), user))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var updated models.User
	decodeBody(t, rec, &updated)
	if updated.FirstName != "Alice" {
		t.Fatalf("expected updated first name, got %+v", updated)
	}

	// Self-update cannot change email or grant roles.
	rec = httptest.NewRecorder()
	h.Me(rec, asUser(httptest.NewRequest(http.MethodPut, "/api/users", jsonBody(t, map[string]string{
		"email": "new@example.com",
	})), user))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected email change to be rejected, got %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.Me(rec, asUser(httptest.NewRequest(http.MethodPut, "/api/users", jsonBody(t, map[string][]string{
		"roles": {"ADMIN"},
	})), user))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected role grant to be rejected, got %d", rec.Code)
	}
}

func TestMeDeleteRemovesAccountAndFiles(t *testing.T) {
	h := newTestHandler(t)
	user := registerUser(t, h, "alice")
	file := uploadTestFile(t, h, user, "notes.txt", "hello")

	token, err := h.ShareLinks.Generate(file.ID)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	rec := httptest.NewRecorder()
	h.Me(rec, asUser(httptest.NewRequest(http.MethodDelete, "/api/users", nil), user))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	if _, ok := h.Store.FindUserByUsername("alice"); ok {
		t.Fatal("expected account to be gone")
	}
	if _, ok := h.Store.GetFile(file.ID); ok {
		t.Fatal("expected file record to be gone")
	}
	if _, ok, _ := h.ShareLinks.Resolve(token); ok {
		t.Fatal("expected share link to be revoked")
	}
	if _, err := h.Blobs.Open(file.Path); err == nil {
		t.Fatal("expected blob to be removed")
	}
}
