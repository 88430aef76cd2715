package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"cirrusdrive/internal/auth"
	"cirrusdrive/internal/models"
	"cirrusdrive/internal/storage"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("NewStorage returned error: %v", err)
	}
	blobs, err := storage.NewBlobStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBlobStore returned error: %v", err)
	}
	tokens, err := auth.NewTokenManager([]byte("test-secret"), time.Minute)
	if err != nil {
		t.Fatalf("NewTokenManager returned error: %v", err)
	}
	return NewHandler(store, tokens, auth.NewShareLinkManager(), blobs)
}

func registerUser(t *testing.T, h *Handler, username string, roles ...string) models.User {
	t.Helper()
	user, err := h.Store.CreateUser(storage.CreateUserParams{
		Username: username,
		Email:    username + "@example.com",
		Password: "secret-password",
		Roles:    roles,
	})
	if err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}
	return user
}

// asUser binds the principal the authentication gate would have attached for
// the given account.
func asUser(r *http.Request, user models.User) *http.Request {
	principal := auth.Principal{Username: user.Username, Authorities: user.Roles}
	return r.WithContext(auth.ContextWithPrincipal(r.Context(), principal))
}

func jsonBody(t *testing.T, payload interface{}) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return bytes.NewReader(data)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func multipartUpload(t *testing.T, filename, description, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile returned error: %v", err)
	}
	if _, err := io.WriteString(part, content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if description != "" {
		if err := writer.WriteField("description", description); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}

func uploadTestFile(t *testing.T, h *Handler, owner models.User, filename, content string) models.File {
	t.Helper()
	body, contentType := multipartUpload(t, filename, "", content)
	r := asUser(httptest.NewRequest(http.MethodPost, "/api/files", body), owner)
	r.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.Files(rec, r)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload returned status %d: %s", rec.Code, rec.Body.String())
	}
	var file models.File
	decodeBody(t, rec, &file)
	return file
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["status"] != "ok" {
		t.Fatalf("expected ok status, got %v", body)
	}

	rec = httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != "GET" {
		t.Fatalf("expected Allow header GET, got %q", allow)
	}
}

func TestHealthDegraded(t *testing.T) {
	h := newTestHandler(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestRequireUserRejectsUnknownPrincipal(t *testing.T) {
	h := newTestHandler(t)

	// No principal at all.
	rec := httptest.NewRecorder()
	h.Files(rec, httptest.NewRequest(http.MethodGet, "/api/files", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for anonymous request, got %d", rec.Code)
	}

	// Principal whose account no longer exists.
	ghost := models.User{Username: "ghost", Roles: []string{models.RoleUser}}
	rec = httptest.NewRecorder()
	h.Files(rec, asUser(httptest.NewRequest(http.MethodGet, "/api/files", nil), ghost))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for deleted account, got %d", rec.Code)
	}
}

func TestRequireUserRejectsDisabledAccount(t *testing.T) {
	h := newTestHandler(t)
	user := registerUser(t, h, "alice")

	disabled := models.StatusDisabled
	if _, err := h.Store.UpdateUser(user.ID, storage.UserUpdate{Status: &disabled}); err != nil {
		t.Fatalf("UpdateUser returned error: %v", err)
	}

	rec := httptest.NewRecorder()
	h.Files(rec, asUser(httptest.NewRequest(http.MethodGet, "/api/files", nil), user))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for disabled account, got %d", rec.Code)
	}
	var violation Violation
	decodeBody(t, rec, &violation)
	if violation.Field != "Authorization" {
		t.Fatalf("expected Authorization violation, got %+v", violation)
	}
}
