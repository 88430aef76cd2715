package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"cirrusdrive/internal/auth"
	"cirrusdrive/internal/mail"
	"cirrusdrive/internal/models"
	"cirrusdrive/internal/observability/metrics"
	"cirrusdrive/internal/storage"
)

// Handler wires the datastore, token manager, share-link manager, blob
// store, and mailer into the HTTP surface.
type Handler struct {
	Store      storage.Repository
	Tokens     *auth.TokenManager
	ShareLinks *auth.ShareLinkManager
	Blobs      *storage.BlobStore
	Mailer     mail.Mailer
	Logger     *slog.Logger
	Metrics    *metrics.Recorder
}

func NewHandler(store storage.Repository, tokens *auth.TokenManager, shareLinks *auth.ShareLinkManager, blobs *storage.BlobStore) *Handler {
	if shareLinks == nil {
		shareLinks = auth.NewShareLinkManager()
	}
	return &Handler{Store: store, Tokens: tokens, ShareLinks: shareLinks, Blobs: blobs}
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Handler) metrics() *metrics.Recorder {
	if h.Metrics != nil {
		return h.Metrics
	}
	return metrics.Default()
}

// Violation is the uniform error envelope: the field that failed and a
// human-readable message. Multi-field failures are returned as an array.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeViolation(w http.ResponseWriter, status int, field, message string) {
	writeJSON(w, status, Violation{Field: field, Message: message})
}

func writeViolations(w http.ResponseWriter, status int, violations []Violation) {
	if len(violations) == 1 {
		writeJSON(w, status, violations[0])
		return
	}
	writeJSON(w, status, violations)
}

// WriteViolation is an exported helper for returning JSON API errors.
func WriteViolation(w http.ResponseWriter, status int, field, message string) {
	writeViolation(w, status, field, message)
}

func writeStoreError(w http.ResponseWriter, field string, err error) {
	writeViolation(w, statusForStoreError(err), field, err.Error())
}

// statusForStoreError maps datastore errors onto HTTP statuses. Entity
// not-found intentionally maps to 400, matching the long-standing upstream
// contract that clients depend on.
func statusForStoreError(err error) int {
	switch {
	case errors.Is(err, storage.ErrInvalidCredentials),
		errors.Is(err, storage.ErrAccountDisabled):
		return http.StatusUnauthorized
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, storage.ErrUsernameTaken),
		errors.Is(err, storage.ErrEmailTaken),
		errors.Is(err, storage.ErrRoleExists),
		errors.Is(err, storage.ErrRoleInUse):
		return http.StatusBadRequest
	default:
		return http.StatusBadRequest
	}
}

func methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	writeViolation(w, http.StatusMethodNotAllowed, "method", "method not allowed")
}

func decodeJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

// requireUser resolves the authenticated principal to a stored account. The
// gate trusts the token's claims; the store lookup here is where a deleted
// or disabled account is caught.
func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) (models.User, auth.Principal, bool) {
	principal, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		writeViolation(w, http.StatusUnauthorized, "Authorization", "authentication required")
		return models.User{}, auth.Principal{}, false
	}
	user, ok := h.Store.FindUserByUsername(principal.Username)
	if !ok {
		writeViolation(w, http.StatusUnauthorized, "Authorization", "unknown principal")
		return models.User{}, auth.Principal{}, false
	}
	if !user.Enabled() {
		writeViolation(w, http.StatusUnauthorized, "Authorization", "account is disabled")
		return models.User{}, auth.Principal{}, false
	}
	return user, principal, true
}

// requireRole passes iff the request carries a valid principal whose token
// authorities include the required role.
func (h *Handler) requireRole(w http.ResponseWriter, r *http.Request, role string) (models.User, bool) {
	user, principal, ok := h.requireUser(w, r)
	if !ok {
		return models.User{}, false
	}
	if _, err := auth.RequireRole(auth.ContextWithPrincipal(r.Context(), principal), role); err != nil {
		writeViolation(w, http.StatusForbidden, "Authorization", "insufficient role")
		return models.User{}, false
	}
	return user, true
}

// requireFileAccess is the ownership-gate for file mutations and private
// downloads: the caller must own the file or carry the admin override.
func (h *Handler) requireFileAccess(w http.ResponseWriter, r *http.Request, fileID string) (models.File, models.User, bool) {
	user, principal, ok := h.requireUser(w, r)
	if !ok {
		return models.File{}, models.User{}, false
	}
	file, found := h.Store.GetFile(fileID)
	if !found {
		writeViolation(w, http.StatusBadRequest, "id", "file not found")
		return models.File{}, models.User{}, false
	}
	if err := auth.CheckOwnership(principal, user.ID, file.OwnerID, models.RoleAdmin); err != nil {
		writeViolation(w, http.StatusForbidden, "id", "access denied")
		return models.File{}, models.User{}, false
	}
	return file, user, true
}

// Health reports process and datastore liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	status := "ok"
	code := http.StatusOK
	if err := h.Store.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
		h.logger().Warn("datastore ping failed", "error", err)
	}
	writeJSON(w, code, map[string]string{"status": status})
}
