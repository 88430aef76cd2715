package api

import (
	"net/http"
	"strings"
	"time"

	"cirrusdrive/internal/storage"
)

type registerRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Register creates a self-service account. New accounts receive the standard
// user role and start active.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeViolation(w, http.StatusBadRequest, "body", err.Error())
		return
	}

	violations := make([]Violation, 0, 3)
	if strings.TrimSpace(req.Username) == "" {
		violations = append(violations, Violation{Field: "username", Message: "username is required"})
	}
	if strings.TrimSpace(req.Email) == "" {
		violations = append(violations, Violation{Field: "email", Message: "email is required"})
	}
	if req.Password == "" {
		violations = append(violations, Violation{Field: "password", Message: "password is required"})
	}
	if len(violations) > 0 {
		writeViolations(w, http.StatusBadRequest, violations)
		return
	}

	user, err := h.Store.CreateUser(storage.CreateUserParams{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		field := "username"
		if err == storage.ErrEmailTaken {
			field = "email"
		}
		writeStoreError(w, field, err)
		return
	}

	if h.Mailer != nil {
		if err := h.Mailer.SendWelcome(user.Email, user.Username); err != nil {
			h.logger().Warn("welcome mail delivery failed", "to", user.Email, "error", err)
		}
	}

	h.metrics().ObserveAuthEvent("register")
	writeJSON(w, http.StatusCreated, user)
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type loginResponse struct {
	Username  string    `json:"username"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Login verifies credentials and issues a signed token embedding the
// account's current roles. Login accepts the username or the registered
// email address.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeViolation(w, http.StatusBadRequest, "body", err.Error())
		return
	}
	if strings.TrimSpace(req.Login) == "" || req.Password == "" {
		writeViolation(w, http.StatusBadRequest, "login", "login and password are required")
		return
	}

	user, err := h.Store.AuthenticateUser(req.Login, req.Password)
	if err != nil {
		h.metrics().ObserveAuthEvent("login_failure")
		writeStoreError(w, "login", err)
		return
	}

	token, err := h.Tokens.Issue(user.Username, user.Roles)
	if err != nil {
		h.logger().Error("token signing failed", "username", user.Username, "error", err)
		writeViolation(w, http.StatusInternalServerError, "token", "token issuance failed")
		return
	}

	h.metrics().ObserveAuthEvent("login_success")
	writeJSON(w, http.StatusOK, loginResponse{
		Username:  user.Username,
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(h.Tokens.TTL()),
	})
}

type selfUpdateRequest struct {
	Username  *string `json:"username"`
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Password  *string `json:"password"`
}

// Me serves the authenticated account: profile read, self-update, and
// account deletion. The update deliberately has no email field; accounts
// keep the address they registered with.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, _, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, user)
	case http.MethodPut:
		var req selfUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeViolation(w, http.StatusBadRequest, "body", err.Error())
			return
		}
		updated, err := h.Store.UpdateUser(user.ID, storage.UserUpdate{
			Username:  req.Username,
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Password:  req.Password,
		})
		if err != nil {
			writeStoreError(w, "username", err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		if err := h.removeUserAccount(user.ID); err != nil {
			writeStoreError(w, "id", err)
			return
		}
		writeJSON(w, http.StatusNoContent, nil)
	default:
		methodNotAllowed(w, "GET, PUT, DELETE")
	}
}

// removeUserAccount deletes the account plus its blobs and share links. The
// record deletion runs last so a crash leaves orphan blobs rather than
// dangling records.
func (h *Handler) removeUserAccount(userID string) error {
	for _, file := range h.Store.ListFilesByOwner(userID) {
		if err := h.ShareLinks.Revoke(file.ID); err != nil {
			h.logger().Warn("share link cleanup failed", "file_id", file.ID, "error", err)
		}
	}
	if h.Blobs != nil {
		if err := h.Blobs.RemoveOwner(userID); err != nil {
			h.logger().Warn("blob cleanup failed", "owner_id", userID, "error", err)
		}
	}
	return h.Store.DeleteUser(userID)
}
