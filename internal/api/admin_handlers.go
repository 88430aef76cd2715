package api

import (
	"net/http"
	"strings"

	"cirrusdrive/internal/models"
	"cirrusdrive/internal/storage"
)

// AdminUsers lists every account. Admin only.
func (h *Handler) AdminUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireRole(w, r, models.RoleAdmin); !ok {
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	writeJSON(w, http.StatusOK, h.Store.ListUsers())
}

type adminUserUpdateRequest struct {
	Username  *string        `json:"username"`
	FirstName *string        `json:"firstName"`
	LastName  *string        `json:"lastName"`
	Password  *string        `json:"password"`
	Roles     *[]string      `json:"roles"`
	Status    *models.Status `json:"status"`
}

// AdminUserByUsername serves single-account administration: read, update
// (including role and status assignment), and full account removal.
func (h *Handler) AdminUserByUsername(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireRole(w, r, models.RoleAdmin); !ok {
		return
	}
	username := strings.TrimPrefix(r.URL.Path, "/api/admin/users/")
	if username == "" || strings.Contains(username, "/") {
		writeViolation(w, http.StatusBadRequest, "username", "username missing")
		return
	}
	user, found := h.Store.FindUserByUsername(username)
	if !found {
		writeViolation(w, http.StatusBadRequest, "username", "user not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, user)
	case http.MethodPut:
		var req adminUserUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeViolation(w, http.StatusBadRequest, "body", err.Error())
			return
		}
		updated, err := h.Store.UpdateUser(user.ID, storage.UserUpdate{
			Username:  req.Username,
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Password:  req.Password,
			Roles:     req.Roles,
			Status:    req.Status,
		})
		if err != nil {
			writeStoreError(w, "username", err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		if err := h.removeUserAccount(user.ID); err != nil {
			writeStoreError(w, "username", err)
			return
		}
		writeJSON(w, http.StatusNoContent, nil)
	default:
		methodNotAllowed(w, "GET, PUT, DELETE")
	}
}

type roleRequest struct {
	Name string `json:"name"`
}

// AdminRoles serves the role catalog listing and creation.
func (h *Handler) AdminRoles(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireRole(w, r, models.RoleAdmin); !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.Store.ListRoles())
	case http.MethodPost:
		var req roleRequest
		if err := decodeJSON(r, &req); err != nil {
			writeViolation(w, http.StatusBadRequest, "body", err.Error())
			return
		}
		role, err := h.Store.CreateRole(req.Name)
		if err != nil {
			writeStoreError(w, "name", err)
			return
		}
		writeJSON(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

// AdminRoleByRef serves a single catalog role addressed by id or by name.
func (h *Handler) AdminRoleByRef(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireRole(w, r, models.RoleAdmin); !ok {
		return
	}
	ref := strings.TrimPrefix(r.URL.Path, "/api/admin/roles/")
	if ref == "" || strings.Contains(ref, "/") {
		writeViolation(w, http.StatusBadRequest, "role", "role reference missing")
		return
	}
	role, found := h.Store.GetRole(ref)
	if !found {
		role, found = h.Store.FindRoleByName(ref)
	}
	if !found {
		writeViolation(w, http.StatusBadRequest, "role", "role not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, role)
	case http.MethodPut:
		var req roleRequest
		if err := decodeJSON(r, &req); err != nil {
			writeViolation(w, http.StatusBadRequest, "body", err.Error())
			return
		}
		updated, err := h.Store.RenameRole(role.ID, req.Name)
		if err != nil {
			writeStoreError(w, "name", err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		if err := h.Store.DeleteRole(role.ID); err != nil {
			writeStoreError(w, "role", err)
			return
		}
		writeJSON(w, http.StatusNoContent, nil)
	default:
		methodNotAllowed(w, "GET, PUT, DELETE")
	}
}

// AdminFiles lists every stored file across owners. Admin only.
func (h *Handler) AdminFiles(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireRole(w, r, models.RoleAdmin); !ok {
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	writeJSON(w, http.StatusOK, h.Store.ListFiles())
}

// AdminFileByID serves single-file administration: metadata read and
// removal, regardless of owner.
func (h *Handler) AdminFileByID(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireRole(w, r, models.RoleAdmin); !ok {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/admin/files/")
	if id == "" || strings.Contains(id, "/") {
		writeViolation(w, http.StatusBadRequest, "id", "file id missing")
		return
	}
	file, found := h.Store.GetFile(id)
	if !found {
		writeViolation(w, http.StatusBadRequest, "id", "file not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, file)
	case http.MethodDelete:
		if err := h.removeFile(file.ID, file.Path); err != nil {
			writeStoreError(w, "id", err)
			return
		}
		h.metrics().ObserveFileEvent("delete")
		writeJSON(w, http.StatusNoContent, nil)
	default:
		methodNotAllowed(w, "GET, DELETE")
	}
}
