package api

import (
	"net/http"
	"strings"

	"cirrusdrive/internal/models"
	"cirrusdrive/internal/observability/logging"
	"cirrusdrive/internal/storage"
)

const maxUploadMemory = 32 << 20

// Files serves the caller's file listing and accepts multipart uploads.
func (h *Handler) Files(w http.ResponseWriter, r *http.Request) {
	user, _, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.Store.ListFilesByOwner(user.ID))
	case http.MethodPost:
		h.uploadFile(w, r, user.ID)
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

func (h *Handler) uploadFile(w http.ResponseWriter, r *http.Request, ownerID string) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeViolation(w, http.StatusBadRequest, "file", "invalid multipart payload")
		return
	}
	part, header, err := r.FormFile("file")
	if err != nil {
		writeViolation(w, http.StatusBadRequest, "file", "file part is required")
		return
	}
	defer part.Close()

	record, err := h.Store.CreateFile(storage.CreateFileParams{
		OwnerID:     ownerID,
		Filename:    header.Filename,
		Description: r.FormValue("description"),
	})
	if err != nil {
		writeStoreError(w, "filename", err)
		return
	}

	path, size, err := h.Blobs.Save(ownerID, record.ID, part)
	if err != nil {
		h.logger().Error("blob write failed", "file_id", record.ID, "error", err)
		if delErr := h.Store.DeleteFile(record.ID); delErr != nil {
			h.logger().Warn("orphan record cleanup failed", "file_id", record.ID, "error", delErr)
		}
		writeViolation(w, http.StatusInternalServerError, "file", "upload failed")
		return
	}

	record, err = h.Store.UpdateFile(record.ID, storage.FileUpdate{Path: &path, SizeBytes: &size})
	if err != nil {
		writeStoreError(w, "id", err)
		return
	}

	h.metrics().ObserveFileEvent("upload")
	h.metrics().ObserveUploadBytes(size)
	h.logger().Info("file uploaded", "file_id", record.ID, "owner_id", ownerID, "size_bytes", size)
	writeJSON(w, http.StatusCreated, record)
}

type fileUpdateRequest struct {
	Filename    *string `json:"filename"`
	Description *string `json:"description"`
}

// FileByID serves metadata updates and deletion for a single file. Both
// operations pass through the ownership-gate: the caller must own the file
// or carry the admin override role.
func (h *Handler) FileByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/files/")
	if id == "" || strings.Contains(id, "/") {
		writeViolation(w, http.StatusBadRequest, "id", "file id missing")
		return
	}
	file, _, ok := h.requireFileAccess(w, r, id)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodPut:
		var req fileUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeViolation(w, http.StatusBadRequest, "body", err.Error())
			return
		}
		updated, err := h.Store.UpdateFile(file.ID, storage.FileUpdate{
			Filename:    req.Filename,
			Description: req.Description,
		})
		if err != nil {
			writeStoreError(w, "filename", err)
			return
		}
		h.metrics().ObserveFileEvent("update")
		writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		if err := h.removeFile(file.ID, file.Path); err != nil {
			writeStoreError(w, "id", err)
			return
		}
		h.metrics().ObserveFileEvent("delete")
		writeJSON(w, http.StatusNoContent, nil)
	default:
		methodNotAllowed(w, "PUT, DELETE")
	}
}

// removeFile revokes the share link and removes the blob before dropping the
// record, so a half-finished delete can still be retried by id.
func (h *Handler) removeFile(fileID, path string) error {
	if err := h.ShareLinks.Revoke(fileID); err != nil {
		h.logger().Warn("share link revoke failed", "file_id", fileID, "error", err)
	}
	if h.Blobs != nil && path != "" {
		if err := h.Blobs.Remove(path); err != nil {
			h.logger().Warn("blob remove failed", "file_id", fileID, "error", err)
		}
	}
	return h.Store.DeleteFile(fileID)
}

type shareResponse struct {
	FileID string `json:"fileId"`
	Token  string `json:"token"`
}

// FileShare issues a fresh share token for the file, invalidating any
// previously issued token for it.
func (h *Handler) FileShare(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		writeViolation(w, http.StatusBadRequest, "id", "file id is required")
		return
	}
	file, _, ok := h.requireFileAccess(w, r, id)
	if !ok {
		return
	}

	token, err := h.ShareLinks.Generate(file.ID)
	if err != nil {
		h.logger().Error("share link generation failed", "file_id", file.ID, "error", err)
		writeViolation(w, http.StatusInternalServerError, "id", "share link generation failed")
		return
	}

	h.metrics().ObserveShareEvent("issued")
	writeJSON(w, http.StatusOK, shareResponse{FileID: file.ID, Token: token})
}

// FileResource streams file content. With ?id= the caller must pass the
// ownership-gate; with ?link= the share token alone grants read access and
// no principal is consulted.
func (h *Handler) FileResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}

	query := r.URL.Query()
	link := strings.TrimSpace(query.Get("link"))
	id := strings.TrimSpace(query.Get("id"))

	switch {
	case link != "":
		fileID, ok, err := h.ShareLinks.Resolve(link)
		if err != nil {
			h.logger().Error("share link resolve failed", "error", err)
			writeViolation(w, http.StatusInternalServerError, "link", "share link lookup failed")
			return
		}
		if !ok {
			h.metrics().ObserveShareEvent("miss")
			writeViolation(w, http.StatusBadRequest, "link", "share link not found")
			return
		}
		file, found := h.Store.GetFile(fileID)
		if !found {
			h.metrics().ObserveShareEvent("miss")
			writeViolation(w, http.StatusBadRequest, "link", "file not found")
			return
		}
		h.metrics().ObserveShareEvent("resolved")
		h.serveBlob(w, r, file)
	case id != "":
		file, _, ok := h.requireFileAccess(w, r, id)
		if !ok {
			return
		}
		h.serveBlob(w, r, file)
	default:
		writeViolation(w, http.StatusBadRequest, "id", "id or link is required")
	}
}

func (h *Handler) serveBlob(w http.ResponseWriter, r *http.Request, file models.File) {
	blob, err := h.Blobs.Open(file.Path)
	if err != nil {
		h.logger().Error("blob open failed", "file_id", file.ID, "error", err)
		writeViolation(w, http.StatusBadRequest, "id", "file content unavailable")
		return
	}
	defer blob.Close()

	info, err := blob.Stat()
	if err != nil {
		writeViolation(w, http.StatusInternalServerError, "id", "file content unavailable")
		return
	}

	h.metrics().DownloadStarted()
	defer h.metrics().DownloadFinished()
	h.metrics().ObserveFileEvent("download")

	ctx := logging.ContextWithFileID(r.Context(), file.ID)
	w.Header().Set("Content-Disposition", `attachment; filename="`+strings.ReplaceAll(file.Filename, `"`, "")+`"`)
	http.ServeContent(w, r.WithContext(ctx), file.Filename, info.ModTime(), blob)
}
