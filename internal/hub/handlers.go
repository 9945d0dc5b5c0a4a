package hub

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/roach88/canvassync/internal/canvas"
	"github.com/roach88/canvassync/internal/protocol"
)

type elementsRequest struct {
	Elements []canvas.Element `json:"elements"`
}

type successResponse struct {
	Success  bool  `json:"success"`
	Revision int64 `json:"revision,omitempty"`
}

type historyResponse struct {
	History []canvas.Snapshot `json:"history"`
}

type uploadResponse struct {
	ImageURL string `json:"imageUrl"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (h *Hub) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		user, ok := h.dir.Authenticate(strings.TrimSpace(token))
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
	})
}

func (h *Hub) getCanvas(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	snap, err := h.repo.Load(r.Context(), user.CanvasID)
	if err != nil {
		slog.Error("failed to load canvas", "canvas_id", user.CanvasID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load canvas")
		return
	}
	snap.Partner = h.dir.PartnerOf(user)
	writeJSON(w, http.StatusOK, snap)
}

func (h *Hub) saveCanvas(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	req, ok := readElements(w, r)
	if !ok {
		return
	}

	rev, err := h.repo.Save(r.Context(), user.CanvasID, canvas.Snapshot{
		Elements:    req.Elements,
		LastUpdated: h.now(),
		UserID:      user.UserID,
	})
	if err != nil {
		slog.Error("failed to save canvas", "canvas_id", user.CanvasID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save canvas")
		return
	}
	slog.Debug("saved canvas", "canvas_id", user.CanvasID, "user_id", user.UserID, "revision", rev, "elements", len(req.Elements))
	writeJSON(w, http.StatusOK, successResponse{Success: true, Revision: rev})
}

func (h *Hub) broadcastCanvas(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	req, ok := readElements(w, r)
	if !ok {
		return
	}

	if err := h.publish(r.Context(), user.CanvasID, "", protocol.CanvasUpdate(user.UserID, req.Elements)); err != nil {
		slog.Error("failed to broadcast canvas", "canvas_id", user.CanvasID, "error", err)
		writeError(w, http.StatusBadGateway, "failed to broadcast")
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *Hub) getHistory(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	history, err := h.repo.History(r.Context(), user.CanvasID, limit)
	if err != nil {
		slog.Error("failed to read history", "canvas_id", user.CanvasID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{History: history})
}

func (h *Hub) uploadImage(w http.ResponseWriter, r *http.Request) {
	if h.uploadsDir == "" {
		writeError(w, http.StatusNotImplemented, "uploads are disabled")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image field is required")
		return
	}
	defer file.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		writeError(w, http.StatusBadRequest, "empty upload")
		return
	}
	head = head[:n]
	if !strings.HasPrefix(http.DetectContentType(head), "image/") {
		writeError(w, http.StatusUnsupportedMediaType, "not an image")
		return
	}

	name := uuid.NewString() + strings.ToLower(filepath.Ext(header.Filename))
	if err := h.writeUpload(name, io.MultiReader(bytes.NewReader(head), file)); err != nil {
		slog.Error("failed to store upload", "name", name, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{ImageURL: imageURL(r, name)})
}

func (h *Hub) writeUpload(name string, src io.Reader) error {
	if err := os.MkdirAll(h.uploadsDir, 0o755); err != nil {
		return fmt.Errorf("create uploads dir: %w", err)
	}
	f, err := os.Create(filepath.Join(h.uploadsDir, name))
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (h *Hub) getImage(w http.ResponseWriter, r *http.Request) {
	name := filepath.Base(mux.Vars(r)["name"])
	if h.uploadsDir == "" || name == "." || name == string(filepath.Separator) {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, filepath.Join(h.uploadsDir, name))
}

func imageURL(r *http.Request, name string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/api/images/%s", scheme, r.Host, name)
}

func readElements(w http.ResponseWriter, r *http.Request) (elementsRequest, bool) {
	var req elementsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return req, false
	}
	if req.Elements == nil {
		req.Elements = []canvas.Element{}
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Success: false, Error: msg})
}
