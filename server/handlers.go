package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/storage"
)

// SessionHeader carries the session id when it is not in the request body.
const SessionHeader = "X-Session-ID"

// Messages returned to clients. Details of internal failures are logged only.
const (
	msgNoFilePart        = "No file part"
	msgNoSelectedFile    = "No selected file"
	msgFileTypeNotAllow  = "File type not allowed"
	msgFileTooLarge      = "File too large"
	msgNoSessionID       = "No session id provided"
	msgNoQuestion        = "No question provided"
	msgMissingRewrite    = "Missing original answer or style request"
	msgSessionNotFound   = "Session not found"
	msgIndexingFailed    = "Indexing failed due to an internal server issue."
	msgRetrievalFailed   = "Failed to retrieve answer due to an internal server issue."
	msgRewriteFailed     = "Failed to rewrite answer due to an internal server issue."
	msgDeleteFailed      = "Failed to delete session due to an internal server issue."
	msgInternal          = "An internal server error occurred. Please try again later."
	msgProcessed         = "File processed successfully"
	healthStatus         = "RAG backend running"
	multipartMemoryLimit = 8 << 20
)

// allowedExtensions are the upload formats accepted.
var allowedExtensions = map[string]bool{
	"pdf": true,
	"txt": true,
}

type healthResponse struct {
	Status string `json:"status"`
	Model  string `json:"model"`
}

type uploadResponse struct {
	Message       string `json:"message"`
	ChunksIndexed int    `json:"chunks_indexed"`
}

type askRequest struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
}

type rewriteRequest struct {
	Answer string `json:"answer"`
	Style  string `json:"style"`
}

type rewriteResponse struct {
	OriginalAnswer string `json:"original_answer"`
	StyleRequest   string `json:"style_request"`
	NewAnswer      string `json:"new_answer"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: healthStatus, Model: s.model})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, msgFileTooLarge, core.KindClientInput)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, msgFileTooLarge, core.KindClientInput)
			return
		}
		writeError(w, http.StatusBadRequest, msgNoFilePart, core.KindClientInput)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, msgNoFilePart, core.KindClientInput)
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, msgNoSelectedFile, core.KindClientInput)
		return
	}
	if !allowedFile(header.Filename) {
		writeError(w, http.StatusBadRequest, msgFileTypeNotAllow, core.KindClientInput)
		return
	}

	id, ok := s.sessionFrom(w, r, r.FormValue("session_id"))
	if !ok {
		return
	}

	name := secureFilename(header.Filename)
	path, err := s.stage(file, name)
	if err != nil {
		s.requestLogger(r).Error("staging upload failed", "filename", name, "err", err)
		writeError(w, http.StatusInternalServerError, msgIndexingFailed, core.KindIngestion)
		return
	}
	defer s.unstage(r, path)

	n, err := s.ingester.IngestFile(r.Context(), id, path, name)
	if err != nil {
		s.fail(w, r, err, msgIndexingFailed, "filename", name)
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{Message: msgProcessed, ChunksIndexed: n})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	// A malformed body is treated as an empty one
	_ = json.NewDecoder(r.Body).Decode(&req)

	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, msgNoQuestion, core.KindClientInput)
		return
	}
	id, ok := s.sessionFrom(w, r, req.SessionID)
	if !ok {
		return
	}

	result, err := s.querier.Query(r.Context(), id, req.Question)
	if err != nil {
		s.fail(w, r, err, msgRetrievalFailed, "question", req.Question)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRewrite(w http.ResponseWriter, r *http.Request) {
	var req rewriteRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if strings.TrimSpace(req.Answer) == "" || strings.TrimSpace(req.Style) == "" {
		writeError(w, http.StatusBadRequest, msgMissingRewrite, core.KindClientInput)
		return
	}

	rewritten, err := s.rewriter.Rewrite(r.Context(), req.Answer, req.Style)
	if err != nil {
		s.fail(w, r, err, msgRewriteFailed, "style", req.Style)
		return
	}
	writeJSON(w, http.StatusOK, rewriteResponse{
		OriginalAnswer: req.Answer,
		StyleRequest:   req.Style,
		NewAnswer:      rewritten,
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := core.SessionID(r.PathValue("id"))
	if err := core.ValidateSessionID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), core.KindClientInput)
		return
	}

	err := s.sessions.Delete(r.Context(), id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, msgSessionNotFound, core.KindClientInput)
	default:
		s.fail(w, r, err, msgDeleteFailed, "session", id)
	}
}

// sessionFrom resolves the session id from the request body, falling back to
// the session header. It writes a 400 response and returns false when the id
// is missing or invalid.
func (s *Server) sessionFrom(w http.ResponseWriter, r *http.Request, fromBody string) (core.SessionID, bool) {
	raw := fromBody
	if strings.TrimSpace(raw) == "" {
		raw = r.Header.Get(SessionHeader)
	}
	if strings.TrimSpace(raw) == "" {
		writeError(w, http.StatusBadRequest, msgNoSessionID, core.KindClientInput)
		return "", false
	}
	id := core.SessionID(raw)
	if err := core.ValidateSessionID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), core.KindClientInput)
		return "", false
	}
	return id, true
}

// fail reports a pipeline error. Client input errors carry their own message;
// everything else gets the generic message and is logged with its details.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, message string, attrs ...any) {
	kind := core.KindOf(err)
	if kind == core.KindClientInput {
		writeError(w, http.StatusBadRequest, err.Error(), kind)
		return
	}
	s.requestLogger(r).Error("request failed", append(attrs, "kind", kind, "err", err)...)
	writeError(w, http.StatusInternalServerError, message, kind)
}

// stage copies an upload into the upload directory under a unique name.
func (s *Server) stage(src io.Reader, name string) (string, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(s.uploadDir, uuid.NewString()+"-"+name)
	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func (s *Server) unstage(r *http.Request, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.requestLogger(r).Warn("removing staged upload failed", "path", path, "err", err)
	}
}

func allowedFile(filename string) bool {
	ext := strings.TrimPrefix(filepath.Ext(filename), ".")
	return allowedExtensions[strings.ToLower(ext)]
}

// secureFilename reduces an uploaded file name to a safe base name made of
// ASCII letters, digits, dots, dashes and underscores.
func secureFilename(filename string) string {
	filename = strings.ReplaceAll(filename, "\\", "/")
	filename = filepath.Base(filename)

	var b strings.Builder
	for _, r := range filename {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}

	name := strings.TrimLeft(b.String(), "._")
	if strings.TrimSuffix(name, filepath.Ext(name)) == "" || !allowedFile(name) {
		name = "upload" + strings.ToLower(filepath.Ext(filename))
	}
	return name
}
