package receipt

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zombor/expense-splitter/internal/auth"
	"github.com/zombor/expense-splitter/internal/ingest"
)

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	var verr *ingest.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound), errors.Is(err, ingest.ErrCycleNotFound):
		return http.StatusNotFound
	case errors.Is(err, ingest.ErrBusy), errors.Is(err, ingest.ErrInvalidState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes a JSON error body with CORS headers set
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	message := err.Error()

	var verr *ingest.ValidationError
	switch {
	case errors.As(err, &verr):
		message = verr.Message
	case status == http.StatusInternalServerError:
		message = "Internal server error"
		if errors.Is(err, ingest.ErrPersistenceFailed) {
			message = "The receipt could not be saved. Your changes are kept; please try again."
		}
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func badRequest(w http.ResponseWriter, message string) {
	writeError(w, &ingest.ValidationError{Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &ingest.ValidationError{Message: "Invalid request body", Err: err}
	}
	return nil
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	group, err := s.service.CreateGroup(r.Context(), auth.FromContext(r.Context()), req.Name)
	if err != nil {
		slog.Error("Error creating group", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.service.ListGroups(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		slog.Error("Error listing groups", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	group, err := s.service.GetGroup(r.Context(), auth.FromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	group, err := s.service.AddMember(r.Context(), auth.FromContext(r.Context()), r.PathValue("id"), req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (s *Server) handleListGroupReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.service.ListGroupReceipts(r.Context(), auth.FromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

func (s *Server) handleCreateManualReceipt(w http.ResponseWriter, r *http.Request) {
	var req ManualReceipt
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	receipt, err := s.service.CreateManualReceipt(r.Context(), auth.FromContext(r.Context()), r.PathValue("id"), req)
	if err != nil {
		slog.Error("Error creating receipt", "group_id", r.PathValue("id"), "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (s *Server) handleExportGroup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	data, err := s.service.ExportGroupXLSX(r.Context(), auth.FromContext(r.Context()), id)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="receipts-`+id+`.xlsx"`)
	w.Write(data)
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.service.GetReceipt(r.Context(), auth.FromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteReceipt(r.Context(), auth.FromContext(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// uploadContentType prefers the part's declared type and falls back to the extension
func uploadContentType(declared, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(declared))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); byExt != "" {
		return byExt
	}
	if contentType == "" {
		return "application/octet-stream"
	}
	return contentType
}

// handleUpload accepts a receipt file, runs it through extraction and returns the upload under review
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session := auth.FromContext(ctx)
	groupID := r.PathValue("id")

	if _, err := s.service.GetGroup(ctx, session, groupID); err != nil {
		writeError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+1<<20)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			badRequest(w, "File is too large. Maximum size is 50MB. Please compress or resize your image.")
			return
		}
		badRequest(w, "Error parsing form")
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			badRequest(w, "No file was selected. Please choose a file to upload.")
			return
		}
		badRequest(w, "No file provided")
		return
	}
	defer f.Close()

	if header.Size > maxUploadSize {
		badRequest(w, "File is too large. Maximum size is 50MB. Please compress or resize your image.")
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, err)
		return
	}

	cycle := s.uploads.Begin()
	contentType := uploadContentType(header.Header.Get("Content-Type"), header.Filename)
	if err := cycle.SelectFile(header.Filename, contentType, data); err != nil {
		_ = cycle.Cancel()
		writeError(w, err)
		return
	}

	if err := cycle.Process(ctx, session, groupID); err != nil {
		slog.Error("Error processing upload", "filename", header.Filename, "error", err)
		_ = cycle.Cancel()
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, cycle.View())
}

// cycleFor returns the upload named in the path if it belongs to the caller
func (s *Server) cycleFor(r *http.Request) (*ingest.Cycle, error) {
	cycle, err := s.uploads.Get(r.PathValue("id"))
	if err != nil {
		return nil, err
	}
	if auth.UserID(cycle.Session()) != auth.UserID(auth.FromContext(r.Context())) {
		return nil, ErrForbidden
	}
	return cycle, nil
}

func (s *Server) handleGetUpload(w http.ResponseWriter, r *http.Request) {
	cycle, err := s.cycleFor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cycle.View())
}

func (s *Server) handleEditUpload(w http.ResponseWriter, r *http.Request) {
	cycle, err := s.cycleFor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Description *string `json:"description"`
		Date        *string `json:"date"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Description != nil {
		if err := cycle.SetDescription(*req.Description); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.Date != nil {
		if err := cycle.SetDate(*req.Date); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, cycle.View())
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	cycle, err := s.cycleFor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := cycle.AddItem(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cycle.View())
}

func itemIndex(r *http.Request) (int, error) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		return 0, &ingest.ValidationError{Message: "item index must be a number", Err: err}
	}
	return index, nil
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	cycle, err := s.cycleFor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	index, err := itemIndex(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req map[string]string
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	// description before amount keeps the order stable
	for _, field := range []string{"description", "amount"} {
		if value, ok := req[field]; ok {
			if err := cycle.UpdateItem(index, field, value); err != nil {
				writeError(w, err)
				return
			}
			delete(req, field)
		}
	}
	for field, value := range req {
		if err := cycle.UpdateItem(index, field, value); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, cycle.View())
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	cycle, err := s.cycleFor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	index, err := itemIndex(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := cycle.RemoveItem(index); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cycle.View())
}

func (s *Server) handleSubmitUpload(w http.ResponseWriter, r *http.Request) {
	cycle, err := s.cycleFor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	receiptID, err := cycle.Submit(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	receipt, err := s.service.GetReceipt(r.Context(), auth.FromContext(r.Context()), receiptID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (s *Server) handleCancelUpload(w http.ResponseWriter, r *http.Request) {
	cycle, err := s.cycleFor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := cycle.Cancel(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetFile serves a stored original
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	data, err := s.service.GetFile(name)
	if err != nil {
		writeError(w, err)
		return
	}

	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
