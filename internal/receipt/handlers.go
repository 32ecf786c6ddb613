package receipt

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"
)

// maxUploadSize caps the multipart form at 50MB to handle high-resolution
// phone photos
const maxUploadSize = int64(50 << 20)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON encodes a JSON response body
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes a JSON error response with CORS headers set
func writeError(w http.ResponseWriter, message string, status int) {
	setCORSHeaders(w)
	writeJSON(w, status, map[string]string{"error": message})
}

// actionStatus maps a manager error to an HTTP status
func actionStatus(err error) int {
	switch {
	case errors.Is(err, ErrEntryNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrEntryConfirmed),
		errors.Is(err, ErrNotRetryable),
		errors.Is(err, ErrMissingClassification):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

// handleIndex serves the HTML interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// handleStaticCSS serves the CSS file
func (s *Server) handleStaticCSS(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/css")
	w.Write(appCSS)
}

// handleStaticJS serves the JavaScript file
func (s *Server) handleStaticJS(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Write(appJS)
}

// handleState returns the full observable state for renderers
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snapshot := s.manager.Snapshot()
	confirmed := 0
	for _, e := range snapshot.Entries {
		if e.IsConfirmed {
			confirmed++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries":         snapshot.Entries,
		"active_id":       snapshot.ActiveID,
		"vocabularies":    s.manager.Vocabularies(),
		"confirmed_count": confirmed,
	})
}

// handleUpload accepts one or more receipt files and enqueues them
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		message := "Error parsing form"
		if err.Error() == "http: request body too large" {
			message = "File is too large. Maximum size is 50MB."
		}
		writeError(w, message, http.StatusBadRequest)
		return
	}

	headers := r.MultipartForm.File["files"]
	uploads := make([]Upload, 0, len(headers))
	for _, header := range headers {
		f, err := header.Open()
		if err != nil {
			slog.Error("Error opening uploaded file", "filename", header.Filename, "error", err)
			writeError(w, "Error reading file. Please try again.", http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			slog.Error("Error reading file data", "filename", header.Filename, "error", err)
			writeError(w, "Error reading file. Please try again.", http.StatusBadRequest)
			return
		}

		contentType := header.Header.Get("Content-Type")
		if contentType == "" {
			contentType = contentTypeForFilename(header.Filename)
		}

		uploads = append(uploads, Upload{
			Filename:    header.Filename,
			Data:        data,
			ContentType: strings.ToLower(strings.TrimSpace(contentType)),
		})
	}

	entries := s.manager.Enqueue(uploads)
	if len(entries) == 0 {
		// Uploading zero files is a no-op
		writeJSON(w, http.StatusOK, []Entry{})
		return
	}
	writeJSON(w, http.StatusCreated, entries)
}

// contentTypeForFilename guesses a MIME type from the file extension
func contentTypeForFilename(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handlePreview returns the original uploaded image for an entry
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.manager.Preview(r.PathValue("id"))
	if err != nil {
		writeError(w, "Preview not found", http.StatusNotFound)
		return
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleRetry restarts extraction for an entry in error status
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Retry(r.PathValue("id")); err != nil {
		writeError(w, err.Error(), actionStatus(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleConfirm marks an entry's classification as final
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Confirm(r.PathValue("id")); err != nil {
		writeError(w, err.Error(), actionStatus(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUnconfirm reopens a confirmed entry for edits
func (s *Server) handleUnconfirm(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Unconfirm(r.PathValue("id")); err != nil {
		writeError(w, err.Error(), actionStatus(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUpdateClassification sets one classification field on an entry
func (s *Server) handleUpdateClassification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Field ClassificationField `json:"field"`
		Value string              `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.manager.UpdateClassification(r.PathValue("id"), req.Field, req.Value); err != nil {
		writeError(w, err.Error(), actionStatus(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSetActive selects the entry shown in detail view
func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.manager.SetActive(req.ID); err != nil {
		writeError(w, err.Error(), actionStatus(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAddVocabulary inserts a new classification value
func (s *Server) handleAddVocabulary(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	err := s.manager.AddVocabulary(VocabularyName(r.PathValue("name")), req.Value)
	var dup *DuplicateValueError
	switch {
	case errors.As(err, &dup):
		writeError(w, err.Error(), http.StatusConflict)
	case err != nil:
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		writeJSON(w, http.StatusCreated, s.manager.Vocabularies())
	}
}

// handleExport offers the confirmed entries as a CSV download
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	rows := ExportRows(s.manager.ConfirmedEntries())
	if len(rows) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+ExportFilename(time.Now())+`"`)
	if err := WriteCSV(w, rows); err != nil {
		slog.Error("Error writing export", "error", err)
	}
}

// handleReset discards every entry and releases their previews
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.manager.Reset()
	w.WriteHeader(http.StatusNoContent)
}

// handleEvents streams a server-sent event after every state change so the
// UI can refresh without polling
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	changes, cancel := s.manager.Watch()
	defer cancel()

	io.WriteString(w, "data: change\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-changes:
			io.WriteString(w, "data: change\n\n")
			flusher.Flush()
		}
	}
}
