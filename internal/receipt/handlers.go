package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// maxFormMemory is held in memory while parsing uploads; the rest spills to disk
	maxFormMemory = 32 << 20
	// maxUploadBody caps a single upload request
	maxUploadBody = 256 << 20

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes v with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// jsonError writes {"error": message} with CORS headers set
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	writeJSON(w, code, map[string]string{"error": message})
}

// handleListFiles returns the queue in display order
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Files())
}

type uploadResponse struct {
	Files    []QueuedFile `json:"files"`
	Rejected []Rejection  `json:"rejected,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// handleUploadFiles validates and enqueues every file in the "files" form field
func (s *Server) handleUploadFiles(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			errorMsg = "Upload is too large. Please submit fewer files at a time."
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		jsonError(w, "No files were selected. Please choose files to upload.", http.StatusBadRequest)
		return
	}

	files := make([]File, 0, len(headers))
	for _, header := range headers {
		f, err := readUpload(header)
		if err != nil {
			slog.Error("Error reading uploaded file", "filename", header.Filename, "error", err)
			jsonError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
			return
		}
		files = append(files, f)
	}

	added, err := s.service.AddFiles(files)
	resp := uploadResponse{Files: added}
	var verr *ValidationError
	if errors.As(err, &verr) {
		resp.Rejected = verr.Rejections
		resp.Error = verr.Error()
	}
	if added == nil {
		resp.Files = []QueuedFile{}
	}

	code := http.StatusCreated
	if len(added) == 0 {
		code = http.StatusBadRequest
	}
	writeJSON(w, code, resp)
}

// readUpload copies an uploaded part into memory. Oversized parts are not read;
// validation rejects them on size alone.
func readUpload(header *multipart.FileHeader) (File, error) {
	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = ContentTypeFor(header.Filename)
	}
	f := File{
		Name:        header.Filename,
		Size:        header.Size,
		ContentType: contentType,
	}
	if header.Size > MaxFileSize {
		return f, nil
	}

	src, err := header.Open()
	if err != nil {
		return File{}, fmt.Errorf("opening upload: %w", err)
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		return File{}, fmt.Errorf("reading upload: %w", err)
	}
	f.Source = BytesSource(data)
	return f, nil
}

// handleRemoveFile removes one file from the queue
func (s *Server) handleRemoveFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "File ID required", http.StatusBadRequest)
		return
	}
	switch err := s.service.RemoveFile(id); {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, ErrFileNotFound):
		jsonError(w, "File not found", http.StatusNotFound)
	case errors.Is(err, ErrFileInFlight):
		jsonError(w, "File is being processed", http.StatusConflict)
	default:
		slog.Error("Error removing file", "id", id, "error", err)
		jsonError(w, "Error removing file", http.StatusInternalServerError)
	}
}

// handleClearFiles empties the queue
func (s *Server) handleClearFiles(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Clear(); err != nil {
		jsonError(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePreview returns a PNG rendering of a queued file
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	data, err := s.service.Preview(id)
	if errors.Is(err, ErrFileNotFound) {
		corsError(w, "File not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Error rendering preview", "id", id, "error", err)
		corsError(w, "Preview unavailable", http.StatusUnprocessableEntity)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(data)
}

// handleGetCompany returns the company details
func (s *Server) handleGetCompany(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Company())
}

// handleSetCompany replaces the company details
func (s *Server) handleSetCompany(w http.ResponseWriter, r *http.Request) {
	var company CompanyDetails
	if err := json.NewDecoder(r.Body).Decode(&company); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.service.SetCompany(company); err != nil {
		jsonError(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, s.service.Company())
}

// handleAnalyze starts a run in the background
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	// The run outlives the request
	_, err := s.service.StartAnalysis(context.WithoutCancel(r.Context()))
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
	case errors.Is(err, ErrRunInProgress):
		jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrCompanyRequired), errors.Is(err, ErrNothingToProcess):
		jsonError(w, err.Error(), http.StatusBadRequest)
	default:
		slog.Error("Error starting analysis", "error", err)
		jsonError(w, "Error starting analysis", http.StatusInternalServerError)
	}
}

// handleSummary returns the current summary
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Summary())
}

// handleExport serves an export download
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.PathValue("format"))
	data, err := s.service.Render(format)
	if errors.Is(err, ErrUnknownFormat) {
		corsError(w, "Unknown export format", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Error rendering export", "format", format, "error", err)
		corsError(w, "Error rendering export", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", ContentTypeForFormat(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, s.service.ExportFilename(format)))
	w.Write(data)
}

// handleEvents streams file and run updates over a websocket.
// The current queue and run state are sent first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Error upgrading connection", "error", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := s.service.Events().Subscribe()
	defer unsubscribe()

	initial := []Event{runEvent(s.service.Running())}
	for _, qf := range s.service.Files() {
		initial = append(initial, fileEvent(qf))
	}
	for _, e := range initial {
		if err := writeEvent(conn, e); err != nil {
			return
		}
	}

	// The read loop only observes control frames and disconnects
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Debug("Event stream closed", "error", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case e, ok := <-events:
			if !ok {
				// Dropped for lagging; the client reconnects for a fresh snapshot
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "event stream lagged"))
				return
			}
			if err := writeEvent(conn, e); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, e Event) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(e)
}
