package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/Lllllllleong/docfidesflow/internal/apperr"
	"github.com/Lllllllleong/docfidesflow/internal/models"
	"github.com/Lllllllleong/docfidesflow/internal/services"
)

var (
	uploadInstance *services.UploadService
	once           sync.Once
	initErr        error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleFileUpload", handleFileUpload)
}

// main is required by the Go Functions Framework.
func main() {}

// handleFileUpload is the direct (non-chunked) upload path: one multipart
// request carrying the whole file, routed through the same finalize and
// registration steps as an assembled chunked upload.
func handleFileUpload(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		uploadInstance, initErr = services.NewUploadService(r.Context())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	if err := r.ParseMultipartForm(services.MaxFileBytes + 1); err != nil {
		writeError(w, http.StatusBadRequest, "could not parse multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, services.MaxFileBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read file")
		return
	}

	meta := services.UploadMeta{
		Filename:  header.Filename,
		ProjectID: r.FormValue("projectId"),
		Role:      models.DocumentRole(r.FormValue("role")),
		TagID:     r.FormValue("tagId"),
	}
	assembled, err := uploadInstance.ProcessDirect(r.Context(), userID, meta, data)
	if err != nil {
		writeError(w, apperr.HTTPStatus(err), apperr.Message(err))
		return
	}
	writeJSON(w, http.StatusCreated, models.UploadCompleteResponse{Data: assembled})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.ErrorResponse{Error: message})
}
