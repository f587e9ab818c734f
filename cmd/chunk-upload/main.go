package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
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

	functions.HTTP("HandleChunkUpload", handleChunkUpload)
}

// main is required by the Go Functions Framework.
func main() {}

// handleChunkUpload receives one chunk per request. Metadata travels in
// headers because the body is the raw chunk bytes.
func handleChunkUpload(w http.ResponseWriter, r *http.Request) {
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

	meta, err := chunkMetaFromHeaders(r)
	if err != nil {
		writeError(w, apperr.HTTPStatus(err), apperr.Message(err))
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, services.MaxChunkBytes+services.ChunkTolerance+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "chunk exceeds the per-chunk size ceiling")
		return
	}

	assembled, err := uploadInstance.ProcessChunk(r.Context(), userID, meta, payload)
	if err != nil {
		writeError(w, apperr.HTTPStatus(err), apperr.Message(err))
		return
	}

	if assembled == nil {
		writeJSON(w, http.StatusOK, models.ChunkReceivedResponse{Received: meta.ChunkIndex})
		return
	}
	writeJSON(w, http.StatusCreated, models.UploadCompleteResponse{Data: assembled})
}

// chunkMetaFromHeaders decodes and validates the per-chunk metadata headers.
func chunkMetaFromHeaders(r *http.Request) (services.ChunkMeta, error) {
	var meta services.ChunkMeta

	meta.UploadID = r.Header.Get("X-Upload-Id")
	meta.ProjectID = r.Header.Get("X-Project-Id")
	meta.Role = models.DocumentRole(r.Header.Get("X-File-Role"))
	meta.TagID = r.Header.Get("X-Tag-Id")

	filename, err := url.QueryUnescape(r.Header.Get("X-File-Name"))
	if err != nil {
		return meta, apperr.New(apperr.Validation, "malformed X-File-Name header")
	}
	meta.Filename = filename

	index, err := strconv.Atoi(r.Header.Get("X-Chunk-Index"))
	if err != nil {
		return meta, apperr.New(apperr.Validation, "missing or malformed X-Chunk-Index header")
	}
	meta.ChunkIndex = index

	total, err := strconv.Atoi(r.Header.Get("X-Total-Chunks"))
	if err != nil {
		return meta, apperr.New(apperr.Validation, "missing or malformed X-Total-Chunks header")
	}
	meta.TotalChunks = total

	return meta, nil
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
