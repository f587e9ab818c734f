package main

import (
	"context"
	"encoding/json"
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
	processingInstance *services.ProcessingService
	once               sync.Once
	initErr            error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleRunPipeline", handleRunPipeline)
}

// main is required by the Go Functions Framework.
func main() {}

// handleRunPipeline is called by the processing workflow after an upload
// completes, and directly by the API layer to restart a failed job.
func handleRunPipeline(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		processingInstance, initErr = services.NewProcessingService(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.PipelineRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}
	if req.ProjectID == "" {
		writeError(w, http.StatusBadRequest, "missing projectId")
		return
	}

	resp, err := processingInstance.Run(r.Context(), &req)
	if err != nil {
		writeError(w, apperr.HTTPStatus(err), apperr.Message(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to write response", "error", err)
		http.Error(w, "Internal Server Error: failed to encode response", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(models.ErrorResponse{Error: message})
}
