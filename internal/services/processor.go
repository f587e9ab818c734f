package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/docfidesflow/internal/gcp"
	"github.com/Lllllllleong/docfidesflow/internal/models"
)

// ProcessingConfig holds all configuration for the pipeline-runner function.
type ProcessingConfig struct {
	ProjectID      string
	TempBucket     string
	VertexAIRegion string
}

// ProcessingService is the pipeline-runner entry point's backing service.
type ProcessingService struct {
	runner *PipelineRunner
	config ProcessingConfig
}

// NewProcessingService creates a fully wired ProcessingService from the
// environment.
func NewProcessingService(ctx context.Context) (*ProcessingService, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	tempBucket := gcp.GetEnv("TEMP_BUCKET", "")
	if tempBucket == "" {
		return nil, fmt.Errorf("TEMP_BUCKET environment variable must be set")
	}
	config := ProcessingConfig{
		ProjectID:      projectID,
		TempBucket:     tempBucket,
		VertexAIRegion: gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	tempStore, err := gcp.NewTempStore(ctx, config.TempBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp store: %w", err)
	}
	vertexClient, err := gcp.NewVertexClient(ctx, config.ProjectID, config.VertexAIRegion)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}

	store := NewStore(firestoreClient)
	executor := NewStageExecutor(store, tempStore, PDFRenderer{}, StageModels{
		Parser:  vertexClient.ParserModel,
		Analyst: vertexClient.AnalystModel,
		Writer:  vertexClient.WriterModel,
	})

	slog.Info("Processing service initialized.", "region", config.VertexAIRegion)
	return &ProcessingService{
		runner: NewPipelineRunner(store, executor),
		config: config,
	}, nil
}

// Run executes (or restarts) the project's pipeline and reports the job's
// terminal snapshot for this invocation.
func (s *ProcessingService) Run(ctx context.Context, req *models.PipelineRunRequest) (*models.PipelineRunResponse, error) {
	logCtx := slog.With("projectId", req.ProjectID, "executionId", req.ExecutionID)
	logCtx.Info("Pipeline run requested.", "restart", req.Restart)

	job, err := s.runner.Run(ctx, req.ProjectID, req.Restart)
	if err != nil {
		return nil, err
	}

	resp := &models.PipelineRunResponse{JobID: job.ID, Status: job.Status}
	if job.Status == models.StatusFailed {
		for _, stage := range job.Stages {
			if stage.Status == models.StatusFailed {
				resp.FailedAt = stage.Name
				resp.FailureMsg = stage.Error
				break
			}
		}
	}
	return resp, nil
}
