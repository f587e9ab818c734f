package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	executions "cloud.google.com/go/workflows/executions/apiv1"

	"github.com/Lllllllleong/docfidesflow/internal/gcp"
	"github.com/Lllllllleong/docfidesflow/internal/models"
)

// UploadConfig holds all configuration for the upload functions.
type UploadConfig struct {
	ProjectID        string
	TempBucket       string
	StagingRoot      string
	WorkflowID       string
	WorkflowLocation string
}

// ProcessingLauncher hands a project to the asynchronous processing
// workflow and returns the execution's correlation id.
type ProcessingLauncher interface {
	Launch(ctx context.Context, projectID string) (string, error)
}

// UploadService composes the chunk assembler, the document registry, and the
// workflow launcher behind the two upload entry points.
type UploadService struct {
	assembler *ChunkAssembler
	registry  *DocumentRegistry
	launcher  ProcessingLauncher
	config    UploadConfig
}

func loadUploadConfig() (*UploadConfig, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	tempBucket := gcp.GetEnv("TEMP_BUCKET", "")
	if tempBucket == "" {
		return nil, fmt.Errorf("TEMP_BUCKET environment variable must be set")
	}
	return &UploadConfig{
		ProjectID:        projectID,
		TempBucket:       tempBucket,
		StagingRoot:      gcp.GetEnv("STAGING_DIR", filepath.Join(os.TempDir(), "docfides-staging")),
		WorkflowID:       gcp.GetEnv("WORKFLOW_ID", "project-processing-orchestrator"),
		WorkflowLocation: gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
	}, nil
}

// NewUploadService creates a fully wired UploadService from the environment.
func NewUploadService(ctx context.Context) (*UploadService, error) {
	config, err := loadUploadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	tempStore, err := gcp.NewTempStore(ctx, config.TempBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp store: %w", err)
	}
	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	executionsClient, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}

	store := NewStore(firestoreClient)
	s := &UploadService{
		assembler: NewChunkAssembler(config.StagingRoot, tempStore),
		registry:  NewDocumentRegistry(store, tempStore),
		launcher:  NewWorkflowLauncher(executionsClient, config.ProjectID, config.WorkflowLocation, config.WorkflowID),
		config:    *config,
	}
	slog.Info("Upload service initialized.", "workflowId", config.WorkflowID, "stagingRoot", config.StagingRoot)
	return s, nil
}

// ProcessChunk runs one chunk through the assembler and, when the chunk
// completed an assembly, registers the document and launches processing.
// A nil result with a nil error means the chunk was non-terminal.
func (s *UploadService) ProcessChunk(ctx context.Context, userID string, meta ChunkMeta, payload []byte) (*models.AssembledFile, error) {
	meta.UserID = userID
	assembled, err := s.assembler.Receive(ctx, meta, payload)
	if err != nil || assembled == nil {
		return nil, err
	}
	return assembled, s.completeUpload(ctx, userID, assembled)
}

// ProcessDirect runs a whole file through the shared finalize path.
func (s *UploadService) ProcessDirect(ctx context.Context, userID string, meta UploadMeta, data []byte) (*models.AssembledFile, error) {
	meta.UserID = userID
	assembled, err := s.assembler.DirectUpload(ctx, meta, data)
	if err != nil {
		return nil, err
	}
	return assembled, s.completeUpload(ctx, userID, assembled)
}

// completeUpload registers the Document and, for source material, hands the
// project to the processing workflow. Template and model uploads only feed
// later runs, so they do not trigger one.
func (s *UploadService) completeUpload(ctx context.Context, userID string, assembled *models.AssembledFile) error {
	if _, err := s.registry.Register(ctx, userID, assembled); err != nil {
		return err
	}
	if assembled.Role == string(models.RoleSource) {
		if _, err := s.launcher.Launch(ctx, assembled.ProjectID); err != nil {
			// The document is registered; a failed launch is retriable by
			// re-running the project, so surface it without unwinding.
			return err
		}
	}
	return nil
}
