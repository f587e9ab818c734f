package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/google/uuid"

	"github.com/Lllllllleong/docfidesflow/internal/apperr"
	"github.com/Lllllllleong/docfidesflow/internal/models"
)

// PipelineRunner drives a project's PipelineJob through its stages in
// canonical order. Every transition is persisted immediately; stage outputs
// land on the Project record the moment the stage completes, before the
// completion transition itself is written.
type PipelineRunner struct {
	store    PipelineStore
	executor *StageExecutor
}

// NewPipelineRunner wires a runner.
func NewPipelineRunner(store PipelineStore, executor *StageExecutor) *PipelineRunner {
	return &PipelineRunner{store: store, executor: executor}
}

// Run loads or creates the project's job and executes stages until the job
// completes or fails. With restart set, a failed job is re-queued first:
// only the failed stage and those after it reset, completed outputs stay.
// The returned snapshot reflects the job's terminal state for this call.
func (r *PipelineRunner) Run(ctx context.Context, projectID string, restart bool) (*models.PipelineJob, error) {
	logCtx := slog.With("projectId", projectID)

	project, err := r.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	job, err := r.loadOrCreateJob(ctx, projectID, project)
	if err != nil {
		return nil, err
	}
	logCtx = logCtx.With("jobId", job.ID)

	if restart {
		if err := job.Restart(); err != nil {
			return nil, apperr.Wrap(apperr.Validation, err, "cannot restart job %s", job.ID)
		}
		if err := r.store.SaveJob(ctx, job); err != nil {
			return nil, err
		}
		logCtx.Info("Job restarted.")
	}

	if job.Status == models.StatusCompleted {
		logCtx.Info("Job already completed, nothing to run.")
		return job, nil
	}
	if job.Status == models.StatusFailed {
		return nil, apperr.New(apperr.Validation, "job %s is failed; pass restart to re-queue it", job.ID)
	}

	if err := r.store.AdvanceProjectStatus(ctx, projectID, models.ProjectStatusProcessing); err != nil {
		return nil, err
	}

	// A recorded stage failure flips the job to failed, after which NextStage
	// returns nothing: the loop stops without further bookkeeping.
	for {
		stage := job.NextStage()
		if stage == "" {
			break
		}
		if err := r.runStage(ctx, logCtx, job, stage, projectID, project); err != nil {
			return nil, err
		}
	}

	if job.Status == models.StatusCompleted {
		if err := r.store.AdvanceProjectStatus(ctx, projectID, models.ProjectStatusReady); err != nil {
			return nil, err
		}
		logCtx.Info("Pipeline complete.")
	}
	return job, nil
}

// runStage executes one stage, persisting the start transition, the stage
// output, and the terminal transition in that order. A stage failure is
// recorded on the job and returns nil; only infrastructure errors (a
// persistence write that itself failed) propagate.
func (r *PipelineRunner) runStage(ctx context.Context, logCtx *slog.Logger, job *models.PipelineJob, stage, projectID string, project *models.Project) error {
	stageLog := logCtx.With("stage", stage)

	if err := job.StartStage(stage); err != nil {
		return apperr.Wrap(apperr.Validation, err, "cannot start stage %s", stage)
	}
	if err := r.store.SaveJob(ctx, job); err != nil {
		return err
	}
	stageLog.Info("Stage started.")

	outputs, usage, err := r.executor.Execute(ctx, stage, projectID, project)
	if err != nil {
		stageLog.Error("Stage failed.", "error", err)
		if failErr := job.FailStage(stage, apperr.Message(err)); failErr != nil {
			return failErr
		}
		if saveErr := r.store.SaveJob(ctx, job); saveErr != nil {
			stageLog.Error("CRITICAL: failed to persist stage failure.", "error", saveErr)
			return saveErr
		}
		return nil
	}

	// Output first, then the completion transition: a crash between the two
	// re-runs an already-saved stage instead of losing its result.
	if err := r.store.SaveStageOutput(ctx, projectID, outputs); err != nil {
		stageLog.Error("Failed to persist stage output.", "error", err)
		if failErr := job.FailStage(stage, apperr.Message(err)); failErr == nil {
			_ = r.store.SaveJob(ctx, job)
		}
		return err
	}
	if err := job.CompleteStage(stage, usage); err != nil {
		return err
	}
	if err := r.store.SaveJob(ctx, job); err != nil {
		return err
	}
	stageLog.Info("Stage completed.", "promptTokens", usage.PromptTokens, "outputTokens", usage.OutputTokens)
	return nil
}

func (r *PipelineRunner) loadOrCreateJob(ctx context.Context, projectID string, project *models.Project) (*models.PipelineJob, error) {
	if project.PipelineJobID != "" {
		return r.store.GetJob(ctx, project.PipelineJobID)
	}
	job := models.NewPipelineJob(uuid.NewString(), projectID)
	if err := r.store.SaveJob(ctx, job); err != nil {
		return nil, err
	}
	if err := r.store.SetProjectJob(ctx, projectID, job.ID); err != nil {
		return nil, err
	}
	project.PipelineJobID = job.ID
	return job, nil
}

// WorkflowLauncher hands a freshly uploaded project to the processing
// workflow, which calls back into the pipeline-runner function off the
// request path. Provider calls are multi-second operations, so the upload
// handler never runs the pipeline inline.
type WorkflowLauncher struct {
	client           *executions.Client
	projectID        string
	workflowLocation string
	workflowID       string
}

// NewWorkflowLauncher creates a launcher for the named workflow.
func NewWorkflowLauncher(client *executions.Client, gcpProject, location, workflowID string) *WorkflowLauncher {
	return &WorkflowLauncher{client: client, projectID: gcpProject, workflowLocation: location, workflowID: workflowID}
}

// Launch starts one workflow execution carrying the project id and a fresh
// correlation id, and returns that correlation id.
func (l *WorkflowLauncher) Launch(ctx context.Context, projectID string) (string, error) {
	executionID := uuid.NewString()
	payload, err := json.Marshal(models.PipelineRunRequest{ProjectID: projectID, ExecutionID: executionID})
	if err != nil {
		return "", fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", l.projectID, l.workflowLocation, l.workflowID),
		Execution: &executionspb.Execution{
			Argument: string(payload),
		},
	}
	if _, err := l.client.CreateExecution(ctx, req); err != nil {
		return "", fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	slog.Info("Processing workflow launched.", "projectId", projectID, "executionId", executionID)
	return executionID, nil
}
