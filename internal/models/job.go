package models

import (
	"fmt"
	"time"
)

// Pipeline stage names, in canonical execution order.
const (
	StageParser         = "parser"
	StageExtractAnalyze = "extract_analyze"
	StageWriteVerify    = "write_verify"
)

// StageOrder is the fixed canonical stage sequence. Each stage's only
// declared input is the stage before it.
var StageOrder = []string{StageParser, StageExtractAnalyze, StageWriteVerify}

// Job and stage statuses.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// TokenUsage records the inference spend of one stage invocation.
type TokenUsage struct {
	PromptTokens int32 `firestore:"promptTokens" json:"promptTokens"`
	OutputTokens int32 `firestore:"outputTokens" json:"outputTokens"`
}

// PipelineStageResult tracks one stage of a job.
type PipelineStageResult struct {
	Name       string     `firestore:"name"`
	Status     string     `firestore:"status"`
	Error      string     `firestore:"error,omitempty"`
	Usage      TokenUsage `firestore:"usage,omitempty"`
	StartedAt  time.Time  `firestore:"startedAt,omitempty"`
	FinishedAt time.Time  `firestore:"finishedAt,omitempty"`
	DurationMS int64      `firestore:"durationMs,omitempty"`
}

// PipelineJob is the ordered execution of all stages for one project run.
// The transition methods enforce the state machine; callers persist the job
// after every transition so pollers always see a consistent snapshot.
type PipelineJob struct {
	ID           string                `firestore:"-"`
	ProjectID    string                `firestore:"projectId"`
	Status       string                `firestore:"status"`
	CurrentStage string                `firestore:"currentStage,omitempty"`
	Stages       []PipelineStageResult `firestore:"stages"`
	CreatedAt    time.Time             `firestore:"createdAt"`
	UpdatedAt    time.Time             `firestore:"updatedAt"`
}

// NewPipelineJob creates a job with every canonical stage queued.
func NewPipelineJob(id, projectID string) *PipelineJob {
	now := time.Now()
	job := &PipelineJob{
		ID:        id,
		ProjectID: projectID,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, name := range StageOrder {
		job.Stages = append(job.Stages, PipelineStageResult{Name: name, Status: StatusQueued})
	}
	return job
}

func (j *PipelineJob) stage(name string) (*PipelineStageResult, int) {
	for i := range j.Stages {
		if j.Stages[i].Name == name {
			return &j.Stages[i], i
		}
	}
	return nil, -1
}

// Stage returns the result entry for the named stage, or nil.
func (j *PipelineJob) Stage(name string) *PipelineStageResult {
	s, _ := j.stage(name)
	return s
}

// NextStage returns the name of the first queued stage, or "" when none
// remain. A failed job has no next stage until it is restarted.
func (j *PipelineJob) NextStage() string {
	if j.Status == StatusFailed {
		return ""
	}
	for i := range j.Stages {
		if j.Stages[i].Status == StatusQueued {
			return j.Stages[i].Name
		}
	}
	return ""
}

// StartStage transitions the named stage to running. Every earlier stage in
// the canonical order must already be completed, and the job must not be
// failed.
func (j *PipelineJob) StartStage(name string) error {
	if j.Status == StatusFailed {
		return fmt.Errorf("job %s is failed; restart it before running stage %q", j.ID, name)
	}
	s, idx := j.stage(name)
	if s == nil {
		return fmt.Errorf("unknown stage %q", name)
	}
	if s.Status != StatusQueued {
		return fmt.Errorf("stage %q is %s, not queued", name, s.Status)
	}
	for i := 0; i < idx; i++ {
		if j.Stages[i].Status != StatusCompleted {
			return fmt.Errorf("stage %q requires %q to be completed, found %s",
				name, j.Stages[i].Name, j.Stages[i].Status)
		}
	}
	now := time.Now()
	s.Status = StatusRunning
	s.StartedAt = now
	j.Status = StatusRunning
	j.CurrentStage = name
	j.UpdatedAt = now
	return nil
}

// CompleteStage transitions the named running stage to completed, records
// timing and usage, and completes the job when no stage remains queued.
func (j *PipelineJob) CompleteStage(name string, usage TokenUsage) error {
	s, _ := j.stage(name)
	if s == nil {
		return fmt.Errorf("unknown stage %q", name)
	}
	if s.Status != StatusRunning {
		return fmt.Errorf("stage %q is %s, not running", name, s.Status)
	}
	now := time.Now()
	s.Status = StatusCompleted
	s.FinishedAt = now
	s.DurationMS = now.Sub(s.StartedAt).Milliseconds()
	s.Usage = usage
	j.UpdatedAt = now
	if next := j.NextStage(); next == "" {
		j.Status = StatusCompleted
		j.CurrentStage = ""
	}
	return nil
}

// FailStage transitions the named running stage to failed with the given
// message and fails the whole job. Downstream stages stay queued and can
// never start until the job is restarted: their inputs are the structured
// output of the failed stage, so partial continuation has no value.
func (j *PipelineJob) FailStage(name, message string) error {
	s, _ := j.stage(name)
	if s == nil {
		return fmt.Errorf("unknown stage %q", name)
	}
	if s.Status != StatusRunning {
		return fmt.Errorf("stage %q is %s, not running", name, s.Status)
	}
	now := time.Now()
	s.Status = StatusFailed
	s.Error = message
	s.FinishedAt = now
	s.DurationMS = now.Sub(s.StartedAt).Milliseconds()
	j.Status = StatusFailed
	j.UpdatedAt = now
	return nil
}

// Restart re-queues a failed job. Only the failed stage and stages after it
// are reset; completed stages keep their timestamps, usage, and outputs, so
// restart never repeats inference work that already succeeded.
func (j *PipelineJob) Restart() error {
	if j.Status != StatusFailed {
		return fmt.Errorf("job %s is %s; only failed jobs can be restarted", j.ID, j.Status)
	}
	for i := range j.Stages {
		switch j.Stages[i].Status {
		case StatusFailed, StatusRunning:
			j.Stages[i] = PipelineStageResult{Name: j.Stages[i].Name, Status: StatusQueued}
		}
	}
	j.Status = StatusQueued
	j.CurrentStage = ""
	j.UpdatedAt = time.Now()
	return nil
}
