package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/docfidesflow/internal/apperr"
	"github.com/Lllllllleong/docfidesflow/internal/gcp"
	"github.com/Lllllllleong/docfidesflow/internal/models"
)

// ModelInvoker is the inference contract a stage consumes: a prompt plus
// binary payloads in, extracted text and token accounting out.
type ModelInvoker interface {
	Generate(ctx context.Context, prompt string, attachments []models.Attachment) (string, models.TokenUsage, error)
}

// StageModels holds the invoker for each pipeline stage.
type StageModels struct {
	Parser  ModelInvoker
	Analyst ModelInvoker
	Writer  ModelInvoker
}

// PipelineStore is the slice of the record store the pipeline runner and
// stage executor share.
type PipelineStore interface {
	GetProject(ctx context.Context, projectID string) (*models.Project, error)
	SaveStageOutput(ctx context.Context, projectID string, outputs map[string]any) error
	AdvanceProjectStatus(ctx context.Context, projectID, status string) error
	SetProjectJob(ctx context.Context, projectID, jobID string) error
	SaveJob(ctx context.Context, job *models.PipelineJob) error
	GetJob(ctx context.Context, jobID string) (*models.PipelineJob, error)
	GetDocument(ctx context.Context, docID string) (*models.Document, error)
	SetDocumentStatus(ctx context.Context, docID, status, errDetails string) error
}

// StageExecutor runs one named stage as a function of the project's
// documents and prior stage outputs. Its only responsibilities beyond that
// are input resolution, one silent retry on transient provider errors, and
// translating failures into classified errors for the job state machine.
type StageExecutor struct {
	store    PipelineStore
	blobs    BlobStore
	renderer PageRenderer
	models   StageModels
}

// NewStageExecutor wires an executor.
func NewStageExecutor(store PipelineStore, blobs BlobStore, renderer PageRenderer, m StageModels) *StageExecutor {
	return &StageExecutor{store: store, blobs: blobs, renderer: renderer, models: m}
}

// Execute runs the named stage against project, mutating it with the stage
// output and returning the Firestore field updates to persist. Transient
// provider failures get exactly one retry; validation and input failures
// never do.
func (e *StageExecutor) Execute(ctx context.Context, stage, projectID string, project *models.Project) (map[string]any, models.TokenUsage, error) {
	outputs, usage, err := e.run(ctx, stage, projectID, project)
	if err != nil && apperr.Is(err, apperr.Provider) {
		slog.Warn("Transient provider error, retrying stage once.", "stage", stage, "projectId", projectID, "error", err)
		var retryUsage models.TokenUsage
		outputs, retryUsage, err = e.run(ctx, stage, projectID, project)
		usage.PromptTokens += retryUsage.PromptTokens
		usage.OutputTokens += retryUsage.OutputTokens
	}
	return outputs, usage, err
}

func (e *StageExecutor) run(ctx context.Context, stage, projectID string, project *models.Project) (map[string]any, models.TokenUsage, error) {
	switch stage {
	case models.StageParser:
		return e.runParser(ctx, projectID, project)
	case models.StageExtractAnalyze:
		return e.runExtractAnalyze(ctx, projectID, project)
	case models.StageWriteVerify:
		return e.runWriteVerify(ctx, projectID, project)
	}
	return nil, models.TokenUsage{}, apperr.New(apperr.Validation, "unknown stage %q", stage)
}

// parsedDocPayload is the JSON shape the parser model returns per document.
type parsedDocPayload struct {
	RawText  string                   `json:"rawText"`
	Blocks   []models.ExtractionBlock `json:"blocks"`
	Tables   []models.TableData       `json:"tables"`
	Language string                   `json:"language"`
}

// runParser transcribes every source document into structured content,
// fanning out across documents with a bounded group. Document statuses move
// processing → extracted/failed as each transcription lands.
func (e *StageExecutor) runParser(ctx context.Context, projectID string, project *models.Project) (map[string]any, models.TokenUsage, error) {
	if len(project.SourceDocuments) == 0 {
		return nil, models.TokenUsage{}, apperr.New(apperr.NotFound, "project %s has no source documents", projectID)
	}

	parsed := make([]models.ParsedDocument, len(project.SourceDocuments))
	usages := make([]models.TokenUsage, len(project.SourceDocuments))

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(3)
	for i, docID := range project.SourceDocuments {
		eg.Go(func() error {
			doc, err := e.store.GetDocument(gctx, docID)
			if err != nil {
				return err
			}
			if doc.Status == models.DocStatusDeleted {
				return apperr.New(apperr.NotFound, "source document %s was deleted", docID)
			}
			if err := e.store.SetDocumentStatus(gctx, docID, models.DocStatusProcessing, ""); err != nil {
				return err
			}

			result, usage, err := e.parseDocument(gctx, docID, doc)
			if err != nil {
				if statusErr := e.store.SetDocumentStatus(gctx, docID, models.DocStatusFailed, apperr.Message(err)); statusErr != nil {
					slog.Error("Failed to record document failure.", "documentId", docID, "error", statusErr)
				}
				return fmt.Errorf("document %s: %w", docID, err)
			}

			parsed[i] = *result
			usages[i] = usage
			return e.store.SetDocumentStatus(gctx, docID, models.DocStatusExtracted, "")
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, models.TokenUsage{}, err
	}

	var total models.TokenUsage
	for _, u := range usages {
		total.PromptTokens += u.PromptTokens
		total.OutputTokens += u.OutputTokens
	}

	data := &models.ProjectData{SchemaVersion: 1, Documents: parsed}
	project.ProjectData = data
	return map[string]any{"projectData": data}, total, nil
}

// parserPrompt picks the transcription prompt for one document: native PDFs
// get the text-extraction prompt, scanned PDFs and images the optical one.
func parserPrompt(mimeType string, data []byte) string {
	switch {
	case mimeType == "application/pdf":
		if models.PDFHasSelectableText(data) {
			return gcp.ParserUserPrompt
		}
		return gcp.ParserScanUserPrompt
	case strings.HasPrefix(mimeType, "image/"):
		return gcp.ParserScanUserPrompt
	}
	return gcp.ParserUserPrompt
}

// parseDocument renders one document into page payloads and transcribes it.
func (e *StageExecutor) parseDocument(ctx context.Context, docID string, doc *models.Document) (*models.ParsedDocument, models.TokenUsage, error) {
	data, err := e.blobs.Get(ctx, doc.StorageKey)
	if err != nil {
		return nil, models.TokenUsage{}, apperr.Wrap(apperr.NotFound, err, "temp bytes for document %s are gone", docID)
	}

	attachments, pageCount, err := e.renderer.RenderPages(data, doc.MimeType)
	if err != nil {
		return nil, models.TokenUsage{}, err
	}

	text, usage, err := e.models.Parser.Generate(ctx, parserPrompt(doc.MimeType, data), attachments)
	if err != nil {
		return nil, usage, apperr.Wrap(apperr.Provider, err, "transcription failed for document %s", docID)
	}

	var payload parsedDocPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, usage, apperr.Wrap(apperr.Validation, err, "parser model returned malformed JSON for document %s", docID)
	}
	if strings.TrimSpace(payload.RawText) == "" && len(payload.Blocks) == 0 {
		return nil, usage, apperr.New(apperr.Validation, "parser model returned no content for document %s", docID)
	}

	var confidence float64
	for _, b := range payload.Blocks {
		confidence += b.Confidence
	}
	if len(payload.Blocks) > 0 {
		confidence /= float64(len(payload.Blocks))
	}

	return &models.ParsedDocument{
		DocumentID: docID,
		RawText:    payload.RawText,
		Blocks:     payload.Blocks,
		Tables:     payload.Tables,
		Language:   payload.Language,
		PageCount:  pageCount,
		Confidence: confidence,
	}, usage, nil
}

// analystPayload is the JSON shape the analyst model returns.
type analystPayload struct {
	TemplateSchema *models.TemplateSchema `json:"templateSchema"`
	FieldMap       []models.FieldEntry    `json:"fieldMap"`
}

// runExtractAnalyze maps template fields onto values from the parsed source
// material, attaching the template and style-model files when present.
func (e *StageExecutor) runExtractAnalyze(ctx context.Context, projectID string, project *models.Project) (map[string]any, models.TokenUsage, error) {
	if project.ProjectData == nil || len(project.ProjectData.Documents) == 0 {
		return nil, models.TokenUsage{}, apperr.New(apperr.NotFound, "parser output missing for project %s", projectID)
	}

	parsedJSON, err := json.Marshal(project.ProjectData)
	if err != nil {
		return nil, models.TokenUsage{}, apperr.Wrap(apperr.Persistence, err, "failed to encode parser output")
	}

	var attachments []models.Attachment
	attach := func(docID string) error {
		doc, err := e.store.GetDocument(ctx, docID)
		if err != nil {
			return err
		}
		data, err := e.blobs.Get(ctx, doc.StorageKey)
		if err != nil {
			return apperr.Wrap(apperr.NotFound, err, "temp bytes for document %s are gone", docID)
		}
		attachments = append(attachments, models.Attachment{MIMEType: doc.MimeType, Data: data})
		return nil
	}
	if project.TemplateDocument != "" {
		if err := attach(project.TemplateDocument); err != nil {
			return nil, models.TokenUsage{}, err
		}
	}
	for _, docID := range project.ModelDocuments {
		if err := attach(docID); err != nil {
			return nil, models.TokenUsage{}, err
		}
	}

	prompt := fmt.Sprintf("%s\n\nParsed source material (JSON):\n%s", gcp.AnalystUserPrompt, parsedJSON)
	text, usage, err := e.models.Analyst.Generate(ctx, prompt, attachments)
	if err != nil {
		return nil, usage, apperr.Wrap(apperr.Provider, err, "analysis failed for project %s", projectID)
	}

	var payload analystPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, usage, apperr.Wrap(apperr.Validation, err, "analyst model returned malformed JSON")
	}
	if payload.TemplateSchema == nil {
		return nil, usage, apperr.New(apperr.Validation, "analyst model returned no template schema")
	}
	payload.TemplateSchema.SchemaVersion = 1

	fieldMap := &models.FieldMap{SchemaVersion: 1, Entries: payload.FieldMap}
	project.TemplateSchema = payload.TemplateSchema
	project.FieldMap = fieldMap
	return map[string]any{
		"templateSchema": payload.TemplateSchema,
		"fieldMap":       fieldMap,
	}, usage, nil
}

// writerPayload is the JSON shape the writer model returns.
type writerPayload struct {
	DraftPlan     *models.DraftPlan     `json:"draftPlan"`
	QualityReport *models.QualityReport `json:"qualityReport"`
}

// runWriteVerify drafts the deliverable from the analysis outputs and
// verifies the draft in the same call.
func (e *StageExecutor) runWriteVerify(ctx context.Context, projectID string, project *models.Project) (map[string]any, models.TokenUsage, error) {
	if project.TemplateSchema == nil || project.FieldMap == nil {
		return nil, models.TokenUsage{}, apperr.New(apperr.NotFound, "analysis output missing for project %s", projectID)
	}

	input := struct {
		TemplateSchema *models.TemplateSchema `json:"templateSchema"`
		FieldMap       *models.FieldMap       `json:"fieldMap"`
		ProjectData    *models.ProjectData    `json:"projectData"`
	}{project.TemplateSchema, project.FieldMap, project.ProjectData}
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, models.TokenUsage{}, apperr.Wrap(apperr.Persistence, err, "failed to encode analysis output")
	}

	prompt := fmt.Sprintf("%s\n\nInputs (JSON):\n%s", gcp.WriterUserPrompt, inputJSON)
	text, usage, err := e.models.Writer.Generate(ctx, prompt, nil)
	if err != nil {
		return nil, usage, apperr.Wrap(apperr.Provider, err, "drafting failed for project %s", projectID)
	}

	var payload writerPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, usage, apperr.Wrap(apperr.Validation, err, "writer model returned malformed JSON")
	}
	if payload.DraftPlan == nil || len(payload.DraftPlan.Sections) == 0 {
		return nil, usage, apperr.New(apperr.Validation, "writer model returned an empty draft plan")
	}
	payload.DraftPlan.SchemaVersion = 1
	if payload.QualityReport == nil {
		payload.QualityReport = &models.QualityReport{}
	}
	payload.QualityReport.SchemaVersion = 1

	project.DraftPlan = payload.DraftPlan
	project.QualityReport = payload.QualityReport
	return map[string]any{
		"draftPlan":     payload.DraftPlan,
		"qualityReport": payload.QualityReport,
	}, usage, nil
}
