package gcp

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/Lllllllleong/docfidesflow/internal/models"
)

// --- Parser Model Prompts ---
const ParserSystemPrompt = "You are a document transcription engine. Your task is to transcribe the content of document pages into structured JSON. Accuracy, detail, and information preservation are of utmost importance."
const ParserUserPrompt = `You will be provided with one or more pages of a document.

Transcribe the pages into a single JSON object with exactly these keys:
- "rawText": a string with the full text content of all pages, in reading order.
- "blocks": an array of objects, one per logical unit of content, each with keys "type" (one of "text", "heading", "list", "table"), "content" (string), "page" (1-based integer), and "confidence" (0-100).
- "tables": an array of objects, each with keys "headers" (array of strings), "rows" (array of arrays of strings), "page" (integer), and "confidence" (0-100). If a table contains merged cells, normalize it by copying parent-cell content into each child cell.
- "language": the ISO 639-1 code of the dominant language, or an empty string if unclear.

Ignore page numbers, logos, and other header/footer noise. The output MUST be a single valid JSON object with no surrounding text.`

// ParserScanUserPrompt is the transcription prompt for scanned pages and
// images, where the content must be read optically rather than extracted.
const ParserScanUserPrompt = `You will be provided with one or more scanned pages or photographed documents. There is no embedded text layer: read every page optically and transcribe what you see.

Transcribe the pages into a single JSON object with exactly these keys:
- "rawText": a string with the full text content of all pages, in reading order.
- "blocks": an array of objects, one per logical unit of content, each with keys "type" (one of "text", "heading", "list", "table"), "content" (string), "page" (1-based integer), and "confidence" (0-100). Lower the confidence for handwriting, stamps, skewed or low-resolution regions.
- "tables": an array of objects, each with keys "headers" (array of strings), "rows" (array of arrays of strings), "page" (integer), and "confidence" (0-100). If a table contains merged cells, normalize it by copying parent-cell content into each child cell.
- "language": the ISO 639-1 code of the dominant language, or an empty string if unclear.

Ignore page numbers, logos, and other header/footer noise. The output MUST be a single valid JSON object with no surrounding text.`

// --- Analyst Model Prompts ---
const AnalystSystemPrompt = "You are a document analysis specialist. Your task is to study parsed source material together with a template and style models, and to output a structured mapping as valid JSON."
const AnalystUserPrompt = `You are given the parsed content of a project's source documents, the text of its output template, and zero or more style-model documents.

Produce a single JSON object with exactly two keys:
- "templateSchema": an object with "sections" (array of section titles found in the template, in order) and "fields" (array of fill-in field names the template expects).
- "fieldMap": an array of objects, each with "field" (a template field name), "value" (the value extracted from the source material), "sourceDoc" (the id of the source document the value came from, or an empty string), and "confidence" (0-100).

Every field in "templateSchema.fields" must appear exactly once in "fieldMap". If the source material does not contain a value, use an empty string and confidence 0. Output only the JSON object.`

// --- Writer Model Prompts ---
const WriterSystemPrompt = "You are an expert technical writer. Your task is to draft a deliverable document section by section, strictly following a template schema and a field mapping, and to verify your own draft. You must output valid JSON."
const WriterUserPrompt = `You are given a template schema, a field map, and the parsed source material of a project.

Produce a single JSON object with exactly two keys:
- "draftPlan": an object with "sections", an array of objects each holding "title" and "content". Follow the template's section order exactly. Fill every field using the field map; never invent values that are not grounded in the source material.
- "qualityReport": an object with "score" (0-100, your assessment of how completely and faithfully the draft covers the template) and "issues" (array of strings naming unfilled fields, low-confidence values, or sections you could not draft).

Output only the JSON object.`

// --- Profiler Model Prompts (library assets) ---
const ProfilerSystemPrompt = "You are a document profiling tool. Your task is to reduce a reusable asset (a template, a style exemplar, or an entity document) to a compact structured profile. You must output valid JSON."
const ProfilerUserPrompt = `Analyze the provided document and produce a single JSON object with exactly these keys:
- "summary": a concise description of what the document is and what it is for (2-4 sentences).
- "fields": an array of strings naming the fill-in fields or key data points the document carries. Empty array if none.
- "tone": a short phrase describing the document's register and style (e.g. "formal legal", "concise technical").

Output only the JSON object.`

// GeminiModel wraps one pre-configured generative model behind the narrow
// invocation contract the stage executor consumes.
type GeminiModel struct {
	model *genai.GenerativeModel
}

// Generate sends the prompt and attachments to the model and returns the
// extracted text content along with token accounting.
func (m *GeminiModel) Generate(ctx context.Context, prompt string, attachments []models.Attachment) (string, models.TokenUsage, error) {
	parts := make([]genai.Part, 0, len(attachments)+1)
	for _, a := range attachments {
		parts = append(parts, genai.Blob{MIMEType: a.MIMEType, Data: a.Data})
	}
	parts = append(parts, genai.Text(prompt))

	resp, err := m.model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", models.TokenUsage{}, fmt.Errorf("failed to generate content from gemini: %w", err)
	}

	var usage models.TokenUsage
	if resp.UsageMetadata != nil {
		usage.PromptTokens = resp.UsageMetadata.PromptTokenCount
		usage.OutputTokens = resp.UsageMetadata.CandidatesTokenCount
	}
	return extractText(resp), usage, nil
}

// extractText robustly gets the raw text content from the model response,
// stripping markdown fences the model sometimes adds despite instructions.
func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	content := strings.TrimSpace(b.String())
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```markdown")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

// VertexClient holds all pre-configured generative models for the pipeline.
type VertexClient struct {
	ParserModel   *GeminiModel
	AnalystModel  *GeminiModel
	WriterModel   *GeminiModel
	ProfilerModel *GeminiModel
	baseClient    *genai.Client
}

// NewVertexClient creates a new client holding all necessary models.
func NewVertexClient(ctx context.Context, projectID, region string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	return &VertexClient{
		ParserModel:   newJSONModel(baseClient, ParserSystemPrompt),
		AnalystModel:  newJSONModel(baseClient, AnalystSystemPrompt),
		WriterModel:   newJSONModel(baseClient, WriterSystemPrompt),
		ProfilerModel: newJSONModel(baseClient, ProfilerSystemPrompt),
		baseClient:    baseClient,
	}, nil
}

// newJSONModel configures a gemini model for deterministic structured output.
func newJSONModel(client *genai.Client, systemPrompt string) *GeminiModel {
	model := client.GenerativeModel("gemini-1.5-pro")
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		// Force JSON output. This is a critical setting for these models.
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}
	return &GeminiModel{model: model}
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}
