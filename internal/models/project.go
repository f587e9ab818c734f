package models

import "time"

// Project statuses, in lifecycle order. Status only moves forward through
// this sequence; re-uploading a source document is the one sanctioned reset.
const (
	ProjectStatusDraft      = "draft"
	ProjectStatusUploading  = "uploading"
	ProjectStatusProcessing = "processing"
	ProjectStatusReady      = "ready"
	ProjectStatusExported   = "exported"
)

var projectStatusRank = map[string]int{
	ProjectStatusDraft:      0,
	ProjectStatusUploading:  1,
	ProjectStatusProcessing: 2,
	ProjectStatusReady:      3,
	ProjectStatusExported:   4,
}

// ProjectStatusAdvances reports whether moving from to next is a forward
// transition in the project lifecycle.
func ProjectStatusAdvances(from, to string) bool {
	fr, ok1 := projectStatusRank[from]
	tr, ok2 := projectStatusRank[to]
	return ok1 && ok2 && tr > fr
}

// Project owns document references by role and accumulates the structured
// output of each pipeline stage as the stage completes. Stage outputs live
// on the project, not on the job, so a crash after stage N never loses
// stage N's result.
type Project struct {
	UserID           string          `firestore:"userId"`
	Name             string          `firestore:"name,omitempty"`
	Status           string          `firestore:"status"`
	SourceDocuments  []string        `firestore:"sourceDocuments,omitempty"`
	ModelDocuments   []string        `firestore:"modelDocuments,omitempty"`
	TemplateDocument string          `firestore:"templateDocument,omitempty"`
	PipelineJobID    string          `firestore:"pipelineJobId,omitempty"`
	ProjectData      *ProjectData    `firestore:"projectData,omitempty"`
	FieldMap         *FieldMap       `firestore:"fieldMap,omitempty"`
	TemplateSchema   *TemplateSchema `firestore:"templateSchema,omitempty"`
	DraftPlan        *DraftPlan      `firestore:"draftPlan,omitempty"`
	QualityReport    *QualityReport  `firestore:"qualityReport,omitempty"`
	CreatedAt        time.Time       `firestore:"createdAt"`
	UpdatedAt        time.Time       `firestore:"updatedAt"`
}

// ProjectData is the parser stage output: one parsed result per source
// document, in upload order.
type ProjectData struct {
	SchemaVersion int              `firestore:"schemaVersion" json:"schemaVersion"`
	Documents     []ParsedDocument `firestore:"documents" json:"documents"`
}

// ParsedDocument is the structured transcription of one source document.
type ParsedDocument struct {
	DocumentID string            `firestore:"documentId" json:"documentId"`
	RawText    string            `firestore:"rawText" json:"rawText"`
	Blocks     []ExtractionBlock `firestore:"blocks" json:"blocks"`
	Tables     []TableData       `firestore:"tables,omitempty" json:"tables,omitempty"`
	Language   string            `firestore:"language,omitempty" json:"language,omitempty"`
	PageCount  int               `firestore:"pageCount" json:"pageCount"`
	Confidence float64           `firestore:"confidence" json:"confidence"`
}

// ExtractionBlock is one typed unit of parsed content.
type ExtractionBlock struct {
	Type       string  `firestore:"type" json:"type"` // text, heading, list, table
	Content    string  `firestore:"content" json:"content"`
	Page       int     `firestore:"page" json:"page"`
	Confidence float64 `firestore:"confidence" json:"confidence"`
}

// TableData is a normalized table extracted from a source document.
type TableData struct {
	Headers    []string   `firestore:"headers" json:"headers"`
	Rows       [][]string `firestore:"rows" json:"rows"`
	Page       int        `firestore:"page" json:"page"`
	Confidence float64    `firestore:"confidence" json:"confidence"`
}

// FieldMap is the extract_analyze output mapping model-document fields onto
// values found in the parsed source material.
type FieldMap struct {
	SchemaVersion int          `firestore:"schemaVersion" json:"schemaVersion"`
	Entries       []FieldEntry `firestore:"entries" json:"entries"`
}

// FieldEntry binds one template field to its extracted value.
type FieldEntry struct {
	Field      string  `firestore:"field" json:"field"`
	Value      string  `firestore:"value" json:"value"`
	SourceDoc  string  `firestore:"sourceDoc,omitempty" json:"sourceDoc,omitempty"`
	Confidence float64 `firestore:"confidence" json:"confidence"`
}

// TemplateSchema describes the structure discovered in the template document.
type TemplateSchema struct {
	SchemaVersion int      `firestore:"schemaVersion" json:"schemaVersion"`
	Sections      []string `firestore:"sections" json:"sections"`
	Fields        []string `firestore:"fields" json:"fields"`
}

// DraftPlan is the write_verify stage's drafting output.
type DraftPlan struct {
	SchemaVersion int            `firestore:"schemaVersion" json:"schemaVersion"`
	Sections      []DraftSection `firestore:"sections" json:"sections"`
}

// DraftSection is one planned section of the deliverable.
type DraftSection struct {
	Title   string `firestore:"title" json:"title"`
	Content string `firestore:"content" json:"content"`
}

// QualityReport is the verification half of the write_verify stage output.
type QualityReport struct {
	SchemaVersion int      `firestore:"schemaVersion" json:"schemaVersion"`
	Score         float64  `firestore:"score" json:"score"`
	Issues        []string `firestore:"issues,omitempty" json:"issues,omitempty"`
}
