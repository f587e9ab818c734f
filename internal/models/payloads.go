package models

// These structs define the JSON payloads exchanged with the web client and
// the Cloud Workflow orchestrator.

// ChunkReceivedResponse acknowledges a non-terminal chunk.
type ChunkReceivedResponse struct {
	Received int `json:"received"`
}

// AssembledFile is the metadata returned once the final chunk triggers a
// successful assembly. The assembler produces this; the upload handler is
// responsible for turning it into a Document record.
type AssembledFile struct {
	StorageKey       string `json:"storageKey"`
	SHA256           string `json:"sha256"`
	OriginalFilename string `json:"originalFilename"`
	MimeType         string `json:"mimeType"`
	Format           string `json:"format"`
	SizeBytes        int64  `json:"sizeBytes"`
	Role             string `json:"role"`
	ProjectID        string `json:"projectId"`
	TagID            string `json:"tagId,omitempty"`
}

// UploadCompleteResponse is the terminal chunk (and direct upload) response.
type UploadCompleteResponse struct {
	Data *AssembledFile `json:"data"`
}

// ErrorResponse carries a stable machine-readable failure message.
type ErrorResponse struct {
	Error string `json:"error"`
}

// PipelineRunRequest is the pipeline-runner function input, sent by the
// processing workflow after an upload completes or by an explicit restart.
type PipelineRunRequest struct {
	ProjectID   string `json:"projectId"`
	Restart     bool   `json:"restart,omitempty"`
	ExecutionID string `json:"executionId,omitempty"`
}

// PipelineRunResponse reports the terminal job snapshot of one runner call.
type PipelineRunResponse struct {
	JobID      string `json:"jobId"`
	Status     string `json:"status"`
	FailedAt   string `json:"failedAt,omitempty"`
	FailureMsg string `json:"failureMsg,omitempty"`
}

// LibraryProcessEvent is the CloudEvent data payload dispatched after a
// library asset upload.
type LibraryProcessEvent struct {
	ItemID     string `json:"itemId"`
	ItemType   string `json:"itemType"`
	StorageKey string `json:"storageKey"`
	Filename   string `json:"filename"`
}
