package models

import "time"

// LibraryItemType classifies a reusable asset.
type LibraryItemType string

const (
	ItemTemplate LibraryItemType = "template"
	ItemModel    LibraryItemType = "model"
	ItemEntity   LibraryItemType = "entity"
)

// Library item statuses. "ready" requires non-empty ProcessedData.
const (
	ItemStatusDraft      = "draft"
	ItemStatusProcessing = "processing"
	ItemStatusReady      = "ready"
	ItemStatusError      = "error"
)

// LibraryItem is a reusable asset processed by its own single-stage
// pipeline. Processing is not retried automatically; Attempts counts the
// explicit retries a re-upload triggers.
type LibraryItem struct {
	UserID        string        `firestore:"userId"`
	Type          string        `firestore:"type"`
	Name          string        `firestore:"name,omitempty"`
	DocumentIDs   []string      `firestore:"documentIds,omitempty"`
	Status        string        `firestore:"status"`
	ErrorDetails  string        `firestore:"errorDetails,omitempty"`
	ProcessedData *AssetProfile `firestore:"processedData,omitempty"`
	UsageCount    int           `firestore:"usageCount"`
	Attempts      int           `firestore:"attempts"`
	CreatedAt     time.Time     `firestore:"createdAt"`
	UpdatedAt     time.Time     `firestore:"updatedAt"`
}

// AssetProfile is the compact structured result of library item processing.
type AssetProfile struct {
	SchemaVersion int      `firestore:"schemaVersion" json:"schemaVersion"`
	Summary       string   `firestore:"summary" json:"summary"`
	Fields        []string `firestore:"fields,omitempty" json:"fields,omitempty"`
	Tone          string   `firestore:"tone,omitempty" json:"tone,omitempty"`
}
