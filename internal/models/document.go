package models

import "time"

// DocumentRole is the functional purpose of an uploaded file within a project.
type DocumentRole string

const (
	RoleSource   DocumentRole = "source"
	RoleTemplate DocumentRole = "template"
	RoleModel    DocumentRole = "model"
)

// ValidRole reports whether r is one of the accepted upload roles.
func ValidRole(r DocumentRole) bool {
	switch r {
	case RoleSource, RoleTemplate, RoleModel:
		return true
	}
	return false
}

// Per-role caps counting only non-deleted documents. Registration checks the
// cap without a transaction, so the caps are advisory: two near-simultaneous
// uploads can exceed a cap by one.
const (
	MaxSourceFiles   = 10
	MaxTemplateFiles = 1
	MaxModelFiles    = 5
)

// RoleCap returns the per-project document cap for the given role.
func RoleCap(role DocumentRole) int {
	switch role {
	case RoleTemplate:
		return MaxTemplateFiles
	case RoleModel:
		return MaxModelFiles
	default:
		return MaxSourceFiles
	}
}

// Document lifecycle statuses.
const (
	DocStatusUploaded   = "uploaded"
	DocStatusProcessing = "processing"
	DocStatusExtracted  = "extracted"
	DocStatusFailed     = "failed"
	DocStatusDeleted    = "deleted"
)

// Document is the durable Firestore record for one uploaded file. FileHash
// and StorageKey are written once at registration and never mutated, so a
// reader that observes status "uploaded" can safely fetch the blob.
type Document struct {
	ProjectID        string    `firestore:"projectId"`
	UserID           string    `firestore:"userId"`
	Role             string    `firestore:"role"`
	OriginalFilename string    `firestore:"originalFilename"`
	Format           string    `firestore:"format"`
	MimeType         string    `firestore:"mimeType"`
	SizeBytes        int64     `firestore:"sizeBytes"`
	FileHash         string    `firestore:"fileHash"`
	StorageKey       string    `firestore:"storageKey"`
	Status           string    `firestore:"status"`
	ErrorDetails     string    `firestore:"errorDetails,omitempty"`
	TagID            string    `firestore:"tagId,omitempty"`
	ExpiresAt        time.Time `firestore:"expiresAt"`
	CreatedAt        time.Time `firestore:"createdAt"`
}
