package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/docfidesflow/internal/apperr"
	"github.com/Lllllllleong/docfidesflow/internal/models"
)

// TempRetention is how long assembled bytes stay readable in the temp store.
// It mirrors the bucket lifecycle policy; the deadline on the Document is
// informational for pollers.
const TempRetention = 24 * time.Hour

// RegistryStore is the slice of the record store the registry needs.
type RegistryStore interface {
	EnsureProject(ctx context.Context, projectID, userID string) error
	GetProject(ctx context.Context, projectID string) (*models.Project, error)
	ResetProjectStatus(ctx context.Context, projectID string) error
	CountActiveByRole(ctx context.Context, projectID string, role models.DocumentRole) (int, error)
	CreateDocument(ctx context.Context, doc models.Document) (string, error)
	GetDocument(ctx context.Context, docID string) (*models.Document, error)
	SetDocumentStatus(ctx context.Context, docID, status, errDetails string) error
	AttachDocument(ctx context.Context, projectID string, role models.DocumentRole, docID string) error
	AdvanceProjectStatus(ctx context.Context, projectID, status string) error
}

// DocumentRegistry turns assembled files into durable Document records and
// owns document deletion. The per-role cap check is check-then-act without a
// transaction: two near-simultaneous uploads that both pass the check can
// exceed a cap by one. That is an accepted best-effort limit.
type DocumentRegistry struct {
	store RegistryStore
	blobs BlobStore
}

// NewDocumentRegistry creates a registry over the given stores.
func NewDocumentRegistry(store RegistryStore, blobs BlobStore) *DocumentRegistry {
	return &DocumentRegistry{store: store, blobs: blobs}
}

// CheckRoleCapacity rejects a registration that would exceed the role's cap,
// given the current non-deleted count.
func CheckRoleCapacity(role models.DocumentRole, current int) error {
	if limit := models.RoleCap(role); current >= limit {
		return apperr.New(apperr.Capacity, "project already has the maximum of %d %s document(s)", limit, role)
	}
	return nil
}

// Register creates the Document record for an assembled file, attaches it to
// its project, and moves the project into the uploading state.
func (r *DocumentRegistry) Register(ctx context.Context, userID string, file *models.AssembledFile) (string, error) {
	role := models.DocumentRole(file.Role)

	if err := r.store.EnsureProject(ctx, file.ProjectID, userID); err != nil {
		return "", err
	}
	project, err := r.store.GetProject(ctx, file.ProjectID)
	if err != nil {
		return "", err
	}
	if project.UserID != userID {
		return "", apperr.New(apperr.NotFound, "project %s not found", file.ProjectID)
	}

	count, err := r.store.CountActiveByRole(ctx, file.ProjectID, role)
	if err != nil {
		return "", err
	}
	if err := CheckRoleCapacity(role, count); err != nil {
		return "", err
	}

	now := time.Now()
	docID, err := r.store.CreateDocument(ctx, models.Document{
		ProjectID:        file.ProjectID,
		UserID:           userID,
		Role:             file.Role,
		OriginalFilename: file.OriginalFilename,
		Format:           file.Format,
		MimeType:         file.MimeType,
		SizeBytes:        file.SizeBytes,
		FileHash:         file.SHA256,
		StorageKey:       file.StorageKey,
		Status:           models.DocStatusUploaded,
		TagID:            file.TagID,
		ExpiresAt:        now.Add(TempRetention),
		CreatedAt:        now,
	})
	if err != nil {
		return "", err
	}

	if err := r.store.AttachDocument(ctx, file.ProjectID, role, docID); err != nil {
		return "", err
	}
	// A re-upload onto a finished project is the one sanctioned backward
	// move: it pulls the project back to uploading for a fresh run.
	if project.Status == models.ProjectStatusReady || project.Status == models.ProjectStatusExported {
		if err := r.store.ResetProjectStatus(ctx, file.ProjectID); err != nil {
			return "", err
		}
	} else if err := r.store.AdvanceProjectStatus(ctx, file.ProjectID, models.ProjectStatusUploading); err != nil {
		return "", err
	}

	slog.Info("Document registered.", "documentId", docID, "projectId", file.ProjectID, "role", file.Role, "sizeBytes", file.SizeBytes)
	return docID, nil
}

// BlobPurger is the optional bulk-removal capability of a blob store.
type BlobPurger interface {
	DeletePrefix(ctx context.Context, prefix string) int
}

// PurgeProjectUploads removes every temp object a project's uploads left
// behind, for callers tearing a project down before its bucket retention
// expires. Returns how many objects went.
func (r *DocumentRegistry) PurgeProjectUploads(ctx context.Context, userID, projectID string) (int, error) {
	project, err := r.store.GetProject(ctx, projectID)
	if err != nil {
		return 0, err
	}
	if project.UserID != userID {
		return 0, apperr.New(apperr.NotFound, "project %s not found", projectID)
	}
	purger, ok := r.blobs.(BlobPurger)
	if !ok {
		return 0, nil
	}
	removed := purger.DeletePrefix(ctx, fmt.Sprintf("uploads/%s/%s/", userID, projectID))
	slog.Info("Purged project uploads.", "projectId", projectID, "removed", removed)
	return removed, nil
}

// Delete soft-deletes a document owned by userID and removes its temp bytes.
// The blob removal is best-effort by policy: a leaked temp object expires
// with the bucket's retention, while a blocked deletion would be user-facing.
func (r *DocumentRegistry) Delete(ctx context.Context, userID, docID string) error {
	doc, err := r.store.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	if doc.UserID != userID {
		return apperr.New(apperr.NotFound, "document %s not found", docID)
	}
	if err := r.store.SetDocumentStatus(ctx, docID, models.DocStatusDeleted, ""); err != nil {
		return err
	}
	if err := r.blobs.Delete(ctx, doc.StorageKey); err != nil {
		slog.Warn("Best-effort temp blob delete failed.", "storageKey", doc.StorageKey, "error", err)
	}
	return nil
}
