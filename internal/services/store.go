package services

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/docfidesflow/internal/apperr"
	"github.com/Lllllllleong/docfidesflow/internal/models"
)

// Firestore collection names.
const (
	ProjectsCollection  = "projects"
	DocumentsCollection = "documents"
	JobsCollection      = "pipelineJobs"
	LibraryCollection   = "libraryItems"
)

// Store is the Firestore-backed record store. It satisfies the narrow
// per-service interfaces (RegistryStore, JobStore, ItemStore) consumed by
// the components, which swap in memory fakes under test.
type Store struct {
	client *firestore.Client
}

// NewStore wraps an existing Firestore client.
func NewStore(client *firestore.Client) *Store {
	return &Store{client: client}
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

// --- projects ---

// EnsureProject creates the project record if it is absent. The create-if-
// absent write makes upload-before-explicit-create a safe default path.
func (s *Store) EnsureProject(ctx context.Context, projectID, userID string) error {
	now := time.Now()
	_, err := s.client.Collection(ProjectsCollection).Doc(projectID).Create(ctx, models.Project{
		UserID:    userID,
		Status:    models.ProjectStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return apperr.Wrap(apperr.Persistence, err, "failed to create project record")
	}
	return nil
}

// GetProject loads one project record.
func (s *Store) GetProject(ctx context.Context, projectID string) (*models.Project, error) {
	snap, err := s.client.Collection(ProjectsCollection).Doc(projectID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.New(apperr.NotFound, "project %s not found", projectID)
		}
		return nil, apperr.Wrap(apperr.Persistence, err, "failed to load project %s", projectID)
	}
	var p models.Project
	if err := snap.DataTo(&p); err != nil {
		return nil, apperr.Wrap(apperr.Persistence, err, "failed to decode project %s", projectID)
	}
	return &p, nil
}

// AdvanceProjectStatus moves the project status forward. Backward moves are
// ignored rather than failed: a late status write from a slower request must
// not regress the record.
func (s *Store) AdvanceProjectStatus(ctx context.Context, projectID, to string) error {
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if !models.ProjectStatusAdvances(p.Status, to) {
		return nil
	}
	_, err = s.client.Collection(ProjectsCollection).Doc(projectID).Update(ctx, []firestore.Update{
		{Path: "status", Value: to},
		{Path: "updatedAt", Value: time.Now()},
	})
	if err != nil {
		return apperr.Wrap(apperr.Persistence, err, "failed to advance project %s to %s", projectID, to)
	}
	return nil
}

// ResetProjectStatus is the explicit reset-on-reupload escape hatch: it
// moves a project back to "uploading" regardless of its current status.
func (s *Store) ResetProjectStatus(ctx context.Context, projectID string) error {
	_, err := s.client.Collection(ProjectsCollection).Doc(projectID).Update(ctx, []firestore.Update{
		{Path: "status", Value: models.ProjectStatusUploading},
		{Path: "updatedAt", Value: time.Now()},
	})
	if err != nil {
		return apperr.Wrap(apperr.Persistence, err, "failed to reset project %s", projectID)
	}
	return nil
}

// AttachDocument appends a document reference to the project's per-role
// array. Template replaces; source and model append.
func (s *Store) AttachDocument(ctx context.Context, projectID string, role models.DocumentRole, docID string) error {
	var update firestore.Update
	switch role {
	case models.RoleTemplate:
		update = firestore.Update{Path: "templateDocument", Value: docID}
	case models.RoleModel:
		update = firestore.Update{Path: "modelDocuments", Value: firestore.ArrayUnion(docID)}
	default:
		update = firestore.Update{Path: "sourceDocuments", Value: firestore.ArrayUnion(docID)}
	}
	_, err := s.client.Collection(ProjectsCollection).Doc(projectID).Update(ctx, []firestore.Update{
		update,
		{Path: "updatedAt", Value: time.Now()},
	})
	if err != nil {
		return apperr.Wrap(apperr.Persistence, err, "failed to attach document %s to project %s", docID, projectID)
	}
	return nil
}

// SaveStageOutput writes completed stage outputs onto the project record the
// moment they exist, so a crash after a stage never loses its result.
func (s *Store) SaveStageOutput(ctx context.Context, projectID string, outputs map[string]any) error {
	updates := make([]firestore.Update, 0, len(outputs)+1)
	for field, value := range outputs {
		updates = append(updates, firestore.Update{Path: field, Value: value})
	}
	updates = append(updates, firestore.Update{Path: "updatedAt", Value: time.Now()})
	_, err := s.client.Collection(ProjectsCollection).Doc(projectID).Update(ctx, updates)
	if err != nil {
		return apperr.Wrap(apperr.Persistence, err, "failed to save stage output on project %s", projectID)
	}
	return nil
}

// SetProjectJob records the exclusive job reference on its project.
func (s *Store) SetProjectJob(ctx context.Context, projectID, jobID string) error {
	_, err := s.client.Collection(ProjectsCollection).Doc(projectID).Update(ctx, []firestore.Update{
		{Path: "pipelineJobId", Value: jobID},
		{Path: "updatedAt", Value: time.Now()},
	})
	if err != nil {
		return apperr.Wrap(apperr.Persistence, err, "failed to set job on project %s", projectID)
	}
	return nil
}

// --- documents ---

// CreateDocument registers one document record and returns its id.
func (s *Store) CreateDocument(ctx context.Context, doc models.Document) (string, error) {
	ref, _, err := s.client.Collection(DocumentsCollection).Add(ctx, doc)
	if err != nil {
		return "", apperr.Wrap(apperr.Persistence, err, "failed to create document record")
	}
	return ref.ID, nil
}

// GetDocument loads one document record.
func (s *Store) GetDocument(ctx context.Context, docID string) (*models.Document, error) {
	snap, err := s.client.Collection(DocumentsCollection).Doc(docID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.New(apperr.NotFound, "document %s not found", docID)
		}
		return nil, apperr.Wrap(apperr.Persistence, err, "failed to load document %s", docID)
	}
	var d models.Document
	if err := snap.DataTo(&d); err != nil {
		return nil, apperr.Wrap(apperr.Persistence, err, "failed to decode document %s", docID)
	}
	return &d, nil
}

// CountActiveByRole counts a project's non-deleted documents of one role.
func (s *Store) CountActiveByRole(ctx context.Context, projectID string, role models.DocumentRole) (int, error) {
	docs, err := s.client.Collection(DocumentsCollection).
		Where("projectId", "==", projectID).
		Where("role", "==", string(role)).
		Where("status", "!=", models.DocStatusDeleted).
		Documents(ctx).GetAll()
	if err != nil {
		return 0, apperr.Wrap(apperr.Persistence, err, "failed to count %s documents for project %s", role, projectID)
	}
	return len(docs), nil
}

// SetDocumentStatus flips a document's lifecycle status.
func (s *Store) SetDocumentStatus(ctx context.Context, docID, docStatus, errDetails string) error {
	updates := []firestore.Update{{Path: "status", Value: docStatus}}
	if errDetails != "" {
		updates = append(updates, firestore.Update{Path: "errorDetails", Value: errDetails})
	}
	_, err := s.client.Collection(DocumentsCollection).Doc(docID).Update(ctx, updates)
	if err != nil {
		return apperr.Wrap(apperr.Persistence, err, "failed to update document %s status to %s", docID, docStatus)
	}
	return nil
}

// --- pipeline jobs ---

// SaveJob writes the full job snapshot. Called after every transition so an
// external poller always observes a consistent state.
func (s *Store) SaveJob(ctx context.Context, job *models.PipelineJob) error {
	_, err := s.client.Collection(JobsCollection).Doc(job.ID).Set(ctx, job)
	if err != nil {
		return apperr.Wrap(apperr.Persistence, err, "failed to persist job %s", job.ID)
	}
	return nil
}

// GetJob loads one job snapshot.
func (s *Store) GetJob(ctx context.Context, jobID string) (*models.PipelineJob, error) {
	snap, err := s.client.Collection(JobsCollection).Doc(jobID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.New(apperr.NotFound, "pipeline job %s not found", jobID)
		}
		return nil, apperr.Wrap(apperr.Persistence, err, "failed to load job %s", jobID)
	}
	var job models.PipelineJob
	if err := snap.DataTo(&job); err != nil {
		return nil, apperr.Wrap(apperr.Persistence, err, "failed to decode job %s", jobID)
	}
	job.ID = snap.Ref.ID
	return &job, nil
}

// --- library items ---

// GetLibraryItem loads one library item record.
func (s *Store) GetLibraryItem(ctx context.Context, itemID string) (*models.LibraryItem, error) {
	snap, err := s.client.Collection(LibraryCollection).Doc(itemID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.New(apperr.NotFound, "library item %s not found", itemID)
		}
		return nil, apperr.Wrap(apperr.Persistence, err, "failed to load library item %s", itemID)
	}
	var item models.LibraryItem
	if err := snap.DataTo(&item); err != nil {
		return nil, apperr.Wrap(apperr.Persistence, err, "failed to decode library item %s", itemID)
	}
	return &item, nil
}

// SetItemProcessing marks a library item as processing before any work
// starts, so pollers see the attempt immediately.
func (s *Store) SetItemProcessing(ctx context.Context, itemID string) error {
	_, err := s.client.Collection(LibraryCollection).Doc(itemID).Update(ctx, []firestore.Update{
		{Path: "status", Value: models.ItemStatusProcessing},
		{Path: "errorDetails", Value: ""},
		{Path: "updatedAt", Value: time.Now()},
	})
	if err != nil {
		return apperr.Wrap(apperr.Persistence, err, "failed to mark library item %s processing", itemID)
	}
	return nil
}

// SetItemReady stores the processed profile and flips the item to ready.
func (s *Store) SetItemReady(ctx context.Context, itemID string, profile *models.AssetProfile) error {
	_, err := s.client.Collection(LibraryCollection).Doc(itemID).Update(ctx, []firestore.Update{
		{Path: "status", Value: models.ItemStatusReady},
		{Path: "processedData", Value: profile},
		{Path: "updatedAt", Value: time.Now()},
	})
	if err != nil {
		return apperr.Wrap(apperr.Persistence, err, "failed to mark library item %s ready", itemID)
	}
	return nil
}

// SetItemError records the failure and bumps the attempt counter. Retry is
// an explicit caller action, not automatic.
func (s *Store) SetItemError(ctx context.Context, itemID, message string) error {
	_, err := s.client.Collection(LibraryCollection).Doc(itemID).Update(ctx, []firestore.Update{
		{Path: "status", Value: models.ItemStatusError},
		{Path: "errorDetails", Value: message},
		{Path: "attempts", Value: firestore.Increment(1)},
		{Path: "updatedAt", Value: time.Now()},
	})
	if err != nil {
		return apperr.Wrap(apperr.Persistence, err, "failed to mark library item %s failed", itemID)
	}
	return nil
}
