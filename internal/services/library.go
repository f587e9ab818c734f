package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Lllllllleong/docfidesflow/internal/apperr"
	"github.com/Lllllllleong/docfidesflow/internal/gcp"
	"github.com/Lllllllleong/docfidesflow/internal/models"
)

// ItemStore is the slice of the record store the library processor needs.
type ItemStore interface {
	GetLibraryItem(ctx context.Context, itemID string) (*models.LibraryItem, error)
	SetItemProcessing(ctx context.Context, itemID string) error
	SetItemReady(ctx context.Context, itemID string, profile *models.AssetProfile) error
	SetItemError(ctx context.Context, itemID, message string) error
}

// LibraryItemProcessor is the single-stage pipeline for reusable assets.
// It marks the item processing before any work begins, and every failure
// path ends in an explicit error-status write, so the item is never left in
// an ambiguous state. It does not retry and does not guard against a second
// concurrent invocation for the same item; avoiding that is the caller's
// job.
type LibraryItemProcessor struct {
	store    ItemStore
	blobs    BlobStore
	renderer PageRenderer
	profiler ModelInvoker
}

// NewLibraryItemProcessor wires a processor.
func NewLibraryItemProcessor(store ItemStore, blobs BlobStore, renderer PageRenderer, profiler ModelInvoker) *LibraryItemProcessor {
	return &LibraryItemProcessor{store: store, blobs: blobs, renderer: renderer, profiler: profiler}
}

// NewLibraryProcessorFromEnv creates a fully wired processor from the
// environment.
func NewLibraryProcessorFromEnv(ctx context.Context) (*LibraryItemProcessor, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	tempBucket := gcp.GetEnv("TEMP_BUCKET", "")
	if tempBucket == "" {
		return nil, fmt.Errorf("TEMP_BUCKET environment variable must be set")
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	tempStore, err := gcp.NewTempStore(ctx, tempBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp store: %w", err)
	}
	vertexClient, err := gcp.NewVertexClient(ctx, projectID, gcp.GetEnv("VERTEX_AI_REGION", "us-central1"))
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}

	return NewLibraryItemProcessor(NewStore(firestoreClient), tempStore, PDFRenderer{}, vertexClient.ProfilerModel), nil
}

// Process derives the structured profile for one library item. It
// side-effects only the item record.
func (p *LibraryItemProcessor) Process(ctx context.Context, ev models.LibraryProcessEvent) error {
	logCtx := slog.With("itemId", ev.ItemID, "itemType", ev.ItemType)
	logCtx.Info("Starting library item processing.")

	if ev.ItemID == "" || ev.StorageKey == "" || ev.Filename == "" {
		return apperr.New(apperr.Validation, "library process event is missing itemId, storageKey, or filename")
	}

	// A stale event for a purged item must fail here, before any status write.
	if _, err := p.store.GetLibraryItem(ctx, ev.ItemID); err != nil {
		logCtx.Error("Library item not loadable.", "error", err)
		return err
	}

	if err := p.store.SetItemProcessing(ctx, ev.ItemID); err != nil {
		logCtx.Error("Failed to mark item processing.", "error", err)
		return err
	}

	profile, err := p.derive(ctx, ev)
	if err != nil {
		logCtx.Error("Library item processing failed.", "error", err)
		if statusErr := p.store.SetItemError(ctx, ev.ItemID, apperr.Message(err)); statusErr != nil {
			logCtx.Error("CRITICAL: failed to record item failure.", "error", statusErr)
			return statusErr
		}
		return err
	}

	if err := p.store.SetItemReady(ctx, ev.ItemID, profile); err != nil {
		logCtx.Error("Failed to mark item ready.", "error", err)
		return err
	}
	logCtx.Info("Library item ready.")
	return nil
}

func (p *LibraryItemProcessor) derive(ctx context.Context, ev models.LibraryProcessEvent) (*models.AssetProfile, error) {
	_, mimeType, ok := models.DetectFormat(ev.Filename)
	if !ok {
		return nil, apperr.New(apperr.Validation, "unsupported file format for %q", ev.Filename)
	}

	data, err := p.blobs.Get(ctx, ev.StorageKey)
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, err, "temp bytes for item %s are gone", ev.ItemID)
	}

	attachments, _, err := p.renderer.RenderPages(data, mimeType)
	if err != nil {
		return nil, err
	}

	text, _, err := p.profiler.Generate(ctx, gcp.ProfilerUserPrompt, attachments)
	if err != nil {
		return nil, apperr.Wrap(apperr.Provider, err, "profiling failed for item %s", ev.ItemID)
	}

	var profile models.AssetProfile
	if err := json.Unmarshal([]byte(text), &profile); err != nil {
		return nil, apperr.Wrap(apperr.Validation, err, "profiler model returned malformed JSON")
	}
	if strings.TrimSpace(profile.Summary) == "" {
		return nil, apperr.New(apperr.Validation, "profiler model returned an empty profile")
	}
	profile.SchemaVersion = 1
	return &profile, nil
}
