package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/Lllllllleong/docfidesflow/internal/apperr"
	"github.com/Lllllllleong/docfidesflow/internal/models"
)

// Upload size limits. A chunk body may exceed the nominal ceiling by a small
// tolerance to absorb client-side slicing slack, never by more.
const (
	MaxChunkBytes  = 512 << 10
	ChunkTolerance = 16 << 10
	MaxFileBytes   = 25 << 20
	chunkSuffix    = ".part"
)

// BlobStore is the slice of the temp object store the assembler needs.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// UploadMeta is the per-file metadata carried on every upload request.
type UploadMeta struct {
	Filename  string // URL-decoded original filename
	ProjectID string
	UserID    string
	Role      models.DocumentRole
	TagID     string
}

// ChunkMeta is UploadMeta plus the chunk coordinates carried on every chunk.
type ChunkMeta struct {
	UploadMeta
	UploadID    string
	ChunkIndex  int
	TotalChunks int
}

var uploadIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ChunkAssembler reassembles chunked uploads. Each chunk is persisted under
// a per-upload staging directory with a zero-padded index filename, so the
// lexicographic order of a directory listing equals numeric chunk order.
// Assembly happens exactly once, on receipt of the chunk at index
// totalChunks-1, and depends only on the listing at that moment.
type ChunkAssembler struct {
	stagingRoot string
	store       BlobStore
}

// NewChunkAssembler creates an assembler staging chunks under root.
func NewChunkAssembler(root string, store BlobStore) *ChunkAssembler {
	return &ChunkAssembler{stagingRoot: root, store: store}
}

// padWidth is the zero-pad width for chunk filenames, derived from the
// total chunk count so that every index of the upload sorts correctly.
func padWidth(totalChunks int) int {
	return len(strconv.Itoa(totalChunks - 1))
}

func (a *ChunkAssembler) stagingDir(uploadID string) string {
	return filepath.Join(a.stagingRoot, uploadID)
}

func validateChunkMeta(meta ChunkMeta, payloadLen int) error {
	if !uploadIDPattern.MatchString(meta.UploadID) {
		return apperr.New(apperr.Validation, "missing or malformed upload id")
	}
	if meta.Filename == "" {
		return apperr.New(apperr.Validation, "missing filename")
	}
	if meta.ProjectID == "" {
		return apperr.New(apperr.Validation, "missing project id")
	}
	if !models.ValidRole(meta.Role) {
		return apperr.New(apperr.Validation, "invalid role %q", meta.Role)
	}
	if meta.TotalChunks <= 0 {
		return apperr.New(apperr.Validation, "total chunks must be positive")
	}
	if meta.ChunkIndex < 0 || meta.ChunkIndex >= meta.TotalChunks {
		return apperr.New(apperr.Validation, "chunk index %d out of range [0,%d)", meta.ChunkIndex, meta.TotalChunks)
	}
	if payloadLen == 0 {
		return apperr.New(apperr.Validation, "empty chunk payload")
	}
	if payloadLen > MaxChunkBytes+ChunkTolerance {
		return apperr.New(apperr.Validation, "chunk of %d bytes exceeds the %d byte ceiling", payloadLen, MaxChunkBytes)
	}
	return nil
}

// Receive persists one chunk. For a non-terminal chunk it returns (nil, nil)
// after the write. The chunk at index totalChunks-1 triggers assembly and
// returns the assembled file's metadata. Any failure past validation purges
// the upload's staging directory before returning, so a failed upload never
// leaves orphaned chunk files.
func (a *ChunkAssembler) Receive(ctx context.Context, meta ChunkMeta, payload []byte) (*models.AssembledFile, error) {
	if err := validateChunkMeta(meta, len(payload)); err != nil {
		return nil, err
	}

	logCtx := slog.With("uploadId", meta.UploadID, "chunkIndex", meta.ChunkIndex, "totalChunks", meta.TotalChunks)

	dir := a.stagingDir(meta.UploadID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, a.abort(dir, apperr.Wrap(apperr.Persistence, err, "failed to create staging directory"))
	}

	name := fmt.Sprintf("%0*d%s", padWidth(meta.TotalChunks), meta.ChunkIndex, chunkSuffix)
	if err := os.WriteFile(filepath.Join(dir, name), payload, 0o644); err != nil {
		return nil, a.abort(dir, apperr.Wrap(apperr.Persistence, err, "failed to persist chunk %d", meta.ChunkIndex))
	}

	if meta.ChunkIndex < meta.TotalChunks-1 {
		logCtx.Info("Chunk received.")
		return nil, nil
	}

	logCtx.Info("Final chunk received, assembling.")
	assembled, err := a.assemble(ctx, meta, dir)
	if err != nil {
		return nil, err
	}
	logCtx.Info("Assembly complete.", "storageKey", assembled.StorageKey, "sizeBytes", assembled.SizeBytes)
	return assembled, nil
}

// assemble concatenates all staged chunks in listing order, validates the
// result, writes it to the temp store, and removes the staging directory.
func (a *ChunkAssembler) assemble(ctx context.Context, meta ChunkMeta, dir string) (*models.AssembledFile, error) {
	entries, err := os.ReadDir(dir) // sorted by filename
	if err != nil {
		return nil, a.abort(dir, apperr.Wrap(apperr.Persistence, err, "failed to list staging directory"))
	}

	var chunkFiles []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == chunkSuffix {
			chunkFiles = append(chunkFiles, e.Name())
		}
	}
	if len(chunkFiles) != meta.TotalChunks {
		return nil, a.abort(dir, apperr.New(apperr.Integrity,
			"chunk count mismatch: expected %d, found %d", meta.TotalChunks, len(chunkFiles)))
	}

	// Concatenate in sorted order, bounding memory: abort the moment the
	// running total would exceed the maximum file size.
	buf := make([]byte, 0, MaxChunkBytes*min(meta.TotalChunks, 8))
	var total int64
	for _, name := range chunkFiles {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, a.abort(dir, apperr.Wrap(apperr.Persistence, err, "failed to read chunk %s", name))
		}
		total += int64(len(data))
		if total > MaxFileBytes {
			return nil, a.abort(dir, apperr.New(apperr.Integrity,
				"assembled file exceeds the %d byte maximum", MaxFileBytes))
		}
		buf = append(buf, data...)
	}

	assembled, err := a.finalize(ctx, meta.UploadMeta, buf)
	if err != nil {
		return nil, a.abort(dir, err)
	}

	if err := os.RemoveAll(dir); err != nil {
		// Best-effort: the assembled file is already safe in the temp store.
		slog.Error("Failed to remove staging directory.", "dir", dir, "error", err)
	}
	return assembled, nil
}

// finalize validates an assembled (or directly uploaded) buffer and hands it
// to the temp store. It is a pure bytes-in/metadata-out step: creating the
// Document record is the caller's responsibility.
func (a *ChunkAssembler) finalize(ctx context.Context, meta UploadMeta, buf []byte) (*models.AssembledFile, error) {
	format, mimeType, ok := models.DetectFormat(meta.Filename)
	if !ok {
		return nil, apperr.New(apperr.Validation, "unsupported file format for %q", meta.Filename)
	}

	sum := sha256.Sum256(buf)
	hash := hex.EncodeToString(sum[:])
	key := fmt.Sprintf("uploads/%s/%s/%d-%s", meta.UserID, meta.ProjectID, time.Now().Unix(), meta.Filename)

	if err := a.store.Put(ctx, key, buf); err != nil {
		return nil, apperr.Wrap(apperr.Persistence, err, "failed to store assembled file")
	}

	return &models.AssembledFile{
		StorageKey:       key,
		SHA256:           hash,
		OriginalFilename: meta.Filename,
		MimeType:         mimeType,
		Format:           format,
		SizeBytes:        int64(len(buf)),
		Role:             string(meta.Role),
		ProjectID:        meta.ProjectID,
		TagID:            meta.TagID,
	}, nil
}

// DirectUpload runs the non-chunked path through the same finalize step.
func (a *ChunkAssembler) DirectUpload(ctx context.Context, meta UploadMeta, data []byte) (*models.AssembledFile, error) {
	if meta.Filename == "" {
		return nil, apperr.New(apperr.Validation, "missing filename")
	}
	if meta.ProjectID == "" {
		return nil, apperr.New(apperr.Validation, "missing project id")
	}
	if !models.ValidRole(meta.Role) {
		return nil, apperr.New(apperr.Validation, "invalid role %q", meta.Role)
	}
	if len(data) == 0 {
		return nil, apperr.New(apperr.Validation, "empty file")
	}
	if int64(len(data)) > MaxFileBytes {
		return nil, apperr.New(apperr.Integrity, "file exceeds the %d byte maximum", MaxFileBytes)
	}
	return a.finalize(ctx, meta, data)
}

// abort purges the staging directory for a failed upload and passes the
// original error through. Other in-flight uploads are unaffected.
func (a *ChunkAssembler) abort(dir string, err error) error {
	if rmErr := os.RemoveAll(dir); rmErr != nil {
		slog.Error("Failed to purge staging directory after error.", "dir", dir, "error", rmErr)
	}
	return err
}
