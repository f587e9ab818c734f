package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/docfidesflow/internal/apperr"
	"github.com/Lllllllleong/docfidesflow/internal/models"
)

func testUploadMeta() UploadMeta {
	return UploadMeta{
		Filename:  "report.pdf",
		ProjectID: "proj-1",
		UserID:    "user-1",
		Role:      models.RoleSource,
	}
}

func chunkMetaAt(uploadID string, index, total int) ChunkMeta {
	return ChunkMeta{
		UploadMeta:  testUploadMeta(),
		UploadID:    uploadID,
		ChunkIndex:  index,
		TotalChunks: total,
	}
}

// patterned returns n bytes with a per-chunk repeating pattern so that
// reordered chunks produce a different hash.
func patterned(seed byte, n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = seed + byte(i%7)
	}
	return buf
}

func TestReceiveAssemblesThreeChunkUpload(t *testing.T) {
	root := t.TempDir()
	blobs := newMemBlobStore()
	a := NewChunkAssembler(root, blobs)
	ctx := context.Background()

	// 512 KiB + 512 KiB + 209715 bytes: the classic ~1.2 MB upload.
	chunks := [][]byte{
		patterned('a', MaxChunkBytes),
		patterned('b', MaxChunkBytes),
		patterned('c', 209715),
	}

	for i, payload := range chunks[:2] {
		assembled, err := a.Receive(ctx, chunkMetaAt("up-1", i, 3), payload)
		require.NoError(t, err)
		assert.Nil(t, assembled, "non-terminal chunk must only be acknowledged")
	}

	assembled, err := a.Receive(ctx, chunkMetaAt("up-1", 2, 3), chunks[2])
	require.NoError(t, err)
	require.NotNil(t, assembled)

	want := bytes.Join(chunks, nil)
	sum := sha256.Sum256(want)
	assert.Equal(t, int64(1258291), assembled.SizeBytes)
	assert.Equal(t, hex.EncodeToString(sum[:]), assembled.SHA256)
	assert.Equal(t, "report.pdf", assembled.OriginalFilename)
	assert.Equal(t, "pdf", assembled.Format)
	assert.Equal(t, "application/pdf", assembled.MimeType)
	assert.Equal(t, string(models.RoleSource), assembled.Role)

	stored, err := blobs.Get(ctx, assembled.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, want, stored)

	_, err = os.Stat(filepath.Join(root, "up-1"))
	assert.True(t, os.IsNotExist(err), "staging directory must be removed after assembly")
}

func TestReceiveAssemblyIsChunkOrderIndependent(t *testing.T) {
	ctx := context.Background()
	chunks := [][]byte{
		patterned('x', 1000),
		patterned('y', 1000),
		patterned('z', 500),
	}

	assembleIn := func(order []int) *models.AssembledFile {
		root := t.TempDir()
		a := NewChunkAssembler(root, newMemBlobStore())
		var assembled *models.AssembledFile
		for _, i := range order {
			got, err := a.Receive(ctx, chunkMetaAt("up-1", i, 3), chunks[i])
			require.NoError(t, err)
			if got != nil {
				assembled = got
			}
		}
		return assembled
	}

	inOrder := assembleIn([]int{0, 1, 2})
	require.NotNil(t, inOrder)

	// The final index arrives last but the others came out of order; the
	// assembled bytes must still follow chunk index order.
	reordered := assembleIn([]int{1, 0, 2})
	require.NotNil(t, reordered)
	assert.Equal(t, inOrder.SHA256, reordered.SHA256)
	assert.Equal(t, inOrder.SizeBytes, reordered.SizeBytes)
}

func TestReceiveAssemblesOnFinalIndexEvenWhenNotLastArrival(t *testing.T) {
	root := t.TempDir()
	a := NewChunkAssembler(root, newMemBlobStore())
	ctx := context.Background()

	// Index 2 arrives second while index 1 is still missing: assembly runs,
	// finds two staged chunks instead of three, and aborts.
	_, err := a.Receive(ctx, chunkMetaAt("up-1", 0, 3), patterned('a', 100))
	require.NoError(t, err)

	_, err = a.Receive(ctx, chunkMetaAt("up-1", 2, 3), patterned('c', 100))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Integrity))

	_, statErr := os.Stat(filepath.Join(root, "up-1"))
	assert.True(t, os.IsNotExist(statErr), "failed assembly must purge its staging directory")
}

func TestReceiveDuplicateChunkOverwrites(t *testing.T) {
	root := t.TempDir()
	blobs := newMemBlobStore()
	a := NewChunkAssembler(root, blobs)
	ctx := context.Background()

	_, err := a.Receive(ctx, chunkMetaAt("up-1", 0, 2), patterned('a', 100))
	require.NoError(t, err)
	// Retry of chunk 0 with fresh bytes; the retry wins.
	_, err = a.Receive(ctx, chunkMetaAt("up-1", 0, 2), patterned('b', 100))
	require.NoError(t, err)

	assembled, err := a.Receive(ctx, chunkMetaAt("up-1", 1, 2), patterned('c', 50))
	require.NoError(t, err)
	require.NotNil(t, assembled)

	want := append(patterned('b', 100), patterned('c', 50)...)
	sum := sha256.Sum256(want)
	assert.Equal(t, hex.EncodeToString(sum[:]), assembled.SHA256)
}

func TestReceiveRejectsFileOverMaximumSize(t *testing.T) {
	root := t.TempDir()
	a := NewChunkAssembler(root, newMemBlobStore())
	ctx := context.Background()

	// 51 full chunks of 512 KiB exceed 25 MiB on the 51st.
	total := 51
	payload := patterned('a', MaxChunkBytes)
	for i := 0; i < total-1; i++ {
		_, err := a.Receive(ctx, chunkMetaAt("up-big", i, total), payload)
		require.NoError(t, err)
	}

	_, err := a.Receive(ctx, chunkMetaAt("up-big", total-1, total), payload)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Integrity))

	_, statErr := os.Stat(filepath.Join(root, "up-big"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestReceiveValidation(t *testing.T) {
	a := NewChunkAssembler(t.TempDir(), newMemBlobStore())
	ctx := context.Background()
	payload := []byte("data")

	testCases := []struct {
		name string
		meta ChunkMeta
		data []byte
	}{
		{"missing upload id", chunkMetaAt("", 0, 2), payload},
		{"upload id with path traversal", chunkMetaAt("../escape", 0, 2), payload},
		{"negative index", chunkMetaAt("up-1", -1, 2), payload},
		{"index past total", chunkMetaAt("up-1", 2, 2), payload},
		{"zero total", chunkMetaAt("up-1", 0, 0), payload},
		{"empty payload", chunkMetaAt("up-1", 0, 2), nil},
		{"oversized chunk", chunkMetaAt("up-1", 0, 2), make([]byte, MaxChunkBytes+ChunkTolerance+1)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := a.Receive(ctx, tc.meta, tc.data)
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.Validation))
		})
	}

	t.Run("missing role", func(t *testing.T) {
		meta := chunkMetaAt("up-1", 0, 2)
		meta.Role = ""
		_, err := a.Receive(ctx, meta, payload)
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.Validation))
	})
}

func TestReceiveChunkWithinToleranceAccepted(t *testing.T) {
	a := NewChunkAssembler(t.TempDir(), newMemBlobStore())
	ctx := context.Background()

	assembled, err := a.Receive(ctx, chunkMetaAt("up-1", 0, 1), make([]byte, MaxChunkBytes+ChunkTolerance))
	require.NoError(t, err)
	require.NotNil(t, assembled)
	assert.Equal(t, int64(MaxChunkBytes+ChunkTolerance), assembled.SizeBytes)
}

func TestAssemblyRejectsUnsupportedFormat(t *testing.T) {
	root := t.TempDir()
	a := NewChunkAssembler(root, newMemBlobStore())
	ctx := context.Background()

	meta := chunkMetaAt("up-1", 0, 1)
	meta.Filename = "malware.exe"
	_, err := a.Receive(ctx, meta, []byte("payload"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Validation))

	_, statErr := os.Stat(filepath.Join(root, "up-1"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestPadWidthOrdersListings(t *testing.T) {
	assert.Equal(t, 1, padWidth(9))
	assert.Equal(t, 2, padWidth(10))
	assert.Equal(t, 2, padWidth(11))
	assert.Equal(t, 3, padWidth(101))
}

func TestDirectUpload(t *testing.T) {
	blobs := newMemBlobStore()
	a := NewChunkAssembler(t.TempDir(), blobs)
	ctx := context.Background()

	data := patterned('d', 2048)
	assembled, err := a.DirectUpload(ctx, testUploadMeta(), data)
	require.NoError(t, err)

	sum := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), assembled.SHA256)
	assert.Equal(t, int64(2048), assembled.SizeBytes)

	stored, err := blobs.Get(ctx, assembled.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, data, stored)
}

func TestDirectUploadRejectsOversizedFile(t *testing.T) {
	a := NewChunkAssembler(t.TempDir(), newMemBlobStore())

	_, err := a.DirectUpload(context.Background(), testUploadMeta(), make([]byte, MaxFileBytes+1))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Integrity))
}
