package services

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// StagingCleaner reclaims staging directories of abandoned chunked uploads.
// The assembler never cleans these itself (a client may still resume), so a
// scheduled sweep bounds the cost of abandoned uploads.
type StagingCleaner struct {
	stagingRoot string
	maxAge      time.Duration
}

// NewStagingCleaner creates a cleaner for root, reclaiming directories whose
// content is older than maxAge.
func NewStagingCleaner(root string, maxAge time.Duration) *StagingCleaner {
	return &StagingCleaner{stagingRoot: root, maxAge: maxAge}
}

// Sweep removes every stale staging directory and returns how many it
// reclaimed. Individual removal failures are logged and skipped; the next
// sweep retries them.
func (c *StagingCleaner) Sweep(now time.Time) int {
	entries, err := os.ReadDir(c.stagingRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("Failed to list staging root.", "root", c.stagingRoot, "error", err)
		}
		return 0
	}

	var reclaimed int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < c.maxAge {
			continue
		}
		dir := filepath.Join(c.stagingRoot, e.Name())
		if err := os.RemoveAll(dir); err != nil {
			slog.Error("Failed to reclaim stale staging directory.", "dir", dir, "error", err)
			continue
		}
		slog.Info("Reclaimed stale staging directory.", "dir", dir)
		reclaimed++
	}
	return reclaimed
}
