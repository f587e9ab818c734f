package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/docfidesflow/internal/gcp"
	"github.com/Lllllllleong/docfidesflow/internal/services"
)

var (
	cleanerInstance *services.StagingCleaner
	once            sync.Once
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("SweepStaging", sweepStaging)
}

// main is required by the Go Functions Framework.
func main() {}

// sweepStaging runs on a schedule and reclaims staging directories of
// abandoned chunked uploads. The event payload is ignored; the trigger is
// the schedule itself.
func sweepStaging(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		root := gcp.GetEnv("STAGING_DIR", filepath.Join(os.TempDir(), "docfides-staging"))
		maxAge, err := time.ParseDuration(gcp.GetEnv("STAGING_MAX_AGE", "24h"))
		if err != nil {
			slog.Warn("Malformed STAGING_MAX_AGE, using 24h.", "error", err)
			maxAge = 24 * time.Hour
		}
		cleanerInstance = services.NewStagingCleaner(root, maxAge)
	})

	reclaimed := cleanerInstance.Sweep(time.Now())
	slog.Info("Staging sweep complete.", "reclaimed", reclaimed)
	return nil
}
