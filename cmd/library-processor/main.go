package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/docfidesflow/internal/models"
	"github.com/Lllllllleong/docfidesflow/internal/services"
)

var (
	processorInstance *services.LibraryItemProcessor
	once              sync.Once
	initErr           error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Register the CloudEvent function. The framework routes the event here.
	functions.CloudEvent("ProcessLibraryItem", processLibraryItem)
}

// main is required by the Go Functions Framework.
func main() {}

// processLibraryItem runs the single-stage library pipeline for one asset.
// The event is published after a library asset upload finishes.
func processLibraryItem(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		processorInstance, initErr = services.NewLibraryProcessorFromEnv(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var ev models.LibraryProcessEvent
	if err := json.Unmarshal(e.Data(), &ev); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	// The error is already logged with context within Process; returning it
	// marks the invocation as failed.
	return processorInstance.Process(ctx, ev)
}
