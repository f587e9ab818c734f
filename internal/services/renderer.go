package services

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/Lllllllleong/docfidesflow/internal/apperr"
	"github.com/Lllllllleong/docfidesflow/internal/models"
)

// MaxPagesPerCall bounds how many page payloads one inference call carries.
const MaxPagesPerCall = 20

// PageRenderer turns raw file bytes into the ordered page payloads a single
// inference call can accept.
type PageRenderer interface {
	RenderPages(data []byte, mimeType string) ([]models.Attachment, int, error)
}

// PDFRenderer splits PDFs into single-page payloads on local disk. Images
// and office formats pass through as one payload; the inference provider
// consumes them whole.
type PDFRenderer struct{}

// RenderPages implements PageRenderer. For PDFs it returns up to
// MaxPagesPerCall single-page slices in page order plus the true page count;
// for everything else one payload and a page count of 1.
func (PDFRenderer) RenderPages(data []byte, mimeType string) ([]models.Attachment, int, error) {
	if mimeType != "application/pdf" {
		return []models.Attachment{{MIMEType: mimeType, Data: data}}, 1, nil
	}

	tempDir, err := os.MkdirTemp("", "page-render-*")
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.Provider, err, "failed to create render scratch directory")
	}
	defer os.RemoveAll(tempDir)

	sourcePath := filepath.Join(tempDir, "source.pdf")
	if err := os.WriteFile(sourcePath, data, 0o644); err != nil {
		return nil, 0, apperr.Wrap(apperr.Provider, err, "failed to stage source pdf")
	}

	optimizedPath := filepath.Join(tempDir, "optimized.pdf")
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	if err := api.OptimizeFile(sourcePath, optimizedPath, cfg); err != nil {
		return nil, 0, apperr.Wrap(apperr.Provider, err, "failed to validate/optimize pdf")
	}

	pageCount, err := api.PageCountFile(optimizedPath)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.Provider, err, "failed to get page count")
	}

	if err := api.SplitFile(optimizedPath, tempDir, 1, nil); err != nil {
		return nil, 0, apperr.Wrap(apperr.Provider, err, "failed to split pdf")
	}

	// pdfcpu names split output <base>_<page>.pdf; read pages back in order.
	base := strings.TrimSuffix(optimizedPath, filepath.Ext(optimizedPath))
	pages := min(pageCount, MaxPagesPerCall)
	attachments := make([]models.Attachment, 0, pages)
	for page := 1; page <= pages; page++ {
		pageData, err := os.ReadFile(fmt.Sprintf("%s_%d.pdf", base, page))
		if err != nil {
			return nil, 0, apperr.Wrap(apperr.Provider, err, "failed to read split page %d", page)
		}
		attachments = append(attachments, models.Attachment{MIMEType: "application/pdf", Data: pageData})
	}
	return attachments, pageCount, nil
}
