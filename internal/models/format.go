package models

import (
	"bytes"
	"path/filepath"
	"strings"
)

// Accepted upload formats keyed by lowercase filename extension. Chunked
// uploads arrive as raw octet streams, so the MIME type is always resolved
// from the extension rather than the request content type.
var acceptedFormats = map[string]string{
	".pdf":  "application/pdf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xls":  "application/vnd.ms-excel",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".tiff": "image/tiff",
	".tif":  "image/tiff",
}

// DetectFormat resolves (format, mimeType) from the original filename.
// The format is the extension without the leading dot. ok is false when the
// extension is not on the allow-list.
func DetectFormat(filename string) (format, mimeType string, ok bool) {
	ext := strings.ToLower(filepath.Ext(filename))
	mime, ok := acceptedFormats[ext]
	if !ok {
		return "", "", false
	}
	return strings.TrimPrefix(ext, "."), mime, true
}

// pdfTextMarkers are the operators whose presence in the head of a PDF
// indicates selectable text rather than scanned page images.
var pdfTextMarkers = [][]byte{
	[]byte("/Type /Page"),
	[]byte("BT"),
	[]byte("ET"),
	[]byte("/Font"),
}

const pdfProbeWindow = 50000

// PDFHasSelectableText is a cheap heuristic distinguishing native PDFs from
// scanned ones: at least two text-related operators must appear within the
// first 50 KB of the buffer.
func PDFHasSelectableText(content []byte) bool {
	window := content
	if len(window) > pdfProbeWindow {
		window = window[:pdfProbeWindow]
	}
	var found int
	for _, marker := range pdfTextMarkers {
		if bytes.Contains(window, marker) {
			found++
		}
	}
	return found >= 2
}
