// Package export renders build reports as HTML and PDF.
package export

import (
	"errors"
	"time"

	"bagofwords/api/internal/diff"
	"bagofwords/api/internal/store"
)

// Format represents the report output format
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// Request contains parameters for a report operation
type Request struct {
	Build       store.Build
	FromNumber  int // predecessor build number, 0 for the first build
	Diff        diff.Result
	Contents    []store.BuildContent
	Format      Format
	GeneratedAt time.Time
}

// Result contains the report output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates PDF rendering runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("report pdf dependency missing")
)
