package export

import (
	"fmt"
	"time"
)

// Service renders build reports.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

// Report generates a report in the requested format.
func (s *Service) Report(req Request) (*Result, error) {
	generatedAt := req.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = time.Now()
	}

	data := TemplateData{
		BuildNumber:      req.Build.BuildNumber,
		FromNumber:       req.FromNumber,
		Status:           req.Build.Status,
		IsMain:           req.Build.IsMain,
		OrganizationID:   req.Build.OrganizationID,
		GeneratedAt:      generatedAt,
		InstructionCount: len(req.Contents),
		Added:            templateChanges(req.Diff.Added),
		Modified:         templateChanges(req.Diff.Modified),
		Removed:          templateChanges(req.Diff.Removed),
	}

	html, err := RenderReportHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}

	filename := fmt.Sprintf("build-%d-report", req.Build.BuildNumber)
	switch req.Format {
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: filename + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return exportPDF(html, filename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}
