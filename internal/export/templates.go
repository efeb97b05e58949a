package export

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"bagofwords/api/internal/diff"
)

var reportTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"fieldList": func(fields []string) string {
			return strings.Join(fields, ", ")
		},
	}
	reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(reportTemplateHTML))
}

// TemplateData holds data for report template rendering
type TemplateData struct {
	BuildNumber      int
	FromNumber       int
	Status           string
	IsMain           bool
	OrganizationID   string
	GeneratedAt      time.Time
	InstructionCount int
	Added            []TemplateChange
	Modified         []TemplateChange
	Removed          []TemplateChange
}

// TemplateChange holds one diff entry for the template
type TemplateChange struct {
	InstructionID string
	Title         string
	ChangedFields []string
}

func templateChanges(changes []diff.Change) []TemplateChange {
	out := make([]TemplateChange, 0, len(changes))
	for _, change := range changes {
		entry := TemplateChange{
			InstructionID: change.InstructionID,
			ChangedFields: change.ChangedFields,
		}
		if change.To != nil {
			entry.Title = change.To.Title
		} else if change.From != nil {
			entry.Title = change.From.Title
		}
		out = append(out, entry)
	}
	return out
}

// RenderReportHTML renders the build report template.
func RenderReportHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute report template: %w", err)
	}
	return buf.String(), nil
}

const reportTemplateHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Build {{.BuildNumber}} Report</title>
<style>
  body { font-family: -apple-system, "Segoe UI", Helvetica, Arial, sans-serif; margin: 2rem; color: #1a1a1a; }
  h1 { font-size: 1.6rem; border-bottom: 2px solid #e0e0e0; padding-bottom: 0.5rem; }
  h2 { font-size: 1.2rem; margin-top: 2rem; }
  .meta { color: #666; font-size: 0.9rem; }
  .badge { display: inline-block; padding: 0.1rem 0.5rem; border-radius: 3px; font-size: 0.8rem; background: #eef; }
  .badge.main { background: #dfd; }
  table { border-collapse: collapse; width: 100%; margin-top: 0.5rem; }
  th, td { text-align: left; padding: 0.4rem 0.6rem; border-bottom: 1px solid #eee; font-size: 0.9rem; }
  th { color: #666; font-weight: 600; }
  .added h2 { color: #1a7f37; }
  .modified h2 { color: #9a6700; }
  .removed h2 { color: #cf222e; }
  .empty { color: #999; font-style: italic; }
</style>
</head>
<body>
<h1>Build {{.BuildNumber}}</h1>
<p class="meta">
  Organization {{.OrganizationID}} &middot;
  status <span class="badge{{if .IsMain}} main{{end}}">{{.Status}}{{if .IsMain}} (main){{end}}</span> &middot;
  {{.InstructionCount}} instructions &middot;
  generated {{formatDate .GeneratedAt "2006-01-02 15:04 MST"}}
</p>
{{if gt .FromNumber 0}}<p class="meta">Changes relative to build {{.FromNumber}}.</p>{{else}}<p class="meta">First build for this organization.</p>{{end}}

<section class="added">
<h2>Added ({{len .Added}})</h2>
{{if .Added}}<table>
<tr><th>Instruction</th><th>Title</th></tr>
{{range .Added}}<tr><td>{{.InstructionID}}</td><td>{{.Title}}</td></tr>
{{end}}</table>{{else}}<p class="empty">None</p>{{end}}
</section>

<section class="modified">
<h2>Modified ({{len .Modified}})</h2>
{{if .Modified}}<table>
<tr><th>Instruction</th><th>Title</th><th>Changed fields</th></tr>
{{range .Modified}}<tr><td>{{.InstructionID}}</td><td>{{.Title}}</td><td>{{fieldList .ChangedFields}}</td></tr>
{{end}}</table>{{else}}<p class="empty">None</p>{{end}}
</section>

<section class="removed">
<h2>Removed ({{len .Removed}})</h2>
{{if .Removed}}<table>
<tr><th>Instruction</th><th>Title</th></tr>
{{range .Removed}}<tr><td>{{.InstructionID}}</td><td>{{.Title}}</td></tr>
{{end}}</table>{{else}}<p class="empty">None</p>{{end}}
</section>
</body>
</html>
`
