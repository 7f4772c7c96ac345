// Package report renders a submitted assessment as a standalone HTML page.
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"IBT-ASSESS/internal/models"
)

var page = template.Must(template.New("report").Funcs(template.FuncMap{
	"orNone": func(s string) string {
		if s == "" {
			return "None"
		}
		return s
	},
	"yesNo": func(b bool) string {
		if b {
			return "Yes"
		}
		return "No"
	},
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>Complete {{.Sub.Type.Title}} Report</title>
<style>
body { font-family: Inter, Arial, sans-serif; background: #f9fafb; padding: 2rem; color: #374151; }
.card { max-width: 56rem; margin: 0 auto; background: #fff; border-radius: .75rem; padding: 1.5rem; }
h1 { font-size: 1.5rem; border-bottom: 1px solid #e5e7eb; padding-bottom: 1rem; }
h1 span { color: #2563eb; }
h3 { font-size: 1.125rem; margin-top: 1.5rem; }
.row { display: flex; gap: 1rem; padding: .5rem 0; border-bottom: 1px solid #f3f4f6; }
.key { width: 33%; font-weight: 500; color: #4b5563; }
.val { flex: 1; }
footer { margin-top: 1.5rem; padding-top: 1rem; border-top: 1px solid #e5e7eb; font-size: .875rem; color: #9ca3af; }
</style>
</head>
<body>
<div class="card">
<h1><span>Project Name:</span> {{.Sub.ProjectName}}</h1>
<div>Date: {{.Sub.Date}}</div>

<h3>Contact Information</h3>
<div class="row"><div class="key">Quotation Required Date</div><div class="val">{{orNone .Sub.QuotationRequiredDate}}</div></div>
<div class="row"><div class="key">Contact Name</div><div class="val">{{.Sub.ContactName}}</div></div>
<div class="row"><div class="key">Phone Number</div><div class="val">{{orNone .Sub.ContactPhone}}</div></div>
<div class="row"><div class="key">Email Address</div><div class="val">{{.Sub.ContactEmail}}</div></div>
<div class="row"><div class="key">Company</div><div class="val">{{.Customer}}</div></div>
<div class="row"><div class="key">Country</div><div class="val">{{.Sub.Country}}</div></div>
<div class="row"><div class="key">Duplicated Project</div><div class="val">{{yesNo .Sub.IsDuplicated}}</div></div>

<h3>Uploaded File Types</h3>
{{- range .Sub.FileTypes}}
<div class="row"><div class="key">{{.}}</div><div class="val">Yes</div></div>
{{- else}}
<div class="row"><div class="key">File Types</div><div class="val">None</div></div>
{{- end}}
{{range .Sub.Sections}}
<h3>{{.Title}}</h3>
{{- range .Answers}}
<div class="row"><div class="key">{{.Question}}</div><div class="val">{{orNone .Value}}</div></div>
{{- end}}
{{end}}
<footer>Generated: {{.Generated}}</footer>
</div>
</body>
</html>
`))

type view struct {
	Sub       models.Submission
	Customer  string
	Generated string
}

// Render returns the HTML report for a submission.
func Render(sub models.Submission) (string, error) {
	return RenderAt(sub, time.Now())
}

func RenderAt(sub models.Submission, generated time.Time) (string, error) {
	customer, _ := sub.Customer()
	var buf bytes.Buffer
	err := page.Execute(&buf, view{
		Sub:       sub,
		Customer:  customer,
		Generated: generated.Format("2006-01-02 15:04"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}
	return buf.String(), nil
}
