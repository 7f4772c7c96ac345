package report

import (
	"strings"
	"testing"
	"time"

	"IBT-ASSESS/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderAt(t *testing.T) {
	sub := models.Submission{
		Type:         models.AssessmentICT,
		ProjectName:  "P1 <beta>",
		ContactName:  "Ana",
		ContactEmail: "ana@acme.com",
		CustomerName: "Acme",
		Country:      "Mexico",
		Date:         "2025-01-15",
		FileTypes:    []string{"Gerber", "BOM"},
		Sections: []models.Section{
			{Title: "Technical", Answers: []models.Answer{
				{Question: "Fixture type", Value: "Vacuum box"},
				{Question: "Nest qty", Value: ""},
			}},
			{Title: "Programming", Answers: []models.Answer{{Question: "Panel test", Value: "Yes"}}},
		},
	}

	html, err := RenderAt(sub, time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Contains(t, html, "Complete ICT Assessment Report")
	assert.Contains(t, html, "P1 &lt;beta&gt;")
	assert.NotContains(t, html, "<beta>")
	assert.Contains(t, html, "Generated: 2025-01-15 09:30")
	assert.Contains(t, html, `<div class="key">Gerber</div>`)
	assert.Contains(t, html, `<div class="key">Nest qty</div><div class="val">None</div>`)
	assert.Less(t, strings.Index(html, "Technical"), strings.Index(html, "Programming"))
}

func TestRenderAt_NoFileTypesAndOtherCustomer(t *testing.T) {
	sub := models.Submission{
		Type:              models.AssessmentFCT,
		ProjectName:       "P2",
		CustomerName:      "Other",
		CustomerNameOther: "Newco",
	}

	html, err := RenderAt(sub, time.Now())
	require.NoError(t, err)
	assert.Contains(t, html, `<div class="key">File Types</div><div class="val">None</div>`)
	assert.Contains(t, html, `<div class="val">Newco</div>`)
}
