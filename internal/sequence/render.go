package sequence

import (
	"fmt"
	"strings"

	"studio-crm/backend/pkg/models"
)

// EntityContext is what the engine knows about the quotation driving a sequence.
type EntityContext struct {
	QuotationID     string  `json:"quotation_id"`
	LeadID          *string `json:"lead_id,omitempty"`
	ClientName      string  `json:"client_name"`
	TotalAmount     float64 `json:"total_amount"`
	QuotationNumber string  `json:"quotation_number,omitempty"`
	Title           string  `json:"title,omitempty"`
	Source          string  `json:"source,omitempty"`
}

// contextFromTask rebuilds the entity context snapshot stored on a task.
func contextFromTask(t *models.Task) EntityContext {
	return EntityContext{
		QuotationID:     t.QuotationID,
		LeadID:          t.LeadID,
		ClientName:      t.ClientName,
		TotalAmount:     t.TotalAmount,
		QuotationNumber: t.QuotationNumber,
		Title:           t.QuotationTitle,
		Source:          t.Source,
	}
}

// RenderData is the value the playbook's text templates execute against.
type RenderData struct {
	ClientName      string
	Amount          float64
	QuotationNumber string
	QuotationRef    string
	QuotationTitle  string
	HighValue       bool
}

func newRenderData(ec EntityContext, highValue bool) RenderData {
	ref := "the quotation"
	if n := strings.TrimSpace(ec.QuotationNumber); n != "" {
		ref = "quotation " + n
	}
	return RenderData{
		ClientName:      ec.ClientName,
		Amount:          ec.TotalAmount,
		QuotationNumber: ec.QuotationNumber,
		QuotationRef:    ref,
		QuotationTitle:  ec.Title,
		HighValue:       highValue,
	}
}

// Rendered holds a template's text fields after execution.
type Rendered struct {
	Title       string
	Description string
	Reasoning   string
	Impact      string
}

// Render executes the template's text fields for the given context.
func (t *Template) Render(data RenderData) (Rendered, error) {
	var out Rendered
	targets := []struct {
		field string
		dst   *string
	}{
		{"title", &out.Title},
		{"description", &out.Description},
		{"reasoning", &out.Reasoning},
		{"impact", &out.Impact},
	}

	for _, target := range targets {
		tmpl, ok := t.parsed[target.field]
		if !ok {
			return Rendered{}, fmt.Errorf("template %q has no %s", t.Purpose, target.field)
		}
		var b strings.Builder
		if err := tmpl.Execute(&b, data); err != nil {
			return Rendered{}, fmt.Errorf("render %s of %q: %w", target.field, t.Purpose, err)
		}
		*target.dst = strings.TrimSpace(b.String())
	}

	return out, nil
}

// StepLabel renders the long step reference, e.g. "STEP 3 of 6".
func StepLabel(step, total int) string {
	return fmt.Sprintf("STEP %d of %d", step, total)
}

// StepShort renders the compact step reference, e.g. "Step 3/6".
func StepShort(step, total int) string {
	return fmt.Sprintf("Step %d/%d", step, total)
}

// Headline is the display title of a task. Sequential tasks are prefixed
// with their position; others are returned as is.
func Headline(t *models.Task) string {
	if !t.IsSequential {
		return t.Title
	}
	return StepLabel(t.SequenceStep, t.SequenceTotalSteps) + ": " + t.Title
}
