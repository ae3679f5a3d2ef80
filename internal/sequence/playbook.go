// Package sequence runs the ordered follow-up task chain that starts when a
// quotation is approved. A playbook defines the steps; the engine creates one
// task per step and advances to the next step when the previous one is done.
package sequence

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"studio-crm/backend/pkg/models"
)

// Playbook is the set of templates a sequence instance is built from.
type Playbook struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Base        []*Template   `yaml:"base"`
	HighValue   HighValueStep `yaml:"high_value"`
	Source      string        `yaml:"-"` // file path or "builtin"
}

// HighValueStep is the extra template spliced into the base list when the
// quotation amount is above the high-value threshold.
type HighValueStep struct {
	Position int       `yaml:"position"`
	Template *Template `yaml:"template"`
}

// Template describes one follow-up step. Text fields are Go templates over
// RenderData.
type Template struct {
	Purpose           models.Purpose  `yaml:"purpose"`
	Title             string          `yaml:"title"`
	Description       string          `yaml:"description"`
	Reasoning         string          `yaml:"reasoning"`
	Impact            string          `yaml:"impact"`
	Priority          models.Priority `yaml:"priority"`
	HighValuePriority models.Priority `yaml:"high_value_priority,omitempty"`
	DueIn             string          `yaml:"due_in"`

	due    time.Duration
	parsed map[string]*template.Template
}

// Due returns the offset from creation time to the task's due time.
func (t *Template) Due() time.Duration {
	return t.due
}

// PriorityFor returns the priority for a sequence with the given branch.
func (t *Template) PriorityFor(highValue bool) models.Priority {
	if highValue && t.HighValuePriority != "" {
		return t.HighValuePriority
	}
	return t.Priority
}

// ParsePlaybook decodes and validates a playbook document.
func ParsePlaybook(data []byte) (*Playbook, error) {
	var pb Playbook
	if err := yaml.Unmarshal(data, &pb); err != nil {
		return nil, err
	}

	pb.Name = strings.TrimSpace(pb.Name)
	if pb.Name == "" {
		return nil, fmt.Errorf("playbook name is required")
	}
	pb.Description = strings.TrimSpace(pb.Description)

	if len(pb.Base) == 0 {
		return nil, fmt.Errorf("playbook base steps are required")
	}

	seen := make(map[models.Purpose]struct{}, len(pb.Base)+1)
	for i, tmpl := range pb.Base {
		if err := prepareTemplate(tmpl, seen); err != nil {
			return nil, fmt.Errorf("base step %d: %w", i+1, err)
		}
	}

	if pb.HighValue.Template != nil {
		if err := prepareTemplate(pb.HighValue.Template, seen); err != nil {
			return nil, fmt.Errorf("high value step: %w", err)
		}
		// Position counts in the branched list, so len(base)+1 appends.
		if pb.HighValue.Position < 1 || pb.HighValue.Position > len(pb.Base)+1 {
			return nil, fmt.Errorf("high value position %d out of range 1..%d", pb.HighValue.Position, len(pb.Base)+1)
		}
	}

	return &pb, nil
}

func prepareTemplate(t *Template, seen map[models.Purpose]struct{}) error {
	if t == nil {
		return fmt.Errorf("template is empty")
	}

	t.Purpose = models.Purpose(strings.ToLower(strings.TrimSpace(string(t.Purpose))))
	if !t.Purpose.Valid() {
		return fmt.Errorf("unknown purpose %q", t.Purpose)
	}
	if _, dup := seen[t.Purpose]; dup {
		return fmt.Errorf("duplicate purpose %q", t.Purpose)
	}
	seen[t.Purpose] = struct{}{}

	t.Priority = models.Priority(strings.ToLower(strings.TrimSpace(string(t.Priority))))
	if !t.Priority.Valid() {
		return fmt.Errorf("unknown priority %q", t.Priority)
	}
	if t.HighValuePriority != "" {
		t.HighValuePriority = models.Priority(strings.ToLower(strings.TrimSpace(string(t.HighValuePriority))))
		if !t.HighValuePriority.Valid() {
			return fmt.Errorf("unknown high value priority %q", t.HighValuePriority)
		}
	}

	due, err := time.ParseDuration(strings.TrimSpace(t.DueIn))
	if err != nil {
		return fmt.Errorf("invalid due_in: %w", err)
	}
	if due <= 0 {
		return fmt.Errorf("due_in must be greater than 0")
	}
	t.due = due

	t.Title = strings.TrimSpace(t.Title)
	if t.Title == "" {
		return fmt.Errorf("title is required")
	}

	t.parsed = make(map[string]*template.Template, 4)
	fields := map[string]string{
		"title":       t.Title,
		"description": strings.TrimSpace(t.Description),
		"reasoning":   strings.TrimSpace(t.Reasoning),
		"impact":      strings.TrimSpace(t.Impact),
	}
	for field, text := range fields {
		parsed, err := template.New(string(t.Purpose) + "." + field).
			Funcs(templateFuncs).
			Option("missingkey=zero").
			Parse(text)
		if err != nil {
			return fmt.Errorf("parse %s: %w", field, err)
		}
		t.parsed[field] = parsed
	}

	return nil
}

var templateFuncs = template.FuncMap{
	"money": formatMoney,
}

// formatMoney renders an amount with thousands separators and the rupee sign.
func formatMoney(amount float64) string {
	return "₹" + humanize.Commaf(amount)
}
