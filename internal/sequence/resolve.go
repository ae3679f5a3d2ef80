package sequence

import (
	"fmt"
	"time"

	"studio-crm/backend/pkg/models"
)

// DefaultHighValueThreshold is the amount above which the team review step is added.
const DefaultHighValueThreshold = 100000

// Step is a template placed at a position in a sequence instance.
type Step struct {
	Number    int
	Total     int
	HighValue bool
	Template  *Template
}

// Purpose returns the template's purpose.
func (s Step) Purpose() models.Purpose {
	return s.Template.Purpose
}

// Priority returns the priority for this step in its sequence.
func (s Step) Priority() models.Priority {
	return s.Template.PriorityFor(s.HighValue)
}

// Due returns the offset from creation to the step's due time.
func (s Step) Due() time.Duration {
	return s.Template.Due()
}

// Label renders the long form, e.g. "STEP 3 of 6".
func (s Step) Label() string {
	return StepLabel(s.Number, s.Total)
}

// Resolver turns an amount into the ordered list of steps for a quotation.
type Resolver struct {
	playbook  *Playbook
	threshold float64
}

// NewResolver creates a Resolver over pb with the given high-value threshold.
func NewResolver(pb *Playbook, threshold float64) *Resolver {
	return &Resolver{playbook: pb, threshold: threshold}
}

// Threshold returns the high-value threshold.
func (r *Resolver) Threshold() float64 {
	return r.threshold
}

// IsHighValue reports whether amount takes the high-value branch. The
// comparison is strict: an amount equal to the threshold does not branch.
func (r *Resolver) IsHighValue(amount float64) bool {
	return amount > r.threshold
}

// Resolve returns the steps for a quotation worth totalAmount.
func (r *Resolver) Resolve(totalAmount float64) []Step {
	return r.ResolveBranch(r.IsHighValue(totalAmount))
}

// ResolveBranch returns the steps for the base or the high-value branch.
// Steps are numbered 1..N with N = len(steps).
func (r *Resolver) ResolveBranch(highValue bool) []Step {
	templates := make([]*Template, 0, len(r.playbook.Base)+1)
	templates = append(templates, r.playbook.Base...)

	extra := r.playbook.HighValue
	if highValue && extra.Template != nil {
		at := extra.Position - 1
		templates = append(templates[:at], append([]*Template{extra.Template}, templates[at:]...)...)
	}

	steps := make([]Step, len(templates))
	for i, tmpl := range templates {
		steps[i] = Step{
			Number:    i + 1,
			Total:     len(templates),
			HighValue: highValue,
			Template:  tmpl,
		}
	}
	return steps
}

// StepAt returns the step numbered n in the given branch.
func (r *Resolver) StepAt(highValue bool, n int) (Step, error) {
	steps := r.ResolveBranch(highValue)
	for _, s := range steps {
		if s.Number == n {
			return s, nil
		}
	}
	return Step{}, fmt.Errorf("%w: no step %d in a %d-step sequence", ErrInvalidSequenceState, n, len(steps))
}
