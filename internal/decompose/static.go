package decompose

import (
	"context"
	"slices"
	"strings"

	"github.com/Iron-Ham/relay/internal/checkpoint"
	"github.com/Iron-Ham/relay/internal/orchestrator"
	"github.com/Iron-Ham/relay/internal/task"
)

// QueryPlaceholder in a static plan's descriptions is replaced with the
// user's query.
const QueryPlaceholder = "{query}"

// StaticDecomposer serves the same plan for every query.
type StaticDecomposer struct {
	plan task.Plan
}

// NewStatic creates a StaticDecomposer for plan.
func NewStatic(plan *task.Plan) *StaticDecomposer {
	p := *plan
	p.Tasks = slices.Clone(plan.Tasks)
	Normalize(&p)
	return &StaticDecomposer{plan: p}
}

// LoadStatic reads a YAML plan file.
func LoadStatic(path string) (*StaticDecomposer, error) {
	plan, err := task.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return NewStatic(plan), nil
}

// Plan returns a copy of the configured plan.
func (d *StaticDecomposer) Plan() *task.Plan {
	p := d.plan
	p.Tasks = slices.Clone(d.plan.Tasks)
	return &p
}

// Decompose implements orchestrator.Decomposer.
func (d *StaticDecomposer) Decompose(_ context.Context, req orchestrator.Request, _ checkpoint.History) (*task.Plan, error) {
	p := d.Plan()
	p.Summary = strings.ReplaceAll(p.Summary, QueryPlaceholder, req.Query)
	for i := range p.Tasks {
		p.Tasks[i].Description = strings.ReplaceAll(p.Tasks[i].Description, QueryPlaceholder, req.Query)
	}
	return p, nil
}
