package task

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/relay/internal/errors"
)

// Plan is the output of decomposition: a summary of the request and the
// tasks to dispatch for it.
type Plan struct {
	Summary string `json:"summary" yaml:"summary"`
	Tasks   []Task `json:"tasks" yaml:"tasks"`
}

// Validate checks the structural requirements of a plan. Worker resolution
// is checked at dispatch time against the live registry.
func (p *Plan) Validate() error {
	if p == nil {
		return errors.NewValidationError("decomposition returned no plan").WithCause(errors.ErrEmptyPlan)
	}
	if strings.TrimSpace(p.Summary) == "" {
		return errors.NewValidationError("plan summary is empty").WithField("summary")
	}
	if len(p.Tasks) == 0 {
		return errors.NewValidationError("plan has no tasks").WithField("tasks").WithCause(errors.ErrEmptyPlan)
	}
	return nil
}

// ParseJSON decodes a plan from JSON. Surrounding markdown code fences, as
// language models tend to emit, are stripped first.
func ParseJSON(data []byte) (*Plan, error) {
	var p Plan
	if err := json.Unmarshal([]byte(stripFences(string(data))), &p); err != nil {
		return nil, errors.NewValidationError("plan is not valid JSON").WithCause(err)
	}
	return &p, nil
}

// ParseYAML decodes a plan from YAML.
func ParseYAML(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, errors.NewValidationError("plan is not valid YAML").WithCause(err)
	}
	return &p, nil
}

// LoadFile reads a plan from a YAML (or JSON, which is valid YAML) file
// and validates it.
func LoadFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	p, err := ParseYAML(data)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
