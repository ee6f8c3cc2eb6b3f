// Package provision applies ordered, role-scoped setup steps to the hosts
// of a pool.
package provision

import (
	"bytes"
	"cmp"
	"fmt"
	"os"
	"slices"
	"strings"
	"text/template"

	"gopkg.in/yaml.v2"

	"seedharness/internal/apperrors"
	"seedharness/internal/host"
)

// Step is one remote command applied to every host its selector matches.
// Command is a text/template rendered with TemplateData.
type Step struct {
	Name      string        `yaml:"name"`
	Ordinal   int           `yaml:"ordinal"`
	AppliesTo host.Selector `yaml:"appliesTo"`
	Command   string        `yaml:"command"`
}

// Plan is an ordered list of steps plus variables available to every
// command template.
type Plan struct {
	Name  string            `yaml:"name"`
	Vars  map[string]string `yaml:"vars,omitempty"`
	Steps []Step            `yaml:"steps"`
}

// TemplateData is what a step command template sees.
type TemplateData struct {
	Name      string
	Role      string
	Address   string
	Tags      []string
	Index     int // Position in the pool
	RoleIndex int // Position among the pool's hosts with the same role
	Vars      map[string]string
}

var funcs = template.FuncMap{
	"add":   func(a, b int) int { return a + b },
	"join":  strings.Join,
	"quote": func(s string) string { return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'" },
}

// ParsePlan decodes a YAML plan and validates it.
func ParsePlan(data []byte) (Plan, error) {
	var plan Plan
	if err := yaml.UnmarshalStrict(data, &plan); err != nil {
		return Plan{}, apperrors.Validation("plan", fmt.Sprintf("invalid plan: %v", err))
	}
	if err := plan.Validate(); err != nil {
		return Plan{}, err
	}
	return plan, nil
}

// LoadPlan reads and parses a YAML plan file.
func LoadPlan(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, apperrors.Validation("plan", fmt.Sprintf("read plan %s: %v", path, err))
	}
	return ParsePlan(data)
}

// Validate checks that every step has a command that parses as a template.
func (p Plan) Validate() error {
	for i, step := range p.Steps {
		if strings.TrimSpace(step.Command) == "" {
			return apperrors.Validation("command", fmt.Sprintf("step %d (%s) has no command", i, step.label()))
		}
		if _, err := parseCommand(step); err != nil {
			return apperrors.Validation("command", fmt.Sprintf("step %d (%s): %v", i, step.label(), err))
		}
	}
	return nil
}

// Merge returns a plan running p's steps followed by other's, with other's
// variables taking precedence.
func (p Plan) Merge(other Plan) Plan {
	vars := make(map[string]string, len(p.Vars)+len(other.Vars))
	for k, v := range p.Vars {
		vars[k] = v
	}
	for k, v := range other.Vars {
		vars[k] = v
	}
	name := p.Name
	if other.Name != "" {
		name = strings.TrimPrefix(name+"+"+other.Name, "+")
	}
	return Plan{
		Name:  name,
		Vars:  vars,
		Steps: append(slices.Clone(p.Steps), other.Steps...),
	}
}

// StepsFor returns the steps matching h in ascending ordinal order. Steps
// with equal ordinals keep their declaration order.
func (p Plan) StepsFor(h *host.Host) []Step {
	var steps []Step
	for _, step := range p.Steps {
		if step.AppliesTo.Matches(h) {
			steps = append(steps, step)
		}
	}
	slices.SortStableFunc(steps, func(a, b Step) int {
		return cmp.Compare(a.Ordinal, b.Ordinal)
	})
	return steps
}

// Render expands the step's command for one host.
func (s Step) Render(data TemplateData) (string, error) {
	tmpl, err := parseCommand(s)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (s Step) label() string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("#%d", s.Ordinal)
}

func parseCommand(s Step) (*template.Template, error) {
	return template.New(s.label()).Funcs(funcs).Option("missingkey=error").Parse(s.Command)
}
