// Package template renders the prompt for each queued step from embedded
// text/template definitions.
//
// A step without a template is a pipeline prerequisite failure, surfaced
// before anything is enqueued so no provider cost is wasted.
package template

import (
	"embed"
	"fmt"
	"strings"
	"text/template"

	"quill/internal/services"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Step identifiers with embedded templates.
const (
	StepClassify      = "classify"
	StepGenerateAmend = "generate_amend"
	StepGenerateMerge = "generate_merge"
	StepVerify        = "verify"
)

// Builder renders step prompts.
type Builder struct {
	templates map[string]*template.Template
}

// NewBuilder parses the embedded templates. Parsing failures are programmer
// errors and surface at construction.
func NewBuilder() (*Builder, error) {
	parsed, err := template.ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse step templates: %w", err)
	}
	builder := &Builder{templates: make(map[string]*template.Template)}
	for _, tmpl := range parsed.Templates() {
		name := strings.TrimSuffix(tmpl.Name(), ".tmpl")
		builder.templates[name] = tmpl
	}
	return builder, nil
}

// Resolve reports whether a template exists for stepID.
func (b *Builder) Resolve(stepID string) error {
	if _, ok := b.templates[stepID]; !ok {
		return services.NewError(services.KindPrerequisiteUnmet, "template.resolve", "no template for step").
			WithDetail("step", stepID)
	}
	return nil
}

// Build renders the prompt for stepID with vars.
func (b *Builder) Build(stepID string, vars any) (string, error) {
	tmpl, ok := b.templates[stepID]
	if !ok {
		return "", services.NewError(services.KindPrerequisiteUnmet, "template.build", "no template for step").
			WithDetail("step", stepID)
	}
	var out strings.Builder
	if err := tmpl.Execute(&out, vars); err != nil {
		return "", services.WrapError(services.KindUpstreamFailure, "template.build", "render step template", err).
			WithDetail("step", stepID)
	}
	return out.String(), nil
}
