package template_test

import (
	"strings"
	"testing"

	"quill/internal/services"
	"quill/internal/template"
)

func TestResolveKnownSteps(t *testing.T) {
	builder, err := template.NewBuilder()
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	for _, step := range []string{
		template.StepClassify,
		template.StepGenerateAmend,
		template.StepGenerateMerge,
		template.StepVerify,
	} {
		if err := builder.Resolve(step); err != nil {
			t.Fatalf("Resolve(%s) failed: %v", step, err)
		}
	}
	if err := builder.Resolve("nonexistent"); !services.IsKind(err, services.KindPrerequisiteUnmet) {
		t.Fatalf("expected PrerequisiteUnmet for unknown step, got %v", err)
	}
}

func TestBuildRendersVariablesAndHints(t *testing.T) {
	builder, err := template.NewBuilder()
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}

	prompt, err := builder.Build(template.StepClassify, struct {
		Title string
		Seed  string
		Hints []string
	}{"Quantum Entanglement", "notes from lecture", []string{"draft was empty"}})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	for _, fragment := range []string{"Quantum Entanglement", "notes from lecture", "draft was empty"} {
		if !strings.Contains(prompt, fragment) {
			t.Fatalf("prompt missing %q:\n%s", fragment, prompt)
		}
	}

	prompt, err = builder.Build(template.StepClassify, struct {
		Title string
		Seed  string
		Hints []string
	}{"Graphs", "", nil})
	if err != nil {
		t.Fatalf("Build without hints failed: %v", err)
	}
	if strings.Contains(prompt, "Previous attempts") {
		t.Fatal("hint section must be omitted without hints")
	}
}
