// Package steps defines the task types the queue executes for pipelines:
// their payload and result schemas, and the runner that dispatches each
// type to the provider with its rendered prompt.
package steps

import (
	"bytes"
	"encoding/json"
	"strings"

	"quill/internal/services"
)

// TaskType is the closed set of queued step kinds.
type TaskType string

const (
	// TypeClassify produces tags plus an initial draft for a create pipeline.
	TypeClassify TaskType = "classify"
	// TypeGenerate produces amended or merged content from prior content.
	TypeGenerate TaskType = "generate"
	// TypeEmbed computes the embedding vector for written content.
	TypeEmbed TaskType = "embed"
	// TypeVerify reviews a written document for consistency.
	TypeVerify TaskType = "verify"
)

// ClassifyPayload is the input of a classify task.
type ClassifyPayload struct {
	Title string `json:"title"`
	Seed  string `json:"seed,omitempty"`
}

// ClassifyResult is the output of a classify task.
type ClassifyResult struct {
	Tags  []string `json:"tags"`
	Draft string   `json:"draft"`
}

// GenerateMode selects the template a generate task renders.
type GenerateMode string

const (
	ModeAmend GenerateMode = "amend"
	ModeMerge GenerateMode = "merge"
)

// GeneratePayload is the input of a generate task.
type GeneratePayload struct {
	Mode            GenerateMode `json:"mode"`
	Instruction     string       `json:"instruction,omitempty"`
	PreviousContent string       `json:"previous_content"`
	SourceContent   string       `json:"source_content,omitempty"`
}

// GenerateResult is the output of a generate task.
type GenerateResult struct {
	Content string `json:"content"`
}

// EmbedPayload is the input of an embed task.
type EmbedPayload struct {
	Content string `json:"content"`
}

// EmbedResult is the output of an embed task.
type EmbedResult struct {
	Embedding []float32 `json:"embedding"`
}

// VerifyPayload is the input of a verify task.
type VerifyPayload struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// VerifyResult is the output of a verify task.
type VerifyResult struct {
	Passed  bool     `json:"passed"`
	Issues  []string `json:"issues,omitempty"`
	Summary string   `json:"summary,omitempty"`
}

// ValidatePayload checks that raw decodes into the schema for taskType and
// carries the fields that type requires.
func ValidatePayload(taskType string, raw json.RawMessage) error {
	op := "steps.validate"
	switch TaskType(taskType) {
	case TypeClassify:
		var payload ClassifyPayload
		if err := strictDecode(raw, &payload); err != nil {
			return services.WrapError(services.KindInvalidState, op, "malformed classify payload", err)
		}
		if strings.TrimSpace(payload.Title) == "" {
			return services.NewError(services.KindInvalidState, op, "classify payload requires a title")
		}
	case TypeGenerate:
		var payload GeneratePayload
		if err := strictDecode(raw, &payload); err != nil {
			return services.WrapError(services.KindInvalidState, op, "malformed generate payload", err)
		}
		switch payload.Mode {
		case ModeAmend, ModeMerge:
		default:
			return services.NewError(services.KindInvalidState, op, "generate payload requires a mode")
		}
		if payload.PreviousContent == "" {
			return services.NewError(services.KindInvalidState, op, "generate payload requires previous content")
		}
		if payload.Mode == ModeMerge && payload.SourceContent == "" {
			return services.NewError(services.KindInvalidState, op, "merge generation requires source content")
		}
	case TypeEmbed:
		var payload EmbedPayload
		if err := strictDecode(raw, &payload); err != nil {
			return services.WrapError(services.KindInvalidState, op, "malformed embed payload", err)
		}
		if payload.Content == "" {
			return services.NewError(services.KindInvalidState, op, "embed payload requires content")
		}
	case TypeVerify:
		var payload VerifyPayload
		if err := strictDecode(raw, &payload); err != nil {
			return services.WrapError(services.KindInvalidState, op, "malformed verify payload", err)
		}
		if payload.Content == "" {
			return services.NewError(services.KindInvalidState, op, "verify payload requires content")
		}
	default:
		return services.NewError(services.KindInvalidState, op, "unknown task type").
			WithDetail("task_type", taskType)
	}
	return nil
}

// strictDecode rejects fields the payload schema does not declare. A typo
// in a producer would otherwise validate as a blank field.
func strictDecode(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
