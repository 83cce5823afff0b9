package steps

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"quill/internal/logging"
	"quill/internal/provider"
	"quill/internal/queue"
	"quill/internal/services"
	"quill/internal/template"
)

// Chatter is the provider surface the runner needs.
type Chatter interface {
	Chat(ctx context.Context, req provider.ChatRequest) (string, error)
	Embed(ctx context.Context, input string) ([]float32, error)
}

// Runner executes queued steps against the provider. It implements
// queue.Runner.
type Runner struct {
	chat      Chatter
	templates *template.Builder
	logger    *slog.Logger
}

// NewRunner constructs a step runner.
func NewRunner(chat Chatter, templates *template.Builder, logger *slog.Logger) *Runner {
	return &Runner{
		chat:      chat,
		templates: templates,
		logger:    logging.NewComponentLogger(logger, "step-runner"),
	}
}

// Execute dispatches one task by type. The task's error history is rendered
// into the prompt so structured retries can steer the next attempt.
func (r *Runner) Execute(ctx context.Context, task *queue.Task) (json.RawMessage, error) {
	if err := ValidatePayload(task.Type, task.Payload); err != nil {
		return nil, err
	}

	switch TaskType(task.Type) {
	case TypeClassify:
		return r.executeClassify(ctx, task)
	case TypeGenerate:
		return r.executeGenerate(ctx, task)
	case TypeEmbed:
		return r.executeEmbed(ctx, task)
	case TypeVerify:
		return r.executeVerify(ctx, task)
	default:
		return nil, services.NewError(services.KindInvalidState, "steps.execute", "unknown task type").
			WithDetail("task_type", task.Type)
	}
}

func (r *Runner) executeClassify(ctx context.Context, task *queue.Task) (json.RawMessage, error) {
	var payload ClassifyPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, services.WrapError(services.KindInvalidState, "steps.classify", "decode payload", err)
	}

	prompt, err := r.templates.Build(template.StepClassify, struct {
		Title string
		Seed  string
		Hints []string
	}{payload.Title, payload.Seed, task.ErrorHints()})
	if err != nil {
		return nil, err
	}

	raw, err := r.chat.Chat(ctx, provider.ChatRequest{User: prompt, JSONResponse: true})
	if err != nil {
		return nil, err
	}

	var result ClassifyResult
	if err := decodeModelJSON(raw, &result); err != nil {
		return nil, services.Categorized("steps.classify", "model returned malformed JSON", "validation", err)
	}
	if strings.TrimSpace(result.Draft) == "" {
		return nil, services.Categorized("steps.classify", "model returned an empty draft", "validation", nil)
	}
	return json.Marshal(result)
}

func (r *Runner) executeGenerate(ctx context.Context, task *queue.Task) (json.RawMessage, error) {
	var payload GeneratePayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, services.WrapError(services.KindInvalidState, "steps.generate", "decode payload", err)
	}

	stepID := template.StepGenerateAmend
	if payload.Mode == ModeMerge {
		stepID = template.StepGenerateMerge
	}
	prompt, err := r.templates.Build(stepID, struct {
		Instruction     string
		PreviousContent string
		SourceContent   string
		Hints           []string
	}{payload.Instruction, payload.PreviousContent, payload.SourceContent, task.ErrorHints()})
	if err != nil {
		return nil, err
	}

	raw, err := r.chat.Chat(ctx, provider.ChatRequest{User: prompt, JSONResponse: true})
	if err != nil {
		return nil, err
	}

	var result GenerateResult
	if err := decodeModelJSON(raw, &result); err != nil {
		return nil, services.Categorized("steps.generate", "model returned malformed JSON", "validation", err)
	}
	if strings.TrimSpace(result.Content) == "" {
		return nil, services.Categorized("steps.generate", "model returned empty content", "validation", nil)
	}
	return json.Marshal(result)
}

func (r *Runner) executeEmbed(ctx context.Context, task *queue.Task) (json.RawMessage, error) {
	var payload EmbedPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, services.WrapError(services.KindInvalidState, "steps.embed", "decode payload", err)
	}
	embedding, err := r.chat.Embed(ctx, payload.Content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(EmbedResult{Embedding: embedding})
}

func (r *Runner) executeVerify(ctx context.Context, task *queue.Task) (json.RawMessage, error) {
	var payload VerifyPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, services.WrapError(services.KindInvalidState, "steps.verify", "decode payload", err)
	}

	prompt, err := r.templates.Build(template.StepVerify, struct {
		Title   string
		Content string
	}{payload.Title, payload.Content})
	if err != nil {
		return nil, err
	}

	raw, err := r.chat.Chat(ctx, provider.ChatRequest{User: prompt, JSONResponse: true})
	if err != nil {
		return nil, err
	}

	var result VerifyResult
	if err := decodeModelJSON(raw, &result); err != nil {
		return nil, services.Categorized("steps.verify", "model returned malformed JSON", "validation", err)
	}
	return json.Marshal(result)
}

// decodeModelJSON tolerates fenced code blocks around the model's JSON.
func decodeModelJSON(raw string, out any) error {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	return json.Unmarshal([]byte(strings.TrimSpace(cleaned)), out)
}
