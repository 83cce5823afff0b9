package pipeline

// Event is the closed set of notifications the orchestrator publishes.
type Event interface {
	pipelineEvent()
}

// StageChanged fires on every successful stage transition.
type StageChanged struct {
	PipelineID string
	Kind       Kind
	Stage      Stage
}

// Preview is the material a caller needs to review at a confirmation gate.
type Preview struct {
	Title           string
	TargetPath      string
	SourcePath      string
	Tags            []string
	PreviousContent string
	NewContent      string
}

// ConfirmationRequired fires when a run reaches a review gate and waits
// for ConfirmDraft or ConfirmWrite.
type ConfirmationRequired struct {
	PipelineID string
	Kind       Kind
	Stage      Stage
	Preview    Preview
}

// PipelineCompleted fires once when a run reaches completed.
type PipelineCompleted struct {
	PipelineID string
	Kind       Kind
}

// PipelineFailed fires once when a run is forced to failed.
type PipelineFailed struct {
	PipelineID string
	Kind       Kind
	Err        error
}

func (StageChanged) pipelineEvent()         {}
func (ConfirmationRequired) pipelineEvent() {}
func (PipelineCompleted) pipelineEvent()    {}
func (PipelineFailed) pipelineEvent()       {}
