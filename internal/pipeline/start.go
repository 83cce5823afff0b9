package pipeline

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"quill/internal/notes"
	"quill/internal/queue"
	"quill/internal/services"
	"quill/internal/steps"
	"quill/internal/template"
)

// CreateParams starts a run that authors a new concept note.
type CreateParams struct {
	Title string
	// Path overrides the slug derived from Title.
	Path string
	// Seed is optional material the model should work from.
	Seed string
}

// StartCreate begins a create run: prerequisites are checked, the target
// path is reserved against existing files, and a classify task is queued.
func (o *Orchestrator) StartCreate(params CreateParams) (*Context, error) {
	const op = "pipeline.start_create"
	if strings.TrimSpace(params.Title) == "" {
		return nil, services.NewError(services.KindInvalidState, op, "title must not be empty")
	}
	if err := o.checkPrerequisites(op, template.StepClassify); err != nil {
		return nil, err
	}

	path := params.Path
	if path == "" {
		path = notes.PathForTitle(params.Title)
	}
	resolved, err := o.deps.Notes.Resolve(path)
	if err != nil {
		return nil, err
	}
	if _, exists, err := o.deps.Notes.ReadByPathIfExists(resolved); err != nil {
		return nil, err
	} else if exists {
		return nil, services.NewError(services.KindConflict, op,
			fmt.Sprintf("a note already exists at %s", path)).WithDetail("path", path)
	}

	now := o.now()
	c := &Context{
		ID:         uuid.NewString(),
		Kind:       KindCreate,
		Stage:      StageIdle,
		NodeID:     uuid.NewString(),
		Title:      params.Title,
		TargetPath: resolved,
		Seed:       params.Seed,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	o.reg.put(c)
	advanced, err := o.advance(c.ID, StageTagging)
	if err != nil {
		return nil, err
	}

	payload := steps.ClassifyPayload{Title: params.Title, Seed: params.Seed}
	if _, err := o.enqueue(queue.EnqueueParams{
		Resource:   c.NodeID,
		Type:       string(steps.TypeClassify),
		PipelineID: c.ID,
		Payload:    marshalPayload(payload),
	}); err != nil {
		o.fail(c.ID, err)
		return nil, err
	}
	return advanced, nil
}

// AmendParams starts a run that rewrites one existing note.
type AmendParams struct {
	NodeID      string
	Path        string
	Instruction string
}

// StartAmend begins an amend run. The current content is snapshotted
// before anything else happens; if the rollback point cannot be recorded
// the run refuses to start.
func (o *Orchestrator) StartAmend(params AmendParams) (*Context, error) {
	const op = "pipeline.start_amend"
	if strings.TrimSpace(params.Instruction) == "" {
		return nil, services.NewError(services.KindInvalidState, op, "instruction must not be empty")
	}
	if err := o.checkPrerequisites(op, template.StepGenerateAmend); err != nil {
		return nil, err
	}

	resolved, err := o.deps.Notes.Resolve(params.Path)
	if err != nil {
		return nil, err
	}
	content, exists, err := o.deps.Notes.ReadByPathIfExists(resolved)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, services.NewError(services.KindNotFound, op,
			fmt.Sprintf("no note at %s", params.Path)).WithDetail("path", params.Path)
	}

	nodeID := params.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	now := o.now()
	c := &Context{
		ID:              uuid.NewString(),
		Kind:            KindAmend,
		Stage:           StageIdle,
		NodeID:          nodeID,
		TargetPath:      resolved,
		Instruction:     params.Instruction,
		PreviousContent: content,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	snapID, err := o.deps.Snapshots.Create(o.baseCtx(c.ID), resolved, content, c.ID, nodeID)
	if err != nil {
		return nil, services.WrapError(services.KindPersistenceFailure, op,
			"record snapshot before amend", err)
	}
	c.SnapshotID = snapID
	o.reg.put(c)
	if _, err := o.advance(c.ID, StageSaving); err != nil {
		return nil, err
	}
	advanced, err := o.advance(c.ID, StageDrafting)
	if err != nil {
		return nil, err
	}

	payload := steps.GeneratePayload{
		Mode:            steps.ModeAmend,
		Instruction:     params.Instruction,
		PreviousContent: content,
	}
	if _, err := o.enqueue(queue.EnqueueParams{
		Resource:   nodeID,
		Type:       string(steps.TypeGenerate),
		PipelineID: c.ID,
		Payload:    marshalPayload(payload),
	}); err != nil {
		o.fail(c.ID, err)
		return nil, err
	}
	return advanced, nil
}

// MergeParams starts a run that folds a source note into a target note
// and removes the source.
type MergeParams struct {
	TargetNodeID string
	TargetPath   string
	SourceNodeID string
	SourcePath   string
	Instruction  string
}

// StartMerge begins a merge run. Both documents are snapshotted up front;
// either snapshot failing aborts the start.
func (o *Orchestrator) StartMerge(params MergeParams) (*Context, error) {
	const op = "pipeline.start_merge"
	if err := o.checkPrerequisites(op, template.StepGenerateMerge); err != nil {
		return nil, err
	}
	target, err := o.deps.Notes.Resolve(params.TargetPath)
	if err != nil {
		return nil, err
	}
	source, err := o.deps.Notes.Resolve(params.SourcePath)
	if err != nil {
		return nil, err
	}
	if target == source {
		return nil, services.NewError(services.KindInvalidState, op,
			"target and source must be different notes")
	}

	targetContent, exists, err := o.deps.Notes.ReadByPathIfExists(target)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, services.NewError(services.KindNotFound, op,
			fmt.Sprintf("no note at %s", params.TargetPath)).WithDetail("path", params.TargetPath)
	}
	sourceContent, exists, err := o.deps.Notes.ReadByPathIfExists(source)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, services.NewError(services.KindNotFound, op,
			fmt.Sprintf("no note at %s", params.SourcePath)).WithDetail("path", params.SourcePath)
	}

	targetNode := params.TargetNodeID
	if targetNode == "" {
		targetNode = uuid.NewString()
	}
	sourceNode := params.SourceNodeID
	if sourceNode == "" {
		sourceNode = uuid.NewString()
	}

	now := o.now()
	c := &Context{
		ID:                    uuid.NewString(),
		Kind:                  KindMerge,
		Stage:                 StageIdle,
		NodeID:                targetNode,
		TargetPath:            target,
		SourceNodeID:          sourceNode,
		SourcePath:            source,
		Instruction:           params.Instruction,
		PreviousContent:       targetContent,
		SourcePreviousContent: sourceContent,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	ctx := o.baseCtx(c.ID)
	snapID, err := o.deps.Snapshots.Create(ctx, target, targetContent, c.ID, targetNode)
	if err != nil {
		return nil, services.WrapError(services.KindPersistenceFailure, op,
			"record target snapshot before merge", err)
	}
	c.SnapshotID = snapID
	srcSnapID, err := o.deps.Snapshots.Create(ctx, source, sourceContent, c.ID, sourceNode)
	if err != nil {
		return nil, services.WrapError(services.KindPersistenceFailure, op,
			"record source snapshot before merge", err)
	}
	c.SourceSnapshotID = srcSnapID
	o.reg.put(c)
	if _, err := o.advance(c.ID, StageSaving); err != nil {
		return nil, err
	}
	advanced, err := o.advance(c.ID, StageDrafting)
	if err != nil {
		return nil, err
	}

	payload := steps.GeneratePayload{
		Mode:            steps.ModeMerge,
		Instruction:     params.Instruction,
		PreviousContent: targetContent,
		SourceContent:   sourceContent,
	}
	if _, err := o.enqueue(queue.EnqueueParams{
		Resource:   targetNode,
		Type:       string(steps.TypeGenerate),
		PipelineID: c.ID,
		Payload:    marshalPayload(payload),
	}); err != nil {
		o.fail(c.ID, err)
		return nil, err
	}
	return advanced, nil
}

// VerifyParams starts a standalone verification run over one note.
type VerifyParams struct {
	NodeID string
	Path   string
}

// StartVerify begins a verify run.
func (o *Orchestrator) StartVerify(params VerifyParams) (*Context, error) {
	const op = "pipeline.start_verify"
	if err := o.checkPrerequisites(op, template.StepVerify); err != nil {
		return nil, err
	}
	resolved, err := o.deps.Notes.Resolve(params.Path)
	if err != nil {
		return nil, err
	}
	content, exists, err := o.deps.Notes.ReadByPathIfExists(resolved)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, services.NewError(services.KindNotFound, op,
			fmt.Sprintf("no note at %s", params.Path)).WithDetail("path", params.Path)
	}

	nodeID := params.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	now := o.now()
	c := &Context{
		ID:         uuid.NewString(),
		Kind:       KindVerify,
		Stage:      StageIdle,
		NodeID:     nodeID,
		TargetPath: resolved,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	o.reg.put(c)
	advanced, err := o.advance(c.ID, StageVerifying)
	if err != nil {
		return nil, err
	}

	payload := steps.VerifyPayload{Title: o.deps.Notes.TitleFromPath(resolved), Content: content}
	if _, err := o.enqueue(queue.EnqueueParams{
		Resource:   nodeID,
		Type:       string(steps.TypeVerify),
		PipelineID: c.ID,
		Payload:    marshalPayload(payload),
	}); err != nil {
		o.fail(c.ID, err)
		return nil, err
	}
	return advanced, nil
}

// checkPrerequisites refuses to start a run whose AI step could never
// execute: provider credentials missing or the prompt template absent.
func (o *Orchestrator) checkPrerequisites(op string, stepIDs ...string) error {
	if err := o.deps.Probe.Available(); err != nil {
		return services.WrapError(services.KindPrerequisiteUnmet, op, "provider unavailable", err)
	}
	for _, stepID := range stepIDs {
		if err := o.deps.Prompts.Resolve(stepID); err != nil {
			return services.WrapError(services.KindPrerequisiteUnmet, op,
				fmt.Sprintf("prompt template %s unavailable", stepID), err)
		}
	}
	return nil
}
