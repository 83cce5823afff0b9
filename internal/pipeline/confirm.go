package pipeline

import (
	"fmt"

	"quill/internal/logging"
	"quill/internal/queue"
	"quill/internal/services"
	"quill/internal/steps"
)

// ConfirmDraft accepts the draft a create run is holding at review_draft,
// writes the new note, and queues the embedding step. The target path is
// re-checked first: a file that appeared since the run started is a
// Conflict and the run fails rather than overwrite it.
func (o *Orchestrator) ConfirmDraft(pipelineID string) (*Context, error) {
	const op = "pipeline.confirm_draft"
	c, ok := o.reg.get(pipelineID)
	if !ok {
		return nil, services.NewError(services.KindNotFound, op,
			fmt.Sprintf("pipeline %s not found", pipelineID))
	}
	if c.Kind != KindCreate {
		return nil, services.NewError(services.KindInvalidState, op,
			fmt.Sprintf("pipeline %s is a %s run, not create", pipelineID, c.Kind))
	}
	if c.Stage != StageReviewDraft {
		return nil, services.NewError(services.KindInvalidState, op,
			fmt.Sprintf("pipeline %s is at %s, not awaiting draft review", pipelineID, c.Stage))
	}

	if _, exists, err := o.deps.Notes.ReadByPathIfExists(c.TargetPath); err != nil {
		return nil, err
	} else if exists {
		conflict := services.NewError(services.KindConflict, op,
			fmt.Sprintf("a note appeared at %s while the draft was under review", c.TargetPath)).
			WithDetail("path", c.TargetPath)
		o.fail(pipelineID, conflict)
		return nil, conflict
	}

	ctx := o.baseCtx(pipelineID)
	// New file, so the rollback point is empty content. Unlike amend and
	// merge, nothing existing is at risk; a snapshot failure is logged
	// and the write proceeds.
	snapID, err := o.deps.Snapshots.Create(ctx, c.TargetPath, "", pipelineID, c.NodeID)
	if err != nil {
		o.logger.Warn("snapshot before create write",
			logging.String(logging.FieldPipelineID, pipelineID),
			logging.Error(err))
	} else {
		o.reg.update(pipelineID, func(c *Context) {
			c.SnapshotID = snapID
		})
	}

	if _, err := o.advance(pipelineID, StageWriting); err != nil {
		return nil, err
	}
	if err := o.deps.Notes.EnsureDirForPath(c.TargetPath); err != nil {
		o.fail(pipelineID, err)
		return nil, err
	}
	if err := o.deps.Notes.WriteAtomic(c.TargetPath, c.GeneratedContent); err != nil {
		o.fail(pipelineID, err)
		return nil, err
	}
	return o.queueEmbed(pipelineID, c.GeneratedContent)
}

// ConfirmWrite accepts the rewrite an amend or merge run is holding at
// review_changes. Before anything is written, the documents on disk are
// compared against the content the preview was generated from; any
// divergence means someone edited them in the meantime, which is a
// Conflict that fails the run and leaves all files untouched.
func (o *Orchestrator) ConfirmWrite(pipelineID string) (*Context, error) {
	const op = "pipeline.confirm_write"
	c, ok := o.reg.get(pipelineID)
	if !ok {
		return nil, services.NewError(services.KindNotFound, op,
			fmt.Sprintf("pipeline %s not found", pipelineID))
	}
	if c.Kind != KindAmend && c.Kind != KindMerge {
		return nil, services.NewError(services.KindInvalidState, op,
			fmt.Sprintf("pipeline %s is a %s run, not amend or merge", pipelineID, c.Kind))
	}
	if c.Stage != StageReviewChanges {
		return nil, services.NewError(services.KindInvalidState, op,
			fmt.Sprintf("pipeline %s is at %s, not awaiting change review", pipelineID, c.Stage))
	}

	if err := o.checkUnchanged(op, pipelineID, c.TargetPath, c.PreviousContent); err != nil {
		return nil, err
	}
	if c.Kind == KindMerge {
		if err := o.checkUnchanged(op, pipelineID, c.SourcePath, c.SourcePreviousContent); err != nil {
			return nil, err
		}
	}

	if _, err := o.advance(pipelineID, StageWriting); err != nil {
		return nil, err
	}
	if err := o.deps.Notes.WriteAtomic(c.TargetPath, c.GeneratedContent); err != nil {
		o.fail(pipelineID, err)
		return nil, err
	}
	if c.Kind == KindMerge {
		if _, err := o.deps.Notes.DeleteByPathIfExists(c.SourcePath); err != nil {
			o.fail(pipelineID, err)
			return nil, err
		}
	}
	return o.queueEmbed(pipelineID, c.GeneratedContent)
}

// checkUnchanged fails the pipeline with a Conflict when the file at path
// no longer matches the content captured at start.
func (o *Orchestrator) checkUnchanged(op, pipelineID, path, expected string) error {
	current, exists, err := o.deps.Notes.ReadByPathIfExists(path)
	if err != nil {
		return err
	}
	if !exists || current != expected {
		conflict := services.NewError(services.KindConflict, op,
			fmt.Sprintf("%s changed while the rewrite was under review", path)).
			WithDetail("path", path)
		o.fail(pipelineID, conflict)
		return conflict
	}
	return nil
}

// queueEmbed moves the run into indexing and submits the embed step for
// the content that was just written. The stage moves before the task is
// queued: once Enqueue returns, the dispatcher may settle the task at any
// moment, and its settlement handler owns every transition from there.
func (o *Orchestrator) queueEmbed(pipelineID, content string) (*Context, error) {
	c, ok := o.reg.get(pipelineID)
	if !ok {
		return nil, services.NewError(services.KindNotFound, "pipeline.confirm",
			fmt.Sprintf("pipeline %s not found", pipelineID))
	}
	advanced, err := o.advance(pipelineID, StageIndexing)
	if err != nil {
		return nil, err
	}
	payload := steps.EmbedPayload{Content: content}
	if _, err := o.enqueue(queue.EnqueueParams{
		Resource:   c.NodeID,
		Type:       string(steps.TypeEmbed),
		PipelineID: pipelineID,
		Payload:    marshalPayload(payload),
	}); err != nil {
		o.fail(pipelineID, err)
		return nil, err
	}
	return advanced, nil
}
