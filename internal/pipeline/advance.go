package pipeline

import (
	"encoding/json"
	"fmt"

	"quill/internal/logging"
	"quill/internal/queue"
	"quill/internal/services"
	"quill/internal/steps"
	"quill/internal/template"
)

// docType is the vector-collection document class for concept notes.
const docType = "concept"

// handleQueueEvent routes task settlements back to the pipeline that
// enqueued them. Settlement of tasks the orchestrator never bound (or
// whose pipeline has since failed) is logged and dropped.
func (o *Orchestrator) handleQueueEvent(ev queue.Event) {
	switch e := ev.(type) {
	case queue.TaskCompleted:
		o.onTaskCompleted(e.Task)
	case queue.TaskFailed:
		o.onTaskFailed(e.Task, e.Err)
	}
}

// resolvePipeline finds the pipeline a settled task belongs to: bindings
// first, then the pipeline ID the task itself carries.
func (o *Orchestrator) resolvePipeline(task queue.Task) (string, bool) {
	if id, ok := o.reg.resolve(task.ID); ok {
		return id, true
	}
	if task.PipelineID != "" {
		if _, ok := o.reg.get(task.PipelineID); ok {
			return task.PipelineID, true
		}
	}
	return "", false
}

func (o *Orchestrator) onTaskCompleted(task queue.Task) {
	pipelineID, ok := o.resolvePipeline(task)
	o.reg.unbind(task.ID)
	if !ok {
		o.logger.Warn("settled task has no pipeline",
			logging.String(logging.FieldTaskID, task.ID))
		return
	}
	c, ok := o.reg.get(pipelineID)
	if !ok {
		return
	}
	if c.Stage.Terminal() {
		o.logger.Warn("task settled after pipeline ended",
			logging.String(logging.FieldPipelineID, pipelineID),
			logging.String(logging.FieldTaskID, task.ID))
		return
	}

	var err error
	switch steps.TaskType(task.Type) {
	case steps.TypeClassify:
		err = o.onClassified(c, task.Result)
	case steps.TypeGenerate:
		err = o.onGenerated(c, task.Result)
	case steps.TypeEmbed:
		err = o.onEmbedded(c, task.Result)
	case steps.TypeVerify:
		err = o.onVerified(c, task.Result)
	default:
		err = services.NewError(services.KindInvalidState, "pipeline.settle",
			fmt.Sprintf("unexpected task type %q", task.Type))
	}
	if err != nil {
		o.fail(pipelineID, err)
	}
}

func (o *Orchestrator) onTaskFailed(task queue.Task, cause error) {
	pipelineID, ok := o.resolvePipeline(task)
	o.reg.unbind(task.ID)
	if !ok {
		return
	}
	o.fail(pipelineID, cause)
}

// onClassified stores the tags and draft from a classify step and parks
// the run at the draft review gate.
func (o *Orchestrator) onClassified(c *Context, raw json.RawMessage) error {
	var result steps.ClassifyResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return services.WrapError(services.KindUpstreamFailure, "pipeline.settle",
			"decode classify result", err)
	}
	updated, ok := o.reg.update(c.ID, func(c *Context) {
		c.Tags = result.Tags
		c.GeneratedContent = result.Draft
		c.UpdatedAt = o.now()
	})
	if !ok {
		return nil
	}
	if _, err := o.advance(c.ID, StageReviewDraft); err != nil {
		return err
	}
	o.publish(ConfirmationRequired{
		PipelineID: c.ID,
		Kind:       updated.Kind,
		Stage:      StageReviewDraft,
		Preview: Preview{
			Title:      updated.Title,
			TargetPath: updated.TargetPath,
			Tags:       updated.Tags,
			NewContent: updated.GeneratedContent,
		},
	})
	return nil
}

// onGenerated stores the rewritten content and parks the run at the
// change review gate.
func (o *Orchestrator) onGenerated(c *Context, raw json.RawMessage) error {
	var result steps.GenerateResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return services.WrapError(services.KindUpstreamFailure, "pipeline.settle",
			"decode generate result", err)
	}
	updated, ok := o.reg.update(c.ID, func(c *Context) {
		c.GeneratedContent = result.Content
		c.UpdatedAt = o.now()
	})
	if !ok {
		return nil
	}
	if _, err := o.advance(c.ID, StageReviewChanges); err != nil {
		return err
	}
	o.publish(ConfirmationRequired{
		PipelineID: c.ID,
		Kind:       updated.Kind,
		Stage:      StageReviewChanges,
		Preview: Preview{
			Title:           updated.Title,
			TargetPath:      updated.TargetPath,
			SourcePath:      updated.SourcePath,
			PreviousContent: updated.PreviousContent,
			NewContent:      updated.GeneratedContent,
		},
	})
	return nil
}

// onEmbedded indexes the written note, runs duplicate detection for
// create runs, then hands off to verification or completion.
func (o *Orchestrator) onEmbedded(c *Context, raw json.RawMessage) error {
	var result steps.EmbedResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return services.WrapError(services.KindUpstreamFailure, "pipeline.settle",
			"decode embed result", err)
	}
	updated, ok := o.reg.update(c.ID, func(c *Context) {
		c.Embedding = result.Embedding
		c.UpdatedAt = o.now()
	})
	if !ok {
		return nil
	}

	ctx := o.baseCtx(c.ID)
	if updated.Kind == KindMerge && updated.SourceNodeID != "" {
		if err := o.deps.Index.Delete(ctx, updated.SourceNodeID); err != nil {
			return err
		}
	}
	metadata := map[string]string{"path": updated.TargetPath}
	if updated.Title != "" {
		metadata["title"] = updated.Title
	}
	if err := o.deps.Index.Upsert(ctx, updated.NodeID, docType, result.Embedding, metadata); err != nil {
		return err
	}

	if updated.Kind == KindCreate {
		if _, err := o.advance(c.ID, StageCheckingDuplicates); err != nil {
			return err
		}
		duplicates, err := o.deps.Index.Detect(ctx, updated.NodeID, docType, result.Embedding)
		if err != nil {
			return err
		}
		if len(duplicates) > 0 {
			o.logger.Warn("possible duplicates detected",
				logging.String(logging.FieldPipelineID, c.ID),
				logging.Int("candidates", len(duplicates)))
		}
		if _, ok := o.reg.update(c.ID, func(c *Context) {
			c.Duplicates = duplicates
			c.UpdatedAt = o.now()
		}); !ok {
			return nil
		}
	}
	return o.maybeVerify(c.ID)
}

// onVerified records the verification verdict and completes the run. A
// failed verdict is surfaced through the context, not as a pipeline
// failure: the run did its job and reported.
func (o *Orchestrator) onVerified(c *Context, raw json.RawMessage) error {
	var result steps.VerifyResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return services.WrapError(services.KindUpstreamFailure, "pipeline.settle",
			"decode verify result", err)
	}
	if _, ok := o.reg.update(c.ID, func(c *Context) {
		c.Verification = &result
		c.UpdatedAt = o.now()
	}); !ok {
		return nil
	}
	o.complete(c.ID)
	return nil
}

// maybeVerify queues the verification step when configured and possible,
// otherwise completes the run immediately.
func (o *Orchestrator) maybeVerify(pipelineID string) error {
	c, ok := o.reg.get(pipelineID)
	if !ok {
		return nil
	}
	runVerify := o.autoVerify &&
		o.deps.Prompts.Resolve(template.StepVerify) == nil &&
		o.deps.Probe.Available() == nil
	if !runVerify {
		o.complete(pipelineID)
		return nil
	}

	content, exists, err := o.deps.Notes.ReadByPathIfExists(c.TargetPath)
	if err != nil || !exists {
		o.complete(pipelineID)
		return nil
	}
	title := c.Title
	if title == "" {
		title = o.deps.Notes.TitleFromPath(c.TargetPath)
	}
	if _, err := o.advance(pipelineID, StageVerifying); err != nil {
		return err
	}
	payload := steps.VerifyPayload{Title: title, Content: content}
	if _, err := o.enqueue(queue.EnqueueParams{
		Resource:   c.NodeID,
		Type:       string(steps.TypeVerify),
		PipelineID: pipelineID,
		Payload:    marshalPayload(payload),
	}); err != nil {
		// Verification is best effort after the write landed; the run
		// still finishes.
		o.logger.Warn("queue verify step",
			logging.String(logging.FieldPipelineID, pipelineID),
			logging.Error(err))
		o.complete(pipelineID)
		return nil
	}
	return nil
}
