package pipeline

import (
	"time"

	"quill/internal/steps"
	"quill/internal/vector"
)

// Context carries everything a run accumulates as it moves through its
// stages: identifiers, file paths, model output awaiting confirmation, the
// content observed when the preview was built, and snapshot handles for
// rollback. It is persisted after every mutation.
type Context struct {
	ID     string `json:"id"`
	Kind   Kind   `json:"kind"`
	Stage  Stage  `json:"stage"`
	NodeID string `json:"node_id"`

	Title      string `json:"title,omitempty"`
	TargetPath string `json:"target_path"`

	// Merge sources; empty for other kinds.
	SourceNodeID string `json:"source_node_id,omitempty"`
	SourcePath   string `json:"source_path,omitempty"`

	Instruction string   `json:"instruction,omitempty"`
	Seed        string   `json:"seed,omitempty"`
	Tags        []string `json:"tags,omitempty"`

	// GeneratedContent holds the model draft or rewrite waiting at a
	// review gate until it is confirmed and written to disk.
	GeneratedContent string `json:"generated_content,omitempty"`

	// Content captured when the run started; confirm gates compare the
	// file against these to detect concurrent edits.
	PreviousContent       string `json:"previous_content,omitempty"`
	SourcePreviousContent string `json:"source_previous_content,omitempty"`

	Embedding []float32 `json:"embedding,omitempty"`

	SnapshotID       int64 `json:"snapshot_id,omitempty"`
	SourceSnapshotID int64 `json:"source_snapshot_id,omitempty"`

	Duplicates   []vector.Duplicate  `json:"duplicates,omitempty"`
	Verification *steps.VerifyResult `json:"verification,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy safe to hand out of the registry.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Tags != nil {
		clone.Tags = append([]string(nil), c.Tags...)
	}
	if c.Embedding != nil {
		clone.Embedding = append([]float32(nil), c.Embedding...)
	}
	if c.Duplicates != nil {
		clone.Duplicates = append([]vector.Duplicate(nil), c.Duplicates...)
	}
	if c.Verification != nil {
		v := *c.Verification
		if v.Issues != nil {
			v.Issues = append([]string(nil), v.Issues...)
		}
		clone.Verification = &v
	}
	return &clone
}
