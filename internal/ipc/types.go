package ipc

import "time"

// ServiceName is the JSON-RPC receiver every call is addressed to.
const ServiceName = "Quill"

// CreateRequest starts a create run.
type CreateRequest struct {
	Title string `json:"title"`
	Path  string `json:"path,omitempty"`
	Seed  string `json:"seed,omitempty"`
}

// AmendRequest starts an amend run against one existing note.
type AmendRequest struct {
	Path        string `json:"path"`
	Instruction string `json:"instruction"`
	NodeID      string `json:"node_id,omitempty"`
}

// MergeRequest starts a merge run folding the source note into the target.
type MergeRequest struct {
	TargetPath   string `json:"target_path"`
	SourcePath   string `json:"source_path"`
	Instruction  string `json:"instruction,omitempty"`
	TargetNodeID string `json:"target_node_id,omitempty"`
	SourceNodeID string `json:"source_node_id,omitempty"`
}

// VerifyRequest starts a standalone verification run.
type VerifyRequest struct {
	Path   string `json:"path"`
	NodeID string `json:"node_id,omitempty"`
}

// ConfirmRequest approves the run parked at a review gate. PipelineID may
// be a unique prefix of the full identifier.
type ConfirmRequest struct {
	PipelineID string `json:"pipeline_id"`
}

// CancelRequest aborts a run and its queued tasks. PipelineID may be a
// unique prefix of the full identifier.
type CancelRequest struct {
	PipelineID string `json:"pipeline_id"`
}

// CancelResponse reports which run was cancelled.
type CancelResponse struct {
	PipelineID string `json:"pipeline_id"`
}

// PipelineSummary is the wire form of a pipeline context.
type PipelineSummary struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	Stage        string    `json:"stage"`
	Title        string    `json:"title,omitempty"`
	TargetPath   string    `json:"target_path"`
	SourcePath   string    `json:"source_path,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	Preview      string    `json:"preview,omitempty"`
	SnapshotID   int64     `json:"snapshot_id,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PipelineResponse carries the run a mutation affected.
type PipelineResponse struct {
	Pipeline PipelineSummary `json:"pipeline"`
}
