package pipeline

import (
	"fmt"

	"quill/internal/services"
)

// Kind identifies which run a pipeline context represents.
type Kind string

const (
	KindCreate Kind = "create"
	KindAmend  Kind = "amend"
	KindMerge  Kind = "merge"
	KindVerify Kind = "verify"
)

// Stage is a position in a pipeline's stage graph.
type Stage string

const (
	StageIdle               Stage = "idle"
	StageTagging            Stage = "tagging"
	StageReviewDraft        Stage = "review_draft"
	StageSaving             Stage = "saving"
	StageDrafting           Stage = "drafting"
	StageReviewChanges      Stage = "review_changes"
	StageWriting            Stage = "writing"
	StageIndexing           Stage = "indexing"
	StageCheckingDuplicates Stage = "checking_duplicates"
	StageVerifying          Stage = "verifying"
	StageCompleted          Stage = "completed"
	StageFailed             Stage = "failed"
)

// Terminal reports whether no further stage transition is possible.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// stageGraphs lists, per kind, the ordered stages a context may pass
// through. Stages are strictly ordered; a context may skip forward
// (auto-verify disabled skips verifying) but never move backward.
var stageGraphs = map[Kind][]Stage{
	KindCreate: {
		StageIdle,
		StageTagging,
		StageReviewDraft,
		StageWriting,
		StageIndexing,
		StageCheckingDuplicates,
		StageVerifying,
		StageCompleted,
	},
	KindAmend: {
		StageIdle,
		StageSaving,
		StageDrafting,
		StageReviewChanges,
		StageWriting,
		StageIndexing,
		StageVerifying,
		StageCompleted,
	},
	KindMerge: {
		StageIdle,
		StageSaving,
		StageDrafting,
		StageReviewChanges,
		StageWriting,
		StageIndexing,
		StageVerifying,
		StageCompleted,
	},
	KindVerify: {
		StageIdle,
		StageVerifying,
		StageCompleted,
	},
}

func stageIndex(kind Kind, stage Stage) int {
	for i, s := range stageGraphs[kind] {
		if s == stage {
			return i
		}
	}
	return -1
}

// checkTransition enforces forward-only movement along the kind's graph.
// failed is reachable from any non-terminal stage.
func checkTransition(kind Kind, from, to Stage) error {
	if from.Terminal() {
		return services.NewError(services.KindInvalidState, "pipeline.advance",
			fmt.Sprintf("pipeline is %s and cannot advance", from))
	}
	if to == StageFailed {
		return nil
	}
	fromIdx := stageIndex(kind, from)
	toIdx := stageIndex(kind, to)
	if toIdx < 0 {
		return services.NewError(services.KindInvalidState, "pipeline.advance",
			fmt.Sprintf("stage %s is not part of the %s graph", to, kind))
	}
	if toIdx <= fromIdx {
		return services.NewError(services.KindInvalidState, "pipeline.advance",
			fmt.Sprintf("cannot move from %s back to %s", from, to))
	}
	return nil
}
