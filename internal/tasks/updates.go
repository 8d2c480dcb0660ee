package tasks

import "fmt"

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data, a [DeleteResult] for completed deletes
}

// Operation phase enumeration
type Phase int

const (
	DeleteVideos Phase = iota
	DeleteDone
)

func (p Phase) String() string {
	switch p {
	case DeleteVideos:
		return "delete_videos"
	case DeleteDone:
		return "delete_done"
	default:
		return ""
	}
}

// sendProgress sends update without blocking. A nil channel discards it.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

func startDeleteUpdate(total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   DeleteVideos,
		Step:    0,
		Total:   total,
		Message: fmt.Sprintf("Deleting %d videos...", total),
	}
}

func deleteCompletedUpdate(step, total int, res DeleteResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   DeleteVideos,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✓ #%d", step, total, res.ID),
		Data:    res,
	}
}

func deleteFailedUpdate(step, total int, res DeleteResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   DeleteVideos,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ #%d: %v", step, total, res.ID, res.Err),
		Data:    res,
	}
}

func deleteSummaryUpdate(result *BulkDeleteResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   DeleteDone,
		Step:    result.Total,
		Total:   result.Total,
		Message: fmt.Sprintf("Deleted %d of %d videos (%d failed)", result.Deleted, result.Total, result.Failed),
		Data:    result,
	}
}
