package upload

import "github.com/hyperjump/intellilearn/internal/models"

// Phase is the lifecycle position of an upload session.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseUploading  Phase = "uploading"
	PhaseProcessing Phase = "processing"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
)

// State is an immutable snapshot of a coordinator session.
type State struct {
	Phase      Phase
	Uploading  bool
	Processing bool
	// Progress is the latest status reported by the backend, nil before the first poll.
	Progress   *models.DocumentStatusResponse
	DocumentID string
	Err        error
}

// Active reports whether an upload or processing step is under way.
func (s State) Active() bool {
	return s.Uploading || s.Processing
}

// ProgressPercent is the backend progress clamped to 0..100, 0 before the first poll.
func (s State) ProgressPercent() int {
	if s.Progress == nil {
		return 0
	}
	return models.ClampPercent(s.Progress.ProgressPercent)
}

// ProcessingStage is the backend stage name, "" before the first poll.
func (s State) ProcessingStage() string {
	if s.Progress == nil {
		return ""
	}
	return s.Progress.ProcessingStage
}

// StageDetails is the backend stage description, "" before the first poll.
func (s State) StageDetails() string {
	if s.Progress == nil {
		return ""
	}
	return s.Progress.StageDetails
}
