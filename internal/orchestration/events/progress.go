package events

import "time"

// Phase is a step of the orchestrator pipeline.
type Phase string

const (
	PhaseStarting       Phase = "starting"
	PhaseRequirements   Phase = "requirements"
	PhaseArchitecture   Phase = "architecture"
	PhaseDesign         Phase = "design"
	PhaseImplementation Phase = "implementation"
	PhaseSecurity       Phase = "security"
	PhaseReview         Phase = "review"
	PhaseFixing         Phase = "fixing"
	PhaseComplete       Phase = "complete"
	PhaseError          Phase = "error"
)

// Percent returns the pipeline progress reached when p completes.
func (p Phase) Percent() int {
	switch p {
	case PhaseStarting:
		return 0
	case PhaseRequirements:
		return 15
	case PhaseArchitecture:
		return 30
	case PhaseDesign:
		return 45
	case PhaseImplementation:
		return 65
	case PhaseSecurity:
		return 75
	case PhaseReview:
		return 85
	case PhaseFixing:
		return 90
	case PhaseComplete, PhaseError:
		return 100
	default:
		return 0
	}
}

// IsTerminal returns true for complete and error.
func (p Phase) IsTerminal() bool {
	return p == PhaseComplete || p == PhaseError
}

// ProgressEvent is emitted after each phase. It is never stored.
type ProgressEvent struct {
	Phase           Phase     `json:"phase"`
	Participant     string    `json:"participant"`
	ParticipantIcon string    `json:"participant_icon,omitempty"`
	Message         string    `json:"message"`
	ProgressPercent int       `json:"progress_percent"`
	Thought         string    `json:"thought,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// RunStatus is the status recorded on the project context.
type RunStatus string

const (
	StatusPending  RunStatus = "pending"
	StatusRunning  RunStatus = "running"
	StatusComplete RunStatus = "complete"
	StatusFailed   RunStatus = "failed"
)
