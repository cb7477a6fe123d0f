package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/zjrosen/devteam/internal/log"
	"github.com/zjrosen/devteam/internal/orchestration/events"
)

// ErrApprovalRejected is returned when a gate declines a phase.
var ErrApprovalRejected = errors.New("approval rejected")

// ApprovalRequest asks a gate to let phase start.
type ApprovalRequest struct {
	ProjectID string
	Phase     events.Phase
	// Summary is the output of the previous phase.
	Summary string
}

// Decision is a gate's answer.
type Decision struct {
	Approved bool
	Feedback string
}

// ApprovalGate decides whether a phase may start. Implementations may block
// until a human answers; they must honor ctx.
type ApprovalGate interface {
	RequestApproval(ctx context.Context, req ApprovalRequest) (Decision, error)
}

// ApprovalFunc adapts a function to ApprovalGate.
type ApprovalFunc func(ctx context.Context, req ApprovalRequest) (Decision, error)

// RequestApproval calls f.
func (f ApprovalFunc) RequestApproval(ctx context.Context, req ApprovalRequest) (Decision, error) {
	return f(ctx, req)
}

// AutoApprove approves every request.
var AutoApprove = ApprovalFunc(func(context.Context, ApprovalRequest) (Decision, error) {
	return Decision{Approved: true}, nil
})

// RequireApproval returns nil when gate is nil or approves req. A rejection
// wraps ErrApprovalRejected with the gate's feedback.
func RequireApproval(ctx context.Context, gate ApprovalGate, req ApprovalRequest) error {
	if gate == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	decision, err := gate.RequestApproval(ctx, req)
	if err != nil {
		return fmt.Errorf("requesting approval for %s: %w", req.Phase, err)
	}
	if !decision.Approved {
		log.Warn(log.CatOrch, "Phase rejected", "phase", req.Phase, "feedback", decision.Feedback)
		if decision.Feedback != "" {
			return fmt.Errorf("%w: %s", ErrApprovalRejected, decision.Feedback)
		}
		return ErrApprovalRejected
	}
	log.Debug(log.CatOrch, "Phase approved", "phase", req.Phase)
	return nil
}
