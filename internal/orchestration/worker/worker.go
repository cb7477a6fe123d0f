// Package worker defines the contract between the orchestrator and the
// specialist workers of a team, and ships thin model-backed defaults.
//
// Every worker implements Worker plus exactly one role interface selected by
// its Role:
//
//	product_manager -> RequirementsAnalyst
//	architect       -> Architect
//	designer        -> Designer
//	developer       -> Developer
//	security        -> SecurityAuditor
//	qa              -> Reviewer
package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/zjrosen/devteam/internal/orchestration/events"
	"github.com/zjrosen/devteam/internal/pubsub"
)

// Role identifies a specialist on the team.
type Role string

const (
	RoleProductManager Role = "product_manager"
	RoleArchitect      Role = "architect"
	RoleDesigner       Role = "designer"
	RoleDeveloper      Role = "developer"
	RoleSecurity       Role = "security"
	RoleQA             Role = "qa"
)

// DefaultTeam is the five-role team used when none is configured.
var DefaultTeam = []Role{RoleProductManager, RoleArchitect, RoleDesigner, RoleDeveloper, RoleQA}

// RequiredRoles must be present in every team.
var RequiredRoles = []Role{RoleProductManager, RoleArchitect, RoleDeveloper, RoleQA}

// ErrUnknownRole is returned for a role outside the constants above.
var ErrUnknownRole = errors.New("unknown worker role")

// Title returns the human readable name of r.
func (r Role) Title() string {
	switch r {
	case RoleProductManager:
		return "product manager"
	case RoleArchitect:
		return "software architect"
	case RoleDesigner:
		return "UI designer"
	case RoleDeveloper:
		return "software developer"
	case RoleSecurity:
		return "security auditor"
	case RoleQA:
		return "QA engineer"
	default:
		return string(r)
	}
}

// Icon returns the glyph shown next to r in progress output.
func (r Role) Icon() string {
	switch r {
	case RoleProductManager:
		return "📋"
	case RoleArchitect:
		return "🏗"
	case RoleDesigner:
		return "🎨"
	case RoleDeveloper:
		return "💻"
	case RoleSecurity:
		return "🔒"
	case RoleQA:
		return "🔍"
	default:
		return "•"
	}
}

// ParseRole validates s.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleProductManager, RoleArchitect, RoleDesigner, RoleDeveloper, RoleSecurity, RoleQA:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

// Worker is the part of the contract shared by every role.
type Worker interface {
	// ID is the participant id on the message router.
	ID() string
	Role() Role
	Icon() string

	// SetProjectContext hands the worker a copy of the shared project state.
	SetProjectContext(ProjectContext)

	// Events publishes started, working, complete and error events.
	Events() *pubsub.Broker[events.WorkerEvent]

	// Reset clears per-run state.
	Reset()
}

// RequirementsAnalyst turns the user's request into requirements.
type RequirementsAnalyst interface {
	Worker
	AnalyzeRequirements(ctx context.Context, request string) (*Requirements, error)
}

// Architect chooses the tech stack and components.
type Architect interface {
	Worker
	DesignArchitecture(ctx context.Context, req *Requirements) (*Architecture, error)
}

// Designer produces the design system.
type Designer interface {
	Worker
	CreateDesignSystem(ctx context.Context, req *Requirements, arch *Architecture) (*DesignSystem, error)
}

// Developer writes and remediates the project files.
type Developer interface {
	Worker
	Implement(ctx context.Context, in ImplementationInput) ([]File, error)
	// Fix returns the complete file set after addressing report.
	Fix(ctx context.Context, files []File, report *QAReport) ([]File, error)
}

// SecurityAuditor reviews files for vulnerabilities.
type SecurityAuditor interface {
	Worker
	Audit(ctx context.Context, files []File) (*SecurityReport, error)
}

// Reviewer scores the files against the requirements.
type Reviewer interface {
	Worker
	Review(ctx context.Context, files []File, req *Requirements) (*QAReport, error)
}

// Implements reports whether w implements the role interface of its Role.
func Implements(w Worker) bool {
	switch w.Role() {
	case RoleProductManager:
		_, ok := w.(RequirementsAnalyst)
		return ok
	case RoleArchitect:
		_, ok := w.(Architect)
		return ok
	case RoleDesigner:
		_, ok := w.(Designer)
		return ok
	case RoleDeveloper:
		_, ok := w.(Developer)
		return ok
	case RoleSecurity:
		_, ok := w.(SecurityAuditor)
		return ok
	case RoleQA:
		_, ok := w.(Reviewer)
		return ok
	default:
		return false
	}
}
