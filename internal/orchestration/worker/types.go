package worker

import (
	"slices"
	"time"

	"github.com/zjrosen/devteam/internal/orchestration/events"
)

// Requirements is the product manager's output.
type Requirements struct {
	Summary     string   `json:"summary" yaml:"summary"`
	UserStories []string `json:"user_stories" yaml:"user_stories"`
	Features    []string `json:"features" yaml:"features"`
	Constraints []string `json:"constraints,omitempty" yaml:"constraints,omitempty"`
}

// TechStack is the architect's technology decision.
type TechStack struct {
	Frontend string   `json:"frontend,omitempty" yaml:"frontend,omitempty"`
	Backend  string   `json:"backend,omitempty" yaml:"backend,omitempty"`
	Database string   `json:"database,omitempty" yaml:"database,omitempty"`
	Other    []string `json:"other,omitempty" yaml:"other,omitempty"`
}

// Component is one architectural building block.
type Component struct {
	Name           string `json:"name" yaml:"name"`
	Responsibility string `json:"responsibility" yaml:"responsibility"`
}

// Architecture is the architect's output.
type Architecture struct {
	Overview   string      `json:"overview" yaml:"overview"`
	TechStack  TechStack   `json:"tech_stack" yaml:"tech_stack"`
	Components []Component `json:"components" yaml:"components"`
}

// DesignSystem is the designer's output.
type DesignSystem struct {
	Palette    map[string]string `json:"palette" yaml:"palette"`
	Typography map[string]string `json:"typography" yaml:"typography"`
	Components []string          `json:"components" yaml:"components"`
}

// File is one generated project file.
type File struct {
	Path     string `json:"path" yaml:"path"`
	Language string `json:"language,omitempty" yaml:"language,omitempty"`
	Content  string `json:"content" yaml:"content"`
}

// ImplementationInput is everything the developer builds from.
type ImplementationInput struct {
	Request      string        `json:"request"`
	Requirements *Requirements `json:"requirements,omitempty"`
	Architecture *Architecture `json:"architecture,omitempty"`
	Design       *DesignSystem `json:"design,omitempty"`
}

// Finding is one security issue.
type Finding struct {
	Severity string `json:"severity" yaml:"severity"`
	Title    string `json:"title" yaml:"title"`
	Detail   string `json:"detail,omitempty" yaml:"detail,omitempty"`
	File     string `json:"file,omitempty" yaml:"file,omitempty"`
}

// SecurityReport is the security auditor's output.
type SecurityReport struct {
	Findings []Finding `json:"findings" yaml:"findings"`
}

// Issue is one review problem.
type Issue struct {
	Severity string `json:"severity" yaml:"severity"`
	Message  string `json:"message" yaml:"message"`
	File     string `json:"file,omitempty" yaml:"file,omitempty"`
}

// QAReport is the reviewer's judgment. Score is 0-100.
type QAReport struct {
	Score    int       `json:"score" yaml:"score"`
	Passed   bool      `json:"passed" yaml:"passed"`
	Summary  string    `json:"summary" yaml:"summary"`
	Issues   []Issue   `json:"issues" yaml:"issues"`
	Security []Finding `json:"security,omitempty" yaml:"security,omitempty"`
}

// ProjectContext is the shared state of one run. Workers receive copies.
type ProjectContext struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Description  string           `json:"description"`
	Requirements *Requirements    `json:"requirements,omitempty"`
	TechStack    *TechStack       `json:"tech_stack,omitempty"`
	Files        []File           `json:"files,omitempty"`
	Status       events.RunStatus `json:"status"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Clone returns a copy sharing no mutable state with p.
func (p ProjectContext) Clone() ProjectContext {
	out := p
	if p.Requirements != nil {
		r := *p.Requirements
		r.UserStories = slices.Clone(r.UserStories)
		r.Features = slices.Clone(r.Features)
		r.Constraints = slices.Clone(r.Constraints)
		out.Requirements = &r
	}
	if p.TechStack != nil {
		ts := *p.TechStack
		ts.Other = slices.Clone(ts.Other)
		out.TechStack = &ts
	}
	out.Files = slices.Clone(p.Files)
	return out
}

// MergeFiles overlays changed onto base by path. Paths keep their position
// in base; new paths are appended in the order given.
func MergeFiles(base, changed []File) []File {
	out := slices.Clone(base)
	index := make(map[string]int, len(out))
	for i, f := range out {
		index[f.Path] = i
	}
	for _, f := range changed {
		if i, ok := index[f.Path]; ok {
			out[i] = f
			continue
		}
		index[f.Path] = len(out)
		out = append(out, f)
	}
	return out
}
