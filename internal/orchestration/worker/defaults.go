package worker

import (
	"context"
	"fmt"
	"strings"
)

// New creates the default model-backed worker for role.
func New(role Role, deps Deps) (Worker, error) {
	base := NewBase(role, deps)
	switch role {
	case RoleProductManager:
		return &ProductManager{Base: base}, nil
	case RoleArchitect:
		return &SoftwareArchitect{Base: base}, nil
	case RoleDesigner:
		return &UIDesigner{Base: base}, nil
	case RoleDeveloper:
		return &SoftwareDeveloper{Base: base}, nil
	case RoleSecurity:
		return &SecurityReviewer{Base: base}, nil
	case RoleQA:
		return &QAEngineer{Base: base}, nil
	default:
		base.Close()
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
}

// ProductManager is the default RequirementsAnalyst.
type ProductManager struct{ *Base }

func (w *ProductManager) AnalyzeRequirements(ctx context.Context, request string) (*Requirements, error) {
	return perform(w.Base, ctx, "Analyzing requirements", func(ctx context.Context) (*Requirements, error) {
		var out Requirements
		if err := w.Ask(ctx, TaskAnalyzeRequirements, []section{{Title: "Request", Body: request}}, &out); err != nil {
			return nil, err
		}
		if out.Summary == "" {
			out.Summary = request
		}
		return &out, nil
	})
}

// SoftwareArchitect is the default Architect.
type SoftwareArchitect struct{ *Base }

func (w *SoftwareArchitect) DesignArchitecture(ctx context.Context, req *Requirements) (*Architecture, error) {
	return perform(w.Base, ctx, "Designing architecture", func(ctx context.Context) (*Architecture, error) {
		var out Architecture
		if err := w.Ask(ctx, TaskDesignArchitecture, []section{jsonSection("Requirements", req)}, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
}

// UIDesigner is the default Designer.
type UIDesigner struct{ *Base }

func (w *UIDesigner) CreateDesignSystem(ctx context.Context, req *Requirements, arch *Architecture) (*DesignSystem, error) {
	return perform(w.Base, ctx, "Creating design system", func(ctx context.Context) (*DesignSystem, error) {
		var out DesignSystem
		sections := []section{jsonSection("Requirements", req), jsonSection("Architecture", arch)}
		if err := w.Ask(ctx, TaskCreateDesignSystem, sections, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
}

// filesResponse is the answer shape of implement and fix.
type filesResponse struct {
	Files []File `json:"files"`
}

// SoftwareDeveloper is the default Developer.
type SoftwareDeveloper struct{ *Base }

func (w *SoftwareDeveloper) Implement(ctx context.Context, in ImplementationInput) ([]File, error) {
	return perform(w.Base, ctx, "Implementing project", func(ctx context.Context) ([]File, error) {
		sections := []section{jsonSection("Requirements", in.Requirements), jsonSection("Architecture", in.Architecture)}
		if in.Design != nil {
			sections = append(sections, jsonSection("Design system", in.Design))
		}
		var out filesResponse
		if err := w.Ask(ctx, TaskImplement, sections, &out); err != nil {
			return nil, err
		}
		files := validFiles(out.Files)
		if len(files) == 0 {
			return nil, fmt.Errorf("%s: model returned no files", w.ID())
		}
		return files, nil
	})
}

func (w *SoftwareDeveloper) Fix(ctx context.Context, files []File, report *QAReport) ([]File, error) {
	return perform(w.Base, ctx, "Addressing review feedback", func(ctx context.Context) ([]File, error) {
		var out filesResponse
		sections := []section{jsonSection("Files", files), jsonSection("Review", report)}
		if err := w.Ask(ctx, TaskFix, sections, &out); err != nil {
			return nil, err
		}
		return MergeFiles(files, validFiles(out.Files)), nil
	})
}

// SecurityReviewer is the default SecurityAuditor.
type SecurityReviewer struct{ *Base }

func (w *SecurityReviewer) Audit(ctx context.Context, files []File) (*SecurityReport, error) {
	return perform(w.Base, ctx, "Auditing security", func(ctx context.Context) (*SecurityReport, error) {
		var out SecurityReport
		if err := w.Ask(ctx, TaskAudit, []section{jsonSection("Files", files)}, &out); err != nil {
			return nil, err
		}
		for i := range out.Findings {
			out.Findings[i].Severity = strings.ToLower(out.Findings[i].Severity)
		}
		return &out, nil
	})
}

// QAEngineer is the default Reviewer.
type QAEngineer struct{ *Base }

func (w *QAEngineer) Review(ctx context.Context, files []File, req *Requirements) (*QAReport, error) {
	return perform(w.Base, ctx, "Reviewing implementation", func(ctx context.Context) (*QAReport, error) {
		var out QAReport
		sections := []section{jsonSection("Requirements", req), jsonSection("Files", files)}
		if err := w.Ask(ctx, TaskReview, sections, &out); err != nil {
			return nil, err
		}
		out.Score = min(max(out.Score, 0), 100)
		return &out, nil
	})
}

// validFiles drops entries without a path.
func validFiles(files []File) []File {
	out := files[:0:0]
	for _, f := range files {
		if strings.TrimSpace(f.Path) == "" {
			continue
		}
		out = append(out, f)
	}
	return out
}
