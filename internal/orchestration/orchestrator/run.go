package orchestrator

import (
	"context"
	"fmt"
	"reflect"
	"runtime/debug"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/devteam/internal/log"
	"github.com/zjrosen/devteam/internal/orchestration/events"
	"github.com/zjrosen/devteam/internal/orchestration/memory"
	"github.com/zjrosen/devteam/internal/orchestration/message"
	"github.com/zjrosen/devteam/internal/orchestration/metrics"
	"github.com/zjrosen/devteam/internal/orchestration/tracing"
	"github.com/zjrosen/devteam/internal/orchestration/worker"
)

// Memory type under which phase outputs are stored.
const phaseMemoryType = "phase"

// Result is the outcome of a run. A failed phase is reported through
// Success and Error, never as a returned error.
type Result struct {
	ProjectID  string               `json:"project_id"`
	Success    bool                 `json:"success"`
	Files      []worker.File        `json:"files"`
	QAReport   *worker.QAReport     `json:"qa_report,omitempty"`
	Duration   time.Duration        `json:"duration"`
	Iterations int                  `json:"iterations"`
	Events     []events.WorkerEvent `json:"events"`
	Metrics    metrics.TokenMetrics `json:"metrics"`
	Error      string               `json:"error,omitempty"`
}

// phaseSpec describes one pipeline step: a single worker operation and how
// its output lands in the project context.
type phaseSpec[T any] struct {
	phase     events.Phase
	worker    worker.Worker
	memoryKey string
	run       func(context.Context) (T, error)
	apply     func(*worker.ProjectContext, T)
	describe  func(T) (msg, thought string)
}

// Run drives the team from request to a reviewed set of files.
func (o *Orchestrator) Run(ctx context.Context, request string) *Result {
	if !o.running.CompareAndSwap(false, true) {
		return &Result{ProjectID: o.cfg.ProjectID, Files: []worker.File{}, Error: ErrAlreadyRunning.Error()}
	}
	defer o.running.Store(false)

	start := time.Now()
	ctx, span := tracing.StartRun(ctx, o.cfg.Tracer, o.cfg.ProjectID, request)

	o.begin(request)
	o.emitProgress(events.PhaseStarting, message.ActorOrchestrator, "🚀",
		fmt.Sprintf("Starting %s with %d workers", o.cfg.ProjectName, len(o.workers)), "")
	log.Info(log.CatOrch, "Run started", "project", o.cfg.ProjectID, "workers", len(o.workers))

	files, report, iterations, err := o.pipeline(ctx, request)

	result := &Result{
		ProjectID:  o.cfg.ProjectID,
		Iterations: iterations,
		Duration:   time.Since(start),
		Events:     o.EventLog(),
		Metrics:    o.tracker.Snapshot(),
	}

	if err != nil {
		log.ErrorErr(log.CatOrch, "Run failed", err, "project", o.cfg.ProjectID, "phase", o.Phase())
		o.finish(events.PhaseError, events.StatusFailed)
		o.emitProgress(events.PhaseError, message.ActorOrchestrator, "❌", err.Error(), "")
		result.Files = []worker.File{}
		result.Error = err.Error()
		span.SetAttributes(attribute.Bool(tracing.AttrSuccess, false))
		tracing.End(span, err)
		return result
	}

	o.finish(events.PhaseComplete, events.StatusComplete)
	o.emitProgress(events.PhaseComplete, message.ActorOrchestrator, "✅",
		fmt.Sprintf("Project complete: %d files, score %d after %d review(s)", len(files), report.Score, iterations), "")
	log.Info(log.CatOrch, "Run complete",
		"project", o.cfg.ProjectID,
		"files", len(files),
		"score", report.Score,
		"iterations", iterations,
		"duration", result.Duration)

	result.Success = true
	result.Files = files
	result.QAReport = report
	span.SetAttributes(
		attribute.Bool(tracing.AttrSuccess, true),
		attribute.Int(tracing.AttrIteration, iterations),
	)
	tracing.End(span, nil)
	return result
}

// pipeline runs every phase in order. It returns the final files, the last
// QA report and the number of reviews performed.
func (o *Orchestrator) pipeline(ctx context.Context, request string) ([]worker.File, *worker.QAReport, int, error) {
	req, err := runPhase(ctx, o, phaseSpec[*worker.Requirements]{
		phase:     events.PhaseRequirements,
		worker:    o.analyst,
		memoryKey: "requirements",
		run: func(ctx context.Context) (*worker.Requirements, error) {
			return o.analyst.AnalyzeRequirements(ctx, request)
		},
		apply: func(p *worker.ProjectContext, r *worker.Requirements) { p.Requirements = r },
		describe: func(r *worker.Requirements) (string, string) {
			return fmt.Sprintf("Requirements analyzed: %d features, %d user stories", len(r.Features), len(r.UserStories)), r.Summary
		},
	})
	if err != nil {
		return nil, nil, 0, err
	}

	if err := o.approve(ctx, events.PhaseArchitecture, req.Summary); err != nil {
		return nil, nil, 0, err
	}
	arch, err := runPhase(ctx, o, phaseSpec[*worker.Architecture]{
		phase:     events.PhaseArchitecture,
		worker:    o.architect,
		memoryKey: "architecture",
		run: func(ctx context.Context) (*worker.Architecture, error) {
			return o.architect.DesignArchitecture(ctx, req)
		},
		apply: func(p *worker.ProjectContext, a *worker.Architecture) {
			stack := a.TechStack
			p.TechStack = &stack
		},
		describe: func(a *worker.Architecture) (string, string) {
			return fmt.Sprintf("Architecture designed: %d components", len(a.Components)), a.Overview
		},
	})
	if err != nil {
		return nil, nil, 0, err
	}

	var design *worker.DesignSystem
	if o.designer != nil {
		design, err = runPhase(ctx, o, phaseSpec[*worker.DesignSystem]{
			phase:     events.PhaseDesign,
			worker:    o.designer,
			memoryKey: "design",
			run: func(ctx context.Context) (*worker.DesignSystem, error) {
				return o.designer.CreateDesignSystem(ctx, req, arch)
			},
			describe: func(d *worker.DesignSystem) (string, string) {
				return fmt.Sprintf("Design system created: %d components", len(d.Components)), ""
			},
		})
		if err != nil {
			return nil, nil, 0, err
		}
	}

	if err := o.approve(ctx, events.PhaseImplementation, arch.Overview); err != nil {
		return nil, nil, 0, err
	}
	files, err := runPhase(ctx, o, phaseSpec[[]worker.File]{
		phase:     events.PhaseImplementation,
		worker:    o.developer,
		memoryKey: "files",
		run: func(ctx context.Context) ([]worker.File, error) {
			return o.developer.Implement(ctx, worker.ImplementationInput{
				Request:      request,
				Requirements: req,
				Architecture: arch,
				Design:       design,
			})
		},
		apply: func(p *worker.ProjectContext, f []worker.File) { p.Files = f },
		describe: func(f []worker.File) (string, string) {
			return fmt.Sprintf("Implementation complete: %d files", len(f)), ""
		},
	})
	if err != nil {
		return nil, nil, 0, err
	}

	var findings []worker.Finding
	if o.security != nil {
		audit, err := runPhase(ctx, o, phaseSpec[*worker.SecurityReport]{
			phase:     events.PhaseSecurity,
			worker:    o.security,
			memoryKey: "security",
			run: func(ctx context.Context) (*worker.SecurityReport, error) {
				return o.security.Audit(ctx, files)
			},
			describe: func(s *worker.SecurityReport) (string, string) {
				return fmt.Sprintf("Security audit complete: %d findings", len(s.Findings)), ""
			},
		})
		if err != nil {
			return nil, nil, 0, err
		}
		findings = audit.Findings
	}

	return o.reviewLoop(ctx, req, files, findings)
}

// reviewLoop reviews files until the gate passes or MaxIterations reviews
// have run, remediating between reviews. Failing the gate is not an error.
func (o *Orchestrator) reviewLoop(ctx context.Context, req *worker.Requirements, files []worker.File, findings []worker.Finding) ([]worker.File, *worker.QAReport, int, error) {
	var (
		report     *worker.QAReport
		iterations int
		err        error
	)
	for {
		iterations++
		report, err = runPhase(ctx, o, phaseSpec[*worker.QAReport]{
			phase:     events.PhaseReview,
			worker:    o.reviewer,
			memoryKey: "qa_report",
			run: func(ctx context.Context) (*worker.QAReport, error) {
				r, err := o.reviewer.Review(ctx, files, req)
				if err != nil {
					return nil, err
				}
				r.Security = append(slices.Clone(r.Security), findings...)
				return r, nil
			},
			describe: func(r *worker.QAReport) (string, string) {
				verdict := "failed"
				if o.passes(r) {
					verdict = "passed"
				}
				return fmt.Sprintf("Review %d/%d %s: score %d (threshold %d)",
					iterations, o.cfg.MaxIterations, verdict, r.Score, o.cfg.QualityThreshold), r.Summary
			},
		})
		if err != nil {
			return nil, nil, iterations, err
		}
		if o.passes(report) || iterations >= o.cfg.MaxIterations {
			if !o.passes(report) {
				log.Warn(log.CatOrch, "Quality gate not met",
					"score", report.Score, "threshold", o.cfg.QualityThreshold, "iterations", iterations)
			}
			return files, report, iterations, nil
		}

		before := files
		files, err = runPhase(ctx, o, phaseSpec[[]worker.File]{
			phase:     events.PhaseFixing,
			worker:    o.developer,
			memoryKey: "files",
			run: func(ctx context.Context) ([]worker.File, error) {
				return o.remediator.Remediate(ctx, files, report)
			},
			apply: func(p *worker.ProjectContext, f []worker.File) { p.Files = f },
			describe: func(f []worker.File) (string, string) {
				return fmt.Sprintf("Remediation %d: addressing %d issues", iterations, len(report.Issues)), ChangeSummary(before, f)
			},
		})
		if err != nil {
			return nil, nil, iterations, err
		}
	}
}

func (o *Orchestrator) passes(r *worker.QAReport) bool {
	return r.Passed || r.Score >= o.cfg.QualityThreshold
}

// runPhase executes one phase: a single worker operation, its memory entry,
// the project context update, a router announcement and a progress event.
func runPhase[T any](ctx context.Context, o *Orchestrator, step phaseSpec[T]) (T, error) {
	var zero T
	o.setPhase(step.phase)
	o.shareProject()

	ctx, span := tracing.StartPhase(ctx, o.cfg.Tracer, string(step.phase), step.worker.ID())
	log.Debug(log.CatOrch, "Phase started", "phase", step.phase, "participant", step.worker.ID())

	out, err := recoverCall(func() (T, error) { return step.run(ctx) })
	if err == nil && isNilPointer(out) {
		err = fmt.Errorf("%s returned no output", step.worker.ID())
	}
	if err != nil {
		err = fmt.Errorf("%s phase: %w", step.phase, err)
		tracing.End(span, err)
		return zero, err
	}

	if _, err := o.memory.Store(phaseMemoryType, step.memoryKey, out, memory.StoreOptions{
		Metadata: map[string]any{"participant": step.worker.ID(), "project": o.cfg.ProjectID},
	}); err != nil {
		err = fmt.Errorf("%s phase: storing %s: %w", step.phase, step.memoryKey, err)
		tracing.End(span, err)
		return zero, err
	}

	if step.apply != nil {
		o.mu.Lock()
		step.apply(&o.project, out)
		o.project.UpdatedAt = time.Now()
		o.mu.Unlock()
	}

	o.broadcastPhase(step.phase, step.worker.ID())
	msg, thought := step.describe(out)
	o.emitProgress(step.phase, step.worker.ID(), step.worker.Icon(), msg, thought)
	tracing.End(span, nil)
	return out, nil
}

// recoverCall runs fn and converts a panic into an error wrapping
// ErrPanic, so a misbehaving worker or gate fails its phase instead of the
// caller.
func recoverCall[T any](fn func() (T, error)) (out T, err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Error(log.CatOrch, "Recovered panic", "panic", p, "stack", string(debug.Stack()))
			var zero T
			out, err = zero, fmt.Errorf("%w: %v", ErrPanic, p)
		}
	}()
	return fn()
}

// approve consults the approval gate before phase, when one is configured.
func (o *Orchestrator) approve(ctx context.Context, phase events.Phase, summary string) error {
	if o.cfg.Approval == nil {
		return nil
	}
	o.setPhase(phase)
	_, err := recoverCall(func() (struct{}, error) {
		return struct{}{}, RequireApproval(ctx, o.cfg.Approval, ApprovalRequest{
			ProjectID: o.cfg.ProjectID,
			Phase:     phase,
			Summary:   summary,
		})
	})
	if err != nil {
		return fmt.Errorf("%s phase: %w", phase, err)
	}
	return nil
}

// begin initializes the project context for a new run.
func (o *Orchestrator) begin(request string) {
	now := time.Now()
	o.tracker.Reset()

	o.mu.Lock()
	o.log = nil
	o.phase = events.PhaseStarting
	o.project = worker.ProjectContext{
		ID:          o.cfg.ProjectID,
		Name:        o.cfg.ProjectName,
		Description: request,
		Status:      events.StatusRunning,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	o.mu.Unlock()

	o.memory.SetContext("project_id", o.cfg.ProjectID)
	o.memory.SetContext("project_name", o.cfg.ProjectName)
	o.memory.SetContext("request", request)
	o.shareProject()
}

// finish records the terminal phase and status.
func (o *Orchestrator) finish(phase events.Phase, status events.RunStatus) {
	o.mu.Lock()
	o.phase = phase
	o.project.Status = status
	o.project.UpdatedAt = time.Now()
	o.mu.Unlock()
	o.shareProject()
}

func (o *Orchestrator) setPhase(phase events.Phase) {
	o.mu.Lock()
	o.phase = phase
	o.mu.Unlock()
}

// shareProject hands every worker a copy of the project context.
func (o *Orchestrator) shareProject() {
	project := o.Project()
	for _, w := range o.workers {
		w.SetProjectContext(project)
	}
}

func isNilPointer(v any) bool {
	rv := reflect.ValueOf(v)
	return !rv.IsValid() || (rv.Kind() == reflect.Pointer && rv.IsNil())
}
