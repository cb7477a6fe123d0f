package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/zjrosen/devteam/internal/cachemanager"
	"github.com/zjrosen/devteam/internal/config"
	"github.com/zjrosen/devteam/internal/infrastructure/sqlite"
	"github.com/zjrosen/devteam/internal/log"
	"github.com/zjrosen/devteam/internal/orchestration/client"
	"github.com/zjrosen/devteam/internal/orchestration/events"
	"github.com/zjrosen/devteam/internal/orchestration/memory"
	"github.com/zjrosen/devteam/internal/orchestration/metrics"
	"github.com/zjrosen/devteam/internal/orchestration/orchestrator"
	"github.com/zjrosen/devteam/internal/orchestration/router"
	"github.com/zjrosen/devteam/internal/orchestration/tracing"
	"github.com/zjrosen/devteam/internal/orchestration/worker"
)

var runOpts struct {
	provider   string
	team       []string
	iterations int
	threshold  int
	outDir     string
	jsonOut    bool
	approve    bool
	saveMemory bool
}

var runCmd = &cobra.Command{
	Use:   "run <request>",
	Short: "Run the team on a natural-language request",
	Long: `Run the delivery pipeline on a request and print progress as each phase
completes. Generated files are written to --out when given.

Examples:
  devteam run "Build a todo app with user authentication"
  devteam run --provider openai --out ./todo "Build a todo app"
  devteam run --team product_manager,architect,developer,security,qa "Build a blog"
  devteam run --json "Build a chat app" | jq '.qa_report.score'`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		applyRunFlags(cmd, &cfg)
		if err := config.Validate(cfg); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var approval orchestrator.ApprovalGate
		if cfg.Orchestrator.RequireApproval {
			approval = terminalApproval(os.Stdin, cmd.ErrOrStderr())
		}

		result, o, err := runPipeline(ctx, cfg, strings.Join(args, " "), pipelineOptions{
			progress: cmd.ErrOrStderr(),
			approval: approval,
			quiet:    runOpts.jsonOut,
		})
		if err != nil {
			return err
		}
		defer o.Close()

		if runOpts.outDir != "" && result.Success {
			if err := writeFiles(runOpts.outDir, result.Files); err != nil {
				return err
			}
		}
		if runOpts.saveMemory {
			if err := saveRunMemory(ctx, cfg.Memory, o); err != nil {
				return err
			}
		}

		if runOpts.jsonOut {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return fmt.Errorf("encoding result: %w", err)
			}
		} else {
			printSummary(cmd.OutOrStdout(), result, runOpts.outDir)
		}

		if !result.Success {
			return errors.New(result.Error)
		}
		return nil
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runOpts.provider, "provider", "p", "", "primary model provider (overrides llm.provider)")
	f.StringSliceVar(&runOpts.team, "team", nil, "enabled roles (overrides orchestrator.team)")
	f.IntVar(&runOpts.iterations, "max-iterations", 0, "review attempts (overrides orchestrator.max_iterations)")
	f.IntVar(&runOpts.threshold, "threshold", 0, "passing review score (overrides orchestrator.quality_threshold)")
	f.StringVarP(&runOpts.outDir, "out", "o", "", "directory to write generated files to")
	f.BoolVar(&runOpts.jsonOut, "json", false, "print the result as JSON")
	f.BoolVar(&runOpts.approve, "approve", false, "confirm architecture and implementation on the terminal")
	f.BoolVar(&runOpts.saveMemory, "save-memory", false, "save the run's memory snapshot to memory.database_path")
	rootCmd.AddCommand(runCmd)
}

// applyRunFlags overrides config values with explicitly set flags.
func applyRunFlags(cmd *cobra.Command, c *config.Config) {
	f := cmd.Flags()
	if f.Changed("provider") {
		c.LLM.Provider = runOpts.provider
	}
	if f.Changed("team") {
		c.Orchestrator.Team = runOpts.team
	}
	if f.Changed("max-iterations") {
		c.Orchestrator.MaxIterations = runOpts.iterations
	}
	if f.Changed("threshold") {
		c.Orchestrator.QualityThreshold = runOpts.threshold
	}
	if f.Changed("approve") {
		c.Orchestrator.RequireApproval = runOpts.approve
	}
}

type pipelineOptions struct {
	progress io.Writer
	approval orchestrator.ApprovalGate
	quiet    bool
	// registry receives client metrics when set; otherwise cfg.Metrics decides.
	registry *prometheus.Registry
}

// runPipeline wires the model client, router, memory store, tracing and
// metrics from cfg and runs the orchestrator once. The returned
// orchestrator must be closed by the caller.
func runPipeline(ctx context.Context, cfg config.Config, request string, opts pipelineOptions) (*orchestrator.Result, *orchestrator.Orchestrator, error) {
	tp, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return nil, nil, fmt.Errorf("creating tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.ErrorErr(log.CatConfig, "Tracer shutdown failed", err)
		}
	}()

	reg := opts.registry
	if reg == nil && cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		stopMetrics := serveMetrics(cfg.Metrics, reg)
		defer stopMetrics()
	}
	var collectors *metrics.Collectors
	if reg != nil {
		collectors = metrics.NewCollectors(reg)
	}

	mc, err := newModelClient(cfg.LLM, tp, collectors)
	if err != nil {
		return nil, nil, err
	}

	team, err := cfg.Orchestrator.Roles()
	if err != nil {
		return nil, nil, err
	}

	o, err := orchestrator.New(orchestrator.Config{
		ProjectName:      cfg.Orchestrator.ProjectName,
		Team:             team,
		MaxIterations:    cfg.Orchestrator.MaxIterations,
		QualityThreshold: cfg.Orchestrator.QualityThreshold,
		Client:           mc,
		Router:           router.New(cfg.Router.RouterConfig()),
		Memory:           memory.New(cfg.Memory.StoreConfig()),
		Approval:         opts.approval,
		Tracer:           tp.Tracer(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating orchestrator: %w", err)
	}

	if !opts.quiet && opts.progress != nil {
		fmt.Fprintln(opts.progress, titleStyle.Render("devteam")+" "+subtleStyle.Render(
			fmt.Sprintf("provider=%s workers=%d", mc.PrimaryProvider(), len(o.Workers()))))
		o.OnProgress(func(e events.ProgressEvent) {
			fmt.Fprintln(opts.progress, formatProgress(e))
		})
	}

	result := o.Run(ctx, request)
	if cfg.Memory.PromotionThreshold > 0 {
		o.Memory().PromoteToLongTerm(cfg.Memory.PromotionThreshold)
	}
	return result, o, nil
}

// newModelClient builds the client with failover, pacing, cache, metrics and
// tracing from the llm section.
func newModelClient(llm config.LLMConfig, tp *tracing.Provider, collectors *metrics.Collectors) (*client.ModelClient, error) {
	opts := []client.Option{
		client.WithFailoverOrder(llm.FailoverOrder()...),
		client.WithCredentials(client.EnvCredentials),
		client.WithMetrics(collectors),
		client.WithTracer(tp.Tracer()),
		client.WithAttemptTimeout(llm.AttemptTimeout),
	}
	if llm.RateLimit > 0 {
		opts = append(opts, client.WithRateLimit(rate.Limit(llm.RateLimit), llm.RateBurst))
	}
	if llm.CacheTTL > 0 {
		cache := cachemanager.NewInMemoryCacheManager[string, client.ModelResponse]("llm-responses", llm.CacheTTL, 2*llm.CacheTTL)
		opts = append(opts, client.WithResponseCache(cache, llm.CacheTTL))
	}

	mc, err := client.New(llm.ModelConfig(), opts...)
	if err != nil {
		return nil, fmt.Errorf("creating model client: %w", err)
	}
	return mc, nil
}

// serveMetrics exposes reg over HTTP until the returned stop function runs.
func serveMetrics(m config.MetricsConfig, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle(m.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: m.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.ErrorErr(log.CatConfig, "Metrics server failed", err, "addr", m.Addr)
		}
	}()
	log.Info(log.CatConfig, "Serving metrics", "addr", m.Addr, "path", m.Path)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// terminalApproval asks y/N on out and reads the answer from in.
func terminalApproval(in io.Reader, out io.Writer) orchestrator.ApprovalGate {
	reader := bufio.NewReader(in)
	return orchestrator.ApprovalFunc(func(ctx context.Context, req orchestrator.ApprovalRequest) (orchestrator.Decision, error) {
		fmt.Fprintf(out, "\n%s %s\n", titleStyle.Render("Approve "+string(req.Phase)+"?"), subtleStyle.Render(req.Summary))
		fmt.Fprint(out, "[y/N] feedback: ")
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return orchestrator.Decision{}, err
		}
		line = strings.TrimSpace(line)
		answer, feedback, _ := strings.Cut(line, " ")
		switch strings.ToLower(answer) {
		case "y", "yes":
			return orchestrator.Decision{Approved: true, Feedback: strings.TrimSpace(feedback)}, nil
		default:
			return orchestrator.Decision{Feedback: strings.TrimSpace(feedback)}, nil
		}
	})
}

// writeFiles writes files under dir. Paths escaping dir are rejected.
func writeFiles(dir string, files []worker.File) error {
	root, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolving output directory: %w", err)
	}
	for _, f := range files {
		target := filepath.Join(root, filepath.FromSlash(f.Path))
		if rel, err := filepath.Rel(root, target); err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			return fmt.Errorf("refusing to write %q outside %s", f.Path, dir)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
			return fmt.Errorf("creating directory for %s: %w", f.Path, err)
		}
		if err := os.WriteFile(target, []byte(f.Content), 0o600); err != nil {
			return fmt.Errorf("writing %s: %w", f.Path, err)
		}
	}
	log.Info(log.CatOrch, "Wrote project files", "dir", root, "count", len(files))
	return nil
}

// saveRunMemory stores the orchestrator's memory in the snapshot database.
func saveRunMemory(ctx context.Context, m config.MemoryConfig, o *orchestrator.Orchestrator) error {
	db, err := sqlite.NewDB(m.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	label := o.Config().ProjectName
	id, err := db.Snapshots().Save(ctx, o.ProjectID(), label, o.Memory().Export())
	if err != nil {
		return fmt.Errorf("saving memory snapshot: %w", err)
	}
	log.Info(log.CatDB, "Saved run memory", "snapshot", id, "project", o.ProjectID())
	return nil
}

func printSummary(w io.Writer, r *orchestrator.Result, outDir string) {
	fmt.Fprintln(w)
	if !r.Success {
		fmt.Fprintln(w, errorStyle.Render("Run failed: ")+r.Error)
		return
	}
	fmt.Fprintln(w, successStyle.Render("Run complete")+subtleStyle.Render(
		fmt.Sprintf(" in %s, %d review(s)", r.Duration.Round(time.Millisecond), r.Iterations)))
	if r.QAReport != nil {
		fmt.Fprintf(w, "Score: %d  %s\n", r.QAReport.Score, r.QAReport.Summary)
	}
	fmt.Fprintf(w, "Tokens: %s\n", r.Metrics.FormatTokenDisplay())
	fmt.Fprintln(w, headerStyle.Render("Files"))
	for _, f := range r.Files {
		fmt.Fprintf(w, "  %s %s\n", f.Path, subtleStyle.Render(fmt.Sprintf("(%d bytes)", len(f.Content))))
	}
	if outDir != "" {
		fmt.Fprintf(w, "Written to %s\n", outDir)
	}
}
