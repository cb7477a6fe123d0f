package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zjrosen/devteam/internal/config"
	"github.com/zjrosen/devteam/internal/log"
	"github.com/zjrosen/devteam/internal/watcher"
)

var watchOpts struct {
	outDir string
}

var watchCmd = &cobra.Command{
	Use:   "watch <request-file>",
	Short: "Re-run the team whenever a request file changes",
	Long: `Run the pipeline on the contents of a request file, then run it again
each time the file is saved. Stop with Ctrl+C.

Example:
  devteam watch --out ./todo request.md`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		w, err := watcher.New(watcher.Config{Path: args[0]})
		if err != nil {
			return err
		}
		changes, err := w.Watch(ctx)
		if err != nil {
			return err
		}
		return watchRequests(ctx, cfg, args[0], watchOpts.outDir, changes, cmd.ErrOrStderr())
	},
}

func init() {
	watchCmd.Flags().StringVarP(&watchOpts.outDir, "out", "o", "", "directory to write generated files to")
	rootCmd.AddCommand(watchCmd)
}

// watchRequests runs the pipeline once on path, then once per value on
// changes, until changes closes. Failed runs are reported and watching
// continues.
func watchRequests(ctx context.Context, c config.Config, path, outDir string, changes <-chan struct{}, out io.Writer) error {
	runOnce := func() {
		data, err := os.ReadFile(path) //nolint:gosec // G304: user-supplied request file
		if err != nil {
			fmt.Fprintln(out, errorStyle.Render("Reading request: ")+err.Error())
			return
		}
		request := strings.TrimSpace(string(data))
		if request == "" {
			fmt.Fprintln(out, subtleStyle.Render("Request file is empty, waiting for changes"))
			return
		}

		result, o, err := runPipeline(ctx, c, request, pipelineOptions{progress: out})
		if err != nil {
			fmt.Fprintln(out, errorStyle.Render("Run failed: ")+err.Error())
			return
		}
		defer o.Close()
		if outDir != "" && result.Success {
			if err := writeFiles(outDir, result.Files); err != nil {
				fmt.Fprintln(out, errorStyle.Render("Writing files: ")+err.Error())
			}
		}
		printSummary(out, result, outDir)
	}

	runOnce()
	for range changes {
		if ctx.Err() != nil {
			break
		}
		log.Info(log.CatWatch, "Request changed, re-running", "path", path)
		fmt.Fprintln(out, subtleStyle.Render("\n"+path+" changed, re-running"))
		runOnce()
	}
	return nil
}
