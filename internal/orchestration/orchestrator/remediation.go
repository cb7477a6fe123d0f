package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/zjrosen/devteam/internal/orchestration/worker"
)

// Remediator revises files in response to a failed review.
type Remediator interface {
	Remediate(ctx context.Context, files []worker.File, report *worker.QAReport) ([]worker.File, error)
}

// RemediatorFunc adapts a function to Remediator.
type RemediatorFunc func(ctx context.Context, files []worker.File, report *worker.QAReport) ([]worker.File, error)

// Remediate calls f.
func (f RemediatorFunc) Remediate(ctx context.Context, files []worker.File, report *worker.QAReport) ([]worker.File, error) {
	return f(ctx, files, report)
}

// DeveloperRemediator hands the review to the developer's Fix.
type DeveloperRemediator struct {
	Developer worker.Developer
}

// Remediate implements Remediator.
func (r DeveloperRemediator) Remediate(ctx context.Context, files []worker.File, report *worker.QAReport) ([]worker.File, error) {
	return r.Developer.Fix(ctx, files, report)
}

// ChangeSummary describes how after differs from before, per file, as line
// counts (e.g. "2 files changed: CHANGES.md (new, +4), server.js (+2 -1)").
func ChangeSummary(before, after []worker.File) string {
	old := make(map[string]string, len(before))
	for _, f := range before {
		old[f.Path] = f.Content
	}

	dmp := diffmatchpatch.New()
	var changes []string
	seen := make(map[string]bool, len(after))
	for _, f := range after {
		seen[f.Path] = true
		prev, existed := old[f.Path]
		if existed && prev == f.Content {
			continue
		}
		added, removed := lineDelta(dmp, prev, f.Content)
		switch {
		case !existed:
			changes = append(changes, fmt.Sprintf("%s (new, +%d)", f.Path, added))
		default:
			changes = append(changes, fmt.Sprintf("%s (+%d -%d)", f.Path, added, removed))
		}
	}
	for _, f := range before {
		if !seen[f.Path] {
			changes = append(changes, fmt.Sprintf("%s (deleted)", f.Path))
		}
	}

	if len(changes) == 0 {
		return "no changes"
	}
	slices.Sort(changes)
	noun := "files"
	if len(changes) == 1 {
		noun = "file"
	}
	return fmt.Sprintf("%d %s changed: %s", len(changes), noun, strings.Join(changes, ", "))
}

// lineDelta counts inserted and deleted lines between a and b.
func lineDelta(dmp *diffmatchpatch.DiffMatchPatch, a, b string) (added, removed int) {
	ca, cb, lines := dmp.DiffLinesToChars(a, b)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(ca, cb, false), lines)
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			removed += countLines(d.Text)
		}
	}
	return added, removed
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
