package mock

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/zjrosen/devteam/internal/orchestration/client"
	"github.com/zjrosen/devteam/internal/orchestration/worker"
)

// Review scores before and after a remediation round.
const (
	InitialReviewScore    = 72
	RemediatedReviewScore = 88
	passScore             = 80
)

// ChangesFile is the file the mock developer adds when fixing.
const ChangesFile = "CHANGES.md"

// Answer returns the canned answer for a conversation. Prompts without a
// recognised task get a short echo.
func Answer(msgs []client.ModelMessage) (string, error) {
	var system, user string
	for _, m := range msgs {
		switch m.Role {
		case client.RoleSystem:
			system = m.Content
		case client.RoleUser:
			user = m.Content
		}
	}

	task, ok := worker.ParseTask(system)
	if !ok {
		return echo(user), nil
	}

	request := worker.ParseRequest(user)
	var v any
	switch task {
	case worker.TaskAnalyzeRequirements:
		v = requirements(request)
	case worker.TaskDesignArchitecture:
		v = architecture(request)
	case worker.TaskCreateDesignSystem:
		v = designSystem()
	case worker.TaskImplement:
		v = map[string]any{"files": implement(request)}
	case worker.TaskFix:
		v = map[string]any{"files": []worker.File{fix(user)}}
	case worker.TaskAudit:
		v = audit(request)
	case worker.TaskReview:
		v = review(user)
	default:
		return echo(user), nil
	}

	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode mock answer: %w", err)
	}
	return "```json\n" + string(body) + "\n```", nil
}

func echo(user string) string {
	if len(user) > 200 {
		user = user[:200]
	}
	return "Mock response: " + strings.TrimSpace(user)
}

var (
	leadingVerb   = regexp.MustCompile(`(?i)^(please\s+)?(build|create|make|write|develop)\s+(me\s+)?(an?\s+|the\s+)?`)
	featureJoiner = regexp.MustCompile(`(?i)\s+with\s+|\s+and\s+|,\s*`)
)

// features splits "a todo app with user authentication and dark mode" into
// its parts.
func features(request string) []string {
	rest := leadingVerb.ReplaceAllString(strings.TrimSpace(request), "")
	rest = strings.TrimSuffix(rest, ".")
	var out []string
	for _, part := range featureJoiner.Split(rest, -1) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		out = []string{"core functionality"}
	}
	return out
}

func mentionsAuth(request string) bool {
	r := strings.ToLower(request)
	return strings.Contains(r, "auth") || strings.Contains(r, "login") || strings.Contains(r, "sign in")
}

func requirements(request string) worker.Requirements {
	feats := features(request)
	req := worker.Requirements{
		Summary:     fmt.Sprintf("Deliver %s.", feats[0]),
		Features:    feats,
		Constraints: []string{"Runs locally without external services", "Responsive layout"},
	}
	for _, f := range feats {
		req.UserStories = append(req.UserStories, fmt.Sprintf("As a user, I want %s so that I can get my work done.", f))
	}
	if mentionsAuth(request) {
		req.UserStories = append(req.UserStories, "As a user, I want to sign up and log in so that my data stays private.")
	}
	return req
}

func architecture(request string) worker.Architecture {
	arch := worker.Architecture{
		Overview: "Single page client served by a small JSON API with embedded storage.",
		TechStack: worker.TechStack{
			Frontend: "HTML, CSS and vanilla JavaScript",
			Backend:  "Node.js with Express",
			Database: "SQLite",
		},
		Components: []worker.Component{
			{Name: "web client", Responsibility: "Renders views and calls the API"},
			{Name: "api server", Responsibility: "Validates input and persists records"},
		},
	}
	if mentionsAuth(request) {
		arch.TechStack.Other = []string{"bcrypt", "express-session"}
		arch.Components = append(arch.Components, worker.Component{
			Name: "auth module", Responsibility: "Registers users, hashes passwords and guards routes",
		})
	}
	return arch
}

func designSystem() worker.DesignSystem {
	return worker.DesignSystem{
		Palette: map[string]string{
			"primary":    "#2563eb",
			"secondary":  "#64748b",
			"background": "#f8fafc",
			"error":      "#dc2626",
		},
		Typography: map[string]string{
			"body":    "Inter, system-ui, sans-serif",
			"heading": "Inter, system-ui, sans-serif",
		},
		Components: []string{"button", "text input", "list item", "navigation bar"},
	}
}

func implement(request string) []worker.File {
	title := features(request)[0]
	files := []worker.File{
		{Path: "README.md", Language: "markdown", Content: fmt.Sprintf("# %s\n\nRun `npm install && npm start`, then open http://localhost:3000.\n", title)},
		{Path: "package.json", Language: "json", Content: `{
  "name": "generated-app",
  "version": "0.1.0",
  "scripts": {"start": "node server.js"},
  "dependencies": {"express": "^4.19.0", "better-sqlite3": "^9.4.0"}
}
`},
		{Path: "public/index.html", Language: "html", Content: fmt.Sprintf(`<!doctype html>
<html>
<head><title>%s</title><link rel="stylesheet" href="styles.css"></head>
<body><main id="app"></main><script src="app.js"></script></body>
</html>
`, title)},
		{Path: "public/styles.css", Language: "css", Content: "body { font-family: Inter, system-ui, sans-serif; background: #f8fafc; }\nbutton { background: #2563eb; color: #fff; }\n"},
		{Path: "public/app.js", Language: "javascript", Content: "async function load() {\n  const res = await fetch('/api/items');\n  document.getElementById('app').textContent = JSON.stringify(await res.json());\n}\nload();\n"},
		{Path: "server.js", Language: "javascript", Content: "const express = require('express');\nconst app = express();\napp.use(express.json());\napp.use(express.static('public'));\napp.get('/api/items', (req, res) => res.json([]));\napp.listen(3000);\n"},
	}
	if mentionsAuth(request) {
		files = append(files, worker.File{
			Path:     "auth.js",
			Language: "javascript",
			Content:  "const bcrypt = require('bcrypt');\nexports.hash = (pw) => bcrypt.hash(pw, 12);\nexports.verify = (pw, hash) => bcrypt.compare(pw, hash);\n",
		})
	}
	return files
}

func fix(user string) worker.File {
	round := strings.Count(user, "## Round") + 1
	return worker.File{
		Path:     ChangesFile,
		Language: "markdown",
		Content:  fmt.Sprintf("# Changes\n\n## Round %d\n- Added input validation to API endpoints\n- Added smoke tests\n", round),
	}
}

func audit(request string) worker.SecurityReport {
	report := worker.SecurityReport{Findings: []worker.Finding{{
		Severity: "medium",
		Title:    "Missing Content-Security-Policy header",
		Detail:   "Responses do not set a Content-Security-Policy.",
		File:     "server.js",
	}}}
	if mentionsAuth(request) {
		report.Findings = append(report.Findings, worker.Finding{
			Severity: "low",
			Title:    "No rate limiting on login",
			File:     "auth.js",
		})
	}
	return report
}

// review fails until the developer has added ChangesFile.
func review(user string) worker.QAReport {
	if strings.Contains(user, ChangesFile) {
		return worker.QAReport{
			Score:   RemediatedReviewScore,
			Passed:  RemediatedReviewScore >= passScore,
			Summary: "Feedback addressed; the implementation meets the requirements.",
			Issues:  []worker.Issue{{Severity: "low", Message: "Consider adding pagination", File: "server.js"}},
		}
	}
	return worker.QAReport{
		Score:   InitialReviewScore,
		Passed:  InitialReviewScore >= passScore,
		Summary: "Core flows work but input validation and tests are missing.",
		Issues: []worker.Issue{
			{Severity: "high", Message: "API endpoints accept unvalidated input", File: "server.js"},
			{Severity: "medium", Message: "No automated tests"},
		},
	}
}
