package worker

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/zjrosen/devteam/internal/orchestration/client"
	"github.com/zjrosen/devteam/internal/orchestration/message"
	"github.com/zjrosen/devteam/internal/templates"
)

// Task names the operation a prompt asks for. It appears on the "Task:" line
// of every system prompt.
type Task string

const (
	TaskAnalyzeRequirements Task = "analyze_requirements"
	TaskDesignArchitecture  Task = "design_architecture"
	TaskCreateDesignSystem  Task = "create_design_system"
	TaskImplement           Task = "implement"
	TaskFix                 Task = "fix"
	TaskAudit               Task = "audit"
	TaskReview              Task = "review"
)

// Prompt line prefixes. The mock provider reads them back.
const (
	TaskPrefix    = "Task: "
	RequestPrefix = "Project request: "
)

// ErrNoJSON is returned when a model response contains no JSON object.
var ErrNoJSON = errors.New("response contains no JSON object")

var schemas = map[Task]string{
	TaskAnalyzeRequirements: `{"summary": "...", "user_stories": ["As a ..."], "features": ["..."], "constraints": ["..."]}`,
	TaskDesignArchitecture:  `{"overview": "...", "tech_stack": {"frontend": "...", "backend": "...", "database": "...", "other": ["..."]}, "components": [{"name": "...", "responsibility": "..."}]}`,
	TaskCreateDesignSystem:  `{"palette": {"primary": "#..."}, "typography": {"body": "..."}, "components": ["..."]}`,
	TaskImplement:           `{"files": [{"path": "...", "language": "...", "content": "..."}]}`,
	TaskFix:                 `{"files": [{"path": "...", "language": "...", "content": "..."}]}  (only files you changed or added)`,
	TaskAudit:               `{"findings": [{"severity": "low|medium|high|critical", "title": "...", "detail": "...", "file": "..."}]}`,
	TaskReview:              `{"score": 0-100, "passed": true|false, "summary": "...", "issues": [{"severity": "...", "message": "...", "file": "..."}]}`,
}

type systemData struct {
	Title  string
	Task   Task
	Schema string
}

// section is one titled input block of a user prompt.
type section struct {
	Title string
	Body  string
}

type userData struct {
	Request  string
	Sections []section
	Messages []string
}

var prompts = template.Must(templates.Prompts())

// buildMessages renders the conversation for task.
func buildMessages(role Role, task Task, request string, sections []section, inbox []message.Message) ([]client.ModelMessage, error) {
	var sys bytes.Buffer
	if err := prompts.ExecuteTemplate(&sys, templates.SystemPrompt, systemData{Title: role.Title(), Task: task, Schema: schemas[task]}); err != nil {
		return nil, fmt.Errorf("render system prompt: %w", err)
	}

	data := userData{Request: request, Sections: sections}
	for _, m := range inbox {
		data.Messages = append(data.Messages, fmt.Sprintf("%s (%s): %v", m.From, m.Type, m.Payload))
	}
	var user bytes.Buffer
	if err := prompts.ExecuteTemplate(&user, templates.UserPrompt, data); err != nil {
		return nil, fmt.Errorf("render user prompt: %w", err)
	}

	return []client.ModelMessage{
		{Role: client.RoleSystem, Content: sys.String()},
		{Role: client.RoleUser, Content: user.String()},
	}, nil
}

// jsonSection renders v as an indented JSON block.
func jsonSection(title string, v any) section {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		body = []byte(fmt.Sprintf("%v", v))
	}
	return section{Title: title, Body: "```json\n" + string(body) + "\n```"}
}

// ParseTask returns the task named on the "Task:" line of a system prompt.
func ParseTask(system string) (Task, bool) {
	for _, line := range strings.Split(system, "\n") {
		if rest, ok := strings.CutPrefix(line, TaskPrefix); ok {
			return Task(strings.TrimSpace(rest)), true
		}
	}
	return "", false
}

// ParseRequest returns the project request line of a user prompt.
func ParseRequest(user string) string {
	for _, line := range strings.Split(user, "\n") {
		if rest, ok := strings.CutPrefix(line, RequestPrefix); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}

// DecodeResponse unmarshals the JSON object in content into out. Markdown
// fences and surrounding prose are ignored.
func DecodeResponse(content string, out any) error {
	raw, ok := extractJSON(content)
	if !ok {
		return ErrNoJSON
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode model response: %w", err)
	}
	return nil
}

// extractJSON returns the outermost {...} span of s, preferring a fenced
// ```json block when present.
func extractJSON(s string) (string, bool) {
	if _, rest, ok := strings.Cut(s, "```json"); ok {
		if block, _, ok := strings.Cut(rest, "```"); ok {
			s = block
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return "", false
	}
	return s[start : end+1], true
}
