// Package templates embeds the worker prompt templates.
package templates

import (
	"embed"
	"io/fs"
	"text/template"
)

// Prompt template names.
const (
	SystemPrompt = "system.tmpl"
	UserPrompt   = "user.tmpl"
)

//go:embed prompts
var prompts embed.FS

// PromptFS returns the embedded prompts directory.
func PromptFS() fs.FS {
	sub, err := fs.Sub(prompts, "prompts")
	if err != nil {
		panic(err) // embedded directory always exists
	}
	return sub
}

// Prompts parses every embedded prompt template.
func Prompts() (*template.Template, error) {
	return template.ParseFS(PromptFS(), "*.tmpl")
}
