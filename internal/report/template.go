package report

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/stackvity/filekit/internal/filesystem"
)

// Executor handles parsing and executing custom Go templates.
// This is used when a user specifies a template file via --template.
type Executor struct {
	template *template.Template
	filePath string // For error reporting.
}

// NewExecutor creates a new template executor by parsing the specified template file.
// Returns nil, nil if templateFilePath is empty, allowing the caller to fall back to a format.
func NewExecutor(templateFilePath string, fs filesystem.FileSystem) (*Executor, error) {
	if templateFilePath == "" {
		return nil, nil
	}

	templateContent, err := fs.ReadFile(templateFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file '%s': %w", templateFilePath, err)
	}

	tmpl, err := template.New(templateFilePath).Option("missingkey=error").Parse(string(templateContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse template file '%s': %w", templateFilePath, err)
	}

	return &Executor{template: tmpl, filePath: templateFilePath}, nil
}

// Execute applies the parsed template to data.
func (e *Executor) Execute(data any) (string, error) {
	var rendered bytes.Buffer
	if err := e.template.Execute(&rendered, data); err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", e.filePath, err)
	}
	return rendered.String(), nil
}
