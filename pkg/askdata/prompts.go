package askdata

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/randalmurphal/askdata/pkg/prompt"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

// Prompt names. A directory passed to LoadPrompts may override any of them
// with a <name>.tmpl file.
const (
	PromptClassify = "classify"
	PromptChat     = "chat"
	PromptSQL      = "sql"
	PromptRepair   = "repair"
	PromptSummary  = "summary"
)

// requiredVariables lists the placeholders each prompt must use.
var requiredVariables = map[string][]string{
	PromptClassify: {"question", "database_label", "chat_label"},
	PromptChat:     {"question"},
	PromptSQL:      {"question", "tables", "dialect", "feedback"},
	PromptRepair:   {"sql", "error"},
	PromptSummary:  {"question", "sql", "search_result"},
}

// Prompts holds the templates the pipeline nodes format.
type Prompts struct {
	Classify *prompt.Template
	Chat     *prompt.Template
	SQL      *prompt.Template
	Repair   *prompt.Template
	Summary  *prompt.Template
}

// DefaultPrompts returns the built-in templates.
func DefaultPrompts() Prompts {
	p, err := LoadPrompts("")
	if err != nil {
		panic(err)
	}
	return p
}

// LoadPrompts returns the built-in templates with any <name>.tmpl file
// found in dir taking precedence. An empty dir loads the built-ins only.
func LoadPrompts(dir string) (Prompts, error) {
	var p Prompts
	var errs []error
	for _, item := range []struct {
		name string
		dst  **prompt.Template
	}{
		{PromptClassify, &p.Classify},
		{PromptChat, &p.Chat},
		{PromptSQL, &p.SQL},
		{PromptRepair, &p.Repair},
		{PromptSummary, &p.Summary},
	} {
		tmpl, err := loadPrompt(dir, item.name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*item.dst = tmpl
	}
	if err := errors.Join(errs...); err != nil {
		return Prompts{}, err
	}
	return p, nil
}

func loadPrompt(dir, name string) (*prompt.Template, error) {
	file := name + ".tmpl"

	var text []byte
	var err error
	if dir != "" {
		text, err = os.ReadFile(filepath.Join(dir, file))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("prompt %s: %w", name, err)
		}
	}
	if text == nil {
		if text, err = promptFS.ReadFile("prompts/" + file); err != nil {
			return nil, fmt.Errorf("prompt %s: %w", name, err)
		}
	}

	tmpl, err := prompt.New(string(text), prompt.WithName(name))
	if err != nil {
		return nil, err
	}

	vars := tmpl.Variables()
	for _, v := range requiredVariables[name] {
		if !slices.Contains(vars, v) {
			return nil, fmt.Errorf("prompt %s: missing placeholder {%s}", name, v)
		}
	}
	return tmpl, nil
}
