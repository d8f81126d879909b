// Package prompt renders the pipeline's LLM prompts from ${name} templates.
//
// Placeholders are expanded in a single pass over the template text, so a
// value that itself contains "${...}" (a column comment, a user question)
// is inserted literally and never expanded again.
//
//	t := prompt.MustParse("classify", "User question: ${question}")
//	text, err := t.Render(prompt.Vars{"question": q})
//
// Rendering fails with *UndefinedVariableError when a placeholder has no
// value, so a prompt never reaches the model with a hole in it.
package prompt

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// placeholder matches ${name}; names are identifiers.
var placeholder = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Vars maps placeholder names to values.
type Vars map[string]string

// Template is a parsed prompt. It is immutable and safe for concurrent use.
type Template struct {
	name   string
	text   string
	fields []string
}

// Parse creates a template. An empty text is an error.
func Parse(name, text string) (*Template, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("prompt %s: empty template", name)
	}
	seen := make(map[string]bool)
	var fields []string
	for _, m := range placeholder.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			fields = append(fields, m[1])
		}
	}
	sort.Strings(fields)
	return &Template{name: name, text: text, fields: fields}, nil
}

// MustParse is Parse that panics on error, for package-level prompts.
func MustParse(name, text string) *Template {
	t, err := Parse(name, text)
	if err != nil {
		panic(err)
	}
	return t
}

// Name returns the template name.
func (t *Template) Name() string { return t.name }

// Fields returns the sorted placeholder names the template uses.
func (t *Template) Fields() []string {
	return append([]string(nil), t.fields...)
}

// Render expands every placeholder with vars. Extra vars are ignored.
func (t *Template) Render(vars Vars) (string, error) {
	var missing []string
	out := placeholder.ReplaceAllStringFunc(t.text, func(match string) string {
		name := match[2 : len(match)-1]
		if v, ok := vars[name]; ok {
			return v
		}
		missing = append(missing, name)
		return match
	})
	if len(missing) > 0 {
		return "", &UndefinedVariableError{Template: t.name, Names: missing}
	}
	return out, nil
}

// MustRender is Render that panics on error. Use it only where the caller
// always supplies every field.
func (t *Template) MustRender(vars Vars) string {
	out, err := t.Render(vars)
	if err != nil {
		panic(err)
	}
	return out
}

// UndefinedVariableError is returned when a placeholder has no value.
type UndefinedVariableError struct {
	Template string
	Names    []string
}

// Error implements the error interface.
func (e *UndefinedVariableError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("prompt %s: undefined variable: %s", e.Template, e.Names[0])
	}
	return fmt.Sprintf("prompt %s: undefined variables: %s", e.Template, strings.Join(e.Names, ", "))
}
