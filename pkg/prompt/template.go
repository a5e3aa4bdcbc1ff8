package prompt

import (
	"fmt"
	"maps"
	"strings"
)

// Template is a parsed prompt with {name} placeholders.
type Template struct {
	name     string
	text     string
	segments []segment
	vars     []string
	partials map[string]any
	missing  MissingAction
}

// segment is either literal text or a placeholder.
type segment struct {
	literal  string
	variable string
}

// New parses text into a Template.
// It returns *SyntaxError for an unmatched brace or an empty or invalid
// placeholder name.
func New(text string, opts ...Option) (*Template, error) {
	t := &Template{text: text}
	for _, opt := range opts {
		opt(t)
	}

	segments, err := parse(text)
	if err != nil {
		if se, ok := err.(*SyntaxError); ok {
			se.Template = t.name
		}
		return nil, err
	}
	t.segments = segments

	seen := make(map[string]bool)
	for _, seg := range segments {
		if seg.variable != "" && !seen[seg.variable] {
			seen[seg.variable] = true
			t.vars = append(t.vars, seg.variable)
		}
	}
	return t, nil
}

// MustNew is like New but panics on a syntax error.
// Use it for templates compiled into the binary.
func MustNew(text string, opts ...Option) *Template {
	t, err := New(text, opts...)
	if err != nil {
		panic(fmt.Sprintf("prompt: %v", err))
	}
	return t
}

func parse(text string) ([]segment, error) {
	var segments []segment
	var lit strings.Builder

	flush := func() {
		if lit.Len() > 0 {
			segments = append(segments, segment{literal: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		switch c {
		case '{':
			if i+1 < len(text) && text[i+1] == '{' {
				lit.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(text[i+1:], '}')
			if end < 0 {
				return nil, &SyntaxError{Pos: i, Msg: "unclosed '{'"}
			}
			name := strings.TrimSpace(text[i+1 : i+1+end])
			if !isIdentifier(name) {
				return nil, &SyntaxError{Pos: i, Msg: fmt.Sprintf("invalid placeholder %q", name)}
			}
			flush()
			segments = append(segments, segment{variable: name})
			i += end + 1
		case '}':
			if i+1 < len(text) && text[i+1] == '}' {
				lit.WriteByte('}')
				i++
				continue
			}
			return nil, &SyntaxError{Pos: i, Msg: "single '}' must be escaped as '}}'"}
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return segments, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// Name returns the name set with WithName.
func (t *Template) Name() string {
	return t.name
}

// Text returns the unparsed template text.
func (t *Template) Text() string {
	return t.text
}

// Variables returns every placeholder name in order of first appearance,
// including those bound as partials.
func (t *Template) Variables() []string {
	out := make([]string, len(t.vars))
	copy(out, t.vars)
	return out
}

// InputVariables returns the placeholders Format still needs values for.
func (t *Template) InputVariables() []string {
	out := make([]string, 0, len(t.vars))
	for _, v := range t.vars {
		if _, bound := t.partials[v]; !bound {
			out = append(out, v)
		}
	}
	return out
}

// WithPartial returns a copy of the template with name bound to value.
// Values passed to Format take precedence over partials.
func (t *Template) WithPartial(name string, value any) *Template {
	cp := *t
	cp.partials = make(map[string]any, len(t.partials)+1)
	maps.Copy(cp.partials, t.partials)
	cp.partials[name] = value
	return &cp
}

// Format substitutes values into the template.
// Values are rendered with fmt's %v verb.
func (t *Template) Format(values map[string]any) (string, error) {
	var b strings.Builder
	b.Grow(len(t.text))

	var missing []string
	for _, seg := range t.segments {
		if seg.variable == "" {
			b.WriteString(seg.literal)
			continue
		}

		val, ok := values[seg.variable]
		if !ok {
			val, ok = t.partials[seg.variable]
		}
		if ok {
			fmt.Fprint(&b, val)
			continue
		}

		switch t.missing {
		case MissingKeep:
			b.WriteString("{" + seg.variable + "}")
		case MissingEmpty:
		default:
			missing = appendUnique(missing, seg.variable)
		}
	}

	if len(missing) > 0 {
		return "", &UndefinedVariableError{Template: t.name, Names: missing}
	}
	return b.String(), nil
}

// MustFormat is like Format but panics on error.
func (t *Template) MustFormat(values map[string]any) string {
	s, err := t.Format(values)
	if err != nil {
		panic(fmt.Sprintf("prompt: %v", err))
	}
	return s
}

// String returns the unparsed template text.
func (t *Template) String() string {
	return t.text
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

// UndefinedVariableError is returned by Format when placeholders have no
// value and the template uses MissingError.
type UndefinedVariableError struct {
	// Template is the template name, if it has one.
	Template string
	// Names lists the undefined variables in order of appearance.
	Names []string
}

// Error implements the error interface.
func (e *UndefinedVariableError) Error() string {
	prefix := ""
	if e.Template != "" {
		prefix = e.Template + ": "
	}
	if len(e.Names) == 1 {
		return fmt.Sprintf("%sundefined variable: %s", prefix, e.Names[0])
	}
	return fmt.Sprintf("%sundefined variables: %s", prefix, strings.Join(e.Names, ", "))
}

// SyntaxError reports a malformed template.
type SyntaxError struct {
	Template string
	// Pos is the byte offset of the offending brace.
	Pos int
	Msg string
}

// Error implements the error interface.
func (e *SyntaxError) Error() string {
	if e.Template != "" {
		return fmt.Sprintf("%s: template syntax error at offset %d: %s", e.Template, e.Pos, e.Msg)
	}
	return fmt.Sprintf("template syntax error at offset %d: %s", e.Pos, e.Msg)
}
