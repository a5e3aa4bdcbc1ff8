package prompt

// MissingAction specifies how Format handles a placeholder with no value.
type MissingAction int

const (
	// MissingError makes Format return *UndefinedVariableError.
	// This is the default.
	MissingError MissingAction = iota

	// MissingKeep leaves the placeholder in the output, braces included.
	MissingKeep

	// MissingEmpty replaces the placeholder with an empty string.
	MissingEmpty
)

// String returns the action name.
func (a MissingAction) String() string {
	switch a {
	case MissingError:
		return "error"
	case MissingKeep:
		return "keep"
	case MissingEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// Option configures a Template.
type Option func(*Template)

// WithMissingAction sets how missing variables are handled.
//
// Default: MissingError
//
// Example:
//
//	tmpl := prompt.MustNew("{a} and {b}", prompt.WithMissingAction(prompt.MissingKeep))
//	out, _ := tmpl.Format(map[string]any{"a": 1})
//	// out: "1 and {b}"
func WithMissingAction(action MissingAction) Option {
	return func(t *Template) {
		t.missing = action
	}
}

// WithName labels the template in error messages.
func WithName(name string) Option {
	return func(t *Template) {
		t.name = name
	}
}
