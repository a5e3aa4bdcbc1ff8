/*
Package prompt formats LLM prompt templates.

Templates use single-brace placeholders, the format the prompt files are
written in:

	tmpl := prompt.MustNew("Classify the question: {question}")
	text, err := tmpl.Format(map[string]any{"question": "how many orders?"})

A literal brace is written doubled ({{ or }}), which keeps JSON examples
inside prompts readable:

	prompt.MustNew(`Reply as {{"label": "{label}"}}`)

# Partial Variables

Values that are fixed for the lifetime of a template, such as the database
schema, are bound once with WithPartial. The returned template no longer
lists them in InputVariables:

	sqlPrompt := prompt.MustNew(text).WithPartial("tables", schemaText)

# Missing Variables

Format fails with *UndefinedVariableError when a placeholder has no value.
WithMissingAction(MissingKeep) leaves such placeholders as written and
MissingEmpty removes them.

Templates are immutable and safe for concurrent use.
*/
package prompt
