package sqltext

import (
	"regexp"
	"strings"
)

// statementKeywords are the words a SQL statement can open with.
const statementKeywords = `SELECT|WITH|INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|TRUNCATE|REPLACE|MERGE|GRANT|REVOKE|PRAGMA|ATTACH|DETACH|COPY|CALL|EXEC|EXECUTE|EXPLAIN|SHOW|VALUES|VACUUM`

var (
	// labelPattern matches the "sql:" or "sql: |" prefix models copy from
	// YAML-style examples.
	labelPattern = regexp.MustCompile(`(?is)^\s*(?:sql|query)\s*:\s*\|?[ \t]*\n?`)

	// statementStart finds the first line that opens a SQL statement.
	statementStart = regexp.MustCompile(`(?im)^[ \t]*(?:\(\s*)?(?:` + statementKeywords + `)\b`)

	// leadIn finds a statement that follows "Here is the query:" on the same
	// line. The lead-in holds no other colon, which rules out casts.
	leadIn = regexp.MustCompile(`(?im)^[^\n:]*:[ \t]*((?:\(\s*)?(?:` + statementKeywords + `)\b)`)

	// continuation matches a line that carries on the statement above it.
	continuation = regexp.MustCompile(`(?i)^[ \t]*(?:[^A-Za-z \t]|(?:SELECT|WITH|FROM|WHERE|GROUP|ORDER|HAVING|LIMIT|OFFSET|UNION|EXCEPT|INTERSECT|JOIN|LEFT|RIGHT|INNER|OUTER|FULL|CROSS|NATURAL|LATERAL|ON|USING|AND|OR|NOT|IN|IS|LIKE|BETWEEN|CASE|WHEN|THEN|ELSE|END|AS|BY|ASC|DESC|NULLS|OVER|PARTITION|WINDOW|QUALIFY|FETCH|VALUES)\b)`)

	// openEnded matches a line that cannot end a statement.
	openEnded = regexp.MustCompile(`(?i)(?:[,(=<>+*/|-]|\b(?:SELECT|FROM|WHERE|JOIN|ON|AND|OR|BY|AS|IN|NOT|IS|LIKE|BETWEEN|CASE|WHEN|THEN|ELSE|HAVING|LIMIT|OFFSET|UNION|ALL|DISTINCT|WITH))[ \t]*$`)

	// sentence matches a line of prose: a capitalized word opening text
	// that ends like a sentence.
	sentence = regexp.MustCompile(`^[A-Z][a-z]+\b.*[.!?:][ \t]*$`)
)

// noAnswer is what the SQL prompt asks the model to reply when the schema
// cannot answer the question.
const noAnswer = "IMPOSSIBLE"

// Clean extracts the SQL statement from a model reply.
//
// It removes Markdown code fences, a leading "sql:" label, quotes wrapping
// the whole statement, prose before the first statement keyword and prose
// after the statement, and collapses a trailing run of semicolons to one.
// A reply of IMPOSSIBLE cleans to the empty string.
func Clean(raw string) string {
	s := strings.TrimSpace(raw)
	s = stripFence(s)
	s = labelPattern.ReplaceAllString(s, "")
	s = stripFence(strings.TrimSpace(s))
	s = unquote(s)

	if strings.EqualFold(strings.Trim(s, " \t\n.;"), noAnswer) {
		return ""
	}

	if i := statementIndex(s); i >= 0 {
		s = s[i:]
	}
	s = dropTrailingProse(s)
	return collapseSemicolons(s)
}

// statementIndex returns where the first statement starts, either at the
// start of a line or after a lead-in ending in a colon, or -1.
func statementIndex(s string) int {
	idx := -1
	if loc := statementStart.FindStringIndex(s); loc != nil {
		idx = loc[0]
	}
	if m := leadIn.FindStringSubmatchIndex(s); m != nil && (idx < 0 || m[2] < idx) {
		idx = m[2]
	}
	return idx
}

// stripFence returns the body of the first fenced code block, or s when it
// has none. An unterminated fence runs to the end of the text.
func stripFence(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	body := s[start+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 && isFenceInfo(body[:nl]) {
		body = body[nl+1:]
	} else if nl < 0 && len(body) > 3 && strings.EqualFold(body[:3], "sql") && (body[3] == ' ' || body[3] == '\t') {
		body = body[3:]
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// isFenceInfo reports whether the text after ``` is a language tag.
func isFenceInfo(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || !strings.ContainsAny(s, " \t(")
}

func unquote(s string) string {
	for _, q := range []string{`"`, "`", `'`} {
		if len(s) >= 2 && strings.HasPrefix(s, q) && strings.HasSuffix(s, q) {
			inner := strings.TrimSpace(s[1 : len(s)-1])
			if statementStart.MatchString(inner) && statementStart.FindStringIndex(inner)[0] == 0 {
				return inner
			}
		}
	}
	return s
}

// dropTrailingProse cuts the text after the statement: everything after the
// first semicolon unless another statement follows it, or, without a
// semicolon, everything from the first line that does not continue the SQL.
func dropTrailingProse(s string) string {
	if i := indexOutsideQuotes(s, ';'); i >= 0 {
		rest := strings.TrimLeft(s[i+1:], "; \t\r\n")
		if rest == "" || !statementStart.MatchString(firstLine(rest)) {
			return s[:i+1]
		}
		return s
	}

	lines := strings.Split(s, "\n")
	prev := lines[0]
	for i := 1; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], " \t\r")
		if line == "" {
			continue
		}
		if !continues(prev, line) {
			return strings.Join(lines[:i], "\n")
		}
		prev = line
	}
	return s
}

// continues reports whether line is part of the statement whose previous
// non-blank line is prev.
func continues(prev, line string) bool {
	trimmed := strings.TrimLeft(line, " \t")
	if sentence.MatchString(trimmed) && !continuation.MatchString(trimmed) {
		return false
	}
	return trimmed != line ||
		continuation.MatchString(line) ||
		openEnded.MatchString(strings.TrimRight(prev, " \t\r"))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func collapseSemicolons(s string) string {
	s = strings.TrimSpace(s)
	trimmed := strings.TrimRight(s, "; \t\r\n")
	if trimmed == s {
		return s
	}
	return trimmed + ";"
}

// indexOutsideQuotes returns the index of the first c that is not inside a
// string literal, quoted identifier or comment.
func indexOutsideQuotes(s string, c byte) int {
	idx := -1
	scan(s, func(i int, b byte) bool {
		if b == c {
			idx = i
			return false
		}
		return true
	})
	return idx
}

// scan calls fn for every byte of s that is plain SQL text, skipping quoted
// strings, quoted identifiers and comments. Scanning stops when fn returns
// false.
func scan(s string, fn func(i int, b byte) bool) {
	for i := 0; i < len(s); i++ {
		switch b := s[i]; {
		case b == '\'' || b == '"' || b == '`':
			i = skipQuoted(s, i, b)
		case b == '-' && i+1 < len(s) && s[i+1] == '-':
			for i < len(s) && s[i] != '\n' {
				i++
			}
		case b == '/' && i+1 < len(s) && s[i+1] == '*':
			end := strings.Index(s[i+2:], "*/")
			if end < 0 {
				return
			}
			i += end + 3
		default:
			if !fn(i, b) {
				return
			}
		}
	}
}

// skipQuoted returns the index of the quote closing the one at start.
// A doubled quote inside the literal is an escape.
func skipQuoted(s string, start int, q byte) int {
	for i := start + 1; i < len(s); i++ {
		if s[i] == q {
			if i+1 < len(s) && s[i+1] == q {
				i++
				continue
			}
			return i
		}
	}
	return len(s)
}
