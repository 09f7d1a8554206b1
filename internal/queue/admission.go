package queue

import (
	"regexp"
	"strings"
)

// forbiddenKeyword matches any word-boundary occurrence of a write/DDL/DML
// keyword on the scan copy of a candidate query (§4.2 point 6).
var forbiddenKeyword = regexp.MustCompile(`(?i)\b(insert|update|delete|merge|truncate|create|alter|drop|grant|revoke|copy|vacuum|analyze|cluster|refresh|reindex|call|do|lock|into)\b`)

// firstKeyword matches a leading SELECT or WITH, case-insensitive.
var firstKeyword = regexp.MustCompile(`(?i)^\s*(select|with)\b`)

// scanCopy replaces the contents of single-quoted string literals with
// spaces, preserving the quote delimiters. A doubled quote ('') inside a
// literal is the SQL escaped-quote form and does not terminate the literal.
//
// This is a deliberately naive lexer: it only tracks single-quote state. It
// is not a parser and is not meant to be one (§4.2, §9 design note 3).
func scanCopy(query string) string {
	runes := []rune(query)
	out := make([]rune, len(runes))
	copy(out, runes)

	inLiteral := false
	for i := 0; i < len(runes); i++ {
		if runes[i] != '\'' {
			if inLiteral {
				out[i] = ' '
			}
			continue
		}
		if !inLiteral {
			inLiteral = true
			continue // quote delimiter, keep as-is
		}
		// We are inside a literal and saw a quote. If it's doubled, it's an
		// escaped quote: blank both characters, stay inside the literal.
		if i+1 < len(runes) && runes[i+1] == '\'' {
			out[i] = ' '
			out[i+1] = ' '
			i++
			continue
		}
		// Closing quote.
		inLiteral = false
	}
	return string(out)
}

// validateReadOnlySQL implements the §4.2 point 6 textual admission filter.
// It is a best-effort filter, not a sandbox: see SPEC_FULL.md §9.
func validateReadOnlySQL(querySQL string) error {
	scan := scanCopy(querySQL)

	if !firstKeyword.MatchString(scan) {
		return invalidArgument("query must begin with SELECT or WITH")
	}
	if strings.Contains(scan, ";") {
		return invalidArgument("query must not contain a statement separator")
	}
	if strings.Contains(scan, "--") {
		return invalidArgument("query must not contain a line comment")
	}
	if strings.Contains(scan, "/*") {
		return invalidArgument("query must not contain a block comment")
	}
	if loc := forbiddenKeyword.FindString(scan); loc != "" {
		return invalidArgument("query contains a disallowed keyword: " + strings.ToLower(loc))
	}
	return nil
}
