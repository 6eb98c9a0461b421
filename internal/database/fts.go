package database

import "strings"

// FTSQuery converts free user input into a safe FTS5 match expression.
// Tokens made of plain letters and digits pass through as token matches;
// a token carrying punctuation (dots, quotes, dashes, anything that could
// break the FTS5 query grammar) is wrapped as a quoted phrase with inner
// quotes doubled. Multiple tokens are ANDed, which is FTS5's default for
// adjacent terms.
func FTSQuery(input string) string {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return `""`
	}

	terms := make([]string, 0, len(fields))
	for _, tok := range fields {
		if isBareToken(tok) && !isOperator(tok) {
			terms = append(terms, tok)
			continue
		}
		terms = append(terms, `"`+strings.ReplaceAll(tok, `"`, `""`)+`"`)
	}
	return strings.Join(terms, " ")
}

// isOperator reports whether tok is an FTS5 query operator. Operators
// are case sensitive in FTS5: "not" is a term, "NOT" is not.
func isOperator(tok string) bool {
	switch tok {
	case "AND", "OR", "NOT", "NEAR":
		return true
	}
	return false
}

func isBareToken(tok string) bool {
	for _, r := range tok {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
