package query

import (
	"regexp"
	"strings"
	"unicode"
)

// Compiled at package init.
var (
	// Error codes: ERR_*, E0001, HTTP404, NullPointerException
	errorCodePattern = regexp.MustCompile(`(?i)^(ERR_\w+|E\d{4,5}|[A-Z]{2,}\d{3,}|\w+Exception)$`)

	// File paths with a known extension
	filePathPattern = regexp.MustCompile(`(?i)^[\w\-\./\\]+\.(go|ts|tsx|js|jsx|py|md|json|yaml|yml|toml|css|html|rs|java|kt|c|cpp|h|hpp|rb|php|swift|sh|sql|pdf|csv)$`)

	// Dotted identifiers: pkg.Func, os.path.join, v1.2.3
	dottedPattern = regexp.MustCompile(`^\w+(\.\w+)+$`)

	camelCasePattern      = regexp.MustCompile(`^[a-z]+([A-Z][a-z0-9]*)+$`)
	pascalCasePattern     = regexp.MustCompile(`^([A-Z][a-z0-9]*){2,}$`)
	snakeCasePattern      = regexp.MustCompile(`^[a-z]+(_[a-z0-9]+)+$`)
	screamingSnakePattern = regexp.MustCompile(`^[A-Z]+(_[A-Z0-9]+)+$`)

	// Double-quoted exact phrases
	phrasePattern = regexp.MustCompile(`"([^"]+)"`)
)

// isIdentifier reports whether tok has the shape of a code identifier,
// path, version, or error code.
func isIdentifier(tok string) bool {
	if errorCodePattern.MatchString(tok) ||
		filePathPattern.MatchString(tok) ||
		dottedPattern.MatchString(tok) ||
		camelCasePattern.MatchString(tok) ||
		pascalCasePattern.MatchString(tok) ||
		snakeCasePattern.MatchString(tok) ||
		screamingSnakePattern.MatchString(tok) {
		return true
	}
	return strings.IndexFunc(tok, unicode.IsDigit) >= 0
}

// SplitPhrases separates double-quoted phrases from the rest of the text.
// Unbalanced quotes are left in rest.
func SplitPhrases(text string) (phrases []string, rest string) {
	for _, m := range phrasePattern.FindAllStringSubmatch(text, -1) {
		if p := strings.TrimSpace(m[1]); p != "" {
			phrases = append(phrases, p)
		}
	}
	rest = phrasePattern.ReplaceAllString(text, " ")
	return phrases, strings.Join(strings.Fields(rest), " ")
}

// Tokenize splits text on whitespace and trims surrounding punctuation.
// Interior punctuation (dots, underscores, slashes) is kept so identifiers
// survive intact.
func Tokenize(text string) []string {
	fields := strings.Fields(text)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		tok := strings.TrimFunc(f, func(r rune) bool {
			return unicode.IsPunct(r) && r != '_'
		})
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// commonWords never count as technical. Question starters are included so
// natural-language queries lean semantic.
var commonWords = toSet(`
a about above after again against all also am an and any are as at be because been
before being below between both but by can could did do does doing down during each
few for from further get got had has have having he her here hers him his how i if
in into is it its itself just let like me more most my no nor not now of off on once
only or other our out over own same she should show so some such than that the their
them then there these they this those through to too under until up use used using
very want was way we were what when where which while who whom why will with would
you your explain describe find list tell need help work works working make makes
best good new ways thing things something example examples difference answer question questions
`)

func toSet(words string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(words) {
		set[w] = struct{}{}
	}
	return set
}

func isCommon(tok string) bool {
	_, ok := commonWords[strings.ToLower(tok)]
	return ok
}
