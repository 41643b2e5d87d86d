package agents

import (
	"strings"
	"unicode"

	"github.com/jeeves-cluster-organization/lgorch/coreengine/envelope"
)

var (
	codeChangeWords = []string{"implement", "add", "change", "refactor"}
	questionWords   = []string{"why", "how", "explain"}
	researchWords   = []string{"research", "latest", "compare", "survey"}
	debugWords      = []string{"debug", "error", "panic", "exception"}
)

// ClassifyIntent maps a request to an intent with ordered keyword rules.
// The first matching rule wins; no match yields analysis.
//
//  1. code_change: contains "fix", or a token implement/add/change/refactor
//  2. question:    a token why/how/explain, or the phrase "what is"
//  3. research:    a token research/latest/compare/survey
//  4. debug:       a token debug/error/panic/exception, or "stack trace"
func ClassifyIntent(request string) envelope.Intent {
	lower := strings.ToLower(request)
	tokens := tokenize(lower)

	switch {
	case strings.Contains(lower, "fix") || hasAny(tokens, codeChangeWords):
		return envelope.IntentCodeChange
	case hasAny(tokens, questionWords) || hasPhrase(tokens, "what", "is"):
		return envelope.IntentQuestion
	case hasAny(tokens, researchWords):
		return envelope.IntentResearch
	case hasAny(tokens, debugWords) || strings.Contains(lower, "stack trace"):
		return envelope.IntentDebug
	default:
		return envelope.IntentAnalysis
	}
}

// tokenize splits on anything that is not a letter, digit or apostrophe.
func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func hasAny(tokens []string, words []string) bool {
	for _, tok := range tokens {
		for _, w := range words {
			if tok == w {
				return true
			}
		}
	}
	return false
}

func hasPhrase(tokens []string, first, second string) bool {
	for i := 0; i+1 < len(tokens); i++ {
		if tokens[i] == first && tokens[i+1] == second {
			return true
		}
	}
	return false
}
