package directline

import "strings"

// ============================================
// ERROR PHRASE CLASSIFICATION
// Policy for which backend failures are spoken
// ============================================

// failurePhrases are substrings that mark a bot message as backend
// failure text rather than a real reply. The match is a heuristic: a
// legitimate answer containing one of these phrases would be silenced
// too, a known precision trade-off accepted to keep raw failure text
// away from callers.
var failurePhrases = []string{
	"an error has occurred",
	"an error occurred",
	"error occurred",
	"something went wrong",
	"unable to process your request",
	"internal server error",
}

// actionablePhrases mark failures worth telling the caller about: the
// caller can plausibly help by retrying or waiting.
var actionablePhrases = []string{
	"authentication",
	"unauthorized",
	"not authorized",
	"timed out",
	"timeout",
}

// classifyErrorText reports whether text is backend failure phrasing
// and, if so, whether the failure is actionable (spoken as a short
// apology) or generic (logged only). The phrase tables above are the
// single place this policy lives.
func classifyErrorText(text string) (ErrorClass, bool) {
	lowered := strings.ToLower(text)

	matched := false
	for _, phrase := range failurePhrases {
		if strings.Contains(lowered, phrase) {
			matched = true
			break
		}
	}
	if !matched {
		return ErrorClassNone, false
	}

	for _, phrase := range actionablePhrases {
		if strings.Contains(lowered, phrase) {
			return ErrorClassActionable, true
		}
	}
	return ErrorClassGeneric, true
}
