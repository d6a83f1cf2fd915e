package telephony

import "strings"

// ============================================
// DTMF EXTRACTION
// Keypad tone enrichment from recognition events
// ============================================

// ToneResult is the outcome of mapping one provider tone event. An
// unrecognized tone yields Valid=false, never a failure.
type ToneResult struct {
	Tone  string
	Valid bool
	Raw   string
}

// toneNames maps the provider's tone enumeration onto keypad symbols.
var toneNames = map[string]string{
	"zero":     "0",
	"one":      "1",
	"two":      "2",
	"three":    "3",
	"four":     "4",
	"five":     "5",
	"six":      "6",
	"seven":    "7",
	"eight":    "8",
	"nine":     "9",
	"asterisk": "*",
	"star":     "*",
	"pound":    "#",
	"hash":     "#",
}

// ExtractTone maps a recognized tone event to one of the 12 keypad
// symbols. Both the enumeration names and literal symbols are accepted.
func ExtractTone(raw string) ToneResult {
	normalized := strings.ToLower(strings.TrimSpace(raw))

	if tone, ok := toneNames[normalized]; ok {
		return ToneResult{Tone: tone, Valid: true, Raw: raw}
	}
	if len(normalized) == 1 && isToneSymbol(rune(normalized[0])) {
		return ToneResult{Tone: normalized, Valid: true, Raw: raw}
	}
	return ToneResult{Raw: raw}
}

// IsValidSequence reports whether every character is one of the 12
// valid keypad symbols. The empty sequence is valid.
func IsValidSequence(sequence string) bool {
	for _, c := range sequence {
		if !isToneSymbol(c) {
			return false
		}
	}
	return true
}

func isToneSymbol(c rune) bool {
	return (c >= '0' && c <= '9') || c == '*' || c == '#'
}
