package directline

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

// ============================================
// ACTIVITY CLASSIFIER
// Pure transform: raw streamed frame -> Activity
// ============================================

const (
	// userParticipantID is the identity the bridge sends messages under;
	// entries authored by it are echoes of our own input.
	userParticipantID = "user1"

	activityTypeMessage           = "message"
	activityTypeEndOfConversation = "endOfConversation"

	// transferPrefix is the reserved text encoding of a hand-off
	// command: TRANSFER:<number>:<message>.
	transferPrefix = "TRANSFER:"

	// minActionablePayload rejects keep-alive and framing noise before
	// paying for a JSON parse.
	minActionablePayload = 8
)

type activitySet struct {
	Activities []rawActivity `json:"activities"`
}

type rawActivity struct {
	Type string `json:"type"`
	From struct {
		ID string `json:"id"`
	} `json:"from"`
	Text  string          `json:"text"`
	Speak string          `json:"speak"`
	Value json.RawMessage `json:"value"`
}

// transferCommand is the structured hand-off payload a bot can attach
// to a message activity.
type transferCommand struct {
	Type  string `json:"type"`
	Value struct {
		PhoneNumber string `json:"phoneNumber"`
		Message     string `json:"message"`
	} `json:"value"`
}

// citationMarker matches bracketed numeric citation markers like [1]
// that Copilot Studio appends to grounded answers.
var citationMarker = regexp.MustCompile(`\[\d+\]`)

// citationLine matches a trailing citation-list line like "[1]: https://...".
var citationLine = regexp.MustCompile(`^\[\d+\]:`)

// Classify turns one raw streamed frame into a typed Activity. It is
// pure: the same payload always yields the same result, and malformed
// input is classified as Silent rather than surfaced as an error.
//
// A frame may carry several buffered activities; the scan runs newest
// to oldest because only the latest actionable entry matters for voice
// playback.
func Classify(raw []byte) Activity {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) < minActionablePayload || trimmed[0] != '{' {
		return Silent
	}

	var set activitySet
	if err := json.Unmarshal(trimmed, &set); err != nil || len(set.Activities) == 0 {
		return Silent
	}

	for i := len(set.Activities) - 1; i >= 0; i-- {
		entry := set.Activities[i]

		if entry.From.ID == userParticipantID || entry.Type == "" {
			continue
		}

		switch entry.Type {
		case activityTypeMessage:
			if act, ok := classifyTransfer(entry); ok {
				return act
			}

			text := spokenText(entry)
			if text == "" {
				continue
			}

			if class, isFailure := classifyErrorText(text); isFailure {
				return Activity{Kind: KindError, Text: text, ErrorClass: class}
			}
			return Activity{Kind: KindMessage, Text: text}

		case activityTypeEndOfConversation:
			return Activity{Kind: KindEndOfConversation}
		}
	}

	return Silent
}

// classifyTransfer detects both hand-off encodings: the structured
// value payload and the reserved TRANSFER: text prefix. Text carries
// "<number>|<announce>" either way.
func classifyTransfer(entry rawActivity) (Activity, bool) {
	if len(entry.Value) > 0 {
		var cmd transferCommand
		if err := json.Unmarshal(entry.Value, &cmd); err == nil &&
			cmd.Type == "transfer" && cmd.Value.PhoneNumber != "" {
			return Activity{
				Kind: KindTransfer,
				Text: cmd.Value.PhoneNumber + "|" + cmd.Value.Message,
			}, true
		}
	}

	if strings.HasPrefix(entry.Text, transferPrefix) {
		parts := strings.SplitN(strings.TrimPrefix(entry.Text, transferPrefix), ":", 2)
		number := strings.TrimSpace(parts[0])
		if number == "" {
			return Silent, false
		}
		announce := ""
		if len(parts) == 2 {
			announce = strings.TrimSpace(parts[1])
		}
		return Activity{Kind: KindTransfer, Text: number + "|" + announce}, true
	}

	return Silent, false
}

// spokenText picks the voice-oriented field over plain text (speak is
// pre-tuned for synthesis) and strips citation decoration from the
// chosen value.
func spokenText(entry rawActivity) string {
	text := entry.Speak
	if text == "" {
		text = entry.Text
	}
	return stripCitations(text)
}

// stripCitations removes inline [n] markers and trailing citation-list
// lines so they are never read aloud.
func stripCitations(text string) string {
	lines := strings.Split(text, "\n")
	end := len(lines)
	for end > 0 {
		candidate := strings.TrimSpace(lines[end-1])
		if candidate == "" || citationLine.MatchString(candidate) {
			end--
			continue
		}
		break
	}

	cleaned := strings.Join(lines[:end], "\n")
	cleaned = citationMarker.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}
