package directline

// ============================================
// CLASSIFIED ACTIVITIES
// Typed result of one streamed Direct Line frame
// ============================================

// Kind is the classified type of a streamed bot activity.
type Kind string

const (
	// KindSilent means the frame carried nothing actionable: keep-alive
	// noise, metadata, user echoes, or garbled JSON.
	KindSilent Kind = "silent"
	// KindMessage is bot text to synthesize and play to the caller.
	KindMessage Kind = "message"
	// KindTransfer is a bot-issued hand-off command. Text carries
	// "<number>|<announce>".
	KindTransfer Kind = "transfer"
	// KindEndOfConversation tells the bridge to hang up.
	KindEndOfConversation Kind = "endOfConversation"
	// KindError is a backend failure phrase caught before playback.
	KindError Kind = "error"
)

// ErrorClass splits backend error phrases into those worth telling the
// caller about and those that are logged only.
type ErrorClass string

const (
	// ErrorClassNone applies to non-error activities.
	ErrorClassNone ErrorClass = ""
	// ErrorClassActionable covers auth and timeout wording; the caller
	// hears a short apology and may retry.
	ErrorClassActionable ErrorClass = "actionable"
	// ErrorClassGeneric covers everything else; never spoken, so raw
	// failure text cannot reach the caller.
	ErrorClassGeneric ErrorClass = "generic"
)

// Activity is one classified unit of bot output. Transient: produced
// per streamed frame and never persisted.
type Activity struct {
	Kind       Kind
	Text       string
	ErrorClass ErrorClass
}

// Silent is the zero-value "nothing to do" activity.
var Silent = Activity{Kind: KindSilent}
