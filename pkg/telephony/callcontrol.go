// Package telephony drives the call side of the bridge: the ACS Call
// Automation client, per-call orchestration of the Direct Line relay,
// transfer coordination, and caller/DTMF enrichment.
package telephony

import (
	"context"
	"errors"
)

// ============================================
// CALL CONTROL
// Provider primitives consumed by the bridge
// ============================================

// ErrCallMediaNotEstablished is returned by PlaySpeech when the call
// has already ended or is mid-transition: the one playback condition
// the caller of the play operation must observe so it stops further
// playback attempts for that call.
var ErrCallMediaNotEstablished = errors.New("call media not established")

// CallControl is the set of telephony provider primitives the bridge
// uses. All operations are keyed by the provider correlation ID.
type CallControl interface {
	// Answer accepts an incoming call, directing callbacks at callbackURI.
	Answer(ctx context.Context, incomingCallContext, callbackURI string) error

	// PlaySpeech synthesizes ssml and plays it to all call participants.
	PlaySpeech(ctx context.Context, correlationID, ssml string) error

	// TransferToNumber hands the call off to an external E.164 number.
	TransferToNumber(ctx context.Context, correlationID, target string) error

	// HangUp terminates the call.
	HangUp(ctx context.Context, correlationID string) error
}
