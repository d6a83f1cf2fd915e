package telephony

import (
	"context"
	"fmt"
	"log"
	"time"
)

// ============================================
// TRANSFER COORDINATOR
// Announced hand-off to a human number
// ============================================

// defaultAnnounceText is played when the bot issued a transfer without
// its own announcement.
const defaultAnnounceText = "Please hold while I connect you to a colleague."

// defaultSettleDelay gives the announcement audio time to finish
// before the provider tears the media path down for the hand-off.
const defaultSettleDelay = 3 * time.Second

// TransferCoordinator executes bot-issued call hand-offs.
type TransferCoordinator struct {
	control     CallControl
	settleDelay time.Duration
}

// NewTransferCoordinator creates a transfer coordinator over the given
// call-control primitives.
func NewTransferCoordinator(control CallControl) *TransferCoordinator {
	return &TransferCoordinator{
		control:     control,
		settleDelay: defaultSettleDelay,
	}
}

// AnnounceAndTransfer plays announceText (or the default phrase) to
// the caller, waits for the audio to settle, then issues the provider
// transfer. Business-level failures (a target not in international
// format, or a provider rejection) report false without an error;
// an error is returned only for misuse (missing arguments).
func (t *TransferCoordinator) AnnounceAndTransfer(ctx context.Context, correlationID, targetNumber, announceText string) (bool, error) {
	if t.control == nil {
		return false, fmt.Errorf("transfer coordinator has no call control")
	}
	if correlationID == "" {
		return false, fmt.Errorf("correlation ID required")
	}

	if !isValidE164(targetNumber) {
		log.Printf("[Transfer] Rejecting transfer to invalid number %q (call %s)", targetNumber, correlationID)
		return false, nil
	}

	if announceText == "" {
		announceText = defaultAnnounceText
	}

	if err := t.control.PlaySpeech(ctx, correlationID, announceText); err != nil {
		log.Printf("[Transfer] Announcement failed for call %s: %v", correlationID, err)
		// Transfer anyway: losing the announcement should not strand
		// the caller with the bot.
	} else {
		select {
		case <-time.After(t.settleDelay):
		case <-ctx.Done():
			return false, nil
		}
	}

	if err := t.control.TransferToNumber(ctx, correlationID, targetNumber); err != nil {
		log.Printf("[Transfer] Provider rejected transfer of call %s to %s: %v", correlationID, targetNumber, err)
		return false, nil
	}

	log.Printf("[Transfer] Call %s transferring to %s", correlationID, targetNumber)
	return true, nil
}
