package telephony

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// fakeControl records call-control invocations for tests.
type fakeControl struct {
	mu          sync.Mutex
	played      []string
	transferred []string
	hungUp      []string
	answered    []string
	playErr     error
	transferErr error
	hangErr     error
}

func (f *fakeControl) Answer(ctx context.Context, incomingCallContext, callbackURI string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, incomingCallContext)
	return nil
}

func (f *fakeControl) PlaySpeech(ctx context.Context, correlationID, ssml string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.playErr != nil {
		return f.playErr
	}
	f.played = append(f.played, ssml)
	return nil
}

func (f *fakeControl) TransferToNumber(ctx context.Context, correlationID, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transferErr != nil {
		return f.transferErr
	}
	f.transferred = append(f.transferred, target)
	return nil
}

func (f *fakeControl) HangUp(ctx context.Context, correlationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hangErr != nil {
		return f.hangErr
	}
	f.hungUp = append(f.hungUp, correlationID)
	return nil
}

func (f *fakeControl) snapshotPlayed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.played...)
}

func (f *fakeControl) snapshotTransferred() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.transferred...)
}

func (f *fakeControl) snapshotHungUp() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.hungUp...)
}

func newTestCoordinator(control CallControl) *TransferCoordinator {
	coordinator := NewTransferCoordinator(control)
	coordinator.settleDelay = 0
	return coordinator
}

func TestAnnounceAndTransferInvalidNumber(t *testing.T) {
	control := &fakeControl{}
	coordinator := newTestCoordinator(control)

	for _, number := range []string{"", "5551234567", "+", "+555abc"} {
		ok, err := coordinator.AnnounceAndTransfer(context.Background(), "call-1", number, "hold on")
		if err != nil {
			t.Fatalf("AnnounceAndTransfer(%q) error: %v", number, err)
		}
		if ok {
			t.Errorf("AnnounceAndTransfer(%q) = true", number)
		}
	}

	if len(control.snapshotPlayed()) != 0 || len(control.snapshotTransferred()) != 0 {
		t.Error("invalid numbers reached the provider")
	}
}

func TestAnnounceAndTransferSuccess(t *testing.T) {
	control := &fakeControl{}
	coordinator := newTestCoordinator(control)

	ok, err := coordinator.AnnounceAndTransfer(context.Background(), "call-1", "+15551234567", "connecting you now")
	if err != nil || !ok {
		t.Fatalf("AnnounceAndTransfer = (%v, %v)", ok, err)
	}

	played := control.snapshotPlayed()
	if len(played) != 1 || played[0] != "connecting you now" {
		t.Errorf("played = %v", played)
	}
	transferred := control.snapshotTransferred()
	if len(transferred) != 1 || transferred[0] != "+15551234567" {
		t.Errorf("transferred = %v", transferred)
	}
}

func TestAnnounceAndTransferDefaultAnnouncement(t *testing.T) {
	control := &fakeControl{}
	coordinator := newTestCoordinator(control)

	ok, _ := coordinator.AnnounceAndTransfer(context.Background(), "call-1", "+15551234567", "")
	if !ok {
		t.Fatal("transfer failed")
	}

	played := control.snapshotPlayed()
	if len(played) != 1 || played[0] != defaultAnnounceText {
		t.Errorf("played = %v, want default announcement", played)
	}
}

func TestAnnounceAndTransferProviderRejection(t *testing.T) {
	control := &fakeControl{transferErr: errors.New("leg busy")}
	coordinator := newTestCoordinator(control)

	ok, err := coordinator.AnnounceAndTransfer(context.Background(), "call-1", "+15551234567", "hold")
	if err != nil {
		t.Fatalf("business failure surfaced as error: %v", err)
	}
	if ok {
		t.Error("AnnounceAndTransfer = true despite provider rejection")
	}
}

func TestAnnounceAndTransferContinuesWhenAnnouncementFails(t *testing.T) {
	control := &fakeControl{playErr: errors.New("media busy")}
	coordinator := newTestCoordinator(control)

	ok, err := coordinator.AnnounceAndTransfer(context.Background(), "call-1", "+15551234567", "hold")
	if err != nil || !ok {
		t.Fatalf("AnnounceAndTransfer = (%v, %v)", ok, err)
	}
	if len(control.snapshotTransferred()) != 1 {
		t.Error("transfer skipped after announcement failure")
	}
}

func TestAnnounceAndTransferMissingArguments(t *testing.T) {
	coordinator := newTestCoordinator(&fakeControl{})
	if _, err := coordinator.AnnounceAndTransfer(context.Background(), "", "+15551234567", ""); err == nil {
		t.Error("expected error for missing correlation ID")
	}
}
