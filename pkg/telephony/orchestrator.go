package telephony

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/holgerimbery/ACSforMCS-sub000/pkg/directline"
	"github.com/holgerimbery/ACSforMCS-sub000/pkg/metrics"
	"github.com/holgerimbery/ACSforMCS-sub000/pkg/session"
)

// ============================================
// CALL ORCHESTRATOR
// Lifecycle state machine binding ACS events to
// the Direct Line conversation
// ============================================

// State is the lifecycle state of one bridged call.
type State string

const (
	StateConnecting   State = "connecting"
	StateConversing   State = "conversing"
	StateTransferring State = "transferring"
	StateEnding       State = "ending"
	StateClosed       State = "closed"
)

// The fixed phrase set callers may hear besides bot messages. Raw
// backend error text never reaches this list.
const (
	defaultGreeting     = "Hello"
	apologyRetryText    = "I'm sorry, we hit a temporary problem. Could you say that again?"
	transferConfirmText = "You are being transferred now. Please stay on the line."
	transferFailedText  = "I'm sorry, the transfer could not be completed. Let's continue."
)

// BotGateway is the conversation-side contract the orchestrator
// drives; *directline.Client implements it.
type BotGateway interface {
	StartConversation(ctx context.Context) (*directline.Conversation, error)
	SendMessage(ctx context.Context, conversationID, text string) (bool, error)
	RunRelayLoop(ctx context.Context, streamURL string, sink directline.ActivitySink) error
	EndConversation(conversationID string)
}

// CallRecorder persists call history; optional.
type CallRecorder interface {
	RecordConnect(ctx context.Context, snapshot session.Snapshot) error
	RecordDisconnect(ctx context.Context, snapshot session.Snapshot) error
}

// Config wires an orchestrator. Recorder and Metrics may be nil.
type Config struct {
	Registry *session.Registry
	Bot      BotGateway
	Control  CallControl
	Recorder CallRecorder
	Metrics  *metrics.Metrics
	Greeting string
}

// Orchestrator owns the per-call state machine: it creates sessions on
// connect, launches one relay loop per call, acts on classified bot
// activities, and tears everything down exactly once on disconnect.
type Orchestrator struct {
	registry *session.Registry
	bot      BotGateway
	control  CallControl
	transfer *TransferCoordinator
	recorder CallRecorder
	metrics  *metrics.Metrics
	greeting string

	mu       sync.Mutex
	bindings map[string]*callBinding
}

// NewOrchestrator creates a call orchestrator.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Registry == nil {
		return nil, errors.New("telephony: registry is required")
	}
	if cfg.Bot == nil {
		return nil, errors.New("telephony: bot gateway is required")
	}
	if cfg.Control == nil {
		return nil, errors.New("telephony: call control is required")
	}
	greeting := cfg.Greeting
	if greeting == "" {
		greeting = defaultGreeting
	}

	return &Orchestrator{
		registry: cfg.Registry,
		bot:      cfg.Bot,
		control:  cfg.Control,
		transfer: NewTransferCoordinator(cfg.Control),
		recorder: cfg.Recorder,
		metrics:  cfg.Metrics,
		greeting: greeting,
		bindings: make(map[string]*callBinding),
	}, nil
}

// ============================================
// LIFECYCLE EVENT HANDLERS
// ============================================

// HandleCallConnected processes a call-connected event: create the
// session, open the bot conversation (with the auth fallback inside
// the gateway), launch the relay loop, and send the greeting. A call
// that cannot obtain a bot session on either auth path is terminated.
func (o *Orchestrator) HandleCallConnected(ctx context.Context, correlationID string, setup CallSetupData) error {
	if correlationID == "" {
		return errors.New("telephony: correlation ID required")
	}

	// A repeat connect replaces the registry entry; the displaced
	// session's relay loop must not outlive it.
	if old, ok := o.registry.Get(correlationID); ok {
		if cancel := old.Deactivate(); cancel != nil {
			cancel()
		}
	}

	sess := o.registry.Create(correlationID)
	o.trackActive()

	info := ExtractCallerInfo(setup)
	sess.SetCallerInfo(info.CallerID, info.DisplayName, info.CallerType)
	sess.SetCalleeInfo(info.CalleeID)
	log.Printf("[Orchestrator] Call connected: %s (caller: %s, status: %s)",
		correlationID, info.CallerID, info.Status)

	conv, err := o.bot.StartConversation(ctx)
	if err != nil {
		log.Printf("[Orchestrator] Bot session failed for call %s: %v", correlationID, err)
		o.countCall("session_start_failed")
		if hangErr := o.control.HangUp(ctx, correlationID); hangErr != nil {
			log.Printf("[Orchestrator] Hang-up after session failure: %v", hangErr)
		}
		o.teardown(ctx, correlationID)
		return fmt.Errorf("bot session start: %w", err)
	}

	sess.SetConversation(conv.ConversationID)

	binding := &callBinding{
		orchestrator:  o,
		correlationID: correlationID,
		state:         StateConversing,
	}
	o.mu.Lock()
	o.bindings[correlationID] = binding
	o.mu.Unlock()

	// The relay loop outlives the webhook request; it is bound to its
	// own cancel token, triggered once at disconnect. A disconnect that
	// raced the session start leaves the session deactivated with no
	// cancel bound, in which case there is no call left to relay for.
	relayCtx, cancel := context.WithCancel(context.Background())
	if !sess.BindCancel(cancel) {
		cancel()
		o.mu.Lock()
		if o.bindings[correlationID] == binding {
			delete(o.bindings, correlationID)
		}
		o.mu.Unlock()
		o.bot.EndConversation(conv.ConversationID)
		log.Printf("[Orchestrator] Call %s disconnected during session start", correlationID)
		return nil
	}
	go func() {
		if err := o.bot.RunRelayLoop(relayCtx, conv.StreamURL, binding); err != nil {
			log.Printf("[Orchestrator] Relay loop for call %s: %v", correlationID, err)
		}
		log.Printf("[Orchestrator] Relay loop ended: %s", correlationID)
	}()

	if sent, err := o.bot.SendMessage(ctx, conv.ConversationID, o.greeting); err != nil {
		log.Printf("[Orchestrator] Greeting failed for call %s: %v", correlationID, err)
	} else if sent {
		sess.IncrementMessageCount()
		o.countMessage("to_bot")
	}

	o.recordConnect(ctx, sess)
	return nil
}

// HandleCallDisconnected tears a call down: cancel the relay loop and
// evict the session. Safe to call more than once per call.
func (o *Orchestrator) HandleCallDisconnected(ctx context.Context, correlationID string) {
	o.teardown(ctx, correlationID)
}

// HandleTransferAccepted processes the provider's confirmation that
// the hand-off went through; our leg of the call is about to end.
func (o *Orchestrator) HandleTransferAccepted(correlationID string) {
	log.Printf("[Orchestrator] Transfer accepted: %s", correlationID)
	o.countTransfer("accepted")
	o.countCall("transferred")

	if binding := o.binding(correlationID); binding != nil {
		binding.setState(StateEnding)
	}
}

// HandleTransferFailed returns the call to the conversation after a
// failed hand-off; the caller hears an apology, not the reason.
func (o *Orchestrator) HandleTransferFailed(correlationID, reason string) {
	log.Printf("[Orchestrator] Transfer failed for call %s: %s", correlationID, reason)
	o.countTransfer("failed")

	if binding := o.binding(correlationID); binding != nil {
		binding.setState(StateConversing)
		binding.speak(transferFailedText)
	}
}

// HandleRecognizedSpeech relays a recognized caller utterance into the
// bot conversation.
func (o *Orchestrator) HandleRecognizedSpeech(ctx context.Context, correlationID, text string) error {
	sess, ok := o.registry.Get(correlationID)
	if !ok || !sess.IsActive() {
		return nil
	}
	sess.Touch()

	conversationID := sess.ConversationID()
	if conversationID == "" {
		return fmt.Errorf("call %s has no bot conversation", correlationID)
	}

	sent, err := o.bot.SendMessage(ctx, conversationID, text)
	if err != nil {
		return fmt.Errorf("relay speech: %w", err)
	}
	if sent {
		sess.IncrementMessageCount()
		o.countMessage("to_bot")
	}
	return nil
}

// HandleRecognizedDTMF enriches the session with a keypad tone and
// forwards the tone plus full sequence to the bot. Unrecognized tones
// are logged and dropped.
func (o *Orchestrator) HandleRecognizedDTMF(ctx context.Context, correlationID, rawTone string) error {
	sess, ok := o.registry.Get(correlationID)
	if !ok || !sess.IsActive() {
		return nil
	}

	result := ExtractTone(rawTone)
	if !result.Valid {
		log.Printf("[Orchestrator] Unrecognized DTMF tone %q on call %s", rawTone, correlationID)
		return nil
	}

	sess.AddTone(result.Tone)

	conversationID := sess.ConversationID()
	if conversationID == "" {
		return nil
	}

	payload := fmt.Sprintf("DTMF_INPUT=%s|DTMF_SEQUENCE=%s", result.Tone, sess.DTMFSequence())
	sent, err := o.bot.SendMessage(ctx, conversationID, payload)
	if err != nil {
		return fmt.Errorf("relay dtmf: %w", err)
	}
	if sent {
		sess.IncrementMessageCount()
		o.countMessage("to_bot")
	}
	return nil
}

// SweepIdleSessions logs live sessions with no activity for longer
// than maxIdle and returns how many it found. Advisory, like the soft
// call ceiling: nothing is torn down here.
func (o *Orchestrator) SweepIdleSessions(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	idle := 0
	o.registry.ForEach(func(s *session.CallSession) {
		snap := s.Snapshot()
		if snap.Active && snap.LastActivity.Before(cutoff) {
			idle++
			log.Printf("[Orchestrator] Call %s idle since %s",
				snap.CorrelationID, snap.LastActivity.Format(time.RFC3339))
		}
	})
	return idle
}

// ============================================
// TEARDOWN
// ============================================

// teardown cancels the relay loop and evicts the session, once. The
// binding is cleared before the registry lookup so a disconnect racing
// the session start never strands one.
func (o *Orchestrator) teardown(ctx context.Context, correlationID string) {
	o.mu.Lock()
	binding := o.bindings[correlationID]
	delete(o.bindings, correlationID)
	o.mu.Unlock()
	if binding != nil {
		binding.setState(StateClosed)
	}

	sess, ok := o.registry.Get(correlationID)
	if !ok {
		return
	}

	if cancel := sess.Deactivate(); cancel != nil {
		cancel()
	}

	removed := o.registry.Remove(correlationID)

	if removed {
		snap := sess.Snapshot()
		log.Printf("[Orchestrator] Call disconnected: %s", correlationID)
		// A call that never reached a bot conversation was already
		// counted by the session-start failure path.
		if snap.ConversationID != "" {
			o.countCall("completed")
			o.bot.EndConversation(snap.ConversationID)
		}
		o.trackActive()
		if o.recorder != nil {
			if err := o.recorder.RecordDisconnect(ctx, snap); err != nil {
				log.Printf("[Orchestrator] Call record update failed: %v", err)
			}
		}
	}
}

// ============================================
// PER-CALL ACTIVITY SINK
// ============================================

// callBinding receives classified activities for one call and applies
// the state machine to them.
type callBinding struct {
	orchestrator  *Orchestrator
	correlationID string

	mu    sync.Mutex
	state State
	// playbackDown is set when media is gone so no further playback is
	// attempted on this call.
	playbackDown bool
}

// OnActivity acts on one classified activity in receive order.
func (b *callBinding) OnActivity(activity directline.Activity) {
	o := b.orchestrator
	if o.metrics != nil {
		o.metrics.ClassifiedActivities.WithLabelValues(string(activity.Kind)).Inc()
	}

	switch activity.Kind {
	case directline.KindMessage:
		b.speak(activity.Text)
		if sess, ok := o.registry.Get(b.correlationID); ok {
			sess.IncrementMessageCount()
		}
		o.countMessage("to_caller")

	case directline.KindTransfer:
		b.handleTransfer(activity.Text)

	case directline.KindEndOfConversation:
		b.handleEndOfConversation()

	case directline.KindError:
		if activity.ErrorClass == directline.ErrorClassActionable {
			b.speak(apologyRetryText)
		} else {
			// Generic backend failure text is never spoken.
			log.Printf("[Orchestrator] Suppressed backend error on call %s: %q",
				b.correlationID, activity.Text)
		}
	}
}

// handleTransfer runs the transfer leg of the state machine. A
// transfer that arrives while one is already in flight, or after the
// conversation ended, is ignored; transfer beats a simultaneous
// end-of-conversation because only Conversing admits either.
func (b *callBinding) handleTransfer(encoded string) {
	if !b.transition(StateConversing, StateTransferring) {
		return
	}
	o := b.orchestrator

	target, announce := splitTransferText(encoded)
	ok, err := o.transfer.AnnounceAndTransfer(context.Background(), b.correlationID, target, announce)
	if err != nil {
		log.Printf("[Orchestrator] Transfer misuse on call %s: %v", b.correlationID, err)
		ok = false
	}

	if !ok {
		o.countTransfer("rejected")
		b.setState(StateConversing)
		b.speak(transferFailedText)
		return
	}

	o.countTransfer("initiated")
	b.speak(transferConfirmText)
	// Stay connected until the provider reports TransferAccepted or
	// the caller disconnects.
}

func (b *callBinding) handleEndOfConversation() {
	if !b.transition(StateConversing, StateEnding) {
		return
	}
	log.Printf("[Orchestrator] Bot ended conversation: %s", b.correlationID)
	if err := b.orchestrator.control.HangUp(context.Background(), b.correlationID); err != nil {
		log.Printf("[Orchestrator] Hang-up failed for call %s: %v", b.correlationID, err)
	}
}

// speak plays text to the caller unless media is already gone.
func (b *callBinding) speak(text string) {
	b.mu.Lock()
	down := b.playbackDown
	b.mu.Unlock()
	if down || text == "" {
		return
	}

	err := b.orchestrator.control.PlaySpeech(context.Background(), b.correlationID, text)
	if err == nil {
		return
	}
	if errors.Is(err, ErrCallMediaNotEstablished) {
		// Stop all further playback for this call.
		b.mu.Lock()
		b.playbackDown = true
		b.mu.Unlock()
		log.Printf("[Orchestrator] Media gone on call %s, playback stopped", b.correlationID)
		return
	}
	log.Printf("[Orchestrator] Playback failed on call %s: %v", b.correlationID, err)
}

func (b *callBinding) setState(state State) {
	b.mu.Lock()
	b.state = state
	b.mu.Unlock()
}

// transition moves from -> to atomically, reporting whether it applied.
func (b *callBinding) transition(from, to State) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != from {
		return false
	}
	b.state = to
	return true
}

// splitTransferText decodes the classifier's "<number>|<announce>"
// encoding.
func splitTransferText(encoded string) (target, announce string) {
	parts := strings.SplitN(encoded, "|", 2)
	target = strings.TrimSpace(parts[0])
	if len(parts) == 2 {
		announce = strings.TrimSpace(parts[1])
	}
	return target, announce
}

// ============================================
// SMALL HELPERS
// ============================================

func (o *Orchestrator) binding(correlationID string) *callBinding {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.bindings[correlationID]
}

func (o *Orchestrator) recordConnect(ctx context.Context, sess *session.CallSession) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.RecordConnect(ctx, sess.Snapshot()); err != nil {
		log.Printf("[Orchestrator] Call record insert failed: %v", err)
	}
}

func (o *Orchestrator) trackActive() {
	if o.metrics != nil {
		o.metrics.TrackActiveCalls(o.registry.Count())
	}
}

func (o *Orchestrator) countCall(outcome string) {
	if o.metrics != nil {
		o.metrics.CallsTotal.WithLabelValues(outcome).Inc()
	}
}

func (o *Orchestrator) countMessage(direction string) {
	if o.metrics != nil {
		o.metrics.MessagesRelayed.WithLabelValues(direction).Inc()
	}
}

func (o *Orchestrator) countTransfer(result string) {
	if o.metrics != nil {
		o.metrics.Transfers.WithLabelValues(result).Inc()
	}
}
