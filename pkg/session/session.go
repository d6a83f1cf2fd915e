package session

import (
	"context"
	"strings"
	"sync"
	"time"
)

// ============================================
// CALL SESSION
// Per-call state shared between the lifecycle
// handlers, enrichment and the relay loop
// ============================================

// CallerType classifies the origin of a caller identity.
type CallerType string

const (
	CallerTypePSTN    CallerType = "pstn"
	CallerTypeACS     CallerType = "acs"
	CallerTypeRaw     CallerType = "raw"
	CallerTypeUnknown CallerType = "unknown"
)

// CallSession tracks one active call, keyed by the ACS correlation ID.
// All fields are guarded by the session's own mutex; the registry lock
// is never held while a session is mutated.
type CallSession struct {
	CorrelationID string

	mu sync.Mutex

	conversationID string

	callerID          string
	calleeID          string
	callerDisplayName string
	callerType        CallerType
	hasCallerInfo     bool
	hasCalleeInfo     bool

	dtmfSequence strings.Builder
	hasDTMFInput bool

	messageCount int64
	callStart    time.Time
	lastActivity time.Time

	active bool

	// cancel stops the relay loop bound to this call. Set once when the
	// loop is launched, invoked exactly once on disconnect.
	cancel context.CancelFunc
}

func newCallSession(correlationID string) *CallSession {
	now := time.Now()
	return &CallSession{
		CorrelationID: correlationID,
		callerType:    CallerTypeUnknown,
		callStart:     now,
		lastActivity:  now,
		active:        true,
	}
}

// SetConversation records the Direct Line conversation ID. The first
// write wins; a session is never re-bound to a second conversation.
func (s *CallSession) SetConversation(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conversationID != "" || conversationID == "" {
		return false
	}
	s.conversationID = conversationID
	return true
}

// ConversationID returns the bound conversation ID, empty until the bot
// session has started.
func (s *CallSession) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// SetCallerInfo stores the extracted caller identity.
func (s *CallSession) SetCallerInfo(callerID, displayName string, callerType CallerType) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callerID = callerID
	s.callerDisplayName = displayName
	s.callerType = callerType
	s.hasCallerInfo = callerID != ""
}

// SetCalleeInfo stores the extracted callee identity.
func (s *CallSession) SetCalleeInfo(calleeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calleeID = calleeID
	s.hasCalleeInfo = calleeID != ""
}

// AddTone appends one DTMF tone to the session's sequence. The sequence
// is append-only for the life of the session.
func (s *CallSession) AddTone(tone string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dtmfSequence.WriteString(tone)
	s.hasDTMFInput = true
	s.lastActivity = time.Now()
}

// DTMFSequence returns the tones received so far, in arrival order.
func (s *CallSession) DTMFSequence() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dtmfSequence.String()
}

// IncrementMessageCount bumps the relayed-message counter and returns
// the new value.
func (s *CallSession) IncrementMessageCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messageCount++
	s.lastActivity = time.Now()
	return s.messageCount
}

// Touch updates the last-activity timestamp.
func (s *CallSession) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

// IsActive reports whether disconnect processing has begun.
func (s *CallSession) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Deactivate marks the session as ending and returns the relay cancel
// func, if any. The first caller gets the cancel func; later callers
// get nil, which makes disconnect handling idempotent.
func (s *CallSession) Deactivate() context.CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return nil
	}
	s.active = false
	cancel := s.cancel
	s.cancel = nil
	return cancel
}

// BindCancel attaches the relay loop's cancel func to the session and
// reports whether the session is still live. A false return means
// disconnect processing already began, so the cancel was not stored
// and the caller must trigger it itself instead of starting the relay.
func (s *CallSession) BindCancel(cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return false
	}
	s.cancel = cancel
	return true
}

// Snapshot is a consistent, lock-free copy of a session's state.
type Snapshot struct {
	CorrelationID     string
	ConversationID    string
	CallerID          string
	CalleeID          string
	CallerDisplayName string
	CallerType        CallerType
	HasCallerInfo     bool
	HasCalleeInfo     bool
	DTMFSequence      string
	HasDTMFInput      bool
	MessageCount      int64
	CallStart         time.Time
	LastActivity      time.Time
	Active            bool
}

// Snapshot copies the session's fields under its lock so readers never
// observe a torn state.
func (s *CallSession) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		CorrelationID:     s.CorrelationID,
		ConversationID:    s.conversationID,
		CallerID:          s.callerID,
		CalleeID:          s.calleeID,
		CallerDisplayName: s.callerDisplayName,
		CallerType:        s.callerType,
		HasCallerInfo:     s.hasCallerInfo,
		HasCalleeInfo:     s.hasCalleeInfo,
		DTMFSequence:      s.dtmfSequence.String(),
		HasDTMFInput:      s.hasDTMFInput,
		MessageCount:      s.messageCount,
		CallStart:         s.callStart,
		LastActivity:      s.lastActivity,
		Active:            s.active,
	}
}
