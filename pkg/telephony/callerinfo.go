package telephony

import (
	"strings"

	"github.com/google/uuid"

	"github.com/holgerimbery/ACSforMCS-sub000/pkg/session"
)

// ============================================
// CALLER INFO EXTRACTION
// Identity enrichment from call-setup data
// ============================================

// CallerStatus classifies how much identity the setup data yielded.
type CallerStatus string

const (
	StatusAvailable          CallerStatus = "available"
	StatusPartiallyAvailable CallerStatus = "partially_available"
	StatusBlocked            CallerStatus = "blocked"
	StatusInternational      CallerStatus = "international"
	StatusInternal           CallerStatus = "internal"
	StatusUnavailable        CallerStatus = "unavailable"
)

// CallSetupData is the raw identity material delivered with an
// incoming-call event, one set of candidate fields per side.
type CallSetupData struct {
	CallerPhoneNumber string
	CallerACSUserID   string
	CallerRawID       string
	CallerDisplayName string

	CalleePhoneNumber string
	CalleeACSUserID   string
	CalleeRawID       string
}

// CallerInfo is the extraction result written into the call session.
type CallerInfo struct {
	CallerID    string
	CalleeID    string
	DisplayName string
	CallerType  session.CallerType
	Status      CallerStatus
	HasCaller   bool
	HasCallee   bool
}

// blockedMarkers are the explicit withheld-identity values providers
// substitute for a suppressed caller ID.
var blockedMarkers = []string{"anonymous", "restricted", "blocked", "private", "unavailable", "withheld"}

// standardE164Length is the digit count beyond which a valid number is
// classified as international rather than a domestic subscriber number.
const standardE164Length = 11

// ExtractCallerInfo derives caller and callee identity from call-setup
// data. Three strategies run in order per side (E.164 phone value,
// platform-internal user ID, raw opaque ID); the first non-empty match
// wins. It never fails: when nothing is found a synthesized placeholder
// ID is returned with StatusUnavailable.
func ExtractCallerInfo(setup CallSetupData) CallerInfo {
	callerID, callerType := firstIdentity(setup.CallerPhoneNumber, setup.CallerACSUserID, setup.CallerRawID)
	calleeID, _ := firstIdentity(setup.CalleePhoneNumber, setup.CalleeACSUserID, setup.CalleeRawID)

	info := CallerInfo{
		CallerID:    callerID,
		CalleeID:    calleeID,
		DisplayName: strings.TrimSpace(setup.CallerDisplayName),
		CallerType:  callerType,
		HasCaller:   callerID != "",
		HasCallee:   calleeID != "",
	}
	info.Status = classifyCaller(info)

	if !info.HasCaller {
		// Downstream always needs a usable key even for a fully
		// anonymous call.
		info.CallerID = "caller-" + uuid.New().String()[:8]
	}
	return info
}

// firstIdentity applies the three extraction strategies in priority
// order.
func firstIdentity(phone, acsUserID, rawID string) (string, session.CallerType) {
	if v := strings.TrimSpace(phone); v != "" {
		return v, session.CallerTypePSTN
	}
	if v := strings.TrimSpace(acsUserID); v != "" {
		return v, session.CallerTypeACS
	}
	if v := strings.TrimSpace(rawID); v != "" {
		return v, session.CallerTypeRaw
	}
	return "", session.CallerTypeUnknown
}

func classifyCaller(info CallerInfo) CallerStatus {
	if !info.HasCaller {
		return StatusUnavailable
	}

	lowered := strings.ToLower(info.CallerID)
	for _, marker := range blockedMarkers {
		if strings.Contains(lowered, marker) {
			return StatusBlocked
		}
	}

	switch info.CallerType {
	case session.CallerTypeACS:
		return StatusInternal
	case session.CallerTypePSTN:
		if isValidE164(info.CallerID) && len(info.CallerID)-1 > standardE164Length {
			return StatusInternational
		}
	}

	if info.HasCallee && info.DisplayName != "" {
		return StatusAvailable
	}
	return StatusPartiallyAvailable
}

// isValidE164 checks for a leading + followed by 2-15 digits.
func isValidE164(phone string) bool {
	if len(phone) < 3 || len(phone) > 16 {
		return false
	}
	if phone[0] != '+' {
		return false
	}
	for _, c := range phone[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
