package telephony

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
)

// ============================================
// ACS CALLBACK HANDLERS
// HTTP endpoints translating provider events
// into orchestrator calls
// ============================================

// Handlers owns the HTTP endpoints ACS calls back into.
type Handlers struct {
	orchestrator *Orchestrator
	control      CallControl
	callbackURI  string
}

// NewHandlers creates the callback handler set. callbackURI is the
// public URL ACS should deliver mid-call events to.
func NewHandlers(orchestrator *Orchestrator, control CallControl, callbackURI string) *Handlers {
	return &Handlers{
		orchestrator: orchestrator,
		control:      control,
		callbackURI:  callbackURI,
	}
}

// callbackEvent is the slice element of an ACS callback batch. Only
// the fields the bridge acts on are decoded.
type callbackEvent struct {
	Type string `json:"type"`
	Data struct {
		CorrelationID       string `json:"correlationId"`
		IncomingCallContext string `json:"incomingCallContext"`
		ResultInformation   struct {
			Message string `json:"message"`
		} `json:"resultInformation"`
		RecognitionType string `json:"recognitionType"`
		SpeechResult    struct {
			Speech string `json:"speech"`
		} `json:"speechResult"`
		DtmfResult struct {
			Tones []string `json:"tones"`
		} `json:"dtmfResult"`
		From struct {
			Kind        string `json:"kind"`
			RawID       string `json:"rawId"`
			PhoneNumber struct {
				Value string `json:"value"`
			} `json:"phoneNumber"`
			CommunicationUser struct {
				ID string `json:"id"`
			} `json:"communicationUser"`
		} `json:"from"`
		To struct {
			RawID       string `json:"rawId"`
			PhoneNumber struct {
				Value string `json:"value"`
			} `json:"phoneNumber"`
			CommunicationUser struct {
				ID string `json:"id"`
			} `json:"communicationUser"`
		} `json:"to"`
		CallerDisplayName string `json:"callerDisplayName"`
	} `json:"data"`
}

// HandleIncomingCall answers a ringing call, pointing mid-call events
// at the callback endpoint.
func (h *Handlers) HandleIncomingCall(w http.ResponseWriter, r *http.Request) {
	events, ok := h.decodeEvents(w, r)
	if !ok {
		return
	}

	for _, event := range events {
		if event.Data.IncomingCallContext == "" {
			continue
		}
		if err := h.control.Answer(r.Context(), event.Data.IncomingCallContext, h.callbackURI); err != nil {
			log.Printf("[Handlers] Answer failed: %v", err)
			http.Error(w, "answer failed", http.StatusBadGateway)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

// HandleCallbacks dispatches mid-call events to the orchestrator.
func (h *Handlers) HandleCallbacks(w http.ResponseWriter, r *http.Request) {
	events, ok := h.decodeEvents(w, r)
	if !ok {
		return
	}

	for _, event := range events {
		h.dispatch(r, event)
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) dispatch(r *http.Request, event callbackEvent) {
	correlationID := event.Data.CorrelationID
	if correlationID == "" {
		return
	}

	switch event.Type {
	case "Microsoft.Communication.CallConnected":
		setup := CallSetupData{
			CallerPhoneNumber: event.Data.From.PhoneNumber.Value,
			CallerACSUserID:   event.Data.From.CommunicationUser.ID,
			CallerRawID:       event.Data.From.RawID,
			CallerDisplayName: event.Data.CallerDisplayName,
			CalleePhoneNumber: event.Data.To.PhoneNumber.Value,
			CalleeACSUserID:   event.Data.To.CommunicationUser.ID,
			CalleeRawID:       event.Data.To.RawID,
		}
		if err := h.orchestrator.HandleCallConnected(r.Context(), correlationID, setup); err != nil {
			log.Printf("[Handlers] Call connect handling failed: %v", err)
		}

	case "Microsoft.Communication.CallDisconnected":
		h.orchestrator.HandleCallDisconnected(r.Context(), correlationID)

	case "Microsoft.Communication.CallTransferAccepted":
		h.orchestrator.HandleTransferAccepted(correlationID)

	case "Microsoft.Communication.CallTransferFailed":
		h.orchestrator.HandleTransferFailed(correlationID, event.Data.ResultInformation.Message)

	case "Microsoft.Communication.RecognizeCompleted":
		switch event.Data.RecognitionType {
		case "speech":
			if err := h.orchestrator.HandleRecognizedSpeech(r.Context(), correlationID, event.Data.SpeechResult.Speech); err != nil {
				log.Printf("[Handlers] Speech relay failed: %v", err)
			}
		case "dtmf":
			for _, tone := range event.Data.DtmfResult.Tones {
				if err := h.orchestrator.HandleRecognizedDTMF(r.Context(), correlationID, tone); err != nil {
					log.Printf("[Handlers] DTMF relay failed: %v", err)
				}
			}
		}

	default:
		// Other mid-call events carry no work for the bridge.
	}
}

func (h *Handlers) decodeEvents(w http.ResponseWriter, r *http.Request) ([]callbackEvent, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return nil, false
	}

	var events []callbackEvent
	if err := json.Unmarshal(body, &events); err != nil {
		// ACS also delivers single-object payloads.
		var single callbackEvent
		if err := json.Unmarshal(body, &single); err != nil {
			http.Error(w, "invalid event payload", http.StatusBadRequest)
			return nil, false
		}
		events = []callbackEvent{single}
	}
	return events, true
}

// RegisterRoutes registers the callback routes.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/calls/incoming", h.HandleIncomingCall)
	mux.HandleFunc("/api/calls/callbacks", h.HandleCallbacks)

	log.Printf("[Handlers] Registered call handler routes")
}
