package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ============================================
// ACS CALL AUTOMATION CLIENT
// REST implementation of the CallControl primitives
// ============================================

const acsAPIVersion = "2023-10-15"

// ACSClient is an Azure Communication Services Call Automation client.
type ACSClient struct {
	endpoint   string
	accessKey  string
	voiceName  string
	httpClient *http.Client
}

// NewACSClient creates a call automation client. voiceName selects the
// speech synthesis voice used for playback SSML.
func NewACSClient(endpoint, accessKey, voiceName string) *ACSClient {
	if voiceName == "" {
		voiceName = "en-US-JennyNeural"
	}
	return &ACSClient{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		accessKey:  accessKey,
		voiceName:  voiceName,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Answer accepts an incoming call.
func (c *ACSClient) Answer(ctx context.Context, incomingCallContext, callbackURI string) error {
	payload := map[string]interface{}{
		"incomingCallContext": incomingCallContext,
		"callbackUri":         callbackURI,
	}

	reqURL := fmt.Sprintf("%s/calling/callConnections:answer?api-version=%s", c.endpoint, acsAPIVersion)
	return c.post(ctx, reqURL, payload, nil)
}

// PlaySpeech plays synthesized speech to all participants. A call whose
// media is gone (already ended or mid-transfer) surfaces as
// ErrCallMediaNotEstablished so the caller stops further playback.
func (c *ACSClient) PlaySpeech(ctx context.Context, correlationID, ssml string) error {
	payload := map[string]interface{}{
		"playSources": []map[string]interface{}{
			{
				"kind": "ssml",
				"ssml": map[string]string{"ssmlText": c.wrapSSML(ssml)},
			},
		},
		"playTo": []interface{}{},
	}

	reqURL := fmt.Sprintf("%s/calling/callConnections/%s:playToAll?api-version=%s",
		c.endpoint, correlationID, acsAPIVersion)

	return c.post(ctx, reqURL, payload, mediaStatusCheck)
}

// TransferToNumber hands the call off to an external PSTN number.
func (c *ACSClient) TransferToNumber(ctx context.Context, correlationID, target string) error {
	payload := map[string]interface{}{
		"targetParticipant": map[string]interface{}{
			"kind":        "phoneNumber",
			"phoneNumber": map[string]string{"value": target},
		},
	}

	reqURL := fmt.Sprintf("%s/calling/callConnections/%s:transferToParticipant?api-version=%s",
		c.endpoint, correlationID, acsAPIVersion)

	return c.post(ctx, reqURL, payload, nil)
}

// HangUp terminates the call for everyone.
func (c *ACSClient) HangUp(ctx context.Context, correlationID string) error {
	reqURL := fmt.Sprintf("%s/calling/callConnections/%s?api-version=%s",
		c.endpoint, correlationID, acsAPIVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Hanging up a call that is already gone is a no-op.
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return checkACSStatus(resp, nil)
}

// wrapSSML wraps bare text in a speak envelope with the configured
// voice; text that already carries a speak element passes through.
func (c *ACSClient) wrapSSML(text string) string {
	if strings.Contains(text, "<speak") {
		return text
	}
	return fmt.Sprintf(
		`<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xml:lang="en-US"><voice name="%s">%s</voice></speak>`,
		c.voiceName, escapeSSML(text))
}

func escapeSSML(text string) string {
	replacer := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return replacer.Replace(text)
}

// post sends a JSON payload and applies the optional status check.
func (c *ACSClient) post(ctx context.Context, reqURL string, payload interface{}, statusCheck func(*http.Response) error) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return checkACSStatus(resp, statusCheck)
}

// mediaStatusCheck maps the statuses ACS returns for playback on a
// dead or transitioning call onto ErrCallMediaNotEstablished.
func mediaStatusCheck(resp *http.Response) error {
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusConflict {
		return fmt.Errorf("%w (%d)", ErrCallMediaNotEstablished, resp.StatusCode)
	}
	return nil
}

func checkACSStatus(resp *http.Response, statusCheck func(*http.Response) error) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if statusCheck != nil {
		if err := statusCheck(resp); err != nil {
			return err
		}
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("ACS API error (%d): %s", resp.StatusCode, string(body))
}
