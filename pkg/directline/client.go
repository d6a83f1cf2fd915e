// Package directline connects a bridged phone call to a Copilot Studio
// bot over the Direct Line protocol: conversation open with an auth
// fallback, outbound message posts, and the streaming receive loop that
// classifies bot activities.
package directline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/holgerimbery/ACSforMCS-sub000/pkg/retry"
)

// ============================================
// DIRECT LINE CLIENT
// Conversation open, token fallback, message send
// ============================================

// ErrAuthRejected marks a 401/403 from the Direct Line endpoint. It is
// an expected branch, not a fault: the caller switches to the token
// exchange path exactly once before giving up.
var ErrAuthRejected = errors.New("direct line auth rejected")

// Conversation is the short-lived handle returned by a conversation
// open: the ID outbound messages post to, the websocket endpoint the
// relay loop reads from, and an optional per-conversation token.
type Conversation struct {
	ConversationID string `json:"conversationId"`
	StreamURL      string `json:"streamUrl"`
	Token          string `json:"token"`
}

// Client talks to a Direct Line endpoint on behalf of one bridge.
type Client struct {
	endpoint    string
	secret      string
	httpClient  *http.Client
	retryConfig retry.Config

	// mu guards credentials: conversation ID -> the credential that
	// opened it. Populated only when a conversation was opened with a
	// per-conversation token; conversations opened with the secret are
	// absent and fall back to it.
	mu          sync.Mutex
	credentials map[string]string
}

// NewClient creates a Direct Line client. endpoint is the API base,
// e.g. https://directline.botframework.com/v3/directline.
func NewClient(endpoint, secret string) *Client {
	return &Client{
		endpoint:    endpoint,
		secret:      secret,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		retryConfig: retry.DefaultConfig(),
		credentials: make(map[string]string),
	}
}

// StartConversation opens a conversation with the bot. The primary
// secret is tried first; on an auth rejection the token exchange path
// is tried once. Transient transport errors are retried with backoff
// on both paths.
func (c *Client) StartConversation(ctx context.Context) (*Conversation, error) {
	conv, err := c.openConversation(ctx, c.secret)
	if err == nil {
		c.rememberCredential(conv.ConversationID, conv.Token)
		return conv, nil
	}
	if !errors.Is(err, ErrAuthRejected) {
		return nil, err
	}

	// The two auth mechanisms have inconsistent availability; a secret
	// rejection is retryable with the alternate method, once.
	token, tokenErr := c.generateToken(ctx)
	if tokenErr != nil {
		return nil, fmt.Errorf("token fallback after auth rejection: %w", tokenErr)
	}

	conv, err = c.openConversation(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("token fallback after auth rejection: %w", err)
	}

	// The rejected secret must not be replayed on later message posts
	// for this conversation.
	credential := conv.Token
	if credential == "" {
		credential = token
	}
	c.rememberCredential(conv.ConversationID, credential)
	return conv, nil
}

// SendMessage posts one user utterance into the conversation. Empty
// text is a no-op and reports false without error.
func (c *Client) SendMessage(ctx context.Context, conversationID, text string) (bool, error) {
	if text == "" {
		return false, nil
	}
	if conversationID == "" {
		return false, fmt.Errorf("conversation ID required")
	}

	frame := map[string]interface{}{
		"type": activityTypeMessage,
		"from": map[string]string{"id": userParticipantID},
		"text": text,
	}
	body, err := json.Marshal(frame)
	if err != nil {
		return false, fmt.Errorf("failed to marshal message frame: %w", err)
	}

	reqURL := fmt.Sprintf("%s/conversations/%s/activities", c.endpoint, conversationID)

	err = retry.Do(ctx, c.retryConfig, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.credential(conversationID))

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		return c.checkStatus(resp)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// EndConversation drops the per-conversation credential once the call
// is torn down.
func (c *Client) EndConversation(conversationID string) {
	c.mu.Lock()
	delete(c.credentials, conversationID)
	c.mu.Unlock()
}

// rememberCredential records the credential later message posts must
// use. Conversations running on the shared secret are not recorded.
func (c *Client) rememberCredential(conversationID, credential string) {
	if conversationID == "" || credential == "" || credential == c.secret {
		return
	}
	c.mu.Lock()
	c.credentials[conversationID] = credential
	c.mu.Unlock()
}

func (c *Client) credential(conversationID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if credential, ok := c.credentials[conversationID]; ok {
		return credential
	}
	return c.secret
}

// openConversation performs one conversation open with the given
// credential, retrying transient failures.
func (c *Client) openConversation(ctx context.Context, credential string) (*Conversation, error) {
	reqURL := c.endpoint + "/conversations"

	var conv Conversation
	err := retry.Do(ctx, c.retryConfig, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, nil)
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+credential)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if err := c.checkStatus(resp); err != nil {
			return err
		}

		if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
			return retry.Permanent(fmt.Errorf("failed to decode conversation: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if conv.ConversationID == "" {
		return nil, fmt.Errorf("conversation open returned no conversation ID")
	}
	return &conv, nil
}

// generateToken exchanges the secret for a scoped token.
func (c *Client) generateToken(ctx context.Context) (string, error) {
	reqURL := c.endpoint + "/tokens/generate"

	var result struct {
		Token string `json:"token"`
	}
	err := retry.Do(ctx, c.retryConfig, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, nil)
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.secret)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if err := c.checkStatus(resp); err != nil {
			return err
		}

		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return retry.Permanent(fmt.Errorf("failed to decode token: %w", err))
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if result.Token == "" {
		return "", fmt.Errorf("token generation returned no token")
	}
	return result.Token, nil
}

// checkStatus maps HTTP statuses onto the error taxonomy: auth
// rejections are permanent and sentinel-tagged, server errors retry,
// other client errors are permanent.
func (c *Client) checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return retry.Permanent(fmt.Errorf("%w (%d)", ErrAuthRejected, resp.StatusCode))
	case resp.StatusCode >= 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("direct line API error (%d): %s", resp.StatusCode, string(body))
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return retry.Permanent(fmt.Errorf("direct line API error (%d): %s", resp.StatusCode, string(body)))
	}
}
