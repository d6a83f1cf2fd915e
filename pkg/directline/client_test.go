package directline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/holgerimbery/ACSforMCS-sub000/pkg/retry"
)

func fastRetry() retry.Config {
	return retry.Config{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Factor:       2.0,
	}
}

func testClient(serverURL string) *Client {
	c := NewClient(serverURL, "primary-secret")
	c.retryConfig = fastRetry()
	return c
}

func TestStartConversationPrimarySuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer primary-secret" {
			t.Errorf("Authorization = %q", got)
		}
		json.NewEncoder(w).Encode(Conversation{
			ConversationID: "conv-1",
			StreamURL:      "wss://stream/conv-1",
		})
	}))
	defer server.Close()

	conv, err := testClient(server.URL).StartConversation(context.Background())
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	if conv.ConversationID != "conv-1" || conv.StreamURL != "wss://stream/conv-1" {
		t.Errorf("conversation = %+v", conv)
	}
}

func TestStartConversationAuthFallback(t *testing.T) {
	var opens atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/conversations":
			if opens.Add(1) == 1 {
				// Primary secret rejected.
				if r.Header.Get("Authorization") != "Bearer primary-secret" {
					t.Errorf("first open auth = %q", r.Header.Get("Authorization"))
				}
				w.WriteHeader(http.StatusForbidden)
				return
			}
			if got := r.Header.Get("Authorization"); got != "Bearer exchanged-token" {
				t.Errorf("fallback open auth = %q", got)
			}
			json.NewEncoder(w).Encode(Conversation{ConversationID: "conv-2", StreamURL: "wss://s"})
		case "/tokens/generate":
			json.NewEncoder(w).Encode(map[string]string{"token": "exchanged-token"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	conv, err := testClient(server.URL).StartConversation(context.Background())
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	if conv.ConversationID != "conv-2" {
		t.Errorf("ConversationID = %q", conv.ConversationID)
	}
	if got := opens.Load(); got != 2 {
		t.Errorf("conversation opens = %d, want 2 (auth rejections must not be retried)", got)
	}
}

func TestSendMessageUsesFallbackToken(t *testing.T) {
	// A backend that rejects the secret everywhere: the exchanged token
	// must carry the whole conversation, not just the open.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/tokens/generate":
			json.NewEncoder(w).Encode(map[string]string{"token": "exchanged-token"})
		case r.Header.Get("Authorization") != "Bearer exchanged-token":
			w.WriteHeader(http.StatusForbidden)
		case r.URL.Path == "/conversations":
			json.NewEncoder(w).Encode(Conversation{ConversationID: "conv-3", StreamURL: "wss://s"})
		case r.URL.Path == "/conversations/conv-3/activities":
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := testClient(server.URL)
	conv, err := client.StartConversation(context.Background())
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}

	sent, err := client.SendMessage(context.Background(), conv.ConversationID, "hello")
	if err != nil {
		t.Fatalf("SendMessage after fallback: %v", err)
	}
	if !sent {
		t.Error("message not sent")
	}

	// Dropping the conversation credential falls back to the secret,
	// which this backend rejects.
	client.EndConversation(conv.ConversationID)
	if _, err := client.SendMessage(context.Background(), conv.ConversationID, "late"); err == nil {
		t.Error("expected auth failure once the conversation credential is dropped")
	}
}

func TestStartConversationBothAuthPathsFail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, err := testClient(server.URL).StartConversation(context.Background())
	if err == nil {
		t.Fatal("expected error when both auth paths fail")
	}
	if !errors.Is(err, ErrAuthRejected) {
		t.Errorf("error = %v, want ErrAuthRejected in chain", err)
	}
}

func TestStartConversationRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(Conversation{ConversationID: "conv-3"})
	}))
	defer server.Close()

	conv, err := testClient(server.URL).StartConversation(context.Background())
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	if conv.ConversationID != "conv-3" {
		t.Errorf("ConversationID = %q", conv.ConversationID)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestSendMessageEmptyTextIsNoOp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty text")
	}))
	defer server.Close()

	sent, err := testClient(server.URL).SendMessage(context.Background(), "conv-1", "")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if sent {
		t.Error("sent = true for empty text")
	}
}

func TestSendMessagePostsUserFrame(t *testing.T) {
	var frame struct {
		Type string `json:"type"`
		From struct {
			ID string `json:"id"`
		} `json:"from"`
		Text string `json:"text"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations/conv-1/activities" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&frame); err != nil {
			t.Errorf("decode frame: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sent, err := testClient(server.URL).SendMessage(context.Background(), "conv-1", "hello bot")
	if err != nil || !sent {
		t.Fatalf("SendMessage = (%v, %v)", sent, err)
	}
	if frame.Type != "message" || frame.From.ID != "user1" || frame.Text != "hello bot" {
		t.Errorf("frame = %+v", frame)
	}
}

func TestSendMessageRequiresConversation(t *testing.T) {
	if _, err := testClient("http://unused").SendMessage(context.Background(), "", "hi"); err == nil {
		t.Error("expected error for missing conversation ID")
	}
}
