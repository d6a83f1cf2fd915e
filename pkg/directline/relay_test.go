package directline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type collectingSink struct {
	mu         sync.Mutex
	activities []Activity
}

func (s *collectingSink) OnActivity(a Activity) {
	s.mu.Lock()
	s.activities = append(s.activities, a)
	s.mu.Unlock()
}

func (s *collectingSink) snapshot() []Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Activity(nil), s.activities...)
}

func (s *collectingSink) waitFor(t *testing.T, n int) []Activity {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := s.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d activities, have %d", n, len(s.snapshot()))
	return nil
}

var relayUpgrader = websocket.Upgrader{}

// streamServer runs serve on each websocket connection and returns the
// ws:// URL to dial.
func streamServer(t *testing.T, serve func(*websocket.Conn)) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := relayUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		serve(conn)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestRelayLoopForwardsActionableActivities(t *testing.T) {
	url := streamServer(t, func(conn *websocket.Conn) {
		frames := []string{
			`{}`, // keep-alive noise
			`{"activities":[{"type":"message","from":{"id":"bot"},"text":"first"}]}`,
			`{"activities":[{"type":"message","from":{"id":"user1"},"text":"echo"}]}`,
			`{"activities":[{"type":"message","from":{"id":"bot"},"text":"second"}]}`,
		}
		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		// Hold the connection open until the client closes.
		conn.ReadMessage()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &collectingSink{}
	done := make(chan error, 1)
	go func() {
		done <- NewClient("http://unused", "secret").RunRelayLoop(ctx, url, sink)
	}()

	got := sink.waitFor(t, 2)
	if got[0].Text != "first" || got[1].Text != "second" {
		t.Errorf("activities = %+v", got)
	}
	for _, a := range got {
		if a.Kind != KindMessage {
			t.Errorf("Kind = %q, want message", a.Kind)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("RunRelayLoop returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("relay loop did not exit after cancellation")
	}
}

func TestRelayLoopReassemblesSplitFrames(t *testing.T) {
	whole := `{"activities":[{"type":"message","from":{"id":"bot"},"text":"stitched together"}]}`
	split := len(whole) / 2

	url := streamServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(whole[:split]))
		conn.WriteMessage(websocket.TextMessage, []byte(whole[split:]))
		conn.ReadMessage()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &collectingSink{}
	go NewClient("http://unused", "secret").RunRelayLoop(ctx, url, sink)

	got := sink.waitFor(t, 1)
	if got[0].Kind != KindMessage || got[0].Text != "stitched together" {
		t.Errorf("activity = %+v", got[0])
	}
}

func TestRelayLoopDialFailure(t *testing.T) {
	err := NewClient("http://unused", "secret").
		RunRelayLoop(context.Background(), "ws://127.0.0.1:1/stream", &collectingSink{})
	if err == nil {
		t.Error("expected dial error")
	}
}

func TestRelayLoopPeerClose(t *testing.T) {
	url := streamServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	})

	done := make(chan error, 1)
	go func() {
		done <- NewClient("http://unused", "secret").
			RunRelayLoop(context.Background(), url, &collectingSink{})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("RunRelayLoop returned %v on peer close", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("relay loop did not exit on peer close")
	}
}

func TestReassembleFrame(t *testing.T) {
	t.Run("complete frame passes through", func(t *testing.T) {
		var pending []byte
		payload, complete := reassembleFrame(&pending, []byte(`{"a":1}`))
		if !complete || string(payload) != `{"a":1}` {
			t.Errorf("got (%q, %v)", payload, complete)
		}
	})

	t.Run("fragment buffered then completed", func(t *testing.T) {
		var pending []byte
		if _, complete := reassembleFrame(&pending, []byte(`{"a":`)); complete {
			t.Fatal("fragment reported complete")
		}
		payload, complete := reassembleFrame(&pending, []byte(`1}`))
		if !complete || string(payload) != `{"a":1}` {
			t.Errorf("got (%q, %v)", payload, complete)
		}
		if len(pending) != 0 {
			t.Errorf("pending not cleared: %q", pending)
		}
	})

	t.Run("non-json passes through for the classifier", func(t *testing.T) {
		var pending []byte
		payload, complete := reassembleFrame(&pending, []byte("ping"))
		if !complete || string(payload) != "ping" {
			t.Errorf("got (%q, %v)", payload, complete)
		}
	})

	t.Run("stale fragment dropped when new object starts", func(t *testing.T) {
		var pending []byte
		reassembleFrame(&pending, []byte(`{"never":`))
		payload, complete := reassembleFrame(&pending, []byte(`{"fresh":true}`))
		if !complete || string(payload) != `{"fresh":true}` {
			t.Errorf("got (%q, %v)", payload, complete)
		}
	})
}
