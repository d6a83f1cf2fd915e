package directline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================
// STREAMING RELAY LOOP
// One loop per call, bound to that call's context
// ============================================

const (
	// keepAliveInterval spaces ping frames to prevent idle-timeout
	// disconnection on the Direct Line stream.
	keepAliveInterval = 20 * time.Second

	// closeGracePeriod bounds the graceful close handshake on cancel.
	closeGracePeriod = 2 * time.Second

	// maxPendingBytes caps the fragment reassembly buffer.
	maxPendingBytes = 256 * 1024
)

// ActivitySink receives every non-Silent classified activity read from
// the stream.
type ActivitySink interface {
	OnActivity(activity Activity)
}

// RunRelayLoop opens the Direct Line websocket stream and, until ctx
// is cancelled or the peer closes, classifies each complete frame and
// forwards actionable activities to sink. It returns an error only
// when the stream cannot be opened; read failures and non-graceful
// closes end the loop with a log line, never an escalation.
func (c *Client) RunRelayLoop(ctx context.Context, streamURL string, sink ActivitySink) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return fmt.Errorf("failed to open activity stream: %w", err)
	}
	defer conn.Close()

	log.Printf("[DirectLine] Activity stream opened: %s", streamURL)

	frames := make(chan []byte, 16)
	readDone := make(chan error, 1)

	// Reader goroutine: the main loop owns all writes (pings, close),
	// the reader only reads, so the connection never sees concurrent
	// writers.
	go func() {
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				readDone <- err
				return
			}
			select {
			case frames <- message:
			case <-ctx.Done():
				readDone <- ctx.Err()
				return
			}
		}
	}()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	var pending []byte

	for {
		select {
		case <-ctx.Done():
			c.closeGracefully(conn, readDone)
			return nil

		case err := <-readDone:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[DirectLine] Stream closed abnormally: %v", err)
			}
			return nil

		case message := <-frames:
			payload, complete := reassembleFrame(&pending, message)
			if !complete {
				continue
			}
			if activity := Classify(payload); activity.Kind != KindSilent {
				sink.OnActivity(activity)
			}

		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Printf("[DirectLine] Keep-alive failed: %v", err)
				return nil
			}
		}
	}
}

// closeGracefully sends a close frame and waits briefly for the peer
// to acknowledge. A missed handshake is logged, not escalated.
func (c *Client) closeGracefully(conn *websocket.Conn, readDone <-chan error) {
	deadline := time.Now().Add(closeGracePeriod)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		log.Printf("[DirectLine] Close frame failed: %v", err)
		return
	}

	select {
	case <-readDone:
	case <-time.After(closeGracePeriod):
		log.Printf("[DirectLine] Graceful close timed out")
	}
}

// reassembleFrame stitches JSON payloads split across transport frames
// back together. A frame that begins an object but does not parse is
// buffered until the continuation arrives; anything else passes
// through as-is (the classifier silences non-JSON noise).
func reassembleFrame(pending *[]byte, frame []byte) ([]byte, bool) {
	if len(*pending) > 0 {
		combined := append(*pending, frame...)
		if json.Valid(combined) {
			*pending = nil
			return combined, true
		}
		if len(combined) <= maxPendingBytes && !looksLikeObjectStart(frame) {
			*pending = combined
			return nil, false
		}
		// The buffered fragment never completed; drop it and let the
		// new frame stand alone.
		*pending = nil
	}

	trimmed := bytes.TrimSpace(frame)
	if looksLikeObjectStart(trimmed) && !json.Valid(trimmed) && len(trimmed) <= maxPendingBytes {
		*pending = append([]byte(nil), frame...)
		return nil, false
	}
	return frame, true
}

func looksLikeObjectStart(b []byte) bool {
	trimmed := bytes.TrimSpace(b)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
