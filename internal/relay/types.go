package relay

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Message is the frame delivered to subscribers for every publish.
type Message struct {
	Text string `json:"text"`
}

// Ack is the confirmation frame sent once a subscription is accepted.
type Ack struct {
	OK  bool   `json:"ok"`
	Msg string `json:"msg"`
}

// PublishRequest is a single publish call as seen by the Dispatcher.
// Source identifies the caller for rate limiting, usually its IP address.
type PublishRequest struct {
	Room   string
	Token  string
	Text   string
	Source string
}

var connectedAck = mustMarshal(Ack{OK: true, Msg: "connected"})

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// EncodeMessage renders the subscriber frame for text.
func EncodeMessage(text string) ([]byte, error) {
	return json.Marshal(Message{Text: text})
}

// Fingerprint returns a short non-reversible identifier for a room key so
// logs can correlate events without exposing the room name.
func Fingerprint(room string) string {
	sum := sha256.Sum256([]byte(room))
	return hex.EncodeToString(sum[:6])
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
