// Package testhelpers provides common utilities for testing the ClipRelay server.
//
// It contains helpers shared by package tests for building WebSocket URLs,
// dialing subscribers, posting publishes and reading JSON frames.
package testhelpers

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// SubscribeURL builds the ws:// subscribe URL for an httptest server base URL.
func SubscribeURL(t *testing.T, baseURL, room, token string) string {
	t.Helper()
	u, err := url.Parse(baseURL)
	require.NoError(t, err)
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = "/ws"
	q := url.Values{}
	q.Set("room", room)
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// ConnectWebSocket dials url with a 5-second handshake timeout. The handshake
// response body is closed before returning.
func ConnectWebSocket(url string, header http.Header) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, resp, err := dialer.Dial(url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// Subscribe dials the subscribe endpoint and fails the test on error. The
// connection is closed on cleanup.
func Subscribe(t *testing.T, baseURL, room, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := ConnectWebSocket(SubscribeURL(t, baseURL, room, token), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// ReceiveJSON reads one frame within timeout and decodes it as a JSON object.
func ReceiveJSON(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var message map[string]any
	require.NoError(t, json.Unmarshal(data, &message), "frame is not JSON: %s", data)
	return message
}

// ExpectNoMessage asserts that no data frame arrives within timeout.
func ExpectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "expected no message, got %s", data)
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return
	}
	t.Fatalf("unexpected error while waiting for absence of message: %v", err)
}

// ExpectCloseCode reads until the connection fails and asserts the close
// code, returning any data frames seen before the close.
func ExpectCloseCode(t *testing.T, conn *websocket.Conn, code int, timeout time.Duration) [][]byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	var frames [][]byte
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			require.True(t, websocket.IsCloseError(err, code), "expected close code %d, got %v", code, err)
			return frames
		}
		frames = append(frames, data)
	}
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// PostJSON sends body as JSON to baseURL+path and decodes the JSON response.
func PostJSON(t *testing.T, baseURL, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	return PostRaw(t, baseURL, path, payload)
}

// PostRaw sends payload unchanged and decodes the JSON response.
func PostRaw(t *testing.T, baseURL, path string, payload []byte) (*http.Response, map[string]any) {
	t.Helper()
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(baseURL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}
