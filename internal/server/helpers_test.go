package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomrelay/internal/auth"
	"github.com/Tyrowin/roomrelay/internal/room"
	"github.com/Tyrowin/roomrelay/internal/server"
	"github.com/Tyrowin/roomrelay/internal/store"
)

const (
	testOriginURL = "http://localhost:8080"
	readTimeout   = 2 * time.Second
)

type testEnv struct {
	http   *httptest.Server
	server *server.Server
	rooms  *room.Manager
}

// newTestServer starts the full route set on an httptest server. customize
// may adjust the configuration before anything is built.
func newTestServer(t *testing.T, customize func(cfg *server.Config)) *testEnv {
	t.Helper()

	cfg := server.NewConfig()
	cfg.AllowedOrigins = []string{testOriginURL}
	if customize != nil {
		customize(cfg)
	}

	roomCfg, err := cfg.RoomConfig()
	require.NoError(t, err)
	roomCfg.PersistRetryBackoff = 0

	creds, err := auth.ParseCredentials(cfg.Users)
	require.NoError(t, err)
	tokens := auth.NewTokenManager(cfg.TokenConfig())

	rooms := room.NewManager(store.NewMemory(), roomCfg)
	srv := server.New(*cfg, rooms, creds, tokens)
	ts := httptest.NewServer(srv.SetupRoutes())

	t.Cleanup(ts.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	return &testEnv{http: ts, server: srv, rooms: rooms}
}

func (e *testEnv) wsURL(query string) string {
	u := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws"
	if query != "" {
		u += "?" + query
	}
	return u
}

func newOriginHeader(origin string) http.Header {
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return header
}

// dialStatus attempts a handshake and returns the connection (nil on
// failure) and the HTTP status of the response.
func (e *testEnv) dialStatus(t *testing.T, query, origin string) (*websocket.Conn, int) {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(e.wsURL(query), newOriginHeader(origin))
	status := 0
	if resp != nil {
		status = resp.StatusCode
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, status
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn, status
}

// dial connects and consumes the identity assignment, returning the
// assigned identity.
func (e *testEnv) dial(t *testing.T, query string) (*websocket.Conn, string) {
	t.Helper()
	conn, status := e.dialStatus(t, query, testOriginURL)
	require.NotNil(t, conn, "handshake failed with status %d", status)

	first := readEnvelope(t, conn)
	require.Equal(t, room.TypeIdentity, first["type"])
	return conn, first["nick"].(string)
}

func readEnvelope(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

// readUntilType skips payloads until one of type typ arrives.
func readUntilType(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()
	for {
		msg := readEnvelope(t, conn)
		if msg["type"] == typ {
			return msg
		}
	}
}

// readPresence waits for a presence snapshot equal to want.
func readPresence(t *testing.T, conn *websocket.Conn, want ...string) {
	t.Helper()
	for {
		msg := readUntilType(t, conn, room.TypeOnline)
		if usersOf(msg) == strings.Join(want, ",") {
			return
		}
	}
}

func usersOf(msg map[string]any) string {
	raw, _ := msg["users"].([]any)
	users := make([]string, 0, len(raw))
	for _, u := range raw {
		users = append(users, u.(string))
	}
	return strings.Join(users, ",")
}

func sendText(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	payload, err := json.Marshal(map[string]string{"type": room.TypeMessage, "text": text})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
}

// expectNoMessage asserts that nothing but presence arrives within timeout.
// The connection is unusable afterwards.
func expectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg map[string]any
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg["type"] == room.TypeMessage {
			t.Fatalf("Expected no chat message, got %s", data)
		}
	}
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}
