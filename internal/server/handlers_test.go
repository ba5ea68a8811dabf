package server_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomrelay/internal/auth"
	"github.com/Tyrowin/roomrelay/internal/room"
	"github.com/Tyrowin/roomrelay/internal/server"
)

type loginResult struct {
	OK        bool   `json:"ok"`
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

func postLogin(t *testing.T, env *testEnv, body string) (int, loginResult) {
	t.Helper()
	resp, err := http.Post(env.http.URL+"/login", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var res loginResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	return resp.StatusCode, res
}

func login(t *testing.T, env *testEnv, user, pass string) loginResult {
	t.Helper()
	body, err := json.Marshal(map[string]string{"username": user, "password": pass})
	require.NoError(t, err)
	status, res := postLogin(t, env, string(body))
	require.Equal(t, http.StatusOK, status)
	return res
}

func TestHealthHandler(t *testing.T) {
	env := newTestServer(t, nil)

	resp, err := http.Get(env.http.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	assert.Contains(t, string(body), "roomrelay is running!")
}

func TestChatPageHandler(t *testing.T) {
	env := newTestServer(t, nil)

	resp, err := http.Get(env.http.URL + "/")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Contains(t, string(body), "/login")
	assert.Contains(t, string(body), "/ws?")

	missing, err := http.Get(env.http.URL + "/missing")
	require.NoError(t, err)
	_ = missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestLoginHandler(t *testing.T) {
	hash, err := auth.NewPasswordHasherWithCost(4).Hash("builder")
	require.NoError(t, err)

	env := newTestServer(t, func(cfg *server.Config) {
		cfg.Users = `[{"user":"alice","pass":"wonderland"},{"user":"bob","pass":"` + hash + `"}]`
	})

	assert.True(t, login(t, env, "alice", "wonderland").OK)
	assert.True(t, login(t, env, "bob", "builder").OK)
	assert.Empty(t, login(t, env, "alice", "wonderland").Token, "no token without a secret")

	assert.False(t, login(t, env, "alice", "wrong").OK)
	assert.False(t, login(t, env, "mallory", "wonderland").OK)
	assert.False(t, login(t, env, "", "").OK)

	status, res := postLogin(t, env, `{not json`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, res.OK)

	resp, err := http.Get(env.http.URL + "/login")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestLoginIssuesToken(t *testing.T) {
	env := newTestServer(t, func(cfg *server.Config) {
		cfg.Users = `[{"user":"alice","pass":"wonderland"}]`
		cfg.TokenSecret = "test-secret"
		cfg.TokenTTL = time.Hour
	})

	res := login(t, env, "alice", "wonderland")
	require.True(t, res.OK)
	assert.EqualValues(t, 3600, res.ExpiresIn)

	tokens := auth.NewTokenManager(auth.TokenConfig{Secret: "test-secret", TTL: time.Hour, Issuer: "roomrelay"})
	user, err := tokens.Validate(res.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", user)

	assert.Empty(t, login(t, env, "alice", "nope").Token)
}

func TestRoomsHandler(t *testing.T) {
	env := newTestServer(t, nil)

	var empty struct {
		Rooms []room.Stats `json:"rooms"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, env.http.URL+"/api/rooms", &empty))
	assert.Empty(t, empty.Rooms)

	conn, _ := env.dial(t, "room=lobby&user=alice")
	readPresence(t, conn, "alice")

	var got struct {
		Rooms []room.Stats `json:"rooms"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, env.http.URL+"/api/rooms", &got))
	require.Len(t, got.Rooms, 1)
	assert.Equal(t, "lobby", got.Rooms[0].Room)
	assert.Equal(t, 1, got.Rooms[0].Sessions)
	assert.Equal(t, []string{"alice"}, got.Rooms[0].Online)
}

func TestHistoryHandler(t *testing.T) {
	env := newTestServer(t, nil)

	conn, _ := env.dial(t, "room=lobby&user=alice")
	for _, text := range []string{"first", "second"} {
		sendText(t, conn, text)
		require.Equal(t, text, readUntilType(t, conn, room.TypeMessage)["text"])
	}

	var got struct {
		Room     string             `json:"room"`
		Messages []room.ChatPayload `json:"messages"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, env.http.URL+"/api/rooms/lobby/history", &got))
	assert.Equal(t, "lobby", got.Room)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "first", got.Messages[0].Text)
	assert.Equal(t, "second", got.Messages[1].Text)
	assert.Equal(t, room.TypeMessage, got.Messages[0].Type)
	assert.Equal(t, "alice", got.Messages[0].Nick)
	assert.Less(t, got.Messages[0].Seq, got.Messages[1].Seq)

	var unknown struct {
		Messages []room.ChatPayload `json:"messages"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, env.http.URL+"/api/rooms/quiet/history", &unknown))
	assert.Empty(t, unknown.Messages)
	assert.Equal(t, []string{"lobby"}, env.rooms.Rooms(), "reading history must not start a room")

	assert.Equal(t, http.StatusBadRequest, getJSON(t, env.http.URL+"/api/rooms/bad.name/history", nil))
}

func TestHistoryHandlerDoesNotStartRooms(t *testing.T) {
	env := newTestServer(t, nil)

	for i := 0; i < 20; i++ {
		url := fmt.Sprintf("%s/api/rooms/ghost%d/history", env.http.URL, i)
		require.Equal(t, http.StatusOK, getJSON(t, url, nil))
	}
	assert.Empty(t, env.rooms.Rooms())
}

func TestRoomAPIRequiresToken(t *testing.T) {
	env := newTestServer(t, func(cfg *server.Config) {
		cfg.Users = `[{"user":"alice","pass":"wonderland"}]`
		cfg.TokenSecret = "test-secret"
	})
	historyURL := env.http.URL + "/api/rooms/lobby/history"

	assert.Equal(t, http.StatusUnauthorized, getJSON(t, historyURL, nil))
	assert.Equal(t, http.StatusUnauthorized, getJSON(t, historyURL+"?token=forged", nil))
	assert.Equal(t, http.StatusUnauthorized, getJSON(t, env.http.URL+"/api/rooms", nil))
	assert.Empty(t, env.rooms.Rooms())

	token := login(t, env, "alice", "wonderland").Token
	require.NotEmpty(t, token)

	assert.Equal(t, http.StatusOK, getJSON(t, historyURL+"?token="+token, nil))

	req, err := http.NewRequest(http.MethodGet, historyURL, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Empty(t, env.rooms.Rooms())
}
