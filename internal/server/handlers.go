// Package server exposes HTTP handlers, including WebSocket upgrades, login,
// health checks, room inspection and the built-in chat page.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/Tyrowin/roomrelay/internal/room"
)

// maxIdentityLength bounds identities taken from the handshake.
const maxIdentityLength = 64

// maxLoginBodySize bounds the login request body.
const maxLoginBodySize = 4096

const bearerPrefix = "Bearer "

// WebSocketHandler validates the handshake, upgrades the connection and joins
// it to the requested room. Handshake failures are answered with an HTTP
// error before any room is involved.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	roomName := strings.TrimSpace(query.Get("room"))
	if roomName == "" {
		roomName = s.cfg.DefaultRoom
	}
	if err := room.ValidateRoomName(roomName); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	identity, status, err := s.resolveIdentity(r)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}

	if !s.origins.checkOrigin(r) {
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	coord, err := s.rooms.Get(roomName)
	if err != nil {
		log.Printf("Room %s unavailable: %v", roomName, err)
		http.Error(w, "Room unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := NewClient(conn, r.RemoteAddr, s.cfg)
	session := room.NewSession(client, identity)
	client.attach(session, coord)

	s.startWriter(client)
	assigned, err := s.joinClient(s.ctx, client)
	if err != nil {
		log.Printf("Join of %s to room %s failed: %v", r.RemoteAddr, roomName, err)
		return
	}
	log.Printf("Client %s joined room %s as %s", r.RemoteAddr, roomName, assigned)
	s.startClient(client)
}

// joinClient joins an attached client to its room. On failure the join may
// still be queued, so the client leaves the room as well as closing.
func (s *Server) joinClient(ctx context.Context, c *Client) (string, error) {
	assigned, err := c.room.Join(ctx, c.session)
	if err != nil {
		c.leave()
		return "", err
	}
	return assigned, nil
}

// resolveIdentity picks the identity for a handshake. With tokens enabled a
// valid token is required and its subject is the identity. Otherwise the
// user parameter is trusted, and an empty one lets the room allocate.
func (s *Server) resolveIdentity(r *http.Request) (string, int, error) {
	query := r.URL.Query()

	if s.tokens.Enabled() {
		user, err := s.authenticate(r)
		if err != nil {
			return "", http.StatusUnauthorized, err
		}
		return user, http.StatusOK, nil
	}

	identity := strings.TrimSpace(query.Get("user"))
	if len(identity) > maxIdentityLength {
		return "", http.StatusBadRequest, fmt.Errorf("user name longer than %d characters", maxIdentityLength)
	}
	return identity, http.StatusOK, nil
}

// authenticate validates the session token of r, taken from the token query
// parameter or a bearer Authorization header.
func (s *Server) authenticate(r *http.Request) (string, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if h := r.Header.Get("Authorization"); len(h) > len(bearerPrefix) && strings.EqualFold(h[:len(bearerPrefix)], bearerPrefix) {
			token = strings.TrimSpace(h[len(bearerPrefix):])
		}
	}
	if token == "" {
		return "", errors.New("missing token")
	}
	return s.tokens.Validate(token)
}

// authorizeAPI answers 401 and returns false when tokens are enabled and r
// carries no valid one.
func (s *Server) authorizeAPI(w http.ResponseWriter, r *http.Request) bool {
	if !s.tokens.Enabled() {
		return true
	}
	if _, err := s.authenticate(r); err != nil {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return false
	}
	return true
}

// LoginHandler checks a username and password against the credential list.
// It answers {"ok":false} for bad credentials and malformed bodies, and adds a
// session token on success when tokens are enabled.
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed. Login only accepts POST requests.", http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBodySize))
	if err := dec.Decode(&req); err != nil {
		log.Printf("Malformed login request from %s: %v", r.RemoteAddr, err)
		writeJSON(w, http.StatusBadRequest, loginResponse{OK: false})
		return
	}

	username := strings.TrimSpace(req.Username)
	if !s.creds.Verify(username, req.Password) {
		log.Printf("Failed login for %q from %s", username, r.RemoteAddr)
		writeJSON(w, http.StatusOK, loginResponse{OK: false})
		return
	}

	resp := loginResponse{OK: true}
	if s.tokens.Enabled() {
		token, err := s.tokens.Issue(username)
		if err != nil {
			log.Printf("Error issuing token for %q: %v", username, err)
			writeJSON(w, http.StatusInternalServerError, loginResponse{OK: false})
			return
		}
		resp.Token = token
		resp.ExpiresIn = int64(s.tokens.TTL().Seconds())
	}
	writeJSON(w, http.StatusOK, resp)
}

// HealthHandler provides a simple health check endpoint that returns server status.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "roomrelay is running! Rooms: %d", len(s.rooms.Rooms()))
}

// RoomsHandler lists the running rooms with their session counts and
// presence.
func (s *Server) RoomsHandler(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeAPI(w, r) {
		return
	}
	names := s.rooms.Rooms()
	resp := roomsResponse{Rooms: make([]room.Stats, 0, len(names))}

	for _, name := range names {
		coord, ok := s.rooms.Lookup(name)
		if !ok {
			continue
		}
		stats, err := coord.Stats(r.Context())
		if err != nil {
			if errors.Is(err, room.ErrCoordinatorStopped) {
				continue
			}
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
			return
		}
		resp.Rooms = append(resp.Rooms, stats)
	}
	writeJSON(w, http.StatusOK, resp)
}

// HistoryHandler returns the history window of one room, oldest first. It
// never starts a room.
func (s *Server) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeAPI(w, r) {
		return
	}
	name := r.PathValue("room")
	if err := room.ValidateRoomName(name); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	msgs, err := s.rooms.History(r.Context(), name)
	if err != nil {
		log.Printf("Error reading history of room %s: %v", name, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "history unavailable"})
		return
	}

	loc, err := roomLocation(s.cfg)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	resp := historyResponse{Room: name, Messages: make([]room.ChatPayload, 0, len(msgs))}
	for _, msg := range msgs {
		p := room.NewChatPayload(msg, loc)
		p.Type = room.TypeMessage
		resp.Messages = append(resp.Messages, p)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ChatPageHandler serves the built-in chat client.
func (s *Server) ChatPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := fmt.Fprint(w, chatPageHTML); err != nil {
		log.Printf("Error writing HTML response: %v", err)
	}
}

func roomLocation(cfg Config) (*time.Location, error) {
	rc, err := cfg.RoomConfig()
	if err != nil {
		return nil, err
	}
	return rc.Location, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Error writing JSON response: %v", err)
	}
}
