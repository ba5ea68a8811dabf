// Package server implements the HTTP and WebSocket front of the relay: it
// authenticates handshakes, binds each connection to a room coordinator and
// tracks the connection goroutines for shutdown.
package server

import (
	"context"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomrelay/internal/auth"
	"github.com/Tyrowin/roomrelay/internal/room"
)

// Server holds the dependencies shared by the HTTP handlers.
type Server struct {
	cfg      Config
	rooms    *room.Manager
	creds    *auth.Credentials
	tokens   *auth.TokenManager
	origins  *originPolicy
	upgrader websocket.Upgrader

	// ctx is the parent of every read pump; cancelled on Shutdown.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Server. creds and tokens may be nil, which disables login
// and token checks respectively.
func New(cfg Config, rooms *room.Manager, creds *auth.Credentials, tokens *auth.TokenManager) *Server {
	cfg = cfg.Sanitize()
	if creds == nil {
		creds = auth.NewCredentials(nil)
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:     cfg,
		rooms:   rooms,
		creds:   creds,
		tokens:  tokens,
		origins: newOriginPolicy(cfg.AllowedOrigins),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	return s
}

// Config returns the sanitized configuration in use.
func (s *Server) Config() Config {
	cfg := s.cfg
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// startClient launches the pumps of a joined client.
func (s *Server) startClient(c *Client) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.readPump(s.ctx)
	}()
}

// startWriter launches the write pump. It runs before Join so the identity
// and history replay drain while the join is applied.
func (s *Server) startWriter(c *Client) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.writePump()
	}()
}

// Shutdown stops the rooms, which closes every connection, and waits for the
// connection goroutines to finish or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Initiating connection shutdown...")

	roomsErr := s.rooms.Shutdown(ctx)
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Connection shutdown completed successfully")
		return roomsErr
	case <-ctx.Done():
		log.Println("Connection shutdown timeout reached, some goroutines may still be running")
		return ctx.Err()
	}
}
