// Package server wires HTTP handlers into a ServeMux via routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application routes.
func (s *Server) SetupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", s.ChatPageHandler)
	mux.HandleFunc("/health", s.HealthHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)
	mux.HandleFunc("/login", s.LoginHandler)
	mux.HandleFunc("GET /api/rooms", s.RoomsHandler)
	mux.HandleFunc("GET /api/rooms/{room}/history", s.HistoryHandler)
	return mux
}
