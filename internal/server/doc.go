// Package server implements the HTTP and WebSocket transport of roomrelay.
//
// Each accepted WebSocket connection becomes a Client whose write pump drains
// payloads queued by a room coordinator and whose read pump feeds inbound
// frames back to it. Handshakes are checked for method, room name, identity
// token and origin before the upgrade. Configuration, routing, origin policy
// and rate limiting live in their own files.
package server
