// Package auth holds the login gate: a static credential list checked on
// login and the signed session tokens that the WebSocket handshake can
// require.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownUser is returned when a username is not in the credential list.
var ErrUnknownUser = errors.New("unknown user")

// Credential is one entry of the configured user list. Pass is either the
// plain password or a bcrypt hash.
type Credential struct {
	User string `json:"user"`
	Pass string `json:"pass"`
}

// Credentials is the configured user list.
type Credentials struct {
	byUser map[string]string
	hasher *PasswordHasher
}

// NewCredentials builds a credential list. Later entries for the same user
// replace earlier ones; entries with an empty user are skipped.
func NewCredentials(list []Credential) *Credentials {
	byUser := make(map[string]string, len(list))
	for _, c := range list {
		if c.User == "" {
			continue
		}
		byUser[c.User] = c.Pass
	}
	return &Credentials{byUser: byUser, hasher: NewPasswordHasher()}
}

// ParseCredentials decodes a JSON list such as
// [{"user":"alice","pass":"secret"}]. Blank input yields an empty list.
func ParseCredentials(raw string) (*Credentials, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return NewCredentials(nil), nil
	}
	var list []Credential
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return NewCredentials(list), nil
}

// Len returns the number of configured users.
func (c *Credentials) Len() int {
	return len(c.byUser)
}

// Verify reports whether password matches the stored secret for user.
func (c *Credentials) Verify(user, password string) bool {
	stored, ok := c.byUser[user]
	if !ok || user == "" || password == "" {
		return false
	}
	if IsBcryptHash(stored) {
		return c.hasher.Verify(password, stored)
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(password)) == 1
}
