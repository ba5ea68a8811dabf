package room

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Outbound message types, carried in the "type" field.
const (
	TypeMessage  = "message"
	TypeIdentity = "identity"
	TypeOnline   = "online"
)

// MaxTextLength bounds the text of a single chat message.
const MaxTextLength = 5000

// timeLayout renders server timestamps for display.
const timeLayout = "2006/1/2 15:04:05"

// Inbound decoding errors.
var (
	ErrMalformed   = errors.New("malformed payload")
	ErrUnknownType = errors.New("unknown message type")
	ErrEmptyText   = errors.New("message text cannot be empty")
	ErrTextTooLong = errors.New("message text exceeds maximum length")
)

// Message is a chat message as persisted in history. It is never mutated after
// creation.
type Message struct {
	ID        string `json:"id"`
	Nick      string `json:"nick"`
	Text      string `json:"text"`
	Timestamp int64  `json:"ts"`
	Seq       uint64 `json:"seq"`
}

// Inbound is a decoded client payload. SendText is the only variant.
type Inbound interface {
	inbound()
}

// SendText asks the room to post Text. Nick is whatever the client claimed; the
// room always authors the message with the session identity.
type SendText struct {
	Text string
	Nick string
}

func (SendText) inbound() {}

type inboundEnvelope struct {
	Type string  `json:"type"`
	Text *string `json:"text"`
	Nick string  `json:"nick"`
}

// DecodeInbound parses a raw client payload into one of the Inbound variants.
// Anything that does not match a known variant exactly is rejected.
func DecodeInbound(raw []byte) (Inbound, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case "", TypeMessage:
		if env.Text == nil {
			return nil, fmt.Errorf("%w: missing text", ErrMalformed)
		}
		text := strings.TrimSpace(*env.Text)
		if err := validateText(text); err != nil {
			return nil, err
		}
		return SendText{Text: text, Nick: env.Nick}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func validateText(text string) error {
	if text == "" {
		return ErrEmptyText
	}
	if len(text) > MaxTextLength {
		return ErrTextTooLong
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("%w: invalid utf-8", ErrMalformed)
	}
	return nil
}

// Outbound is a server to client payload.
type Outbound interface {
	Kind() string
}

// ChatPayload is the wire form of a chat message. Sender repeats the author so
// clients can style their own messages.
type ChatPayload struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Nick   string `json:"nick"`
	Text   string `json:"text"`
	TS     int64  `json:"ts"`
	Time   string `json:"time"`
	Sender string `json:"sender"`
	Seq    uint64 `json:"seq"`
}

// Kind implements Outbound.
func (ChatPayload) Kind() string { return TypeMessage }

// IdentityPayload tells a new session which identity it was given.
type IdentityPayload struct {
	Type string `json:"type"`
	Nick string `json:"nick"`
}

// Kind implements Outbound.
func (IdentityPayload) Kind() string { return TypeIdentity }

// PresencePayload carries the full list of online identities.
type PresencePayload struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

// Kind implements Outbound.
func (PresencePayload) Kind() string { return TypeOnline }

// NewChatPayload renders msg for the wire, formatting its time in loc.
func NewChatPayload(msg Message, loc *time.Location) ChatPayload {
	if loc == nil {
		loc = time.UTC
	}
	return ChatPayload{
		ID:     msg.ID,
		Nick:   msg.Nick,
		Text:   msg.Text,
		TS:     msg.Timestamp,
		Time:   time.UnixMilli(msg.Timestamp).In(loc).Format(timeLayout),
		Sender: msg.Nick,
		Seq:    msg.Seq,
	}
}

// Encode marshals an Outbound payload with its type tag set.
func Encode(o Outbound) ([]byte, error) {
	switch v := o.(type) {
	case ChatPayload:
		v.Type = TypeMessage
		return json.Marshal(v)
	case IdentityPayload:
		v.Type = TypeIdentity
		return json.Marshal(v)
	case PresencePayload:
		v.Type = TypeOnline
		if v.Users == nil {
			v.Users = []string{}
		}
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("unsupported outbound payload %T", o)
	}
}
