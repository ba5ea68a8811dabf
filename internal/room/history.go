package room

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Tyrowin/roomrelay/internal/store"
)

// DefaultHistoryLimit is the number of messages kept per room.
const DefaultHistoryLimit = 100

// HistoryLog is the bounded, persisted window of recent messages for one room.
// Entries are keyed by ULID and carry (timestamp, seq) as sort metadata, so
// order is rebuilt from metadata rather than from key order.
//
// A HistoryLog is used only from its room's coordinator goroutine.
type HistoryLog struct {
	store   store.Store
	room    string
	prefix  string
	limit   int
	backoff time.Duration

	entropy io.Reader
	seq     uint64
	loaded  bool
}

// NewHistoryLog creates the history window for room on top of st.
func NewHistoryLog(st store.Store, room string, limit int, retryBackoff time.Duration) *HistoryLog {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &HistoryLog{
		store:   st,
		room:    room,
		prefix:  "room/" + room + "/msg/",
		limit:   limit,
		backoff: retryBackoff,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Limit returns the maximum number of retained messages.
func (h *HistoryLog) Limit() int {
	return h.limit
}

// Next builds the next message for this room. The sequence continues from the
// highest persisted one, read back on first use.
func (h *HistoryLog) Next(ctx context.Context, author, text string, now time.Time) Message {
	if !h.loaded {
		if _, err := h.Messages(ctx); err != nil {
			log.Printf("[room %s] Could not read history to seed sequence: %v", h.room, err)
		}
	}

	h.seq++
	id, err := ulid.New(ulid.Timestamp(now), h.entropy)
	if err != nil {
		id = ulid.Make()
	}
	return Message{
		ID:        id.String(),
		Nick:      author,
		Text:      text,
		Timestamp: now.UnixMilli(),
		Seq:       h.seq,
	}
}

// Append persists msg and trims the window to the limit. A failed write is
// retried once before giving up.
func (h *HistoryLog) Append(ctx context.Context, msg Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", msg.ID, err)
	}

	meta := store.Meta{Timestamp: msg.Timestamp, Seq: msg.Seq}
	key := h.prefix + msg.ID
	if err := h.putWithRetry(ctx, key, value, meta); err != nil {
		return fmt.Errorf("persist message %s: %w", msg.ID, err)
	}
	if msg.Seq > h.seq {
		h.seq = msg.Seq
	}
	return h.trim(ctx)
}

func (h *HistoryLog) putWithRetry(ctx context.Context, key string, value []byte, meta store.Meta) error {
	err := h.store.Put(ctx, key, value, meta)
	if err == nil {
		return nil
	}
	log.Printf("[room %s] Persisting %s failed, retrying once: %v", h.room, key, err)

	if h.backoff > 0 {
		timer := time.NewTimer(h.backoff)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		}
	}
	return h.store.Put(ctx, key, value, meta)
}

// trim deletes the oldest entries beyond the limit.
func (h *HistoryLog) trim(ctx context.Context) error {
	entries, err := h.store.List(ctx, h.prefix)
	if err != nil {
		return fmt.Errorf("list history for trim: %w", err)
	}
	excess := len(entries) - h.limit
	if excess <= 0 {
		return nil
	}

	store.SortByMeta(entries)
	var errs []error
	for _, e := range entries[:excess] {
		if err := h.store.Delete(ctx, e.Key); err != nil {
			errs = append(errs, fmt.Errorf("trim %s: %w", e.Key, err))
		}
	}
	return errors.Join(errs...)
}

// Messages returns the persisted window in ascending (timestamp, seq) order.
// Entries that cannot be decoded are skipped.
func (h *HistoryLog) Messages(ctx context.Context) ([]Message, error) {
	entries, err := h.store.List(ctx, h.prefix)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	store.SortByMeta(entries)

	messages := make([]Message, 0, len(entries))
	for _, e := range entries {
		var msg Message
		if err := json.Unmarshal(e.Value, &msg); err != nil {
			log.Printf("[room %s] Skipping unreadable history entry %s: %v", h.room, e.Key, err)
			continue
		}
		if e.Meta.Seq > h.seq {
			h.seq = e.Meta.Seq
		}
		messages = append(messages, msg)
	}
	h.loaded = true
	return messages, nil
}

// Replay hands every message in the window to send, oldest first. It stops at
// the first send error.
func (h *HistoryLog) Replay(ctx context.Context, send func(Message) error) (int, error) {
	messages, err := h.Messages(ctx)
	if err != nil {
		return 0, err
	}
	for i, msg := range messages {
		if err := send(msg); err != nil {
			return i, fmt.Errorf("replay message %s: %w", msg.ID, err)
		}
	}
	return len(messages), nil
}
