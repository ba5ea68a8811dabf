// Package room implements the per-room coordinator: identity assignment,
// history replay, persistence with a bounded window, presence tracking and
// fan-out to connected sessions. Every mutation for a room goes through one
// goroutine, so the structures it owns need no locks.
package room

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/Tyrowin/roomrelay/internal/store"
)

// Config holds the per-room settings shared by every coordinator.
type Config struct {
	HistoryLimit int
	// Location is used to render message times for display.
	Location *time.Location
	// PersistRetryBackoff is the pause before the single retry of a failed
	// history write.
	PersistRetryBackoff time.Duration
	QueueSize           int
	// Clock returns the current time. Tests replace it.
	Clock func() time.Time
}

// DefaultConfig returns the default room configuration.
func DefaultConfig() Config {
	return Config{
		HistoryLimit:        DefaultHistoryLimit,
		Location:            time.UTC,
		PersistRetryBackoff: 100 * time.Millisecond,
		QueueSize:           256,
		Clock:               time.Now,
	}
}

func (c Config) sanitize() Config {
	def := DefaultConfig()
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = def.HistoryLimit
	}
	if c.Location == nil {
		c.Location = def.Location
	}
	if c.PersistRetryBackoff < 0 {
		c.PersistRetryBackoff = 0
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.Clock == nil {
		c.Clock = def.Clock
	}
	return c
}

// Stats is a point-in-time view of a room.
type Stats struct {
	Room     string   `json:"room"`
	Sessions int      `json:"sessions"`
	Online   []string `json:"online"`
}

type joinResult struct {
	identity string
	err      error
}

type historyResult struct {
	messages []Message
	err      error
}

type (
	joinEvent struct {
		session *Session
		reply   chan joinResult
	}
	messageEvent struct {
		session *Session
		raw     []byte
	}
	leaveEvent struct {
		session *Session
		done    chan struct{}
	}
	historyEvent struct {
		reply chan historyResult
	}
	statsEvent struct {
		reply chan Stats
	}
)

// Coordinator serializes all events of one room. Join, message and leave events
// are applied strictly one at a time in arrival order.
type Coordinator struct {
	name string
	cfg  Config

	history   *HistoryLog
	registry  *SessionRegistry
	presence  *PresenceTracker
	nicknames *NicknameAllocator

	events   chan any
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewCoordinator creates the coordinator for room name, persisting history in
// st. Call Run to start processing events.
func NewCoordinator(name string, st store.Store, cfg Config) *Coordinator {
	cfg = cfg.sanitize()
	return &Coordinator{
		name:      name,
		cfg:       cfg,
		history:   NewHistoryLog(st, name, cfg.HistoryLimit, cfg.PersistRetryBackoff),
		registry:  NewSessionRegistry(),
		presence:  NewPresenceTracker(),
		nicknames: NewNicknameAllocator(),
		events:    make(chan any, cfg.QueueSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Name returns the room name.
func (c *Coordinator) Name() string {
	return c.name
}

// Run processes events until ctx is cancelled or Stop is called. On exit every
// registered session's connection is closed.
func (c *Coordinator) Run(ctx context.Context) {
	defer close(c.done)
	log.Printf("[room %s] Coordinator started", c.name)

	for {
		select {
		case <-ctx.Done():
			c.closeSessions()
			return
		case <-c.stop:
			c.closeSessions()
			return
		case ev := <-c.events:
			c.dispatch(ctx, ev)
		}
	}
}

// Stop asks the loop to exit. It does not wait; use Done for that.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Done is closed once Run has returned.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

func (c *Coordinator) dispatch(ctx context.Context, ev any) {
	switch e := ev.(type) {
	case joinEvent:
		identity, err := c.handleJoin(ctx, e.session)
		e.reply <- joinResult{identity: identity, err: err}
	case messageEvent:
		c.handleMessage(ctx, e.session, e.raw)
	case leaveEvent:
		c.handleLeave(e.session)
		close(e.done)
	case historyEvent:
		msgs, err := c.history.Messages(ctx)
		e.reply <- historyResult{messages: msgs, err: err}
	case statsEvent:
		e.reply <- Stats{
			Room:     c.name,
			Sessions: c.registry.Len(),
			Online:   c.presence.Snapshot(),
		}
	default:
		log.Printf("[room %s] Ignoring unknown event %T", c.name, ev)
	}
}

func (c *Coordinator) enqueue(ctx context.Context, ev any) error {
	select {
	case <-c.done:
		return ErrCoordinatorStopped
	default:
	}

	select {
	case c.events <- ev:
		return nil
	case <-c.done:
		return ErrCoordinatorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Join resolves the session's identity, sends it the identity assignment and
// the history window, then registers it for broadcasts and presence. It
// returns once the join has been applied.
func (c *Coordinator) Join(ctx context.Context, s *Session) (string, error) {
	reply := make(chan joinResult, 1)
	if err := c.enqueue(ctx, joinEvent{session: s, reply: reply}); err != nil {
		return "", err
	}
	select {
	case res := <-reply:
		return res.identity, res.err
	case <-c.done:
		return "", ErrCoordinatorStopped
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Receive queues a raw client payload from s. It does not wait for the payload
// to be applied.
func (c *Coordinator) Receive(ctx context.Context, s *Session, raw []byte) error {
	return c.enqueue(ctx, messageEvent{session: s, raw: raw})
}

// Leave closes the session in this room and waits until that is applied.
// Leaving twice is harmless.
func (c *Coordinator) Leave(ctx context.Context, s *Session) error {
	done := make(chan struct{})
	if err := c.enqueue(ctx, leaveEvent{session: s, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-c.done:
		return ErrCoordinatorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// History returns the current window, read in order with the other events.
func (c *Coordinator) History(ctx context.Context) ([]Message, error) {
	reply := make(chan historyResult, 1)
	if err := c.enqueue(ctx, historyEvent{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case res := <-reply:
		return res.messages, res.err
	case <-c.done:
		return nil, ErrCoordinatorStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats returns the number of sessions and the presence snapshot.
func (c *Coordinator) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	if err := c.enqueue(ctx, statsEvent{reply: reply}); err != nil {
		return Stats{}, err
	}
	select {
	case st := <-reply:
		return st, nil
	case <-c.done:
		return Stats{}, ErrCoordinatorStopped
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

func (c *Coordinator) handleJoin(ctx context.Context, s *Session) (string, error) {
	if s.State() != StateConnecting {
		return s.identity, ErrNotConnecting
	}

	identity := s.requested
	if identity == "" {
		identity = c.nicknames.Allocate()
		s.allocated = true
	} else {
		// A supplied name such as "001" holds that id until it leaves.
		s.allocated = c.nicknames.Reserve(identity)
	}
	s.identity = identity

	c.sendTo(s, IdentityPayload{Nick: identity})

	// Replay runs before registration, so no live message can reach this
	// session twice.
	replayed, err := c.history.Replay(ctx, func(msg Message) error {
		payload, err := Encode(NewChatPayload(msg, c.cfg.Location))
		if err != nil {
			return err
		}
		return safeSend(s.conn, payload)
	})
	if err != nil {
		log.Printf("[room %s] History replay to %s stopped after %d messages: %v", c.name, identity, replayed, err)
	}

	s.joinedAt = c.cfg.Clock()
	c.registry.Add(s)
	c.presence.Join(identity)
	s.setState(StateActive)
	log.Printf("[room %s] %s joined (%d replayed). Total sessions: %d", c.name, identity, replayed, c.registry.Len())

	c.broadcastPresence()
	return identity, nil
}

func (c *Coordinator) handleMessage(ctx context.Context, s *Session, raw []byte) {
	if s.State() != StateActive || !c.registry.Contains(s) {
		return
	}

	in, err := DecodeInbound(raw)
	if err != nil {
		log.Printf("[room %s] Dropping payload from %s: %v", c.name, s.identity, err)
		return
	}

	switch v := in.(type) {
	case SendText:
		c.handleChat(ctx, s, v)
	default:
		log.Printf("[room %s] Dropping unsupported payload %T from %s", c.name, in, s.identity)
	}
}

func (c *Coordinator) handleChat(ctx context.Context, s *Session, in SendText) {
	msg := c.history.Next(ctx, s.identity, in.Text, c.cfg.Clock())

	// Delivery does not depend on the write succeeding.
	if err := c.history.Append(ctx, msg); err != nil {
		log.Printf("[room %s] History write for %s failed: %v", c.name, msg.ID, err)
	}

	payload, err := Encode(NewChatPayload(msg, c.cfg.Location))
	if err != nil {
		log.Printf("[room %s] Error encoding message %s: %v", c.name, msg.ID, err)
		return
	}
	c.broadcast(payload)
}

func (c *Coordinator) handleLeave(s *Session) {
	if !c.registry.Remove(s) {
		if s.State() == StateConnecting {
			s.setState(StateClosed)
		}
		return
	}
	s.setState(StateClosed)

	if s.allocated {
		c.nicknames.Release(s.identity)
	}
	c.presence.Leave(s.identity)
	log.Printf("[room %s] %s left. Total sessions: %d", c.name, s.identity, c.registry.Len())

	c.broadcastPresence()
}

func (c *Coordinator) broadcastPresence() {
	payload, err := Encode(PresencePayload{Users: c.presence.Snapshot()})
	if err != nil {
		log.Printf("[room %s] Error encoding presence: %v", c.name, err)
		return
	}
	c.broadcast(payload)
}

func (c *Coordinator) broadcast(payload []byte) BroadcastResult {
	results := c.registry.Broadcast(payload)
	for _, f := range results.Failed() {
		log.Printf("[room %s] Send to %s (%s) failed: %v", c.name, f.Identity, f.SessionID, f.Err)
	}
	return results
}

func (c *Coordinator) sendTo(s *Session, o Outbound) {
	payload, err := Encode(o)
	if err != nil {
		log.Printf("[room %s] Error encoding %s payload: %v", c.name, o.Kind(), err)
		return
	}
	if err := safeSend(s.conn, payload); err != nil {
		log.Printf("[room %s] Send %s to %s failed: %v", c.name, o.Kind(), s.identity, err)
	}
}

func (c *Coordinator) closeSessions() {
	sessions := c.registry.Sessions()
	for _, s := range sessions {
		if err := s.conn.Close(); err != nil {
			log.Printf("[room %s] Error closing session %s: %v", c.name, s.identity, err)
		}
	}
	log.Printf("[room %s] Coordinator stopped, closed %d sessions", c.name, len(sessions))
}
