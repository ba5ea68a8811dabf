package room

import "sort"

// SendResult is the outcome of delivering one payload to one session. A nil
// Err means the payload was queued.
type SendResult struct {
	SessionID string
	Identity  string
	Err       error
}

// BroadcastResult holds one SendResult per registered session.
type BroadcastResult []SendResult

// Delivered counts successful sends.
func (r BroadcastResult) Delivered() int {
	n := 0
	for _, res := range r {
		if res.Err == nil {
			n++
		}
	}
	return n
}

// Failed returns the sends that did not go through.
func (r BroadcastResult) Failed() []SendResult {
	var failed []SendResult
	for _, res := range r {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}
	return failed
}

// SessionRegistry is the set of sessions that receive live broadcasts, keyed by
// connection handle. It is owned by a single coordinator goroutine and is not
// safe for concurrent use.
type SessionRegistry struct {
	sessions map[string]*Session
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*Session)}
}

// Add registers s. It returns false and does nothing if s is already present.
func (r *SessionRegistry) Add(s *Session) bool {
	if _, ok := r.sessions[s.id]; ok {
		return false
	}
	r.sessions[s.id] = s
	return true
}

// Remove unregisters s and reports whether it was present.
func (r *SessionRegistry) Remove(s *Session) bool {
	if _, ok := r.sessions[s.id]; !ok {
		return false
	}
	delete(r.sessions, s.id)
	return true
}

// Contains reports whether s is registered.
func (r *SessionRegistry) Contains(s *Session) bool {
	_, ok := r.sessions[s.id]
	return ok
}

// Len returns the number of registered sessions.
func (r *SessionRegistry) Len() int {
	return len(r.sessions)
}

// Sessions returns the registered sessions ordered by join time, then handle.
func (r *SessionRegistry) Sessions() []*Session {
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].joinedAt.Equal(list[j].joinedAt) {
			return list[i].joinedAt.Before(list[j].joinedAt)
		}
		return list[i].id < list[j].id
	})
	return list
}

// Broadcast sends payload to every registered session. A failing session does
// not stop delivery to the others and is not removed; removal only happens
// through the session's own leave.
func (r *SessionRegistry) Broadcast(payload []byte) BroadcastResult {
	sessions := r.Sessions()
	results := make(BroadcastResult, 0, len(sessions))
	for _, s := range sessions {
		results = append(results, SendResult{
			SessionID: s.id,
			Identity:  s.identity,
			Err:       safeSend(s.conn, payload),
		})
	}
	return results
}

// safeSend turns a panicking Sender into an error so one bad connection cannot
// take the room down.
func safeSend(conn Sender, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &sendPanicError{value: r}
		}
	}()
	return conn.Send(payload)
}
