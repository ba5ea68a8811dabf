package room

import "sort"

// PresenceTracker is the set of online identities. Several sessions may share an
// identity; it stays online until the last of them leaves.
type PresenceTracker struct {
	counts map[string]int
}

// NewPresenceTracker creates an empty tracker.
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{counts: make(map[string]int)}
}

// Join records a session for identity and reports whether identity just came
// online.
func (p *PresenceTracker) Join(identity string) bool {
	p.counts[identity]++
	return p.counts[identity] == 1
}

// Leave drops a session for identity and reports whether identity went offline.
func (p *PresenceTracker) Leave(identity string) bool {
	n, ok := p.counts[identity]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(p.counts, identity)
		return true
	}
	p.counts[identity] = n - 1
	return false
}

// Contains reports whether identity is online.
func (p *PresenceTracker) Contains(identity string) bool {
	_, ok := p.counts[identity]
	return ok
}

// Len returns the number of distinct online identities.
func (p *PresenceTracker) Len() int {
	return len(p.counts)
}

// Snapshot returns the online identities in ascending order.
func (p *PresenceTracker) Snapshot() []string {
	users := make([]string, 0, len(p.counts))
	for identity := range p.counts {
		users = append(users, identity)
	}
	sort.Strings(users)
	return users
}
