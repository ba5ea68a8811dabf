package room

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/roomrelay/internal/store"
)

// MaxRoomNameLength bounds room names.
const MaxRoomNameLength = 64

var roomNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateRoomName checks that name can address a room.
func ValidateRoomName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidRoomName)
	}
	if len(name) > MaxRoomNameLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidRoomName, MaxRoomNameLength)
	}
	if !roomNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidRoomName, name)
	}
	return nil
}

// Manager maps room names to coordinators, creating them on first use. Each
// coordinator runs in its own goroutine, independent of the others.
type Manager struct {
	store store.Store
	cfg   Config

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	rooms  map[string]*Coordinator
	closed bool
}

// NewManager creates a manager whose rooms persist history in st.
func NewManager(st store.Store, cfg Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:  st,
		cfg:    cfg.sanitize(),
		ctx:    ctx,
		cancel: cancel,
		rooms:  make(map[string]*Coordinator),
	}
}

// Get returns the coordinator for name, starting it if needed.
func (m *Manager) Get(name string) (*Coordinator, error) {
	if err := ValidateRoomName(name); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	if c, ok := m.rooms[name]; ok {
		return c, nil
	}

	c := NewCoordinator(name, m.store, m.cfg)
	m.rooms[name] = c
	go c.Run(m.ctx)
	log.Printf("[rooms] Created room %s. Total rooms: %d", name, len(m.rooms))
	return c, nil
}

// Lookup returns the coordinator for name without creating it.
func (m *Manager) Lookup(name string) (*Coordinator, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rooms[name]
	return c, ok
}

// History returns the history window of room name. A running room answers
// through its coordinator; otherwise the persisted window is read directly and
// no room is started.
func (m *Manager) History(ctx context.Context, name string) ([]Message, error) {
	if err := ValidateRoomName(name); err != nil {
		return nil, err
	}
	if c, ok := m.Lookup(name); ok {
		msgs, err := c.History(ctx)
		if !errors.Is(err, ErrCoordinatorStopped) {
			return msgs, err
		}
	}
	return NewHistoryLog(m.store, name, m.cfg.HistoryLimit, 0).Messages(ctx)
}

// Rooms returns the names of the running rooms in ascending order.
func (m *Manager) Rooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.rooms))
	for name := range m.rooms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Shutdown stops every room and waits for their loops to exit or for ctx to
// expire. Get fails afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	rooms := make([]*Coordinator, 0, len(m.rooms))
	for _, c := range m.rooms {
		rooms = append(rooms, c)
	}
	m.mu.Unlock()

	log.Printf("[rooms] Shutting down %d rooms...", len(rooms))

	var g errgroup.Group
	for _, c := range rooms {
		g.Go(func() error {
			c.Stop()
			select {
			case <-c.Done():
				return nil
			case <-ctx.Done():
				return fmt.Errorf("room %s did not stop: %w", c.Name(), ctx.Err())
			}
		})
	}
	err := g.Wait()
	m.cancel()
	return err
}
