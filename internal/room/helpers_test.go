package room

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomrelay/internal/store"
)

var errBrokenPipe = errors.New("broken pipe")

// fakeSender records payloads sent to a session.
type fakeSender struct {
	mu       sync.Mutex
	payloads [][]byte
	fail     error
	closed   bool
}

func (f *fakeSender) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.payloads = append(f.payloads, append([]byte(nil), payload...))
	return nil
}

func (f *fakeSender) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSender) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSender) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = nil
}

// decoded returns every received payload as a generic JSON object.
func (f *fakeSender) decoded(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]map[string]any, 0, len(f.payloads))
	for _, p := range f.payloads {
		var m map[string]any
		require.NoError(t, json.Unmarshal(p, &m))
		out = append(out, m)
	}
	return out
}

// ofType returns the received payloads with the given type tag.
func (f *fakeSender) ofType(t *testing.T, typ string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, m := range f.decoded(t) {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

// texts returns the text of every chat message received, in order.
func (f *fakeSender) texts(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, m := range f.ofType(t, TypeMessage) {
		out = append(out, m["text"].(string))
	}
	return out
}

// lastPresence returns the users of the most recent presence payload.
func (f *fakeSender) lastPresence(t *testing.T) []string {
	t.Helper()
	online := f.ofType(t, TypeOnline)
	require.NotEmpty(t, online, "no presence payload received")
	raw := online[len(online)-1]["users"].([]any)
	users := make([]string, 0, len(raw))
	for _, u := range raw {
		users = append(users, u.(string))
	}
	return users
}

// stepClock returns a clock that advances by one millisecond per call.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Millisecond)
		return now
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PersistRetryBackoff = 0
	cfg.Clock = stepClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	return cfg
}

// startCoordinator runs a coordinator for the duration of the test.
func startCoordinator(t *testing.T, st store.Store, cfg Config) *Coordinator {
	t.Helper()
	c := NewCoordinator("lobby", st, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-c.Done()
	})
	return c
}

// join creates a session over a fresh fakeSender and joins it.
func join(t *testing.T, c *Coordinator, identity string) (*Session, *fakeSender) {
	t.Helper()
	conn := &fakeSender{}
	s := NewSession(conn, identity)
	_, err := c.Join(context.Background(), s)
	require.NoError(t, err)
	return s, conn
}

// flush waits until every event queued before it has been applied.
func flush(t *testing.T, c *Coordinator) {
	t.Helper()
	_, err := c.Stats(context.Background())
	require.NoError(t, err)
}

// flakyStore fails the first failPuts Put calls.
type flakyStore struct {
	*store.Memory
	mu       sync.Mutex
	failPuts int
	puts     int
}

func (f *flakyStore) Put(ctx context.Context, key string, value []byte, meta store.Meta) error {
	f.mu.Lock()
	f.puts++
	if f.failPuts > 0 {
		f.failPuts--
		f.mu.Unlock()
		return errors.New("disk full")
	}
	f.mu.Unlock()
	return f.Memory.Put(ctx, key, value, meta)
}
