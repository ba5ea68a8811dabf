package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type panickingSender struct{}

func (panickingSender) Send([]byte) error { panic("send on closed channel") }
func (panickingSender) Close() error      { return nil }

func TestSessionRegistryAddRemoveIdempotent(t *testing.T) {
	r := NewSessionRegistry()
	s := NewSession(&fakeSender{}, "alice")

	assert.True(t, r.Add(s))
	assert.False(t, r.Add(s))
	assert.Equal(t, 1, r.Len())

	assert.True(t, r.Remove(s))
	assert.NotPanics(t, func() {
		assert.False(t, r.Remove(s))
	})
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.Contains(s))
}

func TestSessionRegistryBroadcastIsolatesFailures(t *testing.T) {
	r := NewSessionRegistry()
	good1, good2 := &fakeSender{}, &fakeSender{}
	broken := &fakeSender{fail: errBrokenPipe}

	s1 := NewSession(good1, "001")
	s2 := NewSession(broken, "002")
	s3 := NewSession(good2, "003")
	r.Add(s1)
	r.Add(s2)
	r.Add(s3)

	results := r.Broadcast([]byte(`{"type":"message"}`))

	require.Len(t, results, 3)
	assert.Equal(t, 2, results.Delivered())
	failed := results.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, s2.ID(), failed[0].SessionID)
	assert.ErrorIs(t, failed[0].Err, errBrokenPipe)

	assert.Len(t, good1.payloads, 1)
	assert.Len(t, good2.payloads, 1)
	assert.Equal(t, 3, r.Len(), "failed session must stay registered")
}

func TestSessionRegistryBroadcastRecoversPanics(t *testing.T) {
	r := NewSessionRegistry()
	good := &fakeSender{}
	r.Add(NewSession(panickingSender{}, "bad"))
	r.Add(NewSession(good, "good"))

	var results BroadcastResult
	assert.NotPanics(t, func() {
		results = r.Broadcast([]byte("x"))
	})
	assert.Equal(t, 1, results.Delivered())
	assert.Len(t, good.payloads, 1)
}

func TestSessionRegistryBroadcastEmpty(t *testing.T) {
	r := NewSessionRegistry()
	results := r.Broadcast([]byte("x"))
	assert.Empty(t, results)
	assert.Equal(t, 0, results.Delivered())
}
