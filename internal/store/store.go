// Package store defines the durable key-value persistence used for room history
// and provides memory, SQLite and Redis backends.
package store

import (
	"context"
	"errors"
	"sort"
)

// ErrClosed is returned by operations on a store that has been closed.
var ErrClosed = errors.New("store: closed")

// Meta is the out-of-band sort metadata stored next to a value. It lets a reader
// rebuild insertion order without relying on key ordering.
type Meta struct {
	Timestamp int64  `json:"ts"`
	Seq       uint64 `json:"seq"`
}

// Less reports whether m sorts before o: timestamp first, sequence as tie-break.
func (m Meta) Less(o Meta) bool {
	if m.Timestamp != o.Timestamp {
		return m.Timestamp < o.Timestamp
	}
	return m.Seq < o.Seq
}

// Entry is a stored value together with its key and metadata.
type Entry struct {
	Key   string
	Value []byte
	Meta  Meta
}

// Store is a generic key-value persistence backend.
//
// List returns every entry whose key starts with prefix, ordered by key. An empty
// or never-written store yields an empty slice and no error. Deleting a missing
// key is not an error.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, key string, value []byte, meta Meta) error
	List(ctx context.Context, prefix string) ([]Entry, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// SortByMeta orders entries by their metadata, falling back to the key so that
// the result is deterministic even for identical metadata.
func SortByMeta(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].Meta, entries[j].Meta
		if a != b {
			return a.Less(b)
		}
		return entries[i].Key < entries[j].Key
	})
}
