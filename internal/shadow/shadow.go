// Package shadow keeps the per-occurrence text shown next to each tag by a
// renderer. Buffers are index-aligned with the file's fingerprint list.
package shadow

import (
	"sync"

	"github.com/starford/tagledger/internal/models"
)

// Buffer is an ordered list of strings, one per tag occurrence.
type Buffer struct {
	entries []string
}

// NewBuffer returns a buffer holding entries.
func NewBuffer(entries ...string) *Buffer {
	b := &Buffer{entries: make([]string, len(entries))}
	copy(b.entries, entries)
	return b
}

// FromRecords renders one entry per record. Absent records render as "".
func FromRecords(records []*models.Record) *Buffer {
	b := &Buffer{entries: make([]string, len(records))}
	for i, r := range records {
		b.entries[i] = r.Summary()
	}
	return b
}

// Insert places text at index i, clamped to the buffer bounds.
func (b *Buffer) Insert(i int, text string) {
	i = max(0, min(i, len(b.entries)))
	b.entries = append(b.entries, "")
	copy(b.entries[i+1:], b.entries[i:])
	b.entries[i] = text
}

// Remove deletes the entry at i. Out-of-range indices are ignored.
func (b *Buffer) Remove(i int) {
	if i < 0 || i >= len(b.entries) {
		return
	}
	b.entries = append(b.entries[:i], b.entries[i+1:]...)
}

// Set replaces the entry at i and reports whether i was in range.
func (b *Buffer) Set(i int, text string) bool {
	if i < 0 || i >= len(b.entries) {
		return false
	}
	b.entries[i] = text
	return true
}

// Len returns the number of entries.
func (b *Buffer) Len() int { return len(b.entries) }

// Entries returns a copy of the entries.
func (b *Buffer) Entries() []string {
	out := make([]string, len(b.entries))
	copy(out, b.entries)
	return out
}

// Clone returns an independent copy of b.
func (b *Buffer) Clone() *Buffer {
	return NewBuffer(b.entries...)
}

// Registry holds the committed buffer of every file. It is safe for
// concurrent use; buffers handed out by Checkout are private copies.
type Registry struct {
	mu      sync.RWMutex
	buffers map[string]*Buffer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{buffers: make(map[string]*Buffer)}
}

// Checkout returns a private copy of the buffer for path, or nil if none is held.
func (r *Registry) Checkout(path string) *Buffer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.buffers[path]
	if !ok {
		return nil
	}
	return b.Clone()
}

// Commit makes b the buffer for path.
func (r *Registry) Commit(path string, b *Buffer) {
	r.mu.Lock()
	r.buffers[path] = b
	r.mu.Unlock()
}

// Entries returns a snapshot of the entries for path.
func (r *Registry) Entries(path string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.buffers[path]
	if !ok {
		return nil, false
	}
	return b.Entries(), true
}

// Drop forgets the buffer for path.
func (r *Registry) Drop(path string) {
	r.mu.Lock()
	delete(r.buffers, path)
	r.mu.Unlock()
}
