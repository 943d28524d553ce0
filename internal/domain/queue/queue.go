// Package queue provides the ordered playback queue with shuffle support.
//
// The queue is a pure in-memory structure owned exclusively by the player
// orchestrator; it performs no locking of its own.
package queue

import (
	"math/rand"

	"github.com/cockroachdb/errors"

	"github.com/20Josy07/harmonia/internal/domain/track"
)

// ErrIndexOutOfRange indicates a queue operation was called with an index
// outside the queue bounds. This is a programming error, not a runtime
// condition callers are expected to recover from.
var ErrIndexOutOfRange = errors.New("queue index out of range")

// Queue is an ordered sequence of tracks plus a current-index pointer.
// The index is either -1 (no current track) or within bounds. While shuffle
// is active an original-order snapshot is retained so shuffle can be
// losslessly reversed.
type Queue struct {
	items    []track.QueueItem
	index    int
	snapshot []track.QueueItem // original order, non-nil only while shuffled
}

// New creates an empty queue with no current track.
func New() *Queue {
	return &Queue{index: -1}
}

// Items returns a copy of the queued entries in play order.
func (q *Queue) Items() []track.QueueItem {
	out := make([]track.QueueItem, len(q.items))
	copy(out, q.items)
	return out
}

// Len returns the number of entries in the queue.
func (q *Queue) Len() int {
	return len(q.items)
}

// Index returns the current-index pointer (-1 when no current track).
func (q *Queue) Index() int {
	return q.index
}

// Current returns the entry at the current index.
func (q *Queue) Current() (track.QueueItem, bool) {
	if q.index < 0 || q.index >= len(q.items) {
		return track.QueueItem{}, false
	}
	return q.items[q.index], true
}

// Shuffled reports whether a shuffle permutation is active.
func (q *Queue) Shuffled() bool {
	return q.snapshot != nil
}

// SetIndex moves the current-index pointer.
func (q *Queue) SetIndex(i int) error {
	if i < -1 || i >= len(q.items) {
		return errors.Wrapf(ErrIndexOutOfRange, "index %d, length %d", i, len(q.items))
	}
	q.index = i
	return nil
}

// Replace swaps the entire queue contents and resets any shuffle snapshot.
func (q *Queue) Replace(items []track.QueueItem, index int) error {
	if index < -1 || index >= len(items) {
		return errors.Wrapf(ErrIndexOutOfRange, "index %d, length %d", index, len(items))
	}
	q.items = make([]track.QueueItem, len(items))
	copy(q.items, items)
	q.index = index
	q.snapshot = nil
	return nil
}

// Add appends an entry to the end of the queue. While shuffled, the entry is
// appended to the snapshot as well so unshuffle keeps it.
func (q *Queue) Add(item track.QueueItem) {
	q.items = append(q.items, item)
	if q.snapshot != nil {
		q.snapshot = append(q.snapshot, item)
	}
}

// Remove deletes the entry at index i. The current-index pointer keeps
// referencing the same logical entry; removing the current entry leaves the
// pointer at the same position (the next track slides into it), clamped to
// the new bounds.
func (q *Queue) Remove(i int) error {
	if i < 0 || i >= len(q.items) {
		return errors.Wrapf(ErrIndexOutOfRange, "index %d, length %d", i, len(q.items))
	}
	removed := q.items[i]
	q.items = append(q.items[:i], q.items[i+1:]...)

	if q.snapshot != nil {
		for j := range q.snapshot {
			if q.snapshot[j].EntryID == removed.EntryID {
				q.snapshot = append(q.snapshot[:j], q.snapshot[j+1:]...)
				break
			}
		}
	}

	switch {
	case q.index == i:
		if q.index >= len(q.items) {
			q.index = len(q.items) - 1
		}
	case q.index > i:
		q.index--
	}
	return nil
}

// Move relocates the entry at from to position to, re-resolving the current
// pointer by entry identity.
func (q *Queue) Move(from, to int) error {
	if from < 0 || from >= len(q.items) || to < 0 || to >= len(q.items) {
		return errors.Wrapf(ErrIndexOutOfRange, "from %d to %d, length %d", from, to, len(q.items))
	}
	if from == to {
		return nil
	}
	var currentID string
	if cur, ok := q.Current(); ok {
		currentID = cur.EntryID
	}

	item := q.items[from]
	q.items = append(q.items[:from], q.items[from+1:]...)
	q.items = append(q.items[:to], append([]track.QueueItem{item}, q.items[to:]...)...)

	q.resolveIndex(currentID)
	return nil
}

// Clear empties the queue and drops the shuffle snapshot.
func (q *Queue) Clear() {
	q.items = nil
	q.snapshot = nil
	q.index = -1
}

// Shuffle permutes the queue, retaining the original order so Unshuffle can
// restore it. The current pointer is re-resolved by entry identity.
func (q *Queue) Shuffle(rng *rand.Rand) {
	if q.snapshot != nil || len(q.items) < 2 {
		if q.snapshot == nil && len(q.items) > 0 {
			q.snapshot = q.Items()
		}
		return
	}
	var currentID string
	if cur, ok := q.Current(); ok {
		currentID = cur.EntryID
	}

	q.snapshot = q.Items()
	rng.Shuffle(len(q.items), func(i, j int) {
		q.items[i], q.items[j] = q.items[j], q.items[i]
	})

	q.resolveIndex(currentID)
}

// Unshuffle restores the original order. Entries added while shuffled are
// already part of the snapshot; the current pointer is re-resolved by entry
// identity.
func (q *Queue) Unshuffle() {
	if q.snapshot == nil {
		return
	}
	var currentID string
	if cur, ok := q.Current(); ok {
		currentID = cur.EntryID
	}

	q.items = q.snapshot
	q.snapshot = nil

	q.resolveIndex(currentID)
}

// resolveIndex points the index at the entry with the given ID, or -1 when
// the entry is gone.
func (q *Queue) resolveIndex(entryID string) {
	if entryID == "" {
		q.index = -1
		return
	}
	for i := range q.items {
		if q.items[i].EntryID == entryID {
			q.index = i
			return
		}
	}
	q.index = -1
}
