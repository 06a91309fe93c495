package chat

import "sync"

// Store is the ordered in-memory message list of one conversation.
//
// Concurrency guarantees:
//   - All operations are safe under concurrent use.
//   - AppendIfNew reads and writes under one lock, so a duplicate check is
//     never interleaved with another mutation.
//   - onChange runs after the lock is released.
type Store struct {
	mu   sync.RWMutex
	msgs []Message

	onChange func()
}

// NewStore constructs an empty Store. onChange may be nil.
func NewStore(onChange func()) *Store {
	return &Store{onChange: onChange}
}

func (s *Store) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}

// ReplaceAll swaps the whole list without merging against prior content.
func (s *Store) ReplaceAll(msgs []Message) {
	cp := append([]Message(nil), msgs...)

	s.mu.Lock()
	s.msgs = cp
	s.mu.Unlock()

	s.changed()
}

// Rebase replaces the list with history, then re-appends every previous entry
// history does not already hold: unconfirmed sends, and realtime arrivals the
// fetch raced with. It returns how many previous entries were carried over.
func (s *Store) Rebase(history []Message) int {
	s.mu.Lock()
	next := append(make([]Message, 0, len(history)+len(s.msgs)), history...)
	carried := 0
	for _, m := range s.msgs {
		if m.IsPending || !holds(next[:len(history)], m) {
			next = append(next, m)
			carried++
		}
	}
	s.msgs = next
	s.mu.Unlock()

	s.changed()
	return carried
}

func holds(msgs []Message, m Message) bool {
	for _, h := range msgs {
		if (m.ID != "" && h.ID == m.ID) || IsDuplicate(h, m) {
			return true
		}
	}
	return false
}

// Append inserts m unconditionally. Used for local optimistic inserts.
func (s *Store) Append(m Message) {
	s.mu.Lock()
	s.msgs = append(s.msgs, m)
	s.mu.Unlock()

	s.changed()
}

// AppendIfNew appends candidate unless a duplicate is already stored.
// It returns the stored entry and whether it was added.
func (s *Store) AppendIfNew(candidate Message) (Message, bool) {
	s.mu.Lock()
	for _, m := range s.msgs {
		if IsDuplicate(m, candidate) {
			s.mu.Unlock()
			return m, false
		}
	}
	s.msgs = append(s.msgs, candidate)
	s.mu.Unlock()

	s.changed()
	return candidate, true
}

// UpsertByTempOrID merges patch into every message whose TempID or ID equals key.
// A missing key is not an error: late acknowledgements for removed entries are ignored.
func (s *Store) UpsertByTempOrID(key string, patch Patch) bool {
	found := false

	s.mu.Lock()
	for i := range s.msgs {
		if s.msgs[i].matchesKey(key) {
			patch.apply(&s.msgs[i])
			found = true
		}
	}
	s.mu.Unlock()

	if found {
		s.changed()
	}
	return found
}

// RemoveByTempID deletes unconfirmed entries carrying tempID and returns how many were removed.
func (s *Store) RemoveByTempID(tempID string) int {
	if tempID == "" {
		return 0
	}
	return s.removeWhere(func(m Message) bool { return m.TempID == tempID })
}

// RemoveAllPending deletes every pending entry that was not delivered.
func (s *Store) RemoveAllPending() int {
	return s.removeWhere(func(m Message) bool { return m.IsPending && !m.IsDelivered })
}

func (s *Store) removeWhere(drop func(Message) bool) int {
	s.mu.Lock()
	kept := s.msgs[:0]
	removed := 0
	for _, m := range s.msgs {
		if drop(m) {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	// Zero the tail so dropped entries don't linger in the backing array.
	for i := len(kept); i < len(s.msgs); i++ {
		s.msgs[i] = Message{}
	}
	s.msgs = kept
	s.mu.Unlock()

	if removed > 0 {
		s.changed()
	}
	return removed
}

// Snapshot returns a copy of the list in display order.
func (s *Store) Snapshot() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Message(nil), s.msgs...)
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}

// Dedupe keeps the first message of every duplicate class, comparing each
// candidate against the messages already kept. Order is preserved.
func Dedupe(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
next:
	for _, m := range msgs {
		for _, k := range out {
			if IsDuplicate(k, m) {
				continue next
			}
		}
		out = append(out, m)
	}
	return out
}
