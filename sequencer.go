package match

// sequencer issues the strictly increasing per-symbol sequence. The value is
// the sole priority tie-break and the event ordering token; wall-clock time
// is informational only. It is touched exclusively by the symbol's executor
// goroutine, so a plain counter suffices.
type sequencer struct {
	last uint64
}

// next returns the following sequence value. Values are never skipped or
// reused for a symbol.
func (s *sequencer) next() uint64 {
	s.last++
	return s.last
}

// current returns the most recently issued value.
func (s *sequencer) current() uint64 {
	return s.last
}

// restore resets the counter, used when seeding a book from a snapshot.
func (s *sequencer) restore(v uint64) {
	s.last = v
}
