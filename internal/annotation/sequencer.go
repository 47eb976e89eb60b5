package annotation

import "fmt"

// Sequencer is the cursor producing the key the next mark should use.
type Sequencer struct {
	event EventType
	index int
}

func NewSequencer() *Sequencer {
	return &Sequencer{event: EventStart, index: 1}
}

func (s *Sequencer) Current() Key {
	return Key{Event: s.event, Index: s.index}
}

// Advance moves S(i) to E(i) and E(i) to S(i+1). Any other state is a
// programming error and panics.
func (s *Sequencer) Advance() {
	s.mustBeValid()
	if s.event == EventStart {
		s.event = EventEnd
		return
	}
	s.event = EventStart
	s.index++
}

// Regress moves E(i) to S(i) and S(i) to E(max(1, i-1)).
func (s *Sequencer) Regress() {
	s.mustBeValid()
	if s.event == EventEnd {
		s.event = EventStart
		return
	}
	s.event = EventEnd
	s.index = max(1, s.index-1)
}

func (s *Sequencer) Reset() {
	s.event = EventStart
	s.index = 1
}

// Seek places the cursor on k.
func (s *Sequencer) Seek(k Key) error {
	if !k.Valid() {
		return fmt.Errorf("%w: %v", ErrInvalidKey, k)
	}
	s.event = k.Event
	s.index = k.Index
	return nil
}

func (s *Sequencer) mustBeValid() {
	if !s.Current().Valid() {
		panic(fmt.Sprintf("annotation: invalid sequencer state (event=%d, index=%d)", int(s.event), s.index))
	}
}
