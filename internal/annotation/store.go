package annotation

import "sort"

// Pair is a complete start/end pair reduced to its newest frame values.
type Pair struct {
	Index      int `json:"index"`
	StartFrame int `json:"start_frame"`
	EndFrame   int `json:"end_frame"`
}

// FrameCount is the number of frames covered, inclusive of both ends.
func (p Pair) FrameCount() int {
	return p.EndFrame - p.StartFrame + 1
}

// Store enforces pairing rules over a single record. It is not safe for
// concurrent use; a session owns it exclusively.
type Store struct {
	rec *Record
}

func NewStore(rec *Record) *Store {
	return &Store{rec: rec}
}

func (s *Store) Record() *Record { return s.rec }

// Add records position and frame under key.
func (s *Store) Add(key Key, position float64, frame int) error {
	if s.rec.Has(key) {
		return &DuplicateAnnotationError{Record: s.rec.Name, Key: key}
	}
	s.rec.insert(key, position, frame)
	return nil
}

// RemoveLast drops the newest key. ok is false when the record is empty.
func (s *Store) RemoveLast() (Key, bool) {
	return s.rec.removeLast()
}

// UnpairedKeys returns every present key whose companion is absent, ordered
// by index.
func (s *Store) UnpairedKeys() []Key {
	return s.scanUnpaired(func(k Key) Key { return k })
}

// MissingCompanions returns the absent companion of every unpaired key: the
// keys that would have to be recorded to close all open pairs.
func (s *Store) MissingCompanions() []Key {
	return s.scanUnpaired(Key.Companion)
}

func (s *Store) scanUnpaired(pick func(Key) Key) []Key {
	var out []Key
	for _, k := range s.rec.order {
		if !s.rec.Has(k.Companion()) {
			out = append(out, pick(k))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// RequirePaired fails with UnpairedAnnotationError while any pair is open.
// The error names the missing companions.
func (s *Store) RequirePaired() error {
	if missing := s.MissingCompanions(); len(missing) > 0 {
		return &UnpairedAnnotationError{Record: s.rec.Name, Missing: missing}
	}
	return nil
}

// Pairs returns every complete pair with end >= start, by ascending index.
func (s *Store) Pairs() []Pair {
	var out []Pair
	for _, p := range s.completePairs() {
		if p.EndFrame >= p.StartFrame {
			out = append(out, p)
		}
	}
	return out
}

// InvertedPairs returns complete pairs whose end precedes their start.
func (s *Store) InvertedPairs() []Pair {
	var out []Pair
	for _, p := range s.completePairs() {
		if p.EndFrame < p.StartFrame {
			out = append(out, p)
		}
	}
	return out
}

func (s *Store) completePairs() []Pair {
	var pairs []Pair
	for _, k := range s.rec.order {
		if k.Event != EventStart {
			continue
		}
		end := EndKey(k.Index)
		if !s.rec.Has(end) {
			continue
		}
		starts, ends := s.rec.frames[k], s.rec.frames[end]
		if len(starts) == 0 || len(ends) == 0 {
			continue
		}
		pairs = append(pairs, Pair{Index: k.Index, StartFrame: starts[0], EndFrame: ends[0]})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Index < pairs[j].Index })
	return pairs
}
