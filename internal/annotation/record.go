package annotation

import "slices"

// Record is all annotation state for one video. Positions and frames always
// share a key set; order is the insertion log used for LIFO removal.
type Record struct {
	Name string
	Path string

	positions map[Key][]float64
	frames    map[Key][]int
	order     []Key
	dirty     bool
}

func NewRecord(name, path string) *Record {
	return &Record{
		Name:      name,
		Path:      path,
		positions: make(map[Key][]float64),
		frames:    make(map[Key][]int),
	}
}

// Len returns the number of keys present.
func (r *Record) Len() int { return len(r.order) }

func (r *Record) Has(k Key) bool {
	_, ok := r.frames[k]
	return ok
}

// Keys returns keys in insertion order.
func (r *Record) Keys() []Key {
	return slices.Clone(r.order)
}

// Positions returns the position sequence for k, newest first.
func (r *Record) Positions(k Key) []float64 {
	return slices.Clone(r.positions[k])
}

// Frames returns the frame sequence for k, newest first.
func (r *Record) Frames(k Key) []int {
	return slices.Clone(r.frames[k])
}

// Last returns the most recently inserted key.
func (r *Record) Last() (Key, bool) {
	if len(r.order) == 0 {
		return Key{}, false
	}
	return r.order[len(r.order)-1], true
}

func (r *Record) Dirty() bool { return r.dirty }

func (r *Record) MarkClean() { r.dirty = false }

// Clone returns an independently owned copy, used for persistence.
func (r *Record) Clone() *Record {
	c := &Record{
		Name:      r.Name,
		Path:      r.Path,
		positions: make(map[Key][]float64, len(r.positions)),
		frames:    make(map[Key][]int, len(r.frames)),
		order:     slices.Clone(r.order),
		dirty:     r.dirty,
	}
	for k, v := range r.positions {
		c.positions[k] = slices.Clone(v)
	}
	for k, v := range r.frames {
		c.frames[k] = slices.Clone(v)
	}
	return c
}

// Equal compares identity, key order and every value sequence.
func (r *Record) Equal(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}
	if r.Name != o.Name || r.Path != o.Path || !slices.Equal(r.order, o.order) {
		return false
	}
	for _, k := range r.order {
		if !slices.Equal(r.positions[k], o.positions[k]) || !slices.Equal(r.frames[k], o.frames[k]) {
			return false
		}
	}
	return true
}

// insert prepends the values under k, touching both maps.
func (r *Record) insert(k Key, position float64, frame int) {
	if _, ok := r.frames[k]; !ok {
		r.order = append(r.order, k)
	}
	r.positions[k] = append([]float64{position}, r.positions[k]...)
	r.frames[k] = append([]int{frame}, r.frames[k]...)
	r.dirty = true
}

// restore appends whole sequences while decoding; values are already ordered.
func (r *Record) restore(k Key, positions []float64, frames []int) {
	r.order = append(r.order, k)
	r.positions[k] = positions
	r.frames[k] = frames
}

func (r *Record) removeLast() (Key, bool) {
	k, ok := r.Last()
	if !ok {
		return Key{}, false
	}
	r.order = r.order[:len(r.order)-1]
	delete(r.positions, k)
	delete(r.frames, k)
	r.dirty = true
	return k, true
}
