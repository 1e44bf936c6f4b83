package staging

import "github.com/cockroachdb/errors"

// Segment is a half-open byte range [Begin, End) in the ring.
type Segment struct {
	Begin uint64
	End   uint64
}

// Size returns the length of the segment.
func (s Segment) Size() uint64 { return s.End - s.Begin }

// Empty reports whether the segment covers no bytes.
func (s Segment) Empty() bool { return s.Begin == s.End }

// Span is a region of the ring. The second segment is non-empty only when
// the region wraps around the end of the ring.
type Span struct {
	Segments [2]Segment
}

// Size returns the total number of bytes in the span.
func (s Span) Size() uint64 { return s.Segments[0].Size() + s.Segments[1].Size() }

// Contiguous reports whether the span is a single segment.
func (s Span) Contiguous() bool { return s.Segments[1].Empty() }

// subspan skips the first offset bytes of s.
func (s Span) subspan(offset uint64) Span {
	first := s.Segments[0].Size()
	if offset <= first {
		s.Segments[0].Begin += offset
		return s
	}
	s.Segments[0].Begin = s.Segments[0].End
	s.Segments[1].Begin = min(s.Segments[1].Begin+offset-first, s.Segments[1].End)
	return s
}

// Ring tracks FIFO allocations in a circular range of Size bytes.
// Fetch hands out bytes after the newest allocation; Release returns the
// oldest ones. A Ring is not safe for concurrent use.
type Ring struct {
	size  uint64
	first uint64 // oldest used byte
	used  uint64
}

// NewRing returns a ring of size bytes.
func NewRing(size uint64) *Ring {
	r := &Ring{}
	r.Reset(size)
	return r
}

// Reset empties the ring and resizes it.
func (r *Ring) Reset(size uint64) {
	r.size = size
	r.first = 0
	r.used = 0
}

// Size returns the capacity of the ring.
func (r *Ring) Size() uint64 { return r.size }

// Used returns the number of bytes fetched and not yet released.
func (r *Ring) Used() uint64 { return r.used }

// Available returns the number of free bytes, possibly split in two segments.
func (r *Ring) Available() uint64 { return r.size - r.used }

// HasAvailable reports whether n bytes can be fetched.
func (r *Ring) HasAvailable(n uint64) bool { return n <= r.Available() }

// FirstUnused returns the position the next Fetch starts at.
func (r *Ring) FirstUnused() uint64 {
	if r.size == 0 {
		return 0
	}
	return (r.first + r.used) % r.size
}

// FirstSegmentAvailable returns the number of free bytes available
// contiguously from FirstUnused.
func (r *Ring) FirstSegmentAvailable() uint64 {
	if r.used == r.size {
		return 0
	}
	head := r.FirstUnused()
	if head >= r.first {
		return r.size - head
	}
	return r.first - head
}

// Fetch allocates n bytes starting at FirstUnused, wrapping to the start of
// the ring if needed. It panics if fewer than n bytes are available.
func (r *Ring) Fetch(n uint64) Span {
	if !r.HasAvailable(n) {
		panic(errors.AssertionFailedf("staging: ring fetch of %d bytes with %d available", n, r.Available()))
	}
	head := r.FirstUnused()
	var s Span
	end := min(head+n, r.size)
	s.Segments[0] = Segment{Begin: head, End: end}
	if rest := n - (end - head); rest > 0 {
		s.Segments[1] = Segment{Begin: 0, End: rest}
	}
	r.used += n
	return s
}

// Release returns the n oldest bytes to the ring.
func (r *Ring) Release(n uint64) {
	if n > r.used {
		panic(errors.AssertionFailedf("staging: ring release of %d bytes with %d used", n, r.used))
	}
	r.used -= n
	if r.used == 0 {
		r.first = 0
		return
	}
	r.first = (r.first + n) % r.size
}
