// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ivset implements an ordered set of disjoint half-open uint32
// intervals that merges overlapping and adjacent intervals on insertion.
package ivset

import (
	"fmt"
	"iter"
	"slices"
	"sort"
)

// Interval is the half-open interval [Start, End).
type Interval struct {
	Start uint32 // inclusive
	End   uint32 // exclusive
}

// Len returns the number of integers in i.
func (i Interval) Len() int {
	if i.End <= i.Start {
		return 0
	}
	return int(i.End - i.Start)
}

func (i Interval) String() string {
	return fmt.Sprintf("[%#x,%#x)", i.Start, i.End)
}

// Set is a set of uint32 values stored as a sorted slice of disjoint
// intervals. There is always a gap between two consecutive intervals. The
// zero value is an empty set ready to use.
type Set struct {
	intervals []Interval
	n         int // number of elements
}

// Len returns the number of elements in the set.
func (s *Set) Len() int { return s.n }

// NumIntervals returns the number of disjoint intervals in the set.
func (s *Set) NumIntervals() int { return len(s.intervals) }

// Cap returns the number of intervals the set can hold without growing.
func (s *Set) Cap() int { return cap(s.intervals) }

// At returns the i-th interval in increasing order.
func (s *Set) At(i int) Interval { return s.intervals[i] }

// All returns an iterator over the intervals in increasing order. The set
// must not be modified during the iteration.
func (s *Set) All() iter.Seq[Interval] {
	return func(yield func(Interval) bool) {
		for _, iv := range s.intervals {
			if !yield(iv) {
				return
			}
		}
	}
}

// Intervals returns a copy of the intervals in increasing order.
func (s *Set) Intervals() []Interval {
	return slices.Clone(s.intervals)
}

// Contains reports whether x is in the set.
func (s *Set) Contains(x uint32) bool {
	i := s.find(x)
	return i < len(s.intervals) && s.intervals[i].Start <= x && x < s.intervals[i].End
}

// Clear removes all elements from the set but keeps the allocated storage.
func (s *Set) Clear() {
	s.intervals = s.intervals[:0]
	s.n = 0
	s.selfCheck()
}

// Release removes all elements from the set and releases its storage.
func (s *Set) Release() {
	s.intervals = nil
	s.n = 0
}

// find returns the index of the first interval that ends at or after x. This
// is the interval that contains or touches x, or the position at which an
// interval starting at x must be inserted.
func (s *Set) find(x uint32) int {
	return sort.Search(len(s.intervals), func(i int) bool {
		return s.intervals[i].End >= x
	})
}

// grow makes room for one more interval. The capacity grows by half plus one
// interval each time it is exhausted.
func (s *Set) grow() {
	if len(s.intervals) < cap(s.intervals) {
		return
	}
	c := cap(s.intervals)
	ivs := make([]Interval, len(s.intervals), c+c/2+1)
	copy(ivs, s.intervals)
	s.intervals = ivs
}

// covered returns the number of elements of [start, end) that are also in iv.
func covered(start, end uint32, iv Interval) int {
	lo := max(start, iv.Start)
	hi := min(end, iv.End)
	if hi <= lo {
		return 0
	}
	return int(hi - lo)
}

// Union adds the elements of [start, end) to the set and returns the number of
// elements that were not in the set before. Union is a no-op that returns 0 if
// start >= end.
func (s *Set) Union(start, end uint32) int {
	if start >= end {
		return 0
	}
	added := int(end - start)
	i := s.find(start)
	if i == len(s.intervals) || end < s.intervals[i].Start {
		// Disjoint with all intervals.
		s.grow()
		s.intervals = slices.Insert(s.intervals, i, Interval{start, end})
	} else {
		// Extend the first intersecting interval, then absorb all following
		// intervals that [start, end) reaches.
		dst := &s.intervals[i]
		added -= covered(start, end, *dst)
		dst.Start = min(dst.Start, start)
		dst.End = max(dst.End, end)
		k := i + 1
		for k < len(s.intervals) && s.intervals[k].Start <= end {
			added -= covered(start, end, s.intervals[k])
			dst.End = max(dst.End, s.intervals[k].End)
			k++
		}
		s.intervals = slices.Delete(s.intervals, i+1, k)
	}
	s.n += added
	s.selfCheck()
	return added
}

// check verifies the set invariants and returns a description of the first
// violation found.
func (s *Set) check() error {
	if (s.n == 0) != (len(s.intervals) == 0) {
		return fmt.Errorf("%d elements in %d intervals", s.n, len(s.intervals))
	}
	total := 0
	for i, iv := range s.intervals {
		if iv.End <= iv.Start {
			return fmt.Errorf("interval %d %v is empty", i, iv)
		}
		if i > 0 && s.intervals[i-1].End >= iv.Start {
			return fmt.Errorf("intervals %d %v and %d %v are not disjoint", i-1, s.intervals[i-1], i, iv)
		}
		total += iv.Len()
	}
	if total != s.n {
		return fmt.Errorf("element count %d, intervals hold %d", s.n, total)
	}
	return nil
}

func (s *Set) selfCheck() {
	if !debug {
		return
	}
	if err := s.check(); err != nil {
		panic("ivset: " + err.Error())
	}
}
