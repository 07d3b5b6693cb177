package components

import (
	"slices"
	"strings"

	"github.com/emirpasic/gods/sets/linkedhashset"
)

// Set is a set of components that remembers insertion order.
type Set struct {
	set *linkedhashset.Set
}

func NewSet(cs ...Component) *Set {
	s := &Set{set: linkedhashset.New()}
	s.Add(cs...)
	return s
}

func (s *Set) Add(cs ...Component) {
	for _, c := range cs {
		s.set.Add(c)
	}
}

func (s *Set) Remove(cs ...Component) {
	for _, c := range cs {
		s.set.Remove(c)
	}
}

func (s *Set) Contains(c Component) bool {
	return s.set.Contains(c)
}

func (s *Set) Size() int {
	return s.set.Size()
}

func (s *Set) Empty() bool {
	return s.set.Empty()
}

func (s *Set) Values() []Component {
	results := make([]Component, 0, s.set.Size())
	for _, v := range s.set.Values() {
		results = append(results, v.(Component))
	}
	return results
}

// Sorted returns the members ordered by pkg then target.
func (s *Set) Sorted() []Component {
	results := s.Values()
	slices.SortFunc(results, func(a, b Component) int {
		return ComponentComparator(a, b)
	})
	return results
}

// Difference returns the members of s not in other, keeping the order of s.
func (s *Set) Difference(other *Set) *Set {
	result := NewSet()
	for _, c := range s.Values() {
		if !other.Contains(c) {
			result.Add(c)
		}
	}
	return result
}

func (s *Set) String() string {
	names := make([]string, 0, s.Size())
	for _, c := range s.Values() {
		names = append(names, c.Name())
	}
	return "[" + strings.Join(names, ", ") + "]"
}
