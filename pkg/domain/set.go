package domain

// Set is a read-mostly membership set, built once and then queried.
type Set[T comparable] map[T]struct{}

func NewSet[T comparable](elements ...T) Set[T] {
	s := make(Set[T], len(elements))
	for _, e := range elements {
		s[e] = struct{}{}
	}
	return s
}

// Has reports whether element is in the set.
func (s Set[T]) Has(element T) bool {
	_, ok := s[element]
	return ok
}
