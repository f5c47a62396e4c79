package stack

import "github.com/pkg/errors"

var ErrStackEmpty = errors.New("stack is empty")

type Stack[T any] struct{ items []T }

func New[T any](cap uint) *Stack[T] {
	return &Stack[T]{items: make([]T, 0, cap)}
}

func (s *Stack[T]) Len() uint { return uint(len(s.items)) }

func (s *Stack[T]) Push(v T) { s.items = append(s.items, v) }

func (s *Stack[T]) Pop() (T, error) {
	if len(s.items) == 0 {
		var zero T
		return zero, ErrStackEmpty
	}

	v := s.items[len(s.items)-1]
	s.items = s.items[:len(s.items)-1]
	return v, nil
}

func (s *Stack[T]) Peek() (T, error) {
	if len(s.items) == 0 {
		var zero T
		return zero, ErrStackEmpty
	}
	return s.items[len(s.items)-1], nil
}

// Data copies the stack contents, bottom first.
func (s *Stack[T]) Data() []T {
	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}
