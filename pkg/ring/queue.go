// Package ring implements a growable double-ended queue over a circular buffer.
//
// Logical element i (counted from the front) lives in the physical slot
// (start+i) mod size. The queue allocates nothing until the first push and
// doubles its capacity whenever a push would overflow it.
package ring

import (
	"errors"
	"iter"
	"reflect"
)

var (
	ErrIndexOutOfBounds = errors.New("ring: index out of bounds")
	ErrAllocation       = errors.New("ring: memory allocation failure")
)

// maxBytes caps the backing storage of a single queue.
const maxBytes = 1 << 40

// Queue is a double-ended queue. The zero value is an empty queue ready to use.
// It is not safe for concurrent use.
type Queue[T any] struct {
	data  []T
	start int
	count int
}

// New returns a queue with at least n slots reserved.
func New[T any](n int) (*Queue[T], error) {
	q := &Queue[T]{}
	if err := q.Reserve(n); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue[T]) Len() int { return q.count }
func (q *Queue[T]) Cap() int { return len(q.data) }

// Reserve makes sure the queue can hold n elements without growing.
// The logical order is preserved, the live elements are laid out
// from the slot 0 of the new storage.
func (q *Queue[T]) Reserve(n int) error {
	if n <= len(q.data) {
		return nil
	}
	data, err := q.alloc(n)
	if err != nil {
		return err
	}
	head, wrapped := q.segments()
	copy(data, head)
	copy(data[len(head):], wrapped)
	q.data, q.start = data, 0
	return nil
}

// grow doubles the capacity keeping the start index in place.
// When the live region wraps around the old end, the wrapped part is
// moved right after the old high end so it stays contiguous.
func (q *Queue[T]) grow() error {
	size := len(q.data)
	if size == 0 {
		return q.Reserve(1)
	}
	data, err := q.alloc(size * 2)
	if err != nil {
		return err
	}
	copy(data, q.data)
	if q.start > 0 && q.start+q.count > size {
		wrapped := q.count - (size - q.start)
		copy(data[size:], data[:wrapped])
		clear(data[:wrapped])
	}
	q.data = data
	return nil
}

func (q *Queue[T]) alloc(n int) ([]T, error) {
	if sz := int(reflect.TypeFor[T]().Size()); n < 0 || (sz > 0 && n > maxBytes/sz) {
		return nil, ErrAllocation
	}
	return make([]T, n), nil
}

// segments returns the live region as the part up to the physical end
// and the part wrapped to the beginning of the storage.
func (q *Queue[T]) segments() (head, wrapped []T) {
	if q.count == 0 {
		return nil, nil
	}
	end := q.start + q.count
	if end <= len(q.data) {
		return q.data[q.start:end], nil
	}
	return q.data[q.start:], q.data[:end-len(q.data)]
}

func (q *Queue[T]) index(i int) int { return (q.start + i) % len(q.data) }

func (q *Queue[T]) PushBack(v T) error {
	if q.count == len(q.data) {
		if err := q.grow(); err != nil {
			return err
		}
	}
	q.data[q.index(q.count)] = v
	q.count++
	return nil
}

func (q *Queue[T]) PushFront(v T) error {
	if q.count == len(q.data) {
		if err := q.grow(); err != nil {
			return err
		}
	}
	if q.start > 0 {
		q.start--
	} else {
		q.start = len(q.data) - 1
	}
	q.data[q.start] = v
	q.count++
	return nil
}

func (q *Queue[T]) PopFront() (v T, err error) {
	if q.count == 0 {
		return v, ErrIndexOutOfBounds
	}
	v = q.data[q.start]
	var zero T
	q.data[q.start] = zero
	q.start++
	if q.start >= len(q.data) {
		q.start = 0
	}
	q.count--
	return v, nil
}

func (q *Queue[T]) PopBack() (v T, err error) {
	if q.count == 0 {
		return v, ErrIndexOutOfBounds
	}
	i := q.index(q.count - 1)
	v = q.data[i]
	var zero T
	q.data[i] = zero
	q.count--
	return v, nil
}

func (q *Queue[T]) PeekFront() (T, error) { return q.PeekAt(0) }

func (q *Queue[T]) PeekBack() (T, error) { return q.PeekAt(q.count - 1) }

// PeekAt returns a copy of the i-th element from the front.
func (q *Queue[T]) PeekAt(i int) (v T, err error) {
	if i < 0 || i >= q.count {
		return v, ErrIndexOutOfBounds
	}
	return q.data[q.index(i)], nil
}

// PointerAt returns the address of the i-th element.
// The pointer is valid only until the queue grows or loses an element.
func (q *Queue[T]) PointerAt(i int) (*T, error) {
	if i < 0 || i >= q.count {
		return nil, ErrIndexOutOfBounds
	}
	return &q.data[q.index(i)], nil
}

// PopAt removes the i-th element, closing the gap by shifting
// whichever side of it holds fewer elements.
func (q *Queue[T]) PopAt(i int) (v T, err error) {
	if i < 0 || i >= q.count {
		return v, ErrIndexOutOfBounds
	}
	switch i {
	case 0:
		return q.PopFront()
	case q.count - 1:
		return q.PopBack()
	}

	v = q.data[q.index(i)]
	var zero T
	if i < q.count-1-i {
		for j := i; j > 0; j-- {
			q.data[q.index(j)] = q.data[q.index(j-1)]
		}
		q.data[q.start] = zero
		q.start = q.index(1)
	} else {
		for j := i; j < q.count-1; j++ {
			q.data[q.index(j)] = q.data[q.index(j+1)]
		}
		q.data[q.index(q.count-1)] = zero
	}
	q.count--
	return v, nil
}

// Clear drops all the elements keeping the allocated capacity.
func (q *Queue[T]) Clear() {
	head, wrapped := q.segments()
	clear(head)
	clear(wrapped)
	q.start, q.count = 0, 0
}

// All iterates over the elements from the front to the back.
// The queue must not be modified during the iteration.
func (q *Queue[T]) All() iter.Seq[*T] {
	return func(yield func(*T) bool) {
		for i := 0; i < q.count; i++ {
			if !yield(&q.data[q.index(i)]) {
				return
			}
		}
	}
}

// Backward iterates over the elements from the back to the front.
func (q *Queue[T]) Backward() iter.Seq[*T] {
	return func(yield func(*T) bool) {
		for i := q.count - 1; i >= 0; i-- {
			if !yield(&q.data[q.index(i)]) {
				return
			}
		}
	}
}
