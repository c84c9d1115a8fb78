// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package field implements the observable field primitive shared by the
// bridge and swap orchestrators. A Field holds an immutable snapshot of one
// unit of orchestrator state and publishes every change synchronously to its
// subscribers, so reactive consumers and imperative orchestrator logic never
// see diverging state.
package field

import (
	"sync"
)

// Loadable is the snapshot of an asynchronously derived quantity. A nil
// Value represents "unset". Loading is true for the entire duration of the
// owning async recomputation and false otherwise.
type Loadable[T any] struct {
	Value   *T
	Loading bool
	Err     error
}

// Validatable extends Loadable for user input that requires validation.
// Valid is nil until the value has actually been validated at least once; it
// is never inferred from the absence of an error.
type Validatable[T any] struct {
	Loadable[T]
	Valid *bool
}

// Field is the single source of truth for one unit of state. The snapshot
// type S is typically Loadable[T] or Validatable[T]. Set applies a partial
// update by mutating a copy of the current snapshot, then publishes the
// result to all subscribers in subscription order. No operation suspends.
type Field[S any] struct {
	mtx     sync.Mutex
	state   S
	nextID  int
	subIDs  []int
	subs    map[int]func(S)
}

// New creates a Field holding the zero snapshot.
func New[S any]() *Field[S] {
	return &Field[S]{subs: make(map[int]func(S))}
}

// Get returns the current snapshot.
func (f *Field[S]) Get() S {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return f.state
}

// Set merges a partial update over the current snapshot. The mutator
// receives a copy of the current snapshot and changes only the parts it
// cares about; the result becomes the new snapshot and is published
// synchronously, in subscription order.
func (f *Field[S]) Set(mut func(*S)) {
	f.mtx.Lock()
	next := f.state
	mut(&next)
	f.state = next
	fns := make([]func(S), 0, len(f.subIDs))
	for _, id := range f.subIDs {
		fns = append(fns, f.subs[id])
	}
	f.mtx.Unlock()

	for _, fn := range fns {
		fn(next)
	}
}

// Reset replaces the snapshot with the zero value and publishes it.
func (f *Field[S]) Reset() {
	f.Set(func(s *S) {
		var zero S
		*s = zero
	})
}

// Subscribe registers fn to receive every published snapshot. The returned
// function removes the subscription; it is safe to call more than once.
func (f *Field[S]) Subscribe(fn func(S)) (unsubscribe func()) {
	f.mtx.Lock()
	id := f.nextID
	f.nextID++
	f.subIDs = append(f.subIDs, id)
	f.subs[id] = fn
	f.mtx.Unlock()

	return func() {
		f.mtx.Lock()
		defer f.mtx.Unlock()
		delete(f.subs, id)
		for i, el := range f.subIDs {
			if el == id {
				f.subIDs = append(f.subIDs[:i], f.subIDs[i+1:]...)
				break
			}
		}
	}
}

// Ptr is a convenience for writing snapshot values.
func Ptr[T any](v T) *T {
	return &v
}
