// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package field

import (
	"sync"
	"testing"
	"time"
)

func TestFieldSetMergesPartialUpdates(t *testing.T) {
	f := New[Loadable[string]]()

	f.Set(func(s *Loadable[string]) { s.Value = Ptr("5") })
	f.Set(func(s *Loadable[string]) { s.Loading = true })

	got := f.Get()
	if got.Value == nil || *got.Value != "5" {
		t.Fatalf("value not preserved through partial update: %+v", got)
	}
	if !got.Loading {
		t.Fatal("loading flag not applied")
	}

	f.Set(func(s *Loadable[string]) { s.Loading = false })
	if got := f.Get(); got.Value == nil || *got.Value != "5" || got.Loading {
		t.Fatalf("unexpected snapshot after clearing loading: %+v", got)
	}
}

func TestFieldPublishOrder(t *testing.T) {
	f := New[Loadable[int]]()

	var order []string
	f.Subscribe(func(Loadable[int]) { order = append(order, "a") })
	f.Subscribe(func(Loadable[int]) { order = append(order, "b") })
	f.Subscribe(func(Loadable[int]) { order = append(order, "c") })

	f.Set(func(s *Loadable[int]) { s.Value = Ptr(1) })

	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("subscribers not notified in subscription order: %v", order)
	}
}

func TestFieldSubscriberSeesSnapshot(t *testing.T) {
	f := New[Validatable[string]]()

	var seen []Validatable[string]
	f.Subscribe(func(s Validatable[string]) { seen = append(seen, s) })

	f.Set(func(s *Validatable[string]) { s.Value = Ptr("addr") })
	f.Set(func(s *Validatable[string]) { s.Valid = Ptr(true) })

	if len(seen) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(seen))
	}
	if seen[0].Valid != nil {
		t.Fatal("first snapshot should not be validated yet")
	}
	if seen[1].Value == nil || *seen[1].Value != "addr" || seen[1].Valid == nil || !*seen[1].Valid {
		t.Fatalf("second snapshot missing merged state: %+v", seen[1])
	}
}

func TestFieldUnsubscribe(t *testing.T) {
	f := New[Loadable[int]]()

	var aCount, bCount int
	unsubA := f.Subscribe(func(Loadable[int]) { aCount++ })
	f.Subscribe(func(Loadable[int]) { bCount++ })

	f.Set(func(s *Loadable[int]) { s.Value = Ptr(1) })
	unsubA()
	unsubA() // safe to call twice
	f.Set(func(s *Loadable[int]) { s.Value = Ptr(2) })

	if aCount != 1 {
		t.Fatalf("unsubscribed fn still notified: %d", aCount)
	}
	if bCount != 2 {
		t.Fatalf("remaining subscriber missed a publish: %d", bCount)
	}
}

func TestFieldReset(t *testing.T) {
	f := New[Loadable[string]]()
	f.Set(func(s *Loadable[string]) {
		s.Value = Ptr("x")
		s.Loading = true
	})

	var notified bool
	f.Subscribe(func(s Loadable[string]) { notified = true })

	f.Reset()
	if got := f.Get(); got.Value != nil || got.Loading || got.Err != nil {
		t.Fatalf("reset left state behind: %+v", got)
	}
	if !notified {
		t.Fatal("reset was not published")
	}
}

func TestFieldConcurrentAccess(t *testing.T) {
	f := New[Loadable[int]]()
	f.Subscribe(func(Loadable[int]) {})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			f.Set(func(s *Loadable[int]) { s.Value = Ptr(n) })
		}(i)
		go func() {
			defer wg.Done()
			unsub := f.Subscribe(func(Loadable[int]) {})
			f.Get()
			unsub()
		}()
	}
	wg.Wait()

	if f.Get().Value == nil {
		t.Fatal("no write landed")
	}
}

func TestDebouncerCoalesces(t *testing.T) {
	d := NewDebouncer()
	defer d.CancelAll()

	var mtx sync.Mutex
	var runs int
	for i := 0; i < 3; i++ {
		d.Schedule("amount", 20*time.Millisecond, func() {
			mtx.Lock()
			runs++
			mtx.Unlock()
		})
	}

	time.Sleep(100 * time.Millisecond)
	mtx.Lock()
	defer mtx.Unlock()
	if runs != 1 {
		t.Fatalf("expected one run after coalescing, got %d", runs)
	}
}

func TestDebouncerIndependentKeys(t *testing.T) {
	d := NewDebouncer()
	defer d.CancelAll()

	var mtx sync.Mutex
	ran := make(map[string]bool)
	mark := func(key string) func() {
		return func() {
			mtx.Lock()
			ran[key] = true
			mtx.Unlock()
		}
	}
	d.Schedule("a", 10*time.Millisecond, mark("a"))
	d.Schedule("b", 10*time.Millisecond, mark("b"))

	time.Sleep(80 * time.Millisecond)
	mtx.Lock()
	defer mtx.Unlock()
	if !ran["a"] || !ran["b"] {
		t.Fatalf("keys interfered with each other: %v", ran)
	}
}

func TestDebouncerCancel(t *testing.T) {
	d := NewDebouncer()
	defer d.CancelAll()

	var mtx sync.Mutex
	var ran bool
	d.Schedule("a", 20*time.Millisecond, func() {
		mtx.Lock()
		ran = true
		mtx.Unlock()
	})
	d.Cancel("a")

	time.Sleep(80 * time.Millisecond)
	mtx.Lock()
	defer mtx.Unlock()
	if ran {
		t.Fatal("canceled task still ran")
	}
}
