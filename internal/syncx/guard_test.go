package syncx

import (
	"sync"
	"testing"
	"time"
)

func TestGuardGetSet(t *testing.T) {
	g := NewGuard(42)

	if got := g.Get(); got != 42 {
		t.Errorf("Get() = %d, want 42", got)
	}

	g.Set(100)
	if got := g.Get(); got != 100 {
		t.Errorf("Get() after Set = %d, want 100", got)
	}
}

func TestGuardViewMutate(t *testing.T) {
	g := NewGuard(map[string][]int{})

	n := Mutate(g, func(m *map[string][]int) int {
		(*m)["a"] = []int{1, 2, 3}
		return len(*m)
	})
	if n != 1 {
		t.Errorf("Mutate() = %d, want 1", n)
	}

	got := View(g, func(m map[string][]int) int { return len(m["a"]) })
	if got != 3 {
		t.Errorf("View() = %d, want 3", got)
	}
}

func TestGuardReadWrite(t *testing.T) {
	type counter struct{ value int }
	g := NewGuard(counter{})

	g.Write(func(c *counter) { c.value = 42 })

	var seen int
	g.Read(func(c counter) { seen = c.value })
	if seen != 42 {
		t.Errorf("Read saw %d, want 42", seen)
	}
}

func TestGuardConcurrentAccess(t *testing.T) {
	g := NewGuard(0)
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Write(func(v *int) { *v++ })
		}()
	}
	wg.Wait()

	if got := g.Get(); got != 100 {
		t.Errorf("Get() = %d, want 100", got)
	}
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	var km KeyedMutex
	var mu sync.Mutex
	active, maxActive := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			km.Do("t1", func() {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
			})
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxActive)
	}
	if km.Len() != 0 {
		t.Errorf("Len() = %d after release, want 0", km.Len())
	}
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	var km KeyedMutex
	unlockA := km.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		km.Do("b", func() {})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on key b blocked behind key a")
	}
}
