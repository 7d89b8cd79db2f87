package campaign

import (
	"sync"
	"testing"
)

func TestRegistryLifecycle(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	if !r.Register(5) {
		t.Fatal("Register(5) = false")
	}
	if r.Register(5) {
		t.Fatal("duplicate Register(5) = true")
	}
	if r.Cancelled(5) {
		t.Fatal("new entry starts cancelled")
	}
	if !r.Cancel(5) || !r.Cancel(5) {
		t.Fatal("Cancel of registered id = false")
	}
	if !r.Cancelled(5) {
		t.Fatal("flag not set after Cancel")
	}
	if r.Cancel(6) {
		t.Fatal("Cancel of unknown id = true")
	}

	r.Register(3)
	if ids := r.IDs(); len(ids) != 2 || ids[0] != 3 || ids[1] != 5 {
		t.Fatalf("IDs = %v", ids)
	}
	r.Remove(5)
	r.Remove(5)
	if r.Len() != 1 || r.Cancelled(5) {
		t.Fatalf("after Remove: len=%d", r.Len())
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := int64(0); i < 50; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			r.Register(id)
			r.Cancel(id)
			_ = r.Cancelled(id)
			_ = r.IDs()
			r.Remove(id)
		}(i)
	}
	wg.Wait()
	if r.Len() != 0 {
		t.Fatalf("Len = %d, want 0", r.Len())
	}
}
