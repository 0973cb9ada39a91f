package muid

import (
	"sync"
	"testing"
)

func TestMUID(t *testing.T) {
	const total = 100_000
	const workers = 8
	ch := make(chan MUID, total)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < total/workers; i++ {
				ch <- Make()
			}
		}()
	}
	wg.Wait()
	close(ch)
	seen := make(map[MUID]struct{}, total)
	for id := range ch {
		if _, ok := seen[id]; ok {
			t.Fatalf("collision: %d after %d ids", id, len(seen))
		}
		seen[id] = struct{}{}
	}
}

func TestGeneratorMonotonic(t *testing.T) {
	generator := NewGenerator(Config{MachineID: 7}, 0, 0)
	previous := generator.ID()
	for i := 0; i < 10_000; i++ {
		next := generator.ID()
		if next <= previous {
			t.Fatalf("id went backwards: %d after %d", next, previous)
		}
		previous = next
	}
}

func TestMakeString(t *testing.T) {
	if MakeString() == "" {
		t.Fatal("empty id string")
	}
}

func BenchmarkMUID(b *testing.B) {
	for i := 0; i < b.N; i++ {
		Make()
	}
}
