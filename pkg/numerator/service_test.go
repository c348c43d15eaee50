package numerator

import (
	"context"
	"sync"
	"testing"

	"poscore/internal/infrastructure/storage/memory"
)

// Mock objects
type mockSequence struct {
	mu           sync.Mutex
	currentValue int64 // Simulates stored counter value
	calls        int
}

func (m *mockSequence) Reserve(ctx context.Context, key string, n int64, floor Floor) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.currentValue += n
	return m.currentValue, nil
}

func TestNext_Strict(t *testing.T) {
	seq := &mockSequence{}
	svc := New(seq, nil)
	ctx := context.Background()

	for want := int64(1); want <= 2; want++ {
		num, err := svc.Next(ctx, "sales:b1", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if num != want {
			t.Errorf("expected %d, got %d", want, num)
		}
	}
	if seq.calls != 2 {
		t.Errorf("expected 2 reservations, got %d", seq.calls)
	}
}

func TestNext_Cached(t *testing.T) {
	seq := &mockSequence{}
	svc := New(seq, &Options{Strategy: StrategyCached, RangeSize: 10})
	ctx := context.Background()

	// 1. First call reserves 1..10
	num, err := svc.Next(ctx, "sales:b1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if num != 1 {
		t.Errorf("expected 1, got %d", num)
	}
	if seq.currentValue != 10 {
		t.Errorf("expected stored value 10, got %d", seq.currentValue)
	}

	// 2. Served from memory
	num, _ = svc.Next(ctx, "sales:b1", nil)
	if num != 2 || seq.currentValue != 10 {
		t.Errorf("expected 2 from memory, got %d (stored %d)", num, seq.currentValue)
	}

	// 3. Exhaust range
	for i := 0; i < 8; i++ {
		_, _ = svc.Next(ctx, "sales:b1", nil)
	}
	num, _ = svc.Next(ctx, "sales:b1", nil)
	if num != 11 {
		t.Errorf("expected 11, got %d", num)
	}
	if seq.currentValue != 20 {
		t.Errorf("expected stored value 20, got %d", seq.currentValue)
	}
}

func TestReset_DropsRange(t *testing.T) {
	seq := &mockSequence{}
	svc := New(seq, &Options{Strategy: StrategyCached, RangeSize: 10})
	ctx := context.Background()

	_, _ = svc.Next(ctx, "k", nil)
	svc.Reset("k")
	num, _ := svc.Next(ctx, "k", nil)
	if num != 11 {
		t.Errorf("expected a fresh range starting at 11, got %d", num)
	}
}

func TestDocumentSequence_SeedsFromFloor(t *testing.T) {
	store, err := memory.New([]string{"counters"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	coll, _ := store.Collection("counters")
	seq := NewDocumentSequence(coll)
	ctx := context.Background()

	floor := func(context.Context) (int64, error) { return 7, nil }

	got, err := seq.Reserve(ctx, "sales:b1", 1, floor)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if got != 8 {
		t.Errorf("expected 8, got %d", got)
	}

	got, err = seq.Reserve(ctx, "sales:b1", 1, floor)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if got != 9 {
		t.Errorf("expected 9, got %d", got)
	}
}

func TestDocumentSequence_ConcurrentReservationsAreUnique(t *testing.T) {
	store, err := memory.New([]string{"counters"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	coll, _ := store.Collection("counters")
	seq := NewDocumentSequence(coll)
	ctx := context.Background()

	const workers = 4
	results := make(chan int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := seq.Reserve(ctx, "k", 1, nil)
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			results <- v
		}()
	}
	wg.Wait()
	close(results)

	seen := map[int64]bool{}
	for v := range results {
		if seen[v] {
			t.Errorf("duplicate value %d", v)
		}
		seen[v] = true
	}
}
