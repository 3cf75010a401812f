package concurrency_test

import (
	"errors"
	"sync"
	"testing"

	"telegram-downloader/internal/infra/concurrency"
)

func TestTryAcquireUserBusy(t *testing.T) {
	t.Parallel()

	r := concurrency.NewRegistry(4)
	if err := r.TryAcquire(1); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := r.TryAcquire(1); !errors.Is(err, concurrency.ErrUserBusy) {
		t.Fatalf("second acquire for same user: got %v, want ErrUserBusy", err)
	}
	r.Release(1)
	if err := r.TryAcquire(1); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestTryAcquireServerBusy(t *testing.T) {
	t.Parallel()

	const slots = 3
	r := concurrency.NewRegistry(slots)

	// slots+1 одновременных запросов от разных пользователей: ровно один
	// должен получить отказ «сервер занят».
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		ok   int
		busy int
	)
	for id := int64(1); id <= slots+1; id++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			err := r.TryAcquire(id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, concurrency.ErrServerBusy):
				busy++
			default:
				t.Errorf("user %d: unexpected error %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	if ok != slots || busy != 1 {
		t.Fatalf("got %d acquired / %d busy, want %d / 1", ok, busy, slots)
	}
	if r.ActiveCount() != slots {
		t.Fatalf("ActiveCount = %d, want %d", r.ActiveCount(), slots)
	}
}

func TestReleaseFreesGlobalSlot(t *testing.T) {
	t.Parallel()

	r := concurrency.NewRegistry(1)
	if err := r.TryAcquire(1); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := r.TryAcquire(2); !errors.Is(err, concurrency.ErrServerBusy) {
		t.Fatalf("acquire with full semaphore: got %v, want ErrServerBusy", err)
	}
	r.Release(1)
	if err := r.TryAcquire(2); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	t.Parallel()

	r := concurrency.NewRegistry(1)
	if err := r.TryAcquire(1); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	r.Release(1)
	r.Release(1) // повторный Release не должен ломать счётчик семафора
	r.Release(7) // и чужой тоже

	if err := r.TryAcquire(2); err != nil {
		t.Fatalf("acquire after double release: %v", err)
	}
	if err := r.TryAcquire(3); !errors.Is(err, concurrency.ErrServerBusy) {
		t.Fatalf("capacity must stay 1, got %v", err)
	}
}

func TestCancelFlags(t *testing.T) {
	t.Parallel()

	r := concurrency.NewRegistry(4)

	if r.RequestCancel(1) {
		t.Fatal("cancel without active transfer must return false")
	}

	if err := r.TryAcquire(1); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !r.RequestCancel(1) {
		t.Fatal("cancel for active transfer must return true")
	}
	if !r.CancelRequested(1) {
		t.Fatal("flag must be visible after RequestCancel")
	}

	// Release снимает флаг: следующая передача стартует чистой.
	r.Release(1)
	if r.CancelRequested(1) {
		t.Fatal("flag must be cleared on Release")
	}
}

func TestCancelAll(t *testing.T) {
	t.Parallel()

	r := concurrency.NewRegistry(8)
	for id := int64(1); id <= 3; id++ {
		if err := r.TryAcquire(id); err != nil {
			t.Fatalf("acquire %d: %v", id, err)
		}
	}

	if n := r.CancelAll(); n != 3 {
		t.Fatalf("CancelAll = %d, want 3", n)
	}
	for id := int64(1); id <= 3; id++ {
		if !r.CancelRequested(id) {
			t.Fatalf("user %d: cancel flag not set", id)
		}
	}
}
