package performer

import (
	"sync"
	"testing"
	"time"

	"github.com/kestrelio/reactorws/reactor"
)

func runReactor(t *testing.T, r *reactor.Reactor) (stop func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		_ = r.Run(0)
		close(done)
	}()
	return func() {
		r.Stop()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("reactor did not stop")
		}
	}
}

func TestPerformRunsOnReactorThread(t *testing.T) {
	r, err := reactor.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	p, err := New(r)
	if err != nil {
		t.Fatalf("performer.New: %v", err)
	}
	stop := runReactor(t, r)
	defer stop()

	result := make(chan bool, 1)
	if err := p.Perform(func() { result <- r.IsRunningOnThisThread() }); err != nil {
		t.Fatalf("Perform: %v", err)
	}

	select {
	case onThread := <-result:
		if !onThread {
			t.Fatal("task did not run on reactor thread")
		}
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
}

func TestPerformFIFOOrder(t *testing.T) {
	r, err := reactor.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	p, err := New(r)
	if err != nil {
		t.Fatalf("performer.New: %v", err)
	}
	stop := runReactor(t, r)
	defer stop()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(5)
	for i := 0; i < 5; i++ {
		i := i
		if err := p.Perform(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		}); err != nil {
			t.Fatalf("Perform: %v", err)
		}
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tasks never completed")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v, want FIFO 0..4", order)
		}
	}
}

func TestPerformSyncBlocksUntilDone(t *testing.T) {
	r, err := reactor.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	p, err := New(r)
	if err != nil {
		t.Fatalf("performer.New: %v", err)
	}
	stop := runReactor(t, r)
	defer stop()

	var ran bool
	if err := p.PerformSync(func() { ran = true }); err != nil {
		t.Fatalf("PerformSync: %v", err)
	}
	if !ran {
		t.Fatal("PerformSync returned before task executed")
	}
}

func TestCloseDrainsQueuedWork(t *testing.T) {
	r, err := reactor.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	p, err := New(r)
	if err != nil {
		t.Fatalf("performer.New: %v", err)
	}
	stop := runReactor(t, r)

	var mu sync.Mutex
	count := 0
	for i := 0; i < 10; i++ {
		if err := p.Perform(func() {
			mu.Lock()
			count++
			mu.Unlock()
		}); err != nil {
			t.Fatalf("Perform: %v", err)
		}
	}

	// Close must run on the reactor's own goroutine.
	var closeErr error
	if err := p.PerformSync(func() { closeErr = p.Close() }); err != nil {
		t.Fatalf("PerformSync(Close): %v", err)
	}
	if closeErr != nil {
		t.Fatalf("Close: %v", closeErr)
	}
	stop()

	mu.Lock()
	defer mu.Unlock()
	if count != 10 {
		t.Fatalf("count = %d, want 10 (Close must drain everything queued before it)", count)
	}
}

func TestPerformAfterCloseRejected(t *testing.T) {
	r, err := reactor.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	p, err := New(r)
	if err != nil {
		t.Fatalf("performer.New: %v", err)
	}
	stop := runReactor(t, r)
	defer stop()

	// Close must run on the reactor's own goroutine.
	var closeErr error
	if err := p.PerformSync(func() { closeErr = p.Close() }); err != nil {
		t.Fatalf("PerformSync(Close): %v", err)
	}
	if closeErr != nil {
		t.Fatalf("Close: %v", closeErr)
	}
	if err := p.Perform(func() {}); err == nil {
		t.Fatal("Perform after Close must be rejected")
	}
}
