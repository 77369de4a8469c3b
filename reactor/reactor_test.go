package reactor

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestReactorScheduleRelativeFires(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	fired := make(chan struct{}, 1)
	r.ScheduleRelative(0, 0, false, func(Instant) { fired <- struct{}{} })

	go func() {
		_ = r.Run(50 * Millisecond)
	}()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired within Run")
	}
}

func TestReactorDoLaterFIFO(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	var order []int
	r.DoLater(func() { order = append(order, 1) })
	r.DoLater(func() { order = append(order, 2) })
	r.DoLater(func() { order = append(order, 3) })

	done := make(chan struct{})
	r.OnEveryCycle(func(Instant) {
		close(done)
		r.Stop()
	})

	go func() { _ = r.Run(Second) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cycle never completed")
	}
	want := []int{1, 2, 3}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestReactorRegisterDescriptorDispatchesReadable(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK); err != nil {
		t.Fatalf("pipe2: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	readable := make(chan struct{}, 1)
	err = r.RegisterDescriptor(fds[0], CondRead, func(fd int, cond FDCondition) {
		var buf [1]byte
		unix.Read(fd, buf[:])
		readable <- struct{}{}
	}, nil, nil)
	if err != nil {
		t.Fatalf("RegisterDescriptor: %v", err)
	}

	go func() { _ = r.Run(Second) }()
	unix.Write(fds[1], []byte{1})

	select {
	case <-readable:
	case <-time.After(time.Second):
		t.Fatal("readable callback never invoked")
	}
	r.Stop()
}

func TestReactorStopFromAnyGoroutine(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	done := make(chan error, 1)
	go func() { done <- r.Run(0) }()

	time.Sleep(10 * time.Millisecond)
	r.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestReactorIsRunningOnThisThread(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	outside := r.IsRunningOnThisThread()
	if outside {
		t.Fatal("IsRunningOnThisThread true before Run starts")
	}

	insideCh := make(chan bool, 1)
	r.OnEveryCycle(func(Instant) {
		insideCh <- r.IsRunningOnThisThread()
		r.Stop()
	})
	go func() { _ = r.Run(0) }()

	select {
	case inside := <-insideCh:
		if !inside {
			t.Fatal("IsRunningOnThisThread false from within Run's own goroutine")
		}
	case <-time.After(time.Second):
		t.Fatal("cycle hook never ran")
	}
}
