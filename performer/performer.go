// File: performer/performer.go
// Author: momentics <momentics@gmail.com>
//
// Performer lets any goroutine enqueue work that runs on a Reactor's own
// goroutine. It bridges threads with a mutex-guarded FIFO plus a
// self-pipe: the read end is registered with the reactor as readable,
// and any enqueue made while no wake byte is outstanding writes one byte
// so the reactor wakes and drains.

package performer

import (
	"sync"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"

	"github.com/kestrelio/reactorws/internal/apierr"
	"github.com/kestrelio/reactorws/reactor"
)

// item is one queued unit of work, plus an optional completion signal
// for PerformSync.
type item struct {
	task func()
	done *sync.WaitGroup
}

// Performer is a cross-thread task queue wired into a single Reactor via
// a self-pipe. Enqueue (Perform/PerformSync) may be called from any
// goroutine; the queued tasks always execute on the reactor's own
// goroutine.
type Performer struct {
	reactor *reactor.Reactor

	mu       sync.Mutex
	items    *queue.Queue
	signaled bool
	closed   bool

	readFD  int
	writeFD int
}

// New creates a pipe, registers its read end with r, and returns a
// Performer ready to accept cross-thread work. The pipe is non-blocking
// on both ends so a full pipe buffer never stalls the writer.
func New(r *reactor.Reactor) (*Performer, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, apierr.Wrap(apierr.CodeFatalIO, "performer: pipe2", err)
	}
	p := &Performer{
		reactor: r,
		items:   queue.New(),
		readFD:  fds[0],
		writeFD: fds[1],
	}
	err := r.RegisterDescriptor(p.readFD, reactor.CondRead, p.onReadable, nil, nil)
	if err != nil {
		unix.Close(p.readFD)
		unix.Close(p.writeFD)
		return nil, err
	}
	return p, nil
}

// onReadable drains the wake byte(s) and fires every queued item. Runs
// on the reactor thread, invoked by the reactor's dispatch of CondRead
// on the pipe's read end.
func (p *Performer) onReadable(fd int, cond reactor.FDCondition) {
	var scratch [64]byte
	for {
		n, err := unix.Read(p.readFD, scratch[:])
		if n <= 0 || err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			break
		}
	}
	p.mu.Lock()
	p.signaled = false
	p.mu.Unlock()
	p.fireItems()
}

// fireItems repeatedly pops one item under the mutex and executes it
// outside the mutex, until the queue is empty. Executing outside the
// lock keeps a slow task from blocking concurrent enqueuers.
func (p *Performer) fireItems() {
	for {
		p.mu.Lock()
		if p.items.Length() == 0 {
			p.mu.Unlock()
			return
		}
		it := p.items.Peek().(item)
		p.items.Remove()
		p.mu.Unlock()

		it.task()
		if it.done != nil {
			it.done.Done()
		}
	}
}

// enqueue appends it to the queue and, if no wake byte is outstanding
// (signaled is false), writes one. The byte is written while
// still holding the mutex so a reactor that observes the pipe readable
// is guaranteed to find at least this item already enqueued.
func (p *Performer) enqueue(it item) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return apierr.ErrPerformerClosed
	}
	p.items.Add(it)
	needWake := !p.signaled
	if needWake {
		p.signaled = true
	}
	if needWake {
		n, err := unix.Write(p.writeFD, []byte{1})
		if err != nil || n != 1 {
			p.signaled = false
			p.mu.Unlock()
			return apierr.Wrap(apierr.CodeFatalIO, "performer: self-pipe write failed", err)
		}
	}
	p.mu.Unlock()
	return nil
}

// Perform enqueues task to run on the reactor thread and returns
// immediately without waiting for it to execute. Once the Performer is
// closed the task is not run and ErrPerformerClosed is returned.
func (p *Performer) Perform(task func()) error {
	return p.enqueue(item{task: task})
}

// PerformSync enqueues task and blocks the calling goroutine until it
// has executed on the reactor thread. If called from the reactor thread
// itself, it drains the queue and then runs task inline rather than
// deadlocking waiting on its own loop.
func (p *Performer) PerformSync(task func()) error {
	if p.reactor.IsRunningOnThisThread() {
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return apierr.ErrPerformerClosed
		}
		p.fireItems()
		task()
		return nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	if err := p.enqueue(item{task: task, done: &wg}); err != nil {
		return err
	}
	wg.Wait()
	return nil
}

// Close drains and executes every item already queued, then unregisters
// and closes both pipe ends, then marks the Performer closed. Nothing
// enqueued before Close is called is ever dropped. Perform/PerformSync
// calls that arrive after Close has taken effect are rejected; the
// closed flag is set atomically before the final drain begins, so a
// racing enqueue either lands in that drain or is rejected outright.
//
// Close must be called from the reactor's own goroutine: it runs the
// drained items inline on the calling goroutine (breaking the "tasks
// execute on the reactor thread" guarantee if called elsewhere) and its
// UnregisterDescriptor call panics via the reactor's own thread-affinity
// assertion if invoked from any other goroutine while the reactor is
// running.
func (p *Performer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.fireItems()

	if err := p.reactor.UnregisterDescriptor(p.readFD); err != nil {
		return err
	}
	unix.Close(p.readFD)
	unix.Close(p.writeFD)
	return nil
}
