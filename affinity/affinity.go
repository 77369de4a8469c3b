// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Pin binds the calling OS thread to a single CPU, letting an embedder
// place each Reactor's own goroutine (via runtime.LockOSThread plus
// Pin) on a dedicated core. No thread pool, no scheduler: just optional
// placement for "one reactor per thread" deployments.
package affinity

// Pin sets the calling OS thread's CPU affinity to cpu. The caller must
// have already called runtime.LockOSThread, or the affinity will apply
// to whichever OS thread the goroutine happens to be running on at the
// moment and may be lost on the next goroutine reschedule.
func Pin(cpu int) error {
	return setAffinityPlatform(cpu)
}
