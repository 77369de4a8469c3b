//go:build linux

// File: reactor/epoll_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux multiplexer backend, built on golang.org/x/sys/unix's epoll
// wrappers rather than raw syscall numbers, matching how the rest of
// this module talks to the kernel.

package reactor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// epollBatchSize bounds how many ready events EpollWait reports per
// call; overflow is simply reported on the next cycle.
const epollBatchSize = 64

type epollMultiplexer struct {
	epfd   int
	events []unix.EpollEvent
}

func newMultiplexer() (multiplexer, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	return &epollMultiplexer{
		epfd:   epfd,
		events: make([]unix.EpollEvent, epollBatchSize),
	}, nil
}

func condToEpoll(cond FDCondition) uint32 {
	var ev uint32
	if cond.Has(CondRead) {
		ev |= unix.EPOLLIN
	}
	if cond.Has(CondWrite) {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (m *epollMultiplexer) add(fd int, cond FDCondition) error {
	ev := unix.EpollEvent{Events: condToEpoll(cond), Fd: int32(fd)}
	if err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("reactor: epoll_ctl add fd=%d: %w", fd, err)
	}
	return nil
}

func (m *epollMultiplexer) modify(fd int, cond FDCondition) error {
	ev := unix.EpollEvent{Events: condToEpoll(cond), Fd: int32(fd)}
	if err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("reactor: epoll_ctl mod fd=%d: %w", fd, err)
	}
	return nil
}

func (m *epollMultiplexer) remove(fd int) error {
	err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil && err != unix.ENOENT && err != unix.EBADF {
		return fmt.Errorf("reactor: epoll_ctl del fd=%d: %w", fd, err)
	}
	return nil
}

func (m *epollMultiplexer) wait(timeout Duration, dst []readyEvent) ([]readyEvent, error) {
	timeoutMs := durationToEpollMs(timeout)
	n, err := unix.EpollWait(m.epfd, m.events, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, fmt.Errorf("reactor: epoll_wait: %w", err)
	}
	for i := 0; i < n; i++ {
		ev := m.events[i]
		var cond FDCondition
		if ev.Events&(unix.EPOLLIN|unix.EPOLLHUP) != 0 {
			cond |= CondRead
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			cond |= CondWrite
		}
		if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			cond |= CondError
		}
		dst = append(dst, readyEvent{fd: int(ev.Fd), cond: cond})
	}
	return dst, nil
}

func (m *epollMultiplexer) close() error {
	return unix.Close(m.epfd)
}

// durationToEpollMs converts a reactor Duration into the millisecond
// timeout epoll_wait expects, with -1 meaning block indefinitely.
func durationToEpollMs(timeout Duration) int {
	if timeout < 0 {
		return -1
	}
	ms := int64(timeout) / int64(Millisecond)
	if ms < 0 {
		ms = 0
	}
	if int64(int(ms)) != ms {
		return int(^uint32(0) >> 1) // clamp to INT32_MAX on overflow
	}
	return int(ms)
}
