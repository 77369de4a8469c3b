//go:build !linux && !windows

// File: reactor/select_unix.go
// Author: momentics <momentics@gmail.com>
//
// Portable fallback multiplexer for unix platforms without epoll,
// built on golang.org/x/sys/unix's select(2) wrapper. O(highest fd)
// per wait call, unlike the Linux epoll backend.

package reactor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

type selectMultiplexer struct {
	watched map[int]FDCondition
	maxFd   int
}

func newMultiplexer() (multiplexer, error) {
	return &selectMultiplexer{watched: make(map[int]FDCondition)}, nil
}

func (m *selectMultiplexer) add(fd int, cond FDCondition) error {
	m.watched[fd] = cond
	if fd > m.maxFd {
		m.maxFd = fd
	}
	return nil
}

func (m *selectMultiplexer) modify(fd int, cond FDCondition) error {
	m.watched[fd] = cond
	return nil
}

func (m *selectMultiplexer) remove(fd int) error {
	delete(m.watched, fd)
	return nil
}

func (m *selectMultiplexer) wait(timeout Duration, dst []readyEvent) ([]readyEvent, error) {
	var rset, wset unix.FdSet
	for fd, cond := range m.watched {
		if cond.Has(CondRead) {
			fdSetSet(&rset, fd)
		}
		if cond.Has(CondWrite) {
			fdSetSet(&wset, fd)
		}
	}

	var tv *unix.Timeval
	if timeout >= 0 {
		std := timeout.Std()
		t := unix.NsecToTimeval(std.Nanoseconds())
		tv = &t
	}

	n, err := unix.Select(m.maxFd+1, &rset, &wset, nil, tv)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, fmt.Errorf("reactor: select: %w", err)
	}
	if n == 0 {
		return dst, nil
	}
	for fd := range m.watched {
		var cond FDCondition
		if fdSetIsSet(&rset, fd) {
			cond |= CondRead
		}
		if fdSetIsSet(&wset, fd) {
			cond |= CondWrite
		}
		if cond != 0 {
			dst = append(dst, readyEvent{fd: fd, cond: cond})
		}
	}
	return dst, nil
}

func (m *selectMultiplexer) close() error { return nil }

const fdSetWordBits = 64

func fdSetSet(set *unix.FdSet, fd int) {
	set.Bits[fd/fdSetWordBits] |= 1 << (uint(fd) % fdSetWordBits)
}

func fdSetIsSet(set *unix.FdSet, fd int) bool {
	return set.Bits[fd/fdSetWordBits]&(1<<(uint(fd)%fdSetWordBits)) != 0
}
