// Package pmutest provides an in-memory pmu.Opener for tests.
package pmutest

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Key identifies a counter to the fake kernel.
type Key struct {
	Type   uint32
	Config uint64
}

type openCounter struct {
	key    Key
	leader int
}

// Opener is a fake perf kernel. Values are set per counter with Set and
// returned by grouped reads on the leader descriptor.
type Opener struct {
	mu      sync.Mutex
	next    int
	values  map[Key]uint64
	fail    map[Key]error
	open    map[int]openCounter
	members map[int][]int

	TimeEnabled uint64
	Closed      []int
}

// NewOpener returns an empty fake kernel.
func NewOpener() *Opener {
	return &Opener{
		next:    3,
		values:  make(map[Key]uint64),
		fail:    make(map[Key]error),
		open:    make(map[int]openCounter),
		members: make(map[int][]int),
	}
}

// Set stores the raw value the next read reports for a counter.
func (o *Opener) Set(typ uint32, config uint64, value uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.values[Key{typ, config}] = value
}

// Fail makes opening the counter return err.
func (o *Opener) Fail(typ uint32, config uint64, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fail[Key{typ, config}] = err
}

// FailType makes every counter of a source type fail with EACCES.
func (o *Opener) FailType(typ uint32, configs ...uint64) {
	for _, config := range configs {
		o.Fail(typ, config, unix.EACCES)
	}
}

// OpenCount reports the number of descriptors still open.
func (o *Opener) OpenCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.open)
}

func (o *Opener) Open(typ uint32, config uint64, _ int, groupFD int) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	key := Key{typ, config}
	if err, ok := o.fail[key]; ok {
		return -1, err
	}
	fd := o.next
	o.next++

	leader := groupFD
	if leader < 0 {
		leader = fd
	} else if _, ok := o.open[leader]; !ok {
		return -1, unix.EBADF
	}
	o.open[fd] = openCounter{key: key, leader: leader}
	o.members[leader] = append(o.members[leader], fd)
	return fd, nil
}

func (o *Opener) Read(fd int, buf []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	members, ok := o.members[fd]
	if !ok {
		return 0, unix.EBADF
	}
	size := (2 + len(members)) * 8
	if len(buf) < size {
		return 0, fmt.Errorf("buffer too small: %d < %d", len(buf), size)
	}
	binary.NativeEndian.PutUint64(buf[0:], uint64(len(members)))
	binary.NativeEndian.PutUint64(buf[8:], o.TimeEnabled)
	for i, member := range members {
		binary.NativeEndian.PutUint64(buf[16+i*8:], o.values[o.open[member].key])
	}
	return size, nil
}

func (o *Opener) Close(fd int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.open[fd]; !ok {
		return unix.EBADF
	}
	delete(o.open, fd)
	delete(o.members, fd)
	o.Closed = append(o.Closed, fd)
	return nil
}
