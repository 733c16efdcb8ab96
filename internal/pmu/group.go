package pmu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrPermissionDenied is returned when the kernel refuses to open a counter.
var ErrPermissionDenied = errors.New("permission denied opening perf counters (requires CAP_PERFMON or /proc/sys/kernel/perf_event_paranoid <= 0)")

const readFormat = unix.PERF_FORMAT_GROUP | unix.PERF_FORMAT_TOTAL_TIME_ENABLED

// Opener abstracts perf_event_open and the file descriptor calls made on
// its result.
type Opener interface {
	Open(typ uint32, config uint64, cpu, groupFD int) (int, error)
	Read(fd int, buf []byte) (int, error)
	Close(fd int) error
}

// SyscallOpener talks to the kernel.
type SyscallOpener struct{}

// Open opens a system wide counter on cpu, joining groupFD unless it is -1.
func (SyscallOpener) Open(typ uint32, config uint64, cpu, groupFD int) (int, error) {
	attr := unix.PerfEventAttr{
		Type:        typ,
		Size:        uint32(unsafe.Sizeof(unix.PerfEventAttr{})),
		Config:      config,
		Read_format: readFormat,
	}
	return unix.PerfEventOpen(&attr, -1, cpu, groupFD, unix.PERF_FLAG_FD_CLOEXEC)
}

func (SyscallOpener) Read(fd int, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}

func (SyscallOpener) Close(fd int) error {
	return unix.Close(fd)
}

// Group is a set of counters read with a single syscall. The first counter
// that opens successfully becomes the leader; slots follow open order.
type Group struct {
	Name string

	opener   Opener
	cpu      int
	leader   int
	fds      []int
	counters []*Counter
	buf      []byte

	// TimeEnabled is the leader's enabled time reported by the last read.
	TimeEnabled uint64
}

// NewGroup creates an empty group that opens its counters on cpu.
func NewGroup(name string, opener Opener, cpu int) *Group {
	if opener == nil {
		opener = SyscallOpener{}
	}
	return &Group{Name: name, opener: opener, cpu: cpu, leader: -1}
}

// Add opens c into the group. On success c becomes present and receives its
// slot; on failure c is left absent.
func (g *Group) Add(c *Counter) error {
	fd, err := g.opener.Open(c.Type, c.Config, g.cpu, g.leader)
	if err != nil {
		c.Present = false
		c.Slot = -1
		if errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM) {
			return fmt.Errorf("%w: %s: %w", ErrPermissionDenied, c.Name, err)
		}
		return fmt.Errorf("open counter %s: %w", c.Name, err)
	}

	if g.leader < 0 {
		g.leader = fd
	}
	c.Slot = len(g.fds)
	c.Present = true
	g.fds = append(g.fds, fd)
	g.counters = append(g.counters, c)
	return nil
}

// Len reports how many counters are open in the group.
func (g *Group) Len() int {
	return len(g.fds)
}

// Counters returns the open counters in slot order.
func (g *Group) Counters() []*Counter {
	return g.counters
}

// Sample performs one grouped read and feeds each counter its new value.
func (g *Group) Sample() error {
	if len(g.fds) == 0 {
		return nil
	}

	size := (2 + len(g.fds)) * 8
	if cap(g.buf) < size {
		g.buf = make([]byte, size)
	}
	buf := g.buf[:size]

	n, err := g.opener.Read(g.leader, buf)
	if err != nil {
		return fmt.Errorf("read group %s: %w", g.Name, err)
	}
	if n < 16 {
		return fmt.Errorf("read group %s: short read of %d bytes", g.Name, n)
	}

	nr := binary.NativeEndian.Uint64(buf[0:8])
	if nr != uint64(len(g.fds)) || n < int(2+nr)*8 {
		return fmt.Errorf("read group %s: got %d values, want %d", g.Name, nr, len(g.fds))
	}
	g.TimeEnabled = binary.NativeEndian.Uint64(buf[8:16])

	for i, c := range g.counters {
		c.Update(binary.NativeEndian.Uint64(buf[16+i*8:]))
	}
	return nil
}

// Close closes every descriptor of the group.
func (g *Group) Close() error {
	var errs []error
	for i := len(g.fds) - 1; i >= 0; i-- {
		if err := g.opener.Close(g.fds[i]); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", g.counters[i].Name, err))
		}
	}
	g.fds = nil
	g.counters = nil
	g.leader = -1
	return errors.Join(errs...)
}
