package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// terminal is the scoped ownership of the controlling terminal in
// interactive mode. Restore must run on every exit path.
type terminal struct {
	in    int
	out   int
	state *term.State
}

// acquireTerminal saves the attributes of in and switches it to
// non-canonical mode without echo, so single keystrokes can be polled.
func acquireTerminal(in, out *os.File) (*terminal, error) {
	fd := int(in.Fd())
	state, err := term.GetState(fd)
	if err != nil {
		return nil, fmt.Errorf("save terminal state: %w", err)
	}

	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return nil, fmt.Errorf("read terminal attributes: %w", err)
	}
	termios.Lflag &^= unix.ICANON | unix.ECHO
	termios.Cc[unix.VMIN] = 0
	termios.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return nil, fmt.Errorf("set terminal attributes: %w", err)
	}

	return &terminal{in: fd, out: int(out.Fd()), state: state}, nil
}

// Restore puts the saved attributes back. Safe to call more than once.
func (t *terminal) Restore() error {
	if t == nil || t.state == nil {
		return nil
	}
	err := term.Restore(t.in, t.state)
	t.state = nil
	return err
}

// Size reports the window size, falling back to 80x24.
func (t *terminal) Size() (width, height int) {
	width, height, err := term.GetSize(t.out)
	if err != nil || width <= 0 || height <= 0 {
		return 80, 24
	}
	return width, height
}

// WaitKeys blocks until input arrives or timeout passes and returns the
// pending keystrokes. io.EOF means stdin was closed.
func (t *terminal) WaitKeys(timeout time.Duration) ([]byte, error) {
	fds := []unix.PollFd{{Fd: int32(t.in), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(max(timeout.Milliseconds(), 0)))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, fmt.Errorf("poll stdin: %w", err)
	}
	revents := fds[0].Revents
	if n == 0 {
		return nil, nil
	}
	if revents&unix.POLLIN == 0 {
		if revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
			return nil, io.EOF
		}
		return nil, nil
	}

	buf := make([]byte, 16)
	n, err = unix.Read(t.in, buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	if n == 0 {
		return nil, io.EOF
	}
	return buf[:n], nil
}
