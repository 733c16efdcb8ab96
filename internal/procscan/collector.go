package procscan

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// drmMajor is the character device major of /dev/dri nodes.
const drmMajor = 226

const i915Driver = "i915"

// observation is one DRM file descriptor seen during a scan.
type observation struct {
	pid    int
	comm   string
	record Record
}

type source interface {
	collect(busSlot string) ([]observation, error)
}

type collector struct {
	fs       procfs.FS
	procRoot string
	isDRM    func(path string) bool
	logger   *slog.Logger
}

func newCollector(procRoot string, isDRM func(string) bool, logger *slog.Logger) (*collector, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if isDRM == nil {
		isDRM = isDRMCharDevice
	}
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, fmt.Errorf("open proc root: %w", err)
	}
	return &collector{fs: fs, procRoot: procRoot, isDRM: isDRM, logger: logger}, nil
}

// collect walks every process and returns the i915 fdinfo records that
// belong to busSlot. Processes vanishing mid-scan are skipped.
func (c *collector) collect(busSlot string) ([]observation, error) {
	procs, err := c.fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	var out []observation
	for _, proc := range procs {
		stat, err := proc.Stat()
		if err != nil {
			c.logger.Debug("skipping process", "pid", proc.PID, "err", err)
			continue
		}
		fds, err := proc.FileDescriptors()
		if err != nil {
			continue
		}

		procDir, err := os.OpenRoot(filepath.Join(c.procRoot, strconv.Itoa(proc.PID)))
		if err != nil {
			continue
		}
		for _, fd := range fds {
			name := strconv.FormatUint(uint64(fd), 10)
			if !c.isDRM(filepath.Join(c.procRoot, strconv.Itoa(proc.PID), "fd", name)) {
				continue
			}
			data, err := procDir.ReadFile(filepath.Join("fdinfo", name))
			if err != nil {
				continue
			}
			rec, err := ParseFDInfo(data)
			if err != nil {
				c.logger.Debug("skipping fdinfo", "pid", proc.PID, "fd", name, "err", err)
				continue
			}
			if rec.Driver != i915Driver || rec.PDev != busSlot {
				continue
			}
			out = append(out, observation{pid: proc.PID, comm: stat.Comm, record: rec})
		}
		if err := procDir.Close(); err != nil {
			c.logger.Debug("failed to close proc dir", "pid", proc.PID, "err", err)
		}
	}
	return out, nil
}

// isDRMCharDevice reports whether path resolves to a DRM character device.
func isDRMCharDevice(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.Mode()&os.ModeCharDevice == 0 {
		return false
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}
	return unix.Major(uint64(st.Rdev)) == drmMajor
}
