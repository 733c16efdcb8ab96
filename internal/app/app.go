// Package app selects the observed device, opens its counters and runs the
// sample-and-render loop.
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/skobkin/intelgputop/internal/config"
	"github.com/skobkin/intelgputop/internal/gpu"
	"github.com/skobkin/intelgputop/internal/pmu"
	"github.com/skobkin/intelgputop/internal/procscan"
	"github.com/skobkin/intelgputop/internal/render"
	"github.com/skobkin/intelgputop/internal/sampler"
)

// deps are the process resources the app runs against.
type deps struct {
	stdin  *os.File
	stdout *os.File
	opener pmu.Opener
	isDRM  func(path string) bool
	now    func() time.Time
}

// Run bootstraps the application lifecycle.
func Run(ctx context.Context, baseLogger *slog.Logger, cfg config.Config) error {
	return run(ctx, baseLogger, cfg, deps{stdin: os.Stdin, stdout: os.Stdout})
}

func run(ctx context.Context, baseLogger *slog.Logger, cfg config.Config, d deps) (err error) {
	appLogger := baseLogger.With("component", "app")

	infos, err := gpu.Discover(cfg.SysfsRoot, baseLogger.With("component", "gpu_discovery"))
	if err != nil {
		return fmt.Errorf("discover gpus: %w", err)
	}
	appLogger.Info("discovered GPUs", "count", len(infos))

	out, closeOut, err := openOutput(cfg, d.stdout)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := closeOut(); closeErr != nil && err == nil {
			err = fmt.Errorf("close output: %w", closeErr)
		}
	}()

	if cfg.ListDevices {
		return listDevices(out, infos)
	}

	dev, err := gpu.Resolve(infos, cfg.DeviceFilter)
	if err != nil {
		return err
	}
	appLogger.Info("observing device", "card", dev.ID, "pci", dev.BusSlot, "name", dev.Name, "pmu", dev.DriverInstance)

	s, err := sampler.Open(dev, sampler.Options{
		SysfsRoot: cfg.SysfsRoot,
		Opener:    d.opener,
		Logger:    baseLogger,
		Now:       d.now,
	})
	if err != nil {
		return fmt.Errorf("open counters of %s: %w", dev.ID, err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			appLogger.Warn("close counters", "err", err)
		}
	}()

	table, err := procscan.NewTable(procscan.Options{
		ProcRoot:    cfg.ProcRoot,
		BusSlot:     dev.BusSlot,
		Logger:      baseLogger,
		IsDRMDevice: d.isDRM,
	})
	if err != nil {
		return fmt.Errorf("init client scanner: %w", err)
	}

	a := &App{
		cfg:     cfg,
		state:   newState(config.ResolveMode(cfg, d.stdout.Fd())),
		sampler: s,
		table:   table,
		out:     out,
		stdin:   d.stdin,
		stdout:  d.stdout,
		logger:  appLogger,
	}
	return a.Loop(ctx)
}

// App is one running session against a single device.
type App struct {
	cfg     config.Config
	state   State
	sampler *sampler.Sampler
	table   *procscan.Table
	out     io.Writer
	stdin   *os.File
	stdout  *os.File
	logger  *slog.Logger

	term        *terminal
	stdinClosed bool
	stop        atomic.Bool

	screen *render.Interactive
	lines  *render.Lines
	json   *render.JSON
	prom   *render.Prometheus
}

// Loop primes the counters and renders one frame per period until ctx is
// done or the user quits. Prometheus mode renders a single frame.
func (a *App) Loop(ctx context.Context) error {
	stopWatch := context.AfterFunc(ctx, func() { a.stop.Store(true) })
	defer stopWatch()

	if a.state.Mode == config.ModeInteractive {
		t, err := acquireTerminal(a.stdin, a.stdout)
		if err != nil {
			a.logger.Warn("interactive mode unavailable, falling back to line output", "err", err)
			a.state.Mode = config.ModeStdout
		} else {
			a.term = t
			defer func() {
				if err := a.term.Restore(); err != nil {
					a.logger.Warn("restore terminal", "err", err)
				}
			}()
		}
	}
	a.initRenderer()

	if err := a.sampler.Sample(); err != nil {
		a.logger.Warn("prime counters", "err", err)
	}
	a.scan()

	for !a.stop.Load() {
		quit, err := a.wait(ctx)
		if err != nil {
			return err
		}
		if quit {
			return nil
		}
		if err := a.Tick(); err != nil {
			return err
		}
		if a.state.Mode == config.ModePrometheus {
			return nil
		}
	}
	a.logger.Info("shutdown initiated", "reason", ctx.Err())
	return nil
}

// Tick samples the counters, rescans clients and renders one frame.
func (a *App) Tick() error {
	if err := a.sampler.Sample(); err != nil {
		a.logger.Warn("sample counters", "err", err)
	}
	a.scan()

	if a.state.Mode == config.ModeInteractive && !isatty.IsTerminal(a.stdout.Fd()) {
		a.logger.Warn("terminal lost, switching to line output")
		if err := a.term.Restore(); err != nil {
			a.logger.Warn("restore terminal", "err", err)
		}
		a.term = nil
		a.state.Mode = config.ModeStdout
		a.initRenderer()
	}

	var clients []procscan.Client
	if a.wantsClients() {
		clients = a.table.Display(a.state.displayOptions())
	}
	frame := render.BuildFrame(a.sampler, a.sampler.Engines().View(a.state.PerClass), clients)

	var err error
	switch a.state.Mode {
	case config.ModeInteractive:
		width, height := a.term.Size()
		opts := render.ScreenOptions{Width: width, Height: height, Numeric: a.state.Numeric}
		if a.state.Help {
			err = a.screen.RenderHelp(opts)
		} else {
			opts.Message = a.state.takeMessage()
			err = a.screen.Render(frame, opts)
		}
	case config.ModeJSON:
		err = a.json.Render(frame)
	case config.ModePrometheus:
		err = a.prom.Render(frame)
	default:
		err = a.lines.Render(frame)
	}
	if err != nil {
		return fmt.Errorf("render frame: %w", err)
	}
	return nil
}

func (a *App) initRenderer() {
	switch a.state.Mode {
	case config.ModeInteractive:
		a.screen = render.NewInteractive(a.out)
	case config.ModeJSON:
		a.json = render.NewJSON(a.out)
	case config.ModePrometheus:
		a.prom = render.NewPrometheus(a.out)
	default:
		a.lines = render.NewLines(a.out, a.cfg.HeaderEvery)
	}
}

func (a *App) wantsClients() bool {
	return a.state.Mode == config.ModeInteractive || a.state.Mode == config.ModeJSON
}

func (a *App) scan() {
	if !a.wantsClients() {
		return
	}
	if err := a.table.Scan(); err != nil {
		a.logger.Debug("client scan failed", "err", err)
	}
}

// wait sleeps for one period. In interactive mode it polls stdin instead
// and returns early after a keystroke.
func (a *App) wait(ctx context.Context) (quit bool, err error) {
	period := a.cfg.SampleInterval
	if a.term == nil || a.stdinClosed {
		timer := time.NewTimer(period)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
		return false, nil
	}

	deadline := time.Now().Add(period)
	for !a.stop.Load() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		keys, err := a.term.WaitKeys(remaining)
		if errors.Is(err, io.EOF) {
			a.stdinClosed = true
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if len(keys) == 0 {
			continue
		}
		for _, key := range keys {
			if a.state.HandleKey(key) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, nil
}

// openOutput returns the frame sink. Files are buffered; renderers flush
// after every frame.
func openOutput(cfg config.Config, stdout *os.File) (io.Writer, func() error, error) {
	if cfg.OutputToStdout() {
		return stdout, func() error { return nil }, nil
	}
	f, err := os.Create(cfg.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("open output: %w", err)
	}
	w := bufio.NewWriter(f)
	return w, func() error {
		return errors.Join(w.Flush(), f.Close())
	}, nil
}
