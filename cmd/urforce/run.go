package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/gwillem/urforce/pkg/dashboard"
	"github.com/gwillem/urforce/pkg/monitor"
	"github.com/gwillem/urforce/pkg/robot"
	"github.com/gwillem/urforce/pkg/rt"
	"github.com/gwillem/urforce/pkg/session"
	"github.com/gwillem/urforce/pkg/sim"
	"github.com/gwillem/urforce/pkg/urdriver"
)

type RunCommand struct {
	Sim          bool   `long:"sim" description:"Run against the built-in simulated actuator"`
	SimVersion   string `long:"sim-version" default:"5.11.1.108318" description:"Controller version reported by the simulated actuator"`
	TUI          bool   `long:"tui" description:"Show a live view of the session"`
	Realtime     int    `long:"realtime" optional:"yes" optional-value:"80" description:"Run the keepalive loop with SCHED_FIFO at this priority"`
	Monitor      string `long:"monitor" value-name:"ADDR" description:"Serve session status on ADDR, e.g. :8080"`
	Checksum     string `long:"checksum" description:"Expected calibration checksum"`
	Calibration  string `long:"calibration" value-name:"FILE" description:"Calibration YAML from the extraction tool"`
	PowerOn      bool   `long:"power-on" description:"Power the arm on before starting"`
	BrakeRelease bool   `long:"brake-release" description:"Release the brakes before starting"`

	Args struct {
		Address string `positional-arg-name:"address" description:"Actuator address"`
		Seconds string `positional-arg-name:"seconds" description:"Run time in seconds, 0 runs until interrupted"`
	} `positional-args:"yes"`
}

// apply overrides cfg with the flags and arguments that were given.
func (c *RunCommand) apply(cfg *robot.Config) error {
	if c.Args.Address != "" {
		cfg.Address = c.Args.Address
	}
	if c.Args.Seconds != "" {
		d, err := parseSeconds(c.Args.Seconds)
		if err != nil {
			return err
		}
		cfg.Duration = robot.Duration(d)
	}
	if c.Checksum != "" {
		cfg.CalibrationChecksum = c.Checksum
	}
	if c.Calibration != "" {
		cfg.CalibrationFile = c.Calibration
	}
	if c.PowerOn {
		cfg.Handshake.PowerOn = true
	}
	if c.BrakeRelease {
		cfg.Handshake.BrakeRelease = true
	}
	return cfg.Validate()
}

func (c *RunCommand) Execute(args []string) error {
	cfg, err := loadConfig(opts.ConfigFile)
	if err != nil {
		return err
	}
	if err := c.apply(cfg); err != nil {
		return err
	}

	useTUI := c.TUI && term.IsTerminal(int(os.Stdout.Fd()))
	var logOut io.Writer = os.Stderr
	var sink *logSink
	if useTUI {
		sink = newLogSink()
		logOut = sink
	}
	logger, err := newLogger(logOut, opts.LogLevel, opts.LogFormat)
	if err != nil {
		return err
	}
	if c.TUI && !useTUI {
		logger.Warn("stdout is not a terminal, ignoring --tui")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dash, newDriver, err := c.actuator(cfg, logger)
	if err != nil {
		return err
	}

	if c.Realtime > 0 {
		if err := rt.LockMemory(); err != nil {
			logger.Warn("could not lock memory", "error", err)
		}
	}

	sess, err := session.New(session.Config{
		Robot:            *cfg,
		Dashboard:        dash,
		NewDriver:        newDriver,
		Logger:           logger,
		RealtimePriority: c.Realtime,
	})
	if err != nil {
		return err
	}

	monCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	var mon *monitor.Server
	if c.Monitor != "" {
		mon = monitor.New(logger)
		go func() {
			if err := mon.ListenAndServe(monCtx, c.Monitor); err != nil {
				logger.Error("monitor stopped", "error", err)
			}
		}()
	}

	if useTUI {
		return runTUI(ctx, sess, cfg, mon, sink)
	}

	go forwardStatuses(sess.Statuses(), mon)
	return sess.Run(ctx)
}

// actuator returns the dashboard and driver factory for cfg: the simulated
// actuator with --sim, the network clients otherwise.
func (c *RunCommand) actuator(cfg *robot.Config, logger *slog.Logger) (robot.Dashboard, robot.DriverFactory, error) {
	if c.Sim {
		v, err := robot.ParseVersion(c.SimVersion)
		if err != nil {
			return nil, nil, fmt.Errorf("--sim-version: %w", err)
		}
		simCfg := sim.DefaultConfig()
		simCfg.Version = v
		r := sim.New(simCfg)
		logger.Info("using simulated actuator", "version", v.String())
		return r.Dashboard(), r.NewDriver, nil
	}
	dash := dashboard.New(cfg.Address, dashboard.WithLogger(logger))
	return dash, urdriver.Factory(urdriver.ConfigFrom(*cfg, logger)), nil
}

// forwardStatuses drains the session's status channel into the monitor.
func forwardStatuses(statuses <-chan session.Status, mon *monitor.Server) {
	for st := range statuses {
		if mon != nil {
			mon.Publish(st)
		}
	}
}
