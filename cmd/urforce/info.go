package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/gwillem/urforce/pkg/dashboard"
	"github.com/gwillem/urforce/pkg/robot"
	"github.com/gwillem/urforce/pkg/session"
	"github.com/gwillem/urforce/pkg/sim"
	"github.com/gwillem/urforce/pkg/urdriver"
)

const infoTimeout = 5 * time.Second

type InfoCommand struct {
	Sim bool `long:"sim" description:"Query the built-in simulated actuator"`

	Args struct {
		Address string `positional-arg-name:"address" description:"Actuator address"`
	} `positional-args:"yes"`
}

type versionReader interface {
	PolyscopeVersion(ctx context.Context) (robot.Version, error)
}

func (c *InfoCommand) Execute(args []string) error {
	cfg, err := loadConfig(opts.ConfigFile)
	if err != nil {
		return err
	}
	if c.Args.Address != "" {
		cfg.Address = c.Args.Address
	}
	logger, err := newLogger(os.Stderr, opts.LogLevel, opts.LogFormat)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), infoTimeout)
	defer cancel()

	var dash robot.Dashboard
	if c.Sim {
		dash = sim.New(sim.DefaultConfig()).Dashboard()
	} else {
		dash = dashboard.New(cfg.Address, dashboard.WithLogger(logger))
	}
	defer dash.Close()

	version, source, err := readVersion(ctx, dash, cfg.Address, c.Sim)
	if err != nil {
		return err
	}
	logger.Debug("controller version", "version", version.String(), "source", source)

	rows := [][]string{
		{"Address", cfg.Address},
		{"Controller version", version.String()},
		{"Force mode", forceModeSupport(version)},
	}
	if !c.Sim {
		var hash string
		kin, err := urdriver.ReadKinematics(ctx, primaryAddr(cfg.Address))
		if err == nil {
			hash = kin.Hash()
		}
		rows = append(rows, controllerCalibrationRows(cfg.CalibrationChecksum, hash, err)...)
	}
	rows = append(rows, calibrationRows(cfg)...)

	fmt.Println(headerStyle.Render("urforce info"))
	fmt.Println(keyValueTable(rows))
	return nil
}

// readVersion asks the dashboard and falls back to the primary interface.
func readVersion(ctx context.Context, dash robot.Dashboard, addr string, simulated bool) (robot.Version, string, error) {
	var dashErr error
	if dashErr = dash.Connect(ctx); dashErr == nil {
		if vr, ok := dash.(versionReader); ok {
			v, err := vr.PolyscopeVersion(ctx)
			if err == nil {
				return v, "dashboard", nil
			}
			dashErr = err
		}
	}
	if simulated {
		return robot.Version{}, "", dashErr
	}

	v, err := urdriver.ReadVersion(ctx, primaryAddr(addr))
	if err != nil {
		return robot.Version{}, "", fmt.Errorf("read controller version: %w", err)
	}
	return v, "primary interface", nil
}

func primaryAddr(addr string) string {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	return net.JoinHostPort(host, fmt.Sprint(urdriver.PrimaryPort))
}

func forceModeSupport(v robot.Version) string {
	req := session.CommandFromConfig(robot.DefaultConfig().ForceMode).Encode(v)
	if req.GainScaling != nil {
		return fmt.Sprintf("%d arguments, gain scaling supported", req.Arity())
	}
	return fmt.Sprintf("%d arguments, no gain scaling", req.Arity())
}

// controllerCalibrationRows compares the checksum of the controller's
// published kinematics with the expected one.
func controllerCalibrationRows(expected, hash string, err error) [][]string {
	if err != nil {
		return [][]string{{"Controller checksum", errStyle.Render(err.Error())}}
	}
	match := successStyle.Render("matches")
	if hash != expected {
		match = warnStyle.Render("does not match the expected checksum")
	}
	return [][]string{
		{"Controller checksum", hash},
		{"Controller calibration", match},
	}
}

func calibrationRows(cfg *robot.Config) [][]string {
	rows := [][]string{{"Expected checksum", cfg.CalibrationChecksum}}
	if cfg.CalibrationFile == "" {
		return append(rows, []string{"Calibration", dimStyle.Render("no calibration file configured")})
	}
	cal, err := robot.LoadCalibration(cfg.CalibrationFile)
	if err != nil {
		return append(rows, []string{"Calibration", errStyle.Render(err.Error())})
	}
	match := successStyle.Render("matches")
	if !cal.Matches(cfg.CalibrationChecksum) {
		match = warnStyle.Render("does not match, extract the calibration from the robot")
	}
	return append(rows,
		[]string{"Calibration file", cfg.CalibrationFile},
		[]string{"File checksum", cal.Checksum()},
		[]string{"Calibration", match},
	)
}
