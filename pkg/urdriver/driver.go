// Package urdriver drives an actuator over its network interfaces. It reads
// the controller version from the primary interface, deploys the external
// control script and serves the two connections the script opens back to
// the host: the reverse interface carrying keepalives and the script command
// interface carrying force-mode commands.
package urdriver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/gwillem/urforce/pkg/robot"
)

// Default ports the control script connects back to.
const (
	DefaultReversePort       = 50001
	DefaultScriptCommandPort = 50004
)

const (
	// DefaultReadTimeout is how long the control script waits for the next
	// keepalive before it stops.
	DefaultReadTimeout = 100 * time.Millisecond

	modeIdle       = 0
	reverseMsgLen  = 8
	writeTimeout   = 50 * time.Millisecond
	connectTimeout = 5 * time.Second
)

// ErrArgumentShape is returned by StartForceMode when the request carries a
// gain scaling value the deployed script does not read, or lacks one it does.
var ErrArgumentShape = errors.New("urdriver: force mode arguments do not match controller version")

// Config configures a Driver.
type Config struct {
	Host         string
	ScriptFile   string
	OutputRecipe string
	InputRecipe  string
	// CalibrationFile is the YAML written by the calibration extraction
	// tool. It is read only when the controller's kinematics cannot be.
	CalibrationFile string

	// Ports default to the controller's standard ports when zero. A
	// negative reverse or script command port binds an ephemeral port.
	PrimaryPort       int
	SecondaryPort     int
	ReversePort       int
	ScriptCommandPort int

	// HostIP is the address the control script connects back to. Detected
	// from the route to Host when empty.
	HostIP string

	ReadTimeout time.Duration
	Logger      *slog.Logger
}

func (c *Config) setDefaults() {
	if c.PrimaryPort == 0 {
		c.PrimaryPort = PrimaryPort
	}
	if c.SecondaryPort == 0 {
		c.SecondaryPort = SecondaryPort
	}
	if c.ReversePort == 0 {
		c.ReversePort = DefaultReversePort
	}
	if c.ScriptCommandPort == 0 {
		c.ScriptCommandPort = DefaultScriptCommandPort
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ConfigFrom builds a driver config from the session config.
func ConfigFrom(rc robot.Config, logger *slog.Logger) Config {
	return Config{
		Host:            rc.Address,
		ScriptFile:      rc.ScriptFile,
		OutputRecipe:    rc.OutputRecipe,
		InputRecipe:     rc.InputRecipe,
		CalibrationFile: rc.CalibrationFile,
		Logger:          logger,
	}
}

// Driver is a running control session with one actuator.
type Driver struct {
	cfg     Config
	log     *slog.Logger
	version robot.Version
	output  Recipe
	input   Recipe

	reverse  *server
	commands *server

	keepalive []byte
}

// New deploys the control script and starts serving the connections it
// opens. onState is called with true when the script connects back and
// false when it disconnects.
func New(ctx context.Context, cfg Config, onState robot.ProgramStateFunc) (*Driver, error) {
	cfg.setDefaults()
	d := &Driver{cfg: cfg, log: cfg.Logger}

	script, err := loadScript(cfg.ScriptFile)
	if err != nil {
		return nil, err
	}
	if d.output, err = LoadRecipe(cfg.OutputRecipe); err != nil {
		return nil, fmt.Errorf("load output recipe: %w", err)
	}
	if d.input, err = LoadRecipe(cfg.InputRecipe); err != nil {
		return nil, fmt.Errorf("load input recipe: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	primary := hostPort(cfg.Host, cfg.PrimaryPort)
	if d.version, err = ReadVersion(dialCtx, primary); err != nil {
		return nil, err
	}
	d.log.Info("controller version", "version", d.version.String())

	hostIP := cfg.HostIP
	if hostIP == "" {
		if hostIP, err = localIP(dialCtx, primary); err != nil {
			return nil, fmt.Errorf("detect host address: %w", err)
		}
	}

	if d.reverse, err = listen("reverse interface", listenAddr(cfg.ReversePort), d.log); err != nil {
		return nil, err
	}
	if d.commands, err = listen("script command interface", listenAddr(cfg.ScriptCommandPort), d.log); err != nil {
		d.reverse.close()
		return nil, err
	}
	if onState != nil {
		d.reverse.onConnect = func() { onState(true) }
		d.reverse.onDisconnect = func() { onState(false) }
	}
	d.reverse.start()
	d.commands.start()

	d.keepalive = encodeInt32s(keepaliveMessage(cfg.ReadTimeout))

	program := renderScript(script, hostIP, d.reverse.Port(), d.commands.Port(), d.version.SupportsGainScaling())
	if err := deployScript(dialCtx, hostPort(cfg.Host, cfg.SecondaryPort), program); err != nil {
		d.Close()
		return nil, fmt.Errorf("deploy control script: %w", err)
	}
	d.log.Info("control script deployed",
		"host_ip", hostIP,
		"reverse_port", d.reverse.Port(),
		"script_command_port", d.commands.Port(),
		"gain_scaling", d.version.SupportsGainScaling(),
		"output_recipe", len(d.output),
		"input_recipe", len(d.input),
	)
	return d, nil
}

// Factory returns a robot.DriverFactory creating drivers with cfg.
func Factory(cfg Config) robot.DriverFactory {
	return func(ctx context.Context, onState robot.ProgramStateFunc) (robot.Driver, error) {
		return New(ctx, cfg, onState)
	}
}

func hostPort(host string, port int) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func listenAddr(port int) string {
	if port < 0 {
		port = 0
	}
	return ":" + strconv.Itoa(port)
}

// Version returns the controller version read at startup.
func (d *Driver) Version() robot.Version {
	return d.version
}

// ReversePort returns the bound reverse interface port.
func (d *Driver) ReversePort() int {
	return d.reverse.Port()
}

// ScriptCommandPort returns the bound script command port.
func (d *Driver) ScriptCommandPort() int {
	return d.commands.Port()
}

// CheckCalibration compares checksum with the hash of the kinematics the
// controller publishes on the primary interface. The calibration file, when
// configured, is used only if the controller's state cannot be read.
func (d *Driver) CheckCalibration(ctx context.Context, checksum string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	kin, err := ReadKinematics(ctx, hostPort(d.cfg.Host, d.cfg.PrimaryPort))
	if err == nil {
		hash := kin.Hash()
		d.log.Debug("controller calibration", "hash", hash, "status", kin.CalibrationStatus)
		return hash == checksum, nil
	}
	if d.cfg.CalibrationFile == "" {
		return false, err
	}

	d.log.Warn("checking calibration file instead of controller", "error", err, "file", d.cfg.CalibrationFile)
	cal, ferr := robot.LoadCalibration(d.cfg.CalibrationFile)
	if ferr != nil {
		return false, errors.Join(err, ferr)
	}
	return cal.Matches(checksum), nil
}

// WriteKeepalive tells the control script the host is alive.
func (d *Driver) WriteKeepalive() error {
	return d.reverse.write(d.keepalive, writeTimeout)
}

// StartForceMode sends a start force mode command.
func (d *Driver) StartForceMode(ctx context.Context, req robot.ForceModeRequest) error {
	if want := d.version.SupportsGainScaling(); (req.GainScaling != nil) != want {
		return fmt.Errorf("%w: %d arguments for controller %s", ErrArgumentShape, req.Arity(), d.version)
	}
	if err := d.commands.awaitConnection(ctx, timeoutFrom(ctx)); err != nil {
		return err
	}
	return d.commands.write(encodeInt32s(startForceModeMessage(req)), timeoutFrom(ctx))
}

// EndForceMode sends an end force mode command.
func (d *Driver) EndForceMode(ctx context.Context) error {
	return d.commands.write(encodeInt32s(endForceModeMessage()), timeoutFrom(ctx))
}

// Close stops both servers.
func (d *Driver) Close() error {
	var errs []error
	if d.reverse != nil {
		errs = append(errs, d.reverse.close())
	}
	if d.commands != nil {
		errs = append(errs, d.commands.close())
	}
	return errors.Join(errs...)
}

func timeoutFrom(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		return max(time.Until(deadline), time.Nanosecond)
	}
	return connectTimeout
}

// keepaliveMessage is the reverse interface message with no motion target:
// read timeout in ms, six zero values, idle mode.
func keepaliveMessage(readTimeout time.Duration) []int32 {
	msg := make([]int32, reverseMsgLen)
	msg[0] = int32(readTimeout.Milliseconds())
	msg[reverseMsgLen-1] = modeIdle
	return msg
}

var _ robot.Driver = (*Driver)(nil)
