package robot

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

const DefaultConfigFile = "urforce.json"

// Defaults taken from the stock external-control setup.
const (
	DefaultAddress             = "192.168.56.101"
	DefaultScriptFile          = "resources/external_control.urscript"
	DefaultOutputRecipe        = "resources/rtde_output_recipe.txt"
	DefaultInputRecipe         = "resources/rtde_input_recipe.txt"
	DefaultCalibrationChecksum = "calib_12788084448423163542"
	DefaultGainScaling         = 1.0
	DefaultWaitTimeout         = 100 * time.Millisecond
	DefaultWaitAttempts        = 1
	DefaultKeepaliveInterval   = 2 * time.Millisecond
	// GainScalingMinMajor is the first controller major version whose
	// force-mode command takes a gain scaling argument.
	GainScalingMinMajor = 5
)

// Config holds the session configuration.
type Config struct {
	Address             string          `json:"address"`
	Duration            Duration        `json:"duration"`
	CalibrationChecksum string          `json:"calibration_checksum"`
	CalibrationFile     string          `json:"calibration_file,omitempty"`
	ScriptFile          string          `json:"script_file"`
	OutputRecipe        string          `json:"output_recipe"`
	InputRecipe         string          `json:"input_recipe"`
	Handshake           HandshakeConfig `json:"handshake"`
	ForceMode           ForceModeConfig `json:"force_mode"`
	KeepaliveInterval   Duration        `json:"keepalive_interval"`
}

// HandshakeConfig controls the optional dashboard steps and how long to
// wait for the external control program.
type HandshakeConfig struct {
	PowerOff     bool     `json:"power_off,omitempty"`
	PowerOn      bool     `json:"power_on,omitempty"`
	BrakeRelease bool     `json:"brake_release,omitempty"`
	WaitTimeout  Duration `json:"wait_timeout"`
	WaitAttempts int      `json:"wait_attempts"`
}

// ForceModeConfig holds the force-mode parameters.
type ForceModeConfig struct {
	TaskFrame   Vector6   `json:"task_frame"`
	Selection   Selection `json:"selection"`
	Wrench      Vector6   `json:"wrench"`
	FrameMode   FrameMode `json:"frame_mode"`
	Limits      Vector6   `json:"limits"`
	Damping     float64   `json:"damping"`
	GainScaling *float64  `json:"gain_scaling,omitempty"`
}

// DefaultConfig presses down along -z with compliance in z and around z,
// task frame at the robot base and limits large enough for the whole
// workspace.
func DefaultConfig() Config {
	return Config{
		Address:             DefaultAddress,
		CalibrationChecksum: DefaultCalibrationChecksum,
		ScriptFile:          DefaultScriptFile,
		OutputRecipe:        DefaultOutputRecipe,
		InputRecipe:         DefaultInputRecipe,
		Handshake: HandshakeConfig{
			WaitTimeout:  Duration(DefaultWaitTimeout),
			WaitAttempts: DefaultWaitAttempts,
		},
		ForceMode: ForceModeConfig{
			Selection: Selection{0, 0, 1, 0, 0, 1},
			Wrench:    Vector6{0, 0, -2, 0, 0, 0},
			FrameMode: FrameNoTransform,
			Limits:    Vector6{0.1, 0.1, 1.5, 3.14, 3.14, 0.5},
			Damping:   0.005,
		},
		KeepaliveInterval: Duration(DefaultKeepaliveInterval),
	}
}

// ValidationError reports a config field with an unusable value.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Message)
}

// Validate checks the values the actuator would otherwise reject.
func (c *Config) Validate() error {
	if c.Address == "" {
		return ValidationError{"address", "must not be empty"}
	}
	if c.Duration < 0 {
		return ValidationError{"duration", "must not be negative"}
	}
	if c.KeepaliveInterval <= 0 {
		return ValidationError{"keepalive_interval", "must be positive"}
	}
	if c.Handshake.WaitTimeout <= 0 {
		return ValidationError{"handshake.wait_timeout", "must be positive"}
	}
	if c.Handshake.WaitAttempts < 1 {
		return ValidationError{"handshake.wait_attempts", "must be at least 1"}
	}
	return c.ForceMode.Validate()
}

// Validate checks the force-mode parameters.
func (f *ForceModeConfig) Validate() error {
	for i, s := range f.Selection {
		if s != 0 && s != 1 {
			return ValidationError{"force_mode.selection", fmt.Sprintf("%s must be 0 or 1", AllAxes()[i])}
		}
	}
	if !f.FrameMode.Valid() {
		return ValidationError{"force_mode.frame_mode", fmt.Sprintf("unknown mode %d", int(f.FrameMode))}
	}
	for i, l := range f.Limits {
		if l < 0 {
			return ValidationError{"force_mode.limits", fmt.Sprintf("%s must not be negative", AllAxes()[i])}
		}
	}
	if f.Damping < 0 || f.Damping > 1 {
		return ValidationError{"force_mode.damping", "must be within [0, 1]"}
	}
	if f.GainScaling != nil && (*f.GainScaling < 0 || *f.GainScaling > 2) {
		return ValidationError{"force_mode.gain_scaling", "must be within [0, 2]"}
	}
	return nil
}

// LoadConfig loads configuration from the default config file
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(DefaultConfigFile)
}

// LoadConfigFrom loads configuration from a specific file. Fields missing
// from the file keep their defaults.
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Save saves configuration to the default config file
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigFile)
}

// SaveTo saves configuration to a specific file
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ConfigExists returns true if the default config file exists
func ConfigExists() bool {
	_, err := os.Stat(DefaultConfigFile)
	return err == nil
}

// Duration is a time.Duration that reads and writes as a string ("10s").
// Bare JSON numbers are read as seconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		*d = Duration(time.Duration(val * float64(time.Second)))
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", val, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
