package main

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/gwillem/urforce/pkg/robot"
)

type SetupCommand struct{}

// setupAnswers holds the form values as text until they are validated.
type setupAnswers struct {
	address      string
	seconds      string
	checksum     string
	calibration  string
	powerOn      bool
	brakeRelease bool
	damping      string
	gainScaling  string
}

func answersFrom(cfg *robot.Config) setupAnswers {
	a := setupAnswers{
		address:      cfg.Address,
		seconds:      strconv.Itoa(int(cfg.Duration.Std() / time.Second)),
		checksum:     cfg.CalibrationChecksum,
		calibration:  cfg.CalibrationFile,
		powerOn:      cfg.Handshake.PowerOn,
		brakeRelease: cfg.Handshake.BrakeRelease,
		damping:      strconv.FormatFloat(cfg.ForceMode.Damping, 'g', -1, 64),
	}
	if cfg.ForceMode.GainScaling != nil {
		a.gainScaling = strconv.FormatFloat(*cfg.ForceMode.GainScaling, 'g', -1, 64)
	}
	return a
}

// applyTo copies validated answers into cfg.
func (a setupAnswers) applyTo(cfg *robot.Config) error {
	cfg.Address = a.address
	d, err := parseSeconds(a.seconds)
	if err != nil {
		return err
	}
	cfg.Duration = robot.Duration(d)
	cfg.CalibrationChecksum = a.checksum
	cfg.CalibrationFile = a.calibration
	cfg.Handshake.PowerOn = a.powerOn
	cfg.Handshake.BrakeRelease = a.brakeRelease
	if cfg.ForceMode.Damping, err = strconv.ParseFloat(a.damping, 64); err != nil {
		return fmt.Errorf("damping: %w", err)
	}
	cfg.ForceMode.GainScaling = nil
	if a.gainScaling != "" {
		g, err := strconv.ParseFloat(a.gainScaling, 64)
		if err != nil {
			return fmt.Errorf("gain scaling: %w", err)
		}
		cfg.ForceMode.GainScaling = &g
	}
	return cfg.Validate()
}

func validateHost(s string) error {
	if s == "" {
		return fmt.Errorf("address is required")
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	if net.ParseIP(s) == nil {
		if _, err := net.LookupHost(s); err != nil {
			return fmt.Errorf("not an IP address or known host name")
		}
	}
	return nil
}

func validateSeconds(s string) error {
	_, err := parseSeconds(s)
	return err
}

func validateUnitFloat(limit float64, optional bool) func(string) error {
	return func(s string) error {
		if s == "" && optional {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("not a number")
		}
		if v < 0 || v > limit {
			return fmt.Errorf("must be within [0, %g]", limit)
		}
		return nil
	}
}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("urforce setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━"))
	fmt.Println()

	cfg, err := loadConfig(opts.ConfigFile)
	if err != nil {
		return err
	}
	a := answersFrom(cfg)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Robot address").
				Description("IP address or host name of the controller").
				Value(&a.address).
				Validate(validateHost),
			huh.NewInput().
				Title("Run time in seconds").
				Description("0 runs until interrupted").
				Value(&a.seconds).
				Validate(validateSeconds),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Calibration checksum").
				Description("Leave empty to skip the calibration check").
				Value(&a.checksum),
			huh.NewInput().
				Title("Calibration file").
				Description("YAML written by the calibration extraction tool").
				Value(&a.calibration),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Power the arm on before starting?").
				Value(&a.powerOn),
			huh.NewConfirm().
				Title("Release the brakes before starting?").
				Value(&a.brakeRelease),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Damping").
				Description("0 is no damping, 1 is full damping").
				Value(&a.damping).
				Validate(validateUnitFloat(1, false)),
			huh.NewInput().
				Title("Gain scaling").
				Description("Controllers 5.0 and newer; empty uses the default").
				Value(&a.gainScaling).
				Validate(validateUnitFloat(2, true)),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("setup form: %w", err)
	}

	if err := a.applyTo(cfg); err != nil {
		return err
	}
	if err := cfg.SaveTo(opts.ConfigFile); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Println()
	fmt.Println(subHeaderStyle.Render("━━━ Configuration ━━━"))
	fmt.Println(keyValueTable(configRows(cfg)))
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", opts.ConfigFile)
	fmt.Println()
	fmt.Println("Start a session with: " + headerStyle.Render("urforce run"))
	return nil
}
