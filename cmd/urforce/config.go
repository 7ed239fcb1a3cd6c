package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"github.com/gwillem/urforce/pkg/robot"
)

// loadConfig reads path, falling back to the defaults when it does not
// exist.
func loadConfig(path string) (*robot.Config, error) {
	cfg, err := robot.LoadConfigFrom(path)
	if errors.Is(err, fs.ErrNotExist) {
		def := robot.DefaultConfig()
		return &def, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// parseSeconds reads the run duration argument. Zero runs until interrupted.
func parseSeconds(s string) (time.Duration, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("seconds must be a whole number: %q", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("seconds must not be negative: %d", n)
	}
	return time.Duration(n) * time.Second, nil
}
