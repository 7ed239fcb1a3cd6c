package robot

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// JointCalibration is the measured frame of one joint.
type JointCalibration struct {
	X     float64 `yaml:"x"`
	Y     float64 `yaml:"y"`
	Z     float64 `yaml:"z"`
	Roll  float64 `yaml:"roll"`
	Pitch float64 `yaml:"pitch"`
	Yaw   float64 `yaml:"yaw"`
}

// Kinematics is the kinematic calibration extracted from an actuator.
type Kinematics struct {
	Shoulder JointCalibration `yaml:"shoulder"`
	UpperArm JointCalibration `yaml:"upper_arm"`
	Forearm  JointCalibration `yaml:"forearm"`
	Wrist1   JointCalibration `yaml:"wrist_1"`
	Wrist2   JointCalibration `yaml:"wrist_2"`
	Wrist3   JointCalibration `yaml:"wrist_3"`
	Hash     string           `yaml:"hash"`
}

// Calibration is the file written by the calibration extraction tool.
type Calibration struct {
	Kinematics Kinematics `yaml:"kinematics"`
}

// Checksum returns the calibration checksum, e.g. "calib_12788084448423163542".
func (c *Calibration) Checksum() string {
	return c.Kinematics.Hash
}

// Matches reports whether the calibration has the expected checksum.
func (c *Calibration) Matches(checksum string) bool {
	return c.Kinematics.Hash != "" && c.Kinematics.Hash == checksum
}

// LoadCalibration loads calibration data from a YAML file.
func LoadCalibration(path string) (*Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calibration file: %w", err)
	}
	return ParseCalibration(data)
}

// ParseCalibration parses calibration YAML.
func ParseCalibration(data []byte) (*Calibration, error) {
	var cal Calibration
	if err := yaml.Unmarshal(data, &cal); err != nil {
		return nil, fmt.Errorf("parse calibration YAML: %w", err)
	}
	if cal.Kinematics.Hash == "" {
		return nil, fmt.Errorf("calibration has no kinematics hash")
	}
	return &cal, nil
}
