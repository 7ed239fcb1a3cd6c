package urdriver

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/urforce/pkg/robot"
)

func TestKinematicsInfo_Hash(t *testing.T) {
	assert.Equal(t, robot.DefaultCalibrationChecksum, ur5eKinematics().Hash())

	ur3e := KinematicsInfo{
		DHA:     [6]float64{0, -0.24355, -0.2132, 0, 0, 0},
		DHD:     [6]float64{0.15185, 0, 0, 0.13105, 0.08535, 0.0921},
		DHAlpha: [6]float64{math.Pi / 2, 0, 0, math.Pi / 2, -math.Pi / 2, 0},
	}
	assert.Equal(t, "calib_16756443741236045476", ur3e.Hash())
}

func TestFormatDouble(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{-0.425, "-0.425"},
		{math.Pi / 2, "1.5708"},
		{0.1625, "0.1625"},
		{0.0001, "0.0001"},
		{0.00001, "1e-05"},
		{1234567, "1.23457e+06"},
		{1e6, "1e+06"},
		{123456, "123456"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDouble(tt.in), tt.in)
	}
}

func TestHashBytes(t *testing.T) {
	// Lengths on and off the eight byte boundary.
	assert.NotEqual(t, hashBytes([]byte("abcdefgh")), hashBytes([]byte("abcdefg")))
	assert.Equal(t, hashBytes([]byte("0.1625")), hashBytes([]byte("0.1625")))
}

func TestReadKinematics_SkipsOtherPackages(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(statePackage())
	buf.Write(versionPackage(robot.Version{Major: 5, Minor: 11}))
	want := ur5eKinematics()
	want.Checksums = [6]uint32{1, 2, 3, 4, 5, 6}
	want.CalibrationStatus = 1
	buf.Write(kinematicsPackage(want))

	k, err := readKinematics(&buf)
	require.NoError(t, err)
	assert.Equal(t, want, k)
}

func TestReadKinematics_NotFound(t *testing.T) {
	_, err := readKinematics(bytes.NewReader(statePackage()))
	assert.ErrorIs(t, err, errNoKinematics)
}

func TestFindKinematics_Truncated(t *testing.T) {
	pkg := kinematicsPackage(ur5eKinematics())
	body := pkg[5:]

	_, ok := findKinematics(body[:len(body)-100])
	assert.False(t, ok)

	short := subPackage(subPackageKinematicsInfo, make([]byte, kinematicsLen-1))
	_, ok = findKinematics(short)
	assert.False(t, ok)
}
