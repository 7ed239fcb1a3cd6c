package urdriver

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"
)

const (
	packageTypeRobotState    = 16
	subPackageKinematicsInfo = 5

	subHeaderLen = 5
	// kinematicsLen is the kinematics info body without the trailing
	// calibration status: checksums, then theta, a, d and alpha per joint.
	kinematicsLen = 6*4 + 4*6*8
)

// KinematicsInfo is the kinematic calibration the controller publishes in
// its robot state.
type KinematicsInfo struct {
	Checksums         [6]uint32
	DHTheta           [6]float64
	DHA               [6]float64
	DHD               [6]float64
	DHAlpha           [6]float64
	CalibrationStatus uint32
}

// Hash returns the calibration checksum of k, e.g.
// "calib_12788084448423163542". It is the same value the calibration
// extraction tool writes, so it can be compared with a configured checksum.
func (k KinematicsInfo) Hash() string {
	var sb strings.Builder
	for i := range 6 {
		sb.WriteString(formatDouble(k.DHTheta[i]))
		sb.WriteString(formatDouble(k.DHD[i]))
		sb.WriteString(formatDouble(k.DHA[i]))
		sb.WriteString(formatDouble(k.DHAlpha[i]))
	}
	return "calib_" + strconv.FormatUint(hashBytes([]byte(sb.String())), 10)
}

// findKinematics walks the sub-packages of a robot state body.
func findKinematics(body []byte) (KinematicsInfo, bool) {
	for len(body) >= subHeaderLen {
		size := int(binary.BigEndian.Uint32(body))
		if size < subHeaderLen || size > len(body) {
			return KinematicsInfo{}, false
		}
		if body[4] == subPackageKinematicsInfo {
			return parseKinematics(body[subHeaderLen:size])
		}
		body = body[size:]
	}
	return KinematicsInfo{}, false
}

func parseKinematics(b []byte) (KinematicsInfo, bool) {
	var k KinematicsInfo
	if len(b) < kinematicsLen {
		return k, false
	}
	for i := range k.Checksums {
		k.Checksums[i] = binary.BigEndian.Uint32(b)
		b = b[4:]
	}
	for _, v := range []*[6]float64{&k.DHTheta, &k.DHA, &k.DHD, &k.DHAlpha} {
		for i := range v {
			v[i] = math.Float64frombits(binary.BigEndian.Uint64(b))
			b = b[8:]
		}
	}
	if len(b) >= 4 {
		k.CalibrationStatus = binary.BigEndian.Uint32(b)
	}
	return k, true
}

// formatDouble prints v with six significant digits and no trailing zeros,
// the way a C++ stream does by default.
func formatDouble(v float64) string {
	s := strconv.FormatFloat(v, 'g', 6, 64)
	mant, exp, ok := strings.Cut(s, "e")
	if !ok || !strings.Contains(mant, ".") {
		return s
	}
	mant = strings.TrimRight(strings.TrimRight(mant, "0"), ".")
	return mant + "e" + exp
}

// hashBytes is the 64-bit string hash of the GNU C++ library
// (_Hash_bytes with its default seed) the checksum was defined with.
func hashBytes(b []byte) uint64 {
	const (
		seed = 0xc70f6907
		mul  = 0xc6a4a7935bd1e995
	)
	shiftMix := func(v uint64) uint64 { return v ^ v>>47 }

	h := seed ^ uint64(len(b))*mul
	n := len(b) &^ 7
	for i := 0; i < n; i += 8 {
		h ^= shiftMix(binary.LittleEndian.Uint64(b[i:])*mul) * mul
		h *= mul
	}
	if rest := b[n:]; len(rest) > 0 {
		var data uint64
		for i := len(rest) - 1; i >= 0; i-- {
			data = data<<8 | uint64(rest[i])
		}
		h ^= data
		h *= mul
	}
	return shiftMix(shiftMix(h) * mul)
}
