package urdriver

import (
	"encoding/binary"
	"io"
	"math"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gwillem/urforce/pkg/robot"
)

// fakeController plays the controller side of the primary and secondary
// interfaces.
type fakeController struct {
	primary   net.Listener
	secondary net.Listener
	scripts   chan string

	mu         sync.Mutex
	kinematics KinematicsInfo
}

// ur5eKinematics is the nominal calibration of a UR5e, whose checksum is
// robot.DefaultCalibrationChecksum.
func ur5eKinematics() KinematicsInfo {
	return KinematicsInfo{
		DHA:     [6]float64{0, -0.425, -0.3922, 0, 0, 0},
		DHD:     [6]float64{0.1625, 0, 0, 0.1333, 0.0997, 0.0996},
		DHAlpha: [6]float64{math.Pi / 2, 0, 0, math.Pi / 2, -math.Pi / 2, 0},
	}
}

func (fc *fakeController) setKinematics(k KinematicsInfo) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.kinematics = k
}

func (fc *fakeController) currentKinematics() KinematicsInfo {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.kinematics
}

func newFakeController(t *testing.T, v robot.Version) *fakeController {
	t.Helper()
	primary, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	secondary, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	fc := &fakeController{
		primary:    primary,
		secondary:  secondary,
		scripts:    make(chan string, 4),
		kinematics: ur5eKinematics(),
	}
	t.Cleanup(func() {
		primary.Close()
		secondary.Close()
	})

	go func() {
		for {
			conn, err := primary.Accept()
			if err != nil {
				return
			}
			conn.Write(statePackage())
			conn.Write(versionPackage(v))
			conn.Write(kinematicsPackage(fc.currentKinematics()))
			go func() {
				io.Copy(io.Discard, conn)
				conn.Close()
			}()
		}
	}()
	go func() {
		for {
			conn, err := secondary.Accept()
			if err != nil {
				return
			}
			data, _ := io.ReadAll(conn)
			conn.Close()
			fc.scripts <- string(data)
		}
	}()
	return fc
}

func port(ln net.Listener) int {
	return ln.Addr().(*net.TCPAddr).Port
}

func statePackage() []byte {
	body := make([]byte, 12)
	return framePackage(16, body)
}

// kinematicsPackage is a robot state with a joint data sub-package followed
// by the kinematics info.
func kinematicsPackage(k KinematicsInfo) []byte {
	var body []byte
	body = append(body, subPackage(1, make([]byte, 6*41+1))...)

	var kin []byte
	for _, c := range k.Checksums {
		kin = binary.BigEndian.AppendUint32(kin, c)
	}
	for _, v := range [][6]float64{k.DHTheta, k.DHA, k.DHD, k.DHAlpha} {
		for _, x := range v {
			kin = binary.BigEndian.AppendUint64(kin, math.Float64bits(x))
		}
	}
	kin = binary.BigEndian.AppendUint32(kin, k.CalibrationStatus)
	body = append(body, subPackage(subPackageKinematicsInfo, kin)...)
	return framePackage(packageTypeRobotState, body)
}

func subPackage(typ byte, body []byte) []byte {
	var sub []byte
	sub = binary.BigEndian.AppendUint32(sub, uint32(subHeaderLen+len(body)))
	sub = append(sub, typ)
	return append(sub, body...)
}

func versionPackage(v robot.Version) []byte {
	name := "URControl"
	var body []byte
	body = binary.BigEndian.AppendUint64(body, 123456789)
	body = append(body, 0xfe, robotMessageVersion, byte(len(name)))
	body = append(body, name...)
	body = append(body, byte(v.Major), byte(v.Minor))
	body = binary.BigEndian.AppendUint32(body, uint32(v.Bugfix))
	body = binary.BigEndian.AppendUint32(body, uint32(v.Build))
	body = append(body, "25-03-2021, 10:00:00"...)
	return framePackage(packageTypeRobotMessage, body)
}

func framePackage(typ byte, body []byte) []byte {
	var pkg []byte
	pkg = binary.BigEndian.AppendUint32(pkg, uint32(5+len(body)))
	pkg = append(pkg, typ)
	return append(pkg, body...)
}

func readInt32s(t *testing.T, conn net.Conn, n int) []int32 {
	t.Helper()
	buf := make([]byte, 4*n)
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	vals := make([]int32, n)
	for i := range vals {
		vals[i] = int32(binary.BigEndian.Uint32(buf[4*i:]))
	}
	return vals
}
