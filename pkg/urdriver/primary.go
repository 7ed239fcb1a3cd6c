package urdriver

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/gwillem/urforce/pkg/robot"
)

// PrimaryPort is the primary client interface. The controller pushes state
// and message packages on it and runs scripts written to it.
const PrimaryPort = 30001

const (
	packageTypeRobotMessage = 20
	robotMessageVersion     = 3

	maxPackageSize = 1 << 20
)

var (
	errNoVersion    = errors.New("version message not found")
	errNoKinematics = errors.New("kinematics info not found")
)

// ReadVersion connects to the primary interface at addr and returns the
// controller version from the version message sent after connecting.
func ReadVersion(ctx context.Context, addr string) (robot.Version, error) {
	var v robot.Version
	err := readPrimary(ctx, addr, func(r io.Reader) (err error) {
		v, err = readVersion(r)
		return err
	})
	if err != nil {
		return robot.Version{}, fmt.Errorf("read controller version: %w", err)
	}
	return v, nil
}

// ReadKinematics connects to the primary interface at addr and returns the
// kinematics info from the first robot state that carries it.
func ReadKinematics(ctx context.Context, addr string) (KinematicsInfo, error) {
	var k KinematicsInfo
	err := readPrimary(ctx, addr, func(r io.Reader) (err error) {
		k, err = readKinematics(r)
		return err
	})
	if err != nil {
		return KinematicsInfo{}, fmt.Errorf("read kinematics info: %w", err)
	}
	return k, nil
}

// readPrimary dials addr and hands the stream to read. Cancelling ctx
// aborts the read.
func readPrimary(ctx context.Context, addr string, read func(io.Reader) error) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial primary interface %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	defer stop()

	if err := read(bufio.NewReader(conn)); err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		return err
	}
	return nil
}

// readPackages calls fn with the type and body of each package until fn
// returns true. A stream ending between packages returns io.EOF.
func readPackages(r io.Reader, fn func(typ byte, body []byte) bool) error {
	var header [5]byte
	for {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			return err
		}
		size := binary.BigEndian.Uint32(header[:4])
		if size < uint32(len(header)) || size > maxPackageSize {
			return fmt.Errorf("bad package size %d", size)
		}
		body := make([]byte, size-uint32(len(header)))
		if _, err := io.ReadFull(r, body); err != nil {
			return err
		}
		if fn(header[4], body) {
			return nil
		}
	}
}

// readVersion reads packages until it finds the version message.
func readVersion(r io.Reader) (robot.Version, error) {
	var v robot.Version
	err := readPackages(r, func(typ byte, body []byte) bool {
		if typ != packageTypeRobotMessage {
			return false
		}
		var ok bool
		v, ok = parseVersionMessage(body)
		return ok
	})
	if errors.Is(err, io.EOF) {
		err = errNoVersion
	}
	return v, err
}

// readKinematics reads packages until a robot state carries kinematics info.
func readKinematics(r io.Reader) (KinematicsInfo, error) {
	var k KinematicsInfo
	err := readPackages(r, func(typ byte, body []byte) bool {
		if typ != packageTypeRobotState {
			return false
		}
		var ok bool
		k, ok = findKinematics(body)
		return ok
	})
	if errors.Is(err, io.EOF) {
		err = errNoKinematics
	}
	return k, err
}

// parseVersionMessage decodes a robot message body:
// timestamp uint64, source int8, type uint8, name length int8, name,
// major uint8, minor uint8, bugfix int32, build int32.
func parseVersionMessage(body []byte) (robot.Version, bool) {
	const fixedHead = 8 + 1 + 1
	if len(body) < fixedHead+1 || body[9] != robotMessageVersion {
		return robot.Version{}, false
	}
	nameLen := int(body[fixedHead])
	off := fixedHead + 1 + nameLen
	if len(body) < off+2+4+4 {
		return robot.Version{}, false
	}
	return robot.Version{
		Major:  int(body[off]),
		Minor:  int(body[off+1]),
		Bugfix: int(int32(binary.BigEndian.Uint32(body[off+2:]))),
		Build:  int(int32(binary.BigEndian.Uint32(body[off+6:]))),
	}, true
}
