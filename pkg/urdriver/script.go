package urdriver

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// SecondaryPort runs scripts without publishing state.
const SecondaryPort = 30002

// Placeholders in the external control script.
const (
	placeholderServerIP          = "{{SERVER_IP_REPLACE}}"
	placeholderServerPort        = "{{SERVER_PORT_REPLACE}}"
	placeholderScriptCommandPort = "{{SCRIPT_COMMAND_SERVER_PORT_REPLACE}}"
	placeholderMult              = "{{JOINT_STATE_REPLACE}}"
	placeholderGainScaling       = "{{GAIN_SCALING_REPLACE}}"
)

// renderScript fills in the host address and ports the script connects back
// to. gainScaling tells the script whether start force mode carries the gain
// scaling value.
func renderScript(tmpl, hostIP string, reversePort, scriptCommandPort int, gainScaling bool) string {
	gain := "False"
	if gainScaling {
		gain = "True"
	}
	return strings.NewReplacer(
		placeholderServerIP, hostIP,
		placeholderServerPort, strconv.Itoa(reversePort),
		placeholderScriptCommandPort, strconv.Itoa(scriptCommandPort),
		placeholderMult, strconv.Itoa(mult),
		placeholderGainScaling, gain,
	).Replace(tmpl)
}

func loadScript(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read control script: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return "", fmt.Errorf("control script %s is empty", path)
	}
	return string(data), nil
}

// deployScript sends program to the controller, which starts it at once.
func deployScript(ctx context.Context, addr, program string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	conn.SetWriteDeadline(deadline)

	if !strings.HasSuffix(program, "\n") {
		program += "\n"
	}
	if _, err := conn.Write([]byte(program)); err != nil {
		return fmt.Errorf("send control script: %w", err)
	}
	return nil
}

// localIP returns the address the controller can reach this host on: the
// local end of a connection to it.
func localIP(ctx context.Context, addr string) (string, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	host, _, err := net.SplitHostPort(conn.LocalAddr().String())
	if err != nil {
		return "", err
	}
	return host, nil
}
