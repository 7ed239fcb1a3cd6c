package urdriver

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/urforce/pkg/robot"
)

const testScript = "connect {{SERVER_IP_REPLACE}}:{{SERVER_PORT_REPLACE}} cmd {{SCRIPT_COMMAND_SERVER_PORT_REPLACE}} mult {{JOINT_STATE_REPLACE}}"

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func testConfig(t *testing.T, fc *fakeController) Config {
	dir := t.TempDir()
	return Config{
		Host:              "127.0.0.1",
		ScriptFile:        writeFile(t, dir, "external_control.urscript", testScript),
		OutputRecipe:      writeFile(t, dir, "out.txt", "timestamp\nactual_q\nactual_TCP_force\n"),
		InputRecipe:       writeFile(t, dir, "in.txt", "speed_slider_mask\nspeed_slider_fraction\n"),
		PrimaryPort:       port(fc.primary),
		SecondaryPort:     port(fc.secondary),
		ReversePort:       -1,
		ScriptCommandPort: -1,
		HostIP:            "127.0.0.1",
		Logger:            slog.New(slog.DiscardHandler),
	}
}

func dial(t *testing.T, p int) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(p)))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestDriver_Session(t *testing.T) {
	v := robot.Version{Major: 5, Minor: 11, Bugfix: 1, Build: 108318}
	fc := newFakeController(t, v)

	states := make(chan bool, 4)
	d, err := New(context.Background(), testConfig(t, fc), func(running bool) { states <- running })
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, v, d.Version())

	select {
	case script := <-fc.scripts:
		want := "connect 127.0.0.1:" + strconv.Itoa(d.ReversePort()) +
			" cmd " + strconv.Itoa(d.ScriptCommandPort()) + " mult 1000000\n"
		assert.Equal(t, want, script)
	case <-time.After(2 * time.Second):
		t.Fatal("control script not deployed")
	}

	assert.ErrorIs(t, d.WriteKeepalive(), ErrNotConnected)

	reverse := dial(t, d.ReversePort())
	select {
	case running := <-states:
		assert.True(t, running)
	case <-time.After(2 * time.Second):
		t.Fatal("no program state after connect")
	}

	require.NoError(t, d.WriteKeepalive())
	assert.Equal(t, []int32{100, 0, 0, 0, 0, 0, 0, modeIdle}, readInt32s(t, reverse, reverseMsgLen))

	commands := dial(t, d.ScriptCommandPort())
	gain := 1.0
	req := robot.ForceModeRequest{
		Selection:   robot.Selection{0, 0, 1, 0, 0, 1},
		Wrench:      robot.Vector6{0, 0, -2, 0, 0, 0},
		FrameMode:   robot.FrameNoTransform,
		Limits:      robot.Vector6{0.1, 0.1, 1.5, 3.14, 3.14, 0.5},
		Damping:     0.005,
		GainScaling: &gain,
	}
	require.NoError(t, d.StartForceMode(context.Background(), req))
	msg := readInt32s(t, commands, scriptCommandLen)
	assert.Equal(t, int32(cmdStartForceMode), msg[0])
	assert.Equal(t, int32(1000000), msg[1+6+2], "z is compliant")
	assert.Equal(t, int32(-2000000), msg[1+6+6+2], "wrench z")
	assert.Equal(t, int32(2000000), msg[19], "frame mode")
	assert.Equal(t, int32(5000), msg[26], "damping")
	assert.Equal(t, int32(1000000), msg[27], "gain scaling")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.EndForceMode(ctx))
	end := readInt32s(t, commands, scriptCommandLen)
	assert.Equal(t, int32(cmdEndForceMode), end[0])

	reverse.Close()
	select {
	case running := <-states:
		assert.False(t, running)
	case <-time.After(2 * time.Second):
		t.Fatal("no program state after disconnect")
	}
}

func TestDriver_StartForceModeWaitsForCommandConnection(t *testing.T) {
	fc := newFakeController(t, robot.Version{Major: 5, Minor: 3})
	d, err := New(context.Background(), testConfig(t, fc), nil)
	require.NoError(t, err)
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	gain := 1.0
	err = d.StartForceMode(ctx, robot.ForceModeRequest{FrameMode: robot.FrameNoTransform, GainScaling: &gain})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDriver_StartForceModeRejectsWrongArity(t *testing.T) {
	gain := 1.0
	tests := []struct {
		name    string
		version robot.Version
		req     robot.ForceModeRequest
	}{
		{"gain scaling on 3.x", robot.Version{Major: 3, Minor: 15}, robot.ForceModeRequest{GainScaling: &gain}},
		{"no gain scaling on 5.x", robot.Version{Major: 5, Minor: 11}, robot.ForceModeRequest{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := newFakeController(t, tt.version)
			d, err := New(context.Background(), testConfig(t, fc), nil)
			require.NoError(t, err)
			defer d.Close()

			err = d.StartForceMode(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrArgumentShape)
		})
	}
}

func TestDriver_MissingScript(t *testing.T) {
	fc := newFakeController(t, robot.Version{Major: 5})
	cfg := testConfig(t, fc)
	cfg.ScriptFile = filepath.Join(t.TempDir(), "missing.urscript")

	_, err := New(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDriver_UnreachableController(t *testing.T) {
	fc := newFakeController(t, robot.Version{Major: 5})
	cfg := testConfig(t, fc)
	fc.primary.Close()

	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestDriver_CheckCalibration(t *testing.T) {
	fc := newFakeController(t, robot.Version{Major: 5, Minor: 11})
	d, err := New(context.Background(), testConfig(t, fc), nil)
	require.NoError(t, err)
	defer d.Close()

	ok, err := d.CheckCalibration(context.Background(), robot.DefaultCalibrationChecksum)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.CheckCalibration(context.Background(), "calib_1")
	require.NoError(t, err)
	assert.False(t, ok)

	recalibrated := ur5eKinematics()
	recalibrated.DHA[1] = -0.4251
	fc.setKinematics(recalibrated)
	ok, err = d.CheckCalibration(context.Background(), robot.DefaultCalibrationChecksum)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDriver_CheckCalibrationFallsBackToFile(t *testing.T) {
	fc := newFakeController(t, robot.Version{Major: 5, Minor: 11})
	cfg := testConfig(t, fc)
	d, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer d.Close()
	fc.primary.Close()

	_, err = d.CheckCalibration(context.Background(), robot.DefaultCalibrationChecksum)
	assert.Error(t, err, "no file configured")

	d.cfg.CalibrationFile = writeFile(t, t.TempDir(), "calibration.yaml", "kinematics:\n  hash: calib_12788084448423163542\n")
	ok, err := d.CheckCalibration(context.Background(), robot.DefaultCalibrationChecksum)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.CheckCalibration(context.Background(), "calib_1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReadVersion_SkipsOtherPackages(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(statePackage())
	buf.Write(versionPackage(robot.Version{Major: 3, Minor: 15, Bugfix: 7, Build: 106331}))

	v, err := readVersion(&buf)
	require.NoError(t, err)
	assert.Equal(t, robot.Version{Major: 3, Minor: 15, Bugfix: 7, Build: 106331}, v)
}

func TestReadVersion_NoVersion(t *testing.T) {
	_, err := readVersion(bytes.NewReader(statePackage()))
	assert.ErrorIs(t, err, errNoVersion)

	_, err = readVersion(bytes.NewReader(framePackage(16, nil)[:3]))
	assert.Error(t, err)
}

func TestStartForceModeMessage_Arity(t *testing.T) {
	req := robot.ForceModeRequest{FrameMode: robot.FrameNoTransform, Damping: 0.005}
	assert.Len(t, startForceModeMessage(req), scriptCommandLen-1)

	gain := 0.5
	req.GainScaling = &gain
	msg := startForceModeMessage(req)
	require.Len(t, msg, scriptCommandLen)
	assert.Equal(t, int32(500000), msg[scriptCommandLen-1])
}

func TestKeepaliveMessage(t *testing.T) {
	assert.Equal(t, []int32{20, 0, 0, 0, 0, 0, 0, modeIdle}, keepaliveMessage(20*time.Millisecond))
}

func TestLoadRecipe(t *testing.T) {
	dir := t.TempDir()

	r, err := LoadRecipe(writeFile(t, dir, "ok.txt", "timestamp\n\n# comment\nactual_q\n"))
	require.NoError(t, err)
	assert.Equal(t, Recipe{"timestamp", "actual_q"}, r)

	_, err = LoadRecipe(writeFile(t, dir, "dup.txt", "timestamp\ntimestamp\n"))
	assert.Error(t, err)

	_, err = LoadRecipe(writeFile(t, dir, "empty.txt", "\n"))
	assert.Error(t, err)

	_, err = LoadRecipe(filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)
}

func TestHostPort(t *testing.T) {
	assert.Equal(t, "10.0.0.2:30001", hostPort("10.0.0.2", PrimaryPort))
	assert.Equal(t, "10.0.0.2:30002", hostPort("10.0.0.2:29999", SecondaryPort))
}

func TestShippedResources(t *testing.T) {
	root := filepath.Join("..", "..")

	tmpl, err := loadScript(filepath.Join(root, robot.DefaultScriptFile))
	require.NoError(t, err)
	program := renderScript(tmpl, "10.0.0.5", 50001, 50004, true)
	assert.NotContains(t, program, "{{")
	assert.Contains(t, program, "GAIN_SCALING = True")
	assert.Contains(t, program, `socket_open("10.0.0.5", 50001, "reverse_socket")`)
	assert.Contains(t, program, `socket_open("10.0.0.5", 50004, "script_command_socket")`)
	assert.Contains(t, program, "MULT = 1000000")

	for _, name := range []string{robot.DefaultOutputRecipe, robot.DefaultInputRecipe} {
		recipe, err := LoadRecipe(filepath.Join(root, name))
		require.NoError(t, err, name)
		assert.NotEmpty(t, recipe, name)
	}
}

var scriptCommandRead = regexp.MustCompile(`socket_read_binary_integer\((\d+), "script_command_socket"`)

// scriptCommandReads counts the ints a rendered control script reads for a
// start and an end force mode command, the command id included.
func scriptCommandReads(t *testing.T, program string) (start, end int) {
	t.Helper()
	gain := strings.Contains(program, "GAIN_SCALING = True")
	var id int
	var branch string
	inGain := false
	for _, line := range strings.Split(program, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.Contains(line, "== START_FORCE_MODE"):
			branch = "start"
		case strings.Contains(line, "== END_FORCE_MODE"):
			branch = "end"
		case line == "if GAIN_SCALING:":
			inGain = true
		case line == "end":
			inGain = false
		}
		m := scriptCommandRead.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		require.NoError(t, err)
		switch {
		case branch == "":
			id += n
		case inGain && !gain:
		case branch == "start":
			start += n
		case branch == "end":
			end += n
		}
	}
	require.NotZero(t, id, "command id read")
	return id + start, id + end
}

func TestDriver_ShippedScriptMatchesCommands(t *testing.T) {
	tests := []struct {
		name    string
		version robot.Version
		gain    bool
	}{
		{"5.x with gain scaling", robot.Version{Major: 5, Minor: 11, Bugfix: 1, Build: 108318}, true},
		{"3.x without gain scaling", robot.Version{Major: 3, Minor: 15, Bugfix: 7, Build: 106331}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := newFakeController(t, tt.version)
			cfg := testConfig(t, fc)
			cfg.ScriptFile = filepath.Join("..", "..", robot.DefaultScriptFile)
			d, err := New(context.Background(), cfg, nil)
			require.NoError(t, err)
			defer d.Close()

			var program string
			select {
			case program = <-fc.scripts:
			case <-time.After(2 * time.Second):
				t.Fatal("control script not deployed")
			}
			assert.Equal(t, tt.gain, strings.Contains(program, "GAIN_SCALING = True"))
			assert.Equal(t, !tt.gain, strings.Contains(program, "GAIN_SCALING = False"))

			req := robot.ForceModeRequest{FrameMode: robot.FrameNoTransform, Damping: 0.005}
			if tt.gain {
				gain := 1.0
				req.GainScaling = &gain
			}
			start, end := scriptCommandReads(t, program)
			assert.Len(t, startForceModeMessage(req), start)
			assert.Len(t, endForceModeMessage(), end)

			commands := dial(t, d.ScriptCommandPort())
			require.NoError(t, commands.SetReadDeadline(time.Now().Add(2*time.Second)))
			require.NoError(t, d.StartForceMode(context.Background(), req))
			require.NoError(t, d.EndForceMode(context.Background()))

			assert.Equal(t, int32(cmdStartForceMode), readInt32s(t, commands, start)[0])
			assert.Equal(t, int32(cmdEndForceMode), readInt32s(t, commands, end)[0])
		})
	}
}
