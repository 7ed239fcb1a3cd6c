package sim

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/urforce/pkg/robot"
)

func startDriver(t *testing.T, r *Robot) (robot.Driver, *atomic.Bool) {
	t.Helper()
	var running atomic.Bool
	d, err := r.NewDriver(context.Background(), func(v bool) { running.Store(v) })
	require.NoError(t, err)
	require.Eventually(t, running.Load, time.Second, time.Millisecond)
	return d, &running
}

func TestDashboard_RecordsCommands(t *testing.T) {
	r := New(DefaultConfig())
	dash := r.Dashboard()
	ctx := context.Background()

	assert.Error(t, dash.Stop(ctx), "commands need a connection")
	require.NoError(t, dash.Connect(ctx))
	require.NoError(t, dash.Stop(ctx))
	require.NoError(t, dash.PowerOn(ctx))
	require.NoError(t, dash.BrakeRelease(ctx))

	assert.Equal(t, []string{"stop", "power on", "brake release"}, r.Stats().DashboardCommands)
}

func TestDashboard_Failures(t *testing.T) {
	ctx := context.Background()

	unreachable := New(Config{Unreachable: true})
	assert.ErrorIs(t, unreachable.Dashboard().Connect(ctx), ErrUnreachable)

	rejecting := New(Config{RejectStop: true})
	dash := rejecting.Dashboard()
	require.NoError(t, dash.Connect(ctx))
	assert.ErrorIs(t, dash.Stop(ctx), ErrRejected)
}

func TestDriver_ProgramStarts(t *testing.T) {
	r := New(DefaultConfig())
	d, running := startDriver(t, r)

	require.NoError(t, d.Close())
	assert.False(t, running.Load())
	assert.Equal(t, 1, r.Stats().DriversCreated)
}

func TestDriver_NeverStart(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NeverStart = true
	r := New(cfg)

	var running atomic.Bool
	d, err := r.NewDriver(context.Background(), func(v bool) { running.Store(v) })
	require.NoError(t, err)
	time.Sleep(3 * cfg.ProgramStartDelay)
	assert.False(t, running.Load())

	err = d.StartForceMode(context.Background(), robot.ForceModeRequest{FrameMode: robot.FrameNoTransform})
	assert.ErrorIs(t, err, ErrProgramNotRunning)
}

func TestDriver_StartForceModeValidation(t *testing.T) {
	gain := func(v float64) *float64 { return &v }

	tests := []struct {
		name    string
		version robot.Version
		req     robot.ForceModeRequest
		wantErr bool
	}{
		{"v5 with gain", robot.Version{Major: 5}, robot.ForceModeRequest{FrameMode: 2, Damping: 0.005, GainScaling: gain(1)}, false},
		{"v3 without gain", robot.Version{Major: 3}, robot.ForceModeRequest{FrameMode: 2, Damping: 0.005}, false},
		{"v3 with gain", robot.Version{Major: 3}, robot.ForceModeRequest{FrameMode: 2, Damping: 0.005, GainScaling: gain(1)}, true},
		{"damping out of range", robot.Version{Major: 5}, robot.ForceModeRequest{FrameMode: 2, Damping: 1.5}, true},
		{"gain out of range", robot.Version{Major: 5}, robot.ForceModeRequest{FrameMode: 2, GainScaling: gain(2.5)}, true},
		{"bad frame mode", robot.Version{Major: 5}, robot.ForceModeRequest{FrameMode: 0}, true},
		{"negative limit", robot.Version{Major: 5}, robot.ForceModeRequest{FrameMode: 2, Limits: robot.Vector6{-1}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Version = tt.version
			cfg.ProgramStartDelay = 0
			r := New(cfg)
			d, _ := startDriver(t, r)
			defer d.Close()

			err := d.StartForceMode(context.Background(), tt.req)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrRejected)
				assert.False(t, r.Stats().ForceModeActive)
			} else {
				assert.NoError(t, err)
				assert.True(t, r.Stats().ForceModeActive)
			}
		})
	}
}

func TestDriver_KeepaliveFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailKeepaliveAt = 3
	r := New(cfg)
	d, running := startDriver(t, r)
	defer d.Close()

	require.NoError(t, d.WriteKeepalive())
	require.NoError(t, d.WriteKeepalive())
	assert.Error(t, d.WriteKeepalive())
	assert.ErrorIs(t, d.WriteKeepalive(), ErrWatchdog)

	assert.Equal(t, uint64(3), r.Stats().Keepalives)
	assert.False(t, running.Load())
}

func TestDriver_Watchdog(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Watchdog = 50 * time.Millisecond
	r := New(cfg)
	d, _ := startDriver(t, r)
	defer d.Close()

	require.NoError(t, d.WriteKeepalive())
	time.Sleep(120 * time.Millisecond)
	assert.ErrorIs(t, d.WriteKeepalive(), ErrWatchdog)
}

func TestDriver_CheckCalibration(t *testing.T) {
	r := New(DefaultConfig())
	d, _ := startDriver(t, r)
	defer d.Close()

	ok, err := d.CheckCalibration(context.Background(), robot.DefaultCalibrationChecksum)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.CheckCalibration(context.Background(), "calib_0")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDashboard_PolyscopeVersion(t *testing.T) {
	r := New(DefaultConfig())
	dash := r.Dashboard().(interface {
		robot.Dashboard
		PolyscopeVersion(context.Context) (robot.Version, error)
	})
	ctx := context.Background()

	_, err := dash.PolyscopeVersion(ctx)
	assert.Error(t, err, "needs a connection")

	require.NoError(t, dash.Connect(ctx))
	v, err := dash.PolyscopeVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, v.Major)
	assert.Equal(t, 11, v.Minor)
}
