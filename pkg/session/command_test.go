package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/urforce/pkg/robot"
)

func TestMotionModeCommand_Encode(t *testing.T) {
	cmd := CommandFromConfig(robot.DefaultConfig().ForceMode)

	tests := []struct {
		name      string
		version   robot.Version
		wantArity int
	}{
		{"major 3", robot.Version{Major: 3, Minor: 15}, 6},
		{"major 4", robot.Version{Major: 4}, 6},
		{"major 5", robot.Version{Major: 5, Minor: 3}, 7},
		{"major 6", robot.Version{Major: 6}, 7},
		{"major 10", robot.Version{Major: 10, Minor: 1}, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := cmd.Encode(tt.version)
			assert.Equal(t, tt.wantArity, req.Arity())

			assert.Equal(t, cmd.TaskFrame, req.TaskFrame)
			assert.Equal(t, cmd.Selection, req.Selection)
			assert.Equal(t, cmd.Wrench, req.Wrench)
			assert.Equal(t, cmd.FrameMode, req.FrameMode)
			assert.Equal(t, cmd.Limits, req.Limits)
			assert.Equal(t, cmd.Damping, req.Damping)
		})
	}
}

func TestMotionModeCommand_GainScaling(t *testing.T) {
	cmd := CommandFromConfig(robot.DefaultConfig().ForceMode)

	req := cmd.Encode(robot.Version{Major: 5})
	require.NotNil(t, req.GainScaling)
	assert.Equal(t, robot.DefaultGainScaling, *req.GainScaling)

	gain := 0.5
	cmd.GainScaling = &gain
	req = cmd.Encode(robot.Version{Major: 5})
	require.NotNil(t, req.GainScaling)
	assert.Equal(t, 0.5, *req.GainScaling)

	req = cmd.Encode(robot.Version{Major: 4})
	assert.Nil(t, req.GainScaling, "gain scaling is dropped for older controllers")
}
