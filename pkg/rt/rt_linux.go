//go:build linux

package rt

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func setFIFO(priority int) error {
	attr := &unix.SchedAttr{
		Policy:   unix.SCHED_FIFO,
		Priority: uint32(priority),
	}
	if err := unix.SchedSetAttr(0, attr, 0); err != nil {
		return fmt.Errorf("rt: set SCHED_FIFO priority %d: %w", priority, err)
	}
	return nil
}

func setNormal() error {
	if err := unix.SchedSetAttr(0, &unix.SchedAttr{Policy: unix.SCHED_NORMAL}, 0); err != nil {
		return fmt.Errorf("rt: restore SCHED_OTHER: %w", err)
	}
	return nil
}

func lockMemory() error {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		return fmt.Errorf("rt: mlockall: %w", err)
	}
	return nil
}
