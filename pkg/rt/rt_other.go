//go:build !linux

package rt

func setFIFO(int) error { return ErrUnsupported }

func setNormal() error { return nil }

func lockMemory() error { return ErrUnsupported }
