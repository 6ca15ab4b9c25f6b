package common

import (
	"errors"
	"fmt"
)

var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a named action is currently paused.
type PauseView interface {
	IsPaused(action string) bool
}

func Guard(p PauseView, action string) error {
	if p == nil || action == "" {
		return nil
	}
	if p.IsPaused(action) {
		return fmt.Errorf("%w: %s", ErrModulePaused, action)
	}
	return nil
}
