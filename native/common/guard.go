package common

import "errors"

var ErrModulePaused = errors.New("module paused")

// ErrUnauthorized is returned when the authorization oracle rejects a caller.
var ErrUnauthorized = errors.New("unauthorized")

// PauseView answers whether a module is currently paused. Engines consult it
// at the top of every public operation.
type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
