// Package window defines the capability the host windowing system provides to
// the command surface. Nothing in the completion path depends on it.
package window

import "errors"

// ErrNotAttached is returned by hosts that currently have no window to act on.
var ErrNotAttached = errors.New("no window attached")

// Controller is implemented by the host windowing system.
type Controller interface {
	Minimize() error
	Close() error
}

// Minimize delegates to c. A nil controller reports ErrNotAttached.
func Minimize(c Controller) error {
	if c == nil {
		return ErrNotAttached
	}
	return c.Minimize()
}

// Close delegates to c. A nil controller reports ErrNotAttached.
func Close(c Controller) error {
	if c == nil {
		return ErrNotAttached
	}
	return c.Close()
}
