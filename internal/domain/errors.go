// SPDX-License-Identifier: Apache-2.0

package domain

import "errors"

// State conflicts. Messages match what capture contexts and the control CLI display.
var ErrAlreadyRecording = errors.New("Already recording")
var ErrNotRecording = errors.New("No recording in progress")
var ErrNoActiveTab = errors.New("No active tab")

var ErrInvalidEvent = errors.New("invalid event")
var ErrTabNotFound = errors.New("tab not found")
var ErrWindowNotFound = errors.New("window not found")

// IsStateConflict reports whether err is a start/stop conflict.
func IsStateConflict(err error) bool {
	return errors.Is(err, ErrAlreadyRecording) || errors.Is(err, ErrNotRecording)
}
