// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import "errors"

// errWorkerStopped matches any error returned when a queue worker stops
// because the process was asked to exit.
var errWorkerStopped = errors.New("worker stopped")

type stopError struct {
	reason string
}

func (e stopError) Error() string {
	if e.reason == "" {
		return errWorkerStopped.Error()
	}
	return errWorkerStopped.Error() + ": " + e.reason
}

func (e stopError) Is(target error) bool {
	return target == errWorkerStopped
}

// exitCodeError ends a one-shot command with a specific exit status.
type exitCodeError struct {
	code int
	msg  string
}

func (e exitCodeError) Error() string {
	return e.msg
}
