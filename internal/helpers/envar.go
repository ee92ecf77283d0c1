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

// Package helpers holds small process-level utilities shared by commands.
package helpers

import (
	"os"
	"strings"
)

// GetBoolEnv reads a boolean switch such as ENABLE_OTLP_TELEMETRY. Unset
// or blank gives defaultValue; an unrecognised non-empty value counts as
// true.
func GetBoolEnv(envVar string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(envVar))) {
	case "":
		return defaultValue
	case "false", "0", "no", "off", "disable", "disabled":
		return false
	default:
		return true
	}
}

// AnyEnvSet reports whether any of the named variables is non-empty.
func AnyEnvSet(names ...string) bool {
	for _, n := range names {
		if os.Getenv(n) != "" {
			return true
		}
	}
	return false
}
