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

// Package pipelineerr holds the error taxonomy shared by the transformation
// pipeline stages. Each type is a value type so that errors.As works against
// both wrapped and unwrapped forms.
package pipelineerr

import (
	"errors"
	"fmt"
)

// AlignmentError indicates that the requested collections disagree on their
// entry counts, or that a requested collection or field does not exist.
type AlignmentError struct {
	Collection string
	Reason     string
	Err        error
}

func (e AlignmentError) Error() string {
	msg := "alignment error"
	if e.Collection != "" {
		msg = fmt.Sprintf("alignment error in collection %q", e.Collection)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e AlignmentError) Unwrap() error { return e.Err }

// EncodingError indicates a chunk could not be encoded, most commonly
// because its schema differs from the first chunk of the same file.
type EncodingError struct {
	Reason string
	Err    error
}

func (e EncodingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("encoding error: %s: %v", e.Reason, e.Err)
	}
	return "encoding error: " + e.Reason
}

func (e EncodingError) Unwrap() error { return e.Err }

// PublishError indicates a sink (bus or object store) rejected the data.
type PublishError struct {
	Sink string
	Err  error
}

func (e PublishError) Error() string {
	return fmt.Sprintf("publish to %s sink failed: %v", e.Sink, e.Err)
}

func (e PublishError) Unwrap() error { return e.Err }

// ConfigurationError is raised before any work is consumed when the
// configuration or a column request cannot be used.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
	}
	return "configuration error: " + e.Reason
}

// NewAlignment creates an AlignmentError.
func NewAlignment(collection, reason string) error {
	return AlignmentError{Collection: collection, Reason: reason}
}

// NewEncoding creates an EncodingError.
func NewEncoding(reason string, err error) error {
	return EncodingError{Reason: reason, Err: err}
}

// NewPublish creates a PublishError for the named sink.
func NewPublish(sink string, err error) error {
	return PublishError{Sink: sink, Err: err}
}

// NewConfiguration creates a ConfigurationError.
func NewConfiguration(field, reason string) error {
	return ConfigurationError{Field: field, Reason: reason}
}

func IsAlignment(err error) bool {
	var e AlignmentError
	return errors.As(err, &e)
}

func IsEncoding(err error) bool {
	var e EncodingError
	return errors.As(err, &e)
}

func IsPublish(err error) bool {
	var e PublishError
	return errors.As(err, &e)
}

func IsConfiguration(err error) bool {
	var e ConfigurationError
	return errors.As(err, &e)
}
