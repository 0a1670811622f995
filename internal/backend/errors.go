// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package backend

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an operation targets an id that does not
// exist in the collection.
var ErrNotFound = errors.New("record not found")

// ValidationError marks malformed caller input, for example an unparseable
// date bound. It is raised immediately and never degraded to an empty
// result set.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// BackendError wraps a storage engine failure. Retries are caller policy;
// the backends never retry silently.
type BackendError struct {
	Engine string
	Op     string
	Err    error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Engine, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// WrapErr builds a BackendError unless err is nil.
func WrapErr(engine, op string, err error) error {
	if err == nil {
		return nil
	}
	return &BackendError{Engine: engine, Op: op, Err: err}
}
