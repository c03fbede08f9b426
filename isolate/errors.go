// Copyright 2015 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package isolate

import (
	"fmt"

	"github.com/pkg/errors"
)

// ConfigError covers every malformed-input condition detected while
// parsing, merging, or resolving an isolate file: bad literal syntax,
// unknown keys, duplicate commands, unresolved path variables, and paths
// escaping root_dir. All ConfigErrors are fatal.
type ConfigError struct {
	cause error
}

func (e *ConfigError) Error() string { return e.cause.Error() }
func (e *ConfigError) Cause() error  { return e.cause }
func (e *ConfigError) Unwrap() error { return e.cause }

func newConfigError(format string, args ...interface{}) *ConfigError {
	return &ConfigError{cause: errors.Errorf(format, args...)}
}

func wrapConfigError(err error, context string) *ConfigError {
	return &ConfigError{cause: errors.Wrap(err, context)}
}

// ExecutionError covers prerequisites that were present at config-resolve
// time but missing by the time they were needed, e.g. a file that
// disappeared between hashing and archiving.
type ExecutionError struct {
	cause error
}

func (e *ExecutionError) Error() string { return e.cause.Error() }
func (e *ExecutionError) Cause() error  { return e.cause }
func (e *ExecutionError) Unwrap() error { return e.cause }

func newExecutionError(format string, args ...interface{}) *ExecutionError {
	return &ExecutionError{cause: fmt.Errorf(format, args...)}
}

// IsConfigError reports whether err is (or wraps) a *ConfigError.
func IsConfigError(err error) bool {
	_, ok := errors.Cause(err).(*ConfigError)
	if ok {
		return true
	}
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsExecutionError reports whether err is (or wraps) an *ExecutionError.
func IsExecutionError(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}

// ErrStateStale marks a sidecar .isolated.state file that is unreadable or
// carries an incompatible version. LoadSavedState returns it, and
// isolateOneTree treats it as "no prior state" rather than as a failure.
var ErrStateStale = fmt.Errorf("isolate: saved state is stale")
