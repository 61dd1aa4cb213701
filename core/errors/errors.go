// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package errors

import (
	"github.com/juju/errors"
)

const (
	// HardwareUnavailable describes a reader or barcode device handle that
	// could not be obtained or initialised.
	HardwareUnavailable = errors.ConstError("hardware unavailable")

	// NotConnected describes an operation that requires a connected reader.
	NotConnected = errors.ConstError("reader not connected")

	// SessionConflict describes an operation refused because another
	// exclusive session holds the reader.
	SessionConflict = errors.ConstError("session conflict")

	// ShutdownTimeout describes a worker that did not stop within its
	// bounded wait.
	ShutdownTimeout = errors.ConstError("shutdown timeout")
)

// InvalidArgument describes a rejected argument. It is the same value as
// errors.NotValid so that errors.NotValidf results satisfy errors.Is.
var InvalidArgument = errors.NotValid
