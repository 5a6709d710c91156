// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package common

import (
	"fmt"
	"runtime"
	"syscall"

	"github.com/pkg/errors"
)

var (
	ErrBadParams      = errors.New("invalid pass-through parameters")
	ErrTimeout        = errors.New("command timed out")
	ErrTooManyDevices = errors.New("too many open devices")
	ErrUnknownHandle  = errors.New("unknown device handle")
	ErrNotSupported   = errors.New("not supported by this device")
)

// OsError is a local failure (open, ioctl, allocation). It is never
// produced from a device reported status.
type OsError struct {
	Op    string
	Path  string
	Errno syscall.Errno
}

func (err *OsError) Error() string {
	if err.Path == "" {
		return fmt.Sprintf("%s: %v", err.Op, err.Errno)
	}
	return fmt.Sprintf("%s %s: %v", err.Op, err.Path, err.Errno)
}

func (err *OsError) Unwrap() error {
	return err.Errno
}

// NewOsError wraps err into an *OsError. Errors without an errno in
// their chain are reported as EIO.
func NewOsError(op, path string, err error) *OsError {
	var osErr *OsError
	if errors.As(err, &osErr) {
		return osErr
	}
	errno := syscall.EIO
	var cause syscall.Errno
	if errors.As(err, &cause) {
		errno = cause
	}
	return &OsError{Op: op, Path: path, Errno: errno}
}

// NvmeStatusError is a non-zero completion status of a raw NVMe command.
type NvmeStatusError struct {
	// Status is packed as SCT<<8 | SC
	Status     uint16
	DoNotRetry bool
	More       bool
}

func (err *NvmeStatusError) Error() string {
	message := fmt.Sprintf(
		"NVMe status: SCT=0x%x SC=0x%02x",
		(err.Status>>8)&0x7,
		err.Status&0xff,
	)
	if err.DoNotRetry {
		message += " DNR"
	}
	if err.More {
		message += " MORE"
	}
	return message
}

func GetTraceInfo() string {
	pc, fileName, fileLine, ok := runtime.Caller(2)
	details := runtime.FuncForPC(pc)
	if ok && details != nil {
		return fmt.Sprintf("func %s() at %s:%d", details.Name(), fileName, fileLine)
	}
	return ""
}
