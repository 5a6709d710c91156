// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
//go:build !linux

package transport

import (
	"nvmesntl/pkg/common"
	"runtime"

	"github.com/pkg/errors"
)

// Open has no operating system pass-through outside Linux.
func Open(path string, readOnly bool) (Device, error) {
	return nil, errors.Wrapf(common.ErrNotSupported, "pass-through to %s on %s", path, runtime.GOOS)
}
