// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package transport

import (
	"path/filepath"
	"regexp"
	"strings"
)

var (
	nvmeControllerName = regexp.MustCompile(`^nvme[0-9]+$`)
	nvmeNamespaceName  = regexp.MustCompile(`^(nvme|ng)[0-9]+n[0-9]+$`)
	scsiGenericName    = regexp.MustCompile(`^sg[0-9]+$`)
	scsiDiskName       = regexp.MustCompile(`^sd[a-z]+$`)
)

// ClassifyPath guesses the device kind from a device node path.
// Partitions are not pass-through devices and stay unknown.
func ClassifyPath(path string) DeviceKind {
	clean := filepath.Clean(path)
	name := filepath.Base(clean)
	switch {
	case strings.HasPrefix(clean, "/dev/bsg/"):
		return KindScsiPassthroughSecondary
	case nvmeControllerName.MatchString(name):
		return KindNvmeController
	case nvmeNamespaceName.MatchString(name):
		return KindNvmeNamespace
	case scsiGenericName.MatchString(name), scsiDiskName.MatchString(name):
		return KindScsiPrimary
	}
	return KindUnknown
}

// ClassifyLink classifies the node a path points to, so udev aliases
// such as /dev/disk/by-id/nvme-... resolve to their nvme0n1 target.
// Paths that cannot be resolved are classified by name.
func ClassifyLink(path string) DeviceKind {
	if kind := ClassifyPath(path); kind != KindUnknown {
		return kind
	}
	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		return KindUnknown
	}
	return ClassifyPath(target)
}
