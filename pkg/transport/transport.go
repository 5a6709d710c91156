// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
// Package transport issues SCSI and NVMe pass-through commands to
// operating system devices.
package transport

import (
	"nvmesntl/pkg/nvme"
	"time"
)

type DeviceKind int

const (
	KindUnknown DeviceKind = iota
	// KindScsiPrimary is a SCSI generic or disk node
	KindScsiPrimary
	// KindScsiPassthroughSecondary is a bsg node
	KindScsiPassthroughSecondary
	// KindNvmeController is an NVMe controller without a namespace
	KindNvmeController
	KindNvmeNamespace
)

var deviceKindNames = map[DeviceKind]string{
	KindUnknown:                  "unknown",
	KindScsiPrimary:              "scsi",
	KindScsiPassthroughSecondary: "scsi-secondary",
	KindNvmeController:           "nvme-controller",
	KindNvmeNamespace:            "nvme-namespace",
}

func (kind DeviceKind) String() string {
	if name, ok := deviceKindNames[kind]; ok {
		return name
	}
	return deviceKindNames[KindUnknown]
}

func (kind DeviceKind) IsNvme() bool {
	return kind == KindNvmeController || kind == KindNvmeNamespace
}

// ScsiRequest is one SCSI command for a SCSI device. At most one of
// DataIn and DataOut is used.
type ScsiRequest struct {
	CDB     []byte
	DataIn  []byte
	DataOut []byte
	Sense   []byte
	Timeout time.Duration
}

// ScsiResult is what the host adapter reported for a SCSI command.
type ScsiResult struct {
	Status       byte
	SenseLength  int
	Residual     int
	HostStatus   uint16
	DriverStatus uint16
	Duration     time.Duration
}

// TransportFailed reports a host adapter or driver failure. The SCSI
// status is meaningless then.
func (result ScsiResult) TransportFailed() bool {
	const driverSense = uint16(0x08)
	return result.HostStatus != 0 || result.DriverStatus&^driverSense != 0
}

// Device is one open pass-through device.
type Device interface {
	nvme.Submitter
	// SubmitSCSI sends a CDB to a SCSI device. NVMe devices answer
	// with common.ErrNotSupported.
	SubmitSCSI(request *ScsiRequest) (ScsiResult, error)
	Kind() DeviceKind
	// NamespaceId is 0 for controllers and SCSI devices.
	NamespaceId() uint32
	Path() string
	Close() error
}
