// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
// Package passthru is the pass-through object API. SCSI commands sent to
// NVMe devices are emulated through the translation layer; everything
// else reaches the device unmodified.
package passthru

import (
	"nvmesntl/pkg/journal"
	"nvmesntl/pkg/logger"
	"nvmesntl/pkg/sntl"
	"nvmesntl/pkg/transport"
	"nvmesntl/pkg/transport/simulated"

	uuid "github.com/satori/go.uuid"
)

// Options control how a device is opened.
type Options struct {
	ReadOnly          bool
	DenseSense        bool
	EnclosureOverride sntl.EnclosureOverride
	// Simulated configures the controller behind "sim:" paths
	Simulated simulated.Config
}

// Recorder receives every executed command, see journal.Journal.
type Recorder interface {
	Record(entry journal.Entry) error
}

// Device is one open device. NVMe devices carry a translation channel.
type Device struct {
	handle    uuid.UUID
	transport transport.Device
	channel   *sntl.Channel
	recorder  Recorder
}

func openTransport(path string, options Options) (transport.Device, error) {
	if simulated.IsSimulatedPath(path) {
		device, err := simulated.Open(path, options.Simulated)
		if err != nil {
			return nil, err
		}
		return device, nil
	}
	return transport.Open(path, options.ReadOnly)
}

// Open opens path and classifies it.
func Open(path string, options Options) (*Device, error) {
	opened, err := openTransport(path, options)
	if err != nil {
		return nil, err
	}
	return NewDevice(opened, options), nil
}

// NewDevice wraps an already open transport.
func NewDevice(opened transport.Device, options Options) *Device {
	device := &Device{
		handle:    uuid.NewV4(),
		transport: opened,
	}
	if opened.Kind().IsNvme() {
		device.channel = sntl.NewChannel(opened, opened.NamespaceId(), sntl.ChannelConfig{
			DenseSense:        options.DenseSense,
			EnclosureOverride: options.EnclosureOverride,
		})
	}
	logger.GetLogger().Infof("device %s opened as %s, handle %s", opened.Path(), opened.Kind(), device.handle)
	return device
}

func (device *Device) Handle() uuid.UUID {
	return device.handle
}

func (device *Device) Path() string {
	return device.transport.Path()
}

func (device *Device) Kind() transport.DeviceKind {
	return device.transport.Kind()
}

func (device *Device) IsNvme() bool {
	return device.channel != nil
}

// Channel is the translation state, nil for SCSI devices.
func (device *Device) Channel() *sntl.Channel {
	return device.channel
}

func (device *Device) SetRecorder(recorder Recorder) {
	device.recorder = recorder
}

// Close drops the cached Identify data and closes the device node.
func (device *Device) Close() error {
	if device.channel != nil {
		device.channel.Close()
	}
	return device.transport.Close()
}
