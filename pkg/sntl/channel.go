// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
// Package sntl emulates SCSI commands on NVMe devices.
package sntl

import (
	"fmt"
	"nvmesntl/pkg/logger"
	"nvmesntl/pkg/nvme"
	"nvmesntl/pkg/scsi"
	"strings"
	"sync"
	"time"
)

const DefaultTimeout = 60 * time.Second

// EnclosureOverride forces the peripheral device type reported for a
// controller regardless of its NVM subsystem report.
type EnclosureOverride byte

const (
	OverrideNone        EnclosureOverride = 0x00
	OverrideSes         EnclosureOverride = 0x01
	OverrideDiskWithSes EnclosureOverride = 0x02
	OverrideSafte       EnclosureOverride = 0x03
	OverrideNormalDisk  EnclosureOverride = 0xff
)

var enclosureOverrideNames = map[EnclosureOverride]string{
	OverrideNone:        "none",
	OverrideSes:         "ses",
	OverrideDiskWithSes: "disk-with-ses",
	OverrideSafte:       "safte",
	OverrideNormalDisk:  "normal-disk",
}

func (override EnclosureOverride) String() string {
	if name, ok := enclosureOverrideNames[override]; ok {
		return name
	}
	return fmt.Sprintf("unknown(0x%02x)", byte(override))
}

func (override EnclosureOverride) valid() bool {
	_, ok := enclosureOverrideNames[override]
	return ok
}

func ParseEnclosureOverride(name string) (EnclosureOverride, error) {
	for override, overrideName := range enclosureOverrideNames {
		if strings.EqualFold(name, overrideName) {
			return override, nil
		}
	}
	if name == "" {
		return OverrideNone, nil
	}
	return OverrideNone, fmt.Errorf("unknown enclosure override %q", name)
}

type identifyState int

const (
	identifyUncached identifyState = iota
	identifyCached
)

type ChannelConfig struct {
	// DenseSense selects descriptor format sense
	DenseSense        bool
	EnclosureOverride EnclosureOverride
}

// Channel is the translation state of one open NVMe device.
type Channel struct {
	mutex       sync.Mutex
	submitter   nvme.Submitter
	namespaceId uint32

	state    identifyState
	identify nvme.IdentifyController

	override             EnclosureOverride
	peripheralDeviceType byte
	enclosureServices    bool
	denseSense           bool
	writeCacheEnabled    bool
}

// NewChannel binds a submitter to a namespace. Namespace 0 addresses
// the controller only.
func NewChannel(submitter nvme.Submitter, namespaceId uint32, config ChannelConfig) *Channel {
	channel := &Channel{
		submitter:   submitter,
		namespaceId: namespaceId,
		state:       identifyUncached,
		override:    config.EnclosureOverride,
		denseSense:  config.DenseSense,
	}
	channel.applyEnclosureOverride()
	return channel
}

func (channel *Channel) NamespaceId() uint32 {
	return channel.namespaceId
}

func (channel *Channel) DenseSense() bool {
	channel.mutex.Lock()
	defer channel.mutex.Unlock()
	return channel.denseSense
}

func (channel *Channel) SetDenseSense(denseSense bool) {
	channel.mutex.Lock()
	defer channel.mutex.Unlock()
	channel.denseSense = denseSense
}

func (channel *Channel) PeripheralDeviceType() byte {
	channel.mutex.Lock()
	defer channel.mutex.Unlock()
	return channel.peripheralDeviceType
}

func (channel *Channel) EnclosureServices() bool {
	channel.mutex.Lock()
	defer channel.mutex.Unlock()
	return channel.enclosureServices
}

func (channel *Channel) EnclosureOverride() EnclosureOverride {
	channel.mutex.Lock()
	defer channel.mutex.Unlock()
	return channel.override
}

// SetEnclosureOverride changes the policy and recomputes the derived
// peripheral device type and enclosure services bit.
func (channel *Channel) SetEnclosureOverride(override EnclosureOverride) {
	channel.mutex.Lock()
	defer channel.mutex.Unlock()
	channel.setEnclosureOverride(override)
}

func (channel *Channel) setEnclosureOverride(override EnclosureOverride) {
	channel.override = override
	channel.applyEnclosureOverride()
}

// IdentifyController returns the cached page, false before the first fetch.
func (channel *Channel) IdentifyController() (nvme.IdentifyController, bool) {
	channel.mutex.Lock()
	defer channel.mutex.Unlock()
	return channel.identify, channel.state == identifyCached
}

// EnsureIdentifyCached fetches Identify Controller once per channel.
// A device failure is returned as *common.NvmeStatusError.
func (channel *Channel) EnsureIdentifyCached(timeout time.Duration) error {
	channel.mutex.Lock()
	defer channel.mutex.Unlock()
	_, err := channel.ensureIdentifyCached(timeout)
	var status *deviceStatus
	if asDeviceStatus(err, &status) {
		return status.nvmeStatusError()
	}
	return err
}

func (channel *Channel) ensureIdentifyCached(timeout time.Duration) (nvme.IdentifyController, error) {
	if channel.state == identifyCached {
		return channel.identify, nil
	}
	log := logger.GetLogger()
	data := make([]byte, nvme.IdentifyDataLength)
	command := nvme.NewIdentifyCommand(nvme.CnsController, 0)
	completion, err := channel.submitter.SubmitNVMe(command, data, true, timeoutOrDefault(timeout))
	if err != nil {
		return nil, localFailure("identify controller", err)
	}
	if completion.Status() != nvme.StatusSuccess {
		log.Warnf("identify controller failed: %s", nvme.StatusString(completion.Status()))
		return nil, &deviceStatus{completion}
	}
	channel.cacheIdentify(data)
	return channel.identify, nil
}

// cacheIdentify is the only transition into the cached state.
func (channel *Channel) cacheIdentify(data []byte) {
	channel.identify = nvme.IdentifyController(data)
	channel.state = identifyCached
	channel.writeCacheEnabled = channel.identify.VolatileWriteCache()
	channel.applyEnclosureOverride()
}

// applyEnclosureOverride derives the peripheral device type and the
// ENCSERV bit from NVMSR (Identify byte 253) and the override policy.
func (channel *Channel) applyEnclosureOverride() {
	switch channel.override {
	case OverrideSes:
		channel.peripheralDeviceType = scsi.PeripheralDeviceTypeEnclosure
		channel.enclosureServices = true
		return
	case OverrideDiskWithSes:
		channel.peripheralDeviceType = scsi.PeripheralDeviceTypeDisk
		channel.enclosureServices = true
		return
	case OverrideSafte:
		channel.peripheralDeviceType = scsi.PeripheralDeviceTypeProcessor
		channel.enclosureServices = true
		return
	case OverrideNormalDisk:
		channel.peripheralDeviceType = scsi.PeripheralDeviceTypeDisk
		channel.enclosureServices = false
		return
	}
	channel.peripheralDeviceType = scsi.PeripheralDeviceTypeDisk
	channel.enclosureServices = false
	if channel.state != identifyCached {
		return
	}
	report := channel.identify.SubsystemReport()
	switch {
	case report&(nvme.NvmsrStorageDevice|nvme.NvmsrEnclosure) == nvme.NvmsrStorageDevice|nvme.NvmsrEnclosure:
		channel.enclosureServices = true
	case report&nvme.NvmsrEnclosure != 0:
		channel.peripheralDeviceType = scsi.PeripheralDeviceTypeEnclosure
		channel.enclosureServices = true
	case report&nvme.NvmsrStorageDevice != 0:
	default:
		if channel.identify.MaxNamespaces() == 0 {
			channel.peripheralDeviceType = scsi.PeripheralDeviceTypeUnknown
		}
	}
}

// Close drops the cached Identify page.
func (channel *Channel) Close() {
	channel.mutex.Lock()
	defer channel.mutex.Unlock()
	channel.identify = nil
	channel.state = identifyUncached
	channel.applyEnclosureOverride()
}

func timeoutOrDefault(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return DefaultTimeout
	}
	return timeout
}
