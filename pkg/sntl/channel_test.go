// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package sntl

import (
	"nvmesntl/pkg/common"
	"nvmesntl/pkg/nvme"
	"nvmesntl/pkg/scsi"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentifyFetchedOncePerChannel(t *testing.T) {
	fake := newFakeSubmitter()
	channel := NewChannel(fake, 1, ChannelConfig{})
	_, cached := channel.IdentifyController()
	require.False(t, cached)

	requests := []testRequest{
		{cdb: []byte{0x12, 0x00, 0x00, 0x00, 0x24, 0x00}, dataIn: 36},
		{cdb: []byte{0xa0, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00}, dataIn: 256},
		{cdb: []byte{0x12, 0x01, 0x80, 0x00, 0xff, 0x00}, dataIn: 255},
		{cdb: []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00}},
	}
	for _, request := range requests {
		response, _ := execute(t, channel, request)
		require.Equal(t, scsi.StatusGood, response.Status, "cdb % x", request.cdb)
	}
	assert.Equal(t, 1, fake.identifyControllerCount())
	identify, cached := channel.IdentifyController()
	require.True(t, cached)
	assert.Equal(t, "TESTMODEL", scsi.TrimField(identify.ModelNumber()))

	require.NoError(t, channel.EnsureIdentifyCached(0))
	assert.Equal(t, 1, fake.identifyControllerCount())
}

func TestIdentifyFailureLeavesChannelUncached(t *testing.T) {
	fake := newFakeSubmitter()
	fake.statuses[opcodeKey{true, nvme.AdminIdentify}] = nvme.StatusInternalError
	channel := NewChannel(fake, 1, ChannelConfig{})

	err := channel.EnsureIdentifyCached(0)
	var statusError *common.NvmeStatusError
	require.True(t, errors.As(err, &statusError), "%v", err)
	assert.Equal(t, nvme.StatusInternalError, statusError.Status)
	_, cached := channel.IdentifyController()
	assert.False(t, cached)

	delete(fake.statuses, opcodeKey{true, nvme.AdminIdentify})
	require.NoError(t, channel.EnsureIdentifyCached(0))
	assert.Equal(t, 2, fake.identifyControllerCount())
}

func TestCloseDropsIdentify(t *testing.T) {
	fake := newFakeSubmitter()
	channel := NewChannel(fake, 1, ChannelConfig{})
	require.NoError(t, channel.EnsureIdentifyCached(0))
	channel.Close()
	_, cached := channel.IdentifyController()
	assert.False(t, cached)
	require.NoError(t, channel.EnsureIdentifyCached(0))
	assert.Equal(t, 2, fake.identifyControllerCount())
}

func TestEnclosureOverride(t *testing.T) {
	tests := []struct {
		desc              string
		override          EnclosureOverride
		subsystemReport   byte
		maxNamespaces     uint32
		deviceType        byte
		enclosureServices bool
	}{
		{"ses", OverrideSes, 0, 4, scsi.PeripheralDeviceTypeEnclosure, true},
		{"disk with ses", OverrideDiskWithSes, 0, 4, scsi.PeripheralDeviceTypeDisk, true},
		{"safte", OverrideSafte, 0, 4, scsi.PeripheralDeviceTypeProcessor, true},
		{"normal disk ignores nvmsr", OverrideNormalDisk, 0x03, 4, scsi.PeripheralDeviceTypeDisk, false},
		{"storage device and enclosure", OverrideNone, 0x03, 4, scsi.PeripheralDeviceTypeDisk, true},
		{"enclosure only", OverrideNone, 0x02, 4, scsi.PeripheralDeviceTypeEnclosure, true},
		{"storage device only", OverrideNone, 0x01, 4, scsi.PeripheralDeviceTypeDisk, false},
		{"no report with namespaces", OverrideNone, 0x00, 4, scsi.PeripheralDeviceTypeDisk, false},
		{"no report without namespaces", OverrideNone, 0x00, 0, scsi.PeripheralDeviceTypeUnknown, false},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			fake := newFakeSubmitter()
			info := testControllerInfo()
			info.SubsystemReport = test.subsystemReport
			info.MaxNamespaces = test.maxNamespaces
			fake.controller = info.Marshal()
			channel := NewChannel(fake, 1, ChannelConfig{EnclosureOverride: test.override})
			require.NoError(t, channel.EnsureIdentifyCached(0))
			assert.Equal(t, test.deviceType, channel.PeripheralDeviceType())
			assert.Equal(t, test.enclosureServices, channel.EnclosureServices())
		})
	}
}

func TestSetEnclosureOverrideRecomputes(t *testing.T) {
	fake := newFakeSubmitter()
	info := testControllerInfo()
	info.SubsystemReport = nvme.NvmsrStorageDevice
	fake.controller = info.Marshal()
	channel := NewChannel(fake, 1, ChannelConfig{})
	require.NoError(t, channel.EnsureIdentifyCached(0))
	require.Equal(t, scsi.PeripheralDeviceTypeDisk, channel.PeripheralDeviceType())
	require.False(t, channel.EnclosureServices())

	channel.SetEnclosureOverride(OverrideSes)
	assert.Equal(t, scsi.PeripheralDeviceTypeEnclosure, channel.PeripheralDeviceType())
	assert.True(t, channel.EnclosureServices())

	channel.SetEnclosureOverride(OverrideNone)
	assert.Equal(t, scsi.PeripheralDeviceTypeDisk, channel.PeripheralDeviceType())
	assert.False(t, channel.EnclosureServices())
	assert.Equal(t, 1, fake.identifyControllerCount())
}

func TestParseEnclosureOverride(t *testing.T) {
	for override, name := range enclosureOverrideNames {
		parsed, err := ParseEnclosureOverride(name)
		require.NoError(t, err)
		assert.Equal(t, override, parsed)
		assert.Equal(t, name, override.String())
	}
	parsed, err := ParseEnclosureOverride("")
	require.NoError(t, err)
	assert.Equal(t, OverrideNone, parsed)
	_, err = ParseEnclosureOverride("jbod")
	assert.Error(t, err)
	assert.Equal(t, "unknown(0x07)", EnclosureOverride(7).String())
}
