// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package sntl

import (
	"nvmesntl/pkg/nvme"
	"nvmesntl/pkg/scsi"
	"nvmesntl/pkg/wire"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func modeSenseCdb(pageControl, pageCode, subPageCode byte) []byte {
	cdb := make([]byte, 10)
	cdb[0] = 0x5a
	cdb[2] = pageControl<<6 | pageCode
	cdb[3] = subPageCode
	wire.PutBe16(1024, cdb, 7)
	return cdb
}

func modeSelectCdb(parameterListLength int) []byte {
	cdb := make([]byte, 10)
	cdb[0] = 0x55
	cdb[1] = 0x10
	wire.PutBe16(uint16(parameterListLength), cdb, 7)
	return cdb
}

// parsePages splits MODE SENSE(10) data into pages keyed by page code.
func parsePages(t *testing.T, data []byte) map[byte][]byte {
	require.GreaterOrEqual(t, len(data), 8)
	require.Equal(t, len(data)-2, int(wire.GetBe16(data, 0)))
	pages := map[byte][]byte{}
	for offset := 8; offset < len(data); {
		length := int(data[offset+1])
		pages[data[offset]&0x3f] = data[offset+2 : offset+2+length]
		offset += 2 + length
	}
	return pages
}

func TestModeSenseAllPages(t *testing.T) {
	fake := newFakeSubmitter()
	fake.writeCache = 1
	channel := NewChannel(fake, 1, ChannelConfig{DenseSense: true, EnclosureOverride: OverrideSafte})
	response, request := execute(t, channel, testRequest{cdb: modeSenseCdb(0, 0x3f, 0), dataIn: 1024})
	require.Equal(t, scsi.StatusGood, response.Status)
	data := request.DataIn[:response.DataInLength]
	assert.Equal(t, byte(0x10), data[3])
	pages := parsePages(t, data)
	require.Len(t, pages, 4)
	assert.Equal(t, byte(OverrideSafte), pages[0x00][0])
	assert.Equal(t, byte(0x04), pages[0x08][0]&0x04)
	assert.Equal(t, byte(0x04), pages[0x0a][0]&0x04)
	assert.Len(t, pages[0x1c], 0x0a)
	assert.Equal(t, 1, fake.count(true, nvme.AdminGetFeatures))
}

func TestModeSenseChangeableValues(t *testing.T) {
	fake := newFakeSubmitter()
	channel := NewChannel(fake, 1, ChannelConfig{})
	response, request := execute(t, channel, testRequest{cdb: modeSenseCdb(1, 0x0a, 0), dataIn: 1024})
	require.Equal(t, scsi.StatusGood, response.Status)
	pages := parsePages(t, request.DataIn[:response.DataInLength])
	require.Len(t, pages, 1)
	assert.Equal(t, byte(0x04), pages[0x0a][0])
	assert.Zero(t, fake.count(true, nvme.AdminGetFeatures))
}

func TestModeSenseRejects(t *testing.T) {
	channel := NewChannel(newFakeSubmitter(), 1, ChannelConfig{})
	response, request := execute(t, channel, testRequest{cdb: modeSenseCdb(3, 0x08, 0), dataIn: 1024})
	sense := senseOf(t, response, request)
	assert.Equal(t, scsi.IllegalRequest, sense.Key)
	assert.Equal(t, scsi.AscSavingParmsUnsup, sense.Code)

	response, request = execute(t, channel, testRequest{cdb: modeSenseCdb(0, 0x19, 0), dataIn: 1024})
	requireInvalidField(t, response, request, true, 2, 5)

	response, request = execute(t, channel, testRequest{cdb: modeSenseCdb(0, 0x3f, 0x01), dataIn: 1024})
	requireInvalidField(t, response, request, true, 3, 7)
}

func TestModeSelectEnclosureOverride(t *testing.T) {
	fake := newFakeSubmitter()
	channel := NewChannel(fake, 1, ChannelConfig{})
	response, request := execute(t, channel, testRequest{cdb: inquiryCdb(false, 0, 36), dataIn: 36})
	require.Equal(t, scsi.StatusGood, response.Status)
	require.Equal(t, scsi.PeripheralDeviceTypeDisk, request.DataIn[0])

	parameters := []byte{
		0, 0, 0, 0, 0, 0, 0, 0,
		0x00, 0x06, byte(OverrideSes), 0, 0, 0, 0, 0,
	}
	response, _ = execute(t, channel, testRequest{cdb: modeSelectCdb(len(parameters)), dataOut: parameters})
	require.Equal(t, scsi.StatusGood, response.Status)
	assert.Equal(t, len(parameters), response.DataOutLength)
	assert.Equal(t, OverrideSes, channel.EnclosureOverride())
	assert.Equal(t, scsi.PeripheralDeviceTypeEnclosure, channel.PeripheralDeviceType())
	assert.True(t, channel.EnclosureServices())

	response, request = execute(t, channel, testRequest{cdb: inquiryCdb(false, 0, 36), dataIn: 36})
	require.Equal(t, scsi.StatusGood, response.Status)
	assert.Equal(t, scsi.PeripheralDeviceTypeEnclosure, request.DataIn[0])
	assert.Equal(t, byte(0x40), request.DataIn[6])
	assert.Equal(t, 1, fake.identifyControllerCount())
}

func TestModeSelectDescriptorSense(t *testing.T) {
	channel := NewChannel(newFakeSubmitter(), 1, ChannelConfig{})
	parameters := make([]byte, 8+2+0x0a)
	parameters[8] = 0x0a
	parameters[9] = 0x0a
	parameters[10] = 0x04
	response, _ := execute(t, channel, testRequest{cdb: modeSelectCdb(len(parameters)), dataOut: parameters})
	require.Equal(t, scsi.StatusGood, response.Status)
	assert.True(t, channel.DenseSense())

	// later sense comes in descriptor format
	response, request := execute(t, channel, testRequest{cdb: []byte{0xff, 0, 0, 0, 0, 0}})
	sense := senseOf(t, response, request)
	assert.True(t, sense.Descriptor)
}

func TestModeSelectWriteCache(t *testing.T) {
	fake := newFakeSubmitter()
	channel := NewChannel(fake, 1, ChannelConfig{})
	parameters := make([]byte, 8+2+0x12)
	parameters[8] = 0x08
	parameters[9] = 0x12
	parameters[10] = 0x04
	response, _ := execute(t, channel, testRequest{cdb: modeSelectCdb(len(parameters)), dataOut: parameters})
	require.Equal(t, scsi.StatusGood, response.Status)
	command := fake.last(t, true, nvme.AdminSetFeatures)
	assert.Equal(t, uint32(nvme.FeatureVolatileWriteCache), command.CDW10)
	assert.Equal(t, uint32(1), command.CDW11)
	assert.Equal(t, uint32(1), fake.writeCache)
}

func TestModeSelectRejects(t *testing.T) {
	tests := []struct {
		desc       string
		cdb        []byte
		parameters []byte
		inCdb      bool
		byteOffset uint16
		bitOffset  int
	}{
		{
			"save pages",
			[]byte{0x55, 0x11, 0, 0, 0, 0, 0, 0x00, 0x10, 0},
			make([]byte, 16),
			true, 1, 0,
		},
		{
			"page format clear",
			[]byte{0x55, 0x00, 0, 0, 0, 0, 0, 0x00, 0x10, 0},
			make([]byte, 16),
			true, 1, 4,
		},
		{
			"unknown page",
			modeSelectCdb(12),
			[]byte{0, 0, 0, 0, 0, 0, 0, 0, 0x19, 0x02, 0, 0},
			false, 8, 5,
		},
		{
			"bad override",
			modeSelectCdb(16),
			[]byte{0, 0, 0, 0, 0, 0, 0, 0, 0x00, 0x06, 0x07, 0, 0, 0, 0, 0},
			false, 10, -1,
		},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			channel := NewChannel(newFakeSubmitter(), 1, ChannelConfig{})
			response, request := execute(t, channel, testRequest{cdb: test.cdb, dataOut: test.parameters})
			requireInvalidField(t, response, request, test.inCdb, test.byteOffset, test.bitOffset)
			assert.Equal(t, OverrideNone, channel.EnclosureOverride())
		})
	}
}

func TestModeSelectParameterListLength(t *testing.T) {
	channel := NewChannel(newFakeSubmitter(), 1, ChannelConfig{})
	response, request := execute(t, channel, testRequest{cdb: modeSelectCdb(32), dataOut: make([]byte, 16)})
	sense := senseOf(t, response, request)
	assert.Equal(t, scsi.AscParameterListLengthError, sense.Code)
}
