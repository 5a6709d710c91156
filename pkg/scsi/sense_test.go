// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package scsi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSenseFixedLayout(t *testing.T) {
	sense := NewSense(false, IllegalRequest, AscInvalidOpCode)
	require.Len(t, sense, FixedSenseLength)
	assert.Equal(t, byte(0x70), sense[0])
	assert.Equal(t, IllegalRequest, sense[2])
	assert.Equal(t, byte(10), sense[7])
	assert.Equal(t, byte(0x20), sense[12])
	assert.Equal(t, byte(0x00), sense[13])
}

func TestNewSenseDescriptorLayout(t *testing.T) {
	sense := NewSense(true, NotReady, AscFormatInProgress)
	require.Len(t, sense, DescriptorSenseLength)
	assert.Equal(t, []byte{0x72, NotReady, 0x04, 0x04, 0, 0, 0, 0}, sense)
}

func TestBuildSenseTruncation(t *testing.T) {
	full := NewSense(false, MediumError, AscReadError)
	for capacity := 0; capacity <= FixedSenseLength; capacity++ {
		// guard bytes past the capacity must survive
		buf := make([]byte, FixedSenseLength+4)
		for i := range buf {
			buf[i] = 0xa5
		}
		written := BuildSense(buf[:capacity], false, MediumError, AscReadError)
		require.Equal(t, capacity, written, "capacity %d", capacity)
		assert.Equal(t, full[:capacity], buf[:capacity], "capacity %d", capacity)
		for i := capacity; i < len(buf); i++ {
			require.Equal(t, byte(0xa5), buf[i], "capacity %d wrote byte %d", capacity, i)
		}
	}
	descriptorFull := NewSense(true, MediumError, AscReadError)
	for capacity := 0; capacity <= FixedSenseLength; capacity++ {
		buf := make([]byte, capacity)
		written := BuildSense(buf, true, MediumError, AscReadError)
		expected := capacity
		if expected > DescriptorSenseLength {
			expected = DescriptorSenseLength
		}
		require.Equal(t, expected, written)
		assert.Equal(t, descriptorFull[:expected], buf[:written])
	}
}

func TestInvalidFieldSense(t *testing.T) {
	tests := []struct {
		desc       string
		descriptor bool
		inCdb      bool
		byteOffset uint16
		bitOffset  int
		asc        AdditionalSenseCode
	}{
		{"cdb byte 2 bit 7 fixed", false, true, 2, 7, AscInvalidFieldInCdb},
		{"cdb byte 1 no bit fixed", false, true, 1, -1, AscInvalidFieldInCdb},
		{"parameter list descriptor", true, false, 0x12, 2, AscInvalidFieldInParamList},
		{"cdb descriptor", true, true, 4, 1, AscInvalidFieldInCdb},
	}
	for i, test := range tests {
		sense := NewInvalidFieldSense(test.descriptor, test.inCdb, test.byteOffset, test.bitOffset)
		data, ok := ParseSense(sense)
		if !ok {
			t.Fatalf("[%02d] test %q: sense did not parse", i, test.desc)
		}
		assert.Equal(t, IllegalRequest, data.Key, test.desc)
		assert.Equal(t, test.asc, data.Code, test.desc)
		inCdb, byteOffset, bitOffset, ok := data.FieldPointer()
		require.True(t, ok, test.desc)
		assert.Equal(t, test.inCdb, inCdb, test.desc)
		assert.Equal(t, test.byteOffset, byteOffset, test.desc)
		assert.Equal(t, test.bitOffset, bitOffset, test.desc)
	}
}

func TestInvalidFieldSenseFixedBytes(t *testing.T) {
	sense := NewInvalidFieldSense(false, true, 2, 7)
	require.Len(t, sense, FixedSenseLength)
	assert.Equal(t, []byte{0xcf, 0x00, 0x02}, sense[15:18])

	descriptor := NewInvalidFieldSense(true, true, 2, 7)
	require.Len(t, descriptor, 16)
	assert.Equal(t, byte(8), descriptor[7])
	assert.Equal(t, []byte{0x02, 0x06, 0x00, 0x00, 0xcf, 0x00, 0x02, 0x00}, descriptor[8:])
}

func TestNvmeStatusDescriptor(t *testing.T) {
	sense := AppendNvmeStatusDescriptor(NewSense(true, MediumError, AscReadError), true, false, 0x281)
	require.Len(t, sense, 16)
	data, ok := ParseSense(sense)
	require.True(t, ok)
	assert.True(t, data.HasNvmeStatus)
	assert.True(t, data.NvmeDoNotRetry)
	assert.Equal(t, uint16(0x281), data.NvmeStatus)

	fixed := NewSense(false, MediumError, AscReadError)
	assert.Equal(t, fixed, AppendNvmeStatusDescriptor(fixed, true, true, 0x281))
}

func TestParseSenseRejectsGarbage(t *testing.T) {
	_, ok := ParseSense(nil)
	assert.False(t, ok)
	_, ok = ParseSense([]byte{0x00, 0x01})
	assert.False(t, ok)
}

func TestProgressIndication(t *testing.T) {
	sense := NewSense(false, NotReady, AscSelfTestInProgress)
	sense[15] = 0x80
	sense[16] = 0x80
	sense[17] = 0x00
	data, ok := ParseSense(sense)
	require.True(t, ok)
	progress, ok := data.Progress()
	require.True(t, ok)
	assert.Equal(t, uint16(0x8000), progress)
}
