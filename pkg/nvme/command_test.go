// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package nvme

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandWireLayout(t *testing.T) {
	command := &Command{
		Opcode:      0x02,
		Flags:       0x40,
		CommandID:   0x1234,
		NSID:        1,
		CDW2:        0x22,
		CDW3:        0x33,
		Metadata:    0x0102030405060708,
		Addr:        0x1112131415161718,
		MetadataLen: 0x44,
		DataLen:     4096,
		CDW10:       0xa,
		CDW11:       0xb,
		CDW12:       0xc,
		CDW13:       0xd,
		CDW14:       0xe,
		CDW15:       0xf,
	}
	buf := command.Marshal()
	require.Len(t, buf, CommandLength)
	assert.Equal(t, byte(0x02), buf[0])
	assert.Equal(t, byte(0x40), buf[1])
	assert.Equal(t, []byte{0x34, 0x12}, buf[2:4])
	assert.Equal(t, []byte{1, 0, 0, 0}, buf[4:8])
	assert.Equal(t, byte(0x08), buf[16])
	assert.Equal(t, byte(0x18), buf[24])
	assert.Equal(t, []byte{0x00, 0x10, 0, 0}, buf[36:40])
	assert.Equal(t, byte(0xa), buf[40])
	assert.Equal(t, byte(0xc), buf[48])
	assert.Equal(t, byte(0xf), buf[60])
	assert.Equal(t, command, UnmarshalCommand(buf))
}

func TestCommandDirection(t *testing.T) {
	tests := []struct {
		opcode   byte
		expected DataDirection
	}{
		{NvmFlush, DirectionNone},
		{NvmWrite, DirectionToDevice},
		{NvmRead, DirectionFromDevice},
		{NvmCompare, DirectionToDevice},
		{AdminIdentify, DirectionFromDevice},
		{AdminSetFeatures, DirectionToDevice},
		{AdminGetFeatures, DirectionFromDevice},
		{AdminMiSend, DirectionToDevice},
		{AdminMiReceive, DirectionFromDevice},
		{AdminDeviceSelfTest, DirectionNone},
	}
	for _, test := range tests {
		command := &Command{Opcode: test.opcode}
		assert.Equal(t, test.expected, command.Direction(), "opcode 0x%02x", test.opcode)
	}
}

func TestBlockCommandZeroBasedCount(t *testing.T) {
	for _, blocks := range []uint32{1, 2, 255, 256, 65535, 65536} {
		command := NewBlockCommand(NvmRead, 1, 0x123456789, blocks, false)
		assert.Equal(t, blocks-1, command.CDW12&0xffff)
		assert.Equal(t, blocks, command.NumberOfBlocks())
		assert.Equal(t, uint64(0x123456789), command.StartingLba())
		assert.Equal(t, uint32(0x23456789), command.CDW10)
		assert.Equal(t, uint32(0x1), command.CDW11)
	}
	fua := NewBlockCommand(NvmWrite, 1, 0, 8, true)
	assert.Equal(t, Cdw12ForceUnitAccess|7, fua.CDW12)
	zeroes := NewWriteZeroesCommand(1, 0, 1, true)
	assert.Equal(t, Cdw12Deallocate, zeroes.CDW12)
}

func TestCompletionStatusField(t *testing.T) {
	completion := NewCompletion(7, StatusUnrecoveredReadError, true, true)
	assert.Equal(t, StatusUnrecoveredReadError, completion.Status())
	assert.True(t, completion.More())
	assert.True(t, completion.DoNotRetry())
	assert.False(t, completion.Phase())
	assert.Equal(t, uint16(0xc502), completion.StatusField)

	decoded := UnmarshalCompletion(completion.Marshal())
	assert.Equal(t, completion, decoded)
	assert.Equal(t, uint16(0), NewCompletion(0, StatusSuccess, false, false).Status())
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "LBA Out of Range", StatusString(StatusLbaOutOfRange))
	assert.Equal(t, uint16(0x285), PackStatus(SctMediaError, 0x85))
	assert.Equal(t, SctMediaError, StatusType(StatusCompareFailure))
	assert.Contains(t, StatusString(0x7ff), "Unknown")
}

func TestFeatureAndIdentifyBuilders(t *testing.T) {
	identify := NewIdentifyCommand(CnsController, 0)
	assert.Equal(t, AdminIdentify, identify.Opcode)
	assert.Equal(t, uint32(1), identify.CDW10)
	assert.Equal(t, uint32(IdentifyDataLength), identify.DataLen)

	getFeature := NewGetFeaturesCommand(FeaturePowerManagement, SelectSaved, BroadcastNamespace)
	assert.Equal(t, uint32(0x202), getFeature.CDW10)
	assert.Equal(t, BroadcastNamespace, getFeature.NSID)

	selfTest := NewDeviceSelfTestCommand(BroadcastNamespace, SelfTestAbort)
	assert.Equal(t, uint32(0xf), selfTest.CDW10)

	mi := NewMiCommand(AdminMiReceive, MiSesReceive, 0x02, 512)
	assert.Equal(t, uint32(0x0804), mi.CDW10)
	assert.Equal(t, uint32(0x208), mi.CDW11)
	assert.Equal(t, uint32(512), mi.CDW13)
}
