// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package scsi

import (
	"nvmesntl/pkg/wire"

	"github.com/pkg/errors"
)

const LbaRangeDescriptorLength = 32

// LbaRangeDescriptor is one entry of a write scatter list.
//
// Reference : SBC4r15
// 5.45 - WRITE SCATTERED, LBA range descriptor
type LbaRangeDescriptor struct {
	LogicalBlockAddress uint64
	NumberOfBlocks      uint32
	// Expected initial logical block reference tag
	ReferenceTag uint32
	// Expected logical block application tag
	ApplicationTag     uint16
	ApplicationTagMask uint16
}

func (descriptor LbaRangeDescriptor) Marshal() []byte {
	buf := make([]byte, LbaRangeDescriptorLength)
	descriptor.PutTo(buf)
	return buf
}

// PutTo writes the descriptor into the first 32 bytes of buf.
func (descriptor LbaRangeDescriptor) PutTo(buf []byte) {
	wire.PutBe64(descriptor.LogicalBlockAddress, buf, 0)
	wire.PutBe32(descriptor.NumberOfBlocks, buf, 8)
	wire.PutBe32(descriptor.ReferenceTag, buf, 12)
	wire.PutBe16(descriptor.ApplicationTag, buf, 16)
	wire.PutBe16(descriptor.ApplicationTagMask, buf, 18)
	for i := 20; i < LbaRangeDescriptorLength; i++ {
		buf[i] = 0
	}
}

func UnmarshalLbaRangeDescriptor(buf []byte) LbaRangeDescriptor {
	return LbaRangeDescriptor{
		LogicalBlockAddress: wire.GetBe64(buf, 0),
		NumberOfBlocks:      wire.GetBe32(buf, 8),
		ReferenceTag:        wire.GetBe32(buf, 12),
		ApplicationTag:      wire.GetBe16(buf, 16),
		ApplicationTagMask:  wire.GetBe16(buf, 18),
	}
}

// ParseScatterList decodes consecutive descriptors. A zero length
// descriptor terminates the list.
func ParseScatterList(buf []byte) ([]LbaRangeDescriptor, error) {
	if len(buf)%LbaRangeDescriptorLength != 0 {
		return nil, errors.Errorf(
			"scatter list length %d is not a multiple of %d",
			len(buf),
			LbaRangeDescriptorLength,
		)
	}
	descriptors := make([]LbaRangeDescriptor, 0, len(buf)/LbaRangeDescriptorLength)
	for offset := 0; offset < len(buf); offset += LbaRangeDescriptorLength {
		descriptor := UnmarshalLbaRangeDescriptor(buf[offset:])
		if descriptor.NumberOfBlocks == 0 && descriptor.LogicalBlockAddress == 0 {
			break
		}
		descriptors = append(descriptors, descriptor)
	}
	return descriptors, nil
}

// MarshalScatterList encodes descriptors back to back.
func MarshalScatterList(descriptors []LbaRangeDescriptor) []byte {
	buf := make([]byte, len(descriptors)*LbaRangeDescriptorLength)
	for i, descriptor := range descriptors {
		descriptor.PutTo(buf[i*LbaRangeDescriptorLength:])
	}
	return buf
}

// TotalBlocks sums the block counts of a scatter list.
func TotalBlocks(descriptors []LbaRangeDescriptor) uint64 {
	total := uint64(0)
	for _, descriptor := range descriptors {
		total += uint64(descriptor.NumberOfBlocks)
	}
	return total
}
