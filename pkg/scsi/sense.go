// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package scsi

import (
	"fmt"
	"nvmesntl/pkg/wire"
)

const (
	FixedSenseLength      = 18
	DescriptorSenseLength = 8

	fixedCurrentResponseCode      = byte(0x70)
	fixedDeferredResponseCode     = byte(0x71)
	descriptorCurrentResponseCode = byte(0x72)
	descriptorDeferredResponse    = byte(0x73)
	responseCodeBitMask           = byte(0x7f)

	senseKeySpecificDescriptorType = byte(0x02)
	nvmeStatusDescriptorType       = byte(0xde)

	senseKeySpecificValidBitMask = byte(0x80)
	commandDataBitMask           = byte(0x40)
	bitPointerValidBitMask       = byte(0x08)
	bitPointerBitMask            = byte(0x07)
)

// NewSense returns a complete current sense buffer: 18 bytes in
// fixed format or 8 bytes in descriptor format.
func NewSense(descriptor bool, key byte, asc AdditionalSenseCode) []byte {
	if descriptor {
		sense := make([]byte, DescriptorSenseLength)
		sense[0] = descriptorCurrentResponseCode
		sense[1] = key & 0x0f
		sense[2] = asc.Asc()
		sense[3] = asc.Ascq()
		return sense
	}
	sense := make([]byte, FixedSenseLength)
	sense[0] = fixedCurrentResponseCode
	sense[2] = key & 0x0f
	// additional sense length, 18 byte buffer
	sense[7] = FixedSenseLength - 8
	sense[12] = asc.Asc()
	sense[13] = asc.Ascq()
	return sense
}

// BuildSense writes the longest prefix of the sense buffer that fits
// in buf and returns the number of bytes written.
func BuildSense(buf []byte, descriptor bool, key byte, asc AdditionalSenseCode) int {
	return copy(buf, NewSense(descriptor, key, asc))
}

// NewInvalidFieldSense builds ILLEGAL REQUEST with INVALID FIELD IN CDB
// (inCdb) or INVALID FIELD IN PARAMETER LIST and a field pointer to
// byteOffset. A negative bitOffset leaves the bit pointer invalid.
func NewInvalidFieldSense(descriptor, inCdb bool, byteOffset uint16, bitOffset int) []byte {
	asc := AscInvalidFieldInParamList
	if inCdb {
		asc = AscInvalidFieldInCdb
	}
	sense := NewSense(descriptor, IllegalRequest, asc)
	senseKeySpecific := make([]byte, 3)
	senseKeySpecific[0] = senseKeySpecificValidBitMask
	if inCdb {
		senseKeySpecific[0] |= commandDataBitMask
	}
	if bitOffset >= 0 {
		senseKeySpecific[0] |= bitPointerValidBitMask | (byte(bitOffset) & bitPointerBitMask)
	}
	wire.PutBe16(byteOffset, senseKeySpecific, 1)
	if !descriptor {
		copy(sense[15:], senseKeySpecific)
		return sense
	}
	descriptorData := []byte{senseKeySpecificDescriptorType, 0x06, 0x00, 0x00}
	descriptorData = append(descriptorData, senseKeySpecific...)
	descriptorData = append(descriptorData, 0x00)
	return appendDescriptor(sense, descriptorData)
}

// AppendNvmeStatusDescriptor adds the vendor specific NVMe status
// descriptor to a descriptor format sense buffer. Fixed format buffers
// are returned unchanged.
func AppendNvmeStatusDescriptor(sense []byte, doNotRetry, more bool, status uint16) []byte {
	if len(sense) < DescriptorSenseLength || sense[0]&responseCodeBitMask != descriptorCurrentResponseCode {
		return sense
	}
	descriptorData := make([]byte, 8)
	descriptorData[0] = nvmeStatusDescriptorType
	descriptorData[1] = 0x06
	if doNotRetry {
		descriptorData[5] |= 0x80
	}
	if more {
		descriptorData[5] |= 0x40
	}
	wire.PutBe16(status, descriptorData, 6)
	return appendDescriptor(sense, descriptorData)
}

func appendDescriptor(sense, descriptorData []byte) []byte {
	sense = append(sense, descriptorData...)
	sense[7] += byte(len(descriptorData))
	return sense
}

type SenseData struct {
	ResponseCode byte
	Descriptor   bool
	Deferred     bool
	Key          byte
	Code         AdditionalSenseCode
	// SenseKeySpecific holds the 3 sense key specific bytes when SKSV is set
	SenseKeySpecific []byte
	NvmeStatus       uint16
	HasNvmeStatus    bool
	NvmeDoNotRetry   bool
}

// ParseSense decodes fixed and descriptor format sense. It reports false
// when the buffer does not carry a recognised response code.
func ParseSense(sense []byte) (SenseData, bool) {
	data := SenseData{}
	if len(sense) < 1 {
		return data, false
	}
	data.ResponseCode = sense[0] & responseCodeBitMask
	switch data.ResponseCode {
	case fixedCurrentResponseCode, fixedDeferredResponseCode:
		data.Deferred = data.ResponseCode == fixedDeferredResponseCode
		if len(sense) > 2 {
			data.Key = sense[2] & 0x0f
		}
		if len(sense) > 13 {
			data.Code = NewAdditionalSenseCode(sense[12], sense[13])
		} else if len(sense) > 12 {
			data.Code = NewAdditionalSenseCode(sense[12], 0)
		}
		if len(sense) >= 18 && sense[15]&senseKeySpecificValidBitMask != 0 {
			data.SenseKeySpecific = sense[15:18]
		}
	case descriptorCurrentResponseCode, descriptorDeferredResponse:
		data.Descriptor = true
		data.Deferred = data.ResponseCode == descriptorDeferredResponse
		if len(sense) > 1 {
			data.Key = sense[1] & 0x0f
		}
		if len(sense) > 3 {
			data.Code = NewAdditionalSenseCode(sense[2], sense[3])
		}
		if len(sense) >= DescriptorSenseLength {
			data.parseDescriptors(sense)
		}
	default:
		return data, false
	}
	return data, true
}

func (data *SenseData) parseDescriptors(sense []byte) {
	end := DescriptorSenseLength + int(sense[7])
	if end > len(sense) {
		end = len(sense)
	}
	for offset := DescriptorSenseLength; offset+2 <= end; {
		length := int(sense[offset+1]) + 2
		if offset+length > end {
			return
		}
		descriptorData := sense[offset : offset+length]
		switch descriptorData[0] {
		case senseKeySpecificDescriptorType:
			if length >= 7 && descriptorData[4]&senseKeySpecificValidBitMask != 0 {
				data.SenseKeySpecific = descriptorData[4:7]
			}
		case nvmeStatusDescriptorType:
			if length >= 8 {
				data.HasNvmeStatus = true
				data.NvmeDoNotRetry = descriptorData[5]&0x80 != 0
				data.NvmeStatus = wire.GetBe16(descriptorData, 6)
			}
		}
		offset += length
	}
}

// Progress returns the progress indication (0..65535) carried by NOT
// READY and NO SENSE responses of long running operations.
func (data SenseData) Progress() (uint16, bool) {
	if data.SenseKeySpecific == nil {
		return 0, false
	}
	if data.Key != NotReady && data.Key != NoSense {
		return 0, false
	}
	return wire.GetBe16(data.SenseKeySpecific, 1), true
}

// FieldPointer returns the byte and bit (or -1) named by an ILLEGAL
// REQUEST sense key specific field.
func (data SenseData) FieldPointer() (inCdb bool, byteOffset uint16, bitOffset int, ok bool) {
	if data.SenseKeySpecific == nil || data.Key != IllegalRequest {
		return false, 0, -1, false
	}
	bitOffset = -1
	if data.SenseKeySpecific[0]&bitPointerValidBitMask != 0 {
		bitOffset = int(data.SenseKeySpecific[0] & bitPointerBitMask)
	}
	return data.SenseKeySpecific[0]&commandDataBitMask != 0,
		wire.GetBe16(data.SenseKeySpecific, 1), bitOffset, true
}

func (data SenseData) String() string {
	format := "fixed"
	if data.Descriptor {
		format = "descriptor"
	}
	result := fmt.Sprintf(
		"%s format sense: %s, asc=0x%02x ascq=0x%02x",
		format,
		SenseKeyString(data.Key),
		data.Code.Asc(),
		data.Code.Ascq(),
	)
	if data.HasNvmeStatus {
		result += fmt.Sprintf(", NVMe status 0x%03x", data.NvmeStatus)
	}
	return result
}
