// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
// Package wire reads and writes fixed width integers at byte offsets.
// SCSI fields are big endian, NVMe command and completion words little endian.
// Offsets outside the buffer panic.
package wire

import "encoding/binary"

func GetBe16(buf []byte, offset int) uint16 {
	return binary.BigEndian.Uint16(buf[offset:])
}

// GetBe24 reads the 3 byte fields found in mode pages and CDB lengths.
func GetBe24(buf []byte, offset int) uint32 {
	_ = buf[offset+2]
	return uint32(buf[offset])<<16 | uint32(buf[offset+1])<<8 | uint32(buf[offset+2])
}

func GetBe32(buf []byte, offset int) uint32 {
	return binary.BigEndian.Uint32(buf[offset:])
}

func GetBe64(buf []byte, offset int) uint64 {
	return binary.BigEndian.Uint64(buf[offset:])
}

func PutBe16(value uint16, buf []byte, offset int) {
	binary.BigEndian.PutUint16(buf[offset:], value)
}

func PutBe24(value uint32, buf []byte, offset int) {
	_ = buf[offset+2]
	buf[offset] = byte(value >> 16)
	buf[offset+1] = byte(value >> 8)
	buf[offset+2] = byte(value)
}

func PutBe32(value uint32, buf []byte, offset int) {
	binary.BigEndian.PutUint32(buf[offset:], value)
}

func PutBe64(value uint64, buf []byte, offset int) {
	binary.BigEndian.PutUint64(buf[offset:], value)
}

func GetLe16(buf []byte, offset int) uint16 {
	return binary.LittleEndian.Uint16(buf[offset:])
}

func GetLe24(buf []byte, offset int) uint32 {
	_ = buf[offset+2]
	return uint32(buf[offset]) | uint32(buf[offset+1])<<8 | uint32(buf[offset+2])<<16
}

func GetLe32(buf []byte, offset int) uint32 {
	return binary.LittleEndian.Uint32(buf[offset:])
}

func GetLe64(buf []byte, offset int) uint64 {
	return binary.LittleEndian.Uint64(buf[offset:])
}

func PutLe16(value uint16, buf []byte, offset int) {
	binary.LittleEndian.PutUint16(buf[offset:], value)
}

func PutLe24(value uint32, buf []byte, offset int) {
	_ = buf[offset+2]
	buf[offset] = byte(value)
	buf[offset+1] = byte(value >> 8)
	buf[offset+2] = byte(value >> 16)
}

func PutLe32(value uint32, buf []byte, offset int) {
	binary.LittleEndian.PutUint32(buf[offset:], value)
}

func PutLe64(value uint64, buf []byte, offset int) {
	binary.LittleEndian.PutUint64(buf[offset:], value)
}

// AllZeros reports whether every byte of buf is zero.
func AllZeros(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}
