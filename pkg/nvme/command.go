// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
// Package nvme holds the NVMe command and completion formats shared by
// the translation layer and the transports.
package nvme

import (
	"fmt"
	"nvmesntl/pkg/wire"
)

const (
	CommandLength    = 64
	CompletionLength = 16

	// BroadcastNamespace addresses every namespace of a controller
	BroadcastNamespace = uint32(0xffffffff)

	// MaxBlocksPerCommand is the largest count the 16 bit NLB field holds
	MaxBlocksPerCommand = 0x10000
)

type DataDirection int

const (
	DirectionNone DataDirection = iota
	DirectionToDevice
	DirectionFromDevice
	DirectionBidirectional
)

func (direction DataDirection) String() string {
	switch direction {
	case DirectionToDevice:
		return "to-device"
	case DirectionFromDevice:
		return "from-device"
	case DirectionBidirectional:
		return "bidirectional"
	}
	return "none"
}

// Command is the 64 byte submission queue entry. Transports fill Addr
// and DataLen from the data buffer handed to them.
type Command struct {
	Opcode      byte
	Flags       byte
	CommandID   uint16
	NSID        uint32
	CDW2        uint32
	CDW3        uint32
	Metadata    uint64
	Addr        uint64
	MetadataLen uint32
	DataLen     uint32
	CDW10       uint32
	CDW11       uint32
	CDW12       uint32
	CDW13       uint32
	CDW14       uint32
	CDW15       uint32
}

// Marshal encodes the command in its little endian wire format.
func (command *Command) Marshal() []byte {
	buf := make([]byte, CommandLength)
	buf[0] = command.Opcode
	buf[1] = command.Flags
	wire.PutLe16(command.CommandID, buf, 2)
	wire.PutLe32(command.NSID, buf, 4)
	wire.PutLe32(command.CDW2, buf, 8)
	wire.PutLe32(command.CDW3, buf, 12)
	wire.PutLe64(command.Metadata, buf, 16)
	wire.PutLe64(command.Addr, buf, 24)
	wire.PutLe32(command.MetadataLen, buf, 32)
	wire.PutLe32(command.DataLen, buf, 36)
	wire.PutLe32(command.CDW10, buf, 40)
	wire.PutLe32(command.CDW11, buf, 44)
	wire.PutLe32(command.CDW12, buf, 48)
	wire.PutLe32(command.CDW13, buf, 52)
	wire.PutLe32(command.CDW14, buf, 56)
	wire.PutLe32(command.CDW15, buf, 60)
	return buf
}

// UnmarshalCommand decodes the first 64 bytes of buf.
func UnmarshalCommand(buf []byte) *Command {
	_ = buf[CommandLength-1]
	return &Command{
		Opcode:      buf[0],
		Flags:       buf[1],
		CommandID:   wire.GetLe16(buf, 2),
		NSID:        wire.GetLe32(buf, 4),
		CDW2:        wire.GetLe32(buf, 8),
		CDW3:        wire.GetLe32(buf, 12),
		Metadata:    wire.GetLe64(buf, 16),
		Addr:        wire.GetLe64(buf, 24),
		MetadataLen: wire.GetLe32(buf, 32),
		DataLen:     wire.GetLe32(buf, 36),
		CDW10:       wire.GetLe32(buf, 40),
		CDW11:       wire.GetLe32(buf, 44),
		CDW12:       wire.GetLe32(buf, 48),
		CDW13:       wire.GetLe32(buf, 52),
		CDW14:       wire.GetLe32(buf, 56),
		CDW15:       wire.GetLe32(buf, 60),
	}
}

// Direction decodes the data transfer bits 1:0 of the opcode.
func (command *Command) Direction() DataDirection {
	return DataDirection(command.Opcode & 0x03)
}

// StartingLba is CDW11:CDW10 of a read, write, compare or verify.
func (command *Command) StartingLba() uint64 {
	return uint64(command.CDW11)<<32 | uint64(command.CDW10)
}

func (command *Command) SetStartingLba(lba uint64) {
	command.CDW10 = uint32(lba)
	command.CDW11 = uint32(lba >> 32)
}

// NumberOfBlocks converts the 0's based NLB field to a block count.
func (command *Command) NumberOfBlocks() uint32 {
	return (command.CDW12 & 0xffff) + 1
}

func (command *Command) String() string {
	return fmt.Sprintf(
		"opcode=0x%02x nsid=0x%x cdw10=0x%08x cdw11=0x%08x cdw12=0x%08x cdw13=0x%08x",
		command.Opcode,
		command.NSID,
		command.CDW10,
		command.CDW11,
		command.CDW12,
		command.CDW13,
	)
}

// Completion is the completion queue entry of one command.
type Completion struct {
	// Result is command specific dword 0
	Result    uint32
	Reserved  uint32
	SQHead    uint16
	SQID      uint16
	CommandID uint16
	// StatusField holds phase, SC, SCT, CRD, More and DNR as on the wire
	StatusField uint16
}

const (
	statusFieldPhaseBitMask = uint16(0x0001)
	statusFieldMoreBitMask  = uint16(0x4000)
	statusFieldDnrBitMask   = uint16(0x8000)
)

// NewCompletion builds a completion carrying a packed SCT<<8|SC status.
func NewCompletion(result uint32, status uint16, more, doNotRetry bool) Completion {
	statusField := (status&0xff)<<1 | ((status>>8)&0x7)<<9
	if more {
		statusField |= statusFieldMoreBitMask
	}
	if doNotRetry {
		statusField |= statusFieldDnrBitMask
	}
	return Completion{Result: result, StatusField: statusField}
}

// Status returns the packed SCT<<8|SC value, 0 on success.
func (completion Completion) Status() uint16 {
	sc := (completion.StatusField >> 1) & 0xff
	sct := (completion.StatusField >> 9) & 0x7
	return sct<<8 | sc
}

func (completion Completion) More() bool {
	return completion.StatusField&statusFieldMoreBitMask != 0
}

func (completion Completion) DoNotRetry() bool {
	return completion.StatusField&statusFieldDnrBitMask != 0
}

func (completion Completion) Phase() bool {
	return completion.StatusField&statusFieldPhaseBitMask != 0
}

func (completion Completion) Marshal() []byte {
	buf := make([]byte, CompletionLength)
	wire.PutLe32(completion.Result, buf, 0)
	wire.PutLe32(completion.Reserved, buf, 4)
	wire.PutLe16(completion.SQHead, buf, 8)
	wire.PutLe16(completion.SQID, buf, 10)
	wire.PutLe16(completion.CommandID, buf, 12)
	wire.PutLe16(completion.StatusField, buf, 14)
	return buf
}

func UnmarshalCompletion(buf []byte) Completion {
	_ = buf[CompletionLength-1]
	return Completion{
		Result:      wire.GetLe32(buf, 0),
		Reserved:    wire.GetLe32(buf, 4),
		SQHead:      wire.GetLe16(buf, 8),
		SQID:        wire.GetLe16(buf, 10),
		CommandID:   wire.GetLe16(buf, 12),
		StatusField: wire.GetLe16(buf, 14),
	}
}
