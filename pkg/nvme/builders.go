// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package nvme

import (
	"nvmesntl/pkg/wire"
)

func NewIdentifyCommand(cns byte, nsid uint32) *Command {
	return &Command{
		Opcode:  AdminIdentify,
		NSID:    nsid,
		DataLen: IdentifyDataLength,
		CDW10:   uint32(cns),
	}
}

func NewGetFeaturesCommand(featureId, selectField byte, nsid uint32) *Command {
	return &Command{
		Opcode: AdminGetFeatures,
		NSID:   nsid,
		CDW10:  uint32(selectField&0x7)<<8 | uint32(featureId),
	}
}

func NewSetFeaturesCommand(featureId byte, nsid, value uint32) *Command {
	return &Command{
		Opcode: AdminSetFeatures,
		NSID:   nsid,
		CDW10:  uint32(featureId),
		CDW11:  value,
	}
}

// NewBlockCommand builds Read, Write, Compare or Verify for blocks
// logical blocks, 1 <= blocks <= MaxBlocksPerCommand.
func NewBlockCommand(opcode byte, nsid uint32, lba uint64, blocks uint32, forceUnitAccess bool) *Command {
	command := &Command{
		Opcode: opcode,
		NSID:   nsid,
		CDW12:  (blocks - 1) & 0xffff,
	}
	command.SetStartingLba(lba)
	if forceUnitAccess {
		command.CDW12 |= Cdw12ForceUnitAccess
	}
	return command
}

func NewWriteZeroesCommand(nsid uint32, lba uint64, blocks uint32, deallocate bool) *Command {
	command := NewBlockCommand(NvmWriteZeroes, nsid, lba, blocks, false)
	if deallocate {
		command.CDW12 |= Cdw12Deallocate
	}
	return command
}

func NewFlushCommand(nsid uint32) *Command {
	return &Command{Opcode: NvmFlush, NSID: nsid}
}

func NewDeviceSelfTestCommand(nsid uint32, code byte) *Command {
	return &Command{
		Opcode: AdminDeviceSelfTest,
		NSID:   nsid,
		CDW10:  uint32(code & 0x0f),
	}
}

// NewMiCommand tunnels an NVMe-MI SES Send or Receive of length bytes.
func NewMiCommand(opcode byte, miOperation uint32, pageCode byte, length uint32) *Command {
	return &Command{
		Opcode:  opcode,
		DataLen: length,
		CDW10:   MiMessageCommandCdw10,
		CDW11:   miOperation | uint32(pageCode)<<8,
		CDW13:   length,
	}
}

// ControllerInfo describes the Identify Controller fields this module
// reads. Marshal lays them out at their wire offsets.
type ControllerInfo struct {
	VendorId           uint16
	SerialNumber       string
	ModelNumber        string
	FirmwareRevision   string
	IeeeOui            [3]byte
	Version            uint32
	SubsystemReport    byte
	OptionalAdmin      uint16
	PowerStates        byte
	ExtendedSelfTest   uint16
	MaxNamespaces      uint32
	VolatileWriteCache bool
	SubsystemNqn       string
}

func putPadded(buf []byte, offset, length int, value string) {
	field := buf[offset : offset+length]
	for i := range field {
		field[i] = ' '
	}
	copy(field, value)
}

func (info ControllerInfo) Marshal() IdentifyController {
	data := make([]byte, IdentifyDataLength)
	wire.PutLe16(info.VendorId, data, controllerVendorIdOffset)
	putPadded(data, controllerSerialOffset, controllerSerialLength, info.SerialNumber)
	putPadded(data, controllerModelOffset, controllerModelLength, info.ModelNumber)
	putPadded(data, controllerFirmwareOffset, controllerFirmwareLength, info.FirmwareRevision)
	copy(data[controllerIeeeOuiOffset:], info.IeeeOui[:])
	wire.PutLe32(info.Version, data, controllerVersionOffset)
	data[controllerNvmsrOffset] = info.SubsystemReport
	wire.PutLe16(info.OptionalAdmin, data, controllerOacsOffset)
	data[controllerNpssOffset] = info.PowerStates
	wire.PutLe16(info.ExtendedSelfTest, data, controllerEdsttOffset)
	wire.PutLe32(info.MaxNamespaces, data, controllerNnOffset)
	if info.VolatileWriteCache {
		data[controllerVwcOffset] = vwcPresentBitMask
	}
	copy(data[controllerSubnqnOffset:controllerSubnqnOffset+controllerSubnqnLength], info.SubsystemNqn)
	return data
}

// LbaFormatInfo is one LBA format descriptor.
type LbaFormatInfo struct {
	MetadataSize uint16
	Lbads        byte
}

type NamespaceInfo struct {
	Size            uint64
	Capacity        uint64
	Utilization     uint64
	ThinProvisioned bool
	LbaFormats      []LbaFormatInfo
	ActiveFormat    byte
	ProtectionType  byte
	Nguid           [16]byte
	Eui64           [8]byte
}

func (info NamespaceInfo) Marshal() IdentifyNamespace {
	data := make([]byte, IdentifyDataLength)
	wire.PutLe64(info.Size, data, namespaceSizeOffset)
	wire.PutLe64(info.Capacity, data, namespaceCapacityOffset)
	wire.PutLe64(info.Utilization, data, namespaceUseOffset)
	if info.ThinProvisioned {
		data[namespaceFeaturesOffset] = nsfeatThinBitMask
	}
	if len(info.LbaFormats) > 0 {
		data[namespaceNlbafOffset] = byte(len(info.LbaFormats) - 1)
	}
	data[namespaceFlbasOffset] = info.ActiveFormat & flbasFormatBitMask
	data[namespaceDpsOffset] = info.ProtectionType & 0x07
	copy(data[namespaceNguidOffset:], info.Nguid[:])
	copy(data[namespaceEui64Offset:], info.Eui64[:])
	for i, format := range info.LbaFormats {
		record := uint32(format.Lbads)<<16 | uint32(format.MetadataSize)
		wire.PutLe32(record, data, namespaceLbafOffset+lbaFormatLength*i)
	}
	return data
}
