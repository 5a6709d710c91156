// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package sntl

import (
	"nvmesntl/pkg/common"
	"nvmesntl/pkg/nvme"
	"nvmesntl/pkg/scsi"
	"nvmesntl/pkg/wire"

	"github.com/pkg/errors"
)

const (
	forceUnitAccessBitMask = byte(0x08)
	readCapacity10Length   = 8
	readCapacity16Length   = 32
)

// blockRange is the LBA and block count of a block command CDB.
type blockRange struct {
	lba    uint64
	blocks uint32
}

func parseBlockRange(cdb []byte) blockRange {
	if len(cdb) >= 16 {
		return blockRange{lba: wire.GetBe64(cdb, 2), blocks: wire.GetBe32(cdb, 10)}
	}
	return blockRange{lba: uint64(wire.GetBe32(cdb, 2)), blocks: uint32(wire.GetBe16(cdb, 7))}
}

// chunks splits the range into pieces an NVMe command can carry.
func (r blockRange) chunks() []blockRange {
	result := make([]blockRange, 0, 1+r.blocks/nvme.MaxBlocksPerCommand)
	lba := r.lba
	remaining := r.blocks
	for remaining > 0 {
		blocks := remaining
		if blocks > nvme.MaxBlocksPerCommand {
			blocks = nvme.MaxBlocksPerCommand
		}
		result = append(result, blockRange{lba: lba, blocks: blocks})
		lba += uint64(blocks)
		remaining -= blocks
	}
	return result
}

func (t *task) logicalBlockSize() (uint32, error) {
	namespace, err := t.identifyNamespace()
	if err != nil {
		return 0, err
	}
	return namespace.LogicalBlockSize(), nil
}

// readCapacity10 Implements SCSI READ CAPACITY(10) command
// The READ CAPACITY (10) command requests that the device server transfer 8 bytes of parameter data
// describing the capacity and medium format of the direct-access block device to the data-in buffer.
// An empty namespace reports 0 as the last logical block address.
// Reference : SBC2r16
// 5.10 - READ CAPACITY (10)
func (t *task) readCapacity10() error {
	if !t.requireNamespace() {
		return nil
	}
	namespace, err := t.identifyNamespace()
	if err != nil {
		return err
	}
	lastLba := uint32(0)
	if size := namespace.Size(); size > 0 {
		if size-1 > 0xffffffff {
			lastLba = 0xffffffff
		} else {
			lastLba = uint32(size - 1)
		}
	}
	data := make([]byte, readCapacity10Length)
	wire.PutBe32(lastLba, data, 0)
	wire.PutBe32(namespace.LogicalBlockSize(), data, 4)
	t.respond(data, readCapacity10Length)
	return nil
}

// readCapacity16 Implements SCSI READ CAPACITY(16) command
// The READ CAPACITY (16) command requests that the device server transfer parameter data
// describing the capacity and medium format of the direct-access block device to the data-in buffer.
// Reference : SBC3r27
// 5.16 READ CAPACITY (16)
func (t *task) readCapacity16() error {
	const (
		protectionEnableBitMask              = byte(0x01)
		logicalBlockProvisioningMgmtBitMask  = byte(0x80)
		logicalBlocksPerPhysicalBlockDefault = byte(0x00)
	)
	allocationLength := int(wire.GetBe32(t.cdb, 10))
	if !t.requireNamespace() {
		return nil
	}
	namespace, err := t.identifyNamespace()
	if err != nil {
		return err
	}
	lastLba := uint64(0)
	if size := namespace.Size(); size > 0 {
		lastLba = size - 1
	}
	data := make([]byte, readCapacity16Length)
	wire.PutBe64(lastLba, data, 0)
	wire.PutBe32(namespace.LogicalBlockSize(), data, 8)
	if protectionType := namespace.DataProtectionSettings() & 0x07; protectionType != 0 {
		data[12] = (protectionType-1)<<1 | protectionEnableBitMask
	}
	data[13] = logicalBlocksPerPhysicalBlockDefault
	if namespace.ThinProvisioned() {
		data[14] = logicalBlockProvisioningMgmtBitMask
	}
	t.respond(data, allocationLength)
	return nil
}

func blockOpcode(command scsi.Command, byteCheck byte) byte {
	switch command {
	case scsi.CommandRead10, scsi.CommandRead16:
		return nvme.NvmRead
	case scsi.CommandWrite10, scsi.CommandWrite16:
		return nvme.NvmWrite
	}
	if byteCheck == 1 {
		return nvme.NvmCompare
	}
	return nvme.NvmVerify
}

// readWriteVerify Implements SCSI READ, WRITE and VERIFY (10) and (16)
// A zero transfer length transfers nothing and submits nothing.
// VERIFY with BYTCHK 0 checks the medium, BYTCHK 1 compares it with
// the data-out buffer.
// Reference : SBC3r27
// 5.11 READ (10), 5.35 WRITE (10), 5.29 VERIFY (10)
func (t *task) readWriteVerify(command scsi.Command) error {
	const byteCheckBitMask = byte(0x06)
	blocks := parseBlockRange(t.cdb)
	forceUnitAccess := t.cdb[1]&forceUnitAccessBitMask != 0

	byteCheck := byte(0)
	if command == scsi.CommandVerify10 || command == scsi.CommandVerify16 {
		byteCheck = (t.cdb[1] & byteCheckBitMask) >> 1
		if byteCheck > 1 {
			t.invalidCdbField(1, 2)
			return nil
		}
		forceUnitAccess = false
	}
	if blocks.blocks == 0 {
		return nil
	}
	if !t.requireNamespace() {
		return nil
	}
	opcode := blockOpcode(command, byteCheck)

	var buffer []byte
	blockSize := uint32(0)
	if opcode != nvme.NvmVerify {
		var err error
		if blockSize, err = t.logicalBlockSize(); err != nil {
			return err
		}
		length := uint64(blocks.blocks) * uint64(blockSize)
		if opcode == nvme.NvmRead {
			buffer = t.request.DataIn
		} else {
			buffer = t.request.DataOut
		}
		if uint64(len(buffer)) < length {
			return errors.Wrapf(
				common.ErrBadParams,
				"%s of %d blocks needs %d bytes, buffer has %d",
				command,
				blocks.blocks,
				length,
				len(buffer),
			)
		}
	}
	offset := uint64(0)
	for _, chunk := range blocks.chunks() {
		nvmeCommand := nvme.NewBlockCommand(opcode, t.channel.namespaceId, chunk.lba, chunk.blocks, forceUnitAccess)
		var data []byte
		if buffer != nil {
			length := uint64(chunk.blocks) * uint64(blockSize)
			data = buffer[offset : offset+length]
			offset += length
		}
		if _, err := t.submit(nvmeCommand, data, false); err != nil {
			return err
		}
		if opcode == nvme.NvmRead {
			t.response.DataInLength = int(offset)
		} else if data != nil {
			t.response.DataOutLength = int(offset)
		}
	}
	return nil
}

// writeSame Implements SCSI WRITE SAME(10) and WRITE SAME(16) command
// Only a zero filled block can be written; it becomes NVMe Write Zeroes.
// NDOB skips the data-out block, UNMAP deallocates.
// Reference : SBC3r27
// 5.42 - WRITE SAME (10), 5.43 - WRITE SAME (16)
func (t *task) writeSame(command scsi.Command) error {
	const (
		unmapBitMask      = byte(0x08)
		noDataOutBitMask  = byte(0x01)
		writeProtectShift = 5
	)
	blocks := parseBlockRange(t.cdb)
	unmap := t.cdb[1]&unmapBitMask != 0
	noDataOut := command == scsi.CommandWriteSame16 && t.cdb[1]&noDataOutBitMask != 0
	if t.cdb[1]>>writeProtectShift != 0 {
		t.invalidCdbField(1, 7)
		return nil
	}
	if blocks.blocks == 0 {
		return nil
	}
	if !t.requireNamespace() {
		return nil
	}
	if !noDataOut {
		// The data-out buffer is the one pattern block, checked whole
		// before Identify Namespace gives the block size.
		if !wire.AllZeros(t.request.DataOut) {
			t.checkCondition(scsi.IllegalRequest, scsi.AscPcieUnsupportedRequest)
			return nil
		}
		blockSize, err := t.logicalBlockSize()
		if err != nil {
			return err
		}
		if uint32(len(t.request.DataOut)) < blockSize {
			t.checkCondition(scsi.IllegalRequest, scsi.AscParameterListLengthError)
			return nil
		}
		t.response.DataOutLength = int(blockSize)
	}
	for _, chunk := range blocks.chunks() {
		nvmeCommand := nvme.NewWriteZeroesCommand(t.channel.namespaceId, chunk.lba, chunk.blocks, unmap)
		if _, err := t.submit(nvmeCommand, nil, false); err != nil {
			return err
		}
	}
	return nil
}

// synchronizeCache Implements SCSI SYNCHRONIZE CACHE(10) and (16)
// The range and IMMED are ignored; the whole namespace is flushed.
// Reference : SBC3r27
// 5.22 - SYNCHRONIZE CACHE (10)
func (t *task) synchronizeCache() error {
	namespaceId := t.channel.namespaceId
	if namespaceId == 0 {
		namespaceId = nvme.BroadcastNamespace
	}
	_, err := t.submit(nvme.NewFlushCommand(namespaceId), nil, false)
	return err
}

// startStopUnit Implements SCSI START STOP UNIT command
// Power conditions become NVMe power states: active is power state 0,
// idle and standby the deepest supported state.
// Reference : SBC3r27
// 5.20 - START STOP UNIT
func (t *task) startStopUnit() error {
	const (
		startBitMask             = byte(0x01)
		loadEjectBitMask         = byte(0x02)
		noFlushBitMask           = byte(0x04)
		powerConditionShift      = 4
		powerConditionStartValid = byte(0x0)
		powerConditionActive     = byte(0x1)
		powerConditionIdle       = byte(0x2)
		powerConditionStandby    = byte(0x3)
	)
	if t.cdb[4]&loadEjectBitMask != 0 {
		t.invalidCdbField(4, 1)
		return nil
	}
	powerCondition := t.cdb[4] >> powerConditionShift
	start := t.cdb[4]&startBitMask != 0
	identify, err := t.identifyController()
	if err != nil {
		return err
	}
	deepest := uint32(identify.PowerStates())
	var powerState uint32
	switch powerCondition {
	case powerConditionStartValid:
		if !start {
			powerState = deepest
		}
	case powerConditionActive:
		powerState = 0
	case powerConditionIdle, powerConditionStandby:
		powerState = deepest
	default:
		t.invalidCdbField(4, 7)
		return nil
	}
	if powerState != 0 && t.cdb[4]&noFlushBitMask == 0 {
		if err := t.synchronizeCache(); err != nil {
			return err
		}
	}
	command := nvme.NewSetFeaturesCommand(nvme.FeaturePowerManagement, 0, powerState)
	_, err = t.submit(command, nil, true)
	return err
}
