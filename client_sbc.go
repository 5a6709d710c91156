// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package main

import (
	"nvmesntl/pkg/passthru"
	"nvmesntl/pkg/scsi"
	"nvmesntl/pkg/wire"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

const (
	readCapacity10Length = 8
	readCapacity16Length = 32
	forceUnitAccessBit   = byte(0x08)
)

type blockTransfer struct {
	lba   uint64
	count uint32
	fua   bool
	file  string
}

func addReadCapacityCli(client *Client) {
	long := false
	command := client.addDeviceCommand(
		CommandReadCapacity,
		"Print the capacity and block size.",
		func(device *passthru.Device) error {
			return client.PerformReadCapacity(device, long)
		},
	)
	command.Flags().BoolVarP(&long, "long", "l", false, "use READ CAPACITY(16)")
}

func addReadCli(client *Client) {
	transfer := blockTransfer{}
	command := client.addDeviceCommand(
		CommandRead,
		"Read blocks with READ(16).",
		func(device *passthru.Device) error {
			return client.PerformRead(device, transfer)
		},
	)
	flags := command.Flags()
	flags.Uint64Var(&transfer.lba, "lba", 0, "first logical block")
	flags.Uint32Var(&transfer.count, "count", 1, "number of blocks")
	flags.BoolVar(&transfer.fua, "fua", false, "force unit access")
	flags.StringVarP(&transfer.file, "out", "o", "", "write the data to this file instead of a hex dump")
}

func addWriteCli(client *Client) {
	transfer := blockTransfer{}
	command := client.addDeviceCommand(
		CommandWrite,
		"Write blocks from a file with WRITE(16).",
		func(device *passthru.Device) error {
			return client.PerformWrite(device, transfer)
		},
	)
	flags := command.Flags()
	flags.Uint64Var(&transfer.lba, "lba", 0, "first logical block")
	flags.Uint32Var(&transfer.count, "count", 0, "number of blocks, the whole file when 0")
	flags.BoolVar(&transfer.fua, "fua", false, "force unit access")
	flags.StringVarP(&transfer.file, "in", "i", "", "file holding the data")
	_ = command.MarkFlagRequired("in")
}

func addVerifyCli(client *Client) {
	transfer := blockTransfer{}
	command := client.addDeviceCommand(
		CommandVerify,
		"Verify blocks with VERIFY(16), comparing them with a file when --in is given.",
		func(device *passthru.Device) error {
			return client.PerformVerify(device, transfer)
		},
	)
	flags := command.Flags()
	flags.Uint64Var(&transfer.lba, "lba", 0, "first logical block")
	flags.Uint32Var(&transfer.count, "count", 1, "number of blocks")
	flags.StringVarP(&transfer.file, "in", "i", "", "compare the medium with this file (BYTCHK 1)")
}

func addSynchronizeCacheCli(client *Client) {
	client.addDeviceCommand(
		CommandSynchronizeCache,
		"Flush the volatile write cache with SYNCHRONIZE CACHE(10).",
		client.PerformSynchronizeCache,
	)
}

func addWriteSameCli(client *Client) {
	transfer := blockTransfer{}
	unmap := false
	command := client.addDeviceCommand(
		CommandWriteSame,
		"Zero blocks with WRITE SAME(16).",
		func(device *passthru.Device) error {
			return client.PerformWriteSame(device, transfer, unmap)
		},
	)
	flags := command.Flags()
	flags.Uint64Var(&transfer.lba, "lba", 0, "first logical block")
	flags.Uint32Var(&transfer.count, "count", 1, "number of blocks")
	flags.BoolVar(&unmap, "unmap", false, "deallocate the blocks")
}

func addStartStopCli(client *Client) {
	stop, noFlush := false, false
	powerCondition := 0
	command := client.addDeviceCommand(
		CommandStartStop,
		"Change the power condition with START STOP UNIT.",
		func(device *passthru.Device) error {
			return client.PerformStartStop(device, !stop, noFlush, powerCondition)
		},
	)
	flags := command.Flags()
	flags.BoolVar(&stop, "stop", false, "stop instead of start")
	flags.BoolVar(&noFlush, "no-flush", false, "do not flush the cache before stopping")
	flags.IntVar(&powerCondition, "power-condition", 0, "POWER CONDITION field, 0 uses START")
}

// blockGeometry returns the number of blocks and the block size.
// READ CAPACITY(16) is used when asked for or when the 10 byte form
// cannot express the size.
func (client *Client) blockGeometry(device *passthru.Device, long bool) (uint64, uint32, []byte, error) {
	if !long {
		cdb := make([]byte, 10)
		cdb[0] = byte(scsi.ReadCapacity10)
		context, err := client.execute(device, cdb, make([]byte, readCapacity10Length), nil)
		if err != nil {
			return 0, 0, nil, err
		}
		data := context.DataIn()
		if len(data) < readCapacity10Length {
			return 0, 0, nil, malformedError("READ CAPACITY(10) data of %d bytes", len(data))
		}
		if lastLba := wire.GetBe32(data, 0); lastLba != 0xffffffff {
			return uint64(lastLba) + 1, wire.GetBe32(data, 4), data, nil
		}
	}
	cdb := make([]byte, 16)
	cdb[0] = byte(scsi.ServiceActionIn16)
	cdb[1] = scsi.ServiceActionReadCapacity16
	wire.PutBe32(readCapacity16Length, cdb, 10)
	context, err := client.execute(device, cdb, make([]byte, readCapacity16Length), nil)
	if err != nil {
		return 0, 0, nil, err
	}
	data := context.DataIn()
	if len(data) < 12 {
		return 0, 0, nil, malformedError("READ CAPACITY(16) data of %d bytes", len(data))
	}
	return wire.GetBe64(data, 0) + 1, wire.GetBe32(data, 8), data, nil
}

func (client *Client) PerformReadCapacity(device *passthru.Device, long bool) error {
	blocks, blockSize, data, err := client.blockGeometry(device, long)
	if err != nil {
		return err
	}
	return client.printResponse(data, func(data []byte) error {
		client.printf("Last LBA: %d\n", blocks-1)
		client.printf("Block size: %d\n", blockSize)
		client.printf("Capacity: %d blocks, %s\n", blocks, humanize.IBytes(blocks*uint64(blockSize)))
		if len(data) > 14 {
			client.printf("Thin provisioned: %t\n", data[14]&0x80 != 0)
		}
		return nil
	})
}

func blockCdb(opcode scsi.CommandType, transfer blockTransfer) []byte {
	cdb := make([]byte, 16)
	cdb[0] = byte(opcode)
	if transfer.fua {
		cdb[1] |= forceUnitAccessBit
	}
	wire.PutBe64(transfer.lba, cdb, 2)
	wire.PutBe32(transfer.count, cdb, 10)
	return cdb
}

func (client *Client) PerformRead(device *passthru.Device, transfer blockTransfer) error {
	_, blockSize, _, err := client.blockGeometry(device, false)
	if err != nil {
		return err
	}
	buffer := make([]byte, uint64(transfer.count)*uint64(blockSize))
	context, err := client.execute(device, blockCdb(scsi.Read16, transfer), buffer, nil)
	if err != nil {
		return err
	}
	if transfer.file != "" {
		if err := os.WriteFile(transfer.file, context.DataIn(), 0o644); err != nil {
			return fileError(err)
		}
		client.printf("%d bytes written to %s\n", len(context.DataIn()), transfer.file)
		return nil
	}
	client.printHex(context.DataIn())
	return nil
}

// readBlocks loads the data-out buffer of a write or compare, deriving
// the block count from the file size when it is not given.
func readBlocks(transfer *blockTransfer, blockSize uint32) ([]byte, error) {
	data, err := os.ReadFile(transfer.file)
	if err != nil {
		return nil, fileError(err)
	}
	if transfer.count == 0 {
		transfer.count = uint32(uint64(len(data)) / uint64(blockSize))
	}
	length := uint64(transfer.count) * uint64(blockSize)
	if uint64(len(data)) < length {
		return nil, fileError(errors.Errorf(
			"%s holds %d bytes, %d blocks need %d",
			transfer.file,
			len(data),
			transfer.count,
			length,
		))
	}
	return data[:length], nil
}

func (client *Client) PerformWrite(device *passthru.Device, transfer blockTransfer) error {
	_, blockSize, _, err := client.blockGeometry(device, false)
	if err != nil {
		return err
	}
	data, err := readBlocks(&transfer, blockSize)
	if err != nil {
		return err
	}
	context, err := client.execute(device, blockCdb(scsi.Write16, transfer), nil, data)
	if err != nil {
		return err
	}
	client.printf("%d blocks written at LBA %d\n", transfer.count, transfer.lba)
	if residual := context.DataOutResidual(); residual != 0 {
		client.printf("Residual: %d bytes\n", residual)
	}
	return nil
}

func (client *Client) PerformVerify(device *passthru.Device, transfer blockTransfer) error {
	const byteCheckOne = byte(0x02)
	var data []byte
	if transfer.file != "" {
		_, blockSize, _, err := client.blockGeometry(device, false)
		if err != nil {
			return err
		}
		if data, err = readBlocks(&transfer, blockSize); err != nil {
			return err
		}
	}
	cdb := blockCdb(scsi.Verify16, transfer)
	if data != nil {
		cdb[1] |= byteCheckOne
	}
	if _, err := client.execute(device, cdb, nil, data); err != nil {
		return err
	}
	client.printf("%d blocks verified at LBA %d\n", transfer.count, transfer.lba)
	return nil
}

func (client *Client) PerformSynchronizeCache(device *passthru.Device) error {
	cdb := make([]byte, 10)
	cdb[0] = byte(scsi.SynchronizeCache10)
	if _, err := client.execute(device, cdb, nil, nil); err != nil {
		return err
	}
	client.printf("%s: cache synchronized\n", device.Path())
	return nil
}

func (client *Client) PerformWriteSame(device *passthru.Device, transfer blockTransfer, unmap bool) error {
	const unmapBit = byte(0x08)
	_, blockSize, _, err := client.blockGeometry(device, false)
	if err != nil {
		return err
	}
	cdb := blockCdb(scsi.WriteSame16, transfer)
	if unmap {
		cdb[1] |= unmapBit
	}
	if _, err := client.execute(device, cdb, nil, make([]byte, blockSize)); err != nil {
		return err
	}
	client.printf("%d blocks zeroed at LBA %d\n", transfer.count, transfer.lba)
	return nil
}

func (client *Client) PerformStartStop(device *passthru.Device, start, noFlush bool, powerCondition int) error {
	if powerCondition < 0 || powerCondition > 0x0f {
		return syntaxError(errors.Errorf("power condition %d outside 0..15", powerCondition))
	}
	cdb := make([]byte, 6)
	cdb[0] = byte(scsi.StartStop)
	cdb[4] = byte(powerCondition) << 4
	if noFlush {
		cdb[4] |= 0x04
	}
	if start {
		cdb[4] |= 0x01
	}
	if _, err := client.execute(device, cdb, nil, nil); err != nil {
		return err
	}
	client.printf("%s: power condition changed\n", device.Path())
	return nil
}
