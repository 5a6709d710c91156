// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package main

import (
	"fmt"
	"nvmesntl/pkg/nvme"
	"nvmesntl/pkg/passthru"
	"nvmesntl/pkg/scsi"
	"nvmesntl/pkg/transport"
	"nvmesntl/pkg/transport/simulated"
	"nvmesntl/pkg/wire"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const defaultJournalLimit = 20

func addNvmeIdentifyCli(client *Client) {
	cns := int(nvme.CnsController)
	namespaceId := uint32(0)
	command := client.addDeviceCommand(
		CommandNvmeIdentify,
		"Send a raw NVMe Identify command, bypassing the translation.",
		func(device *passthru.Device) error {
			return client.PerformNvmeIdentify(device, cns, namespaceId)
		},
	)
	command.Flags().IntVar(&cns, "cns", int(nvme.CnsController), "CNS: 0 namespace, 1 controller, 2 active namespace list")
	command.Flags().Uint32Var(&namespaceId, "nsid", 0, "namespace identifier")
}

func addClassifyCli(client *Client) {
	command := &cobra.Command{
		Use:   CommandClassify + " DEVICE...",
		Short: "Print the device kind of each path without sending commands.",
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.MinimumNArgs(1)(cmd, args); err != nil {
				return syntaxError(err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				client.printf("%s: %s\n", path, classify(path))
			}
			return nil
		},
	}
	client.root.AddCommand(command)
}

func addJournalCli(client *Client) {
	device := ""
	limit, prune := defaultJournalLimit, -1
	command := &cobra.Command{
		Use:   CommandJournal,
		Short: "List recently executed commands from the journal.",
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.NoArgs(cmd, args); err != nil {
				return syntaxError(err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.start(cmd); err != nil {
				return err
			}
			defer client.stop()
			return client.PerformJournal(device, limit, prune)
		},
	}
	flags := command.Flags()
	flags.StringVarP(&device, "device", "d", "", "only commands sent to this device")
	flags.IntVarP(&limit, "limit", "n", defaultJournalLimit, "number of entries")
	flags.IntVar(&prune, "prune", -1, "drop all but this many newest entries first")
	client.root.AddCommand(command)
}

func classify(path string) transport.DeviceKind {
	if !simulated.IsSimulatedPath(path) {
		return transport.ClassifyLink(path)
	}
	if path == simulated.PathPrefix {
		return transport.KindNvmeController
	}
	return transport.KindNvmeNamespace
}

func (client *Client) PerformNvmeIdentify(device *passthru.Device, cns int, namespaceId uint32) error {
	cnsValue, err := byteFlag("cns", cns)
	if err != nil {
		return err
	}
	if !device.IsNvme() {
		return &exitError{
			category: scsi.CategoryIllegalRequest,
			err:      errors.Errorf("%s is a %s device", device.Path(), device.Kind()),
		}
	}
	command := nvme.NewIdentifyCommand(cnsValue, namespaceId)
	context, err := client.executeNvme(device, command, true, make([]byte, nvme.IdentifyDataLength), nil)
	if err != nil {
		return err
	}
	return client.printResponse(context.DataIn(), func(data []byte) error {
		if len(data) < nvme.IdentifyDataLength {
			return malformedError("identify data of %d bytes", len(data))
		}
		switch cnsValue {
		case nvme.CnsController:
			client.printController(nvme.IdentifyController(data))
		case nvme.CnsNamespace:
			client.printNamespace(nvme.IdentifyNamespace(data))
		case nvme.CnsActiveNamespaceList:
			client.printf("Active namespaces:\n")
			for offset := 0; offset+4 <= len(data); offset += 4 {
				id := wire.GetLe32(data, offset)
				if id == 0 {
					break
				}
				client.printf("  %d\n", id)
			}
		default:
			client.printHex(data)
		}
		return nil
	})
}

func (client *Client) printController(identify nvme.IdentifyController) {
	client.printf("Model:       %s\n", scsi.TrimField(identify.ModelNumber()))
	client.printf("Serial:      %s\n", scsi.TrimField(identify.SerialNumber()))
	client.printf("Firmware:    %s\n", scsi.TrimField(identify.FirmwareRevision()))
	client.printf("Vendor id:   0x%04x\n", identify.VendorId())
	client.printf("Version:     0x%08x\n", identify.Version())
	client.printf("Namespaces:  %d\n", identify.MaxNamespaces())
	client.printf("Power states: %d\n", int(identify.PowerStates())+1)
	client.printf("Write cache: %t\n", identify.VolatileWriteCache())
	client.printf("Self-test:   %t\n", identify.SupportsSelfTest())
	client.printf("NVMe-MI:     %t\n", identify.SupportsNvmeMi())
	client.printf("NQN:         %s\n", scsi.TrimField(identify.SubsystemNqn()))
}

func (client *Client) printNamespace(identify nvme.IdentifyNamespace) {
	blockSize := uint64(identify.LogicalBlockSize())
	client.printf("Size:        %d blocks, %s\n", identify.Size(), humanize.IBytes(identify.Size()*blockSize))
	client.printf("Capacity:    %d blocks\n", identify.Capacity())
	client.printf("Utilization: %d blocks\n", identify.Utilization())
	client.printf("Block size:  %d\n", blockSize)
	client.printf("Thin:        %t\n", identify.ThinProvisioned())
	if guid, ok := identify.NamespaceGUID(); ok {
		client.printf("NGUID:       %s\n", guid)
	}
}

func (client *Client) PerformJournal(device string, limit, prune int) error {
	if client.journal == nil {
		return syntaxError(errors.New("no journal configured, use --journal or the journal config key"))
	}
	if prune >= 0 {
		removed, err := client.journal.Prune(prune)
		if err != nil {
			return fileError(err)
		}
		client.printf("%d entries pruned\n", removed)
	}
	entries, err := client.journal.Recent(device, limit)
	if err != nil {
		return fileError(err)
	}
	for _, entry := range entries {
		name := "empty"
		if len(entry.Cdb) > 0 {
			name = scsi.CommandType(entry.Cdb[0]).String()
			if !scsi.IsCdbShaped(entry.Cdb) {
				name = fmt.Sprintf("NVMe opcode 0x%02x", entry.Cdb[0])
			}
		}
		client.printf(
			"%-14s %-14s %-26s %-24s status 0x%02x nvme 0x%03x %s\n",
			humanize.Time(entry.RecordedAt),
			entry.Device,
			name,
			scsi.Category(entry.Category),
			entry.ScsiStatus,
			entry.NvmeStatus,
			entry.Duration,
		)
	}
	return nil
}
