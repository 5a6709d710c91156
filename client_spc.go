// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package main

import (
	"nvmesntl/pkg/passthru"
	"nvmesntl/pkg/scsi"
	"nvmesntl/pkg/sntl"
	"nvmesntl/pkg/wire"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const (
	inquiryAllocationLength      = 0xff
	reportLunsAllocationLength   = 8 + 8*256
	requestSenseAllocationLength = 252
	modeSenseAllocationLength    = 1024
	opcodesAllocationLength      = 4096
	standardInquiryLength        = 36
)

func addInquiryCli(client *Client) {
	page := -1
	command := client.addDeviceCommand(
		CommandInquiry,
		"Print standard INQUIRY data or a vital product data page.",
		func(device *passthru.Device) error {
			return client.PerformInquiry(device, page)
		},
	)
	command.Flags().IntVarP(&page, "page", "p", -1, "VPD page code, standard data when omitted")
}

func addReportLunsCli(client *Client) {
	selectReport := 0
	command := client.addDeviceCommand(
		CommandReportLuns,
		"List logical units with REPORT LUNS.",
		func(device *passthru.Device) error {
			return client.PerformReportLuns(device, selectReport)
		},
	)
	command.Flags().IntVarP(&selectReport, "select", "s", 0, "SELECT REPORT field")
}

func addTestUnitReadyCli(client *Client) {
	client.addDeviceCommand(
		CommandTestUnitReady,
		"Check that the device is ready.",
		client.PerformTestUnitReady,
	)
}

func addRequestSenseCli(client *Client) {
	descriptor := false
	command := client.addDeviceCommand(
		CommandRequestSense,
		"Fetch sense data with REQUEST SENSE.",
		func(device *passthru.Device) error {
			return client.PerformRequestSense(device, descriptor)
		},
	)
	command.Flags().BoolVarP(&descriptor, "desc", "d", false, "request descriptor format")
}

func addModeSenseCli(client *Client) {
	page, subPage, pageControl := 0x3f, 0, 0
	command := client.addDeviceCommand(
		CommandModeSense,
		"Print mode pages with MODE SENSE(10).",
		func(device *passthru.Device) error {
			return client.PerformModeSense(device, page, subPage, pageControl)
		},
	)
	command.Flags().IntVarP(&page, "page", "p", 0x3f, "page code, 0x3f for all pages")
	command.Flags().IntVar(&subPage, "subpage", 0, "sub-page code")
	command.Flags().IntVar(&pageControl, "control", 0, "page control: 0 current, 1 changeable, 2 default, 3 saved")
}

func addModeSelectOverrideCli(client *Client) {
	command := &cobra.Command{
		Use:   CommandModeSelectOverride + " DEVICE OVERRIDE",
		Short: "Set the enclosure override of an NVMe device through the vendor mode page.",
		Long: "OVERRIDE is one of none, ses, disk-with-ses, safte or normal-disk.\n" +
			"The device reports the resulting peripheral device type afterwards.",
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.ExactArgs(2)(cmd, args); err != nil {
				return syntaxError(err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			override, err := sntl.ParseEnclosureOverride(args[1])
			if err != nil {
				return syntaxError(err)
			}
			return client.withDevice(cmd, args[0], func(device *passthru.Device) error {
				return client.PerformModeSelectOverride(device, override)
			})
		},
	}
	client.root.AddCommand(command)
}

func addOpcodesCli(client *Client) {
	client.addDeviceCommand(
		CommandOpcodes,
		"List supported commands with REPORT SUPPORTED OPERATION CODES.",
		client.PerformOpcodes,
	)
}

func addTaskManagementCli(client *Client) {
	extended := false
	command := client.addDeviceCommand(
		CommandTaskManagement,
		"List supported task management functions.",
		func(device *passthru.Device) error {
			return client.PerformTaskManagement(device, extended)
		},
	)
	command.Flags().BoolVar(&extended, "extended", false, "request the extended parameter data (REPD)")
}

func byteFlag(name string, value int) (byte, error) {
	if value < 0 || value > 0xff {
		return 0, syntaxError(errors.Errorf("--%s %d is not a byte", name, value))
	}
	return byte(value), nil
}

func (client *Client) PerformInquiry(device *passthru.Device, page int) error {
	cdb := make([]byte, 6)
	cdb[0] = byte(scsi.Inquiry)
	if page >= 0 {
		pageCode, err := byteFlag("page", page)
		if err != nil {
			return err
		}
		cdb[1] = 0x01
		cdb[2] = pageCode
	}
	wire.PutBe16(inquiryAllocationLength, cdb, 3)
	context, err := client.execute(device, cdb, make([]byte, inquiryAllocationLength), nil)
	if err != nil {
		return err
	}
	if page < 0 {
		return client.printResponse(context.DataIn(), client.printStandardInquiry)
	}
	return client.printResponse(context.DataIn(), client.printVpdPage)
}

func (client *Client) printStandardInquiry(data []byte) error {
	if len(data) < standardInquiryLength {
		return malformedError("standard INQUIRY data of %d bytes", len(data))
	}
	deviceType := data[0] & 0x1f
	client.printf("Peripheral device type: 0x%02x (%s)\n", deviceType, peripheralDeviceTypeName(deviceType))
	client.printf("Version: 0x%02x\n", data[2])
	client.printf("Enclosure services: %t\n", data[6]&0x40 != 0)
	client.printf("Vendor:   %s\n", scsi.TrimField(data[8:16]))
	client.printf("Product:  %s\n", scsi.TrimField(data[16:32]))
	client.printf("Revision: %s\n", scsi.TrimField(data[32:36]))
	return nil
}

func (client *Client) printVpdPage(data []byte) error {
	if len(data) < 4 {
		return malformedError("VPD page of %d bytes", len(data))
	}
	pageCode := data[1]
	payload := data[4:]
	if length := int(wire.GetBe16(data, 2)); length < len(payload) {
		payload = payload[:length]
	}
	switch pageCode {
	case 0x00:
		client.printf("Supported VPD pages:\n")
		for _, code := range payload {
			client.printf("  0x%02x\n", code)
		}
	case 0x80:
		client.printf("Unit serial number: %s\n", scsi.TrimField(payload))
	default:
		client.printf("VPD page 0x%02x, %d bytes:\n", pageCode, len(payload))
		client.printHex(payload)
	}
	return nil
}

func (client *Client) PerformReportLuns(device *passthru.Device, selectReport int) error {
	selectField, err := byteFlag("select", selectReport)
	if err != nil {
		return err
	}
	cdb := make([]byte, 12)
	cdb[0] = byte(scsi.ReportLuns)
	cdb[2] = selectField
	wire.PutBe32(reportLunsAllocationLength, cdb, 6)
	context, err := client.execute(device, cdb, make([]byte, reportLunsAllocationLength), nil)
	if err != nil {
		return err
	}
	return client.printResponse(context.DataIn(), func(data []byte) error {
		if len(data) < 8 {
			return malformedError("REPORT LUNS data of %d bytes", len(data))
		}
		count := int(wire.GetBe32(data, 0)) / 8
		client.printf("%d logical units\n", count)
		for i := 0; i < count && 8+8*i+8 <= len(data); i++ {
			entry := data[8+8*i:]
			client.printf("  LUN %d\n", wire.GetBe16(entry, 0)&0x3fff)
		}
		return nil
	})
}

func (client *Client) PerformTestUnitReady(device *passthru.Device) error {
	if _, err := client.execute(device, make([]byte, 6), nil, nil); err != nil {
		return err
	}
	client.printf("%s: ready\n", device.Path())
	return nil
}

// requestSense returns the sense data REQUEST SENSE transfers.
func (client *Client) requestSense(device *passthru.Device, descriptor bool) (scsi.SenseData, []byte, error) {
	cdb := make([]byte, 6)
	cdb[0] = byte(scsi.RequestSense)
	if descriptor {
		cdb[1] = 0x01
	}
	cdb[4] = requestSenseAllocationLength
	context, err := client.execute(device, cdb, make([]byte, requestSenseAllocationLength), nil)
	if err != nil {
		return scsi.SenseData{}, nil, err
	}
	raw := context.DataIn()
	data, ok := scsi.ParseSense(raw)
	if !ok {
		return data, raw, malformedError("REQUEST SENSE returned % x", raw)
	}
	return data, raw, nil
}

func (client *Client) PerformRequestSense(device *passthru.Device, descriptor bool) error {
	data, raw, err := client.requestSense(device, descriptor)
	if err != nil {
		return err
	}
	return client.printResponse(raw, func([]byte) error {
		client.printf("%s\n", data)
		if progress, ok := data.Progress(); ok {
			client.printf("Progress: %.1f%%\n", float64(progress)*100/65536)
		}
		return nil
	})
}

func (client *Client) PerformModeSense(device *passthru.Device, page, subPage, pageControl int) error {
	pageCode, err := byteFlag("page", page)
	if err != nil {
		return err
	}
	subPageCode, err := byteFlag("subpage", subPage)
	if err != nil {
		return err
	}
	if pageControl < 0 || pageControl > 3 || pageCode > 0x3f {
		return syntaxError(errors.Errorf("page 0x%02x with page control %d", pageCode, pageControl))
	}
	cdb := make([]byte, 10)
	cdb[0] = byte(scsi.ModeSense10)
	cdb[2] = byte(pageControl)<<6 | pageCode
	cdb[3] = subPageCode
	wire.PutBe16(modeSenseAllocationLength, cdb, 7)
	context, err := client.execute(device, cdb, make([]byte, modeSenseAllocationLength), nil)
	if err != nil {
		return err
	}
	return client.printResponse(context.DataIn(), client.printModePages)
}

func (client *Client) printModePages(data []byte) error {
	if len(data) < 8 {
		return malformedError("mode parameter data of %d bytes", len(data))
	}
	end := min(int(wire.GetBe16(data, 0))+2, len(data))
	offset := 8 + int(wire.GetBe16(data, 6))
	client.printf("Device specific parameter: 0x%02x\n", data[3])
	for offset+2 <= end {
		pageCode := data[offset] & 0x3f
		headerLength, length := 2, int(data[offset+1])
		if data[offset]&0x40 != 0 {
			if offset+4 > end {
				break
			}
			headerLength, length = 4, int(wire.GetBe16(data, offset+2))
		}
		body := data[offset+headerLength : min(offset+headerLength+length, end)]
		client.printf("Page 0x%02x (%s), %d bytes: % x\n", pageCode, modePageName(pageCode), len(body), body)
		offset += headerLength + length
	}
	return nil
}

// PerformModeSelectOverride writes the vendor mode page and re-reads the
// standard INQUIRY data the override changes.
func (client *Client) PerformModeSelectOverride(device *passthru.Device, override sntl.EnclosureOverride) error {
	const (
		headerLength  = 8
		pageLength    = 6
		pageFormatBit = byte(0x10)
	)
	parameters := make([]byte, headerLength, headerLength+2+pageLength)
	parameters = append(parameters, 0x00, pageLength, byte(override))
	parameters = append(parameters, make([]byte, pageLength-1)...)
	cdb := make([]byte, 10)
	cdb[0] = byte(scsi.ModeSelect10)
	cdb[1] = pageFormatBit
	wire.PutBe16(uint16(len(parameters)), cdb, 7)
	if _, err := client.execute(device, cdb, nil, parameters); err != nil {
		return err
	}
	client.printf("Enclosure override: %s\n", override)

	inquiry := make([]byte, 6)
	inquiry[0] = byte(scsi.Inquiry)
	inquiry[4] = standardInquiryLength
	context, err := client.execute(device, inquiry, make([]byte, standardInquiryLength), nil)
	if err != nil {
		return err
	}
	data := context.DataIn()
	if len(data) == 0 {
		return malformedError("empty INQUIRY data")
	}
	deviceType := data[0] & 0x1f
	client.printf("Peripheral device type: 0x%02x (%s)\n", deviceType, peripheralDeviceTypeName(deviceType))
	return nil
}

func (client *Client) PerformOpcodes(device *passthru.Device) error {
	cdb := make([]byte, 12)
	cdb[0] = byte(scsi.MaintenanceIn)
	cdb[1] = scsi.ServiceActionReportSupportedOperationCodes
	wire.PutBe32(opcodesAllocationLength, cdb, 6)
	context, err := client.execute(device, cdb, make([]byte, opcodesAllocationLength), nil)
	if err != nil {
		return err
	}
	return client.printResponse(context.DataIn(), func(data []byte) error {
		if len(data) < 4 {
			return malformedError("operation codes data of %d bytes", len(data))
		}
		end := min(int(wire.GetBe32(data, 0))+4, len(data))
		for offset := 4; offset+8 <= end; {
			descriptor := data[offset : offset+8]
			name := scsi.CommandType(descriptor[0]).String()
			if descriptor[5]&0x01 != 0 {
				client.printf("0x%02x/0x%02x  %-28s cdb %d\n", descriptor[0], wire.GetBe16(descriptor, 2), name, wire.GetBe16(descriptor, 6))
			} else {
				client.printf("0x%02x       %-28s cdb %d\n", descriptor[0], name, wire.GetBe16(descriptor, 6))
			}
			offset += 8
			if descriptor[5]&0x02 != 0 {
				offset += 12
			}
		}
		return nil
	})
}

func (client *Client) PerformTaskManagement(device *passthru.Device, extended bool) error {
	const allocationLength = 16
	cdb := make([]byte, 12)
	cdb[0] = byte(scsi.MaintenanceIn)
	cdb[1] = scsi.ServiceActionReportSupportedTaskManagementFunctions
	if extended {
		cdb[2] = 0x80
	}
	wire.PutBe32(allocationLength, cdb, 6)
	context, err := client.execute(device, cdb, make([]byte, allocationLength), nil)
	if err != nil {
		return err
	}
	return client.printResponse(context.DataIn(), func(data []byte) error {
		if len(data) < 4 {
			return malformedError("task management data of %d bytes", len(data))
		}
		for bit, name := range taskManagementFunctionNames {
			if data[0]&(0x80>>bit) != 0 {
				client.printf("%s\n", name)
			}
		}
		return nil
	})
}
