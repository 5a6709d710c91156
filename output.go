// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"nvmesntl/pkg/scsi"
)

var peripheralDeviceTypeNames = map[byte]string{
	scsi.PeripheralDeviceTypeDisk:      "direct access block device",
	scsi.PeripheralDeviceTypeProcessor: "processor",
	scsi.PeripheralDeviceTypeEnclosure: "enclosure services",
	scsi.PeripheralDeviceTypeUnknown:   "unknown or no device type",
}

func peripheralDeviceTypeName(deviceType byte) string {
	if name, ok := peripheralDeviceTypeNames[deviceType]; ok {
		return name
	}
	return "other"
}

var modePageNames = map[byte]string{
	0x00: "vendor specific",
	0x08: "caching",
	0x0a: "control",
	0x1c: "informational exceptions",
}

func modePageName(pageCode byte) string {
	if name, ok := modePageNames[pageCode]; ok {
		return name
	}
	return "unknown"
}

// Task management functions in byte 0 of the REPORT SUPPORTED TASK
// MANAGEMENT FUNCTIONS response, most significant bit first.
var taskManagementFunctionNames = []string{
	"ABORT TASK",
	"ABORT TASK SET",
	"CLEAR ACA",
	"CLEAR TASK SET",
	"LOGICAL UNIT RESET",
	"QUERY TASK",
	"TARGET RESET",
	"WAKEUP",
}

func (client *Client) out() io.Writer {
	return client.root.OutOrStdout()
}

func (client *Client) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(client.out(), format, args...)
}

func (client *Client) printHex(data []byte) {
	_, _ = io.WriteString(client.out(), hex.Dump(data))
}

// printResponse dumps data when --hex is given, otherwise decodes it.
func (client *Client) printResponse(data []byte, decode func(data []byte) error) error {
	if client.options.hexOutput {
		client.printHex(data)
		return nil
	}
	return decode(data)
}
