// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package main

import (
	"nvmesntl/pkg/passthru"
	"nvmesntl/pkg/scsi"
	"nvmesntl/pkg/sntl"
	"nvmesntl/pkg/wire"
	"os"
	"time"

	"github.com/pkg/errors"
)

const (
	diagnosticAllocationLength = 4096
	selfTestPollInterval       = 2 * time.Second
)

// SCSI self-test codes accepted by --selftest.
var selfTestCodes = map[string]byte{
	"short":               0x1,
	"extended":            0x2,
	"abort":               0x4,
	"foreground-short":    0x5,
	"foreground-extended": 0x6,
}

func addSendDiagnosticCli(client *Client) {
	selfTest, page := "", ""
	wait := false
	command := client.addDeviceCommand(
		CommandSendDiagnostic,
		"Start a self-test or send a diagnostic page with SEND DIAGNOSTIC.",
		func(device *passthru.Device) error {
			return client.PerformSendDiagnostic(device, selfTest, page, wait)
		},
	)
	flags := command.Flags()
	flags.StringVar(&selfTest, "selftest", "", "short, extended, abort, foreground-short or foreground-extended; default self-test when empty")
	flags.StringVarP(&page, "page", "p", "", "file holding a diagnostic page to send")
	flags.BoolVarP(&wait, "wait", "w", false, "poll REQUEST SENSE until the progress indication clears")
}

func addReceiveDiagnosticCli(client *Client) {
	page := -1
	command := client.addDeviceCommand(
		CommandReceiveDiagnostic,
		"Fetch a diagnostic page with RECEIVE DIAGNOSTIC RESULTS.",
		func(device *passthru.Device) error {
			return client.PerformReceiveDiagnostic(device, page)
		},
	)
	command.Flags().IntVarP(&page, "page", "p", -1, "page code, supported pages when omitted")
}

func (client *Client) PerformSendDiagnostic(device *passthru.Device, selfTest, page string, wait bool) error {
	const (
		selfTestCodeShift = 5
		pageFormatBit     = byte(0x10)
		selfTestBit       = byte(0x04)
	)
	cdb := make([]byte, 6)
	cdb[0] = byte(scsi.SendDiagnostic)
	var parameters []byte
	switch {
	case page != "":
		if selfTest != "" {
			return syntaxError(errors.New("--page and --selftest exclude each other"))
		}
		data, err := os.ReadFile(page)
		if err != nil {
			return fileError(err)
		}
		if len(data) == 0 || len(data) > 0xffff {
			return fileError(errors.Errorf("diagnostic page %s of %d bytes", page, len(data)))
		}
		parameters = sntl.NewAlignedBuffer(len(data))
		copy(parameters, data)
		cdb[1] = pageFormatBit
		wire.PutBe16(uint16(len(parameters)), cdb, 3)
	case selfTest != "":
		code, ok := selfTestCodes[selfTest]
		if !ok {
			return syntaxError(errors.Errorf("unknown self-test %q", selfTest))
		}
		cdb[1] = code << selfTestCodeShift
	default:
		cdb[1] = selfTestBit
	}
	if _, err := client.execute(device, cdb, nil, parameters); err != nil {
		return err
	}
	if parameters != nil {
		client.printf("%d bytes of page 0x%02x sent\n", len(parameters), parameters[0])
		return nil
	}
	client.printf("%s: self-test started\n", device.Path())
	if !wait {
		return nil
	}
	return client.waitForSelfTest(device)
}

// waitForSelfTest polls REQUEST SENSE with a fixed interval while the
// sense data carries a progress indication.
func (client *Client) waitForSelfTest(device *passthru.Device) error {
	for {
		data, _, err := client.requestSense(device, false)
		if err != nil {
			return err
		}
		progress, ok := data.Progress()
		if !ok {
			client.printf("%s: self-test complete\n", device.Path())
			return nil
		}
		client.printf("Progress: %.1f%%\n", float64(progress)*100/65536)
		time.Sleep(selfTestPollInterval)
	}
}

func (client *Client) PerformReceiveDiagnostic(device *passthru.Device, page int) error {
	const pageCodeValidBit = byte(0x01)
	cdb := make([]byte, 6)
	cdb[0] = byte(scsi.ReceiveDiagnosticResults)
	if page >= 0 {
		pageCode, err := byteFlag("page", page)
		if err != nil {
			return err
		}
		cdb[1] = pageCodeValidBit
		cdb[2] = pageCode
	}
	wire.PutBe16(diagnosticAllocationLength, cdb, 3)
	context, err := client.execute(device, cdb, sntl.NewAlignedBuffer(diagnosticAllocationLength), nil)
	if err != nil {
		return err
	}
	return client.printResponse(context.DataIn(), func(data []byte) error {
		if len(data) < 4 {
			return malformedError("diagnostic page of %d bytes", len(data))
		}
		payload := data[4:]
		if length := int(wire.GetBe16(data, 2)); length < len(payload) {
			payload = payload[:length]
		}
		if data[0] != 0x00 {
			client.printf("Diagnostic page 0x%02x, %d bytes:\n", data[0], len(payload))
			client.printHex(payload)
			return nil
		}
		client.printf("Supported diagnostic pages:\n")
		for _, code := range payload {
			client.printf("  0x%02x\n", code)
		}
		return nil
	})
}
