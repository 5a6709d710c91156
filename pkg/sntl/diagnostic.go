// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package sntl

import (
	"nvmesntl/pkg/common"
	"nvmesntl/pkg/nvme"
	"nvmesntl/pkg/wire"
	"os"
	"unsafe"

	"github.com/pkg/errors"
)

// SCSI self-test codes, SEND DIAGNOSTIC byte 1 bits 7:5
const (
	selfTestCodeNone               = byte(0x0)
	selfTestCodeBackgroundShort    = byte(0x1)
	selfTestCodeBackgroundExtended = byte(0x2)
	selfTestCodeAbortBackground    = byte(0x4)
	selfTestCodeForegroundShort    = byte(0x5)
	selfTestCodeForegroundExtended = byte(0x6)
)

var selfTestCodes = map[byte]byte{
	selfTestCodeBackgroundShort:    nvme.SelfTestShort,
	selfTestCodeBackgroundExtended: nvme.SelfTestExtended,
	selfTestCodeAbortBackground:    nvme.SelfTestAbort,
	selfTestCodeForegroundShort:    nvme.SelfTestShort,
	selfTestCodeForegroundExtended: nvme.SelfTestExtended,
}

// IsPageAligned reports whether buf starts on a memory page boundary.
// NVMe-MI tunnelled transfers need that.
func IsPageAligned(buf []byte) bool {
	if len(buf) == 0 {
		return true
	}
	return uintptr(unsafe.Pointer(&buf[0]))%uintptr(os.Getpagesize()) == 0
}

// NewAlignedBuffer returns a zeroed page aligned buffer of size bytes.
func NewAlignedBuffer(size int) []byte {
	pageSize := os.Getpagesize()
	raw := make([]byte, size+pageSize)
	offset := 0
	if misalignment := int(uintptr(unsafe.Pointer(&raw[0])) % uintptr(pageSize)); misalignment != 0 {
		offset = pageSize - misalignment
	}
	return raw[offset : offset+size : offset+size]
}

func (t *task) selfTest(code byte) error {
	identify, err := t.identifyController()
	if err != nil {
		return err
	}
	if !identify.SupportsSelfTest() {
		t.invalidCdbField(1, 7)
		return nil
	}
	command := nvme.NewDeviceSelfTestCommand(nvme.BroadcastNamespace, code)
	_, err = t.submit(command, nil, true)
	return err
}

// sendDiagnostic Implements SCSI SEND DIAGNOSTIC command
// Self-test codes start an NVMe device self-test. A diagnostic page
// (PF set with a parameter list) is tunnelled through NVMe-MI Send.
// Reference : SPC4r11
// 6.42 - SEND DIAGNOSTIC
func (t *task) sendDiagnostic() error {
	const (
		selfTestCodeShift = 5
		pageFormatBitMask = byte(0x10)
		selfTestBitMask   = byte(0x04)
	)
	selfTestCode := t.cdb[1] >> selfTestCodeShift
	pageFormat := t.cdb[1]&pageFormatBitMask != 0
	selfTest := t.cdb[1]&selfTestBitMask != 0
	parameterListLength := int(wire.GetBe16(t.cdb, 3))

	if selfTest {
		if selfTestCode != selfTestCodeNone {
			t.invalidCdbField(1, 2)
			return nil
		}
		return t.selfTest(nvme.SelfTestShort)
	}
	if selfTestCode != selfTestCodeNone {
		code, ok := selfTestCodes[selfTestCode]
		if !ok {
			t.invalidCdbField(1, 7)
			return nil
		}
		return t.selfTest(code)
	}
	if !pageFormat || parameterListLength == 0 {
		return nil
	}
	if parameterListLength > len(t.request.DataOut) {
		return errors.Wrapf(
			common.ErrBadParams,
			"parameter list of %d bytes, data-out has %d",
			parameterListLength,
			len(t.request.DataOut),
		)
	}
	parameters := t.request.DataOut[:parameterListLength]
	if !IsPageAligned(parameters) {
		return errors.Wrap(common.ErrBadParams, "diagnostic page buffer is not page aligned")
	}
	identify, err := t.identifyController()
	if err != nil {
		return err
	}
	if !identify.SupportsNvmeMi() {
		t.invalidCdbField(1, 4)
		return nil
	}
	command := nvme.NewMiCommand(nvme.AdminMiSend, nvme.MiSesSend, parameters[0], uint32(parameterListLength))
	if _, err := t.submit(command, parameters, true); err != nil {
		return err
	}
	t.response.DataOutLength = parameterListLength
	return nil
}

// receiveDiagnostic Implements SCSI RECEIVE DIAGNOSTIC RESULTS command
// The page is fetched with NVMe-MI Receive. Without PCV the supported
// diagnostic pages page is returned.
// Reference : SPC4r11
// 6.27 - RECEIVE DIAGNOSTIC RESULTS
func (t *task) receiveDiagnostic() error {
	const pageCodeValidBitMask = byte(0x01)
	pageCode := byte(0x00)
	if t.cdb[1]&pageCodeValidBitMask != 0 {
		pageCode = t.cdb[2]
	}
	allocationLength := int(wire.GetBe16(t.cdb, 3))
	if allocationLength > len(t.request.DataIn) {
		allocationLength = len(t.request.DataIn)
	}
	if allocationLength == 0 {
		return nil
	}
	buffer := t.request.DataIn[:allocationLength]
	if !IsPageAligned(buffer) {
		return errors.Wrap(common.ErrBadParams, "diagnostic page buffer is not page aligned")
	}
	identify, err := t.identifyController()
	if err != nil {
		return err
	}
	if !identify.SupportsNvmeMi() {
		t.invalidCdbField(1, 0)
		return nil
	}
	command := nvme.NewMiCommand(nvme.AdminMiReceive, nvme.MiSesReceive, pageCode, uint32(allocationLength))
	if _, err := t.submit(command, buffer, true); err != nil {
		return err
	}
	length := allocationLength
	if allocationLength >= 4 {
		if pageLength := int(wire.GetBe16(buffer, 2)) + 4; pageLength < length {
			length = pageLength
		}
	}
	t.response.DataInLength = length
	return nil
}
