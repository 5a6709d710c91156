// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package sntl

import (
	"nvmesntl/pkg/logger"
	"nvmesntl/pkg/scsi"
	"nvmesntl/pkg/wire"
	"sort"
)

const (
	reportAllReportingOption                 = byte(0x00)
	reportSingleReportingOption              = byte(0x01)
	reportSingleServiceActionReportingOption = byte(0x02)
	reportSingleReportingOptionAllowBoth     = byte(0x03)

	supportNotSupported                     = byte(0x01)
	supportStandard                         = byte(0x03)
	commandTimeoutsDescriptorPresentBitMask = byte(0x80)
)

var timeoutsDescriptor = []byte{
	// Descriptor length
	0x00, 0x0a,
	// Reserved
	0x00,
	// Command specific
	0x00,
	// Nominal command processing timeout
	0x00, 0x00, 0x00, 0x00,
	// Recommended command timeout
	0x00, 0x00, 0x00, 0x3c,
}

type commandDescription struct {
	operationCode    scsi.CommandType
	serviceAction    byte
	hasServiceAction bool
	usage            []byte
}

func (description commandDescription) length() byte {
	return byte(len(description.usage))
}

// commandDescriptions lists every emulated command ordered by
// operation code and service action.
var commandDescriptions = sortedCommandDescriptions([]commandDescription{
	{scsi.TestUnitReady, 0, false, testUnitReadyUsage()},
	{scsi.RequestSense, 0, false, requestSenseUsage()},
	{scsi.Inquiry, 0, false, inquiryUsage()},
	{scsi.StartStop, 0, false, startStopUsage()},
	{scsi.ReceiveDiagnosticResults, 0, false, receiveDiagnosticUsage()},
	{scsi.SendDiagnostic, 0, false, sendDiagnosticUsage()},
	{scsi.ReadCapacity10, 0, false, readCapacity10Usage()},
	{scsi.Read10, 0, false, readWrite10Usage(scsi.Read10)},
	{scsi.Write10, 0, false, readWrite10Usage(scsi.Write10)},
	{scsi.Verify10, 0, false, verify10Usage()},
	{scsi.SynchronizeCache10, 0, false, synchronizeCache10Usage()},
	{scsi.WriteSame10, 0, false, writeSame10Usage()},
	{scsi.ModeSelect10, 0, false, modeSelect10Usage()},
	{scsi.ModeSense10, 0, false, modeSense10Usage()},
	{scsi.Read16, 0, false, readWrite16Usage(scsi.Read16)},
	{scsi.Write16, 0, false, readWrite16Usage(scsi.Write16)},
	{scsi.Verify16, 0, false, verify16Usage()},
	{scsi.SynchronizeCache16, 0, false, synchronizeCache16Usage()},
	{scsi.WriteSame16, 0, false, writeSame16Usage()},
	{scsi.ServiceActionIn16, scsi.ServiceActionReadCapacity16, true, readCapacity16Usage()},
	{scsi.ReportLuns, 0, false, reportLunsUsage()},
	{
		scsi.MaintenanceIn,
		scsi.ServiceActionReportSupportedOperationCodes,
		true,
		reportSupportedOperationCodesUsage(),
	},
	{
		scsi.MaintenanceIn,
		scsi.ServiceActionReportSupportedTaskManagementFunctions,
		true,
		reportSupportedTaskManagementFunctionsUsage(),
	},
})

func sortedCommandDescriptions(descriptions []commandDescription) []commandDescription {
	sort.Slice(descriptions, func(i, j int) bool {
		if descriptions[i].operationCode != descriptions[j].operationCode {
			return descriptions[i].operationCode < descriptions[j].operationCode
		}
		return descriptions[i].serviceAction < descriptions[j].serviceAction
	})
	return descriptions
}

// findCommandDescriptions returns the entries of one operation code.
func findCommandDescriptions(operationCode scsi.CommandType) []commandDescription {
	start := sort.Search(len(commandDescriptions), func(i int) bool {
		return commandDescriptions[i].operationCode >= operationCode
	})
	end := start
	for end < len(commandDescriptions) && commandDescriptions[end].operationCode == operationCode {
		end++
	}
	return commandDescriptions[start:end]
}

func testUnitReadyUsage() []byte {
	return []byte{
		byte(scsi.TestUnitReady),
		// Reserved
		0x00, 0x00, 0x00, 0x00,
		// Control
		0x00,
	}
}

func requestSenseUsage() []byte {
	const descriptorFormatBitMask = byte(0x01)
	return []byte{
		byte(scsi.RequestSense),
		descriptorFormatBitMask,
		// Reserved
		0x00, 0x00,
		// Allocation length
		0xff,
		// Control
		0x00,
	}
}

func inquiryUsage() []byte {
	enableVitalProductDataBitmask := byte(0x01)
	return []byte{
		byte(scsi.Inquiry),
		enableVitalProductDataBitmask,
		// page code
		0xff,
		// allocation length
		0xff, 0xff,
		// control not used
		0x00,
	}
}

func startStopUsage() []byte {
	const (
		immediateBitMask      = byte(0x01)
		powerConditionBitMask = byte(0xf0)
		noFlushBitMask        = byte(0x04)
		startBitMask          = byte(0x01)
	)
	return []byte{
		byte(scsi.StartStop),
		immediateBitMask,
		// Reserved
		0x00,
		// Power condition modifier
		0x00,
		powerConditionBitMask | noFlushBitMask | startBitMask,
		// Control
		0x00,
	}
}

func receiveDiagnosticUsage() []byte {
	const pageCodeValidBitMask = byte(0x01)
	return []byte{
		byte(scsi.ReceiveDiagnosticResults),
		pageCodeValidBitMask,
		// Page code
		0xff,
		// Allocation length
		0xff, 0xff,
		// Control
		0x00,
	}
}

func sendDiagnosticUsage() []byte {
	const (
		selfTestCodeBitMask = byte(0xe0)
		pageFormatBitMask   = byte(0x10)
		selfTestBitMask     = byte(0x04)
	)
	return []byte{
		byte(scsi.SendDiagnostic),
		selfTestCodeBitMask | pageFormatBitMask | selfTestBitMask,
		// Reserved
		0x00,
		// Parameter list length
		0xff, 0xff,
		// Control
		0x00,
	}
}

func readCapacity10Usage() []byte {
	return []byte{
		byte(scsi.ReadCapacity10),
		// Reserved
		0x00,
		// obsolete logical block address
		0x00, 0x00, 0x00, 0x00,
		// Reserved
		0x00, 0x00,
		// obsolete PMI
		0x00,
		// control
		0x00,
	}
}

func readWrite10Usage(operationCode scsi.CommandType) []byte {
	return []byte{
		byte(operationCode),
		forceUnitAccessBitMask,
		// Logical block address
		0xff, 0xff, 0xff, 0xff,
		// Group number
		0x00,
		// Transfer length
		0xff, 0xff,
		// control
		0x00,
	}
}

func verify10Usage() []byte {
	const byteCheckBitMask = byte(0x02)
	return []byte{
		byte(scsi.Verify10),
		byteCheckBitMask,
		// Logical block address
		0xff, 0xff, 0xff, 0xff,
		// Group number
		0x00,
		// Verification length
		0xff, 0xff,
		// control
		0x00,
	}
}

func synchronizeCache10Usage() []byte {
	return []byte{
		byte(scsi.SynchronizeCache10),
		// IMMED is accepted and ignored
		0x02,
		// Logical block address
		0xff, 0xff, 0xff, 0xff,
		// Reserved
		0x00,
		// Number of logical blocks
		0xff, 0xff,
		// control
		0x00,
	}
}

func writeSame10Usage() []byte {
	const unmapBitMask = byte(0x08)
	return []byte{
		byte(scsi.WriteSame10),
		unmapBitMask,
		// Logical block address
		0xff, 0xff, 0xff, 0xff,
		// Group number
		0x00,
		// Number of logical blocks
		0xff, 0xff,
		// control
		0x00,
	}
}

func modeSelect10Usage() []byte {
	const pageFormatBitMask = byte(0x10)
	return []byte{
		byte(scsi.ModeSelect10),
		pageFormatBitMask,
		// Reserved
		0x00, 0x00, 0x00, 0x00, 0x00,
		// Parameter list length
		0xff, 0xff,
		// control
		0x00,
	}
}

func modeSense10Usage() []byte {
	// first six bit of third request byte
	pageCodeBitMask := byte(0x3f)
	// last two bits of third request byte
	pageControlBitMask := byte(0xc0)
	return []byte{
		byte(scsi.ModeSense10),
		// Reserved
		0x00,
		pageControlBitMask | pageCodeBitMask,
		// subpage code
		0xff,
		// reserved
		0x00, 0x00, 0x00,
		// allocation length
		0xff, 0xff,
		// control
		0x00,
	}
}

func readWrite16Usage(operationCode scsi.CommandType) []byte {
	return []byte{
		byte(operationCode),
		forceUnitAccessBitMask,
		//Logical block address
		0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff,
		// Transfer length
		0xff, 0xff, 0xff, 0xff,
		// Group number
		0x00,
		//Control
		0x00,
	}
}

func verify16Usage() []byte {
	const byteCheckBitMask = byte(0x02)
	return []byte{
		byte(scsi.Verify16),
		byteCheckBitMask,
		//Logical block address
		0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff,
		// Verification length
		0xff, 0xff, 0xff, 0xff,
		// Group number
		0x00,
		//Control
		0x00,
	}
}

func synchronizeCache16Usage() []byte {
	return []byte{
		byte(scsi.SynchronizeCache16),
		// IMMED is accepted and ignored
		0x02,
		//Logical block address
		0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff,
		// Number of logical blocks
		0xff, 0xff, 0xff, 0xff,
		// Reserved
		0x00,
		//Control
		0x00,
	}
}

func writeSame16Usage() []byte {
	const (
		unmapBitMask     = byte(0x08)
		noDataOutBitMask = byte(0x01)
	)
	return []byte{
		byte(scsi.WriteSame16),
		unmapBitMask | noDataOutBitMask,
		//Logical block address
		0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff,
		// Number of logical blocks
		0xff, 0xff, 0xff, 0xff,
		// Group number
		0x00,
		//Control
		0x00,
	}
}

func readCapacity16Usage() []byte {
	return []byte{
		byte(scsi.ServiceActionIn16),
		// service action
		scsi.ServiceActionReadCapacity16,
		// obsolete logical block address
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		// allocation length
		0xff, 0xff, 0xff, 0xff,
		0x00,
		0x00,
	}
}

func reportLunsUsage() []byte {
	return []byte{
		byte(scsi.ReportLuns),
		// Reserved
		0x00,
		// Select report
		0xff,
		// Reserved
		0x00, 0x00, 0x00,
		// Allocation length
		0xff, 0xff, 0xff, 0xff,
		// Reserved
		0x00,
		// Control
		0x00,
	}
}

func reportSupportedOperationCodesUsage() []byte {
	const reportingOptionsBitmask = byte(0x07)
	return []byte{
		byte(scsi.MaintenanceIn),
		scsi.ServiceActionReportSupportedOperationCodes,
		commandTimeoutsDescriptorPresentBitMask | reportingOptionsBitmask,
		// requested operation code
		0xff,
		// requested service action
		0xff, 0xff,
		// allocation length
		0xff, 0xff, 0xff, 0xff,
		// Reserved
		0x00,
		// control
		0x00,
	}
}

func reportSupportedTaskManagementFunctionsUsage() []byte {
	const reportExtendedParameterDataBitMask = byte(0x80)
	return []byte{
		byte(scsi.MaintenanceIn),
		scsi.ServiceActionReportSupportedTaskManagementFunctions,
		reportExtendedParameterDataBitMask,
		// Reserved
		0x00, 0x00, 0x00,
		// allocation length
		0xff, 0xff, 0xff, 0xff,
		// Reserved
		0x00,
		// control
		0x00,
	}
}

func reportOpcodesAll(returnCommandsTimeoutsDescriptor bool) []byte {
	const (
		commandTimeoutsDescriptorPresent = byte(0x02)
		serviceActionValid               = byte(0x01)
	)
	data := make([]byte, 4, 4+len(commandDescriptions)*20)
	for _, description := range commandDescriptions {
		flags := byte(0x00)
		if returnCommandsTimeoutsDescriptor {
			flags |= commandTimeoutsDescriptorPresent
		}
		if description.hasServiceAction {
			flags |= serviceActionValid
		}
		data = append(
			data,
			byte(description.operationCode),
			// reserved
			0x00,
			// service action
			0x00, description.serviceAction,
			// reserved
			0x00,
			flags,
			//command length
			0x00, description.length(),
		)
		if returnCommandsTimeoutsDescriptor {
			data = append(data, timeoutsDescriptor...)
		}
	}
	wire.PutBe32(uint32(len(data)-4), data, 0)
	return data
}

// reportSingleOpCode returns the one command format, or nil after
// setting sense.
func (t *task) reportSingleOpCode(reportingOptions byte, returnCommandsTimeoutsDescriptor bool) []byte {
	operationCode := scsi.CommandType(t.cdb[3])
	serviceAction := wire.GetBe16(t.cdb, 4)
	descriptions := findCommandDescriptions(operationCode)
	hasServiceAction := len(descriptions) > 0 && descriptions[0].hasServiceAction

	switch reportingOptions {
	case reportSingleReportingOption:
		if hasServiceAction {
			t.invalidCdbField(2, 2)
			return nil
		}
	case reportSingleServiceActionReportingOption:
		if len(descriptions) > 0 && !hasServiceAction {
			t.invalidCdbField(2, 2)
			return nil
		}
	}

	var found *commandDescription
	for i := range descriptions {
		if !descriptions[i].hasServiceAction || uint16(descriptions[i].serviceAction) == serviceAction {
			found = &descriptions[i]
			break
		}
	}
	if found == nil {
		return []byte{
			// Reserved
			0x00,
			supportNotSupported,
			// CDB size
			0x00, 0x00,
		}
	}
	secondByte := supportStandard
	if returnCommandsTimeoutsDescriptor {
		secondByte |= commandTimeoutsDescriptorPresentBitMask
	}
	response := []byte{
		// Reserved
		0x00,
		// CTDP, Reserved, CDLP, SUPPORT
		// the CDLP bits are zero, there is no
		// Command Duration Limit mode page
		secondByte,
		// CDB Size
		0x00, found.length(),
	}
	response = append(response, found.usage...)
	if returnCommandsTimeoutsDescriptor {
		response = append(response, timeoutsDescriptor...)
	}
	return response
}

// reportSupportedOperationCodes Implements SCSI REPORT SUPPORTED OPERATION CODES command
// Reference : SPC4r11
// 6.35 - REPORT SUPPORTED OPERATION CODES
func (t *task) reportSupportedOperationCodes() error {
	const reportingOptionsBitmask = byte(0x07)
	reportingOptions := t.cdb[2] & reportingOptionsBitmask
	returnCommandsTimeoutsDescriptor := t.cdb[2]&commandTimeoutsDescriptorPresentBitMask != 0
	allocationLength := int(wire.GetBe32(t.cdb, 6))

	var data []byte
	switch reportingOptions {
	case reportAllReportingOption:
		logger.GetLogger().Debugf("Service Action: report all")
		data = reportOpcodesAll(returnCommandsTimeoutsDescriptor)
	case reportSingleReportingOption,
		reportSingleServiceActionReportingOption,
		reportSingleReportingOptionAllowBoth:
		data = t.reportSingleOpCode(reportingOptions, returnCommandsTimeoutsDescriptor)
		if data == nil {
			return nil
		}
	default:
		logger.GetLogger().Errorf("Unsupported reporting options %d", reportingOptions)
		t.invalidCdbField(2, 2)
		return nil
	}
	t.respond(data, allocationLength)
	return nil
}

// reportSupportedTaskManagementFunctions Implements SCSI REPORT SUPPORTED
// TASK MANAGEMENT FUNCTIONS command
// Reference : SPC4r37
// 6.36 - REPORT SUPPORTED TASK MANAGEMENT FUNCTIONS
func (t *task) reportSupportedTaskManagementFunctions() error {
	const (
		reportExtendedParameterDataBitMask = byte(0x80)
		abortTaskSupported                 = byte(0x80)
		abortTaskSetSupported              = byte(0x40)
		logicalUnitResetSupported          = byte(0x08)
		extendedAdditionalDataLength       = byte(0x0c)
	)
	allocationLength := int(wire.GetBe32(t.cdb, 6))
	data := make([]byte, 4)
	if t.cdb[2]&reportExtendedParameterDataBitMask != 0 {
		data = make([]byte, 16)
		data[3] = extendedAdditionalDataLength
	}
	data[0] = abortTaskSupported | abortTaskSetSupported | logicalUnitResetSupported
	t.respond(data, allocationLength)
	return nil
}
