// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package scsi

import (
	"errors"
	"fmt"
)

type CommandType byte

const (
	TestUnitReady            CommandType = 0x00
	RequestSense             CommandType = 0x03
	FormatUnit               CommandType = 0x04
	Inquiry                  CommandType = 0x12
	ModeSelect6              CommandType = 0x15
	ModeSense6               CommandType = 0x1a
	StartStop                CommandType = 0x1b
	ReceiveDiagnosticResults CommandType = 0x1c
	SendDiagnostic           CommandType = 0x1d
	ReadCapacity10           CommandType = 0x25
	Read10                   CommandType = 0x28
	Write10                  CommandType = 0x2a
	Verify10                 CommandType = 0x2f
	SynchronizeCache10       CommandType = 0x35
	WriteSame10              CommandType = 0x41
	Unmap                    CommandType = 0x42
	ModeSelect10             CommandType = 0x55
	ModeSense10              CommandType = 0x5a
	VariableLength           CommandType = 0x7f
	Read16                   CommandType = 0x88
	Write16                  CommandType = 0x8a
	Verify16                 CommandType = 0x8f
	SynchronizeCache16       CommandType = 0x91
	WriteSame16              CommandType = 0x93
	ServiceActionIn16        CommandType = 0x9e
	ReportLuns               CommandType = 0xa0
	MaintenanceIn            CommandType = 0xa3
)

const (
	ServiceActionReadCapacity16                         = byte(0x10)
	ServiceActionReportSupportedOperationCodes          = byte(0x0c)
	ServiceActionReportSupportedTaskManagementFunctions = byte(0x0d)
	serviceActionBitMask                                = byte(0x1f)
)

var OperationCodeToString = map[CommandType]string{
	TestUnitReady:            "TEST UNIT READY",
	RequestSense:             "REQUEST SENSE",
	FormatUnit:               "FORMAT UNIT",
	Inquiry:                  "INQUIRY",
	ModeSelect6:              "MODE SELECT(6)",
	ModeSense6:               "MODE SENSE(6)",
	StartStop:                "START STOP UNIT",
	ReceiveDiagnosticResults: "RECEIVE DIAGNOSTIC RESULTS",
	SendDiagnostic:           "SEND DIAGNOSTIC",
	ReadCapacity10:           "READ CAPACITY(10)",
	Read10:                   "READ(10)",
	Write10:                  "WRITE(10)",
	Verify10:                 "VERIFY(10)",
	SynchronizeCache10:       "SYNCHRONIZE CACHE(10)",
	WriteSame10:              "WRITE SAME(10)",
	Unmap:                    "UNMAP",
	ModeSelect10:             "MODE SELECT(10)",
	ModeSense10:              "MODE SENSE(10)",
	VariableLength:           "VARIABLE LENGTH",
	Read16:                   "READ(16)",
	Write16:                  "WRITE(16)",
	Verify16:                 "VERIFY(16)",
	SynchronizeCache16:       "SYNCHRONIZE CACHE(16)",
	WriteSame16:              "WRITE SAME(16)",
	ServiceActionIn16:        "SERVICE ACTION IN(16)",
	ReportLuns:               "REPORT LUNS",
	MaintenanceIn:            "MAINTENANCE IN",
}

func (commandType CommandType) String() string {
	if name, ok := OperationCodeToString[commandType]; ok {
		return name
	}
	return fmt.Sprintf("opcode 0x%02x", byte(commandType))
}

// SAM status codes
const (
	StatusGood                = byte(0x00)
	StatusCheckCondition      = byte(0x02)
	StatusConditionMet        = byte(0x04)
	StatusBusy                = byte(0x08)
	StatusReservationConflict = byte(0x18)
	StatusTaskSetFull         = byte(0x28)
	StatusAcaActive           = byte(0x30)
	StatusTaskAborted         = byte(0x40)
)

type SAMStat struct {
	Stat byte
	Err  error
}

var (
	SAMStatGood                = SAMStat{StatusGood, nil}
	SAMStatCheckCondition      = SAMStat{StatusCheckCondition, errors.New("check condition")}
	SAMStatBusy                = SAMStat{StatusBusy, errors.New("busy")}
	SAMStatReservationConflict = SAMStat{StatusReservationConflict, errors.New("reservation conflict")}
	SAMStatTaskAborted         = SAMStat{StatusTaskAborted, errors.New("task aborted")}
)

// StatusToSAMStat returns the named status for logging.
func StatusToSAMStat(status byte) SAMStat {
	switch status {
	case StatusGood:
		return SAMStatGood
	case StatusCheckCondition:
		return SAMStatCheckCondition
	case StatusBusy:
		return SAMStatBusy
	case StatusReservationConflict:
		return SAMStatReservationConflict
	case StatusTaskAborted:
		return SAMStatTaskAborted
	}
	return SAMStat{status, fmt.Errorf("status 0x%02x", status)}
}

// Peripheral device types used by the translation layer.
const (
	PeripheralDeviceTypeDisk        = byte(0x00)
	PeripheralDeviceTypeProcessor   = byte(0x03)
	PeripheralDeviceTypeEnclosure   = byte(0x0d)
	PeripheralDeviceTypeUnknown     = byte(0x1f)
	peripheralDeviceTypeBitMask     = byte(0x1f)
	PeripheralQualifierNotCapable   = byte(0x03 << 5)
	PeripheralQualifierNotConnected = byte(0x01 << 5)
)

func PeripheralByte(qualifier, deviceType byte) byte {
	return qualifier | (deviceType & peripheralDeviceTypeBitMask)
}
