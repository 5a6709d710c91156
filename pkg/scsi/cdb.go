// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package scsi

// Command is the typed result of classifying a CDB. Every value other
// than CommandUnsupported has a translator.
type Command int

const (
	CommandUnsupported Command = iota
	CommandInquiry
	CommandReportLuns
	CommandTestUnitReady
	CommandRequestSense
	CommandModeSense10
	CommandModeSelect10
	CommandReadCapacity10
	CommandReadCapacity16
	CommandRead10
	CommandRead16
	CommandWrite10
	CommandWrite16
	CommandVerify10
	CommandVerify16
	CommandWriteSame10
	CommandWriteSame16
	CommandSynchronizeCache10
	CommandSynchronizeCache16
	CommandStartStopUnit
	CommandSendDiagnostic
	CommandReceiveDiagnostic
	CommandReportSupportedOperationCodes
	CommandReportSupportedTaskManagementFunctions
)

var commandNames = []string{
	"UNSUPPORTED",
	"INQUIRY",
	"REPORT LUNS",
	"TEST UNIT READY",
	"REQUEST SENSE",
	"MODE SENSE(10)",
	"MODE SELECT(10)",
	"READ CAPACITY(10)",
	"READ CAPACITY(16)",
	"READ(10)",
	"READ(16)",
	"WRITE(10)",
	"WRITE(16)",
	"VERIFY(10)",
	"VERIFY(16)",
	"WRITE SAME(10)",
	"WRITE SAME(16)",
	"SYNCHRONIZE CACHE(10)",
	"SYNCHRONIZE CACHE(16)",
	"START STOP UNIT",
	"SEND DIAGNOSTIC",
	"RECEIVE DIAGNOSTIC RESULTS",
	"REPORT SUPPORTED OPERATION CODES",
	"REPORT SUPPORTED TASK MANAGEMENT FUNCTIONS",
}

func (command Command) String() string {
	if int(command) < len(commandNames) {
		return commandNames[command]
	}
	return commandNames[CommandUnsupported]
}

// CdbLength returns the CDB length fixed by the opcode group code, or 0
// for reserved and vendor specific groups.
func CdbLength(opcode byte) int {
	switch opcode >> 5 {
	case 0:
		return 6
	case 1, 2:
		return 10
	case 3:
		if CommandType(opcode) == VariableLength {
			return 32
		}
		return 0
	case 4:
		return 16
	case 5:
		return 12
	}
	return 0
}

func isVendorGroup(opcode byte) bool {
	return opcode>>5 >= 6
}

// IsCdbShaped reports whether buf has a SCSI CDB length that agrees with
// the group code of its first byte. Anything else is not a CDB.
func IsCdbShaped(buf []byte) bool {
	switch len(buf) {
	case 6, 10, 12, 16, 32:
	default:
		return false
	}
	if isVendorGroup(buf[0]) {
		return len(buf) != 32
	}
	return CdbLength(buf[0]) == len(buf)
}

// ClassifyCDB maps a CDB to the command it requests. Opcodes that carry
// a service action are resolved with it.
func ClassifyCDB(cdb []byte) Command {
	if len(cdb) == 0 {
		return CommandUnsupported
	}
	switch CommandType(cdb[0]) {
	case Inquiry:
		return CommandInquiry
	case ReportLuns:
		return CommandReportLuns
	case TestUnitReady:
		return CommandTestUnitReady
	case RequestSense:
		return CommandRequestSense
	case ModeSense10:
		return CommandModeSense10
	case ModeSelect10:
		return CommandModeSelect10
	case ReadCapacity10:
		return CommandReadCapacity10
	case Read10:
		return CommandRead10
	case Read16:
		return CommandRead16
	case Write10:
		return CommandWrite10
	case Write16:
		return CommandWrite16
	case Verify10:
		return CommandVerify10
	case Verify16:
		return CommandVerify16
	case WriteSame10:
		return CommandWriteSame10
	case WriteSame16:
		return CommandWriteSame16
	case SynchronizeCache10:
		return CommandSynchronizeCache10
	case SynchronizeCache16:
		return CommandSynchronizeCache16
	case StartStop:
		return CommandStartStopUnit
	case SendDiagnostic:
		return CommandSendDiagnostic
	case ReceiveDiagnosticResults:
		return CommandReceiveDiagnostic
	case ServiceActionIn16:
		if len(cdb) > 1 && cdb[1]&serviceActionBitMask == ServiceActionReadCapacity16 {
			return CommandReadCapacity16
		}
	case MaintenanceIn:
		if len(cdb) < 2 {
			return CommandUnsupported
		}
		switch cdb[1] & serviceActionBitMask {
		case ServiceActionReportSupportedOperationCodes:
			return CommandReportSupportedOperationCodes
		case ServiceActionReportSupportedTaskManagementFunctions:
			return CommandReportSupportedTaskManagementFunctions
		}
	}
	return CommandUnsupported
}
