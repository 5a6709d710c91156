// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package nvme

import "fmt"

// Status code types
const (
	SctGeneric         = byte(0x0)
	SctCommandSpecific = byte(0x1)
	SctMediaError      = byte(0x2)
	SctPath            = byte(0x3)
	SctVendor          = byte(0x7)
)

// Statuses are packed as SCT<<8 | SC.
const (
	StatusSuccess              = uint16(0x000)
	StatusInvalidOpcode        = uint16(0x001)
	StatusInvalidField         = uint16(0x002)
	StatusCommandIdConflict    = uint16(0x003)
	StatusDataTransferError    = uint16(0x004)
	StatusAbortedPowerLoss     = uint16(0x005)
	StatusInternalError        = uint16(0x006)
	StatusAbortRequested       = uint16(0x007)
	StatusAbortedSqDeletion    = uint16(0x008)
	StatusAbortedFailedFused   = uint16(0x009)
	StatusAbortedMissingFused  = uint16(0x00a)
	StatusInvalidNamespace     = uint16(0x00b)
	StatusCommandSequenceError = uint16(0x00c)
	StatusSanitizeInProgress   = uint16(0x01d)
	StatusLbaOutOfRange        = uint16(0x080)
	StatusCapacityExceeded     = uint16(0x081)
	StatusNamespaceNotReady    = uint16(0x082)
	StatusReservationConflict  = uint16(0x083)
	StatusFormatInProgress     = uint16(0x084)

	StatusInvalidQueueIdentifier = uint16(0x101)
	StatusInvalidLogPage         = uint16(0x109)
	StatusInvalidFormat          = uint16(0x10a)
	StatusFeatureNotSaveable     = uint16(0x10d)
	StatusFeatureNotChangeable   = uint16(0x10e)
	StatusSelfTestInProgress     = uint16(0x11d)
	StatusConflictingAttributes  = uint16(0x180)
	StatusInvalidProtectionInfo  = uint16(0x181)
	StatusWriteToReadOnlyRange   = uint16(0x182)

	StatusWriteFault             = uint16(0x280)
	StatusUnrecoveredReadError   = uint16(0x281)
	StatusGuardCheckError        = uint16(0x282)
	StatusAppTagCheckError       = uint16(0x283)
	StatusRefTagCheckError       = uint16(0x284)
	StatusCompareFailure         = uint16(0x285)
	StatusAccessDenied           = uint16(0x286)
	StatusDeallocatedOrUnwritten = uint16(0x287)
)

var statusNames = map[uint16]string{
	StatusSuccess:                "Successful Completion",
	StatusInvalidOpcode:          "Invalid Command Opcode",
	StatusInvalidField:           "Invalid Field in Command",
	StatusCommandIdConflict:      "Command ID Conflict",
	StatusDataTransferError:      "Data Transfer Error",
	StatusAbortedPowerLoss:       "Commands Aborted due to Power Loss Notification",
	StatusInternalError:          "Internal Error",
	StatusAbortRequested:         "Command Abort Requested",
	StatusAbortedSqDeletion:      "Command Aborted due to SQ Deletion",
	StatusAbortedFailedFused:     "Command Aborted due to Failed Fused Command",
	StatusAbortedMissingFused:    "Command Aborted due to Missing Fused Command",
	StatusInvalidNamespace:       "Invalid Namespace or Format",
	StatusCommandSequenceError:   "Command Sequence Error",
	StatusSanitizeInProgress:     "Sanitize In Progress",
	StatusLbaOutOfRange:          "LBA Out of Range",
	StatusCapacityExceeded:       "Capacity Exceeded",
	StatusNamespaceNotReady:      "Namespace Not Ready",
	StatusReservationConflict:    "Reservation Conflict",
	StatusFormatInProgress:       "Format In Progress",
	StatusInvalidQueueIdentifier: "Invalid Queue Identifier",
	StatusInvalidLogPage:         "Invalid Log Page",
	StatusInvalidFormat:          "Invalid Format",
	StatusFeatureNotSaveable:     "Feature Identifier Not Saveable",
	StatusFeatureNotChangeable:   "Feature Not Changeable",
	StatusSelfTestInProgress:     "Device Self-test In Progress",
	StatusConflictingAttributes:  "Conflicting Attributes",
	StatusInvalidProtectionInfo:  "Invalid Protection Information",
	StatusWriteToReadOnlyRange:   "Attempted Write to Read Only Range",
	StatusWriteFault:             "Write Fault",
	StatusUnrecoveredReadError:   "Unrecovered Read Error",
	StatusGuardCheckError:        "End-to-end Guard Check Error",
	StatusAppTagCheckError:       "End-to-end Application Tag Check Error",
	StatusRefTagCheckError:       "End-to-end Reference Tag Check Error",
	StatusCompareFailure:         "Compare Failure",
	StatusAccessDenied:           "Access Denied",
	StatusDeallocatedOrUnwritten: "Deallocated or Unwritten Logical Block",
}

// PackStatus combines a status code type and status code.
func PackStatus(sct, sc byte) uint16 {
	return uint16(sct&0x7)<<8 | uint16(sc)
}

func StatusType(status uint16) byte {
	return byte(status>>8) & 0x7
}

func StatusCode(status uint16) byte {
	return byte(status)
}

func StatusString(status uint16) string {
	if name, ok := statusNames[status&0x7ff]; ok {
		return name
	}
	return fmt.Sprintf("Unknown status SCT=0x%x SC=0x%02x", StatusType(status), StatusCode(status))
}
