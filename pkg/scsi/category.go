// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package scsi

// Category is the small integer each command line tool exits with.
type Category int

const (
	CategoryClean               Category = 0
	CategorySyntaxError         Category = 1
	CategoryNotReady            Category = 2
	CategoryMediumHard          Category = 3
	CategoryIllegalRequest      Category = 5
	CategoryUnitAttention       Category = 6
	CategoryDataProtect         Category = 7
	CategoryInvalidOp           Category = 9
	CategoryCopyAborted         Category = 10
	CategoryAbortedCommand      Category = 11
	CategoryMiscompare          Category = 14
	CategoryFileError           Category = 15
	CategoryNoSense             Category = 20
	CategoryRecovered           Category = 21
	CategoryLbaOutOfRange       Category = 22
	CategoryReservationConflict Category = 24
	CategoryConditionMet        Category = 25
	CategoryBusy                Category = 26
	CategoryTaskSetFull         Category = 27
	CategoryAcaActive           Category = 28
	CategoryTaskAborted         Category = 29
	CategoryTimeout             Category = 33
	CategoryProtection          Category = 40
	CategoryNvmeStatus          Category = 48
	CategoryOsBase              Category = 50
	CategoryMalformed           Category = 97
	CategorySense               Category = 98
	CategoryOther               Category = 99
)

var categoryNames = map[Category]string{
	CategoryClean:               "no errors",
	CategorySyntaxError:         "syntax error",
	CategoryNotReady:            "device not ready",
	CategoryMediumHard:          "medium or hardware error",
	CategoryIllegalRequest:      "illegal request",
	CategoryUnitAttention:       "unit attention",
	CategoryDataProtect:         "data protect",
	CategoryInvalidOp:           "invalid opcode",
	CategoryCopyAborted:         "copy aborted",
	CategoryAbortedCommand:      "aborted command",
	CategoryMiscompare:          "miscompare",
	CategoryFileError:           "file error",
	CategoryNoSense:             "no sense",
	CategoryRecovered:           "recovered error",
	CategoryLbaOutOfRange:       "LBA out of range",
	CategoryReservationConflict: "reservation conflict",
	CategoryConditionMet:        "condition met",
	CategoryBusy:                "device busy",
	CategoryTaskSetFull:         "task set full",
	CategoryAcaActive:           "ACA active",
	CategoryTaskAborted:         "task aborted",
	CategoryTimeout:             "command timed out",
	CategoryProtection:          "protection information error",
	CategoryNvmeStatus:          "NVMe status error",
	CategoryMalformed:           "malformed response",
	CategorySense:               "unclassified sense",
	CategoryOther:               "other error",
}

func (category Category) String() string {
	if name, ok := categoryNames[category]; ok {
		return name
	}
	if category >= CategoryOsBase && category < CategoryMalformed {
		return "operating system error"
	}
	return "unknown category"
}

// SenseCategory classifies a sense buffer returned with CHECK CONDITION.
func SenseCategory(sense []byte) Category {
	data, ok := ParseSense(sense)
	if !ok {
		return CategorySense
	}
	switch data.Key {
	case NoSense:
		return CategoryNoSense
	case RecoveredError:
		return CategoryRecovered
	case NotReady:
		return CategoryNotReady
	case MediumError, HardwareError, BlankCheck:
		return CategoryMediumHard
	case IllegalRequest:
		switch data.Code.Asc() {
		case AscInvalidOpCode.Asc():
			if data.Code.Ascq() == 0 {
				return CategoryInvalidOp
			}
		case AscLbaOutOfRange.Asc():
			return CategoryLbaOutOfRange
		}
		return CategoryIllegalRequest
	case UnitAttention:
		return CategoryUnitAttention
	case DataProtect:
		return CategoryDataProtect
	case CopyAborted:
		return CategoryCopyAborted
	case AbortedCommand:
		if data.Code.Asc() == AscGuardCheckFailed.Asc() {
			return CategoryProtection
		}
		return CategoryAbortedCommand
	case Miscompare:
		return CategoryMiscompare
	}
	return CategorySense
}

// StatusCategory classifies a SCSI status byte. CHECK CONDITION needs
// the sense buffer, see SenseCategory.
func StatusCategory(status byte, sense []byte) Category {
	switch status {
	case StatusGood:
		return CategoryClean
	case StatusConditionMet:
		return CategoryConditionMet
	case StatusCheckCondition:
		return SenseCategory(sense)
	case StatusBusy:
		return CategoryBusy
	case StatusReservationConflict:
		return CategoryReservationConflict
	case StatusTaskSetFull:
		return CategoryTaskSetFull
	case StatusAcaActive:
		return CategoryAcaActive
	case StatusTaskAborted:
		return CategoryTaskAborted
	}
	return CategoryOther
}
