// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package scsi

const (
	NoSense        byte = 0x00
	RecoveredError byte = 0x01
	NotReady       byte = 0x02
	MediumError    byte = 0x03
	HardwareError  byte = 0x04
	IllegalRequest byte = 0x05
	UnitAttention  byte = 0x06
	DataProtect    byte = 0x07
	BlankCheck     byte = 0x08
	VendorSpecific byte = 0x09
	CopyAborted    byte = 0x0a
	AbortedCommand byte = 0x0b
	VolumeOverflow byte = 0x0d
	Miscompare     byte = 0x0e
	Completed      byte = 0x0f
)

var senseKeyNames = []string{
	"No Sense", "Recovered Error", "Not Ready", "Medium Error",
	"Hardware Error", "Illegal Request", "Unit Attention", "Data Protect",
	"Blank Check", "Vendor Specific", "Copy Aborted", "Aborted Command",
	"Reserved", "Volume Overflow", "Miscompare", "Completed",
}

func SenseKeyString(key byte) string {
	return senseKeyNames[key&0x0f]
}

// AdditionalSenseCode packs ASC in the high byte and ASCQ in the low byte.
type AdditionalSenseCode uint16

func NewAdditionalSenseCode(asc, ascq byte) AdditionalSenseCode {
	return AdditionalSenseCode(uint16(asc)<<8 | uint16(ascq))
}

func (code AdditionalSenseCode) Asc() byte {
	return byte(code >> 8)
}

func (code AdditionalSenseCode) Ascq() byte {
	return byte(code)
}

var (
	// Key 0: No Sense Errors
	NoAdditionalSense AdditionalSenseCode = 0x0000
	AscLowPowerOn     AdditionalSenseCode = 0x5e00

	// Key 2: Not ready
	AscNotReady           AdditionalSenseCode = 0x0400
	AscBecomingReady      AdditionalSenseCode = 0x0401
	AscFormatInProgress   AdditionalSenseCode = 0x0404
	AscSelfTestInProgress AdditionalSenseCode = 0x0409
	AscSanitizeInProgress AdditionalSenseCode = 0x041b
	AscMediumNotPresent   AdditionalSenseCode = 0x3a00

	// Key 3: Medium errors
	AscWriteFault         AdditionalSenseCode = 0x0300
	AscWriteError         AdditionalSenseCode = 0x0c00
	AscReadError          AdditionalSenseCode = 0x1100
	AscGuardCheckFailed   AdditionalSenseCode = 0x1001
	AscAppTagCheckFailed  AdditionalSenseCode = 0x1002
	AscRefTagCheckFailed  AdditionalSenseCode = 0x1003
	AscMiscompareOnVerify AdditionalSenseCode = 0x1d00
	AscFormatFailed       AdditionalSenseCode = 0x3101

	// Key 4: Hardware errors
	AscInternalTargetFailure AdditionalSenseCode = 0x4400

	// Key 5: Illegal Request
	AscInvalidOpCode            AdditionalSenseCode = 0x2000
	AscAccessDeniedNoAccess     AdditionalSenseCode = 0x2002
	AscAccessDeniedInvalidLu    AdditionalSenseCode = 0x2009
	AscLbaOutOfRange            AdditionalSenseCode = 0x2100
	AscInvalidFieldInCdb        AdditionalSenseCode = 0x2400
	AscLuNotSupported           AdditionalSenseCode = 0x2500
	AscInvalidFieldInParamList  AdditionalSenseCode = 0x2600
	AscParameterListLengthError AdditionalSenseCode = 0x1a00
	AscWriteProtected           AdditionalSenseCode = 0x2700
	AscCommandSequenceError     AdditionalSenseCode = 0x2c00
	AscPreviousReservation      AdditionalSenseCode = 0x2c09
	AscSavingParmsUnsup         AdditionalSenseCode = 0x3900
	AscPcieUnsupportedRequest   AdditionalSenseCode = 0x4b13

	// Key 6: Unit attention
	AscPowerOnReset      AdditionalSenseCode = 0x2900
	AscModeParamsChanged AdditionalSenseCode = 0x2a01

	// Key 0xb: Aborted command
	AscWarning                  AdditionalSenseCode = 0x0b00
	AscWarningPowerLossExpected AdditionalSenseCode = 0x0b08
)
