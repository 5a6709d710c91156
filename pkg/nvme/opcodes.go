// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package nvme

// Admin command set
const (
	AdminDeleteIoSq       = byte(0x00)
	AdminCreateIoSq       = byte(0x01)
	AdminGetLogPage       = byte(0x02)
	AdminDeleteIoCq       = byte(0x04)
	AdminCreateIoCq       = byte(0x05)
	AdminIdentify         = byte(0x06)
	AdminAbort            = byte(0x08)
	AdminSetFeatures      = byte(0x09)
	AdminGetFeatures      = byte(0x0a)
	AdminAsyncEvent       = byte(0x0c)
	AdminNamespaceMgmt    = byte(0x0d)
	AdminFirmwareCommit   = byte(0x10)
	AdminFirmwareDownload = byte(0x11)
	AdminDeviceSelfTest   = byte(0x14)
	AdminNamespaceAttach  = byte(0x15)
	AdminMiSend           = byte(0x1d)
	AdminMiReceive        = byte(0x1e)
	AdminFormatNvm        = byte(0x80)
	AdminSecuritySend     = byte(0x81)
	AdminSecurityReceive  = byte(0x82)
	AdminSanitize         = byte(0x84)
)

// NVM command set
const (
	NvmFlush              = byte(0x00)
	NvmWrite              = byte(0x01)
	NvmRead               = byte(0x02)
	NvmWriteUncorrectable = byte(0x04)
	NvmCompare            = byte(0x05)
	NvmWriteZeroes        = byte(0x08)
	NvmDatasetManagement  = byte(0x09)
	NvmVerify             = byte(0x0c)
)

// Identify CNS values
const (
	CnsNamespace           = byte(0x00)
	CnsController          = byte(0x01)
	CnsActiveNamespaceList = byte(0x02)
)

// Feature identifiers
const (
	FeatureArbitration        = byte(0x01)
	FeaturePowerManagement    = byte(0x02)
	FeatureTemperature        = byte(0x04)
	FeatureVolatileWriteCache = byte(0x06)
)

// Get Features select field, CDW10 bits 10:8
const (
	SelectCurrent   = byte(0x0)
	SelectDefault   = byte(0x1)
	SelectSaved     = byte(0x2)
	SelectSupported = byte(0x3)
)

// Device self-test codes, CDW10 bits 3:0
const (
	SelfTestShort    = byte(0x1)
	SelfTestExtended = byte(0x2)
	SelfTestVendor   = byte(0xe)
	SelfTestAbort    = byte(0xf)
)

const (
	Cdw12Deallocate      = uint32(1) << 25
	Cdw12ForceUnitAccess = uint32(1) << 30
	Cdw12LimitedRetry    = uint32(1) << 31
)

// NVMe-MI tunnelled commands
const (
	MiMessageCommandCdw10 = uint32(0x0804)
	MiSesReceive          = uint32(0x08)
	MiSesSend             = uint32(0x09)
)

var adminOpcodeNames = map[byte]string{
	AdminDeleteIoSq:       "Delete I/O Submission Queue",
	AdminCreateIoSq:       "Create I/O Submission Queue",
	AdminGetLogPage:       "Get Log Page",
	AdminDeleteIoCq:       "Delete I/O Completion Queue",
	AdminCreateIoCq:       "Create I/O Completion Queue",
	AdminIdentify:         "Identify",
	AdminAbort:            "Abort",
	AdminSetFeatures:      "Set Features",
	AdminGetFeatures:      "Get Features",
	AdminAsyncEvent:       "Asynchronous Event Request",
	AdminNamespaceMgmt:    "Namespace Management",
	AdminFirmwareCommit:   "Firmware Commit",
	AdminFirmwareDownload: "Firmware Image Download",
	AdminDeviceSelfTest:   "Device Self-test",
	AdminNamespaceAttach:  "Namespace Attachment",
	AdminMiSend:           "NVMe-MI Send",
	AdminMiReceive:        "NVMe-MI Receive",
	AdminFormatNvm:        "Format NVM",
	AdminSecuritySend:     "Security Send",
	AdminSecurityReceive:  "Security Receive",
	AdminSanitize:         "Sanitize",
}

var nvmOpcodeNames = map[byte]string{
	NvmFlush:              "Flush",
	NvmWrite:              "Write",
	NvmRead:               "Read",
	NvmWriteUncorrectable: "Write Uncorrectable",
	NvmCompare:            "Compare",
	NvmWriteZeroes:        "Write Zeroes",
	NvmDatasetManagement:  "Dataset Management",
	NvmVerify:             "Verify",
}

func OpcodeString(opcode byte, admin bool) string {
	names := nvmOpcodeNames
	if admin {
		names = adminOpcodeNames
	}
	if name, ok := names[opcode]; ok {
		return name
	}
	return "Unknown"
}
