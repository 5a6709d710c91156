// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package nvme

import (
	"nvmesntl/pkg/wire"

	uuid "github.com/satori/go.uuid"
)

const IdentifyDataLength = 4096

// Identify Controller data structure offsets
const (
	controllerVendorIdOffset = 0
	controllerSerialOffset   = 4
	controllerSerialLength   = 20
	controllerModelOffset    = 24
	controllerModelLength    = 40
	controllerFirmwareOffset = 64
	controllerFirmwareLength = 8
	controllerIeeeOuiOffset  = 73
	controllerIdOffset       = 78
	controllerVersionOffset  = 80
	controllerNvmsrOffset    = 253
	controllerOacsOffset     = 256
	controllerNpssOffset     = 263
	controllerEdsttOffset    = 316
	controllerNnOffset       = 516
	controllerVwcOffset      = 525
	controllerSubnqnOffset   = 768
	controllerSubnqnLength   = 256

	oacsDeviceSelfTestBitMask = uint16(0x0010)
	oacsNvmeMiBitMask         = uint16(0x0040)
	vwcPresentBitMask         = byte(0x01)
)

// NVM subsystem report bits, byte 253
const (
	NvmsrStorageDevice = byte(0x01)
	NvmsrEnclosure     = byte(0x02)
)

// IdentifyController is the 4096 byte CNS 01h data structure.
type IdentifyController []byte

func (data IdentifyController) VendorId() uint16 {
	return wire.GetLe16(data, controllerVendorIdOffset)
}

func (data IdentifyController) SerialNumber() []byte {
	return data[controllerSerialOffset : controllerSerialOffset+controllerSerialLength]
}

func (data IdentifyController) ModelNumber() []byte {
	return data[controllerModelOffset : controllerModelOffset+controllerModelLength]
}

func (data IdentifyController) FirmwareRevision() []byte {
	return data[controllerFirmwareOffset : controllerFirmwareOffset+controllerFirmwareLength]
}

func (data IdentifyController) IeeeOui() []byte {
	return data[controllerIeeeOuiOffset : controllerIeeeOuiOffset+3]
}

func (data IdentifyController) ControllerId() uint16 {
	return wire.GetLe16(data, controllerIdOffset)
}

func (data IdentifyController) Version() uint32 {
	return wire.GetLe32(data, controllerVersionOffset)
}

func (data IdentifyController) SubsystemReport() byte {
	return data[controllerNvmsrOffset]
}

func (data IdentifyController) OptionalAdminCommands() uint16 {
	return wire.GetLe16(data, controllerOacsOffset)
}

func (data IdentifyController) SupportsSelfTest() bool {
	return data.OptionalAdminCommands()&oacsDeviceSelfTestBitMask != 0
}

func (data IdentifyController) SupportsNvmeMi() bool {
	return data.OptionalAdminCommands()&oacsNvmeMiBitMask != 0
}

// PowerStates returns NPSS, the highest supported power state.
func (data IdentifyController) PowerStates() byte {
	return data[controllerNpssOffset]
}

// ExtendedSelfTestMinutes is EDSTT.
func (data IdentifyController) ExtendedSelfTestMinutes() uint16 {
	return wire.GetLe16(data, controllerEdsttOffset)
}

// MaxNamespaces is NN, the largest namespace id the controller supports.
func (data IdentifyController) MaxNamespaces() uint32 {
	return wire.GetLe32(data, controllerNnOffset)
}

func (data IdentifyController) VolatileWriteCache() bool {
	return data[controllerVwcOffset]&vwcPresentBitMask != 0
}

func (data IdentifyController) SubsystemNqn() []byte {
	return data[controllerSubnqnOffset : controllerSubnqnOffset+controllerSubnqnLength]
}

// Identify Namespace data structure offsets
const (
	namespaceSizeOffset     = 0
	namespaceCapacityOffset = 8
	namespaceUseOffset      = 16
	namespaceFeaturesOffset = 24
	namespaceNlbafOffset    = 25
	namespaceFlbasOffset    = 26
	namespaceDpcOffset      = 28
	namespaceDpsOffset      = 29
	namespaceNguidOffset    = 104
	namespaceEui64Offset    = 120
	namespaceLbafOffset     = 128
	lbaFormatLength         = 4
	flbasFormatBitMask      = byte(0x0f)
	nsfeatThinBitMask       = byte(0x01)
)

// IdentifyNamespace is the 4096 byte CNS 00h data structure.
type IdentifyNamespace []byte

// Size is NSZE, in logical blocks.
func (data IdentifyNamespace) Size() uint64 {
	return wire.GetLe64(data, namespaceSizeOffset)
}

func (data IdentifyNamespace) Capacity() uint64 {
	return wire.GetLe64(data, namespaceCapacityOffset)
}

func (data IdentifyNamespace) Utilization() uint64 {
	return wire.GetLe64(data, namespaceUseOffset)
}

func (data IdentifyNamespace) ThinProvisioned() bool {
	return data[namespaceFeaturesOffset]&nsfeatThinBitMask != 0
}

func (data IdentifyNamespace) NumberOfLbaFormats() int {
	return int(data[namespaceNlbafOffset]) + 1
}

// ActiveLbaFormat is the FLBAS index of the format in use.
func (data IdentifyNamespace) ActiveLbaFormat() int {
	return int(data[namespaceFlbasOffset] & flbasFormatBitMask)
}

// LbaFormat returns the LBADS exponent and metadata size of entry index.
func (data IdentifyNamespace) LbaFormat(index int) (lbads byte, metadataSize uint16) {
	record := wire.GetLe32(data, namespaceLbafOffset+lbaFormatLength*index)
	return byte(record >> 16), uint16(record)
}

// LogicalBlockSize is 1 << LBADS of the active format.
func (data IdentifyNamespace) LogicalBlockSize() uint32 {
	lbads, _ := data.LbaFormat(data.ActiveLbaFormat())
	return uint32(1) << lbads
}

func (data IdentifyNamespace) DataProtectionSettings() byte {
	return data[namespaceDpsOffset]
}

func (data IdentifyNamespace) Nguid() []byte {
	return data[namespaceNguidOffset : namespaceNguidOffset+16]
}

func (data IdentifyNamespace) Eui64() []byte {
	return data[namespaceEui64Offset : namespaceEui64Offset+8]
}

// NamespaceGUID returns the NGUID as a UUID value, false when unset.
func (data IdentifyNamespace) NamespaceGUID() (uuid.UUID, bool) {
	nguid := data.Nguid()
	if wire.AllZeros(nguid) {
		return uuid.Nil, false
	}
	id, err := uuid.FromBytes(nguid)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
