// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package sntl

import (
	"nvmesntl/pkg/nvme"
	"nvmesntl/pkg/scsi"
	"nvmesntl/pkg/wire"
)

/*
 * Code Set
 *
 *  1 - Designator field contains binary values
 *  2 - Designator field contains ASCII printable chars
 *  3 - Designator field contains UTF-8
 */
const (
	inqCodeBin   = byte(1)
	inqCodeAscii = byte(2)
)

/*
 * Designator type - SPC-4 Reference
 *
 * 1 - T10 vendor ID - 7.6.3.4
 * 2 - EUI-64 - 7.6.3.5
 */
const (
	designatorTypeT10VendorId = byte(1)
	designatorTypeEui64       = byte(2)
)

const (
	supportedVpdPagesVpdPageCode    = byte(0x00)
	unitSerialNumberVpdPageCode     = byte(0x80)
	deviceIdentificationVpdPageCode = byte(0x83)
	extendedInquiryVpdPageCode      = byte(0x86)
	modePagePolicyVpdPageCode       = byte(0x87)
	scsiFeatureSetsVpdPageCode      = byte(0x92)
	nvmeIdentifyVpdPageCode         = byte(0xde)
)

var supportedVpdPages = []byte{
	supportedVpdPagesVpdPageCode,
	unitSerialNumberVpdPageCode,
	deviceIdentificationVpdPageCode,
	extendedInquiryVpdPageCode,
	modePagePolicyVpdPageCode,
	scsiFeatureSetsVpdPageCode,
	nvmeIdentifyVpdPageCode,
}

const (
	standardInquiryLength = 36
	inquiryVendorId       = "NVMe"
	// SPC-4
	inquiryVersion        = byte(0x06)
	inquiryStandardFormat = byte(0x02)
	inquiryEncserv        = byte(0x40)
	inquiryCmdque         = byte(0x02)
	nvmeIdentifyVpdHeader = 16
)

func (t *task) peripheralByte() byte {
	return scsi.PeripheralByte(0, t.channel.peripheralDeviceType)
}

func (t *task) vpdPage(pageCode byte, payload []byte) []byte {
	page := make([]byte, 4, 4+len(payload))
	page[0] = t.peripheralByte()
	page[1] = pageCode
	wire.PutBe16(uint16(len(payload)), page, 2)
	return append(page, payload...)
}

func (t *task) standardInquiryData(identify nvme.IdentifyController) []byte {
	data := make([]byte, standardInquiryLength)
	data[0] = t.peripheralByte()
	// RMB and LU_CONG are zero
	data[2] = inquiryVersion
	data[3] = inquiryStandardFormat
	data[4] = standardInquiryLength - 5
	if t.channel.enclosureServices {
		data[6] = inquiryEncserv
	}
	data[7] = inquiryCmdque
	copy(data[8:16], scsi.FixedString(inquiryVendorId, 8))
	copy(data[16:32], identify.ModelNumber()[:16])
	copy(data[32:36], identify.FirmwareRevision()[:4])
	return data
}

func (t *task) supportedVpdPagesVpdPage() []byte {
	return t.vpdPage(supportedVpdPagesVpdPageCode, supportedVpdPages)
}

func (t *task) unitSerialNumberVpdPage(identify nvme.IdentifyController) []byte {
	return t.vpdPage(unitSerialNumberVpdPageCode, identify.SerialNumber())
}

func designator(codeSet, designatorType byte, identifier []byte) []byte {
	result := []byte{
		// protocol identifier is not valid, PIV is zero
		codeSet,
		// association with the logical unit
		designatorType,
		// reserved
		0x00,
		byte(len(identifier)),
	}
	return append(result, identifier...)
}

// deviceIdentificationVpdPage carries a T10 vendor ID designator built
// from the controller and, for a namespace channel, the namespace
// globally unique identifier or its IEEE EUI-64.
func (t *task) deviceIdentificationVpdPage(identify nvme.IdentifyController) ([]byte, error) {
	vendorSpecific := scsi.FixedString(inquiryVendorId, 8)
	vendorSpecific = append(vendorSpecific, identify.ModelNumber()...)
	vendorSpecific = append(vendorSpecific, identify.SerialNumber()...)
	payload := designator(inqCodeAscii, designatorTypeT10VendorId, vendorSpecific)

	namespaceId := t.channel.namespaceId
	if namespaceId != 0 && namespaceId != nvme.BroadcastNamespace {
		namespace, err := t.identifyNamespace()
		if err != nil {
			return nil, err
		}
		if nguid := namespace.Nguid(); !wire.AllZeros(nguid) {
			payload = append(payload, designator(inqCodeBin, designatorTypeEui64, nguid)...)
		} else if eui64 := namespace.Eui64(); !wire.AllZeros(eui64) {
			payload = append(payload, designator(inqCodeBin, designatorTypeEui64, eui64)...)
		}
	}
	return t.vpdPage(deviceIdentificationVpdPageCode, payload), nil
}

func (t *task) extendedInquiryVpdPage(identify nvme.IdentifyController) []byte {
	const (
		simpleQueueSupportedBitMask    = byte(0x01)
		volatileCacheSupportedBitMask  = byte(0x01)
		logicalUnitInitialClearBitMask = byte(0x01)
	)
	payload := make([]byte, 0x3c)
	// byte 5 of the page
	payload[1] = simpleQueueSupportedBitMask
	if identify.VolatileWriteCache() {
		payload[2] = volatileCacheSupportedBitMask
	}
	payload[3] = logicalUnitInitialClearBitMask
	// EXTENDED SELF-TEST COMPLETION MINUTES
	wire.PutBe16(identify.ExtendedSelfTestMinutes(), payload, 6)
	return t.vpdPage(extendedInquiryVpdPageCode, payload)
}

func (t *task) modePagePolicyVpdPage() []byte {
	const sharedPolicy = byte(0x00)
	return t.vpdPage(modePagePolicyVpdPageCode, []byte{
		// all pages, all subpages
		0x3f, 0xff,
		sharedPolicy,
		// reserved
		0x00,
	})
}

func (t *task) scsiFeatureSetsVpdPage() []byte {
	const (
		spcDiscovery2016 = uint16(0x0001)
		sbcBase2016      = uint16(0x0102)
	)
	payload := make([]byte, 8)
	// bytes 4 to 7 are reserved
	wire.PutBe16(spcDiscovery2016, payload, 4)
	wire.PutBe16(sbcBase2016, payload, 6)
	return t.vpdPage(scsiFeatureSetsVpdPageCode, payload)
}

// nvmeIdentifyVpdPage returns the raw Identify Controller data after
// a 16 byte header.
func (t *task) nvmeIdentifyVpdPage(identify nvme.IdentifyController) []byte {
	payload := make([]byte, nvmeIdentifyVpdHeader-4, nvmeIdentifyVpdHeader-4+nvme.IdentifyDataLength)
	payload = append(payload, identify...)
	return t.vpdPage(nvmeIdentifyVpdPageCode, payload)
}

// inquiry Implements SCSI INQUIRY command
// The Inquiry command requests the device server to return information
// regarding the logical unit and SCSI target device.
// Reference : SPC4r11
// 6.6 - Inquiry
func (t *task) inquiry() error {
	const (
		enableVitalProductDataBitMask = byte(0x01)
		commandSupportDataBitMask     = byte(0x02)
	)
	enableVitalProductData := t.cdb[1]&enableVitalProductDataBitMask != 0
	pageCode := t.cdb[2]
	allocationLength := int(wire.GetBe16(t.cdb, 3))

	if t.cdb[1]&commandSupportDataBitMask != 0 {
		t.invalidCdbField(1, 1)
		return nil
	}
	if !enableVitalProductData && pageCode != 0 {
		t.invalidCdbField(2, 7)
		return nil
	}
	identify, err := t.identifyController()
	if err != nil {
		return err
	}
	if !enableVitalProductData {
		t.respond(t.standardInquiryData(identify), allocationLength)
		return nil
	}
	var data []byte
	switch pageCode {
	case supportedVpdPagesVpdPageCode:
		data = t.supportedVpdPagesVpdPage()
	case unitSerialNumberVpdPageCode:
		data = t.unitSerialNumberVpdPage(identify)
	case deviceIdentificationVpdPageCode:
		if data, err = t.deviceIdentificationVpdPage(identify); err != nil {
			return err
		}
	case extendedInquiryVpdPageCode:
		data = t.extendedInquiryVpdPage(identify)
	case modePagePolicyVpdPageCode:
		data = t.modePagePolicyVpdPage()
	case scsiFeatureSetsVpdPageCode:
		data = t.scsiFeatureSetsVpdPage()
	case nvmeIdentifyVpdPageCode:
		data = t.nvmeIdentifyVpdPage(identify)
	default:
		t.invalidCdbField(2, 7)
		return nil
	}
	t.respond(data, allocationLength)
	return nil
}
