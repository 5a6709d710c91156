// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package sntl

import (
	"nvmesntl/pkg/logger"
	"nvmesntl/pkg/nvme"
	"nvmesntl/pkg/scsi"
	"nvmesntl/pkg/wire"
)

const (
	selectReportAll                 = byte(0x00)
	selectReportWellKnown           = byte(0x01)
	selectReportAllAccessible       = byte(0x02)
	selectReportAdministrative      = byte(0x10)
	selectReportAdministrativeOne   = byte(0x11)
	selectReportAdministrativeOther = byte(0x12)

	// flat space addressing keeps 14 bits of LUN
	maxReportedLun = uint32(0x3fff)
	lunEntryLength = 8
	powerStateMask = uint32(0x1f)
)

func encodeLun(lun uint32) []byte {
	const flatSpaceAddressing = byte(0x40)
	entry := make([]byte, lunEntryLength)
	if lun < 256 {
		entry[1] = byte(lun)
		return entry
	}
	entry[0] = flatSpaceAddressing | byte(lun>>8)&0x3f
	entry[1] = byte(lun)
	return entry
}

// reportLuns Implements SCSI REPORT LUNS command
// The REPORT LUNS command requests the device server to return the peripheral Device
// logical unit inventory accessible to the I_T nexus.
// Namespace identifiers are reported as LUNs, LUN 0 is the controller.
// Reference : SPC4r11
// 6.33 - REPORT LUNS
func (t *task) reportLuns() error {
	selectReport := t.cdb[2]
	allocationLength := int(wire.GetBe32(t.cdb, 6))

	var count uint32
	switch selectReport {
	case selectReportAll, selectReportAllAccessible:
		identify, err := t.identifyController()
		if err != nil {
			return err
		}
		maxLun := identify.MaxNamespaces()
		if maxLun > maxReportedLun {
			maxLun = maxReportedLun
		}
		count = maxLun + 1
	case selectReportWellKnown, selectReportAdministrative, selectReportAdministrativeOther:
		count = 0
	case selectReportAdministrativeOne:
		if t.channel.namespaceId == 1 {
			count = 1
		}
	default:
		t.invalidCdbField(2, 7)
		return nil
	}
	data := make([]byte, 8, 8+lunEntryLength*int(count))
	wire.PutBe32(count*lunEntryLength, data, 0)
	for lun := uint32(0); lun < count; lun++ {
		data = append(data, encodeLun(lun)...)
	}
	t.respond(data, allocationLength)
	return nil
}

// currentPowerState reads the Power Management feature of the controller.
func (t *task) currentPowerState() (uint32, error) {
	if _, err := t.identifyController(); err != nil {
		return 0, err
	}
	command := nvme.NewGetFeaturesCommand(
		nvme.FeaturePowerManagement,
		nvme.SelectCurrent,
		nvme.BroadcastNamespace,
	)
	completion, err := t.submit(command, nil, true)
	if err != nil {
		return 0, err
	}
	return completion.Result & powerStateMask, nil
}

// testUnitReady Implements SCSI TEST UNIT READY command
// The TEST UNIT READY command requests the device server
// to indicate whether the logical unit is ready.
// A non-zero power state does not make the unit NOT READY; power
// states change too often for that to be useful.
// Reference : SPC4r11
// 6.47 - TEST UNIT READY
func (t *task) testUnitReady() error {
	powerState, err := t.currentPowerState()
	if err != nil {
		return err
	}
	logger.GetLogger().Debugf("power state %d", powerState)
	return nil
}

// requestSense Implements SCSI REQUEST SENSE command
// The REQUEST SENSE command requests the device server to return parameter data
// that contains sense data.
// The format follows the DESC bit of the CDB, not the channel preference.
// Reference : SPC4r11
// 6.39 - REQUEST SENSE
func (t *task) requestSense() error {
	const descriptorFormatBitMask = byte(0x01)
	descriptor := t.cdb[1]&descriptorFormatBitMask != 0
	allocationLength := int(t.cdb[4])

	powerState, err := t.currentPowerState()
	if err != nil {
		return err
	}
	asc := scsi.NoAdditionalSense
	if powerState != 0 {
		asc = scsi.AscLowPowerOn
	}
	t.respond(scsi.NewSense(descriptor, scsi.NoSense, asc), allocationLength)
	return nil
}
