// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package sntl

import (
	"fmt"
	"nvmesntl/pkg/logger"
	"nvmesntl/pkg/nvme"
	"nvmesntl/pkg/scsi"
	"nvmesntl/pkg/wire"
)

const (
	vendorModePageCode              = uint8(0x00)
	cachingModePageCode             = uint8(0x08)
	controlModePageCode             = uint8(0x0a)
	informationalExceptionsPageCode = uint8(0x1c)
	allModePages                    = uint8(0x3f)
	modeParameterHeader10Length     = 8
	writeCacheEnableBitMask         = byte(0x04)
	descriptorSenseBitMask          = byte(0x04)
	deviceSpecificDpoFuaBitMask     = byte(0x10)
	pageControlCurrent              = byte(0x0)
	pageControlChangeable           = byte(0x1)
	pageControlDefault              = byte(0x2)
	pageControlSaved                = byte(0x3)
	modePageSubPageFormatBitMask    = byte(0x40)
	modePageCodeBitMask             = byte(0x3f)
	enclosureOverrideModePageByte   = 0
	writeCacheEnableModePageByte    = 0
	descriptorSenseModePageByte     = 0
)

type modePage struct {
	// Page code
	PageCode uint8
	// Sub page code
	SubPageCode uint8
	// Page bytes after the header for each page control value
	Current    []byte
	Changeable []byte
	Default    []byte
}

func (page modePage) size() byte {
	return byte(len(page.Current))
}

func (page modePage) toByte(pageControl byte) []byte {
	var data []byte
	if page.SubPageCode == 0 {
		data = []byte{
			page.PageCode,
			page.size(),
		}
	} else {
		data = []byte{
			page.PageCode | modePageSubPageFormatBitMask,
			page.SubPageCode,
			// 2 bytes for size
			0x00, page.size(),
		}
	}
	// saved values are rejected before we get here
	switch pageControl {
	case pageControlChangeable:
		data = append(data, page.Changeable...)
	case pageControlDefault:
		data = append(data, page.Default...)
	default:
		data = append(data, page.Current...)
	}
	return data
}

type modePages []modePage

func (pages modePages) findPage(pageCode, subPageCode uint8) *modePage {
	for _, page := range pages {
		if page.PageCode == pageCode && page.SubPageCode == subPageCode {
			return &page
		}
	}
	return nil
}

func (pages modePages) toBytes(pageCode, subPageCode, pageControl uint8) ([]byte, error) {
	data := make([]byte, 0, len(pages)*30)
	if pageCode == allModePages {
		// For allModePages page code
		// return all pages for device
		if subPageCode == 0x00 {
			for _, page := range pages {
				if page.SubPageCode == 0x00 {
					data = append(data, page.toByte(pageControl)...)
				}
			}
		} else if subPageCode == 0xff {
			for _, page := range pages {
				data = append(data, page.toByte(pageControl)...)
			}
		} else {
			return nil, fmt.Errorf(
				"mode page for all pages (pageCode=%d) does not "+
					"support subpage code subPageCode=%d",
				pageCode,
				subPageCode,
			)
		}
		return data, nil
	}
	selectedPage := pages.findPage(pageCode, subPageCode)
	if selectedPage == nil {
		return nil, fmt.Errorf(
			"mode page pageCode=%d, subPageCode=%d not found",
			pageCode,
			subPageCode,
		)
	}
	return append(data, selectedPage.toByte(pageControl)...), nil
}

// modePages describes the pages of the channel as they currently are.
func (channel *Channel) modePages() modePages {
	caching := modePage{
		PageCode:   cachingModePageCode,
		Current:    make([]byte, 0x12),
		Changeable: make([]byte, 0x12),
		Default:    make([]byte, 0x12),
	}
	if channel.identify.VolatileWriteCache() {
		caching.Changeable[writeCacheEnableModePageByte] = writeCacheEnableBitMask
		caching.Default[writeCacheEnableModePageByte] = writeCacheEnableBitMask
	}
	if channel.writeCacheEnabled {
		caching.Current[writeCacheEnableModePageByte] = writeCacheEnableBitMask
	}

	control := modePage{
		PageCode:   controlModePageCode,
		Current:    make([]byte, 0x0a),
		Changeable: make([]byte, 0x0a),
		Default:    make([]byte, 0x0a),
	}
	control.Changeable[descriptorSenseModePageByte] = descriptorSenseBitMask
	if channel.denseSense {
		control.Current[descriptorSenseModePageByte] = descriptorSenseBitMask
	}

	informationalExceptions := modePage{
		PageCode:   informationalExceptionsPageCode,
		Current:    make([]byte, 0x0a),
		Changeable: make([]byte, 0x0a),
		Default:    make([]byte, 0x0a),
	}

	vendor := modePage{
		PageCode:   vendorModePageCode,
		Current:    make([]byte, 0x06),
		Changeable: make([]byte, 0x06),
		Default:    make([]byte, 0x06),
	}
	vendor.Current[enclosureOverrideModePageByte] = byte(channel.override)
	vendor.Changeable[enclosureOverrideModePageByte] = 0xff

	return modePages{vendor, caching, control, informationalExceptions}
}

// refreshWriteCache reads the Volatile Write Cache feature when the
// controller has one.
func (t *task) refreshWriteCache(identify nvme.IdentifyController) error {
	if !identify.VolatileWriteCache() {
		t.channel.writeCacheEnabled = false
		return nil
	}
	command := nvme.NewGetFeaturesCommand(nvme.FeatureVolatileWriteCache, nvme.SelectCurrent, 0)
	completion, err := t.submit(command, nil, true)
	if err != nil {
		return err
	}
	t.channel.writeCacheEnabled = completion.Result&0x01 != 0
	return nil
}

// modeSense10 Implements SCSI MODE SENSE(10) command
// The MODE SENSE(10) command requests the device server to return the specified medium,
// logical unit, or peripheral device parameters.
// Block descriptors are never returned.
// Reference : SPC4r11
// 6.10 - MODE SENSE(10)
func (t *task) modeSense10() error {
	const (
		pageCodeBitMask    = byte(0x3f)
		pageControlBitMask = byte(0xc0)
	)
	pageControl := (t.cdb[2] & pageControlBitMask) >> 6
	pageCode := t.cdb[2] & pageCodeBitMask
	subPageCode := t.cdb[3]
	allocationLength := int(wire.GetBe16(t.cdb, 7))

	if pageControl == pageControlSaved {
		t.checkCondition(scsi.IllegalRequest, scsi.AscSavingParmsUnsup)
		return nil
	}
	identify, err := t.identifyController()
	if err != nil {
		return err
	}
	if pageControl == pageControlCurrent {
		if err := t.refreshWriteCache(identify); err != nil {
			return err
		}
	}
	pages, err := t.channel.modePages().toBytes(pageCode, subPageCode, pageControl)
	if err != nil {
		logger.GetLogger().Warnf("%v", err)
		if pageCode == allModePages {
			t.invalidCdbField(3, 7)
		} else {
			t.invalidCdbField(2, 5)
		}
		return nil
	}
	data := make([]byte, modeParameterHeader10Length, modeParameterHeader10Length+len(pages))
	// mode data length excludes its own two bytes
	wire.PutBe16(uint16(modeParameterHeader10Length-2+len(pages)), data, 0)
	data[3] = deviceSpecificDpoFuaBitMask
	data = append(data, pages...)
	t.respond(data, allocationLength)
	return nil
}

// modeSelect10 Implements SCSI MODE SELECT(10) command
// Writable fields are D_SENSE in the control page, WCE in the caching
// page and the enclosure override in the vendor page.
// Reference : SPC4r11
// 6.8 - MODE SELECT(10)
func (t *task) modeSelect10() error {
	const (
		pageFormatBitMask = byte(0x10)
		savePagesBitMask  = byte(0x01)
	)
	parameterListLength := int(wire.GetBe16(t.cdb, 7))
	if t.cdb[1]&savePagesBitMask != 0 {
		t.invalidCdbField(1, 0)
		return nil
	}
	if t.cdb[1]&pageFormatBitMask == 0 {
		t.invalidCdbField(1, 4)
		return nil
	}
	if parameterListLength == 0 {
		return nil
	}
	if parameterListLength < modeParameterHeader10Length || parameterListLength > len(t.request.DataOut) {
		t.checkCondition(scsi.IllegalRequest, scsi.AscParameterListLengthError)
		return nil
	}
	identify, err := t.identifyController()
	if err != nil {
		return err
	}
	parameters := t.request.DataOut[:parameterListLength]
	t.response.DataOutLength = parameterListLength

	offset := modeParameterHeader10Length + int(wire.GetBe16(parameters, 6))
	for offset < len(parameters) {
		pageStart := offset
		pageCode := parameters[offset] & modePageCodeBitMask
		var pageLength int
		if parameters[offset]&modePageSubPageFormatBitMask != 0 {
			if offset+4 > len(parameters) {
				t.invalidField(false, uint16(offset), -1)
				return nil
			}
			pageLength = int(wire.GetBe16(parameters, offset+2))
			offset += 4
		} else {
			if offset+2 > len(parameters) {
				t.invalidField(false, uint16(offset), -1)
				return nil
			}
			pageLength = int(parameters[offset+1])
			offset += 2
		}
		if offset+pageLength > len(parameters) || pageLength == 0 {
			t.invalidField(false, uint16(pageStart+1), -1)
			return nil
		}
		page := parameters[offset : offset+pageLength]
		offset += pageLength

		switch pageCode {
		case vendorModePageCode:
			override := EnclosureOverride(page[enclosureOverrideModePageByte])
			if !override.valid() {
				t.invalidField(false, uint16(pageStart+2), -1)
				return nil
			}
			if override != t.channel.override {
				logger.GetLogger().Infof("enclosure override %s -> %s", t.channel.override, override)
				t.channel.setEnclosureOverride(override)
			}
		case cachingModePageCode:
			enable := page[writeCacheEnableModePageByte]&writeCacheEnableBitMask != 0
			if enable && !identify.VolatileWriteCache() {
				t.invalidField(false, uint16(pageStart+2), 2)
				return nil
			}
			if !identify.VolatileWriteCache() {
				continue
			}
			value := uint32(0)
			if enable {
				value = 1
			}
			command := nvme.NewSetFeaturesCommand(nvme.FeatureVolatileWriteCache, 0, value)
			if _, err := t.submit(command, nil, true); err != nil {
				return err
			}
			t.channel.writeCacheEnabled = enable
		case controlModePageCode:
			t.channel.denseSense = page[descriptorSenseModePageByte]&descriptorSenseBitMask != 0
		case informationalExceptionsPageCode:
			// nothing is changeable
		default:
			t.invalidField(false, uint16(pageStart), 5)
			return nil
		}
	}
	return nil
}
