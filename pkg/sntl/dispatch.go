// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package sntl

import (
	"nvmesntl/pkg/common"
	"nvmesntl/pkg/logger"
	"nvmesntl/pkg/scsi"

	"github.com/pkg/errors"
)

// Execute emulates one SCSI command on the channel. The returned error
// is ErrBadParams, ErrTimeout or a local *common.OsError; failures reported
// by the device come back as a Response carrying sense.
func (channel *Channel) Execute(request *Request) (*Response, error) {
	if request == nil || len(request.CDB) == 0 {
		return nil, errors.Wrap(common.ErrBadParams, "empty cdb")
	}
	if length := scsi.CdbLength(request.CDB[0]); len(request.CDB) < length {
		return nil, errors.Wrapf(
			common.ErrBadParams,
			"cdb of %d bytes for opcode 0x%02x, want %d",
			len(request.CDB),
			request.CDB[0],
			length,
		)
	}
	channel.mutex.Lock()
	defer channel.mutex.Unlock()

	t := &task{
		channel:  channel,
		request:  request,
		response: &Response{Status: scsi.StatusGood},
		cdb:      request.CDB,
	}
	command := scsi.ClassifyCDB(request.CDB)
	logger.GetLogger().Debugf("emulating %s, cdb % x", command, request.CDB)

	var err error
	switch command {
	case scsi.CommandInquiry:
		err = t.inquiry()
	case scsi.CommandReportLuns:
		err = t.reportLuns()
	case scsi.CommandTestUnitReady:
		err = t.testUnitReady()
	case scsi.CommandRequestSense:
		err = t.requestSense()
	case scsi.CommandModeSense10:
		err = t.modeSense10()
	case scsi.CommandModeSelect10:
		err = t.modeSelect10()
	case scsi.CommandReadCapacity10:
		err = t.readCapacity10()
	case scsi.CommandReadCapacity16:
		err = t.readCapacity16()
	case scsi.CommandRead10, scsi.CommandRead16,
		scsi.CommandWrite10, scsi.CommandWrite16,
		scsi.CommandVerify10, scsi.CommandVerify16:
		err = t.readWriteVerify(command)
	case scsi.CommandWriteSame10, scsi.CommandWriteSame16:
		err = t.writeSame(command)
	case scsi.CommandSynchronizeCache10, scsi.CommandSynchronizeCache16:
		err = t.synchronizeCache()
	case scsi.CommandStartStopUnit:
		err = t.startStopUnit()
	case scsi.CommandSendDiagnostic:
		err = t.sendDiagnostic()
	case scsi.CommandReceiveDiagnostic:
		err = t.receiveDiagnostic()
	case scsi.CommandReportSupportedOperationCodes:
		err = t.reportSupportedOperationCodes()
	case scsi.CommandReportSupportedTaskManagementFunctions:
		err = t.reportSupportedTaskManagementFunctions()
	default:
		logger.GetLogger().Warnf("unsupported opcode %s", scsi.CommandType(request.CDB[0]))
		t.checkCondition(scsi.IllegalRequest, scsi.AscInvalidOpCode)
	}

	var status *deviceStatus
	if asDeviceStatus(err, &status) {
		t.senseFromNvmeStatus(status.completion)
		err = nil
	}
	if err != nil {
		logger.GetLogger().Errorf("%s failed: %v", command, err)
		return nil, err
	}
	return t.response, nil
}
