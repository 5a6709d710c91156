// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package passthru

import (
	"nvmesntl/pkg/common"
	"nvmesntl/pkg/journal"
	"nvmesntl/pkg/logger"
	"nvmesntl/pkg/nvme"
	"nvmesntl/pkg/scsi"
	"nvmesntl/pkg/sntl"
	"nvmesntl/pkg/transport"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

type ResultCategory int

const (
	ResultGood ResultCategory = iota
	// ResultStatus is a SCSI status other than GOOD without sense, or a
	// non-zero NVMe status of a raw NVMe command
	ResultStatus
	ResultSense
	ResultTransportError
	ResultOsError
)

func (category ResultCategory) String() string {
	switch category {
	case ResultGood:
		return "good"
	case ResultStatus:
		return "status"
	case ResultSense:
		return "sense"
	case ResultTransportError:
		return "transport error"
	case ResultOsError:
		return "os error"
	}
	return "unknown"
}

// Context is one command in flight: the CDB or 64 byte NVMe command,
// its buffers and, after Execute, its result. A context is reusable
// after Clear.
type Context struct {
	device *Device

	cdb         []byte
	sense       []byte
	dataIn      []byte
	dataOut     []byte
	timeout     time.Duration
	nvmeAdmin   bool
	rawNvme     bool
	inputErrors int

	category        ResultCategory
	scsiStatus      byte
	senseLength     int
	dataInResidual  int
	dataOutResidual int
	nvmeResult      uint32
	nvmeStatus      uint16
	nvmeDoNotRetry  bool
	emulated        bool
	osError         error
	hostStatus      uint16
	driverStatus    uint16
	duration        time.Duration
}

func NewContext(device *Device) *Context {
	context := &Context{device: device}
	context.Clear()
	return context
}

// Clear forgets buffers and results; the device stays.
func (context *Context) Clear() {
	*context = Context{device: context.device, nvmeAdmin: true}
}

func (context *Context) Device() *Device {
	return context.device
}

func (context *Context) InputErrors() int {
	return context.inputErrors
}

func (context *Context) SetCDB(cdb []byte) {
	if context.cdb != nil {
		context.inputErrors++
	}
	context.cdb = cdb
}

func (context *Context) SetSense(sense []byte) {
	context.sense = sense
}

func (context *Context) SetDataIn(buffer []byte) {
	if context.dataIn != nil {
		context.inputErrors++
	}
	context.dataIn = buffer
}

func (context *Context) SetDataOut(buffer []byte) {
	if context.dataOut != nil {
		context.inputErrors++
	}
	context.dataOut = buffer
}

func (context *Context) SetTimeout(timeout time.Duration) {
	context.timeout = timeout
}

// SetNvmeAdmin marks the CDB buffer as a raw 64 byte NVMe command and
// selects the Admin or NVM queue for it.
func (context *Context) SetNvmeAdmin(admin bool) {
	context.nvmeAdmin = admin
	context.rawNvme = true
}

// Execute issues the command. Results are read back through the
// accessors. The error is ErrBadParams for a malformed context, or the
// local failure already reflected in ResultCategory.
func (context *Context) Execute() error {
	log := logger.GetLogger()
	if context.inputErrors > 0 {
		return errors.Wrapf(common.ErrBadParams, "%d input errors", context.inputErrors)
	}
	if len(context.cdb) == 0 {
		return errors.Wrap(common.ErrBadParams, "no cdb")
	}
	context.resetResults()
	started := time.Now()
	var err error
	switch {
	case !context.device.IsNvme():
		err = context.executeScsi()
	case context.rawNvme || !scsi.IsCdbShaped(context.cdb):
		err = context.executeNvme()
	default:
		err = context.executeEmulated()
	}
	context.duration = time.Since(started)
	if err != nil {
		if errors.Is(err, common.ErrBadParams) {
			return err
		}
		context.osError = err
		context.category = ResultOsError
		if errors.Is(err, common.ErrTimeout) {
			context.category = ResultTransportError
		}
		log.Debugf("%s on %s: %v", context.category, context.device.Path(), err)
	}
	context.record()
	return err
}

func (context *Context) resetResults() {
	context.category = ResultGood
	context.scsiStatus = scsi.StatusGood
	context.senseLength = 0
	context.dataInResidual = len(context.dataIn)
	context.dataOutResidual = len(context.dataOut)
	context.nvmeResult = 0
	context.nvmeStatus = 0
	context.nvmeDoNotRetry = false
	context.emulated = false
	context.osError = nil
	context.hostStatus = 0
	context.driverStatus = 0
}

func (context *Context) scsiCategory() ResultCategory {
	switch {
	case context.scsiStatus == scsi.StatusGood:
		return ResultGood
	case context.scsiStatus == scsi.StatusCheckCondition && context.senseLength > 0:
		return ResultSense
	}
	return ResultStatus
}

func (context *Context) executeScsi() error {
	result, err := context.device.transport.SubmitSCSI(&transport.ScsiRequest{
		CDB:     context.cdb,
		DataIn:  context.dataIn,
		DataOut: context.dataOut,
		Sense:   context.sense,
		Timeout: context.timeout,
	})
	if err != nil {
		return err
	}
	context.scsiStatus = result.Status
	context.senseLength = min(result.SenseLength, len(context.sense))
	context.hostStatus = result.HostStatus
	context.driverStatus = result.DriverStatus
	if len(context.dataIn) > 0 {
		context.dataInResidual = result.Residual
		context.dataOutResidual = 0
	} else {
		context.dataOutResidual = result.Residual
		context.dataInResidual = 0
	}
	if result.TransportFailed() {
		context.category = ResultTransportError
		return nil
	}
	context.category = context.scsiCategory()
	return nil
}

func (context *Context) executeEmulated() error {
	context.emulated = true
	response, err := context.device.channel.Execute(&sntl.Request{
		CDB:     context.cdb,
		DataIn:  context.dataIn,
		DataOut: context.dataOut,
		Sense:   context.sense,
		Timeout: context.timeout,
	})
	if err != nil {
		return err
	}
	context.scsiStatus = response.Status
	context.senseLength = response.SenseLength
	context.dataInResidual = len(context.dataIn) - response.DataInLength
	context.dataOutResidual = len(context.dataOut) - response.DataOutLength
	context.nvmeResult = response.NvmeResult
	context.nvmeStatus = response.NvmeStatus
	context.nvmeDoNotRetry = response.NvmeDoNotRetry
	context.category = context.scsiCategory()
	return nil
}

func (context *Context) executeNvme() error {
	if len(context.cdb) < nvme.CommandLength {
		return errors.Wrapf(
			common.ErrBadParams,
			"%d byte buffer is neither a cdb nor an NVMe command",
			len(context.cdb),
		)
	}
	command := nvme.UnmarshalCommand(context.cdb)
	var data []byte
	switch command.Direction() {
	case nvme.DirectionFromDevice:
		data = context.dataIn
	case nvme.DirectionToDevice:
		data = context.dataOut
	case nvme.DirectionBidirectional:
		return errors.Wrap(common.ErrBadParams, "bidirectional NVMe commands are not supported")
	}
	if command.DataLen != 0 && int(command.DataLen) < len(data) {
		data = data[:command.DataLen]
	}
	command.DataLen = uint32(len(data))
	completion, err := context.device.transport.SubmitNVMe(command, data, context.nvmeAdmin, context.timeout)
	if err != nil {
		return err
	}
	context.nvmeResult = completion.Result
	context.nvmeStatus = completion.Status()
	context.nvmeDoNotRetry = completion.DoNotRetry()
	if len(data) > 0 {
		if command.Direction() == nvme.DirectionFromDevice {
			context.dataInResidual = len(context.dataIn) - len(data)
		} else {
			context.dataOutResidual = len(context.dataOut) - len(data)
		}
	}
	if context.nvmeStatus != nvme.StatusSuccess {
		context.category = ResultStatus
	}
	return nil
}

func (context *Context) record() {
	recorder := context.device.recorder
	if recorder == nil {
		return
	}
	err := recorder.Record(journal.Entry{
		Handle:     context.device.handle,
		Device:     context.device.Path(),
		Cdb:        context.cdb,
		Emulated:   context.emulated,
		Category:   int(context.SenseCategory()),
		ScsiStatus: context.scsiStatus,
		Sense:      context.Sense(),
		NvmeStatus: context.nvmeStatus,
		Duration:   context.duration,
	})
	if err != nil {
		logger.GetLogger().Warnf("journal: %v", err)
	}
}

func (context *Context) ResultCategory() ResultCategory {
	return context.category
}

func (context *Context) ScsiStatus() byte {
	return context.scsiStatus
}

// Sense is the valid part of the sense buffer.
func (context *Context) Sense() []byte {
	return context.sense[:context.senseLength]
}

func (context *Context) SenseLen() int {
	return context.senseLength
}

func (context *Context) SenseResidual() int {
	return len(context.sense) - context.senseLength
}

func (context *Context) DataInResidual() int {
	return context.dataInResidual
}

func (context *Context) DataOutResidual() int {
	return context.dataOutResidual
}

// DataIn is the transferred part of the data-in buffer.
func (context *Context) DataIn() []byte {
	return context.dataIn[:len(context.dataIn)-context.dataInResidual]
}

func (context *Context) NvmeResult() uint32 {
	return context.nvmeResult
}

// NvmeStatus is the packed SCT<<8|SC status. For emulated commands it is
// the status the sense was synthesized from.
func (context *Context) NvmeStatus() uint16 {
	return context.nvmeStatus
}

func (context *Context) NvmeStatusError() *common.NvmeStatusError {
	if context.nvmeStatus == nvme.StatusSuccess {
		return nil
	}
	return &common.NvmeStatusError{Status: context.nvmeStatus, DoNotRetry: context.nvmeDoNotRetry}
}

func (context *Context) EmulatedViaSntl() bool {
	return context.emulated
}

func (context *Context) OsError() error {
	return context.osError
}

func (context *Context) HostStatus() uint16 {
	return context.hostStatus
}

func (context *Context) DriverStatus() uint16 {
	return context.driverStatus
}

func (context *Context) Duration() time.Duration {
	return context.duration
}

// SenseCategory reduces the result to the small integer the command
// line tools exit with.
func (context *Context) SenseCategory() scsi.Category {
	switch context.category {
	case ResultGood:
		return scsi.CategoryClean
	case ResultSense:
		return scsi.SenseCategory(context.Sense())
	case ResultStatus:
		if context.emulated || !context.device.IsNvme() {
			return scsi.StatusCategory(context.scsiStatus, context.Sense())
		}
		return scsi.CategoryNvmeStatus
	case ResultTransportError:
		if errors.Is(context.osError, common.ErrTimeout) {
			return scsi.CategoryTimeout
		}
		return scsi.CategoryOther
	case ResultOsError:
		var errno syscall.Errno
		if errors.As(context.osError, &errno) {
			category := scsi.CategoryOsBase + scsi.Category(errno)
			if category < scsi.CategoryMalformed {
				return category
			}
		}
		return scsi.CategoryOther
	}
	return scsi.CategoryOther
}
