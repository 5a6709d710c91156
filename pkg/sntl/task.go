// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package sntl

import (
	"nvmesntl/pkg/common"
	"nvmesntl/pkg/logger"
	"nvmesntl/pkg/nvme"
	"nvmesntl/pkg/scsi"
	"time"

	"github.com/pkg/errors"
)

// Request is one SCSI command to emulate. DataIn and Sense are
// destination buffers; their lengths are the capacities.
type Request struct {
	CDB     []byte
	DataIn  []byte
	DataOut []byte
	Sense   []byte
	Timeout time.Duration
}

// Response carries the SCSI shaped outcome of a request.
type Response struct {
	Status         byte
	SenseLength    int
	DataInLength   int
	DataOutLength  int
	NvmeResult     uint32
	NvmeStatus     uint16
	NvmeDoNotRetry bool
}

// deviceStatus is a non-zero NVMe completion travelling up to the
// dispatcher, which turns it into sense.
type deviceStatus struct {
	completion nvme.Completion
}

func (status *deviceStatus) Error() string {
	return nvme.StatusString(status.completion.Status())
}

func (status *deviceStatus) nvmeStatusError() *common.NvmeStatusError {
	return &common.NvmeStatusError{
		Status:     status.completion.Status(),
		DoNotRetry: status.completion.DoNotRetry(),
		More:       status.completion.More(),
	}
}

func asDeviceStatus(err error, target **deviceStatus) bool {
	if err == nil {
		return false
	}
	return errors.As(err, target)
}

type task struct {
	channel  *Channel
	request  *Request
	response *Response
	cdb      []byte
}

func (t *task) timeout() time.Duration {
	return timeoutOrDefault(t.request.Timeout)
}

// respond copies data into the data-in buffer, truncated to the
// allocation length and the buffer capacity.
func (t *task) respond(data []byte, allocationLength int) {
	length := len(data)
	if allocationLength < length {
		length = allocationLength
	}
	if len(t.request.DataIn) < length {
		length = len(t.request.DataIn)
	}
	if length < 0 {
		length = 0
	}
	t.response.DataInLength = copy(t.request.DataIn, data[:length])
}

func (t *task) setSense(sense []byte) {
	t.response.SenseLength = copy(t.request.Sense, sense)
}

func (t *task) checkCondition(key byte, asc scsi.AdditionalSenseCode) {
	t.response.Status = scsi.StatusCheckCondition
	t.setSense(scsi.NewSense(t.channel.denseSense, key, asc))
	logger.GetLogger().Warnf(
		"sense data(%s, asc=0x%02x, ascq=0x%02x) encounter",
		scsi.SenseKeyString(key),
		asc.Asc(),
		asc.Ascq(),
	)
}

func (t *task) invalidField(inCdb bool, byteOffset uint16, bitOffset int) {
	t.response.Status = scsi.StatusCheckCondition
	t.setSense(scsi.NewInvalidFieldSense(t.channel.denseSense, inCdb, byteOffset, bitOffset))
	logger.GetLogger().Warnf(
		"sense data(ILLEGAL_REQUEST, invalid field in cdb=%v byte %d bit %d) encounter",
		inCdb,
		byteOffset,
		bitOffset,
	)
}

func (t *task) invalidCdbField(byteOffset uint16, bitOffset int) {
	t.invalidField(true, byteOffset, bitOffset)
}

// senseFromNvmeStatus is the common path for every device reported failure.
func (t *task) senseFromNvmeStatus(completion nvme.Completion) {
	status := completion.Status()
	scsiStatus, key, asc := NvmeStatusToSense(status)
	t.response.Status = scsiStatus
	t.response.NvmeStatus = status
	t.response.NvmeDoNotRetry = completion.DoNotRetry()
	logger.GetLogger().Warnf(
		"NVMe status 0x%03x (%s) mapped to %s",
		status,
		nvme.StatusString(status),
		scsi.StatusToSAMStat(scsiStatus).Err,
	)
	if scsiStatus != scsi.StatusCheckCondition {
		return
	}
	sense := scsi.NewSense(t.channel.denseSense, key, asc)
	if status != nvme.StatusSuccess {
		sense = scsi.AppendNvmeStatusDescriptor(sense, completion.DoNotRetry(), completion.More(), status)
	}
	t.setSense(sense)
}

// localFailure wraps a submission error. Timeouts keep ErrTimeout in
// the chain, anything else becomes a *common.OsError.
func localFailure(op string, err error) error {
	if errors.Is(err, common.ErrTimeout) {
		return errors.Wrap(err, op)
	}
	return common.NewOsError(op, "", err)
}

// submit issues one command. A non-zero completion status comes back
// as *deviceStatus, a local failure through localFailure.
func (t *task) submit(command *nvme.Command, data []byte, admin bool) (nvme.Completion, error) {
	if data != nil {
		command.DataLen = uint32(len(data))
	}
	logger.GetLogger().Debugf(
		"submit %s %s",
		nvme.OpcodeString(command.Opcode, admin),
		command,
	)
	completion, err := t.channel.submitter.SubmitNVMe(command, data, admin, t.timeout())
	if err != nil {
		return completion, localFailure(nvme.OpcodeString(command.Opcode, admin), err)
	}
	t.response.NvmeResult = completion.Result
	t.response.NvmeStatus = completion.Status()
	if completion.Status() != nvme.StatusSuccess {
		return completion, &deviceStatus{completion}
	}
	return completion, nil
}

func (t *task) identifyController() (nvme.IdentifyController, error) {
	return t.channel.ensureIdentifyCached(t.timeout())
}

// identifyNamespace fetches Identify Namespace of the channel namespace.
// It is not cached since the format can change underneath.
func (t *task) identifyNamespace() (nvme.IdentifyNamespace, error) {
	data := make([]byte, nvme.IdentifyDataLength)
	command := nvme.NewIdentifyCommand(nvme.CnsNamespace, t.channel.namespaceId)
	if _, err := t.submit(command, data, true); err != nil {
		return nil, err
	}
	return nvme.IdentifyNamespace(data), nil
}

// requireNamespace reports false, after setting sense, when the channel
// is bound to a controller rather than a namespace.
func (t *task) requireNamespace() bool {
	if t.channel.namespaceId == 0 || t.channel.namespaceId == nvme.BroadcastNamespace {
		t.checkCondition(scsi.IllegalRequest, scsi.AscLuNotSupported)
		return false
	}
	return true
}
