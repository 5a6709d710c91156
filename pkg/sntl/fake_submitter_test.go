// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package sntl

import (
	"nvmesntl/pkg/nvme"
	"nvmesntl/pkg/scsi"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type opcodeKey struct {
	admin  bool
	opcode byte
}

type submitted struct {
	command nvme.Command
	admin   bool
	dataLen int
}

// fakeSubmitter answers the commands the translators issue and records
// every submission.
type fakeSubmitter struct {
	controller     nvme.IdentifyController
	namespace      nvme.IdentifyNamespace
	powerState     uint32
	writeCache     uint32
	diagnosticPage []byte
	statuses       map[opcodeKey]uint16
	localError     error
	commands       []submitted
}

func testControllerInfo() nvme.ControllerInfo {
	return nvme.ControllerInfo{
		VendorId:           0x1b36,
		SerialNumber:       "SN123",
		ModelNumber:        "TESTMODEL",
		FirmwareRevision:   "1.0",
		IeeeOui:            [3]byte{0x00, 0x54, 0x52},
		Version:            0x00010400,
		OptionalAdmin:      0x0050,
		PowerStates:        4,
		ExtendedSelfTest:   12,
		MaxNamespaces:      4,
		VolatileWriteCache: true,
		SubsystemNqn:       "nqn.2014-08.org.nvmexpress:test",
	}
}

func testNamespaceInfo() nvme.NamespaceInfo {
	return nvme.NamespaceInfo{
		Size:        1000000,
		Capacity:    1000000,
		Utilization: 1000,
		LbaFormats: []nvme.LbaFormatInfo{
			{MetadataSize: 0, Lbads: 9},
			{MetadataSize: 8, Lbads: 12},
		},
	}
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{
		controller: testControllerInfo().Marshal(),
		namespace:  testNamespaceInfo().Marshal(),
		statuses:   map[opcodeKey]uint16{},
	}
}

func (fake *fakeSubmitter) SubmitNVMe(command *nvme.Command, data []byte, admin bool, timeout time.Duration) (nvme.Completion, error) {
	fake.commands = append(fake.commands, submitted{*command, admin, len(data)})
	if fake.localError != nil {
		return nvme.Completion{}, fake.localError
	}
	if status := fake.statuses[opcodeKey{admin, command.Opcode}]; status != nvme.StatusSuccess {
		return nvme.NewCompletion(0, status, false, true), nil
	}
	result := uint32(0)
	if admin {
		switch command.Opcode {
		case nvme.AdminIdentify:
			switch byte(command.CDW10) {
			case nvme.CnsController:
				copy(data, fake.controller)
			case nvme.CnsNamespace:
				copy(data, fake.namespace)
			}
		case nvme.AdminGetFeatures:
			switch byte(command.CDW10) {
			case nvme.FeaturePowerManagement:
				result = fake.powerState
			case nvme.FeatureVolatileWriteCache:
				result = fake.writeCache
			}
		case nvme.AdminSetFeatures:
			switch byte(command.CDW10) {
			case nvme.FeaturePowerManagement:
				fake.powerState = command.CDW11
			case nvme.FeatureVolatileWriteCache:
				fake.writeCache = command.CDW11
			}
		case nvme.AdminMiReceive:
			copy(data, fake.diagnosticPage)
		}
	} else if command.Opcode == nvme.NvmRead {
		for i := range data {
			data[i] = 0xab
		}
	}
	return nvme.NewCompletion(result, nvme.StatusSuccess, false, false), nil
}

func (fake *fakeSubmitter) count(admin bool, opcode byte) int {
	count := 0
	for _, entry := range fake.commands {
		if entry.admin == admin && entry.command.Opcode == opcode {
			count++
		}
	}
	return count
}

func (fake *fakeSubmitter) identifyControllerCount() int {
	count := 0
	for _, entry := range fake.commands {
		if entry.admin && entry.command.Opcode == nvme.AdminIdentify && byte(entry.command.CDW10) == nvme.CnsController {
			count++
		}
	}
	return count
}

// last returns the last submitted command with the opcode.
func (fake *fakeSubmitter) last(t *testing.T, admin bool, opcode byte) nvme.Command {
	for i := len(fake.commands) - 1; i >= 0; i-- {
		if fake.commands[i].admin == admin && fake.commands[i].command.Opcode == opcode {
			return fake.commands[i].command
		}
	}
	t.Fatalf("no command with opcode 0x%02x submitted", opcode)
	return nvme.Command{}
}

func (fake *fakeSubmitter) reset() {
	fake.commands = nil
}

type testRequest struct {
	cdb     []byte
	dataIn  int
	dataOut []byte
}

func execute(t *testing.T, channel *Channel, request testRequest) (*Response, *Request) {
	t.Helper()
	scsiRequest := &Request{
		CDB:     request.cdb,
		DataIn:  make([]byte, request.dataIn),
		DataOut: request.dataOut,
		Sense:   make([]byte, 64),
	}
	response, err := channel.Execute(scsiRequest)
	require.NoError(t, err)
	require.NotNil(t, response)
	return response, scsiRequest
}

func senseOf(t *testing.T, response *Response, request *Request) scsi.SenseData {
	t.Helper()
	require.Equal(t, scsi.StatusCheckCondition, response.Status)
	data, ok := scsi.ParseSense(request.Sense[:response.SenseLength])
	require.True(t, ok, "sense % x", request.Sense[:response.SenseLength])
	return data
}
