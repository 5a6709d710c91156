// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package simulated

import (
	"bytes"
	"nvmesntl/pkg/common"
	"nvmesntl/pkg/nvme"
	"nvmesntl/pkg/scsi"
	"nvmesntl/pkg/sntl"
	"nvmesntl/pkg/transport"
	"nvmesntl/pkg/wire"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBlocks = 4096

func newTestController(t *testing.T, config Config) *Controller {
	if config.Blocks == 0 {
		config.Blocks = testBlocks
	}
	controller, err := NewController(config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = controller.Close() })
	return controller
}

func TestControllerIdentify(t *testing.T) {
	controller := newTestController(t, Config{
		Model:              "SIM MODEL",
		Namespaces:         3,
		PowerStates:        4,
		VolatileWriteCache: true,
	})

	data := make([]byte, nvme.IdentifyDataLength)
	completion, err := controller.Submit(nvme.NewIdentifyCommand(nvme.CnsController, 0), data, true)
	require.NoError(t, err)
	require.Equal(t, nvme.StatusSuccess, completion.Status())
	identify := nvme.IdentifyController(data)
	assert.Equal(t, "SIM MODEL", strings.TrimSpace(string(identify.ModelNumber())))
	assert.Equal(t, uint32(3), identify.MaxNamespaces())
	assert.Equal(t, byte(4), identify.PowerStates())
	assert.True(t, identify.SupportsSelfTest())
	assert.True(t, identify.SupportsNvmeMi())
	assert.True(t, identify.VolatileWriteCache())

	completion, err = controller.Submit(nvme.NewIdentifyCommand(nvme.CnsNamespace, 2), data, true)
	require.NoError(t, err)
	require.Equal(t, nvme.StatusSuccess, completion.Status())
	namespace := nvme.IdentifyNamespace(data)
	assert.Equal(t, uint64(testBlocks), namespace.Size())
	assert.Equal(t, uint32(512), namespace.LogicalBlockSize())
	_, ok := namespace.NamespaceGUID()
	assert.True(t, ok)

	completion, err = controller.Submit(nvme.NewIdentifyCommand(nvme.CnsActiveNamespaceList, 1), data, true)
	require.NoError(t, err)
	require.Equal(t, nvme.StatusSuccess, completion.Status())
	assert.Equal(t, uint32(2), wire.GetLe32(data, 0))
	assert.Equal(t, uint32(3), wire.GetLe32(data, 4))
	assert.Equal(t, uint32(0), wire.GetLe32(data, 8))

	completion, err = controller.Submit(nvme.NewIdentifyCommand(nvme.CnsNamespace, 9), data, true)
	require.NoError(t, err)
	assert.Equal(t, nvme.StatusInvalidNamespace, completion.Status())
	assert.True(t, completion.DoNotRetry())
}

func TestControllerStatuses(t *testing.T) {
	controller := newTestController(t, Config{PowerStates: 2})
	tests := []struct {
		desc    string
		command *nvme.Command
		admin   bool
		status  uint16
	}{
		{"unknown admin opcode", &nvme.Command{Opcode: nvme.AdminFormatNvm}, true, nvme.StatusInvalidOpcode},
		{"unknown nvm opcode", &nvme.Command{Opcode: nvme.NvmDatasetManagement, NSID: 1}, false, nvme.StatusInvalidOpcode},
		{"invalid namespace", nvme.NewBlockCommand(nvme.NvmVerify, 2, 0, 1, false), false, nvme.StatusInvalidNamespace},
		{"past the end", nvme.NewBlockCommand(nvme.NvmVerify, 1, testBlocks-1, 2, false), false, nvme.StatusLbaOutOfRange},
		{"last block", nvme.NewBlockCommand(nvme.NvmVerify, 1, testBlocks-1, 1, false), false, nvme.StatusSuccess},
		{"deep power state", nvme.NewSetFeaturesCommand(nvme.FeaturePowerManagement, 0, 3), true, nvme.StatusInvalidField},
		{"no write cache", nvme.NewGetFeaturesCommand(nvme.FeatureVolatileWriteCache, nvme.SelectCurrent, 0), true, nvme.StatusInvalidField},
		{"fixed feature", nvme.NewSetFeaturesCommand(nvme.FeatureArbitration, 0, 1), true, nvme.StatusFeatureNotChangeable},
		{"vendor self-test", nvme.NewDeviceSelfTestCommand(1, nvme.SelfTestVendor), true, nvme.StatusInvalidField},
		{"broadcast flush", nvme.NewFlushCommand(nvme.BroadcastNamespace), false, nvme.StatusSuccess},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			completion, err := controller.Submit(test.command, nil, test.admin)
			require.NoError(t, err)
			assert.Equal(t, test.status, completion.Status())
		})
	}
}

func TestControllerFeatures(t *testing.T) {
	controller := newTestController(t, Config{PowerStates: 4, VolatileWriteCache: true})

	completion, err := controller.Submit(nvme.NewSetFeaturesCommand(nvme.FeaturePowerManagement, 0, 3), nil, true)
	require.NoError(t, err)
	require.Equal(t, nvme.StatusSuccess, completion.Status())
	completion, err = controller.Submit(nvme.NewGetFeaturesCommand(nvme.FeaturePowerManagement, nvme.SelectCurrent, 0), nil, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), completion.Result)

	completion, err = controller.Submit(nvme.NewSetFeaturesCommand(nvme.FeatureVolatileWriteCache, 0, 0), nil, true)
	require.NoError(t, err)
	require.Equal(t, nvme.StatusSuccess, completion.Status())
	completion, err = controller.Submit(nvme.NewGetFeaturesCommand(nvme.FeatureVolatileWriteCache, nvme.SelectCurrent, 0), nil, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), completion.Result)
}

func TestControllerBlockCommands(t *testing.T) {
	controller := newTestController(t, Config{})
	payload := bytes.Repeat([]byte("0123456789abcdef"), 64)

	completion, err := controller.Submit(nvme.NewBlockCommand(nvme.NvmWrite, 1, 10, 2, true), payload, false)
	require.NoError(t, err)
	require.Equal(t, nvme.StatusSuccess, completion.Status())

	data := make([]byte, 1024)
	completion, err = controller.Submit(nvme.NewBlockCommand(nvme.NvmRead, 1, 10, 2, false), data, false)
	require.NoError(t, err)
	require.Equal(t, nvme.StatusSuccess, completion.Status())
	assert.Equal(t, payload, data)

	completion, err = controller.Submit(nvme.NewBlockCommand(nvme.NvmCompare, 1, 10, 2, false), payload, false)
	require.NoError(t, err)
	assert.Equal(t, nvme.StatusSuccess, completion.Status())

	completion, err = controller.Submit(nvme.NewWriteZeroesCommand(1, 11, 1, true), nil, false)
	require.NoError(t, err)
	require.Equal(t, nvme.StatusSuccess, completion.Status())

	completion, err = controller.Submit(nvme.NewBlockCommand(nvme.NvmCompare, 1, 10, 2, false), payload, false)
	require.NoError(t, err)
	assert.Equal(t, nvme.StatusCompareFailure, completion.Status())

	completion, err = controller.Submit(nvme.NewBlockCommand(nvme.NvmRead, 1, 10, 2, false), make([]byte, 512), false)
	require.NoError(t, err)
	assert.Equal(t, nvme.StatusDataTransferError, completion.Status())
	assert.Equal(t, 6, controller.SubmittedCount())
}

func TestControllerFileBackedNamespace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ns1.img")
	controller := newTestController(t, Config{BackingFile: path, Namespaces: 2})
	payload := bytes.Repeat([]byte{0x5a}, 512)
	completion, err := controller.Submit(nvme.NewBlockCommand(nvme.NvmWrite, 1, 0, 1, false), payload, false)
	require.NoError(t, err)
	require.Equal(t, nvme.StatusSuccess, completion.Status())
	require.NoError(t, controller.Close())

	reopened := newTestController(t, Config{BackingFile: path})
	data := make([]byte, 512)
	completion, err = reopened.Submit(nvme.NewBlockCommand(nvme.NvmRead, 1, 0, 1, false), data, false)
	require.NoError(t, err)
	require.Equal(t, nvme.StatusSuccess, completion.Status())
	assert.Equal(t, payload, data)
}

func TestDeviceOpen(t *testing.T) {
	controller := newTestController(t, Config{Namespaces: 2})
	tests := []struct {
		path        string
		kind        transport.DeviceKind
		namespaceId uint32
		fails       bool
	}{
		{"sim:", transport.KindNvmeController, 0, false},
		{"sim:2", transport.KindNvmeNamespace, 2, false},
		{"sim:3", transport.KindUnknown, 0, true},
		{"sim:0", transport.KindUnknown, 0, true},
		{"sim:one", transport.KindUnknown, 0, true},
		{"/dev/nvme0", transport.KindUnknown, 0, true},
	}
	for _, test := range tests {
		t.Run(test.path, func(t *testing.T) {
			device, err := controller.Open(test.path)
			if test.fails {
				assert.True(t, errors.Is(err, common.ErrBadParams), "%v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.kind, device.Kind())
			assert.Equal(t, test.namespaceId, device.NamespaceId())
			assert.Equal(t, test.path, device.Path())
			assert.Same(t, controller, device.Controller())
			require.NoError(t, device.Close())
		})
	}
	assert.True(t, IsSimulatedPath("sim:1"))
	assert.False(t, IsSimulatedPath("/dev/sg0"))
}

func TestDeviceSubmit(t *testing.T) {
	device, err := Open("sim:1", Config{Blocks: testBlocks})
	require.NoError(t, err)

	_, err = device.SubmitSCSI(&transport.ScsiRequest{CDB: []byte{0x00, 0, 0, 0, 0, 0}})
	assert.True(t, errors.Is(err, common.ErrNotSupported), "%v", err)

	completion, err := device.SubmitNVMe(nvme.NewFlushCommand(1), nil, false, 0)
	require.NoError(t, err)
	assert.Equal(t, nvme.StatusSuccess, completion.Status())

	require.NoError(t, device.Close())
	_, err = device.SubmitNVMe(nvme.NewFlushCommand(1), nil, false, 0)
	var osError *common.OsError
	require.True(t, errors.As(err, &osError), "%v", err)
	assert.Equal(t, syscall.EBADF, osError.Errno)
	assert.Equal(t, "sim:1", osError.Path)
	assert.False(t, errors.Is(err, common.ErrBadParams))
	require.NoError(t, device.Close())
}

func execute(t *testing.T, channel *sntl.Channel, request *sntl.Request) *sntl.Response {
	if request.Sense == nil {
		request.Sense = make([]byte, 32)
	}
	response, err := channel.Execute(request)
	require.NoError(t, err)
	return response
}

func blockCdb(opcode, flags byte, lba uint32, blocks uint16) []byte {
	cdb := make([]byte, 10)
	cdb[0] = opcode
	cdb[1] = flags
	wire.PutBe32(lba, cdb, 2)
	wire.PutBe16(blocks, cdb, 7)
	return cdb
}

func TestTranslatedBlockAccess(t *testing.T) {
	controller := newTestController(t, Config{})
	channel := sntl.NewChannel(controller.namespaceDevice(t, 1), 1, sntl.ChannelConfig{})
	payload := bytes.Repeat([]byte("sntl"), 256)

	response := execute(t, channel, &sntl.Request{CDB: blockCdb(0x2a, 0x08, 100, 2), DataOut: payload})
	require.Equal(t, scsi.StatusGood, response.Status)
	assert.Equal(t, 1024, response.DataOutLength)

	request := &sntl.Request{CDB: blockCdb(0x28, 0, 100, 2), DataIn: make([]byte, 1024)}
	response = execute(t, channel, request)
	require.Equal(t, scsi.StatusGood, response.Status)
	assert.Equal(t, 1024, response.DataInLength)
	assert.Equal(t, payload, request.DataIn)

	// VERIFY with BYTCHK 1 compares against the data-out buffer.
	response = execute(t, channel, &sntl.Request{CDB: blockCdb(0x2f, 0x02, 100, 2), DataOut: payload})
	assert.Equal(t, scsi.StatusGood, response.Status)

	request = &sntl.Request{CDB: blockCdb(0x2f, 0x02, 100, 2), DataOut: make([]byte, 1024)}
	response = execute(t, channel, request)
	assert.Equal(t, scsi.StatusCheckCondition, response.Status)
	assert.Equal(t, scsi.CategoryMiscompare, scsi.SenseCategory(request.Sense[:response.SenseLength]))

	request = &sntl.Request{CDB: blockCdb(0x28, 0, testBlocks-1, 2), DataIn: make([]byte, 1024)}
	response = execute(t, channel, request)
	assert.Equal(t, scsi.StatusCheckCondition, response.Status)
	assert.Equal(t, scsi.CategoryLbaOutOfRange, scsi.SenseCategory(request.Sense[:response.SenseLength]))
}

func TestTranslatedReadCapacity(t *testing.T) {
	controller := newTestController(t, Config{Lbads: 12})
	channel := sntl.NewChannel(controller.namespaceDevice(t, 1), 1, sntl.ChannelConfig{})
	request := &sntl.Request{CDB: make([]byte, 10), DataIn: make([]byte, 8)}
	request.CDB[0] = 0x25
	response := execute(t, channel, request)
	require.Equal(t, scsi.StatusGood, response.Status)
	assert.Equal(t, uint32(testBlocks-1), wire.GetBe32(request.DataIn, 0))
	assert.Equal(t, uint32(4096), wire.GetBe32(request.DataIn, 4))
}

func TestTranslatedDiagnostics(t *testing.T) {
	controller := newTestController(t, Config{})
	channel := sntl.NewChannel(controller.namespaceDevice(t, 1), 1, sntl.ChannelConfig{})

	response := execute(t, channel, &sntl.Request{CDB: []byte{0x1d, 0x40, 0, 0, 0, 0}})
	require.Equal(t, scsi.StatusGood, response.Status)
	assert.Equal(t, nvme.SelfTestExtended, controller.LastSelfTest())

	page := sntl.NewAlignedBuffer(12)
	copy(page, []byte{0x02, 0x00, 0x00, 0x08, 1, 2, 3, 4, 5, 6, 7, 8})
	response = execute(t, channel, &sntl.Request{CDB: []byte{0x1d, 0x10, 0, 0x00, 0x0c, 0}, DataOut: page})
	require.Equal(t, scsi.StatusGood, response.Status)

	request := &sntl.Request{CDB: []byte{0x1c, 0x01, 0x02, 0x01, 0x00, 0}, DataIn: sntl.NewAlignedBuffer(256)}
	response = execute(t, channel, request)
	require.Equal(t, scsi.StatusGood, response.Status)
	assert.Equal(t, 12, response.DataInLength)
	assert.Equal(t, []byte(page), request.DataIn[:12])

	request = &sntl.Request{CDB: []byte{0x1c, 0x01, 0x00, 0x01, 0x00, 0}, DataIn: sntl.NewAlignedBuffer(256)}
	response = execute(t, channel, request)
	require.Equal(t, scsi.StatusGood, response.Status)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x02, 0x00, 0x02}, request.DataIn[:6])
}

func (controller *Controller) namespaceDevice(t *testing.T, namespaceId uint32) *Device {
	device, err := controller.Open(PathPrefix + strconv.FormatUint(uint64(namespaceId), 10))
	require.NoError(t, err)
	return device
}
