// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package simulated

import (
	"nvmesntl/pkg/common"
	"nvmesntl/pkg/nvme"
	"nvmesntl/pkg/transport"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

const PathPrefix = "sim:"

// IsSimulatedPath reports whether path names a simulated device,
// "sim:" for the controller or "sim:N" for namespace N.
func IsSimulatedPath(path string) bool {
	return strings.HasPrefix(path, PathPrefix)
}

func parsePath(path string) (uint32, error) {
	if !IsSimulatedPath(path) {
		return 0, errors.Wrapf(common.ErrBadParams, "%s is not a simulated device", path)
	}
	suffix := strings.TrimPrefix(path, PathPrefix)
	if suffix == "" {
		return 0, nil
	}
	namespaceId, err := strconv.ParseUint(suffix, 10, 32)
	if err != nil || namespaceId == 0 {
		return 0, errors.Wrapf(common.ErrBadParams, "bad namespace in %s", path)
	}
	return uint32(namespaceId), nil
}

var _ transport.Device = (*Device)(nil)

// Device exposes a Controller as a pass-through device node.
type Device struct {
	controller  *Controller
	path        string
	namespaceId uint32
	ownsCtrl    bool
}

// Open creates a controller from config and opens path on it.
func Open(path string, config Config) (*Device, error) {
	controller, err := NewController(config)
	if err != nil {
		return nil, err
	}
	device, err := controller.Open(path)
	if err != nil {
		_ = controller.Close()
		return nil, err
	}
	device.ownsCtrl = true
	return device, nil
}

// Open returns a device node on an existing controller. Closing it
// leaves the controller running.
func (controller *Controller) Open(path string) (*Device, error) {
	namespaceId, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	if namespaceId != 0 {
		controller.mutex.Lock()
		_, ok := controller.namespaces[namespaceId]
		controller.mutex.Unlock()
		if !ok {
			return nil, errors.Wrapf(common.ErrBadParams, "no namespace %d on %s", namespaceId, path)
		}
	}
	return &Device{controller: controller, path: path, namespaceId: namespaceId}, nil
}

func (device *Device) Controller() *Controller {
	return device.controller
}

func (device *Device) Kind() transport.DeviceKind {
	if device.namespaceId == 0 {
		return transport.KindNvmeController
	}
	return transport.KindNvmeNamespace
}

func (device *Device) NamespaceId() uint32 {
	return device.namespaceId
}

func (device *Device) Path() string {
	return device.path
}

func (device *Device) Close() error {
	if device.controller == nil {
		return nil
	}
	var err error
	if device.ownsCtrl {
		err = device.controller.Close()
	}
	device.controller = nil
	return err
}

func (device *Device) SubmitSCSI(*transport.ScsiRequest) (transport.ScsiResult, error) {
	return transport.ScsiResult{}, errors.Wrapf(common.ErrNotSupported, "SCSI pass-through on %s", device.path)
}

func (device *Device) SubmitNVMe(command *nvme.Command, data []byte, admin bool, _ time.Duration) (nvme.Completion, error) {
	if device.controller == nil {
		return nvme.Completion{}, common.NewOsError(nvme.OpcodeString(command.Opcode, admin), device.path, syscall.EBADF)
	}
	return device.controller.Submit(command, data, admin)
}
