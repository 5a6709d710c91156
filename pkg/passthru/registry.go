// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package passthru

import (
	"nvmesntl/pkg/common"
	"nvmesntl/pkg/logger"
	"sort"
	"sync"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
)

const DefaultMaxOpenDevices = 64

// Registry owns the open devices of a process, keyed by handle.
type Registry struct {
	mutex          sync.Mutex
	devices        map[uuid.UUID]*Device
	maxOpenDevices int
	options        Options
	recorder       Recorder
}

func NewRegistry(maxOpenDevices int, options Options) *Registry {
	if maxOpenDevices <= 0 {
		maxOpenDevices = DefaultMaxOpenDevices
	}
	return &Registry{
		devices:        make(map[uuid.UUID]*Device),
		maxOpenDevices: maxOpenDevices,
		options:        options,
	}
}

// SetRecorder journals commands of devices opened from now on.
func (registry *Registry) SetRecorder(recorder Recorder) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	registry.recorder = recorder
}

func (registry *Registry) Open(path string) (uuid.UUID, error) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	if len(registry.devices) >= registry.maxOpenDevices {
		return uuid.Nil, errors.Wrapf(
			common.ErrTooManyDevices,
			"%d devices already open",
			len(registry.devices),
		)
	}
	device, err := Open(path, registry.options)
	if err != nil {
		return uuid.Nil, err
	}
	device.SetRecorder(registry.recorder)
	registry.devices[device.Handle()] = device
	return device.Handle(), nil
}

func (registry *Registry) Get(handle uuid.UUID) (*Device, error) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	device, ok := registry.devices[handle]
	if !ok {
		return nil, errors.Wrapf(common.ErrUnknownHandle, "handle %s", handle)
	}
	return device, nil
}

func (registry *Registry) Len() int {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	return len(registry.devices)
}

// Handles lists the open handles ordered by device path.
func (registry *Registry) Handles() []uuid.UUID {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	handles := make([]uuid.UUID, 0, len(registry.devices))
	for handle := range registry.devices {
		handles = append(handles, handle)
	}
	sort.Slice(handles, func(i, j int) bool {
		return registry.devices[handles[i]].Path() < registry.devices[handles[j]].Path()
	})
	return handles
}

func (registry *Registry) Close(handle uuid.UUID) error {
	registry.mutex.Lock()
	device, ok := registry.devices[handle]
	delete(registry.devices, handle)
	registry.mutex.Unlock()
	if !ok {
		return errors.Wrapf(common.ErrUnknownHandle, "handle %s", handle)
	}
	return device.Close()
}

// CloseAll closes every device and returns the first failure.
func (registry *Registry) CloseAll() error {
	log := logger.GetLogger()
	registry.mutex.Lock()
	devices := registry.devices
	registry.devices = make(map[uuid.UUID]*Device)
	registry.mutex.Unlock()

	var result error
	for handle, device := range devices {
		if err := device.Close(); err != nil {
			log.Warnf("closing %s (%s) failed: %v", device.Path(), handle, err)
			if result == nil {
				result = err
			}
		}
	}
	return result
}
