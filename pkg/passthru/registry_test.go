// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package passthru

import (
	"nvmesntl/pkg/common"
	"sync"
	"testing"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLimit(t *testing.T) {
	registry := NewRegistry(2, simulatedOptions())
	defer registry.CloseAll()

	first, err := registry.Open("sim:1")
	require.NoError(t, err)
	second, err := registry.Open("sim:")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, registry.Len())

	_, err = registry.Open("sim:1")
	assert.True(t, errors.Is(err, common.ErrTooManyDevices), "%v", err)

	require.NoError(t, registry.Close(first))
	_, err = registry.Open("sim:1")
	assert.NoError(t, err)
}

func TestRegistryHandles(t *testing.T) {
	registry := NewRegistry(0, simulatedOptions())
	recorder := &recordedEntries{}
	registry.SetRecorder(recorder)

	handle, err := registry.Open("sim:1")
	require.NoError(t, err)
	device, err := registry.Get(handle)
	require.NoError(t, err)
	assert.Equal(t, "sim:1", device.Path())
	assert.Equal(t, handle, device.Handle())

	context := NewContext(device)
	context.SetCDB([]byte{0x00, 0, 0, 0, 0, 0})
	require.NoError(t, context.Execute())
	assert.Len(t, recorder.entries, 1)

	controller, err := registry.Open("sim:")
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{controller, handle}, registry.Handles())

	_, err = registry.Get(uuid.NewV4())
	assert.True(t, errors.Is(err, common.ErrUnknownHandle), "%v", err)
	err = registry.Close(uuid.NewV4())
	assert.True(t, errors.Is(err, common.ErrUnknownHandle), "%v", err)

	_, err = registry.Open("sim:9")
	assert.True(t, errors.Is(err, common.ErrBadParams), "%v", err)

	require.NoError(t, registry.CloseAll())
	assert.Zero(t, registry.Len())
	_, err = registry.Get(handle)
	assert.True(t, errors.Is(err, common.ErrUnknownHandle), "%v", err)
}

func TestRegistryConcurrentOpenClose(t *testing.T) {
	registry := NewRegistry(8, simulatedOptions())
	var wait sync.WaitGroup
	for i := 0; i < 16; i++ {
		wait.Add(1)
		go func() {
			defer wait.Done()
			handle, err := registry.Open("sim:1")
			if err != nil {
				assert.True(t, errors.Is(err, common.ErrTooManyDevices), "%v", err)
				return
			}
			assert.NoError(t, registry.Close(handle))
		}()
	}
	wait.Wait()
	assert.Zero(t, registry.Len())
}

func TestRegistryCloseAllReportsFailure(t *testing.T) {
	registry := NewRegistry(4, Options{})
	fake := &fakeScsiDevice{closeErr: errors.New("busy")}
	device := NewDevice(fake, Options{})
	registry.devices[device.Handle()] = device

	assert.EqualError(t, registry.CloseAll(), "busy")
	assert.True(t, fake.closed)
	assert.Zero(t, registry.Len())
}
