// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package transport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyPath(t *testing.T) {
	tests := []struct {
		path string
		kind DeviceKind
	}{
		{"/dev/nvme0", KindNvmeController},
		{"/dev/nvme12", KindNvmeController},
		{"/dev/nvme0n1", KindNvmeNamespace},
		{"/dev/ng1n3", KindNvmeNamespace},
		{"/dev/nvme0n1p1", KindUnknown},
		{"/dev/sg3", KindScsiPrimary},
		{"/dev/sdab", KindScsiPrimary},
		{"/dev/sda1", KindUnknown},
		{"/dev/bsg/0:0:0:0", KindScsiPassthroughSecondary},
		{"/dev/../dev/nvme1", KindNvmeController},
		{"/tmp/file", KindUnknown},
	}
	for _, test := range tests {
		assert.Equal(t, test.kind, ClassifyPath(test.path), test.path)
	}
}

func TestClassifyLink(t *testing.T) {
	directory := t.TempDir()
	target := filepath.Join(directory, "nvme0n1")
	require.NoError(t, os.WriteFile(target, nil, 0o600))
	byId := filepath.Join(directory, "by-id")
	require.NoError(t, os.Mkdir(byId, 0o700))
	alias := filepath.Join(byId, "nvme-eui.0025388b71b04a3e")
	require.NoError(t, os.Symlink("../nvme0n1", alias))
	dangling := filepath.Join(byId, "nvme-Samsung_SSD_980_S64DNX0R")
	require.NoError(t, os.Symlink("../nvme7n1", dangling))

	assert.Equal(t, KindUnknown, ClassifyPath(alias))
	assert.Equal(t, KindNvmeNamespace, ClassifyLink(alias))
	assert.Equal(t, KindNvmeNamespace, ClassifyLink(target))
	assert.Equal(t, KindUnknown, ClassifyLink(dangling))
	assert.Equal(t, KindNvmeController, ClassifyLink("/nonexistent/nvme3"))
}

func TestDeviceKind(t *testing.T) {
	assert.True(t, KindNvmeController.IsNvme())
	assert.True(t, KindNvmeNamespace.IsNvme())
	assert.False(t, KindScsiPrimary.IsNvme())
	assert.Equal(t, "nvme-namespace", KindNvmeNamespace.String())
	assert.Equal(t, "unknown", DeviceKind(42).String())
}

func TestScsiResultTransportFailed(t *testing.T) {
	assert.False(t, ScsiResult{Status: 0x02, DriverStatus: 0x08}.TransportFailed())
	assert.True(t, ScsiResult{HostStatus: 0x01}.TransportFailed())
	assert.True(t, ScsiResult{DriverStatus: 0x06}.TransportFailed())
	assert.False(t, ScsiResult{}.TransportFailed())
}
