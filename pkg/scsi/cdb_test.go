// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package scsi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func cdbOf(length int, bytes ...byte) []byte {
	cdb := make([]byte, length)
	copy(cdb, bytes)
	return cdb
}

func TestIsCdbShaped(t *testing.T) {
	tests := []struct {
		desc     string
		buf      []byte
		expected bool
	}{
		{"inquiry 6", cdbOf(6, 0x12), true},
		{"inquiry padded to 10", cdbOf(10, 0x12), false},
		{"read 10", cdbOf(10, 0x28), true},
		{"read 16", cdbOf(16, 0x88), true},
		{"report luns 12", cdbOf(12, 0xa0), true},
		{"variable length 32", cdbOf(32, 0x7f), true},
		{"reserved group 3", cdbOf(10, 0x60), false},
		{"vendor group 6", cdbOf(10, 0xc0), true},
		{"vendor group 32 bytes", cdbOf(32, 0xff), false},
		{"nvme command", cdbOf(64, 0x06), false},
		{"empty", nil, false},
		{"odd length", cdbOf(7, 0x00), false},
	}
	for i, test := range tests {
		if got := IsCdbShaped(test.buf); got != test.expected {
			t.Fatalf("[%02d] test %q: expected %v got %v", i, test.desc, test.expected, got)
		}
	}
}

func TestClassifyCDB(t *testing.T) {
	tests := []struct {
		cdb      []byte
		expected Command
	}{
		{cdbOf(6, 0x12), CommandInquiry},
		{cdbOf(6, 0x00), CommandTestUnitReady},
		{cdbOf(6, 0x03), CommandRequestSense},
		{cdbOf(6, 0x1b), CommandStartStopUnit},
		{cdbOf(6, 0x1c), CommandReceiveDiagnostic},
		{cdbOf(6, 0x1d), CommandSendDiagnostic},
		{cdbOf(10, 0x25), CommandReadCapacity10},
		{cdbOf(16, 0x9e, 0x10), CommandReadCapacity16},
		{cdbOf(16, 0x9e, 0x11), CommandUnsupported},
		{cdbOf(10, 0x28), CommandRead10},
		{cdbOf(16, 0x8a), CommandWrite16},
		{cdbOf(10, 0x2f), CommandVerify10},
		{cdbOf(16, 0x93), CommandWriteSame16},
		{cdbOf(10, 0x35), CommandSynchronizeCache10},
		{cdbOf(10, 0x5a), CommandModeSense10},
		{cdbOf(10, 0x55), CommandModeSelect10},
		{cdbOf(6, 0x1a), CommandUnsupported},
		{cdbOf(12, 0xa0), CommandReportLuns},
		{cdbOf(12, 0xa3, 0x0c), CommandReportSupportedOperationCodes},
		{cdbOf(12, 0xa3, 0x0d), CommandReportSupportedTaskManagementFunctions},
		{cdbOf(12, 0xa3, 0x0a), CommandUnsupported},
		{cdbOf(16, 0xff), CommandUnsupported},
	}
	for _, test := range tests {
		assert.Equal(t, test.expected, ClassifyCDB(test.cdb), "opcode 0x%02x", test.cdb[0])
	}
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "READ CAPACITY(16)", CommandReadCapacity16.String())
	assert.Equal(t, "UNSUPPORTED", Command(1000).String())
	assert.Equal(t, "INQUIRY", Inquiry.String())
	assert.Equal(t, "opcode 0xff", CommandType(0xff).String())
}
