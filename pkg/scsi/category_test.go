// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package scsi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSenseCategory(t *testing.T) {
	tests := []struct {
		desc     string
		sense    []byte
		expected Category
	}{
		{"invalid opcode", NewSense(false, IllegalRequest, AscInvalidOpCode), CategoryInvalidOp},
		{"invalid field", NewSense(true, IllegalRequest, AscInvalidFieldInCdb), CategoryIllegalRequest},
		{"lba out of range", NewSense(false, IllegalRequest, AscLbaOutOfRange), CategoryLbaOutOfRange},
		{"not ready", NewSense(false, NotReady, AscNotReady), CategoryNotReady},
		{"medium", NewSense(false, MediumError, AscReadError), CategoryMediumHard},
		{"hardware", NewSense(true, HardwareError, AscInternalTargetFailure), CategoryMediumHard},
		{"guard check", NewSense(false, AbortedCommand, AscGuardCheckFailed), CategoryProtection},
		{"aborted", NewSense(false, AbortedCommand, AscWarning), CategoryAbortedCommand},
		{"miscompare", NewSense(false, Miscompare, AscMiscompareOnVerify), CategoryMiscompare},
		{"no sense", NewSense(false, NoSense, AscLowPowerOn), CategoryNoSense},
		{"garbage", []byte{0x01}, CategorySense},
	}
	for i, test := range tests {
		if got := SenseCategory(test.sense); got != test.expected {
			t.Fatalf("[%02d] test %q: expected %v got %v", i, test.desc, test.expected, got)
		}
	}
}

func TestStatusCategory(t *testing.T) {
	assert.Equal(t, CategoryClean, StatusCategory(StatusGood, nil))
	assert.Equal(t, CategoryBusy, StatusCategory(StatusBusy, nil))
	assert.Equal(t, CategoryReservationConflict, StatusCategory(StatusReservationConflict, nil))
	assert.Equal(t, CategoryInvalidOp,
		StatusCategory(StatusCheckCondition, NewSense(false, IllegalRequest, AscInvalidOpCode)))
	assert.Equal(t, CategoryOther, StatusCategory(0x22, nil))
	assert.Equal(t, "operating system error", Category(52).String())
}
