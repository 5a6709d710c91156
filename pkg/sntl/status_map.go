// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package sntl

import (
	"nvmesntl/pkg/nvme"
	"nvmesntl/pkg/scsi"
)

type senseMapping struct {
	status byte
	key    byte
	asc    scsi.AdditionalSenseCode
}

// fallbackMapping is returned for statuses without a known translation.
// ASC 0x0B00 is WARNING.
var fallbackMapping = senseMapping{scsi.StatusCheckCondition, scsi.IllegalRequest, scsi.AscWarning}

var statusMappingTable = map[uint16]senseMapping{
	nvme.StatusSuccess:              {scsi.StatusGood, scsi.NoSense, scsi.NoAdditionalSense},
	nvme.StatusInvalidOpcode:        {scsi.StatusCheckCondition, scsi.IllegalRequest, scsi.AscInvalidOpCode},
	nvme.StatusInvalidField:         {scsi.StatusCheckCondition, scsi.IllegalRequest, scsi.AscInvalidFieldInCdb},
	nvme.StatusCommandIdConflict:    {scsi.StatusCheckCondition, scsi.IllegalRequest, scsi.AscInvalidFieldInCdb},
	nvme.StatusDataTransferError:    {scsi.StatusCheckCondition, scsi.MediumError, scsi.NoAdditionalSense},
	nvme.StatusAbortedPowerLoss:     {scsi.StatusTaskAborted, scsi.AbortedCommand, scsi.AscWarningPowerLossExpected},
	nvme.StatusInternalError:        {scsi.StatusCheckCondition, scsi.HardwareError, scsi.AscInternalTargetFailure},
	nvme.StatusAbortRequested:       {scsi.StatusTaskAborted, scsi.AbortedCommand, scsi.NoAdditionalSense},
	nvme.StatusAbortedSqDeletion:    {scsi.StatusTaskAborted, scsi.AbortedCommand, scsi.NoAdditionalSense},
	nvme.StatusAbortedFailedFused:   {scsi.StatusTaskAborted, scsi.AbortedCommand, scsi.NoAdditionalSense},
	nvme.StatusAbortedMissingFused:  {scsi.StatusTaskAborted, scsi.AbortedCommand, scsi.NoAdditionalSense},
	nvme.StatusInvalidNamespace:     {scsi.StatusCheckCondition, scsi.IllegalRequest, scsi.AscAccessDeniedInvalidLu},
	nvme.StatusCommandSequenceError: {scsi.StatusCheckCondition, scsi.IllegalRequest, scsi.AscCommandSequenceError},
	nvme.StatusSanitizeInProgress:   {scsi.StatusCheckCondition, scsi.NotReady, scsi.AscSanitizeInProgress},
	nvme.StatusLbaOutOfRange:        {scsi.StatusCheckCondition, scsi.IllegalRequest, scsi.AscLbaOutOfRange},
	nvme.StatusCapacityExceeded:     {scsi.StatusCheckCondition, scsi.MediumError, scsi.NoAdditionalSense},
	nvme.StatusNamespaceNotReady:    {scsi.StatusCheckCondition, scsi.NotReady, scsi.AscNotReady},
	nvme.StatusReservationConflict:  {scsi.StatusReservationConflict, scsi.IllegalRequest, scsi.AscPreviousReservation},
	nvme.StatusFormatInProgress:     {scsi.StatusCheckCondition, scsi.NotReady, scsi.AscFormatInProgress},

	nvme.StatusInvalidFormat:         {scsi.StatusCheckCondition, scsi.MediumError, scsi.AscFormatFailed},
	nvme.StatusSelfTestInProgress:    {scsi.StatusCheckCondition, scsi.NotReady, scsi.AscSelfTestInProgress},
	nvme.StatusConflictingAttributes: {scsi.StatusCheckCondition, scsi.IllegalRequest, scsi.AscInvalidFieldInCdb},
	nvme.StatusInvalidProtectionInfo: {scsi.StatusCheckCondition, scsi.IllegalRequest, scsi.AscInvalidFieldInCdb},
	nvme.StatusWriteToReadOnlyRange:  {scsi.StatusCheckCondition, scsi.DataProtect, scsi.AscWriteProtected},

	nvme.StatusWriteFault:             {scsi.StatusCheckCondition, scsi.MediumError, scsi.AscWriteFault},
	nvme.StatusUnrecoveredReadError:   {scsi.StatusCheckCondition, scsi.MediumError, scsi.AscReadError},
	nvme.StatusGuardCheckError:        {scsi.StatusCheckCondition, scsi.AbortedCommand, scsi.AscGuardCheckFailed},
	nvme.StatusAppTagCheckError:       {scsi.StatusCheckCondition, scsi.AbortedCommand, scsi.AscAppTagCheckFailed},
	nvme.StatusRefTagCheckError:       {scsi.StatusCheckCondition, scsi.AbortedCommand, scsi.AscRefTagCheckFailed},
	nvme.StatusCompareFailure:         {scsi.StatusCheckCondition, scsi.Miscompare, scsi.AscMiscompareOnVerify},
	nvme.StatusAccessDenied:           {scsi.StatusCheckCondition, scsi.DataProtect, scsi.AscAccessDeniedNoAccess},
	nvme.StatusDeallocatedOrUnwritten: {scsi.StatusCheckCondition, scsi.MediumError, scsi.AscReadError},
}

// NvmeStatusToSense maps a packed SCT<<8|SC status to the SCSI status,
// sense key and additional sense code reported for it.
func NvmeStatusToSense(status uint16) (byte, byte, scsi.AdditionalSenseCode) {
	mapping, ok := statusMappingTable[status&0x7ff]
	if !ok {
		mapping = fallbackMapping
	}
	return mapping.status, mapping.key, mapping.asc
}
