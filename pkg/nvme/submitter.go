// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package nvme

import "time"

// Submitter issues one Admin or NVM command and waits for it to complete.
// data is read from or written to according to the command's Direction.
//
// A non-nil error is a local failure (closed device, failed ioctl) and
// the Completion is meaningless. A device reported failure returns a nil
// error and a Completion with a non-zero Status.
type Submitter interface {
	SubmitNVMe(command *Command, data []byte, admin bool, timeout time.Duration) (Completion, error)
}
