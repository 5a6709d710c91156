// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package scsi

import "strings"

// FixedString returns s truncated or space padded to exactly length bytes.
func FixedString(s string, length int) []byte {
	result := []byte(s)
	if len(result) > length {
		return result[:length]
	}
	for len(result) < length {
		result = append(result, ' ')
	}
	return result
}

// TrimField drops the space and NUL padding of an ASCII identify field.
func TrimField(field []byte) string {
	return strings.TrimSpace(strings.TrimRight(string(field), "\x00"))
}
