//go:build !linux

// File: affinity/affinity_other.go
// Author: momentics <momentics@gmail.com>

package affinity

import "errors"

func setAffinityPlatform(cpu int) error {
	return errors.New("affinity: not supported on this platform")
}
