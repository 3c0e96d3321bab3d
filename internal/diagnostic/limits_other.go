//go:build !unix

package diagnostic

import "errors"

func openFileLimits() (soft, hard uint64, err error) {
	return 0, 0, errors.New("resource limits not supported on this platform")
}
