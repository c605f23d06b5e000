//go:build !linux && !darwin

package memprobe

import (
	"runtime"

	cacheerrors "github.com/wudi/edgecache/internal/errors"
)

func freeBytes() (uint64, error) {
	return 0, cacheerrors.NewUnsupportedPlatform(runtime.GOOS)
}
