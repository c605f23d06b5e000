// Package memprobe reads the host's free system memory at startup so the
// cache store can be sized as a fraction of it rather than a fixed constant.
package memprobe

// BudgetFraction is the share of free system memory charged to the cache's
// byte budget.
const BudgetFraction = 0.70

// FreeBytes reports the amount of free system memory on supported
// platforms. Callers on an unsupported GOOS get an UnsupportedPlatform
// error via the package-specific probe in memprobe_<os>.go.
func FreeBytes() (uint64, error) {
	return freeBytes()
}

// Budget returns BudgetFraction of the host's free memory as the cache
// store's maxBytes, or the UnsupportedPlatform error from FreeBytes.
func Budget() (int64, error) {
	free, err := FreeBytes()
	if err != nil {
		return 0, err
	}
	return int64(float64(free) * BudgetFraction), nil
}

