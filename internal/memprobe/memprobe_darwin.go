package memprobe

import "golang.org/x/sys/unix"

// freeBytes approximates free memory as total physical memory on darwin,
// where a precise free-page count requires Mach VM statistics outside
// golang.org/x/sys/unix's sysctl wrapper.
func freeBytes() (uint64, error) {
	return unix.SysctlUint64("hw.memsize")
}
