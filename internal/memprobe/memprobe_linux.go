package memprobe

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// freeBytes reads MemAvailable from /proc/meminfo, falling back to a
// sysinfo(2) call (via golang.org/x/sys/unix) if the proc file is absent.
func freeBytes() (uint64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return freeBytesFromSysinfo()
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			break
		}
		return kb * 1024, nil
	}
	return freeBytesFromSysinfo()
}

func freeBytesFromSysinfo() (uint64, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, err
	}
	return uint64(info.Freeram) * uint64(info.Unit), nil
}
