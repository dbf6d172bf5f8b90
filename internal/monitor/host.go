package monitor

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// HostInfo is read from procfs.
type HostInfo struct {
	Uptime       time.Duration
	MemTotal     uint64 // bytes
	MemAvailable uint64 // bytes
}

// MemUsedPercent is the share of memory not available to new processes.
func (h HostInfo) MemUsedPercent() float64 {
	if h.MemTotal == 0 {
		return 0
	}
	return float64(h.MemTotal-min(h.MemAvailable, h.MemTotal)) * 100 / float64(h.MemTotal)
}

// ReadHost reads uptime and meminfo below procRoot, usually "/proc".
func ReadHost(procRoot string) (HostInfo, error) {
	var h HostInfo
	b, err := os.ReadFile(filepath.Join(procRoot, "uptime"))
	if err != nil {
		return h, err
	}
	if h.Uptime, err = parseUptime(b); err != nil {
		return h, err
	}
	b, err = os.ReadFile(filepath.Join(procRoot, "meminfo"))
	if err != nil {
		return h, err
	}
	h.MemTotal, h.MemAvailable, err = parseMeminfo(b)
	return h, err
}

// parseUptime reads the first field of /proc/uptime ("12345.67 54321.00").
func parseUptime(b []byte) (time.Duration, error) {
	f := strings.Fields(string(b))
	if len(f) == 0 {
		return 0, fmt.Errorf("uptime: empty")
	}
	secs, err := strconv.ParseFloat(f[0], 64)
	if err != nil {
		return 0, fmt.Errorf("uptime: %w", err)
	}
	return time.Duration(secs * float64(time.Second)).Truncate(time.Second), nil
}

// parseMeminfo returns MemTotal and MemAvailable in bytes. Kernels older
// than 3.14 lack MemAvailable; MemFree+Buffers+Cached stands in for it.
func parseMeminfo(b []byte) (total, avail uint64, err error) {
	vals := map[string]uint64{}
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		key, rest, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		f := strings.Fields(rest)
		if len(f) == 0 {
			continue
		}
		n, perr := strconv.ParseUint(f[0], 10, 64)
		if perr != nil {
			continue
		}
		if len(f) > 1 && strings.EqualFold(f[1], "kB") {
			n *= 1024
		}
		vals[key] = n
	}
	if err := sc.Err(); err != nil {
		return 0, 0, err
	}
	total, ok := vals["MemTotal"]
	if !ok {
		return 0, 0, fmt.Errorf("meminfo: MemTotal missing")
	}
	avail, ok = vals["MemAvailable"]
	if !ok {
		avail = vals["MemFree"] + vals["Buffers"] + vals["Cached"]
	}
	return total, avail, nil
}
