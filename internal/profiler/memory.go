package profiler

import (
	"os"

	"github.com/shirou/gopsutil/v4/process"
)

// sampleRSSMB returns the process resident set size in megabytes.
// Measurement is best-effort: any failure yields 0 rather than an error,
// since a missing memory sample must never fail a request.
func sampleRSSMB() float64 {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0
	}

	info, err := proc.MemoryInfo()
	if err != nil || info == nil {
		return 0
	}

	return float64(info.RSS) / (1024 * 1024)
}
