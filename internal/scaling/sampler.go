package scaling

import (
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Rate reports the request rate observed since the previous sample.
type Rate interface {
	RatePerSec() float64
}

// Sampler produces the three pool-scaling metrics.
type Sampler struct {
	Requests Rate
	MemLimit uint64 // bytes considered 100%
}

func (s *Sampler) Sample() Metrics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	memPct := 0.0
	if s.MemLimit > 0 {
		memPct = float64(ms.HeapAlloc) / float64(s.MemLimit) * 100
	}
	return Metrics{
		CPUPercent:  cpuPercent(),
		MemPercent:  memPct,
		RequestRate: s.Requests.RatePerSec(),
	}
}

// cpuPercent approximates CPU load from the 1-minute load average relative
// to the core count. Returns 0 where /proc is unavailable.
func cpuPercent() float64 {
	b, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(b))
	if len(fields) == 0 {
		return 0
	}
	load, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	return load / float64(runtime.NumCPU()) * 100
}
