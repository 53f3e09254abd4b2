package nerdstats

import (
	"runtime"
	"time"
)

// Stats captures a point-in-time snapshot of process runtime statistics,
// reported once at shutdown.
type Stats struct {
	LastGC        time.Time
	GoVersion     string
	HeapAlloc     uint64
	HeapSys       uint64
	HeapInuse     uint64
	HeapReleased  uint64
	StackInuse    uint64
	TotalAlloc    uint64
	Mallocs       uint64
	Frees         uint64
	TotalGCTime   time.Duration
	Uptime        time.Duration
	NumGC         uint32
	NumGoroutines int
	NumCPU        int
	GOMAXPROCS    int
}

func Snapshot(startTime time.Time) Stats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return Stats{
		HeapAlloc:     m.HeapAlloc,
		HeapSys:       m.HeapSys,
		HeapInuse:     m.HeapInuse,
		HeapReleased:  m.HeapReleased,
		StackInuse:    m.StackInuse,
		TotalAlloc:    m.TotalAlloc,
		Mallocs:       m.Mallocs,
		Frees:         m.Frees,
		NumGC:         m.NumGC,
		LastGC:        time.Unix(0, int64(m.LastGC)),
		TotalGCTime:   time.Duration(m.PauseTotalNs),
		NumGoroutines: runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
		GOMAXPROCS:    runtime.GOMAXPROCS(0),
		GoVersion:     runtime.Version(),
		Uptime:        time.Since(startTime),
	}
}
