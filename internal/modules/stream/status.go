package stream

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// statusResponse is the /status payload.
type statusResponse struct {
	Status        string  `json:"status"`
	Subscribers   int     `json:"subscribers"`
	Goroutines    int     `json:"goroutines"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemUsedPct    float64 `json:"mem_used_pct"`
	MemUsedMB     float64 `json:"mem_used_mb"`
	HeapAllocMB   float64 `json:"heap_alloc_mb"`
	TimestampUTC  string  `json:"timestamp_utc"`
}

// handleStatus reports process and host resource usage.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:       "ok",
		Subscribers:  s.SubscriberCount(),
		Goroutines:   runtime.NumGoroutine(),
		TimestampUTC: time.Now().UTC().Format(time.RFC3339),
	}

	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		resp.CPUPercent = cpuPercent[0]
	}
	if memStat, err := mem.VirtualMemory(); err == nil {
		resp.MemUsedPct = memStat.UsedPercent
		resp.MemUsedMB = float64(memStat.Used) / 1024 / 1024
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	resp.HeapAllocMB = float64(ms.HeapAlloc) / 1024 / 1024

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Warn().Err(err).Msg("Failed to encode status response")
	}
}
