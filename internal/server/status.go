package server

import (
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// handleHealth is the unauthenticated liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
	})
}

// handleStatus reports the orchestrator snapshot plus host load.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.sup.GetStatus()

	alive := 0
	workers := make(map[string]interface{}, len(st.Workers))
	for key, ws := range st.Workers {
		if ws.Alive {
			alive++
		}
		workers[string(key)] = map[string]interface{}{
			"alive":          ws.Alive,
			"stats":          ws.Stats,
			"log_stream_url": s.rewriteStreamURL(ws.LogStreamURL),
		}
	}

	body := map[string]interface{}{
		"total_workers":  st.TotalWorkers,
		"active_configs": st.ActiveConfigs,
		"alive_workers":  alive,
		"workers":        workers,
		"uptime_hours":   time.Since(s.startedAt).Hours(),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		body["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		body["ram_percent"] = vm.UsedPercent
	}

	writeJSON(w, http.StatusOK, body)
}
