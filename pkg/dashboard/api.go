package dashboard

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strings"

	"github.com/fortiblox/intcode/internal/types"
	"github.com/fortiblox/intcode/pkg/checkpoint"
	"github.com/fortiblox/intcode/pkg/imagestore"
	"github.com/fortiblox/intcode/pkg/session"
)

// API response types

// StatusResponse is the response for GET /api/status.
type StatusResponse struct {
	IsRunning     bool          `json:"isRunning"`
	State         string        `json:"state"`
	Uptime        string        `json:"uptime"`
	UptimeSeconds float64       `json:"uptimeSeconds"`
	Sessions      session.Stats `json:"sessions"`
	Runnable      int           `json:"runnable"`
	Suspended     int           `json:"suspended"`
	Halted        int           `json:"halted"`
	Faulted       int           `json:"faulted"`
	Images        uint64        `json:"images"`
	ImageWords    uint64        `json:"imageWords"`
	Checkpoints   int           `json:"checkpoints"`
	LastError     string        `json:"lastError,omitempty"`
}

// MachinesResponse is the response for GET /api/machines.
type MachinesResponse struct {
	Machines []session.Info `json:"machines"`
	Total    int            `json:"total"`
}

// ProgramsResponse is the response for GET /api/programs.
type ProgramsResponse struct {
	Programs []imagestore.Info `json:"programs"`
	Total    int               `json:"total"`
}

// CheckpointsResponse is the response for GET /api/checkpoints.
type CheckpointsResponse struct {
	Checkpoints []checkpoint.Summary `json:"checkpoints"`
	Total       int                  `json:"total"`
}

// MetricsResponse is the response for GET /api/metrics.
type MetricsResponse struct {
	// Memory stats
	MemAlloc      uint64 `json:"memAlloc"`      // Currently allocated heap memory
	MemTotalAlloc uint64 `json:"memTotalAlloc"` // Total allocated (cumulative)
	MemSys        uint64 `json:"memSys"`        // Memory obtained from OS
	MemHeapInuse  uint64 `json:"memHeapInuse"`  // Heap memory in use
	NumGC         uint32 `json:"numGC"`         // Number of GC cycles

	// Runtime stats
	NumGoroutine int    `json:"numGoroutine"`
	NumCPU       int    `json:"numCPU"`
	GoVersion    string `json:"goVersion"`

	// Store stats
	ImageCount   uint64 `json:"imageCount"`
	TotalWords   uint64 `json:"totalWords"`
	DatabaseSize int64  `json:"databaseSize"`

	// Session stats
	LiveSessions int     `json:"liveSessions"`
	Created      uint64  `json:"created"`
	Reaped       uint64  `json:"reaped"`
	Uptime       float64 `json:"uptimeSeconds"`
}

// handleAPIStatus handles GET /api/status.
func (d *Dashboard) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, d.getStatus())
}

// handleAPIMachines handles GET /api/machines.
func (d *Dashboard) handleAPIMachines(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	machines := d.listMachines()
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := machines[:0]
		for _, info := range machines {
			if info.Status.String() == status {
				filtered = append(filtered, info)
			}
		}
		machines = filtered
	}
	if machines == nil {
		machines = []session.Info{}
	}

	writeJSON(w, MachinesResponse{Machines: machines, Total: len(machines)})
}

// handleAPIMachine handles GET /api/machines/:id.
func (d *Dashboard) handleAPIMachine(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, err := types.ParseSessionID(strings.TrimPrefix(r.URL.Path, "/api/machines/"))
	if err != nil {
		writeError(w, "Invalid machine ID", http.StatusBadRequest)
		return
	}

	info, err := d.manager.Info(id)
	if err != nil {
		writeError(w, "Machine not found", http.StatusNotFound)
		return
	}

	writeJSONPretty(w, info)
}

// handleAPIPrograms handles GET /api/programs.
func (d *Dashboard) handleAPIPrograms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	programs, err := d.manager.Images().List()
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if programs == nil {
		programs = []imagestore.Info{}
	}

	writeJSON(w, ProgramsResponse{Programs: programs, Total: len(programs)})
}

// handleAPICheckpoints handles GET /api/checkpoints.
func (d *Dashboard) handleAPICheckpoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sums, err := d.manager.Checkpoints()
	if err != nil {
		if errors.Is(err, session.ErrNoCheckpointStore) {
			writeError(w, err.Error(), http.StatusNotFound)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sums == nil {
		sums = []checkpoint.Summary{}
	}

	writeJSON(w, CheckpointsResponse{Checkpoints: sums, Total: len(sums)})
}

// handleAPIMetrics handles GET /api/metrics.
func (d *Dashboard) handleAPIMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	resp := MetricsResponse{
		MemAlloc:      memStats.Alloc,
		MemTotalAlloc: memStats.TotalAlloc,
		MemSys:        memStats.Sys,
		MemHeapInuse:  memStats.HeapInuse,
		NumGC:         memStats.NumGC,

		NumGoroutine: runtime.NumGoroutine(),
		NumCPU:       runtime.NumCPU(),
		GoVersion:    runtime.Version(),
	}

	if stats, err := d.manager.Images().Stats(); err == nil {
		resp.ImageCount = stats.ImageCount
		resp.TotalWords = stats.TotalWords
		resp.DatabaseSize = stats.DatabaseSize
	}

	sessions := d.manager.Stats()
	resp.LiveSessions = sessions.Live
	resp.Created = sessions.Created
	resp.Reaped = sessions.Reaped
	resp.Uptime = d.getStatus().UptimeSeconds

	writeJSON(w, resp)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// writeJSONPretty writes a pretty-printed JSON response.
func writeJSONPretty(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	encoder.Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
