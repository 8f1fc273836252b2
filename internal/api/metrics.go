package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/autelis-bridge/internal/bridges/autelis"
)

// SystemMetrics is the JSON runtime snapshot served at /api/v1/system.
// Prometheus series are served separately at the metrics path.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	MQTT          *MQTTMetrics   `json:"mqtt,omitempty"`
	Appliance     autelis.Health `json:"appliance"`
	Nodes         NodeMetrics    `json:"nodes"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// NodeMetrics counts nodes by capability class.
type NodeMetrics struct {
	Total   int            `json:"total"`
	ByClass map[string]int `json:"by_class"`
}

// handleSystemMetrics returns a runtime and bridge snapshot.
func (s *Server) handleSystemMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Appliance: s.status.Health(),
		Nodes: NodeMetrics{
			ByClass: make(map[string]int),
		},
	}

	if s.mqtt != nil {
		metrics.MQTT = &MQTTMetrics{Connected: s.mqtt.IsConnected()}
	}

	for _, n := range s.nodes.List() {
		metrics.Nodes.Total++
		metrics.Nodes.ByClass[string(n.Class)]++
	}

	writeJSON(w, http.StatusOK, metrics)
}
