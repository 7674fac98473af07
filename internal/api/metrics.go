package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	WebSocket     WSMetrics        `json:"websocket"`
	MQTT          TransportMetrics `json:"mqtt"`
	InfluxDB      TransportMetrics `json:"influxdb"`
	Devices       DeviceMetrics    `json:"devices"`
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

// TransportMetrics reports an optional outbound connection.
type TransportMetrics struct {
	Enabled   bool `json:"enabled"`
	Connected bool `json:"connected"`
}

// DeviceMetrics contains device registry statistics.
type DeviceMetrics struct {
	Total     int            `json:"total"`
	Connected int            `json:"connected"`
	ByType    map[string]int `json:"by_type"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
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
		MQTT:     transportMetrics(s.mqtt),
		InfluxDB: transportMetrics(s.influx),
		Devices: DeviceMetrics{
			ByType: make(map[string]int),
		},
	}

	for _, d := range s.registry.All() {
		metrics.Devices.Total++
		metrics.Devices.ByType[string(d.Type())]++
		if d.Connected() {
			metrics.Devices.Connected++
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}

func transportMetrics(c ConnectionStatus) TransportMetrics {
	if c == nil {
		return TransportMetrics{}
	}
	return TransportMetrics{Enabled: true, Connected: c.IsConnected()}
}
