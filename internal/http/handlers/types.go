package handlers

import (
	"github.com/jmylchreest/tambayan/internal/service"
)

// Health types

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status        string            `json:"status"`
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	Uptime        string            `json:"uptime"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	CPUInfo       CPUInfo           `json:"cpu_info"`
	Memory        MemoryInfo        `json:"memory"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// CPUInfo holds host load averages.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo holds host and process memory usage.
type MemoryInfo struct {
	TotalMemoryMB     float64 `json:"total_memory_mb"`
	UsedMemoryMB      float64 `json:"used_memory_mb"`
	AvailableMemoryMB float64 `json:"available_memory_mb"`
	ProcessMB         float64 `json:"process_mb"`
	ProcessPercentage float64 `json:"process_percentage"`
}

// Player types

// EpisodeOutput is the probe result.
type EpisodeOutput struct {
	Body service.EpisodeView
}

// PlaybackOutput is the page and playback snapshot.
type PlaybackOutput struct {
	Body service.PageState
}

// ProxyTestOutput is the proxy test result.
type ProxyTestOutput struct {
	Body service.ProxyTestResult
}

// EmptyInput is the input for operations without parameters.
type EmptyInput struct{}

// SelectSourceInput selects a quality by index.
type SelectSourceInput struct {
	Index int `path:"index" minimum:"0" doc:"Source index in upstream order"`
}

// LoadModeInput chooses how the first source is loaded.
type LoadModeInput struct {
	Body struct {
		Mode string `json:"mode" enum:"proxy,direct" doc:"proxy wraps the manifest URL in the relay URL; direct relies on per-request relaying"`
	}
}
