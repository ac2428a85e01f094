package model

import "time"

// Sample is one probe result for one endpoint.
type Sample struct {
	Timestamp time.Time
	Route     string
	Endpoint  string
	PortRange string
	Row       int
	// LatencyMs is meaningful only when Reachable is set.
	LatencyMs int64
	Reachable bool
	Severity  string
}
