package probe

import "steamroutetool/internal/route"

// Severity is the display bucket for a latency.
type Severity string

const (
	SeverityUnknown     Severity = "unknown"
	SeverityGood        Severity = "good"
	SeverityWarn        Severity = "warn"
	SeverityBad         Severity = "bad"
	SeverityUnreachable Severity = "unreachable"
)

// Thresholds are inclusive upper bounds in milliseconds.
type Thresholds struct {
	GoodMs int
	WarnMs int
}

// DefaultThresholds apply to every call site.
var DefaultThresholds = Thresholds{GoodMs: 50, WarnMs: 100}

// Classify buckets a latency.
func Classify(l route.Latency, th Thresholds) Severity {
	switch {
	case l == route.Unreachable:
		return SeverityUnreachable
	case !l.Reachable():
		return SeverityUnknown
	case int64(l) <= int64(th.GoodMs):
		return SeverityGood
	case int64(l) <= int64(th.WarnMs):
		return SeverityWarn
	default:
		return SeverityBad
	}
}
