package metrics

import (
	"math"
	"sort"
	"time"

	"steamroutetool/internal/model"
)

// Summary is a basic statistics snapshot. Latency figures cover reachable
// samples only.
type Summary struct {
	Route     string
	Count     int
	Reachable int
	From      time.Time
	To        time.Time
	AvgMs     float64
	P95Ms     float64
	MinMs     float64
	MaxMs     float64
	LossPct   float64
}

// Summarize computes summary metrics for items in a time window.
func Summarize(items []model.Sample, since time.Time) Summary {
	filtered := make([]model.Sample, 0, len(items))
	for _, s := range items {
		if s.Timestamp.After(since) || s.Timestamp.Equal(since) {
			filtered = append(filtered, s)
		}
	}

	if len(filtered) == 0 {
		return Summary{Count: 0}
	}

	values := make([]float64, 0, len(filtered))
	var sum float64
	minMs := math.MaxFloat64
	maxMs := 0.0
	from := filtered[0].Timestamp
	to := filtered[0].Timestamp

	for _, s := range filtered {
		if s.Timestamp.Before(from) {
			from = s.Timestamp
		}
		if s.Timestamp.After(to) {
			to = s.Timestamp
		}
		if !s.Reachable {
			continue
		}
		v := float64(s.LatencyMs)
		values = append(values, v)
		sum += v
		if v < minMs {
			minMs = v
		}
		if v > maxMs {
			maxMs = v
		}
	}

	out := Summary{
		Count:     len(filtered),
		Reachable: len(values),
		From:      from,
		To:        to,
		LossPct:   100 * float64(len(filtered)-len(values)) / float64(len(filtered)),
	}
	if len(values) == 0 {
		return out
	}
	sort.Float64s(values)
	out.AvgMs = sum / float64(len(values))
	out.P95Ms = percentile(values, 0.95)
	out.MinMs = minMs
	out.MaxMs = maxMs
	return out
}

// SummarizeByRoute summarizes each route separately, in order of first
// appearance.
func SummarizeByRoute(items []model.Sample, since time.Time) []Summary {
	groups := make(map[string][]model.Sample)
	var order []string
	for _, s := range items {
		if _, ok := groups[s.Route]; !ok {
			order = append(order, s.Route)
		}
		groups[s.Route] = append(groups[s.Route], s)
	}

	out := make([]Summary, 0, len(order))
	for _, name := range order {
		sum := Summarize(groups[name], since)
		if sum.Count == 0 {
			continue
		}
		sum.Route = name
		out = append(out, sum)
	}
	return out
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return values[0]
	}
	if p >= 1 {
		return values[len(values)-1]
	}
	idx := int(math.Ceil(p*float64(len(values)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return values[idx]
}
