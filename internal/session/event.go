package session

import (
	"fmt"

	"steamroutetool/internal/probe"
	"steamroutetool/internal/route"
)

// RowEvent is the projection of one row.
type RowEvent struct {
	Row            int            `json:"row"`
	Route          string         `json:"route"`
	Label          string         `json:"label"`
	Addr           string         `json:"addr"`
	PortRange      string         `json:"port_range,omitempty"`
	Visible        bool           `json:"visible"`
	Latency        route.Latency  `json:"latency_ms"`
	LatencyDisplay string         `json:"latency"`
	Severity       probe.Severity `json:"severity"`
	Checked        bool           `json:"checked"`
	Pending        bool           `json:"pending"`
}

// Label returns the text shown for a row. A collapsed route shows its
// representative with the bare description; otherwise rows are numbered.
func Label(row *route.Row) string {
	r := row.Route
	if row.Representative() && !r.Extended() {
		return r.Label()
	}
	return fmt.Sprintf("%s %d", r.Label(), row.Pos+1)
}

func rowEvent(row *route.Row, th probe.Thresholds) RowEvent {
	r := row.Route
	ep := row.Endpoint()
	l := row.Latency()
	return RowEvent{
		Row:            row.Index,
		Route:          r.Name,
		Label:          Label(row),
		Addr:           ep.Addr,
		PortRange:      ep.PortRange,
		Visible:        row.Representative() || r.Extended(),
		Latency:        l,
		LatencyDisplay: l.String(),
		Severity:       probe.Classify(l, th),
		Checked:        row.Blocked(),
		Pending:        row.Pending(),
	}
}
