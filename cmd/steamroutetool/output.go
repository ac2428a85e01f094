package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"steamroutetool/internal/metrics"
	"steamroutetool/internal/model"
	"steamroutetool/internal/probe"
	"steamroutetool/internal/route"
	"steamroutetool/internal/session"
)

var severityStyles = map[probe.Severity]lipgloss.Style{
	probe.SeverityGood:        lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
	probe.SeverityWarn:        lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
	probe.SeverityBad:         lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
	probe.SeverityUnreachable: lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
}

func displayLatency(l route.Latency) string {
	if s := l.String(); s != "" {
		return s
	}
	return "-"
}

// printRows renders row events as a table. Hidden rows are skipped unless
// all is set.
func printRows(w io.Writer, rows []session.RowEvent, reg *route.Registry, all bool) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ROW", "ROUTE", "ADDRESS", "PORTS", "PING", "BLOCKED", "PW")

	n := 0
	for _, ev := range rows {
		if !ev.Visible && !all {
			continue
		}
		ping := displayLatency(ev.Latency)
		if style, ok := severityStyles[ev.Severity]; ok {
			ping = style.Render(ping)
		}
		blocked := ""
		if ev.Checked {
			blocked = "x"
		}
		pw := ""
		if r, ok := reg.Route(ev.Route); ok && r.PW {
			pw = "pw"
		}
		t.Row(strconv.Itoa(ev.Row), ev.Label, ev.Addr, ev.PortRange, ping, blocked, pw)
		n++
	}
	if n == 0 {
		fmt.Fprintln(w, "no routes")
		return
	}
	fmt.Fprintln(w, t.String())
}

// filterRoutes keeps rows of the named routes; no names keeps everything.
func filterRoutes(rows []session.RowEvent, names []string) []session.RowEvent {
	if len(names) == 0 {
		return rows
	}
	out := rows[:0:0]
	for _, ev := range rows {
		if slices.Contains(names, ev.Route) {
			out = append(out, ev)
		}
	}
	return out
}

func samplesFromRows(ts time.Time, rows []session.RowEvent) []model.Sample {
	out := make([]model.Sample, 0, len(rows))
	for _, ev := range rows {
		if ev.Severity == probe.SeverityUnknown {
			continue
		}
		s := model.Sample{
			Timestamp: ts,
			Route:     ev.Route,
			Endpoint:  ev.Addr,
			PortRange: ev.PortRange,
			Row:       ev.Row,
			Reachable: ev.Latency.Reachable(),
			Severity:  string(ev.Severity),
		}
		if s.Reachable {
			s.LatencyMs = int64(ev.Latency)
		}
		out = append(out, s)
	}
	return out
}

func appendSamples(path string, ts time.Time, rows []session.RowEvent) error {
	samples := samplesFromRows(ts, rows)
	if len(samples) == 0 {
		return nil
	}
	if err := metrics.AppendCSV(path, samples); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "appended %d samples to %s\n", len(samples), path)
	return nil
}

func handleStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	path := fs.String("path", "", "samples CSV written by ping --out")
	window := fs.Duration("window", time.Hour, "time window")
	_ = fs.Parse(args)

	if *path == "" {
		fatal(errors.New("--path is required"))
	}
	items, err := metrics.ReadCSV(*path)
	if err != nil {
		fatal(err)
	}

	cutoff := time.Now().UTC().Add(-*window)
	overall := metrics.Summarize(items, cutoff)
	if overall.Count == 0 {
		fmt.Fprintln(os.Stdout, "no samples in window")
		return
	}
	fmt.Fprintf(os.Stdout, "samples=%d from=%s to=%s loss=%.1f%%\n",
		overall.Count, overall.From.Format(time.RFC3339), overall.To.Format(time.RFC3339), overall.LossPct)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ROUTE", "SAMPLES", "AVG", "P95", "MIN", "MAX", "LOSS")
	for _, s := range metrics.SummarizeByRoute(items, cutoff) {
		t.Row(s.Route, strconv.Itoa(s.Count),
			fmt.Sprintf("%.1f", s.AvgMs), fmt.Sprintf("%.1f", s.P95Ms),
			fmt.Sprintf("%.0f", s.MinMs), fmt.Sprintf("%.0f", s.MaxMs),
			fmt.Sprintf("%.1f%%", s.LossPct))
	}
	fmt.Fprintln(os.Stdout, t.String())
}
