package metrics

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"steamroutetool/internal/model"
)

var header = []string{
	"timestamp",
	"route",
	"endpoint",
	"port_range",
	"row",
	"latency_ms",
	"reachable",
	"severity",
}

// WriteCSV writes samples to CSV with a fixed column order.
func WriteCSV(w io.Writer, items []model.Sample) error {
	return writeCSV(w, items, true)
}

// AppendCSV appends samples to path, writing the header only when the file
// is new or empty.
func AppendCSV(path string, items []model.Sample) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	return writeCSV(file, items, info.Size() == 0)
}

func writeCSV(w io.Writer, items []model.Sample, withHeader bool) error {
	writer := csv.NewWriter(w)
	if withHeader {
		if err := writer.Write(header); err != nil {
			return err
		}
	}

	for _, s := range items {
		latency := ""
		if s.Reachable {
			latency = strconv.FormatInt(s.LatencyMs, 10)
		}
		record := []string{
			s.Timestamp.UTC().Format(time.RFC3339Nano),
			s.Route,
			s.Endpoint,
			s.PortRange,
			strconv.Itoa(s.Row),
			latency,
			strconv.FormatBool(s.Reachable),
			s.Severity,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
