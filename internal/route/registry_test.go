package route

import (
	"testing"

	"steamroutetool/internal/sdr"
)

const doc = `{"pops": {
  "sea": {"desc": "Seattle", "relays": [
    {"ipv4": "1.2.3.4", "port_range": [1000, 2000]},
    {"ipv4": "5.6.7.8", "port_range": [2000, 3000]},
    {"ipv4": "1.2.3.4", "port_range": [1, 2]}
  ]},
  "ams": {"partners": 2, "relays": [{"ipv4": "9.9.9.9"}, {"ipv4": "bogus"}, {"ipv4": ""}]},
  "ctx": {"desc": "cloud-test", "relays": [{"ipv4": "7.7.7.7"}]},
  "gnrt": {"desc": "no relays"},
  "empty": {"relays": [{"ipv4": "::1"}]},
  "fra": {"relays": [{"ipv4": "10.0.0.1"}, {"ipv4": "10.0.0.2"}]}
}}`

func build(t *testing.T) *Registry {
	t.Helper()
	d, err := sdr.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return Build(d)
}

func TestBuild_RowCountMatchesUsableEndpoints(t *testing.T) {
	t.Parallel()

	reg := build(t)
	if len(reg.Routes()) != 3 {
		t.Fatalf("routes=%d", len(reg.Routes()))
	}
	// sea: 2 (duplicate skipped), ams: 1, fra: 2
	if reg.RowCount() != 5 {
		t.Fatalf("rows=%d", reg.RowCount())
	}
	total := 0
	for _, r := range reg.Routes() {
		if len(r.Endpoints) != len(r.Rows()) {
			t.Fatalf("%s endpoints=%d rows=%d", r.Name, len(r.Endpoints), len(r.Rows()))
		}
		total += len(r.Endpoints)
	}
	if total != reg.RowCount() {
		t.Fatalf("total=%d", total)
	}
}

func TestBuild_RowIndicesInDocumentOrder(t *testing.T) {
	t.Parallel()

	reg := build(t)
	want := 0
	for _, r := range reg.Routes() {
		for i, ep := range r.Endpoints {
			if ep.Row != want || r.Rows()[i].Index != want {
				t.Fatalf("%s[%d] row=%d want %d", r.Name, i, ep.Row, want)
			}
			got, ok := reg.RouteForRow(want)
			if !ok || got != r {
				t.Fatalf("RouteForRow(%d)", want)
			}
			want++
		}
	}
	if _, ok := reg.Row(want); ok {
		t.Fatalf("row %d should not exist", want)
	}
}

func TestBuild_Attributes(t *testing.T) {
	t.Parallel()

	reg := build(t)
	sea, ok := reg.Route("sea")
	if !ok {
		t.Fatalf("sea missing")
	}
	if sea.Label() != "Seattle" || sea.PW {
		t.Fatalf("sea=%+v", sea)
	}
	if sea.Endpoints[0].PortRange != "1000-2000" || sea.Endpoints[1].Addr != "5.6.7.8" {
		t.Fatalf("endpoints=%+v", sea.Endpoints)
	}
	ams, _ := reg.Route("ams")
	if !ams.PW || ams.Label() != "ams" {
		t.Fatalf("ams=%+v", ams)
	}
	if _, ok := reg.Route("ctx"); ok {
		t.Fatalf("excluded route present")
	}
	if sea.Extended() || sea.AllCheck() {
		t.Fatalf("new route should be collapsed without all_check")
	}
}

func TestRowState(t *testing.T) {
	t.Parallel()

	reg := build(t)
	row, _ := reg.Row(0)
	if row.Latency() != NotProbed || row.Latency().String() != "" {
		t.Fatalf("latency=%v", row.Latency())
	}
	row.SetPending(true)
	row.SetLatency(Unreachable)
	if row.Pending() || row.Latency().String() != "BLK" || row.Latency().Reachable() {
		t.Fatalf("unreachable row state wrong")
	}
	row.SetLatency(42)
	if row.Latency().String() != "42" {
		t.Fatalf("latency=%v", row.Latency())
	}
	row.SetBlocked(true)
	if got := row.Route.Checked(); !got[0] || got[1] {
		t.Fatalf("checked=%v", got)
	}
}

func TestBuild_EmptyDocument(t *testing.T) {
	t.Parallel()

	reg := Build(sdr.Document{})
	if reg.RowCount() != 0 || len(reg.Routes()) != 0 {
		t.Fatalf("expected empty registry")
	}
}
