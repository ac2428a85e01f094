package probe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"steamroutetool/internal/route"
	"steamroutetool/internal/sdr"
)

type fakePinger struct {
	mu    sync.Mutex
	rtts  map[string]time.Duration
	errs  map[string]error
	calls []string
}

func (f *fakePinger) Ping(_ context.Context, addr string, timeout time.Duration) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, addr)
	if timeout != DefaultTimeout {
		return 0, errors.New("unexpected timeout")
	}
	if err := f.errs[addr]; err != nil {
		return 0, err
	}
	return f.rtts[addr], nil
}

func registry(t *testing.T, data string) *route.Registry {
	t.Helper()
	doc, err := sdr.Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return route.Build(doc)
}

const routeA = `{"pops": {"A": {"relays": [
  {"ipv4": "1.2.3.4", "port_range": [1000, 2000]},
  {"ipv4": "5.6.7.8", "port_range": [2000, 3000]}
]}}}`

func TestProbe_MapsFailuresToUnreachable(t *testing.T) {
	t.Parallel()

	f := &fakePinger{
		rtts: map[string]time.Duration{"1.1.1.1": 12 * time.Millisecond, "2.2.2.2": 0},
		errs: map[string]error{"3.3.3.3": ErrNoReply},
	}
	p := New(f)
	if got := p.Probe(context.Background(), "1.1.1.1"); got != 12 {
		t.Fatalf("got=%v", got)
	}
	if got := p.Probe(context.Background(), "2.2.2.2"); got != route.Unreachable {
		t.Fatalf("zero rtt got=%v", got)
	}
	if got := p.Probe(context.Background(), "3.3.3.3"); got != route.Unreachable {
		t.Fatalf("error got=%v", got)
	}
}

func TestProbeRoute_SequentialWithPendingEvents(t *testing.T) {
	t.Parallel()

	reg := registry(t, routeA)
	f := &fakePinger{rtts: map[string]time.Duration{
		"1.2.3.4": 40 * time.Millisecond,
		"5.6.7.8": 120 * time.Millisecond,
	}}
	var events []Event
	New(f).ProbeRoute(context.Background(), reg.Routes()[0], func(e Event) { events = append(events, e) })

	if len(events) != 4 {
		t.Fatalf("events=%+v", events)
	}
	if !events[0].Pending || events[0].Row != 0 || events[1].Pending || events[1].Latency != 40 {
		t.Fatalf("row 0 events=%+v", events[:2])
	}
	if !events[2].Pending || events[3].Row != 1 || events[3].Latency != 120 {
		t.Fatalf("row 1 events=%+v", events[2:])
	}
	if f.calls[0] != "1.2.3.4" || f.calls[1] != "5.6.7.8" {
		t.Fatalf("calls=%v", f.calls)
	}

	rows := reg.Rows()
	if Classify(rows[0].Latency(), DefaultThresholds) != SeverityGood ||
		Classify(rows[1].Latency(), DefaultThresholds) != SeverityBad {
		t.Fatalf("severity mismatch")
	}
}

func TestProbeAll_ProbesEveryRow(t *testing.T) {
	t.Parallel()

	reg := registry(t, `{"pops": {
	  "a": {"relays": [{"ipv4": "10.0.0.1"}, {"ipv4": "10.0.0.2"}]},
	  "b": {"relays": [{"ipv4": "10.0.1.1"}]},
	  "c": {"relays": [{"ipv4": "10.0.2.1"}, {"ipv4": "10.0.2.2"}, {"ipv4": "10.0.2.3"}]}
	}}`)
	f := &fakePinger{rtts: map[string]time.Duration{}, errs: map[string]error{"10.0.2.2": ErrNoReply}}
	for _, row := range reg.Rows() {
		if row.Endpoint().Addr != "10.0.2.2" {
			f.rtts[row.Endpoint().Addr] = 30 * time.Millisecond
		}
	}

	for _, workers := range []int{0, 1} {
		var mu sync.Mutex
		results := map[int]route.Latency{}
		p := New(f)
		p.Workers = workers
		p.ProbeAll(context.Background(), reg.Routes(), func(e Event) {
			if e.Pending {
				return
			}
			mu.Lock()
			results[e.Row] = e.Latency
			mu.Unlock()
		})
		if len(results) != reg.RowCount() {
			t.Fatalf("workers=%d results=%v", workers, results)
		}
		for _, row := range reg.Rows() {
			want := route.Latency(30)
			if row.Endpoint().Addr == "10.0.2.2" {
				want = route.Unreachable
			}
			if results[row.Index] != want || row.Latency() != want || row.Pending() {
				t.Fatalf("workers=%d row %d latency=%v", workers, row.Index, row.Latency())
			}
		}
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := map[route.Latency]Severity{
		route.NotProbed:   SeverityUnknown,
		route.Unreachable: SeverityUnreachable,
		0:                 SeverityGood,
		50:                SeverityGood,
		51:                SeverityWarn,
		100:               SeverityWarn,
		101:               SeverityBad,
	}
	for l, want := range cases {
		if got := Classify(l, DefaultThresholds); got != want {
			t.Fatalf("Classify(%d)=%s want %s", l, got, want)
		}
	}
}
