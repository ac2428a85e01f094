package policy

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"strings"
	"testing"

	"steamroutetool/internal/route"
	"steamroutetool/internal/sdr"
)

const ns = "SteamRouteTool"

const doc = `{"pops": {
  "A": {"relays": [
    {"ipv4": "1.2.3.4", "port_range": [1000, 2000]},
    {"ipv4": "5.6.7.8", "port_range": [2000, 3000]}
  ]},
  "big": {"desc": "Big", "relays": [
    {"ipv4": "10.0.0.1"}, {"ipv4": "10.0.0.2"}, {"ipv4": "10.0.0.3"}, {"ipv4": "10.0.0.4"}
  ]},
  "solo": {"relays": [{"ipv4": "10.9.9.9"}]},
  "with-dash": {"relays": [{"ipv4": "10.8.0.1"}, {"ipv4": "10.8.0.2"}]}
}}`

func registry(t *testing.T) *route.Registry {
	t.Helper()
	d, err := sdr.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return route.Build(d)
}

func mustRoute(t *testing.T, reg *route.Registry, name string) *route.Route {
	t.Helper()
	r, ok := reg.Route(name)
	if !ok {
		t.Fatalf("route %q missing", name)
	}
	return r
}

func rulesFor(t *testing.T, s Store, name string) []Rule {
	t.Helper()
	rules, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var out []Rule
	for _, r := range rules {
		if _, rn, ok := ParseRuleName(ns, r.Name); ok && rn == name {
			out = append(out, r)
		}
	}
	return out
}

func blockRule(p Protocol, route string, addrs ...string) Rule {
	return Rule{Name: RuleName(ns, p, route), Protocol: p, RemoteAddresses: addrs, Direction: Outbound, Action: Block, Enabled: true}
}

func TestParseRuleName(t *testing.T) {
	t.Parallel()

	tag, name, ok := ParseRuleName(ns, "SteamRouteTool-TCP-with-dash")
	if !ok || tag != "TCP" || name != "with-dash" {
		t.Fatalf("tag=%q name=%q ok=%v", tag, name, ok)
	}
	for _, bad := range []string{"Other-TCP-sea", "SteamRouteTool-TCP", "SteamRouteTool--sea", "SteamRouteTool-TCP-"} {
		if _, _, ok := ParseRuleName(ns, bad); ok {
			t.Fatalf("accepted %q", bad)
		}
	}
	if got := RuleNames(ns, "A"); !reflect.DeepEqual(got, []string{"SteamRouteTool-UDP-A", "SteamRouteTool-TCP-A", "SteamRouteTool-ICMP-A"}) {
		t.Fatalf("names=%v", got)
	}
}

func TestSetRule_ExampleA(t *testing.T) {
	t.Parallel()

	reg := registry(t)
	a := mustRoute(t, reg, "A")
	a.SetAllCheck(true)
	store := NewMemoryStore()
	w := NewWriter(store, ns)

	if err := w.SetRule(context.Background(), a, []bool{true, false}); err != nil {
		t.Fatalf("SetRule: %v", err)
	}
	rules := rulesFor(t, store, "A")
	if len(rules) != 3 {
		t.Fatalf("rules=%+v", rules)
	}
	suffixes := map[string]bool{}
	for _, r := range rules {
		for _, sfx := range []string{"-TCP-A", "-UDP-A", "-ICMP-A"} {
			if strings.HasSuffix(r.Name, sfx) {
				suffixes[sfx] = true
			}
		}
		if !reflect.DeepEqual(r.RemoteAddresses, []string{"1.2.3.4", "5.6.7.8"}) {
			t.Fatalf("%s addresses=%v", r.Name, r.RemoteAddresses)
		}
		if r.Direction != Outbound || r.Action != Block || !r.Enabled {
			t.Fatalf("rule=%+v", r)
		}
		if r.Protocol == ICMP && r.RemotePorts != "" {
			t.Fatalf("icmp ports=%q", r.RemotePorts)
		}
		if r.Protocol != ICMP && r.RemotePorts != "27015-27202" {
			t.Fatalf("%s ports=%q", r.Protocol, r.RemotePorts)
		}
	}
	if len(suffixes) != 3 {
		t.Fatalf("suffixes=%v", suffixes)
	}

	if err := w.SetRule(context.Background(), a, []bool{false, false}); err != nil {
		t.Fatalf("SetRule off: %v", err)
	}
	if rules := rulesFor(t, store, "A"); len(rules) != 0 {
		t.Fatalf("rules left=%+v", rules)
	}
}

func TestSetRule_IndividualRows(t *testing.T) {
	t.Parallel()

	reg := registry(t)
	big := mustRoute(t, reg, "big")
	store := NewMemoryStore()
	w := NewWriter(store, ns)

	// all_check false: representative checked means only its own address.
	if err := w.SetRule(context.Background(), big, []bool{true, false, true, false}); err != nil {
		t.Fatalf("SetRule: %v", err)
	}
	rules := rulesFor(t, store, "big")
	if len(rules) != 3 {
		t.Fatalf("rules=%d", len(rules))
	}
	if !reflect.DeepEqual(rules[0].RemoteAddresses, []string{"10.0.0.1", "10.0.0.3"}) {
		t.Fatalf("addresses=%v", rules[0].RemoteAddresses)
	}

	// Re-running replaces rather than duplicates.
	if err := w.SetRule(context.Background(), big, []bool{false, true, false, false}); err != nil {
		t.Fatalf("SetRule: %v", err)
	}
	rules = rulesFor(t, store, "big")
	if len(rules) != 3 || !reflect.DeepEqual(rules[0].RemoteAddresses, []string{"10.0.0.2"}) {
		t.Fatalf("rules=%+v", rules)
	}
}

type flakyStore struct {
	*MemoryStore
	failRemove string
	failAdd    bool
	failList   bool
}

func (f *flakyStore) Remove(ctx context.Context, name string) error {
	if name == f.failRemove {
		return errors.New("access denied")
	}
	return f.MemoryStore.Remove(ctx, name)
}

func (f *flakyStore) Add(ctx context.Context, r Rule) error {
	if f.failAdd {
		return errors.New("access denied")
	}
	return f.MemoryStore.Add(ctx, r)
}

func (f *flakyStore) List(ctx context.Context) ([]Rule, error) {
	if f.failList {
		return nil, errors.New("service stopped")
	}
	return f.MemoryStore.List(ctx)
}

func TestSetRule_RemoveFailureContinues(t *testing.T) {
	t.Parallel()

	reg := registry(t)
	a := mustRoute(t, reg, "A")
	store := &flakyStore{
		MemoryStore: NewMemoryStore(blockRule(TCP, "A", "1.2.3.4"), blockRule(ICMP, "A", "1.2.3.4")),
		failRemove:  RuleName(ns, UDP, "A"),
	}
	if err := NewWriter(store, ns).SetRule(context.Background(), a, []bool{false, false}); err != nil {
		t.Fatalf("SetRule: %v", err)
	}
	if rules := rulesFor(t, store, "A"); len(rules) != 0 {
		t.Fatalf("TCP/ICMP should still be removed: %+v", rules)
	}

	store.failAdd = true
	if err := NewWriter(store, ns).SetRule(context.Background(), a, []bool{true, true}); err == nil {
		t.Fatalf("expected add error")
	}
}

func TestSetAll(t *testing.T) {
	t.Parallel()

	reg := registry(t)
	store := NewMemoryStore(Rule{Name: "Unrelated-TCP-A", Protocol: TCP})
	w := NewWriter(store, ns)

	if err := w.SetAll(context.Background(), reg.Routes(), true); err != nil {
		t.Fatalf("SetAll on: %v", err)
	}
	for _, r := range reg.Routes() {
		rules := rulesFor(t, store, r.Name)
		if len(rules) != 3 {
			t.Fatalf("%s rules=%d", r.Name, len(rules))
		}
		if !reflect.DeepEqual(rules[0].RemoteAddresses, r.Addresses()) {
			t.Fatalf("%s addresses=%v", r.Name, rules[0].RemoteAddresses)
		}
	}

	if err := w.SetAll(context.Background(), reg.Routes(), false); err != nil {
		t.Fatalf("SetAll off: %v", err)
	}
	rules, _ := store.List(context.Background())
	if len(rules) != 1 || rules[0].Name != "Unrelated-TCP-A" {
		t.Fatalf("rules=%+v", rules)
	}
}

func TestClearNamespace(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(
		blockRule(TCP, "A", "1.2.3.4"),
		blockRule(TCP, "A", "1.2.3.4"),
		Rule{Name: "TF2RoutingTool-UDP-old"},
		Rule{Name: "Keep-me"},
	)
	w := NewWriter(store, ns)

	n, err := w.ClearNamespace(context.Background(), "TF2RoutingTool")
	if err != nil || n != 1 {
		t.Fatalf("legacy n=%d err=%v", n, err)
	}
	n, err = w.ClearNamespace(context.Background(), ns)
	if err != nil || n != 1 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	rules, _ := store.List(context.Background())
	if len(rules) != 1 || rules[0].Name != "Keep-me" {
		t.Fatalf("rules=%+v", rules)
	}

	failing := &flakyStore{MemoryStore: NewMemoryStore(), failList: true}
	if _, err := NewWriter(failing, ns).ClearNamespace(context.Background(), ns); err == nil {
		t.Fatalf("expected list error")
	}
}

func snapshot(reg *route.Registry) (map[string]bool, []bool) {
	ext := map[string]bool{}
	for _, r := range reg.Routes() {
		ext[r.Name] = r.Extended()
	}
	var blocked []bool
	for _, row := range reg.Rows() {
		blocked = append(blocked, row.Blocked())
	}
	return ext, blocked
}

func TestReconcile(t *testing.T) {
	t.Parallel()

	reg := registry(t)
	store := NewMemoryStore(
		// A fully blocked via the collapsed path.
		blockRule(UDP, "A", "1.2.3.4/255.255.255.255", "5.6.7.8/32"),
		blockRule(TCP, "A", "1.2.3.4", "5.6.7.8"),
		// big: representative blocked, one other not.
		blockRule(UDP, "big", "10.0.0.1", "10.0.0.3", "10.0.0.4"),
		// solo: single endpoint blocked.
		blockRule(ICMP, "solo", "10.9.9.9"),
		blockRule(TCP, "with-dash", "10.8.0.2"),
		blockRule(TCP, "gone", "8.8.8.8"),
		Rule{Name: "Other-TCP-A", RemoteAddresses: []string{"1.2.3.4"}},
	)
	s := &Synchronizer{Store: store, Namespace: ns}

	rep, err := s.Reconcile(context.Background(), reg)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if rep.Rules != 6 || rep.Routes != 4 || len(rep.Orphans) != 1 {
		t.Fatalf("report=%+v", rep)
	}

	a := mustRoute(t, reg, "A")
	if a.Extended() || !reflect.DeepEqual(a.Checked(), []bool{true, true}) {
		t.Fatalf("A extended=%v checked=%v", a.Extended(), a.Checked())
	}
	big := mustRoute(t, reg, "big")
	if !big.Extended() || !reflect.DeepEqual(big.Checked(), []bool{true, false, true, true}) {
		t.Fatalf("big extended=%v checked=%v", big.Extended(), big.Checked())
	}
	solo := mustRoute(t, reg, "solo")
	if solo.Extended() || !solo.Representative().Blocked() {
		t.Fatalf("solo extended=%v", solo.Extended())
	}
	dash := mustRoute(t, reg, "with-dash")
	if !dash.Extended() || !reflect.DeepEqual(dash.Checked(), []bool{false, true}) {
		t.Fatalf("with-dash extended=%v checked=%v", dash.Extended(), dash.Checked())
	}

	ext1, blocked1 := snapshot(reg)
	if _, err := s.Reconcile(context.Background(), reg); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	ext2, blocked2 := snapshot(reg)
	if !reflect.DeepEqual(ext1, ext2) || !reflect.DeepEqual(blocked1, blocked2) {
		t.Fatalf("not idempotent: %v/%v vs %v/%v", ext1, blocked1, ext2, blocked2)
	}
}

func TestReconcile_SingleEndpointNeverExtended(t *testing.T) {
	t.Parallel()

	reg := registry(t)
	store := NewMemoryStore(blockRule(TCP, "solo", "1.1.1.1"))
	if _, err := (&Synchronizer{Store: store, Namespace: ns}).Reconcile(context.Background(), reg); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	solo := mustRoute(t, reg, "solo")
	if solo.Extended() || solo.Representative().Blocked() {
		t.Fatalf("solo extended=%v blocked=%v", solo.Extended(), solo.Representative().Blocked())
	}
}

func TestReconcile_ListFailureLeavesState(t *testing.T) {
	t.Parallel()

	reg := registry(t)
	mustRoute(t, reg, "A").Representative().SetBlocked(true)
	store := &flakyStore{MemoryStore: NewMemoryStore(), failList: true}
	if _, err := (&Synchronizer{Store: store, Namespace: ns}).Reconcile(context.Background(), reg); err == nil {
		t.Fatalf("expected error")
	}
	if !mustRoute(t, reg, "A").Representative().Blocked() {
		t.Fatalf("state changed on failure")
	}
}

func TestMemoryStore_RemoveAllWithName(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(blockRule(TCP, "A"), blockRule(TCP, "A"), blockRule(UDP, "A"))
	if err := s.Remove(context.Background(), RuleName(ns, TCP, "A")); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := s.Remove(context.Background(), "missing"); err != nil {
		t.Fatalf("Remove missing: %v", err)
	}
	rules, _ := s.List(context.Background())
	var names []string
	for _, r := range rules {
		names = append(names, r.Name)
	}
	sort.Strings(names)
	if !reflect.DeepEqual(names, []string{"SteamRouteTool-UDP-A"}) {
		t.Fatalf("names=%v", names)
	}
}
