package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"time"

	"steamroutetool/internal/elevate"
	"steamroutetool/internal/probe"
	"steamroutetool/internal/stunutil"
)

func handleDoctor(args []string) {
	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	c := addCommonFlags(fs)
	_ = fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()

	e, err := setup(ctx, c, nil)
	if err != nil {
		fatal(err)
	}

	fmt.Fprintf(os.Stdout, "os=%s backend=%s namespace=%s\n", runtime.GOOS, e.cfg.Backend, e.cfg.Namespace)
	if elevate.IsAdmin() {
		fmt.Fprintln(os.Stdout, "privileges: ok")
	} else {
		fmt.Fprintf(os.Stdout, "privileges: missing (%s)\n", elevate.Hint())
	}

	if rules, err := e.store.List(ctx); err != nil {
		fmt.Fprintf(os.Stdout, "rule store error: %v\n", err)
	} else {
		fmt.Fprintf(os.Stdout, "rule store: ok (%d rules visible)\n", len(rules))
	}

	routes := e.reg.Routes()
	fmt.Fprintf(os.Stdout, "relay config: routes=%d rows=%d\n", len(routes), e.reg.RowCount())
	if len(routes) > 0 {
		rep := routes[0].Endpoints[0]
		p := probe.New(probe.ICMPPinger{Privileged: e.cfg.Probe.Privileged})
		p.Timeout = time.Duration(e.cfg.Probe.TimeoutMs) * time.Millisecond
		l := p.Probe(ctx, rep.Addr)
		fmt.Fprintf(os.Stdout, "icmp probe %s (%s): %s\n", rep.Addr, routes[0].Name, displayLatency(l))
		if !l.Reachable() && !e.cfg.Probe.Privileged && runtime.GOOS == "linux" {
			fmt.Fprintln(os.Stdout, "hint: unprivileged ICMP needs net.ipv4.ping_group_range, or set probe.privileged")
		}
	}

	m, err := stunutil.Discover(ctx, e.cfg.STUNServers, stunutil.DefaultTimeout)
	if err != nil {
		fmt.Fprintf(os.Stdout, "stun error: %v\n", err)
		return
	}
	fmt.Fprintf(os.Stdout, "public_addr=%s nat_type=%s\n", m.PublicAddr, m.NATType)
}
