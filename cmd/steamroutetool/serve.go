package main

import (
	"flag"
	"time"

	"github.com/charmbracelet/log"

	"steamroutetool/internal/server"
	"steamroutetool/internal/session"
)

func handleServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	c := addCommonFlags(fs)
	listen := fs.String("listen", "", "listen address (default from config)")
	reprobe := fs.Duration("reprobe", 0, "re-probe interval, 0 uses reprobe_sec from config")
	_ = fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()

	events := make(chan session.RowEvent, 256)
	go func() {
		for ev := range events {
			if ev.Pending {
				continue
			}
			log.Debug("row", "row", ev.Row, "label", ev.Label, "latency", ev.LatencyDisplay, "severity", ev.Severity, "blocked", ev.Checked)
		}
	}()

	e, err := setup(ctx, c, events)
	if err != nil {
		fatal(err)
	}

	addr := e.cfg.Listen
	if *listen != "" {
		addr = *listen
	}
	interval := time.Duration(e.cfg.ReprobeSec) * time.Second
	if *reprobe > 0 {
		interval = *reprobe
	}

	srv := server.New(addr, e.sess, interval)
	go func() {
		if err := e.sess.Start(ctx); err != nil {
			log.Warn("could not read current rules", "err", err)
		}
		log.Info("routes ready", "routes", len(e.reg.Routes()), "rows", e.reg.RowCount())
	}()

	fatal(srv.ListenAndServe(ctx))
}
