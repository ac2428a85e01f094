package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"steamroutetool/internal/config"
	"steamroutetool/internal/execx"
	"steamroutetool/internal/firewall"
	"steamroutetool/internal/policy"
	"steamroutetool/internal/probe"
	"steamroutetool/internal/route"
	"steamroutetool/internal/sdr"
	"steamroutetool/internal/session"
)

const usage = `steamroutetool - inspect, probe and block Steam Datagram Relay routes

Usage:
  steamroutetool routes      [--all]
  steamroutetool ping        [--out <csv>] [route...]
  steamroutetool status
  steamroutetool block       <route> [address...]
  steamroutetool unblock     <route> [address...]
  steamroutetool block-all
  steamroutetool unblock-all
  steamroutetool clear       [--legacy]
  steamroutetool serve       [--listen 127.0.0.1:8787] [--reprobe 60s]
  steamroutetool stats       --path <csv> [--window 1h]
  steamroutetool doctor

Common flags:
  --config <path>    YAML config (optional; .env and SRT_* variables also apply)
  --sdr <path>       read the relay config from a file instead of the network
  --backend <name>   auto|iptables|netsh|memory
  --dry-run          use an in-memory rule store
  --debug            debug logging
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]
	switch cmd {
	case "-h", "--help", "help":
		fmt.Print(usage)
	case "routes":
		handleRoutes(args)
	case "ping":
		handlePing(args)
	case "status":
		handleStatus(args)
	case "block":
		handleBlock(args, true)
	case "unblock":
		handleBlock(args, false)
	case "block-all":
		handleBlockAll(args, true)
	case "unblock-all":
		handleBlockAll(args, false)
	case "clear":
		handleClear(args)
	case "serve":
		handleServe(args)
	case "stats":
		handleStats(args)
	case "doctor":
		handleDoctor(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

// commonFlags are shared by every command that touches routes or rules.
type commonFlags struct {
	configPath string
	sdrPath    string
	backend    string
	dryRun     bool
	debug      bool
}

func addCommonFlags(fs *flag.FlagSet) *commonFlags {
	c := &commonFlags{}
	fs.StringVar(&c.configPath, "config", "", "path to YAML config")
	fs.StringVar(&c.sdrPath, "sdr", "", "relay config JSON file (skips the network fetch)")
	fs.StringVar(&c.backend, "backend", "", "firewall backend: auto|iptables|netsh|memory")
	fs.BoolVar(&c.dryRun, "dry-run", false, "use an in-memory rule store")
	fs.BoolVar(&c.debug, "debug", false, "debug logging")
	return c
}

// env is everything a command needs, built from flags and config.
type env struct {
	cfg   config.Config
	store policy.Store
	reg   *route.Registry
	sess  *session.Session
}

func loadConfig(c *commonFlags) (config.Config, error) {
	config.LoadDotEnv()
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if c.backend != "" {
		cfg.Backend = strings.ToLower(c.backend)
	}
	if c.dryRun {
		cfg.Backend = "memory"
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}

	level, _ := log.ParseLevel(cfg.LogLevel)
	if c.debug {
		level = log.DebugLevel
	}
	log.SetLevel(level)
	return cfg, nil
}

func setup(ctx context.Context, c *commonFlags, events chan<- session.RowEvent) (*env, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	store, err := firewall.Open(cfg.Backend, execx.NewOSRunner(os.Stderr), cfg.IPTablesChain)
	if err != nil {
		return nil, err
	}

	reg := route.Build(fetchDocument(ctx, cfg, c.sdrPath))
	if reg.RowCount() == 0 {
		log.Warn("no routes available")
	}

	prober := probe.New(probe.ICMPPinger{Privileged: cfg.Probe.Privileged})
	prober.Timeout = time.Duration(cfg.Probe.TimeoutMs) * time.Millisecond
	prober.Workers = cfg.Probe.Workers

	sess := session.New(session.Options{
		Registry:        reg,
		Prober:          prober,
		Store:           store,
		Namespace:       cfg.Namespace,
		LegacyNamespace: cfg.LegacyNamespace,
		Ports:           cfg.PortRange,
		Thresholds:      probe.Thresholds{GoodMs: cfg.Thresholds.GoodMs, WarnMs: cfg.Thresholds.WarnMs},
		Events:          events,
	})
	return &env{cfg: cfg, store: store, reg: reg, sess: sess}, nil
}

// fetchDocument never fails: a fetch or parse error yields an empty
// document and a warning.
func fetchDocument(ctx context.Context, cfg config.Config, path string) sdr.Document {
	var (
		doc sdr.Document
		err error
	)
	if path != "" {
		doc, err = sdr.LoadFile(path)
	} else {
		doc, err = sdr.NewClient(cfg.ConfigURL).Fetch(ctx)
	}
	if err != nil {
		log.Warn("relay config unavailable", "err", err)
		return sdr.Document{}
	}
	log.Debug("relay config loaded", "revision", doc.Revision, "pops", len(doc.Pops))
	return doc
}

// reconcile syncs row state with the store; failures are logged only.
func (e *env) reconcile(ctx context.Context) {
	if _, err := e.sess.Reconcile(ctx); err != nil {
		log.Warn("could not read current rules", "err", err)
	}
}

func handleRoutes(args []string) {
	fs := flag.NewFlagSet("routes", flag.ExitOnError)
	c := addCommonFlags(fs)
	all := fs.Bool("all", false, "show rows hidden by collapsed routes")
	_ = fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()

	e, err := setup(ctx, c, nil)
	if err != nil {
		fatal(err)
	}
	e.reconcile(ctx)
	printRows(os.Stdout, e.sess.Snapshot(), e.reg, *all)
}

func handlePing(args []string) {
	fs := flag.NewFlagSet("ping", flag.ExitOnError)
	c := addCommonFlags(fs)
	out := fs.String("out", "", "append probe samples to this CSV file")
	_ = fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()

	e, err := setup(ctx, c, nil)
	if err != nil {
		fatal(err)
	}

	names := fs.Args()
	start := time.Now().UTC()
	if len(names) == 0 {
		e.sess.ProbeAll(ctx)
	} else {
		for _, name := range names {
			if err := e.sess.ProbeRoute(ctx, name); err != nil {
				fatal(err)
			}
		}
	}
	e.reconcile(ctx)

	rows := filterRoutes(e.sess.Snapshot(), names)
	printRows(os.Stdout, rows, e.reg, true)

	if *out != "" {
		if err := appendSamples(*out, start, rows); err != nil {
			fmt.Fprintf(os.Stderr, "append samples failed: %v\n", err)
		}
	}
}

func handleStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	c := addCommonFlags(fs)
	_ = fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()

	e, err := setup(ctx, c, nil)
	if err != nil {
		fatal(err)
	}
	rep, err := e.sess.Reconcile(ctx)
	if err != nil {
		fatal(fmt.Errorf("read rules: %w", err))
	}

	fmt.Fprintf(os.Stdout, "backend=%s namespace=%s rules=%d routes=%d blocked_rows=%d\n",
		e.cfg.Backend, e.cfg.Namespace, rep.Rules, rep.Routes, rep.BlockedRows)
	for _, name := range rep.Orphans {
		fmt.Fprintf(os.Stdout, "orphan rule %s (route not in relay config)\n", name)
	}

	var blocked []session.RowEvent
	for _, ev := range e.sess.Snapshot() {
		if ev.Checked {
			blocked = append(blocked, ev)
		}
	}
	if len(blocked) == 0 {
		fmt.Fprintln(os.Stdout, "no blocked routes")
		return
	}
	printRows(os.Stdout, blocked, e.reg, true)
}

func handleBlock(args []string, block bool) {
	name := "unblock"
	if block {
		name = "block"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	c := addCommonFlags(fs)
	_ = fs.Parse(args)

	if fs.NArg() == 0 {
		fatal(errors.New("route name is required"))
	}
	routeName, addrs := fs.Arg(0), fs.Args()[1:]

	ctx, cancel := signalContext()
	defer cancel()

	e, err := setup(ctx, c, nil)
	if err != nil {
		fatal(err)
	}
	e.reconcile(ctx)
	if err := e.sess.SetRoute(ctx, routeName, addrs, block); err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "%sed %s\n", name, routeName)
	printRows(os.Stdout, filterRoutes(e.sess.Snapshot(), []string{routeName}), e.reg, true)
}

func handleBlockAll(args []string, on bool) {
	fs := flag.NewFlagSet("block-all", flag.ExitOnError)
	c := addCommonFlags(fs)
	_ = fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()

	e, err := setup(ctx, c, nil)
	if err != nil {
		fatal(err)
	}
	if err := e.sess.ToggleColumnAll(ctx, on); err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "updated %d routes (blocked=%t)\n", len(e.reg.Routes()), on)
}

func handleClear(args []string) {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	c := addCommonFlags(fs)
	legacy := fs.Bool("legacy", false, "also remove rules left by the legacy namespace")
	_ = fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()

	e, err := setup(ctx, c, nil)
	if err != nil {
		fatal(err)
	}
	n, err := e.sess.ClearNamespace(ctx)
	if err != nil {
		fatal(fmt.Errorf("failed to clear rules, check permissions: %w", err))
	}
	fmt.Fprintf(os.Stdout, "cleared %d rules created by this tool\n", n)

	if *legacy {
		w := policy.NewWriter(e.store, e.cfg.Namespace)
		n, err := w.ClearNamespace(ctx, e.cfg.LegacyNamespace)
		if err != nil {
			fatal(err)
		}
		fmt.Fprintf(os.Stdout, "cleared %d legacy %s rules\n", n, e.cfg.LegacyNamespace)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		cancel()
	}()
	return ctx, cancel
}

func fatal(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
