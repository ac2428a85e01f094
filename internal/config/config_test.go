package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if cfg.Namespace != DefaultNamespace || cfg.LegacyNamespace != DefaultLegacyNamespace {
		t.Fatalf("namespaces not set: %+v", cfg)
	}
	if cfg.Probe.TimeoutMs != DefaultProbeTimeoutMs {
		t.Fatalf("timeout_ms=%d", cfg.Probe.TimeoutMs)
	}
	if cfg.Thresholds.GoodMs != 50 || cfg.Thresholds.WarnMs != 100 {
		t.Fatalf("thresholds=%+v", cfg.Thresholds)
	}
	if cfg.PortRange != "27015-27202" {
		t.Fatalf("port_range=%q", cfg.PortRange)
	}
	if len(cfg.STUNServers) == 0 {
		t.Fatalf("stun servers empty")
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidate_Rejects(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*Config){
		"dash namespace": func(c *Config) { c.Namespace = "Steam-Route" },
		"same legacy":    func(c *Config) { c.LegacyNamespace = c.Namespace },
		"backend":        func(c *Config) { c.Backend = "pf" },
		"port range":     func(c *Config) { c.PortRange = "27015:27202" },
		"port order":     func(c *Config) { c.PortRange = "27202-27015" },
		"timeout":        func(c *Config) { c.Probe.TimeoutMs = -1 },
		"workers":        func(c *Config) { c.Probe.Workers = -2 },
		"thresholds":     func(c *Config) { c.Thresholds.WarnMs = 10 },
		"log level":      func(c *Config) { c.LogLevel = "loud" },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := Validate(cfg); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "srt.yaml")
	data := "namespace: MyTool\nbackend: memory\nprobe:\n  workers: 4\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("SRT_PROBE_TIMEOUT_MS", "250")
	t.Setenv("SRT_BACKEND", "IPTABLES")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Namespace != "MyTool" {
		t.Fatalf("namespace=%q", cfg.Namespace)
	}
	if cfg.Backend != "iptables" {
		t.Fatalf("backend=%q", cfg.Backend)
	}
	if cfg.Probe.Workers != 4 || cfg.Probe.TimeoutMs != 250 {
		t.Fatalf("probe=%+v", cfg.Probe)
	}
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("SRT_PROBE_TIMEOUT_MS", "fast")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSave_Writes0600(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	path := filepath.Join(tmp, "nested", "srt.yaml")
	if err := Save(path, Config{Namespace: "Other"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode=%o", info.Mode().Perm())
	}
}
