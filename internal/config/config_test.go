package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.json")
	raw := `{
		"chain": {
			"rpc_endpoints": ["http://seed1.example.org:10332"],
			"network_magic": 860833102,
			"relay_contract": "0x17dfe3fe0a01c1b9b05b0f93e64837e4bd3e7c58",
			"system_fee_fallback": 150000
		},
		"storage": {
			"journal": {"driver": "file", "data_dir": "journal"}
		},
		"assets": {"catalog_path": "assets.yaml"}
	}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected server address: %s", cfg.Server.Address)
	}
	if len(cfg.Chain.RPCEndpoints) != 1 || cfg.Chain.NetworkMagic != 860833102 {
		t.Fatalf("unexpected chain config: %+v", cfg.Chain)
	}
	if cfg.Chain.SystemFeeFallback != 150000 || cfg.Chain.NetworkFeeFallback != 0 {
		t.Fatalf("unexpected fee fallbacks: %+v", cfg.Chain)
	}
	if cfg.Storage.Journal.Driver != "file" {
		t.Fatalf("unexpected journal driver: %s", cfg.Storage.Journal.Driver)
	}
	if want := filepath.Join(dir, "journal"); cfg.Storage.Journal.DataDir != want {
		t.Fatalf("unexpected data dir: got %s want %s", cfg.Storage.Journal.DataDir, want)
	}
	if want := filepath.Join(dir, "assets.yaml"); cfg.Assets.CatalogPath != want {
		t.Fatalf("unexpected catalog path: got %s want %s", cfg.Assets.CatalogPath, want)
	}
	if cfg.Dedup.Driver != "memory" || cfg.Tracker.Queue.Driver != "memory" {
		t.Fatalf("unexpected driver defaults: dedup=%s queue=%s", cfg.Dedup.Driver, cfg.Tracker.Queue.Driver)
	}
	if cfg.Tracker.Workers != 1 || cfg.Tracker.PollIntervalSeconds != 15 ||
		cfg.Tracker.MaxAttempts != 40 || cfg.Tracker.Confirmations != 1 {
		t.Fatalf("unexpected tracker defaults: %+v", cfg.Tracker)
	}
	if cfg.Auth.Mode != "disabled" {
		t.Fatalf("unexpected auth mode: %s", cfg.Auth.Mode)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(path, []byte("{"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
