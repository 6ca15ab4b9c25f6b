package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: " :6000 "
genesis: " genesis.toml "
tls:
  allow_insecure: true
auth:
  hmac_secret: " secret "
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":6000" {
		t.Fatalf("unexpected listen address: %q", cfg.ListenAddress)
	}
	if cfg.Genesis != "genesis.toml" {
		t.Fatalf("unexpected genesis path: %q", cfg.Genesis)
	}
	if cfg.Auth.HMACSecret != "secret" {
		t.Fatalf("expected trimmed secret, got %q", cfg.Auth.HMACSecret)
	}
	if cfg.Storage.Backend != BackendMemory {
		t.Fatalf("expected memory backend by default, got %q", cfg.Storage.Backend)
	}
	if cfg.BlockInterval != 12*time.Second || cfg.MetricsInterval != 30*time.Second {
		t.Fatalf("unexpected intervals: %s %s", cfg.BlockInterval, cfg.MetricsInterval)
	}
}

func TestLoadConfigParsesDurationsAndStorage(t *testing.T) {
	path := writeConfig(t, `
genesis: genesis.toml
block_interval: 2s
tls:
  allow_insecure: true
auth:
  disabled: true
storage:
  backend: BOLT
  path: /var/lib/lendingd/ledger.db
rate_limit:
  requests_per_minute: 120
  burst: 10
log:
  level: debug
  file: /var/log/lendingd.log
  max_size_mb: 50
  max_backups: 3
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.BlockInterval != 2*time.Second {
		t.Fatalf("unexpected block interval %s", cfg.BlockInterval)
	}
	if cfg.Storage.Backend != BackendBolt {
		t.Fatalf("expected lower-cased backend, got %q", cfg.Storage.Backend)
	}
	if cfg.RateLimit.Burst != 10 || cfg.Log.MaxBackups != 3 {
		t.Fatalf("unexpected limits: %+v %+v", cfg.RateLimit, cfg.Log)
	}
}

func TestLoadConfigRequiresSecretUnlessDisabled(t *testing.T) {
	path := writeConfig(t, `
genesis: genesis.toml
tls:
  allow_insecure: true
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error when no hmac secret is configured")
	}
	t.Setenv(EnvHMACSecret, "from-env")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load with env secret: %v", err)
	}
	if cfg.Auth.HMACSecret != "from-env" {
		t.Fatalf("expected env secret, got %q", cfg.Auth.HMACSecret)
	}
}

func TestLoadConfigValidatesTLS(t *testing.T) {
	path := writeConfig(t, `
genesis: genesis.toml
tls:
  cert: "server.crt"
auth:
  hmac_secret: secret
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error when tls key is missing")
	}
}

func TestLoadConfigRequiresTLSMaterialUnlessInsecure(t *testing.T) {
	path := writeConfig(t, `
genesis: genesis.toml
auth:
  hmac_secret: secret
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error when tls material missing without allow_insecure")
	}
}

func TestLoadConfigValidatesStorage(t *testing.T) {
	cases := map[string]string{
		"missing path": `
genesis: genesis.toml
tls: {allow_insecure: true}
auth: {disabled: true}
storage: {backend: leveldb}
`,
		"unknown backend": `
genesis: genesis.toml
tls: {allow_insecure: true}
auth: {disabled: true}
storage: {backend: redis, path: x}
`,
		"unknown field": `
genesis: genesis.toml
tls: {allow_insecure: true}
auth: {disabled: true}
storge: {backend: memory}
`,
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, contents)); err == nil {
				t.Fatalf("expected %s to fail", name)
			}
		})
	}
}

func TestLoadConfigRequiresGenesis(t *testing.T) {
	path := writeConfig(t, `
tls: {allow_insecure: true}
auth: {disabled: true}
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error when genesis is missing")
	}
}
