package config

import (
	"os"
	"strings"
	"testing"
)

// writeTempConfig creates a minimal configuration file required for
// LoadConfig and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

const minimalConfig = `deriflow:
  name: "TestApp"
  version: "1.0"
subscriptions:
  depth: 3
  instruments: ["BTC-PERPETUAL"]
record:
  enabled: false
storage:
  s3:
    enabled: false
`

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t, minimalConfig)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Deriflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Deriflow.Name)
	}
	if cfg.Exchange.WebsocketURL() != "wss://www.deribit.com/ws/api/v2" {
		t.Errorf("unexpected default url: %s", cfg.Exchange.WebsocketURL())
	}
	if cfg.Subscriptions.Group != "none" || cfg.Subscriptions.Interval != "100ms" {
		t.Errorf("subscription defaults not applied: %+v", cfg.Subscriptions)
	}
}

func TestLoadConfigTestNet(t *testing.T) {
	content := strings.Replace(minimalConfig, "subscriptions:", "exchange:\n  test_net: true\nsubscriptions:", 1)
	path := writeTempConfig(t, content)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Exchange.WebsocketURL() != "wss://test.deribit.com/ws/api/v2" {
		t.Errorf("test_net url not selected: %s", cfg.Exchange.WebsocketURL())
	}
}

func TestLoadConfigRejectsUnboundedDepth(t *testing.T) {
	content := strings.Replace(minimalConfig, "depth: 3", "depth: 0", 1)
	path := writeTempConfig(t, content)

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for depth 0")
	}
	if !strings.Contains(err.Error(), "not supported in fixed-depth mode") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadConfigRejectsZeroReconnectMultiplier(t *testing.T) {
	content := strings.Replace(minimalConfig, "subscriptions:", "exchange:\n  reconnect:\n    multiplier: 0\nsubscriptions:", 1)
	path := writeTempConfig(t, content)

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for multiplier 0")
	}
	if !strings.Contains(err.Error(), "multiplier must be at least 1") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadConfigRequiresAuthForPrivateSubscriptions(t *testing.T) {
	content := strings.Replace(minimalConfig, "record:", "  own_orders: true\nrecord:", 1)
	path := writeTempConfig(t, content)

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for private subscriptions without credentials")
	}
}

func TestLoadConfigCredentialsFromEnvironment(t *testing.T) {
	content := strings.Replace(minimalConfig, "record:", "  own_orders: true\nrecord:", 1)
	path := writeTempConfig(t, content)

	t.Setenv("DERIBIT_CLIENT_ID", "id-from-env")
	t.Setenv("DERIBIT_CLIENT_SECRET", "secret-from-env")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Auth.ClientID != "id-from-env" || cfg.Auth.ClientSecret != "secret-from-env" {
		t.Errorf("credentials not taken from environment: %+v", cfg.Auth)
	}
}

func TestLoadConfigRequiresBucketWhenS3Enabled(t *testing.T) {
	path := writeTempConfig(t, `deriflow:
  name: "TestApp"
  version: "1.0"
subscriptions:
  depth: 3
  instruments: ["BTC-PERPETUAL"]
storage:
  s3:
    enabled: true
    region: "eu-west-1"
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for missing bucket")
	}
}
