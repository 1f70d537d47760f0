package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/frauddetect-platform/pkg/events"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.HTTPPort != "8084" {
		t.Errorf("HTTPPort = %s, want 8084", cfg.HTTPPort)
	}
	if cfg.Partitions != 16 {
		t.Errorf("Partitions = %d, want 16", cfg.Partitions)
	}
	if cfg.OracleTimeout != 2*time.Second {
		t.Errorf("OracleTimeout = %v, want 2s", cfg.OracleTimeout)
	}
	if cfg.RedisURL != "" {
		t.Errorf("RedisURL = %s, want empty (checkpointing off by default)", cfg.RedisURL)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PIPELINE_PARTITIONS", "4")
	t.Setenv("ORACLE_TIMEOUT", "500ms")
	t.Setenv("ORACLE_URL", "http://oracle:8080")

	cfg := Load()

	if cfg.Partitions != 4 {
		t.Errorf("Partitions = %d, want 4", cfg.Partitions)
	}
	if cfg.OracleTimeout != 500*time.Millisecond {
		t.Errorf("OracleTimeout = %v, want 500ms", cfg.OracleTimeout)
	}
	if cfg.OracleURL != "http://oracle:8080" {
		t.Errorf("OracleURL = %s", cfg.OracleURL)
	}
}

func TestLoadRoutes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	body := `
routes:
  PRE_TRADE:
    detector_id: custom-pre-trade
    event_type_name: pre_trade
  PAYMENT:
    detector_id: custom-payment
    event_type_name: payment_v2
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	routes, err := LoadRoutes(path)
	if err != nil {
		t.Fatalf("LoadRoutes failed: %v", err)
	}

	if got := routes[events.EventTypePreTrade].DetectorID; got != "custom-pre-trade" {
		t.Errorf("pre-trade detector = %s", got)
	}
	if got := routes[events.EventTypePayment].EventTypeName; got != "payment_v2" {
		t.Errorf("payment event type name = %s", got)
	}
}

func TestLoadRoutesUnsetPathKeepsBuiltins(t *testing.T) {
	routes, err := LoadRoutes("")
	if err != nil {
		t.Fatalf("LoadRoutes failed: %v", err)
	}
	if routes != nil {
		t.Errorf("routes = %v, want nil", routes)
	}
}

func TestLoadRoutesRejectsIncompleteRoute(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	body := `
routes:
  AUTH:
    detector_id: auth-detector
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadRoutes(path); err == nil {
		t.Fatal("expected error for route missing event_type_name")
	}
}

func TestLoadRoutesMissingFile(t *testing.T) {
	if _, err := LoadRoutes("/nonexistent/routes.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
