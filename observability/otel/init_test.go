package otel

import (
	"context"
	"testing"
)

func TestFromEnvDisabledWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("MM_ENV", "dev")
	cfg := FromEnv("lendingd")
	if cfg.Traces || cfg.Metrics {
		t.Fatalf("expected exporters disabled, got %+v", cfg)
	}
	if cfg.Environment != "dev" {
		t.Fatalf("unexpected environment %q", cfg.Environment)
	}
	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestFromEnvParsesHeaders(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "api-key=abc, tenant = mm ,broken")
	cfg := FromEnv("liquidator")
	if !cfg.Traces || !cfg.Metrics || !cfg.Insecure {
		t.Fatalf("expected exporters enabled, got %+v", cfg)
	}
	if cfg.Headers["api-key"] != "abc" || cfg.Headers["tenant"] != "mm" || len(cfg.Headers) != 2 {
		t.Fatalf("unexpected headers %v", cfg.Headers)
	}
}

func TestInitRequiresServiceName(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without service name")
	}
}

func TestInitRequiresEndpointForExporters(t *testing.T) {
	if _, err := Init(context.Background(), Config{ServiceName: "lendingd", Traces: true}); err == nil {
		t.Fatalf("expected error when exporters are enabled without an endpoint")
	}
}
