package config

import (
	"strings"
	"testing"
	"time"
)

func setBaseline(t *testing.T) {
	t.Helper()
	t.Setenv("OUTBOUND_FROM_ADDR", "advice@ops.example")
	t.Setenv("STORE_BASE_ID", "appBase")
	t.Setenv("STORE_API_KEY", "key")
}

func TestLoadDefaults(t *testing.T) {
	setBaseline(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Install.Prefix != "ARG" {
		t.Errorf("prefix = %q", cfg.Install.Prefix)
	}
	if cfg.Store.Backend != "airtable" || cfg.Store.WriteQPS != 5 {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Dedup.Backend != "memory" || cfg.Dedup.TTL() != 168*time.Hour {
		t.Errorf("dedup = %+v", cfg.Dedup)
	}
	if cfg.Request.Deadline() != 120*time.Second {
		t.Errorf("request deadline = %v", cfg.Request.Deadline())
	}
	if cfg.Ack.MarkerPhrase != DefaultMarkerPhrase {
		t.Errorf("marker = %q", cfg.Ack.MarkerPhrase)
	}
	if cfg.Install.Location() == nil {
		t.Error("location not loaded")
	}
}

func TestLoadRequiresOutboundAddr(t *testing.T) {
	t.Setenv("OUTBOUND_FROM_ADDR", "")
	t.Setenv("STORE_BASE_ID", "appBase")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing outbound address")
	}
}

func TestLoadRejectsBadPrefix(t *testing.T) {
	for _, prefix := range []string{"", "arg", "TOOLONGPREFIX", "AR1"} {
		setBaseline(t)
		t.Setenv("INSTALL_PREFIX", prefix)
		if _, err := Load(); err == nil {
			t.Errorf("prefix %q accepted, want error", prefix)
		}
	}
}

func TestLoadRejectsUnknownTimezone(t *testing.T) {
	setBaseline(t)
	t.Setenv("INSTALL_TIMEZONE", "Nowhere/Invalid")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid timezone")
	}
}

func TestLoadRejectsUnknownReservedKey(t *testing.T) {
	setBaseline(t)
	t.Setenv("STORE_FLUX_CAPACITOR", "on")
	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "STORE_FLUX_CAPACITOR") {
		t.Fatalf("err = %v, want unrecognized key rejection", err)
	}
}

func TestLoadIgnoresForeignKeys(t *testing.T) {
	setBaseline(t)
	t.Setenv("SOME_OTHER_TOOL_SETTING", "whatever")
	if _, err := Load(); err != nil {
		t.Fatalf("foreign key rejected: %v", err)
	}
}

func TestLoadPostgresBackendRequiresDSN(t *testing.T) {
	setBaseline(t)
	t.Setenv("STORE_BACKEND", "postgres")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for postgres backend without DSN")
	}

	t.Setenv("POSTGRES_DSN", "postgres://localhost/mailroom")
	if _, err := Load(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadRejectsUnknownBackends(t *testing.T) {
	setBaseline(t)
	t.Setenv("STORE_BACKEND", "spreadsheet")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown store backend")
	}

	setBaseline(t)
	t.Setenv("STORE_BACKEND", "airtable")
	t.Setenv("DEDUP_BACKEND", "dynamo")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown dedup backend")
	}
}
