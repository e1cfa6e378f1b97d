package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.Addr)
	}
	if cfg.StoreTimeout != 5*time.Second {
		t.Fatalf("unexpected store timeout %s", cfg.StoreTimeout)
	}
	if cfg.QuotaRegister.MaxRequests != 3 || cfg.QuotaRegister.Window != time.Hour {
		t.Fatalf("unexpected register quota %v", cfg.QuotaRegister)
	}
	if cfg.MaxActivePasses != 3 {
		t.Fatalf("unexpected pass limit %d", cfg.MaxActivePasses)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GATEPASS_ADDR", ":9090")
	t.Setenv("GATEPASS_QUOTA_SEARCH", "5/30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Fatalf("unexpected addr %q", cfg.Addr)
	}
	if cfg.QuotaSearch.MaxRequests != 5 || cfg.QuotaSearch.Window != 30*time.Second {
		t.Fatalf("unexpected search quota %v", cfg.QuotaSearch)
	}
}

func TestQuotaUnmarshalRejectsGarbage(t *testing.T) {
	var q Quota
	for _, raw := range []string{"", "3", "0/1m", "-1/1m", "3/0s", "3/bananas"} {
		if err := q.UnmarshalText([]byte(raw)); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}
