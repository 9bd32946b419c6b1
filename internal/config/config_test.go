package config_test

import (
	"strings"
	"testing"

	"planifica/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Thresholds.Critical != 50 || cfg.Thresholds.Alert != 75 {
		t.Fatalf("thresholds = %+v", cfg.Thresholds)
	}
	if cfg.TrendMonths() != 6 {
		t.Fatalf("trend months = %d, want 6", cfg.TrendMonths())
	}
}

func TestTerritoryLookup(t *testing.T) {
	cfg := config.Default()
	if got := cfg.TerritoryFor("San Pedro Necta"); got != "norte" {
		t.Fatalf("territory = %s, want norte", got)
	}
	if got := cfg.TerritoryFor("Quetzaltenango"); got != "" {
		t.Fatalf("unknown community territory = %s, want empty", got)
	}
	communities := cfg.Communities()
	if len(communities) != 4 {
		t.Fatalf("communities = %v", communities)
	}
	// stable order across calls
	again := cfg.Communities()
	for i := range communities {
		if communities[i] != again[i] {
			t.Fatalf("order not stable: %v vs %v", communities, again)
		}
	}
}

func TestValidateRejectsCrossedThresholds(t *testing.T) {
	_, err := config.FromYAML([]byte(`
municipality:
  id: m1
thresholds:
  critical: 80
  alert: 75
`))
	if err == nil || !strings.Contains(err.Error(), "critical") {
		t.Fatalf("want crossed thresholds error, got %v", err)
	}
}

func TestValidateRejectsCommunityInTwoTerritories(t *testing.T) {
	_, err := config.FromYAML([]byte(`
municipality:
  id: m1
territories:
  norte: ["Aldea Centro"]
  sur: ["Aldea Centro"]
`))
	if err == nil || !strings.Contains(err.Error(), "assigned to both") {
		t.Fatalf("want duplicate community error, got %v", err)
	}
}

func TestValidateRejectsEmptySyncURL(t *testing.T) {
	_, err := config.FromYAML([]byte(`
municipality:
  id: m1
sync:
  targets:
    - url: ""
`))
	if err == nil || !strings.Contains(err.Error(), "empty url") {
		t.Fatalf("want sync url error, got %v", err)
	}
}
