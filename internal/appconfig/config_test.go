package appconfig

import "testing"

func TestDefaultConfigSeedsAgentCatalog(t *testing.T) {
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	if cfg.Agents["claude"].Command != "claude" {
		t.Fatalf("expected claude agent default, got %v", cfg.Agents)
	}
	if len(cfg.Auth.SeedUsers) != 0 {
		t.Fatalf("expected no seed users by default, got %d", len(cfg.Auth.SeedUsers))
	}
}
