package config

import "testing"

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Swim.Period != "1s" {
		t.Errorf("Swim.Period = %q, want %q", cfg.Swim.Period, "1s")
	}
	if cfg.Swim.SubgroupSize != 2 {
		t.Errorf("Swim.SubgroupSize = %d, want 2", cfg.Swim.SubgroupSize)
	}
	if cfg.API.Port != 7947 {
		t.Errorf("API.Port = %d, want 7947", cfg.API.Port)
	}
	if !cfg.API.EnableMetrics {
		t.Error("API.EnableMetrics should default to true")
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/swimd.toml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Swim.Period != DefaultConfig().Swim.Period {
		t.Errorf("missing file should yield defaults, got %+v", cfg)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := DefaultConfig()
	if cfg.Swim != want.Swim || cfg.API != want.API || cfg.Store != want.Store {
		t.Errorf("empty path should yield defaults exactly, got %+v", cfg)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in  string
		def string
	}{
		{"500ms", "1s"},
		{"", "1s"},
		{"not-a-duration", "1s"},
	}
	for _, tt := range tests {
		def := ParseDuration(tt.def, 0)
		got := ParseDuration(tt.in, def)
		if tt.in == "" || tt.in == "not-a-duration" {
			if got != def {
				t.Errorf("ParseDuration(%q, %v) = %v, want fallback %v", tt.in, def, got, def)
			}
		}
	}
}
