package config

import (
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration must validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty router ip", func(c *Config) { c.RouterIP = "" }},
		{"poll interval too short", func(c *Config) { c.PollIntervalS = 1 }},
		{"band test shorter than poll", func(c *Config) { c.BandTestS = 5 }},
		{"threshold at one", func(c *Config) { c.AutoSwitchThreshold = 1.0 }},
		{"threshold at zero", func(c *Config) { c.AutoSwitchThreshold = 0 }},
		{"negative noise margin", func(c *Config) { c.NoiseMargin = -0.1 }},
		{"zero window samples", func(c *Config) { c.MinWindowSamples = 0 }},
		{"no candidate bands", func(c *Config) { c.CandidateBands = nil }},
		{"unknown band", func(c *Config) { c.CandidateBands = []string{"B99"} }},
		{"malformed window", func(c *Config) { c.PeakWindows = []string{"7am-9am"} }},
		{"inverted window", func(c *Config) { c.ScheduleWindows = []string{"19:00-17:00"} }},
		{"weights not normalized", func(c *Config) { c.WeightRSRP = 0.9 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation to fail")
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LTEOPT_ROUTER_IP", "10.0.0.1")
	t.Setenv("LTEOPT_POLL_INTERVAL_S", "60")
	t.Setenv("LTEOPT_CANDIDATE_BANDS", "B1, B7,B20")
	t.Setenv("LTEOPT_AUTO_SWITCH_THRESHOLD", "0.7")
	t.Setenv("LTEOPT_MQTT_ENABLED", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.RouterIP != "10.0.0.1" {
		t.Errorf("router ip override not applied: %s", cfg.RouterIP)
	}
	if cfg.PollIntervalS != 60 {
		t.Errorf("poll interval override not applied: %d", cfg.PollIntervalS)
	}
	if len(cfg.CandidateBands) != 3 || cfg.CandidateBands[1] != "B7" {
		t.Errorf("candidate bands override not applied: %v", cfg.CandidateBands)
	}
	if cfg.AutoSwitchThreshold != 0.7 {
		t.Errorf("threshold override not applied: %g", cfg.AutoSwitchThreshold)
	}
	if !cfg.MQTTEnabled {
		t.Error("mqtt enable override not applied")
	}
}

func TestLegacyEnvNames(t *testing.T) {
	t.Setenv("ROUTER_IP", "192.168.1.1")
	t.Setenv("ROUTER_USERNAME", "operator")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.RouterIP != "192.168.1.1" {
		t.Errorf("legacy ROUTER_IP not honored: %s", cfg.RouterIP)
	}
	if cfg.RouterUsername != "operator" {
		t.Errorf("legacy ROUTER_USERNAME not honored: %s", cfg.RouterUsername)
	}
}

func TestParseWindow(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		start, end, err := ParseWindow("07:00-09:30")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if start != 7*60 || end != 9*60+30 {
			t.Errorf("unexpected minutes: %d-%d", start, end)
		}
	})

	t.Run("invalid formats", func(t *testing.T) {
		for _, bad := range []string{"", "07:00", "7-9", "07:00-07:00", "09:00-07:00", "25:00-26:00"} {
			if _, _, err := ParseWindow(bad); err == nil {
				t.Errorf("expected error for %q", bad)
			}
		}
	})
}

func TestEffectiveHistoryCapacity(t *testing.T) {
	cfg := Default()

	t.Run("derived from interval", func(t *testing.T) {
		cfg.PollIntervalS = 30
		cfg.HistoryCapacity = 0
		want := int((24 * time.Hour) / (30 * time.Second))
		if got := cfg.EffectiveHistoryCapacity(); got != want {
			t.Errorf("expected %d, got %d", want, got)
		}
	})

	t.Run("explicit override", func(t *testing.T) {
		cfg.HistoryCapacity = 500
		if got := cfg.EffectiveHistoryCapacity(); got != 500 {
			t.Errorf("expected 500, got %d", got)
		}
	})
}

func TestParsedWindows(t *testing.T) {
	cfg := Default()
	peak := cfg.ParsedPeakWindows()
	if len(peak) != 2 {
		t.Fatalf("expected 2 default peak windows, got %d", len(peak))
	}
	if peak[0].StartMin != 7*60 || peak[0].EndMin != 9*60 {
		t.Errorf("unexpected first peak window: %+v", peak[0])
	}

	sched := cfg.ParsedScheduleWindows()
	if len(sched) != 4 {
		t.Errorf("expected 4 default schedule windows, got %d", len(sched))
	}
}
