// Package config loads and validates the daemon configuration. All values are
// static for a run; changing them requires a restart.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/markus-lassfolk/lteopt/pkg"
)

// Config represents the lteopt daemon configuration.
type Config struct {
	// Device connection
	RouterIP       string `json:"router_ip"`
	RouterUsername string `json:"router_username"`
	RouterPassword string `json:"router_password"`
	DeviceTimeoutS int    `json:"device_timeout_s"`

	// Sampling
	PollIntervalS   int `json:"poll_interval_s"`
	HistoryCapacity int `json:"history_capacity"` // 0 = sized for 24h at the poll interval

	// Band testing
	CandidateBands   []string `json:"candidate_bands"`
	BandTestS        int      `json:"band_test_s"`
	SettleDelayS     int      `json:"settle_delay_s"`
	CampaignCooldown int      `json:"campaign_cooldown_s"`

	// Optimization
	AutoSwitchThreshold float64 `json:"auto_switch_threshold"`
	NoiseMargin         float64 `json:"noise_margin"`
	CooldownS           int     `json:"cooldown_s"`
	EvalWindowS         int     `json:"eval_window_s"`
	MinWindowSamples    int     `json:"min_window_samples"`

	// Scoring weight profiles
	WeightRSRP     float64 `json:"weight_rsrp"`
	WeightRSRQ     float64 `json:"weight_rsrq"`
	WeightSINR     float64 `json:"weight_sinr"`
	WeightRSSI     float64 `json:"weight_rssi"`
	PeakWeightRSRP float64 `json:"peak_weight_rsrp"`
	PeakWeightRSRQ float64 `json:"peak_weight_rsrq"`
	PeakWeightSINR float64 `json:"peak_weight_sinr"`
	PeakWeightRSSI float64 `json:"peak_weight_rssi"`

	// Scheduling. Windows are "HH:MM-HH:MM"; peak windows double as the
	// peak-hour context for scoring.
	PeakWindows     []string `json:"peak_windows"`
	ScheduleWindows []string `json:"schedule_windows"`

	// Persistence / reporting
	MetricsDBPath  string `json:"metrics_db_path"`
	CampaignDBPath string `json:"campaign_db_path"`
	AuditDir       string `json:"audit_dir"`
	RetentionHours int    `json:"retention_hours"`

	// Telemetry publish
	MQTTEnabled     bool   `json:"mqtt_enabled"`
	MQTTBroker      string `json:"mqtt_broker"`
	MQTTPort        int    `json:"mqtt_port"`
	MQTTTopicPrefix string `json:"mqtt_topic_prefix"`
	MQTTUsername    string `json:"mqtt_username"`
	MQTTPassword    string `json:"mqtt_password"`

	// Observability
	MetricsListener bool   `json:"metrics_listener"`
	MetricsPort     int    `json:"metrics_port"`
	LogLevel        string `json:"log_level"`
}

// Default returns the built-in configuration, matching the device defaults.
func Default() *Config {
	return &Config{
		RouterIP:       "192.168.8.1",
		RouterUsername: "admin",
		RouterPassword: "admin",
		DeviceTimeoutS: 10,

		PollIntervalS:   30,
		HistoryCapacity: 0,

		CandidateBands:   []string{"B1", "B3", "B7", "B8", "B20", "B28", "B38", "B40"},
		BandTestS:        300,
		SettleDelayS:     10,
		CampaignCooldown: 3600,

		AutoSwitchThreshold: 0.8,
		NoiseMargin:         0.05,
		CooldownS:           900,
		EvalWindowS:         300,
		MinWindowSamples:    5,

		WeightRSRP:     0.35,
		WeightRSRQ:     0.25,
		WeightSINR:     0.30,
		WeightRSSI:     0.10,
		PeakWeightRSRP: 0.40,
		PeakWeightRSRQ: 0.35,
		PeakWeightSINR: 0.15,
		PeakWeightRSSI: 0.10,

		PeakWindows:     []string{"07:00-09:00", "17:00-19:00"},
		ScheduleWindows: []string{"07:00-09:00", "10:00-10:05", "17:00-19:00", "20:00-20:05"},

		MetricsDBPath:  "/var/lib/lteopt/metrics.db",
		CampaignDBPath: "/var/lib/lteopt/campaigns.db",
		AuditDir:       "/var/log/lteopt",
		RetentionHours: 72,

		MQTTEnabled:     false,
		MQTTBroker:      "localhost",
		MQTTPort:        1883,
		MQTTTopicPrefix: "lteopt",

		MetricsListener: true,
		MetricsPort:     9710,
		LogLevel:        "info",
	}
}

// Load builds the configuration from defaults, an optional .env file and the
// process environment. envFile may be empty.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		// A missing env file is fine; explicit values come from the environment.
		_ = godotenv.Load(envFile)
	} else {
		_ = godotenv.Load()
	}

	cfg := Default()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from LTEOPT_* environment variables. The legacy
// ROUTER_IP/ROUTER_USERNAME/ROUTER_PASSWORD names are honored as well.
func (c *Config) applyEnv() {
	envString(&c.RouterIP, "LTEOPT_ROUTER_IP", "ROUTER_IP")
	envString(&c.RouterUsername, "LTEOPT_ROUTER_USERNAME", "ROUTER_USERNAME")
	envString(&c.RouterPassword, "LTEOPT_ROUTER_PASSWORD", "ROUTER_PASSWORD")
	envInt(&c.DeviceTimeoutS, "LTEOPT_DEVICE_TIMEOUT_S")

	envInt(&c.PollIntervalS, "LTEOPT_POLL_INTERVAL_S")
	envInt(&c.HistoryCapacity, "LTEOPT_HISTORY_CAPACITY")

	envStringList(&c.CandidateBands, "LTEOPT_CANDIDATE_BANDS")
	envInt(&c.BandTestS, "LTEOPT_BAND_TEST_S")
	envInt(&c.SettleDelayS, "LTEOPT_SETTLE_DELAY_S")

	envFloat(&c.AutoSwitchThreshold, "LTEOPT_AUTO_SWITCH_THRESHOLD")
	envFloat(&c.NoiseMargin, "LTEOPT_NOISE_MARGIN")
	envInt(&c.CooldownS, "LTEOPT_COOLDOWN_S")
	envInt(&c.EvalWindowS, "LTEOPT_EVAL_WINDOW_S")
	envInt(&c.MinWindowSamples, "LTEOPT_MIN_WINDOW_SAMPLES")

	envStringList(&c.PeakWindows, "LTEOPT_PEAK_WINDOWS")
	envStringList(&c.ScheduleWindows, "LTEOPT_SCHEDULE_WINDOWS")

	envString(&c.MetricsDBPath, "LTEOPT_METRICS_DB")
	envString(&c.CampaignDBPath, "LTEOPT_CAMPAIGN_DB")
	envString(&c.AuditDir, "LTEOPT_AUDIT_DIR")
	envInt(&c.RetentionHours, "LTEOPT_RETENTION_HOURS")

	envBool(&c.MQTTEnabled, "LTEOPT_MQTT_ENABLED")
	envString(&c.MQTTBroker, "LTEOPT_MQTT_BROKER")
	envInt(&c.MQTTPort, "LTEOPT_MQTT_PORT")
	envString(&c.MQTTTopicPrefix, "LTEOPT_MQTT_TOPIC_PREFIX")
	envString(&c.MQTTUsername, "LTEOPT_MQTT_USERNAME")
	envString(&c.MQTTPassword, "LTEOPT_MQTT_PASSWORD")

	envBool(&c.MetricsListener, "LTEOPT_METRICS_LISTENER")
	envInt(&c.MetricsPort, "LTEOPT_METRICS_PORT")
	envString(&c.LogLevel, "LTEOPT_LOG_LEVEL")
}

// Validate checks value ranges and the candidate band set.
func (c *Config) Validate() error {
	if c.RouterIP == "" {
		return fmt.Errorf("router_ip must not be empty")
	}
	if c.PollIntervalS < 5 || c.PollIntervalS > 3600 {
		return fmt.Errorf("poll_interval_s must be between 5 and 3600, got %d", c.PollIntervalS)
	}
	if c.BandTestS < c.PollIntervalS {
		return fmt.Errorf("band_test_s (%d) must be at least one poll interval (%d)", c.BandTestS, c.PollIntervalS)
	}
	if c.AutoSwitchThreshold <= 0 || c.AutoSwitchThreshold >= 1 {
		return fmt.Errorf("auto_switch_threshold must be in (0,1), got %g", c.AutoSwitchThreshold)
	}
	if c.NoiseMargin < 0 || c.NoiseMargin > 0.5 {
		return fmt.Errorf("noise_margin must be in [0,0.5], got %g", c.NoiseMargin)
	}
	if c.MinWindowSamples < 1 {
		return fmt.Errorf("min_window_samples must be positive, got %d", c.MinWindowSamples)
	}
	if len(c.CandidateBands) == 0 {
		return fmt.Errorf("candidate_bands must not be empty")
	}
	for _, band := range c.CandidateBands {
		if !pkg.IsKnownBand(band) {
			return fmt.Errorf("unknown candidate band %q", band)
		}
	}
	for _, w := range append(append([]string{}, c.PeakWindows...), c.ScheduleWindows...) {
		if _, _, err := ParseWindow(w); err != nil {
			return fmt.Errorf("invalid time window %q: %w", w, err)
		}
	}
	sum := c.WeightRSRP + c.WeightRSRQ + c.WeightSINR + c.WeightRSSI
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("scoring weights must sum to 1.0, got %g", sum)
	}
	return nil
}

// PollInterval returns the sampling interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalS) * time.Second
}

// EffectiveHistoryCapacity returns the configured history capacity, or the
// default of 24 hours worth of samples at the poll interval.
func (c *Config) EffectiveHistoryCapacity() int {
	if c.HistoryCapacity > 0 {
		return c.HistoryCapacity
	}
	return int((24 * time.Hour) / c.PollInterval())
}

// ParsedPeakWindows returns the peak windows as TimeWindow values. Config is
// validated at load time, so parse errors are skipped here.
func (c *Config) ParsedPeakWindows() []pkg.TimeWindow {
	return parseWindows(c.PeakWindows)
}

// ParsedScheduleWindows returns the scheduler windows as TimeWindow values.
func (c *Config) ParsedScheduleWindows() []pkg.TimeWindow {
	return parseWindows(c.ScheduleWindows)
}

func parseWindows(specs []string) []pkg.TimeWindow {
	out := make([]pkg.TimeWindow, 0, len(specs))
	for _, spec := range specs {
		start, end, err := ParseWindow(spec)
		if err != nil {
			continue
		}
		out = append(out, pkg.TimeWindow{StartMin: start, EndMin: end})
	}
	return out
}

// ParseWindow parses "HH:MM-HH:MM" into start and end minutes of day. The end
// minute is exclusive.
func ParseWindow(window string) (startMin, endMin int, err error) {
	parts := strings.SplitN(window, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected HH:MM-HH:MM")
	}
	start, err := parseHHMM(parts[0])
	if err != nil {
		return 0, 0, err
	}
	end, err := parseHHMM(parts[1])
	if err != nil {
		return 0, 0, err
	}
	if end <= start {
		return 0, 0, fmt.Errorf("window end must be after start")
	}
	return start, end, nil
}

func parseHHMM(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func envString(dst *string, names ...string) {
	for _, name := range names {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
			return
		}
	}
}

func envInt(dst *int, name string) {
	if v, ok := os.LookupEnv(name); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func envFloat(dst *float64, name string) {
	if v, ok := os.LookupEnv(name); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			*dst = f
		}
	}
}

func envBool(dst *bool, name string) {
	if v, ok := os.LookupEnv(name); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}

func envStringList(dst *[]string, name string) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		var out []string
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
	}
}
