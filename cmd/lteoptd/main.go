// lteoptd is the LTE band optimization daemon. It samples signal quality
// from a Huawei HiLink router, evaluates it on a schedule and switches band
// configuration when a sustained degradation has a better alternative.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/markus-lassfolk/lteopt/pkg"
	"github.com/markus-lassfolk/lteopt/pkg/audit"
	"github.com/markus-lassfolk/lteopt/pkg/bandtest"
	"github.com/markus-lassfolk/lteopt/pkg/config"
	"github.com/markus-lassfolk/lteopt/pkg/decision"
	"github.com/markus-lassfolk/lteopt/pkg/logx"
	"github.com/markus-lassfolk/lteopt/pkg/metrics"
	"github.com/markus-lassfolk/lteopt/pkg/mqtt"
	"github.com/markus-lassfolk/lteopt/pkg/pidfile"
	"github.com/markus-lassfolk/lteopt/pkg/router"
	"github.com/markus-lassfolk/lteopt/pkg/sampler"
	"github.com/markus-lassfolk/lteopt/pkg/sched"
	"github.com/markus-lassfolk/lteopt/pkg/scoring"
	"github.com/markus-lassfolk/lteopt/pkg/store"
	"github.com/markus-lassfolk/lteopt/pkg/telem"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

const (
	defaultPIDFile   = "/var/run/lteoptd.pid"
	heartbeatFile    = "/var/run/lteoptd.heartbeat"
	heartbeatPeriod  = time.Minute
	pruneCheckPeriod = time.Hour
)

func main() {
	var (
		envFile     = flag.String("config", "", "path to .env configuration file")
		pidPath     = flag.String("pidfile", defaultPIDFile, "path to PID file")
		logLevel    = flag.String("log-level", "", "override log level (debug, info, warn, error)")
		validate    = flag.Bool("validate", false, "validate configuration and exit")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("lteoptd %s (built %s)\n", version, buildTime)
		return
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *validate {
		fmt.Println("configuration OK")
		return
	}

	logger := logx.NewLogger(cfg.LogLevel, "lteoptd")
	logger.Info("Starting lteoptd", "version", version, "router", cfg.RouterIP,
		"poll_interval", cfg.PollInterval(), "candidates", len(cfg.CandidateBands))

	pid := pidfile.New(*pidPath)
	if err := pid.Create(); err != nil {
		logger.Error("Failed to create PID file", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			logger.Warn("Failed to remove PID file", "error", err)
		}
	}()

	if err := run(cfg, logger); err != nil && err != context.Canceled {
		logger.Error("Daemon exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("lteoptd stopped")
}

func run(cfg *config.Config, logger *logx.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Device client.
	device, err := router.NewClient(cfg.RouterIP, cfg.RouterUsername, cfg.RouterPassword,
		time.Duration(cfg.DeviceTimeoutS)*time.Second, logger.WithComponent("router"))
	if err != nil {
		return fmt.Errorf("failed to create router client: %w", err)
	}
	if err := device.Login(ctx); err != nil {
		// A dead router at startup is not fatal; the sampler retries and
		// the client re-authenticates on demand.
		logger.Warn("Initial router login failed, will retry", "error", err)
	}

	// Telemetry and sinks.
	telemetry := telem.NewStore(500, 500)
	prom := metrics.NewCollector()
	auditLog := audit.NewDecisionLogger(logger.WithComponent("audit"), 1000, cfg.AuditDir)

	var sampleSinks []pkg.SampleSink
	var decisionSinks []pkg.DecisionSink
	decisionSinks = append(decisionSinks, auditLog, prom)

	metricsDB, err := store.OpenMetricsDB(cfg.MetricsDBPath, logger.WithComponent("store"))
	if err != nil {
		logger.Warn("Metrics archive unavailable, continuing without it", "error", err)
	} else {
		defer metricsDB.Close()
		sampleSinks = append(sampleSinks, metricsDB)
	}

	var campaignStore bandtest.ResultStore
	cs, err := store.OpenCampaignStore(cfg.CampaignDBPath, logger.WithComponent("store"))
	if err != nil {
		logger.Warn("Campaign store unavailable, continuing without it", "error", err)
	} else {
		defer cs.Close()
		campaignStore = cs
	}

	mqttClient := mqtt.NewClient(&mqtt.Config{
		Broker:      cfg.MQTTBroker,
		Port:        cfg.MQTTPort,
		ClientID:    "lteoptd",
		Username:    cfg.MQTTUsername,
		Password:    cfg.MQTTPassword,
		TopicPrefix: cfg.MQTTTopicPrefix,
		QoS:         1,
		Enabled:     cfg.MQTTEnabled,
	}, logger.WithComponent("mqtt"))
	if err := mqttClient.Connect(); err != nil {
		logger.Warn("MQTT unavailable, continuing without it", "error", err)
	} else if cfg.MQTTEnabled {
		defer mqttClient.Disconnect()
		sampleSinks = append(sampleSinks, mqttClient)
		decisionSinks = append(decisionSinks, mqttClient)
	}
	telemetry.SetEventCallback(mqttClient.PublishEvent)

	// Core pipeline.
	engine := scoring.NewEngine(scoring.Weights{
		RSRP: cfg.WeightRSRP, RSRQ: cfg.WeightRSRQ,
		SINR: cfg.WeightSINR, RSSI: cfg.WeightRSSI,
	}, scoring.Weights{
		RSRP: cfg.PeakWeightRSRP, RSRQ: cfg.PeakWeightRSRQ,
		SINR: cfg.PeakWeightSINR, RSSI: cfg.PeakWeightRSSI,
	})

	smp, err := sampler.New(device, engine, sampler.Config{
		Interval:        cfg.PollInterval(),
		HistoryCapacity: cfg.EffectiveHistoryCapacity(),
	}, logger.WithComponent("sampler"), telemetry, prom, sampleSinks...)
	if err != nil {
		return fmt.Errorf("failed to create sampler: %w", err)
	}

	tester := bandtest.New(device, smp, engine, bandtest.Config{
		SettleDelay:    time.Duration(cfg.SettleDelayS) * time.Second,
		SampleInterval: cfg.PollInterval(),
	}, logger.WithComponent("bandtest"), telemetry, prom, campaignStore)

	controller := decision.New(decision.Config{
		AutoSwitchThreshold: cfg.AutoSwitchThreshold,
		NoiseMargin:         cfg.NoiseMargin,
		Cooldown:            time.Duration(cfg.CooldownS) * time.Second,
		EvalWindow:          time.Duration(cfg.EvalWindowS) * time.Second,
		MinWindowSamples:    cfg.MinWindowSamples,
		CandidateBands:      cfg.CandidateBands,
		BandTestDuration:    time.Duration(cfg.BandTestS) * time.Second,
		PeakWindows:         cfg.ParsedPeakWindows(),
	}, engine, smp, tester, device, logger.WithComponent("decision"), telemetry, decisionSinks...)

	scheduler := sched.New(controller, cfg.ParsedScheduleWindows(), logger.WithComponent("sched"))

	// Background loops.
	errCh := make(chan error, 3)
	go func() { errCh <- smp.Run(ctx) }()
	go func() { errCh <- scheduler.Run(ctx) }()
	if cfg.MetricsListener {
		go func() { errCh <- prom.Serve(ctx, cfg.MetricsPort, logger.WithComponent("metrics")) }()
	}

	heartbeat := time.NewTicker(heartbeatPeriod)
	defer heartbeat.Stop()
	prune := time.NewTicker(pruneCheckPeriod)
	defer prune.Stop()

	logger.Info("lteoptd running")
	for {
		select {
		case sig := <-sigCh:
			logger.Info("Signal received, shutting down", "signal", sig.String())
			cancel()
			return nil
		case err := <-errCh:
			if err != nil && err != context.Canceled {
				cancel()
				return err
			}
		case <-heartbeat.C:
			writeHeartbeat(logger)
		case <-prune.C:
			retention := time.Duration(cfg.RetentionHours) * time.Hour
			if metricsDB != nil {
				if _, err := metricsDB.Prune(retention); err != nil {
					logger.Warn("Failed to prune metrics archive", "error", err)
				}
			}
			if cs != nil {
				if _, err := cs.Prune(retention); err != nil {
					logger.Warn("Failed to prune campaign store", "error", err)
				}
			}
		}
	}
}

// writeHeartbeat touches the heartbeat file so external watchdogs can tell a
// live daemon from a hung one.
func writeHeartbeat(logger *logx.Logger) {
	content := fmt.Sprintf("%d %s\n", os.Getpid(), time.Now().Format(time.RFC3339))
	if err := os.WriteFile(heartbeatFile, []byte(content), 0o644); err != nil {
		logger.Debug("Failed to write heartbeat file", "error", err)
	}
}
