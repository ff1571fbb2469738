// Package metrics exposes daemon telemetry on a Prometheus listener.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/markus-lassfolk/lteopt/pkg"
	"github.com/markus-lassfolk/lteopt/pkg/logx"
)

// Collector registers and updates the daemon's Prometheus metrics. It
// implements pkg.SampleSink and pkg.DecisionSink so it can be wired into the
// sample and decision streams like any other collaborator.
type Collector struct {
	registry *prometheus.Registry

	rsrp  *prometheus.GaugeVec
	rsrq  *prometheus.GaugeVec
	sinr  *prometheus.GaugeVec
	rssi  *prometheus.GaugeVec
	score *prometheus.GaugeVec

	samplesTotal    prometheus.Counter
	suspectTotal    prometheus.Counter
	pollFailures    prometheus.Counter
	samplerDegraded prometheus.Gauge

	decisionsTotal *prometheus.CounterVec
	switchesTotal  prometheus.Counter
	campaignsTotal prometheus.Counter
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		rsrp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lteopt_signal_rsrp_dbm", Help: "Latest RSRP reading in dBm.",
		}, []string{"band"}),
		rsrq: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lteopt_signal_rsrq_db", Help: "Latest RSRQ reading in dB.",
		}, []string{"band"}),
		sinr: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lteopt_signal_sinr_db", Help: "Latest SINR reading in dB.",
		}, []string{"band"}),
		rssi: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lteopt_signal_rssi_dbm", Help: "Latest RSSI reading in dBm.",
		}, []string{"band"}),
		score: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lteopt_signal_score", Help: "Latest composite quality score (0-1).",
		}, []string{"band"}),
		samplesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "lteopt_samples_total", Help: "Total scored samples collected.",
		}),
		suspectTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "lteopt_suspect_samples_total", Help: "Samples with clamped out-of-range metrics.",
		}),
		pollFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "lteopt_poll_failures_total", Help: "Device polls that produced no sample.",
		}),
		samplerDegraded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lteopt_sampler_degraded", Help: "1 while the sampler is in the degraded state.",
		}),
		decisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lteopt_decisions_total", Help: "Optimization decisions by action.",
		}, []string{"action"}),
		switchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "lteopt_band_switches_total", Help: "Applied band switches.",
		}),
		campaignsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "lteopt_campaigns_total", Help: "Band test campaigns started.",
		}),
	}
}

// RecordSample updates the signal gauges from a scored sample.
func (c *Collector) RecordSample(sample *pkg.ScoredSample) {
	labels := prometheus.Labels{"band": sample.Band}
	c.rsrp.With(labels).Set(sample.RSRP)
	c.rsrq.With(labels).Set(sample.RSRQ)
	c.sinr.With(labels).Set(sample.SINR)
	c.rssi.With(labels).Set(sample.RSSI)
	c.score.With(labels).Set(sample.Score)
	c.samplesTotal.Inc()
	if sample.Suspect {
		c.suspectTotal.Inc()
	}
}

// RecordDecision counts a decision outcome.
func (c *Collector) RecordDecision(decision *pkg.Decision) {
	c.decisionsTotal.With(prometheus.Labels{"action": string(decision.Action)}).Inc()
	if decision.Action == pkg.ActionSwitch {
		c.switchesTotal.Inc()
	}
}

// IncPollFailure counts a device poll that produced no sample.
func (c *Collector) IncPollFailure() { c.pollFailures.Inc() }

// SetDegraded reflects the sampler degraded state.
func (c *Collector) SetDegraded(degraded bool) {
	if degraded {
		c.samplerDegraded.Set(1)
	} else {
		c.samplerDegraded.Set(0)
	}
}

// IncCampaign counts a started band test campaign.
func (c *Collector) IncCampaign() { c.campaignsTotal.Inc() }

// Handler returns the HTTP handler for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve runs the metrics listener until the context is cancelled.
func (c *Collector) Serve(ctx context.Context, port int, logger *logx.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("Metrics listener started", "port", port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
