// Package metrics exposes decoding counters and latencies to Prometheus.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	utterancesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gostt",
			Subsystem: "stream",
			Name:      "utterances_total",
			Help:      "The total number of decoded utterances.",
		},
		[]string{"status"}, // ok, error
	)
	endpointsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gostt",
			Subsystem: "stream",
			Name:      "endpoints_total",
			Help:      "The total number of endpoints detected in continuous decoding.",
		},
	)
	chunkDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "gostt",
			Subsystem: "stream",
			Name:      "chunk_decode_duration_seconds",
			Help:      "Time taken to decode one feature chunk.",
			Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)
	rescoreDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "gostt",
			Subsystem: "stream",
			Name:      "rescore_duration_seconds",
			Help:      "Time taken to finalize and rescore an utterance.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)
	audioSeconds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gostt",
			Subsystem: "stream",
			Name:      "audio_seconds_total",
			Help:      "The total duration of audio decoded.",
		},
	)
	realTimeFactor = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "gostt",
			Subsystem: "stream",
			Name:      "real_time_factor",
			Help:      "Decode time divided by audio duration, per utterance.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gostt",
			Subsystem: "stream",
			Name:      "active_sessions",
			Help:      "Number of decode sessions currently running.",
		},
	)
)

func init() {
	prometheus.MustRegister(utterancesTotal)
	prometheus.MustRegister(endpointsTotal)
	prometheus.MustRegister(chunkDuration)
	prometheus.MustRegister(rescoreDuration)
	prometheus.MustRegister(audioSeconds)
	prometheus.MustRegister(realTimeFactor)
	prometheus.MustRegister(activeSessions)
}

// RecordUtterance counts a finished utterance with its status.
func RecordUtterance(status string) {
	utterancesTotal.WithLabelValues(status).Inc()
}

// RecordEndpoint counts a detected endpoint.
func RecordEndpoint() {
	endpointsTotal.Inc()
}

// RecordChunk records how long one chunk took to decode.
func RecordChunk(d time.Duration) {
	chunkDuration.Observe(d.Seconds())
}

// RecordRescore records how long finalization and rescoring took.
func RecordRescore(d time.Duration) {
	rescoreDuration.Observe(d.Seconds())
}

// RecordAudio adds decoded audio and the real-time factor of decoding it.
func RecordAudio(audio, decode time.Duration) {
	audioSeconds.Add(audio.Seconds())
	if audio > 0 {
		realTimeFactor.Observe(decode.Seconds() / audio.Seconds())
	}
}

// SessionStarted and SessionEnded track running sessions.
func SessionStarted() { activeSessions.Inc() }

func SessionEnded() { activeSessions.Dec() }

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
