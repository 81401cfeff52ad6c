package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frameup_jobs_processed_total",
		Help: "Total number of jobs processed, by status",
	}, []string{"status"})

	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "frameup_job_duration_seconds",
		Help:    "Duration of a whole interpolation job",
		Buckets: []float64{10, 30, 60, 120, 300, 600, 1800, 3600, 7200},
	})

	framesWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frameup_frames_written_total",
		Help: "Total number of frames written across all jobs",
	})

	pairsSubstitutedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frameup_pairs_substituted_total",
		Help: "Pairs whose interpolation was replaced by the source frames",
	})

	staticSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frameup_static_frames_skipped_total",
		Help: "Static frames dropped from the output",
	})

	activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "frameup_active_workers",
		Help: "Number of workers currently processing a job",
	})

	retryTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frameup_retry_total",
		Help: "Total number of requeued jobs",
	})
)

func recordResult(result RunResult) {
	framesWrittenTotal.Add(float64(result.FramesWritten))
	pairsSubstitutedTotal.Add(float64(result.Substituted))
	staticSkippedTotal.Add(float64(result.StaticSkipped))
}
