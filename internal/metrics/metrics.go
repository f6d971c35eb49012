package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RecordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dotmap_records_total",
		Help: "Total number of generated point records by category",
	}, []string{"category"})
	FeaturesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dotmap_features_total",
		Help: "Total number of census features processed",
	})
	FeaturesSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dotmap_features_skipped_total",
		Help: "Total number of features skipped for missing or degenerate geometry",
	})
	SamplingTimeoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dotmap_sampling_timeouts_total",
		Help: "Total number of points dropped after exhausting sampling attempts",
	})
	ProjectionErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dotmap_projection_errors_total",
		Help: "Total number of points dropped for projection errors",
	})
	SinkCommitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dotmap_sink_commits_total",
		Help: "Total number of sink commits",
	})
	SampleAttempts = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dotmap_sample_attempts",
		Help:    "Rejection-sampling attempts per accepted point, averaged per feature",
		Buckets: []float64{1, 1.5, 2, 4, 8, 16, 64, 256, 1024},
	})
	RegionDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dotmap_region_duration_seconds",
		Help:    "Wall time to process one region",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
	})
)

func init() {
	prometheus.MustRegister(RecordsTotal)
	prometheus.MustRegister(FeaturesTotal)
	prometheus.MustRegister(FeaturesSkippedTotal)
	prometheus.MustRegister(SamplingTimeoutsTotal)
	prometheus.MustRegister(ProjectionErrorsTotal)
	prometheus.MustRegister(SinkCommitsTotal)
	prometheus.MustRegister(SampleAttempts)
	prometheus.MustRegister(RegionDurationSeconds)
}

// 文档注释：返回 Prometheus 指标监听器
// 背景：统一暴露注册指标到 /metrics 路径，供 Prometheus 抓取；在主入口按 DOTMAP_METRICS_ADDR 挂载。
func Handler() http.Handler { return promhttp.Handler() }
