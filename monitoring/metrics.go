package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 预测服务指标
var (
	// predictionsTotal 按结果统计预测次数
	predictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "symptomdx_predictions_total",
		Help: "Total number of predictions by outcome",
	}, []string{"outcome"})

	// predictionLatency 预测耗时
	predictionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "symptomdx_prediction_duration_seconds",
		Help:    "Prediction latency in seconds",
		Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
	})

	// cacheLookupsTotal 结果缓存命中统计
	cacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "symptomdx_prediction_cache_lookups_total",
		Help: "Prediction cache lookups by result",
	}, []string{"result"})

	// modelReloadsTotal 模型热加载次数
	modelReloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "symptomdx_model_reloads_total",
		Help: "Model reload attempts by result",
	}, []string{"result"})

	// modelInfo 当前模型
	modelInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "symptomdx_model_info",
		Help: "Currently served model, value is always 1",
	}, []string{"model_type", "version"})

	// httpRequestsTotal HTTP请求统计
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "symptomdx_http_requests_total",
		Help: "HTTP requests by method, route and status code",
	}, []string{"method", "route", "code"})

	// httpRequestLatency HTTP请求耗时
	httpRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "symptomdx_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	// websocketConnections 当前WebSocket连接数
	websocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "symptomdx_websocket_connections",
		Help: "Open websocket prediction connections",
	})
)

// ObservePrediction 记录一次预测
func ObservePrediction(outcome string, d time.Duration) {
	predictionsTotal.WithLabelValues(outcome).Inc()
	predictionLatency.Observe(d.Seconds())
}

// RecordCacheLookup 记录缓存命中或未命中
func RecordCacheLookup(hit bool) {
	if hit {
		cacheLookupsTotal.WithLabelValues("hit").Inc()
		return
	}
	cacheLookupsTotal.WithLabelValues("miss").Inc()
}

// RecordModelReload 记录热加载结果
func RecordModelReload(ok bool) {
	if ok {
		modelReloadsTotal.WithLabelValues("success").Inc()
		return
	}
	modelReloadsTotal.WithLabelValues("failure").Inc()
}

// SetModelInfo 更新当前模型标签
func SetModelInfo(modelType, version string) {
	modelInfo.Reset()
	modelInfo.WithLabelValues(modelType, version).Set(1)
}

// ObserveHTTPRequest 记录一次HTTP请求
func ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

// TrackWebsocket 调整WebSocket连接数
func TrackWebsocket(delta int) {
	websocketConnections.Add(float64(delta))
}
