package monitoring

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	// ImportCounter 按导入结果状态计数（NEW / PENDING_UPDATE）
	ImportCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "questionnaire_imports_total",
			Help: "Number of imported questionnaires by resulting state",
		},
		[]string{"state"},
	)

	// ApprovalCounter 审核结果计数
	ApprovalCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "questionnaire_approvals_total",
			Help: "Number of approval decisions by pending state and decision",
		},
		[]string{"state", "decision"},
	)

	SubmissionCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "questionnaire_submissions_total",
			Help: "Number of questionnaire submissions",
		},
	)

	registerOnce sync.Once
)

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(RequestCounter)
		prometheus.MustRegister(RequestDuration)
		prometheus.MustRegister(ImportCounter)
		prometheus.MustRegister(ApprovalCounter)
		prometheus.MustRegister(SubmissionCounter)
	})
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
