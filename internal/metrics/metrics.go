// Package metrics holds the process-wide Prometheus instrumentation:
// HTTP traffic, the database pool and the overdue sweeper. Invoice and
// payment link counters are declared in their own packages.
package metrics

import (
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "billflow"

// unmatchedRoute labels requests gin could not route, so scans of
// random paths collapse into one series.
const unmatchedRoute = "unmatched"

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status class.",
	}, []string{"method", "path", "status"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by method and route.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"method", "path"})

	// SweeperRunning is 1 while the overdue sweeper loop is active.
	SweeperRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sweeper",
		Name:      "running",
		Help:      "1 while the overdue sweeper loop is running.",
	})

	// LastSweepTimestamp is the unix time of the last completed sweep.
	LastSweepTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sweeper",
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time of the last completed overdue sweep.",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, SweeperRunning, LastSweepTimestamp)
}

// RegisterDB exports connection pool statistics for db under the
// billflow namespace. Registering the same pool twice is not an error.
func RegisterDB(db *sql.DB, name string) error {
	c := collectors.NewDBStatsCollector(db, name)
	if err := prometheus.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return nil
		}
		return err
	}
	return nil
}

// Middleware records request count and latency per route pattern.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		method := c.Request.Method
		requestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		requestsTotal.WithLabelValues(method, route, statusClass(c.Writer.Status())).Inc()
	}
}

// Handler serves the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}
