package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// 指标结果标签
const (
	ResultSuccess  = "success"
	ResultCaught   = "caught"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// UnknownCrimeLabel 目录外的罪行 id 统一记为此标签
const UnknownCrimeLabel = "unknown"


// CrimeAttempts 按罪行与结果统计的犯罪次数
var CrimeAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "syndicate_crime_attempts_total",
		Help: "Total number of crime attempts",
	},
	[]string{"crime", "result"},
)

var CrimeDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "syndicate_crime_duration_seconds",
		Help:    "Crime attempt duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"crime"},
)

// SchedulerTicks 定时任务执行次数（ok/error/skipped）
var SchedulerTicks = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "syndicate_scheduler_ticks_total",
		Help: "Total number of scheduler ticks",
	},
	[]string{"job", "status"},
)

var SchedulerRowsAffected = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "syndicate_scheduler_rows_affected_total",
		Help: "Characters updated by scheduler ticks",
	},
	[]string{"job"},
)

var NotificationsDropped = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "syndicate_notifications_dropped_total",
		Help: "Outcome notifications that could not be delivered",
	},
)

// RegisterMetrics 启动时注册，重复注册会 panic
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(CrimeAttempts)
	reg.MustRegister(CrimeDuration)
	reg.MustRegister(SchedulerTicks)
	reg.MustRegister(SchedulerRowsAffected)
	reg.MustRegister(NotificationsDropped)
}

func recordCrimeAttempt(crimeID, result string, d time.Duration) {
	CrimeAttempts.WithLabelValues(crimeID, result).Inc()
	CrimeDuration.WithLabelValues(crimeID).Observe(d.Seconds())
}

func recordTick(job, status string, rows int64) {
	SchedulerTicks.WithLabelValues(job, status).Inc()
	if rows > 0 {
		SchedulerRowsAffected.WithLabelValues(job).Add(float64(rows))
	}
}
