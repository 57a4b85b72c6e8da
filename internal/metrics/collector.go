package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/oshokin/alarmd/internal/lock"
)

// Collector records scheduler, pool and lock events as Prometheus metrics.
// It implements the Observer interfaces of the alarm, workpool and lock packages.
type Collector struct {
	alarmsScheduled *prometheus.CounterVec
	alarmsFired     *prometheus.CounterVec
	alarmLateness   *prometheus.HistogramVec
	alarmsCancelled prometheus.Counter
	alarmsRejected  prometheus.Counter
	alarmsPending   prometheus.Gauge

	poolWorkers      *prometheus.GaugeVec
	poolTasks        *prometheus.CounterVec
	poolTaskDuration *prometheus.HistogramVec
	poolRejected     *prometheus.CounterVec
	poolQueueDepth   *prometheus.GaugeVec

	lockAcquires       *prometheus.CounterVec
	lockWait           *prometheus.HistogramVec
	lockWaiting        prometheus.Gauge
	lockForceReleases  prometheus.Counter
	lockInterruptWaits prometheus.Counter
}

// NewCollector registers the alarmd metrics with registerer, or with the
// default registerer when it is nil.
func NewCollector(registerer prometheus.Registerer) *Collector {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registerer)

	return &Collector{
		alarmsScheduled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alarmd_alarms_scheduled_total",
				Help: "Total number of scheduled alarms",
			},
			[]string{"kind"},
		),
		alarmsFired: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alarmd_alarms_fired_total",
				Help: "Total number of fired alarms",
			},
			[]string{"kind"},
		),
		alarmLateness: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "alarmd_alarm_lateness_seconds",
				Help:    "Delay between an alarm's fire time and its listener call",
				Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"kind"},
		),
		alarmsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "alarmd_alarms_cancelled_total",
			Help: "Total number of cancelled alarms",
		}),
		alarmsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "alarmd_alarms_rejected_total",
			Help: "Total number of due alarms the pool refused and that were queued for redispatch",
		}),
		alarmsPending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "alarmd_alarms_pending",
			Help: "Current number of pending alarms",
		}),
		poolWorkers: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "alarmd_pool_workers",
				Help: "Current number of live worker goroutines",
			},
			[]string{"pool"},
		),
		poolTasks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alarmd_pool_tasks_total",
				Help: "Total number of completed tasks",
			},
			[]string{"pool", "status"},
		),
		poolTaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "alarmd_pool_task_duration_seconds",
				Help:    "Duration of pool tasks in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"pool"},
		),
		poolRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alarmd_pool_rejected_total",
				Help: "Total number of submissions refused because the request buffer was full",
			},
			[]string{"pool"},
		),
		poolQueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "alarmd_pool_queue_depth",
				Help: "Current number of buffered tasks",
			},
			[]string{"pool"},
		),
		lockAcquires: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alarmd_lock_acquires_total",
				Help: "Total number of lock requests by outcome",
			},
			[]string{"mode", "outcome"},
		),
		lockWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "alarmd_lock_wait_seconds",
				Help:    "Time lock requests spent queued",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
			},
			[]string{"mode"},
		),
		lockWaiting: factory.NewGauge(prometheus.GaugeOpts{
			Name: "alarmd_lock_waiting",
			Help: "Current number of queued lock requests",
		}),
		lockForceReleases: factory.NewCounter(prometheus.CounterOpts{
			Name: "alarmd_lock_force_releases_total",
			Help: "Total number of administrative lock releases",
		}),
		lockInterruptWaits: factory.NewCounter(prometheus.CounterOpts{
			Name: "alarmd_lock_interrupted_waits_total",
			Help: "Total number of waits failed by an administrative release",
		}),
	}
}

// AlarmScheduled counts a scheduled alarm.
func (c *Collector) AlarmScheduled(deferrable bool) {
	c.alarmsScheduled.WithLabelValues(kind(deferrable)).Inc()
}

// AlarmFired counts a fired alarm and records how late it ran.
func (c *Collector) AlarmFired(deferrable bool, lateness time.Duration) {
	c.alarmsFired.WithLabelValues(kind(deferrable)).Inc()
	c.alarmLateness.WithLabelValues(kind(deferrable)).Observe(max(lateness, 0).Seconds())
}

// AlarmCancelled counts a cancellation.
func (c *Collector) AlarmCancelled() {
	c.alarmsCancelled.Inc()
}

// AlarmRejected counts an alarm sent back for redispatch.
func (c *Collector) AlarmRejected() {
	c.alarmsRejected.Inc()
}

// SetPending sets the pending alarm gauge.
func (c *Collector) SetPending(n int) {
	c.alarmsPending.Set(float64(n))
}

// WorkerStarted increments the worker gauge.
func (c *Collector) WorkerStarted(pool string) {
	c.poolWorkers.WithLabelValues(pool).Inc()
}

// WorkerStopped decrements the worker gauge.
func (c *Collector) WorkerStopped(pool string) {
	c.poolWorkers.WithLabelValues(pool).Dec()
}

// TaskCompleted records a finished task.
func (c *Collector) TaskCompleted(pool string, err error, took time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}

	c.poolTasks.WithLabelValues(pool, status).Inc()
	c.poolTaskDuration.WithLabelValues(pool).Observe(took.Seconds())
}

// TaskRejected counts a refused submission.
func (c *Collector) TaskRejected(pool string) {
	c.poolRejected.WithLabelValues(pool).Inc()
}

// SetQueueDepth sets the buffered task gauge.
func (c *Collector) SetQueueDepth(pool string, n int) {
	c.poolQueueDepth.WithLabelValues(pool).Set(float64(n))
}

// ObserveAcquire records the outcome of a lock request.
func (c *Collector) ObserveAcquire(mode lock.Mode, outcome string, waited time.Duration) {
	c.lockAcquires.WithLabelValues(mode.String(), outcome).Inc()

	if waited > 0 {
		c.lockWait.WithLabelValues(mode.String()).Observe(waited.Seconds())
	}
}

// SetWaiting sets the queued lock request gauge.
func (c *Collector) SetWaiting(n int) {
	c.lockWaiting.Set(float64(n))
}

// ObserveForceRelease counts an administrative release and the waits it failed.
func (c *Collector) ObserveForceRelease(interrupted int) {
	c.lockForceReleases.Inc()
	c.lockInterruptWaits.Add(float64(interrupted))
}

// kind labels an alarm.
func kind(deferrable bool) string {
	if deferrable {
		return "deferrable"
	}

	return "ordinary"
}
