package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	ReasonDeadlineExceeded     = "deadline_exceeded"
	ReasonCanceled             = "canceled"
	ReasonDBLockTimeout        = "db_lock_timeout"
	ReasonSerializationFailure = "serialization_failure"
	ReasonDeadlock             = "deadlock"
	ReasonUniqueViolation      = "unique_violation"
	ReasonUnknown              = "unknown"
)

const (
	ClaimAcquired  = "acquired"
	ClaimDuplicate = "duplicate"
	ClaimInFlight  = "in_flight"
	ClaimExhausted = "exhausted"
)

// PipelineMetrics captures payment pipeline health for Prometheus scraping.
type PipelineMetrics struct {
	webhookOutcomes       *prometheus.CounterVec
	materializeDuration   *prometheus.HistogramVec
	claimOutcomes         *prometheus.CounterVec
	compensations         prometheus.Counter
	reaped                prometheus.Counter
	retryAttempts         *prometheus.CounterVec
	notificationFailures  *prometheus.CounterVec
	notificationDelivered *prometheus.CounterVec
	notificationDropped   *prometheus.CounterVec
	jobRuns               *prometheus.CounterVec
	jobErrors             *prometheus.CounterVec
	jobDuration           *prometheus.HistogramVec
	slowQueries           *prometheus.CounterVec
}

var (
	pipelineMetricsOnce sync.Once
	pipelineMetrics     *PipelineMetrics
)

// PipelineWithConfig returns the process-wide pipeline metrics registered on
// the default registerer. Later calls return the first instance.
func PipelineWithConfig(cfg Config) *PipelineMetrics {
	pipelineMetricsOnce.Do(func() {
		pipelineMetrics = NewPipelineMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return pipelineMetrics
}

// NewPipelineMetrics registers a fresh set of collectors on registerer.
func NewPipelineMetrics(registerer prometheus.Registerer, cfg Config) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "storefront"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &PipelineMetrics{
		webhookOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "storefront_payment_webhook_total",
			Help:        "Payment callbacks and webhooks by gateway and outcome.",
			ConstLabels: constLabels,
		}, []string{"gateway", "outcome"}),
		materializeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "storefront_order_materialize_duration_seconds",
			Help:        "Order materialization latency by outcome.",
			ConstLabels: constLabels,
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"outcome"}),
		claimOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "storefront_idempotency_claims_total",
			Help:        "Idempotency claim attempts by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		compensations: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "storefront_inventory_compensations_total",
			Help:        "Stock decrements reversed after a failed materialization.",
			ConstLabels: constLabels,
		}),
		reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "storefront_idempotency_reaped_total",
			Help:        "Stale PENDING claims flipped to FAILED by the reaper.",
			ConstLabels: constLabels,
		}),
		retryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "storefront_retry_attempts_total",
			Help:        "Retried attempts of transient operations.",
			ConstLabels: constLabels,
		}, []string{"operation", "reason"}),
		notificationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "storefront_notification_failures_total",
			Help:        "Notification tasks that exhausted their attempts.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		notificationDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "storefront_notifications_delivered_total",
			Help:        "Notification tasks completed successfully.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		notificationDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "storefront_notifications_dropped_total",
			Help:        "Notification tasks rejected because the queue was full or closed.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "storefront_job_runs_total",
			Help:        "Background job runs by name.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "storefront_job_errors_total",
			Help:        "Background job failures by name and reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "storefront_job_duration_seconds",
			Help:        "Background job latency.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"job"}),
		slowQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "storefront_db_slow_queries_total",
			Help:        "Queries slower than the configured threshold.",
			ConstLabels: constLabels,
		}, []string{"operation"}),
	}

	registerer.MustRegister(
		m.webhookOutcomes,
		m.materializeDuration,
		m.claimOutcomes,
		m.compensations,
		m.reaped,
		m.retryAttempts,
		m.notificationFailures,
		m.notificationDelivered,
		m.notificationDropped,
		m.jobRuns,
		m.jobErrors,
		m.jobDuration,
		m.slowQueries,
	)
	return m
}

func (m *PipelineMetrics) IncWebhook(gateway, outcome string) {
	if m == nil {
		return
	}
	m.webhookOutcomes.WithLabelValues(sanitizeLabel(gateway), sanitizeLabel(outcome)).Inc()
}

func (m *PipelineMetrics) ObserveMaterialize(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.materializeDuration.WithLabelValues(sanitizeLabel(outcome)).Observe(duration.Seconds())
}

func (m *PipelineMetrics) IncClaim(outcome string) {
	if m == nil {
		return
	}
	m.claimOutcomes.WithLabelValues(sanitizeLabel(outcome)).Inc()
}

func (m *PipelineMetrics) IncCompensation() {
	if m == nil {
		return
	}
	m.compensations.Inc()
}

func (m *PipelineMetrics) AddReaped(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.reaped.Add(float64(count))
}

// IncRetry counts one retried attempt, classifying err into a low-cardinality reason.
func (m *PipelineMetrics) IncRetry(operation string, err error) {
	if m == nil {
		return
	}
	m.retryAttempts.WithLabelValues(sanitizeLabel(operation), ClassifyReason(err)).Inc()
}

func (m *PipelineMetrics) IncNotificationFailure(kind string) {
	if m == nil {
		return
	}
	m.notificationFailures.WithLabelValues(sanitizeLabel(kind)).Inc()
}

func (m *PipelineMetrics) IncNotificationDelivered(kind string) {
	if m == nil {
		return
	}
	m.notificationDelivered.WithLabelValues(sanitizeLabel(kind)).Inc()
}

func (m *PipelineMetrics) IncNotificationDropped(kind string) {
	if m == nil {
		return
	}
	m.notificationDropped.WithLabelValues(sanitizeLabel(kind)).Inc()
}

func (m *PipelineMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *PipelineMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyReason(err)).Inc()
}

func (m *PipelineMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *PipelineMetrics) IncSlowQuery(operation string, _ time.Duration) {
	if m == nil {
		return
	}
	m.slowQueries.WithLabelValues(sanitizeLabel(operation)).Inc()
}

// ClassifyReason maps an error to a bounded label value.
func ClassifyReason(err error) string {
	if err == nil {
		return ReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonDeadlineExceeded
	}
	if errors.Is(err, context.Canceled) {
		return ReasonCanceled
	}
	if hasPGCode(err, "55P03") {
		return ReasonDBLockTimeout
	}
	if hasPGCode(err, "40001") {
		return ReasonSerializationFailure
	}
	if hasPGCode(err, "40P01") {
		return ReasonDeadlock
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return ReasonUniqueViolation
	}
	return ReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func sanitizeLabel(val string) string {
	val = strings.TrimSpace(val)
	if val == "" {
		return "unknown"
	}
	return val
}
