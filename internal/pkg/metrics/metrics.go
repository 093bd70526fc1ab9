package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics はアプリケーションのメトリクスを管理する
type Metrics struct {
	// HTTPリクエストの総数（method, path, status_code）
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTPリクエストのレイテンシ（method, path）
	HTTPRequestDuration *prometheus.HistogramVec

	// 予約操作の総数（operation: book/cancel, result: success, full, not_bookable, ...）
	BookingsTotal *prometheus.CounterVec

	// 非正規化の失敗数（operation: materialize/dematerialize/propagate_name）
	DenormalizationFailuresTotal *prometheus.CounterVec

	// 楽観的トランザクションの競合リトライ数（store: memory/postgres）
	TransactionConflictsTotal *prometheus.CounterVec

	// 分散ロックの操作時間（operation: acquire/release, status: success/failed）
	DistributedLockDuration *prometheus.HistogramVec

	// ライブ予約一覧が保持している購読数
	AggregatorSubscriptions prometheus.Gauge

	// コースキャッシュの参照結果（result: hit/miss/error）
	CourseCacheLookupsTotal *prometheus.CounterVec

	// 座席数の自動修復回数
	SeatRepairsTotal prometheus.Counter
}

// New は新しいMetricsインスタンスを作成し、デフォルトレジストリに登録する
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry は指定したレジストリにメトリクスを登録する
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		BookingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookings_total",
				Help: "Total number of booking and cancellation attempts",
			},
			[]string{"operation", "result"},
		),
		DenormalizationFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "denormalization_failures_total",
				Help: "Number of index writes that failed after the seat counter was committed",
			},
			[]string{"operation"},
		),
		TransactionConflictsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "store_transaction_retries_total",
				Help: "Number of optimistic transaction retries caused by concurrent writers",
			},
			[]string{"store"},
		),
		DistributedLockDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "distributed_lock_duration_seconds",
				Help:    "Time spent on distributed lock operations",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation", "status"},
		),
		AggregatorSubscriptions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "aggregator_subscriptions",
				Help: "Current number of per-booking subscriptions held by live booking views",
			},
		),
		CourseCacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "course_cache_lookups_total",
				Help: "Course catalog cache lookups",
			},
			[]string{"result"},
		),
		SeatRepairsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "seat_reconciliations_total",
				Help: "Number of slot counters rewritten by the reconciler",
			},
		),
	}

	// レジストリに登録
	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.BookingsTotal,
		m.DenormalizationFailuresTotal,
		m.TransactionConflictsTotal,
		m.DistributedLockDuration,
		m.AggregatorSubscriptions,
		m.CourseCacheLookupsTotal,
		m.SeatRepairsTotal,
	)

	return m
}

// 以下のヘルパーは m が nil でも安全に呼べる

// ObserveBooking は予約操作の結果を記録する
func (m *Metrics) ObserveBooking(operation, result string) {
	if m == nil {
		return
	}
	m.BookingsTotal.WithLabelValues(operation, result).Inc()
}

// ObserveDenormalizationFailure は非正規化の失敗を記録する
func (m *Metrics) ObserveDenormalizationFailure(operation string) {
	if m == nil {
		return
	}
	m.DenormalizationFailuresTotal.WithLabelValues(operation).Inc()
}

// ObserveTransactionConflict はトランザクション競合を記録する
func (m *Metrics) ObserveTransactionConflict(store string) {
	if m == nil {
		return
	}
	m.TransactionConflictsTotal.WithLabelValues(store).Inc()
}

// ObserveLock はロック操作の時間を記録する
func (m *Metrics) ObserveLock(operation, status string, seconds float64) {
	if m == nil {
		return
	}
	m.DistributedLockDuration.WithLabelValues(operation, status).Observe(seconds)
}

// AddSubscriptions は購読数を増減する
func (m *Metrics) AddSubscriptions(delta int) {
	if m == nil {
		return
	}
	m.AggregatorSubscriptions.Add(float64(delta))
}

// ObserveCourseCache はキャッシュ参照結果を記録する
func (m *Metrics) ObserveCourseCache(result string) {
	if m == nil {
		return
	}
	m.CourseCacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveSeatRepair は座席数の修復を記録する
func (m *Metrics) ObserveSeatRepair() {
	if m == nil {
		return
	}
	m.SeatRepairsTotal.Inc()
}

// デフォルトのメトリクスインスタンス
var defaultMetrics *Metrics

// Init はデフォルトのメトリクスインスタンスを初期化する
func Init() *Metrics {
	defaultMetrics = New()
	return defaultMetrics
}

// Get はデフォルトのメトリクスインスタンスを返す
func Get() *Metrics {
	return defaultMetrics
}
