package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	turns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "booking_agent",
			Name:      "turns_total",
			Help:      "Count of processed chat turns by resulting stage.",
		},
		[]string{"stage"},
	)

	turnLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "booking_agent",
			Name:      "turn_duration_seconds",
			Help:      "Time spent handling one chat turn.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	bookings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "booking_agent",
			Name:      "bookings_total",
			Help:      "Count of booking commits by status.",
		},
		[]string{"status"},
	)

	otpEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "booking_agent",
			Name:      "otp_total",
			Help:      "Count of OTP dispatches and verification results.",
		},
		[]string{"result"},
	)

	knowledge = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "booking_agent",
			Name:      "knowledge_queries_total",
			Help:      "Count of knowledge base queries by outcome.",
		},
		[]string{"outcome"},
	)

	swept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "booking_agent",
			Name:      "sessions_swept_total",
			Help:      "Count of expired sessions removed by the sweeper.",
		},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "booking_agent",
			Name:      "sessions_active",
			Help:      "Sessions held by the store after the last sweep.",
		},
	)

	storeFailover = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "booking_agent",
			Name:      "session_store_failover_total",
			Help:      "Count of session store operations served by the fallback store.",
		},
		[]string{"op"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "booking_agent",
			Name:      "notifications_total",
			Help:      "Count of booking confirmation messages by status.",
		},
		[]string{"status"},
	)

	notifyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "booking_agent",
			Name:      "notification_send_duration_seconds",
			Help:      "Time to deliver one confirmation message.",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	rateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "booking_agent",
			Name:      "rate_limited_total",
			Help:      "Count of chat requests rejected by the rate limiter.",
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(turns, turnLatency, bookings, otpEvents, knowledge, swept, activeSessions, storeFailover, rateLimited, notifications, notifyDuration)
	})
}

func IncTurn(stage string) {
	turns.WithLabelValues(stage).Inc()
}

func ObserveTurn(d time.Duration) {
	turnLatency.Observe(d.Seconds())
}

func IncBooking(status string) {
	bookings.WithLabelValues(status).Inc()
}

func IncOTP(result string) {
	otpEvents.WithLabelValues(result).Inc()
}

func IncKnowledge(outcome string) {
	knowledge.WithLabelValues(outcome).Inc()
}

func AddSwept(n int) {
	swept.Add(float64(n))
}

func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

func IncStoreFailover(op string) {
	storeFailover.WithLabelValues(op).Inc()
}

func IncRateLimited() {
	rateLimited.Inc()
}

func IncNotification(status string) {
	notifications.WithLabelValues(status).Inc()
}

func ObserveNotification(d time.Duration) {
	notifyDuration.Observe(d.Seconds())
}
