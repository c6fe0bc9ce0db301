package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TurnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "study_agent_turn_duration_seconds",
			Help:    "Turn processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"intent"},
	)

	TurnTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "study_agent_turn_total",
			Help: "Total number of turns processed",
		},
		[]string{"intent", "success", "error_kind"},
	)

	ClassifierConfidence = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "study_agent_classifier_confidence",
			Help:    "Intent classification confidence scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
		[]string{"intent"},
	)

	SpecialistRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "study_agent_specialist_retries_total",
			Help: "Total transient-failure retries dispatched",
		},
		[]string{"intent"},
	)

	SourcesValidated = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "study_agent_sources_validated",
			Help:    "Number of sources surviving validation per request",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
		[]string{"origin"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "study_agent_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	WebSearchTriggered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "study_agent_web_search_triggered_total",
			Help: "Total number of web searches triggered",
		},
	)

	DocumentsIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "study_agent_documents_ingested_total",
			Help: "Total documents ingested",
		},
	)

	ChunksIndexed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "study_agent_chunks_indexed_total",
			Help: "Total document chunks indexed",
		},
	)

	DecksPersisted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "study_agent_decks_persisted_total",
			Help: "Total flashcard decks persisted",
		},
	)

	SessionsBusy = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "study_agent_sessions_busy_total",
			Help: "Requests rejected because the session was busy",
		},
	)
)

func Init() {
	prometheus.MustRegister(TurnDuration)
	prometheus.MustRegister(TurnTotal)
	prometheus.MustRegister(ClassifierConfidence)
	prometheus.MustRegister(SpecialistRetries)
	prometheus.MustRegister(SourcesValidated)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(WebSearchTriggered)
	prometheus.MustRegister(DocumentsIngested)
	prometheus.MustRegister(ChunksIndexed)
	prometheus.MustRegister(DecksPersisted)
	prometheus.MustRegister(SessionsBusy)
}

// ObserveTurn records the outcome of one routed turn.
func ObserveTurn(intent string, success bool, errorKind string, elapsed time.Duration) {
	TurnDuration.WithLabelValues(intent).Observe(elapsed.Seconds())
	TurnTotal.WithLabelValues(intent, strconv.FormatBool(success), errorKind).Inc()
	if errorKind == "SessionBusy" {
		SessionsBusy.Inc()
	}
}

func ObserveClassification(intent string, confidence float64) {
	ClassifierConfidence.WithLabelValues(intent).Observe(confidence)
}

func ObserveRetry(intent string) {
	SpecialistRetries.WithLabelValues(intent).Inc()
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
