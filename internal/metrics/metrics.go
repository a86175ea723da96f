package metrics

import (
    "net/http"
    "sync"
    "time"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
    pagesRendered = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "flipbook",
            Name:      "pages_rendered_total",
            Help:      "Total page renders by result (success, failed, cached)",
        },
        []string{"result"},
    )

    renderLatency = prometheus.NewHistogram(
        prometheus.HistogramOpts{
            Namespace: "flipbook",
            Name:      "page_render_duration_seconds",
            Help:      "Duration of single page rasterisation",
            Buckets:   prometheus.DefBuckets,
        },
    )

    batches = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "flipbook",
            Name:      "batches_total",
            Help:      "Batch loads by kind (initial, prefetch) and result (ready, failed, stale)",
        },
        []string{"kind", "result"},
    )

    intakeRejected = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "flipbook",
            Name:      "intake_rejected_total",
            Help:      "Rejected uploads by reason",
        },
        []string{"reason"},
    )

    narrationEvents = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "flipbook",
            Name:      "narration_events_total",
            Help:      "Narration lifecycle events (start, end, error, stop)",
        },
        []string{"event"},
    )

    sessionStates = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "flipbook",
            Name:      "session_transitions_total",
            Help:      "Load session state transitions by target state",
        },
        []string{"state"},
    )

    loadedPages = prometheus.NewGauge(
        prometheus.GaugeOpts{
            Namespace: "flipbook",
            Name:      "loaded_pages",
            Help:      "Pages held by the active session's page store",
        },
    )

    initOnce sync.Once
)

// Init registers collectors. Safe to call more than once.
func Init() {
    initOnce.Do(func() {
        prometheus.MustRegister(pagesRendered, renderLatency, batches, intakeRejected, narrationEvents, sessionStates, loadedPages)
    })
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func ObserveRender(result string, dur time.Duration) {
    pagesRendered.WithLabelValues(result).Inc()
    if result != "cached" {
        renderLatency.Observe(dur.Seconds())
    }
}

func IncBatch(kind, result string)   { batches.WithLabelValues(kind, result).Inc() }
func IncIntakeRejected(reason string) { intakeRejected.WithLabelValues(reason).Inc() }
func IncNarration(event string)       { narrationEvents.WithLabelValues(event).Inc() }
func IncSessionState(state string)    { sessionStates.WithLabelValues(state).Inc() }
func SetLoadedPages(n int)            { loadedPages.Set(float64(n)) }
