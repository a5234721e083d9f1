package telemetry

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/mohammad-safakhou/boardroom/config"
	"github.com/prometheus/client_golang/prometheus"
)

// Telemetry records pipeline metrics in-process and on a prometheus registry
type Telemetry struct {
	config   config.TelemetryConfig
	logger   *log.Logger
	metrics  *Metrics
	registry *prometheus.Registry
	prom     promMetrics
	mu       sync.RWMutex
	stop     chan struct{}
	stopOnce sync.Once
}

// Metrics holds aggregate counters for the pipeline
type Metrics struct {
	// Run metrics
	TotalRuns          int64
	SuccessfulRuns     int64
	FailedRuns         int64
	FallbackPlans      int64
	SynthesisFallbacks int64
	AverageRunTime     time.Duration

	// Responder metrics
	ResponderCalls    map[string]int64
	ResponderFailures map[string]int64
	ResponderAvgTimes map[string]time.Duration

	// Validation metrics
	Validations       map[string]int64
	FailedValidations map[string]int64
	FailOpen          int64
	Retries           map[string]int64

	// LLM metrics
	LLMRequests       map[string]int64
	LLMErrors         map[string]int64
	LLMAverageLatency map[string]time.Duration
}

type promMetrics struct {
	runs        *prometheus.CounterVec
	runSeconds  prometheus.Histogram
	responders  *prometheus.CounterVec
	validations *prometheus.CounterVec
	retries     *prometheus.CounterVec
	llmLatency  *prometheus.HistogramVec
	fallbacks   *prometheus.CounterVec
}

// RunEvent represents one completed pipeline run
type RunEvent struct {
	ID           string
	UserID       string
	StartTime    time.Time
	EndTime      time.Time
	Success      bool
	Error        string
	Responders   []string
	WorkItems    int
	Synthesized  bool
	FallbackPlan bool
}

// ResponderEvent represents a single responder call
type ResponderEvent struct {
	ResponderID string
	WorkItemID  string
	Duration    time.Duration
	Success     bool
	Error       string
}

// ValidationEvent represents one validation attempt
type ValidationEvent struct {
	ResponderID string
	Score       float64
	Passed      bool
	IsRetry     bool
	FailOpen    bool
}

// LLMEvent represents one text generation call
type LLMEvent struct {
	Purpose  string
	Model    string
	Duration time.Duration
	Success  bool
}

// NewTelemetry creates a new telemetry instance with its own prometheus registry
func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	reg := prometheus.NewRegistry()
	t := &Telemetry{
		config:   cfg,
		logger:   log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		registry: reg,
		stop:     make(chan struct{}),
		metrics: &Metrics{
			ResponderCalls:    make(map[string]int64),
			ResponderFailures: make(map[string]int64),
			ResponderAvgTimes: make(map[string]time.Duration),
			Validations:       make(map[string]int64),
			FailedValidations: make(map[string]int64),
			Retries:           make(map[string]int64),
			LLMRequests:       make(map[string]int64),
			LLMErrors:         make(map[string]int64),
			LLMAverageLatency: make(map[string]time.Duration),
		},
	}
	t.prom = promMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boardroom",
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs by outcome.",
		}, []string{"outcome"}),
		runSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "boardroom",
			Name:      "pipeline_run_seconds",
			Help:      "Wall time of a full pipeline run.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 40, 80, 160},
		}),
		responders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boardroom",
			Name:      "responder_calls_total",
			Help:      "Responder generation calls by responder and outcome.",
		}, []string{"responder", "outcome"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boardroom",
			Name:      "validations_total",
			Help:      "Validation attempts by responder, verdict and attempt kind.",
		}, []string{"responder", "passed", "retry"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boardroom",
			Name:      "retries_total",
			Help:      "Revision rounds triggered by failed validations.",
		}, []string{"responder"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "boardroom",
			Name:      "llm_call_seconds",
			Help:      "Latency of text generation calls by call site.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"purpose", "outcome"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boardroom",
			Name:      "fallbacks_total",
			Help:      "Degraded paths taken (keyword plan, fail-open validation, synthesis passthrough).",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		t.prom.runs,
		t.prom.runSeconds,
		t.prom.responders,
		t.prom.validations,
		t.prom.retries,
		t.prom.llmLatency,
		t.prom.fallbacks,
	)

	// periodic logs can be disabled via config
	if cfg.Enabled && cfg.PeriodicLogs {
		go t.startMetricsCollection()
	}
	return t
}

// Registry exposes the prometheus registry for the /metrics handler.
func (t *Telemetry) Registry() *prometheus.Registry {
	if t == nil {
		return nil
	}
	return t.registry
}

// RecordRunEvent records a complete pipeline run
func (t *Telemetry) RecordRunEvent(ctx context.Context, event RunEvent) {
	if t == nil {
		return
	}
	duration := event.EndTime.Sub(event.StartTime)
	outcome := "success"
	if !event.Success {
		outcome = "failure"
	}
	t.prom.runs.WithLabelValues(outcome).Inc()
	t.prom.runSeconds.Observe(duration.Seconds())
	if event.FallbackPlan {
		t.prom.fallbacks.WithLabelValues("keyword_plan").Inc()
	}

	t.mu.Lock()
	t.metrics.TotalRuns++
	if event.Success {
		t.metrics.SuccessfulRuns++
	} else {
		t.metrics.FailedRuns++
	}
	if event.FallbackPlan {
		t.metrics.FallbackPlans++
	}
	if t.metrics.TotalRuns == 1 {
		t.metrics.AverageRunTime = duration
	} else {
		total := t.metrics.AverageRunTime * time.Duration(t.metrics.TotalRuns-1)
		t.metrics.AverageRunTime = (total + duration) / time.Duration(t.metrics.TotalRuns)
	}
	t.mu.Unlock()

	if t.config.Enabled {
		t.logger.Printf("Run Event: ID=%s, Success=%t, Duration=%v, WorkItems=%d, Responders=%v, Synthesized=%t",
			event.ID, event.Success, duration, event.WorkItems, event.Responders, event.Synthesized)
	}
}

// RecordResponderEvent records one responder call
func (t *Telemetry) RecordResponderEvent(ctx context.Context, event ResponderEvent) {
	if t == nil {
		return
	}
	outcome := "success"
	if !event.Success {
		outcome = "failure"
	}
	t.prom.responders.WithLabelValues(event.ResponderID, outcome).Inc()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics.ResponderCalls[event.ResponderID]++
	if !event.Success {
		t.metrics.ResponderFailures[event.ResponderID]++
	}
	calls := t.metrics.ResponderCalls[event.ResponderID]
	if calls == 1 {
		t.metrics.ResponderAvgTimes[event.ResponderID] = event.Duration
	} else {
		total := t.metrics.ResponderAvgTimes[event.ResponderID] * time.Duration(calls-1)
		t.metrics.ResponderAvgTimes[event.ResponderID] = (total + event.Duration) / time.Duration(calls)
	}
}

// RecordValidationEvent records one validation attempt
func (t *Telemetry) RecordValidationEvent(ctx context.Context, event ValidationEvent) {
	if t == nil {
		return
	}
	t.prom.validations.WithLabelValues(event.ResponderID, strconv.FormatBool(event.Passed), strconv.FormatBool(event.IsRetry)).Inc()
	if event.FailOpen {
		t.prom.fallbacks.WithLabelValues("fail_open_validation").Inc()
	}
	if event.IsRetry {
		t.prom.retries.WithLabelValues(event.ResponderID).Inc()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics.Validations[event.ResponderID]++
	if !event.Passed {
		t.metrics.FailedValidations[event.ResponderID]++
	}
	if event.FailOpen {
		t.metrics.FailOpen++
	}
	if event.IsRetry {
		t.metrics.Retries[event.ResponderID]++
	}
}

// RecordLLMEvent records one text generation call
func (t *Telemetry) RecordLLMEvent(ctx context.Context, event LLMEvent) {
	if t == nil {
		return
	}
	outcome := "success"
	if !event.Success {
		outcome = "failure"
	}
	t.prom.llmLatency.WithLabelValues(event.Purpose, outcome).Observe(event.Duration.Seconds())

	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics.LLMRequests[event.Purpose]++
	if !event.Success {
		t.metrics.LLMErrors[event.Purpose]++
	}
	n := t.metrics.LLMRequests[event.Purpose]
	if n == 1 {
		t.metrics.LLMAverageLatency[event.Purpose] = event.Duration
	} else {
		total := t.metrics.LLMAverageLatency[event.Purpose] * time.Duration(n-1)
		t.metrics.LLMAverageLatency[event.Purpose] = (total + event.Duration) / time.Duration(n)
	}
}

// RecordSynthesisFallback records a synthesis failure that fell back to the first response
func (t *Telemetry) RecordSynthesisFallback(ctx context.Context) {
	if t == nil {
		return
	}
	t.prom.fallbacks.WithLabelValues("synthesis_passthrough").Inc()
	t.mu.Lock()
	t.metrics.SynthesisFallbacks++
	t.mu.Unlock()
}

// GetMetrics returns current metrics snapshot
func (t *Telemetry) GetMetrics() Metrics {
	if t == nil {
		return Metrics{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	// deep copy so callers never share maps with writers
	m := *t.metrics
	m.ResponderCalls = copyCounts(t.metrics.ResponderCalls)
	m.ResponderFailures = copyCounts(t.metrics.ResponderFailures)
	m.ResponderAvgTimes = copyDurations(t.metrics.ResponderAvgTimes)
	m.Validations = copyCounts(t.metrics.Validations)
	m.FailedValidations = copyCounts(t.metrics.FailedValidations)
	m.Retries = copyCounts(t.metrics.Retries)
	m.LLMRequests = copyCounts(t.metrics.LLMRequests)
	m.LLMErrors = copyCounts(t.metrics.LLMErrors)
	m.LLMAverageLatency = copyDurations(t.metrics.LLMAverageLatency)
	return m
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyDurations(in map[string]time.Duration) map[string]time.Duration {
	out := make(map[string]time.Duration, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// startMetricsCollection starts periodic metrics logging
func (t *Telemetry) startMetricsCollection() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			m := t.GetMetrics()
			t.logger.Printf("Metrics Snapshot: Runs=%d/%d, AvgTime=%v, FallbackPlans=%d, FailOpen=%d",
				m.SuccessfulRuns, m.TotalRuns, m.AverageRunTime, m.FallbackPlans, m.FailOpen)
		}
	}
}

// Shutdown stops background reporting and logs a final report
func (t *Telemetry) Shutdown() {
	if t == nil {
		return
	}
	t.stopOnce.Do(func() { close(t.stop) })
	if !t.config.Enabled {
		return
	}
	t.logger.Println("Shutting down telemetry system...")
	t.logger.Print(t.GetPerformanceReport())
}

// GetPerformanceReport returns a human-readable report
func (t *Telemetry) GetPerformanceReport() string {
	m := t.GetMetrics()
	successRate := 0.0
	if m.TotalRuns > 0 {
		successRate = float64(m.SuccessfulRuns) / float64(m.TotalRuns) * 100
	}
	report := fmt.Sprintf(`
=== PIPELINE REPORT ===
  Total Runs: %d
  Successful: %d (%.2f%%)
  Failed: %d
  Average Run Time: %v
  Keyword Fallback Plans: %d
  Synthesis Fallbacks: %d
  Fail-open Validations: %d

Responders:
`, m.TotalRuns, m.SuccessfulRuns, successRate, m.FailedRuns, m.AverageRunTime,
		m.FallbackPlans, m.SynthesisFallbacks, m.FailOpen)

	for id, calls := range m.ResponderCalls {
		report += fmt.Sprintf("  %s: %d calls, %d failures, %v avg, %d validations, %d retries\n",
			id, calls, m.ResponderFailures[id], m.ResponderAvgTimes[id], m.Validations[id], m.Retries[id])
	}
	report += "\nLLM Usage:\n"
	for purpose, n := range m.LLMRequests {
		report += fmt.Sprintf("  %s: %d requests, %d errors, %v avg latency\n",
			purpose, n, m.LLMErrors[purpose], m.LLMAverageLatency[purpose])
	}
	return report
}
